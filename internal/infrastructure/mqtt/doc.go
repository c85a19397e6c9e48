// Package mqtt connects the command core to an MQTT broker.
//
// It provides:
//   - Client: a paho.mqtt.golang wrapper with auto-reconnect, subscription
//     restoration, handler panic recovery and a retained status on
//     StatusTopic (Last Will on unexpected disconnect)
//   - Publisher: the command.Publisher used by the dispatcher, with one
//     client per broker endpoint requested through command.Broker
//
// Device subjects are already '/'-separated, so they are used as MQTT
// topics unchanged.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	publisher := mqtt.NewPublisher(client)
//	defer publisher.Close()
//
//	err = client.Subscribe(mqtt.DeviceFilter(cfg.Broker.BaseTopic), 1, handler)
package mqtt
