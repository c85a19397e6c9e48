// Package nats connects the command core to a NATS server.
//
// It provides:
//   - Client: a nats.go connection with endless reconnects, logged
//     connection events and panic-safe subscription handlers
//   - Publisher: the command.Publisher used when broker.transport is "nats"
//   - EventSink: mirrors lifecycle events to <prefix>.<event name>
//
// Device subjects are '/'-separated inside the core. They are converted to
// '.' notation on the way out and back to '/' on delivery, and MQTT style
// filters are translated with Filter ("+" becomes "*", "#" becomes ">").
package nats
