// Package influxdb records device telemetry in InfluxDB.
//
// Client wraps influxdb-client-go v2 with a ping on connect and the
// non-blocking batched write API. TelemetrySink turns every
// device.telemetry_received event into one point:
//
//	device_telemetry,device_uuid=...,topic=power power=12.5,on=true
//
// Numeric and boolean payload values become fields; nested objects are
// flattened with '.' separators. Strings and arrays are not recorded.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry storage switched off
//	}
//	defer client.Close()
//
//	sinks = append(sinks, influxdb.NewTelemetrySink(client))
package influxdb
