package influxdb

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/command"
	"github.com/nerrad567/gray-logic-iot/internal/payload"
)

// TelemetryMeasurement is the measurement telemetry points are written to.
const TelemetryMeasurement = "device_telemetry"

// PointWriter is the write side of Client.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time)
}

// TelemetrySink writes device.telemetry_received events as points.
type TelemetrySink struct {
	writer PointWriter
}

var _ command.EventSink = (*TelemetrySink)(nil)

// NewTelemetrySink creates a sink writing through w.
func NewTelemetrySink(w PointWriter) *TelemetrySink {
	return &TelemetrySink{writer: w}
}

// Emit records telemetry events and ignores everything else. Events with
// no numeric or boolean values are dropped.
func (s *TelemetrySink) Emit(_ context.Context, event command.Event) {
	if event.Name != command.EventDeviceTelemetryReceived {
		return
	}

	fields := TelemetryFields(event.Payload)
	if len(fields) == 0 {
		return
	}

	tags := map[string]string{
		"device_uuid": event.DeviceUUID,
		"topic":       event.Topic,
	}
	if event.DeviceExternalID != "" {
		tags["device_external_id"] = event.DeviceExternalID
	}
	s.writer.WritePoint(TelemetryMeasurement, tags, fields, event.OccurredAt)
}

// TelemetryFields flattens a payload into point fields. Command metadata
// under _meta is skipped.
func TelemetryFields(p map[string]any) map[string]any {
	fields := make(map[string]any)
	flatten("", p, fields)
	return fields
}

func flatten(prefix string, obj map[string]any, out map[string]any) {
	for key, value := range obj {
		if prefix == "" && key == command.MetaKey {
			continue
		}
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}

		switch v := value.(type) {
		case bool:
			out[name] = v
		case map[string]any:
			flatten(name, v, out)
		case string, []any, nil:
		default:
			if n, ok := payload.Number(v); ok {
				out[name] = n
			}
		}
	}
}
