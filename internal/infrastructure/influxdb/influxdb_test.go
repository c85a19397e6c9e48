package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/command"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu     sync.Mutex
	lines  []string
	health int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(f.health)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		f.mu.Lock()
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func startFake(t *testing.T, health int) (*fakeInflux, config.InfluxDBConfig) {
	t.Helper()
	fake := &fakeInflux{health: health}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "test-token",
		Org:           "graylogic",
		Bucket:        "telemetry",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	client, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned a client while disabled")
	}
}

func TestConnect_Unhealthy(t *testing.T) {
	_, cfg := startFake(t, http.StatusServiceUnavailable)
	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClient_WriteFlushClose(t *testing.T) {
	fake, cfg := startFake(t, http.StatusNoContent)
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client.WritePoint("device_telemetry",
		map[string]string{"device_uuid": "dev-1"},
		map[string]any{"watts": 12.5},
		at)
	client.Flush()

	lines := fake.written()
	if len(lines) != 1 {
		t.Fatalf("written lines = %v, want 1", lines)
	}
	for _, want := range []string{"device_telemetry,device_uuid=dev-1", "watts=12.5", "1772366400000000000"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line %q missing %q", lines[0], want)
		}
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}

	// Writes after close are dropped.
	client.WritePoint("device_telemetry", nil, map[string]any{"watts": 1.0}, at)
	client.Flush()
	if got := len(fake.written()); got != 1 {
		t.Errorf("written lines after Close = %d, want 1", got)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

type capturedPoint struct {
	measurement string
	tags        map[string]string
	fields      map[string]any
	at          time.Time
}

type recordingWriter struct {
	mu     sync.Mutex
	points []capturedPoint
}

func (w *recordingWriter) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, capturedPoint{measurement, tags, fields, at})
}

func TestTelemetrySink_Emit(t *testing.T) {
	w := &recordingWriter{}
	sink := NewTelemetrySink(w)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	sink.Emit(ctx, command.Event{Name: command.EventDeviceStateReceived, Payload: map[string]any{"watts": 3.0}})
	sink.Emit(ctx, command.Event{
		Name:             command.EventDeviceTelemetryReceived,
		OccurredAt:       at,
		DeviceUUID:       "dev-1",
		DeviceExternalID: "plug-1",
		Topic:            "power",
		Payload: map[string]any{
			"watts":   12.5,
			"on":      true,
			"label":   "kitchen",
			"voltage": "230.1",
			"meter":   map[string]any{"kwh": 4.0, "phase": []any{1.0}},
			"_meta":   map[string]any{"command_id": "abc"},
		},
	})
	sink.Emit(ctx, command.Event{
		Name:    command.EventDeviceTelemetryReceived,
		Payload: map[string]any{"_raw": "hello"},
	})

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	p := w.points[0]
	if p.measurement != TelemetryMeasurement {
		t.Errorf("measurement = %q", p.measurement)
	}
	if !p.at.Equal(at) {
		t.Errorf("at = %v, want %v", p.at, at)
	}
	wantTags := map[string]string{"device_uuid": "dev-1", "device_external_id": "plug-1", "topic": "power"}
	for k, v := range wantTags {
		if p.tags[k] != v {
			t.Errorf("tag %s = %q, want %q", k, p.tags[k], v)
		}
	}
	wantFields := map[string]any{"watts": 12.5, "on": true, "meter.kwh": 4.0}
	if len(p.fields) != len(wantFields) {
		t.Errorf("fields = %v, want %v", p.fields, wantFields)
	}
	for k, v := range wantFields {
		if p.fields[k] != v {
			t.Errorf("field %s = %v, want %v", k, p.fields[k], v)
		}
	}
}
