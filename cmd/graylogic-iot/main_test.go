package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"

	"github.com/nerrad567/gray-logic-iot/internal/auth"
	"github.com/nerrad567/gray-logic-iot/internal/command"
	"github.com/nerrad567/gray-logic-iot/internal/device"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/database"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig writes a config using a database in a temp dir and the
// sqlite state store. extra is appended verbatim.
func writeConfig(t *testing.T, extra string) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "iot.db")
	content := fmt.Sprintf(`
database:
  path: %q
  busy_timeout: 1
state_store:
  backend: sqlite
logging:
  level: error
  format: text
  output: stdout
%s`, dbPath, extra)

	configPath = filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return configPath, dbPath
}

// seedPlug provisions a smart plug with a "set" command topic and a
// "state" topic, and returns it.
func seedPlug(t *testing.T, dbPath string) *device.Device {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(database.Config{Path: dbPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	repo := device.NewSQLiteRepository(db.DB)
	dt := &device.DeviceType{Key: "smart_plug", Name: "Smart Plug", BaseTopic: "plugs"}
	if err := repo.CreateDeviceType(ctx, dt); err != nil {
		t.Fatalf("CreateDeviceType() error = %v", err)
	}
	sv := &device.SchemaVersion{DeviceTypeID: dt.ID, Version: "1.0.0"}
	if err := repo.CreateSchemaVersion(ctx, sv); err != nil {
		t.Fatalf("CreateSchemaVersion() error = %v", err)
	}
	for _, topic := range []*device.Topic{
		{
			SchemaVersionID: sv.ID, Key: "set", Suffix: "set",
			Direction: device.DirectionSubscribe, Purpose: device.PurposeCommand, Sequence: 1,
			Parameters: []device.Parameter{{Key: "on", Type: device.TypeBoolean, Active: true, Sequence: 1}},
		},
		{
			SchemaVersionID: sv.ID, Key: "state", Suffix: "state",
			Direction: device.DirectionPublish, Purpose: device.PurposeState, Sequence: 2,
		},
	} {
		if err := repo.CreateTopic(ctx, topic); err != nil {
			t.Fatalf("CreateTopic(%s) error = %v", topic.Key, err)
		}
	}

	plug := &device.Device{Name: "Desk Plug", ExternalID: "plug-1", DeviceTypeID: dt.ID, SchemaVersionID: &sv.ID}
	if err := repo.CreateDevice(ctx, plug); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	return plug
}

func TestLoadConfig(t *testing.T) {
	opts := &rootOptions{configPath: "/nonexistent/path/config.yaml"}
	if _, err := opts.loadConfig(); err == nil {
		t.Error("loadConfig() should fail for a missing explicit path")
	}

	path, dbPath := writeConfig(t, "")
	cfg, err := (&rootOptions{configPath: path}).loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Database.Path != dbPath || cfg.StateStore.Backend != config.StateBackendSQLite {
		t.Errorf("loadConfig() = %+v", cfg)
	}

	t.Setenv("GRAYLOGIC_CONFIG", path)
	cfg, err = (&rootOptions{}).loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() via env error = %v", err)
	}
	if cfg.Database.Path != dbPath {
		t.Errorf("loadConfig() via env path = %q, want %q", cfg.Database.Path, dbPath)
	}
}

func TestEvalCmd(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"arithmetic", []string{"eval", `{"+": [1, 2]}`}, "3"},
		{"var lookup", []string{"eval", `{"var": "a.b"}`, `{"a": {"b": "x"}}`}, `"x"`},
		{"comparison", []string{"eval", `{">": [{"var": "payload.temperature"}, 25]}`, `{"payload": {"temperature": 30}}`}, "true"},
		{"missing var", []string{"eval", `{"var": "nope"}`}, "null"},
		{"truthy zero", []string{"eval", "--truthy", `{"var": "on"}`, `{"on": 0}`}, "false"},
		{"truthy string", []string{"eval", "--truthy", `{"var": "on"}`, `{"on": "yes"}`}, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if err != nil {
				t.Fatalf("eval error = %v", err)
			}
			if got := strings.TrimSpace(out); got != tt.want {
				t.Errorf("eval output = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := execute(t, "eval", "{not json"); err == nil {
		t.Error("eval should reject an invalid expression")
	}
	if _, err := execute(t, "eval", `{"var": "a"}`, "[oops"); err == nil {
		t.Error("eval should reject invalid data")
	}
}

func TestTokenCmd(t *testing.T) {
	path, _ := writeConfig(t, "api:\n  jwt_secret: "+testSecret+"\n")

	out, err := execute(t, "token", "--config", path, "--subject", "ops", "--role", "admin")
	if err != nil {
		t.Fatalf("token error = %v", err)
	}
	claims, err := auth.ParseToken(strings.TrimSpace(out), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ops" || claims.Role != auth.RoleAdmin {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := execute(t, "token", "--config", path, "--role", "root"); err == nil {
		t.Error("token should reject an unknown role")
	}

	noSecret, _ := writeConfig(t, "")
	if _, err := execute(t, "token", "--config", noSecret); err == nil {
		t.Error("token should fail without a secret")
	}
}

func TestMigrateCmd(t *testing.T) {
	path, _ := writeConfig(t, "")

	out, err := execute(t, "migrate", "status", "--config", path)
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if strings.Contains(out, "applied") || !strings.Contains(out, "pending") {
		t.Errorf("fresh status = %q, want only pending migrations", out)
	}
	pending := strings.Count(out, "pending")

	out, err = execute(t, "migrate", "up", "--config", path)
	if err != nil {
		t.Fatalf("migrate up error = %v", err)
	}
	if want := fmt.Sprintf("Applied %d migration(s).", pending); !strings.Contains(out, want) {
		t.Errorf("migrate up = %q, want %q", out, want)
	}

	out, err = execute(t, "migrate", "status", "--config", path)
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if strings.Contains(out, "pending") || strings.Count(out, "applied") != pending {
		t.Errorf("status after up = %q", out)
	}

	out, err = execute(t, "migrate", "down", "--config", path)
	if err != nil {
		t.Fatalf("migrate down error = %v", err)
	}
	if !strings.Contains(out, "Rolled back") {
		t.Errorf("migrate down = %q", out)
	}

	out, err = execute(t, "migrate", "status", "--config", path)
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if strings.Count(out, "pending") != 1 {
		t.Errorf("status after down = %q, want one pending", out)
	}
}

func TestExpireCmd(t *testing.T) {
	path, dbPath := writeConfig(t, "commands:\n  timeout_seconds: 60\n")
	plug := seedPlug(t, dbPath)

	// One command from two hours ago, one from now.
	db, err := database.Open(database.Config{Path: dbPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ctx := context.Background()
	devices := device.NewSQLiteRepository(db.DB)
	topic, err := devices.GetTopicByKey(ctx, *plug.SchemaVersionID, "set")
	if err != nil {
		t.Fatalf("GetTopicByKey() error = %v", err)
	}
	commands := command.NewSQLiteRepository(db.DB)
	for i, created := range []time.Time{time.Now().UTC().Add(-2 * time.Hour), time.Now().UTC()} {
		cmd := &command.Command{
			CorrelationID: fmt.Sprintf("corr-%d", i),
			DeviceID:      plug.ID,
			TopicID:       topic.ID,
			Payload:       map[string]any{"on": true},
			CreatedAt:     created,
		}
		if err := commands.CreateWithDesiredState(ctx, cmd); err != nil {
			t.Fatalf("CreateWithDesiredState() error = %v", err)
		}
	}
	db.Close() //nolint:errcheck // reopened by the command

	out, err := execute(t, "expire", "--config", path)
	if err != nil {
		t.Fatalf("expire error = %v", err)
	}
	if !strings.HasPrefix(out, "Timed out 1 command(s) older than ") {
		t.Errorf("expire output = %q", out)
	}

	out, err = execute(t, "expire", "--config", path)
	if err != nil {
		t.Fatalf("expire error = %v", err)
	}
	if !strings.HasPrefix(out, "Timed out 0 command(s)") {
		t.Errorf("second expire output = %q", out)
	}

	out, err = execute(t, "expire", "--config", path, "--older-than", "1ns")
	if err != nil {
		t.Fatalf("expire error = %v", err)
	}
	if !strings.HasPrefix(out, "Timed out 1 command(s)") {
		t.Errorf("expire --older-than output = %q", out)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close() //nolint:errcheck // port handed to the server
	return port
}

// TestRun_DispatchOverNATS starts the daemon against an embedded NATS
// server, dispatches a command through the API and watches it arrive on
// the device subject.
func TestRun_DispatchOverNATS(t *testing.T) {
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}

	port := freePort(t)
	path, dbPath := writeConfig(t, fmt.Sprintf(`
broker:
  transport: nats
  subscriptions: ["plugs/+/#"]
nats:
  url: %q
  events_subject_prefix: iot.events
api:
  host: 127.0.0.1
  port: %d
`, srv.ClientURL(), port))
	plug := seedPlug(t, dbPath)

	cfg, err := (&rootOptions{configPath: path}).loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	watcher, err := natsgo.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer watcher.Close()
	commandSub, err := watcher.SubscribeSync("plugs.plug-1.set")
	if err != nil {
		t.Fatalf("SubscribeSync() error = %v", err)
	}
	eventSub, err := watcher.SubscribeSync("iot.events.command.sent")
	if err != nil {
		t.Fatalf("SubscribeSync() error = %v", err)
	}
	if err := watcher.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- run(ctx, cfg) }()

	base := fmt.Sprintf("http://127.0.0.1:%d/api/v1", port)
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/health")
		if err == nil {
			resp.Body.Close() //nolint:errcheck // Test
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		select {
		case err := <-errc:
			t.Fatalf("run() exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("API did not become healthy")
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := http.Post(base+"/devices/"+plug.UUID+"/topics/set/commands", "application/json",
		strings.NewReader(`{"controls": {"on": true}}`))
	if err != nil {
		t.Fatalf("POST dispatch error = %v", err)
	}
	var cmd command.Command
	decodeErr := json.NewDecoder(resp.Body).Decode(&cmd)
	resp.Body.Close() //nolint:errcheck // Test
	if resp.StatusCode != http.StatusAccepted || decodeErr != nil {
		t.Fatalf("dispatch status = %d, decode error = %v", resp.StatusCode, decodeErr)
	}
	if cmd.Status != command.StatusSent {
		t.Errorf("command status = %q, want %q", cmd.Status, command.StatusSent)
	}

	msg, err := commandSub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("command not published: %v", err)
	}
	var published map[string]any
	if err := json.Unmarshal(msg.Data, &published); err != nil {
		t.Fatalf("published payload %q: %v", msg.Data, err)
	}
	if published["on"] != true {
		t.Errorf("published payload = %v, want on=true", published)
	}

	if _, err := eventSub.NextMsg(5 * time.Second); err != nil {
		t.Errorf("command.sent event not mirrored: %v", err)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}
