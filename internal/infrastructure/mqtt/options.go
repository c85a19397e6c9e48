package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	keepAlive      = 60 * time.Second
	quiesceMillis  = 1000

	// defaultPublishTimeout applies when the caller's context has no deadline.
	defaultPublishTimeout = 5 * time.Second

	maxQoS = 2
)

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

func seconds(n int) time.Duration {
	return time.Duration(max(n, 1)) * time.Second
}

// buildClientOptions maps the mqtt config section onto paho. Sessions are
// clean; lost subscriptions are restored by the client's OnConnect hook.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectRetryInterval(seconds(cfg.Reconnect.InitialDelay)).
		SetMaxReconnectInterval(seconds(cfg.Reconnect.MaxDelay)).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// statusPayload is the retained body on StatusTopic, also used as the Last Will.
func statusPayload(clientID, status, reason string) []byte {
	b, _ := json.Marshal(struct { //nolint:errcheck // plain strings always marshal
		Status    string `json:"status"`
		ClientID  string `json:"client_id"`
		Reason    string `json:"reason,omitempty"`
		Timestamp string `json:"timestamp"`
	}{status, clientID, reason, time.Now().UTC().Format(time.RFC3339)})
	return b
}
