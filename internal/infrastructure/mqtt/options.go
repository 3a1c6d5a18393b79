package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultKeepAlive         = 60 * time.Second
	defaultDisconnectQuiesce = 1000 // ms

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12
)

// Status reasons carried in offline payloads.
const (
	reasonUnexpected = "unexpected_disconnect"
	reasonShutdown   = "graceful_shutdown"
)

// brokerURL returns tcp://host:port, or ssl://host:port when TLS is on.
func brokerURL(b config.MQTTBrokerConfig) *url.URL {
	u := &url.URL{Scheme: "tcp", Host: net.JoinHostPort(b.Host, strconv.Itoa(b.Port))}
	if b.TLS {
		u.Scheme = "ssl"
	}
	return u
}

// buildClientOptions maps the broker config onto paho options. Sessions are
// clean and the client retries both the first connect and later reconnects
// between Reconnect.InitialDelay and Reconnect.MaxDelay.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker).String()).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// encodeStatus builds the retained payload published on StatusTopic.
// An empty reason is omitted.
func encodeStatus(clientID, status, reason string) []byte {
	data, _ := json.Marshal(statusPayload{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return data
}

// defaultWill is the Last Will used when the caller supplies none.
func defaultWill(clientID string) Will {
	return Will{Topic: StatusTopic(clientID), Payload: encodeStatus(clientID, "offline", reasonUnexpected)}
}
