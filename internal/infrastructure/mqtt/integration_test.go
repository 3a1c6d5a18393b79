//go:build integration

package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// Integration tests against a running broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_Connect(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "graylogic-int-connect"

	client, err := Connect(cfg, Will{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999
	cfg.Reconnect.InitialDelay = 0

	_, err := Connect(cfg, Will{})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_MessageRoundtrip(t *testing.T) {
	cfg := testConfig()

	cfg.Broker.ClientID = "graylogic-int-pub"
	pubClient, err := Connect(cfg, Will{})
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pubClient.Close()

	cfg.Broker.ClientID = "graylogic-int-sub"
	subClient, err := Connect(cfg, Will{})
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer subClient.Close()

	received := make(chan string, 1)
	var once sync.Once
	err = subClient.Subscribe("graylogic/int/lightify/#", 1, func(topic string, p []byte) error {
		once.Do(func() { received <- topic + " " + string(p) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if subClient.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", subClient.SubscriptionCount())
	}

	time.Sleep(100 * time.Millisecond)

	if err := pubClient.Publish("graylogic/int/lightify/Desk", []byte(`{"command":"on"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != `graylogic/int/lightify/Desk {"command":"on"}` {
			t.Errorf("received %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for message")
	}
}
