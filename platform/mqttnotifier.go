package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"lautenbacher.net/gomeasure/config"
	"lautenbacher.net/gomeasure/peripheral"
)

const (
	mqttConnectRetries = 5
	mqttConnectTimeout = 2 * time.Second
	mqttPublishTimeout = 2 * time.Second
	mqttBreakerFails   = 3
	mqttBreakerOpen    = 30 * time.Second
)

var errPublishTimeout = errors.New("publish timed out")

// MQTTNotifier publishes notification codes on a topic with QoS 0. A circuit
// breaker stops publishing while the broker keeps failing, so a dead link
// costs the reporter nothing.
type MQTTNotifier struct {
	cfg     config.MQTTConfig
	client  mqtt.Client
	publish func(topic, payload string) error
	breaker *gobreaker.CircuitBreaker
}

var _ peripheral.Notifier = (*MQTTNotifier)(nil)

func NewMQTTNotifier(cfg config.MQTTConfig) *MQTTNotifier {
	if cfg.ClientID == "" {
		cfg.ClientID = "gomeasure-" + uuid.NewString()
	}
	n := &MQTTNotifier{
		cfg:     cfg,
		breaker: newBreaker("mqtt-" + cfg.Topic),
	}
	n.publish = n.publishClient
	return n
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: mqttBreakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= mqttBreakerFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

func (n *MQTTNotifier) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(n.cfg.Broker)
	opts.SetClientID(n.cfg.ClientID)
	opts.SetUsername(n.cfg.Username)
	opts.SetPassword(n.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(mqttConnectTimeout)
	return opts
}

// Connect dials the broker, retrying with exponential backoff. Each attempt
// is bounded by mqttConnectTimeout.
func (n *MQTTNotifier) Connect(ctx context.Context) error {
	opts := n.clientOptions()
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			slog.Warn("Failed to connect to MQTT broker", "broker", n.cfg.Broker, "error", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, mqttConnectRetries-1), ctx))
	if err != nil {
		return fmt.Errorf("could not connect to MQTT broker %s: %w", n.cfg.Broker, err)
	}

	slog.Info("Connected to MQTT broker", "broker", n.cfg.Broker, "clientID", n.cfg.ClientID)
	n.client = client
	return nil
}

func (n *MQTTNotifier) publishClient(topic, payload string) error {
	if n.client == nil {
		return errors.New("not connected")
	}
	token := n.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return errPublishTimeout
	}
	return token.Error()
}

func (n *MQTTNotifier) SendString(code string) error {
	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.publish(n.cfg.Topic, code)
	})
	if err != nil {
		return fmt.Errorf("failed to notify %q on %s: %w", code, n.cfg.Topic, err)
	}
	return nil
}

func (n *MQTTNotifier) Close() {
	if n.client != nil && n.client.IsConnected() {
		n.client.Disconnect(250)
		slog.Info("MQTT connection closed")
	}
}
