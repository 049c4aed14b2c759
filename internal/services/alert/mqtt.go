package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"servalliance/internal/logger"
	"servalliance/internal/models"
)

type MQTTConfig struct {
	Host     string
	Port     int
	Topic    string
	User     string
	Pass     string
	ClientID string
}

// Enabled reports whether enough is configured to publish.
func (c MQTTConfig) Enabled() bool {
	return c.Host != "" && c.Port != 0 && c.Topic != ""
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes every alert as JSON to a single topic.
type MQTTSink struct {
	client mqtt.Client
	pub    publisher
	topic  string
	logger *logger.Logger
}

// NewMQTTSink connects to the broker. The client reconnects on its own after
// the first successful connect.
func NewMQTTSink(cfg MQTTConfig, logger *logger.Logger) (*MQTTSink, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "servalliance"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	if cfg.User != "" && cfg.Pass != "" {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Pass)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warning("MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s:%d", cfg.Host, cfg.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	logger.Info("📡 Publishing alerts to MQTT %s:%d topic %s", cfg.Host, cfg.Port, cfg.Topic)
	return &MQTTSink{client: client, pub: client, topic: cfg.Topic, logger: logger}, nil
}

func (s *MQTTSink) Deliver(ctx context.Context, event models.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	token := s.pub.Publish(s.topic, 0, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish to MQTT: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("MQTT publish: %w", ctx.Err())
	}
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}
