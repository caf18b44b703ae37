// mqtt.go: Package mqtt provides an abstraction for MQTT client functionality.
// It carries the realtime messaging channel of the service: per-site presence
// frames, the command-center alert broadcast and per-guard targeted dispatch.
package mqtt

import (
	"context"
	"log/slog"
	"time"

	"github.com/guardtrack/guardtrack-go/internal/conf"
	"github.com/guardtrack/guardtrack-go/internal/logging"
)

// MessageHandler processes one inbound message.
type MessageHandler func(topic string, payload []byte)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends a message to the specified topic on the MQTT broker.
	Publish(ctx context.Context, topic, payload string) error

	// PublishQoS1 sends a message with at-least-once delivery, used for
	// alert topics where loss is unacceptable.
	PublishQoS1(ctx context.Context, topic, payload string) error

	// Subscribe registers a handler for a topic filter.
	Subscribe(topic string, handler MessageHandler) error

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	TopicPrefix       string
	ReconnectCooldown time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values.
func DefaultConfig() Config {
	return Config{
		ReconnectCooldown: 5 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings builds a client Config from application settings.
func ConfigFromSettings(settings *conf.Settings) Config {
	cfg := DefaultConfig()
	cfg.Broker = settings.MQTT.Broker
	cfg.ClientID = settings.Main.Name
	cfg.Username = settings.MQTT.Username
	cfg.Password = settings.MQTT.Password
	cfg.TopicPrefix = settings.MQTT.TopicPrefix
	return cfg
}

// Package-level logger for MQTT related events.
var mqttLogger *slog.Logger

func init() {
	mqttLogger = logging.ForService("mqtt")
}
