// Package server implements the coordination server subcommand: the REST API,
// the presence registry with its broadcast loop, and panic dispatch.
package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/guardtrack/guardtrack-go/internal/api"
	"github.com/guardtrack/guardtrack-go/internal/conf"
	"github.com/guardtrack/guardtrack-go/internal/datastore"
	"github.com/guardtrack/guardtrack-go/internal/dispatch"
	"github.com/guardtrack/guardtrack-go/internal/logging"
	"github.com/guardtrack/guardtrack-go/internal/mqtt"
	"github.com/guardtrack/guardtrack-go/internal/observability"
	"github.com/guardtrack/guardtrack-go/internal/patrol"
	"github.com/guardtrack/guardtrack-go/internal/presence"
)

const shutdownTimeout = 10 * time.Second

// Command creates the server subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the patrol coordination server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}
}

// noopMessenger stands in for MQTT when the broker is disabled; alert
// fan-out degrades to log lines while persistence and the REST surface stay
// fully functional.
type noopMessenger struct{}

func (noopMessenger) Publish(ctx context.Context, topic, payload string) error {
	logging.Debug("mqtt disabled, dropping message", "topic", topic)
	return nil
}

func (noopMessenger) PublishQoS1(ctx context.Context, topic, payload string) error {
	logging.Debug("mqtt disabled, dropping message", "topic", topic)
	return nil
}

func run(settings *conf.Settings) error {
	logger := logging.ForService("server")

	if err := conf.ValidateSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ds := datastore.New(settings)
	if ds == nil {
		return fmt.Errorf("no database backend enabled")
	}
	if err := ds.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := ds.Close(); err != nil {
			logger.Error("closing datastore", "error", err)
		}
	}()

	registry := presence.NewRegistry(settings.Patrol.StalenessWindow)
	metrics := observability.NewMetrics(registry.Len)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var publisher interface {
		Publish(ctx context.Context, topic, payload string) error
		PublishQoS1(ctx context.Context, topic, payload string) error
	} = noopMessenger{}

	var mqttClient mqtt.Client
	if settings.MQTT.Enabled {
		mqttClient = mqtt.NewClient(mqtt.ConfigFromSettings(settings))
		if err := mqttClient.Connect(ctx); err != nil {
			// The broker may come up later; auto-reconnect keeps trying.
			logger.Warn("initial MQTT connect failed, continuing", "error", err)
		}
		defer mqttClient.Disconnect()
		publisher = mqttClient
	}

	broadcaster := presence.NewBroadcaster(registry, publisher,
		settings.Patrol.BroadcastInterval, settings.MQTT.TopicPrefix)
	broadcaster.Start(ctx)
	defer broadcaster.Stop()

	manager := patrol.NewManager(ds, settings.Patrol.GeofenceToleranceMeters)
	dispatcher := dispatch.NewDispatcher(ds, registry, publisher,
		settings.MQTT.TopicPrefix, settings.Patrol.NearestResponders, metrics)

	e := echo.New()
	e.HideBanner = true
	controller := api.New(e, ds, settings, manager, registry, dispatcher, metrics)
	defer controller.Shutdown()
	if mqttClient != nil {
		controller.MQTTConnected = mqttClient.IsConnected
	}

	addr := net.JoinHostPort(settings.Server.Host, settings.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
