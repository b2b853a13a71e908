package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"i4.energy/across/cellmodem/events"
	"i4.energy/across/cellmodem/modem"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML configuration file")
	flag.String("model", "bg96", "Modem model (bg96, e303)")
	flag.String("serial-port", "", "Serial port of the modem, detected from USB ids when empty")
	flag.Int("baud-rate", 0, "Baud rate for serial communication, model default when 0")
	flag.Duration("timeout", 0, "Default command timeout, model default when 0")
	flag.String("chatscript", "", "Dial-up chat script of the modem")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("http-token", "", "Bearer token required by the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("mqtt-broker", "", "MQTT broker to publish modem events to, e.g. tcp://localhost:1883")
	flag.String("mqtt-topic", "cellmodem/events", "MQTT topic prefix for modem events")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if err := run(config, logger); err != nil {
		logger.Error("Gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(config *Config, logger *slog.Logger) error {
	sinks := events.Multi{events.NewLogSink(logger.With("component", "events"))}
	if config.MQTTBroker != "" {
		client, err := events.ConnectMQTT(config.MQTTBroker, config.MQTTClientID, logger.With("component", "mqtt"))
		if err != nil {
			return fmt.Errorf("connect MQTT broker: %w", err)
		}
		defer client.Disconnect(250)
		logger.Info("Publishing modem events", "broker", config.MQTTBroker, "topic", config.MQTTTopic)
		sinks = append(sinks, events.NewMQTTSink(client, config.MQTTTopic, logger.With("component", "mqtt")))
	}

	modemConfig, err := modem.NewConfigBuilder().
		WithDeviceName(config.SerialPort).
		WithBaudRate(config.BaudRate).
		WithTimeout(config.Timeout).
		WithChatscript(config.ChatscriptFile).
		WithEvents(sinks).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("create modem config: %w", err)
	}

	m, err := newDevice(config.Model, modemConfig)
	if err != nil {
		return fmt.Errorf("create modem: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := m.Connect(ctx); err != nil {
		return err
	}
	logger.Info("Starting cellular modem gateway", "modem", m)

	if err := m.SetNetworkRegistrationStatus(ctx); err != nil {
		logger.Warn("Network registration reports not fully enabled", "error", err)
	}

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger: logger.With("component", "server"),
			Modem:  m,
			Token:  config.HTTPToken,
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Wait for interrupt signal or a failing server
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Info("Closing HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to gracefully shutdown server", "error", err)
		}

		logger.Info("Closing modem connection")
		if err := m.Close(); err != nil {
			logger.Error("Failed to close modem", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// gatewayModem is a connected modem driver with the passthrough the HTTP
// server needs.
type gatewayModem interface {
	Device
	Close() error
}

func newDevice(model string, config modem.Config) (gatewayModem, error) {
	switch model {
	case "bg96":
		return modem.NewBG96(config)
	case "e303":
		return modem.NewE303(config)
	default:
		return nil, fmt.Errorf("unknown modem model %q", model)
	}
}
