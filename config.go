package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Model selects the modem driver ("bg96" or "e303")
	Model string `yaml:"model"`
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// HTTPToken, when set, is required as a bearer token on every request
	HTTPToken string `yaml:"http_token"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB2").
	// Empty means detect the port from the model's USB identifiers.
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem.
	// Zero selects the model default.
	BaudRate int `yaml:"baud_rate"`
	// Timeout is the default command timeout. Zero selects the model default.
	Timeout time.Duration `yaml:"timeout"`
	// ChatscriptFile is the dial-up chat script of the modem
	ChatscriptFile string `yaml:"chatscript_file"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
	// MQTTBroker enables publishing modem events, e.g. "tcp://localhost:1883"
	MQTTBroker string `yaml:"mqtt_broker"`
	// MQTTClientID identifies the gateway at the broker
	MQTTClientID string `yaml:"mqtt_client_id"`
	// MQTTTopic is the topic prefix events are published below
	MQTTTopic string `yaml:"mqtt_topic"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Model {
	case "bg96", "e303":
	default:
		return fmt.Errorf("unknown modem model %q", c.Model)
	}
	if c.BaudRate < 0 {
		return errors.New("baud rate must not be negative")
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	return nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.Model = "bg96"
		c.BindAddress = "0.0.0.0:8080"
		c.LogLevel = "info"
		c.MQTTClientID = "cellmodem"
		c.MQTTTopic = "cellmodem/events"
		return nil
	}
}

// WithFile loads configuration from a YAML file. Keys missing from the
// file keep their current value. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		c.Model = strings.ToLower(c.Model)
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if model := os.Getenv("MODEL"); model != "" {
			c.Model = strings.ToLower(model)
		}

		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if token := os.Getenv("HTTP_TOKEN"); token != "" {
			c.HTTPToken = token
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if timeout := os.Getenv("TIMEOUT"); timeout != "" {
			if d, err := time.ParseDuration(timeout); err == nil {
				c.Timeout = d
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if broker := os.Getenv("MQTT_BROKER"); broker != "" {
			c.MQTTBroker = broker
		}

		if id := os.Getenv("MQTT_CLIENT_ID"); id != "" {
			c.MQTTClientID = id
		}

		if topic := os.Getenv("MQTT_TOPIC"); topic != "" {
			c.MQTTTopic = topic
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "model":
				c.Model = strings.ToLower(f.Value.String())
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "http-token":
				c.HTTPToken = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "timeout":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.Timeout = d
				}
			case "chatscript":
				c.ChatscriptFile = f.Value.String()
			case "log-level":
				c.LogLevel = f.Value.String()
			case "mqtt-broker":
				c.MQTTBroker = f.Value.String()
			case "mqtt-topic":
				c.MQTTTopic = f.Value.String()
			}
		})
		return nil
	}
}
