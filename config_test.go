package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		config, err := LoadConfig(WithDefaults())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.Model != "bg96" || config.BindAddress != "0.0.0.0:8080" || config.LogLevel != "info" {
			t.Errorf("unexpected defaults %+v", config)
		}
		if config.SerialPort != "" || config.BaudRate != 0 {
			t.Errorf("serial settings should default to the model, got %+v", config)
		}
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cellmodem.yaml")
		data := "model: E303\nserial_port: /dev/ttyUSB0\nbaud_rate: 9600\ntimeout: 5s\nmqtt_broker: tcp://broker:1883\n"
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatalf("unexpected error writing config: %v", err)
		}

		config, err := LoadConfig(WithDefaults(), WithFile(path))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.Model != "e303" || config.SerialPort != "/dev/ttyUSB0" || config.BaudRate != 9600 {
			t.Errorf("unexpected config %+v", config)
		}
		if config.Timeout != 5*time.Second {
			t.Errorf("expected timeout 5s, got %v", config.Timeout)
		}
		if config.MQTTBroker != "tcp://broker:1883" || config.MQTTTopic != "cellmodem/events" {
			t.Errorf("unexpected MQTT settings %+v", config)
		}
	})

	t.Run("Missing file", func(t *testing.T) {
		if _, err := LoadConfig(WithDefaults(), WithFile(filepath.Join(t.TempDir(), "missing.yaml"))); err == nil {
			t.Error("expected error for a missing file")
		}
	})

	t.Run("Environment overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cellmodem.yaml")
		if err := os.WriteFile(path, []byte("serial_port: /dev/ttyUSB0\n"), 0o600); err != nil {
			t.Fatalf("unexpected error writing config: %v", err)
		}
		t.Setenv("SERIAL_PORT", "/dev/ttyUSB3")
		t.Setenv("BAUD_RATE", "57600")
		t.Setenv("TIMEOUT", "2s")

		config, err := LoadConfig(WithDefaults(), WithFile(path), WithEnv())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.SerialPort != "/dev/ttyUSB3" || config.BaudRate != 57600 || config.Timeout != 2*time.Second {
			t.Errorf("unexpected config %+v", config)
		}
	})

	t.Run("Flags override environment", func(t *testing.T) {
		t.Setenv("MODEL", "bg96")

		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.String("model", "bg96", "")
		fs.String("serial-port", "", "")
		fs.Duration("timeout", 0, "")
		fs.String("mqtt-topic", "", "")
		if err := fs.Parse([]string{"--model", "E303", "--timeout", "3s", "--mqtt-topic", "site/1"}); err != nil {
			t.Fatalf("unexpected error parsing flags: %v", err)
		}

		config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(fs))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.Model != "e303" || config.Timeout != 3*time.Second || config.MQTTTopic != "site/1" {
			t.Errorf("unexpected config %+v", config)
		}
		if config.SerialPort != "" {
			t.Errorf("unset flags must not override, got serial port %q", config.SerialPort)
		}
	})

	t.Run("Unknown model", func(t *testing.T) {
		t.Setenv("MODEL", "sim800")
		if _, err := LoadConfig(WithDefaults(), WithEnv()); err == nil {
			t.Error("expected error for an unknown model")
		}
	})
}
