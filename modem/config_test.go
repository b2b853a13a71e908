package modem_test

import (
	"testing"
	"time"

	"i4.energy/across/cellmodem/events"
	"i4.energy/across/cellmodem/modem"
)

func TestConfig(t *testing.T) {
	t.Run("Empty builder is valid", func(t *testing.T) {
		config, err := modem.NewConfigBuilder().Build()
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if config.DeviceName != "" || config.Dialer != nil {
			t.Errorf("expected an empty config, got %+v", config)
		}
	})

	t.Run("Keeps every option", func(t *testing.T) {
		sink := events.Nop{}
		config, err := modem.NewConfigBuilder().
			WithDeviceName("/dev/ttyUSB2").
			WithBaudRate(9600).
			WithChatscript("/etc/chatscripts/gprs").
			WithTimeout(3 * time.Second).
			WithEvents(sink).
			Build()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.DeviceName != "/dev/ttyUSB2" || config.BaudRate != 9600 ||
			config.ChatscriptFile != "/etc/chatscripts/gprs" || config.Timeout != 3*time.Second {
			t.Errorf("unexpected config %+v", config)
		}
		if config.Events != sink {
			t.Error("expected the configured sink")
		}
	})

	t.Run("Rejects negative values", func(t *testing.T) {
		if _, err := modem.NewConfigBuilder().WithBaudRate(-9600).Build(); err == nil {
			t.Error("expected error for negative baud rate")
		}
		if _, err := modem.NewConfigBuilder().WithTimeout(-time.Second).Build(); err == nil {
			t.Error("expected error for negative timeout")
		}
	})
}
