package modem

import (
	"errors"
	"log/slog"
	"time"

	"i4.energy/across/cellmodem/events"
)

// DefaultChatscriptFile is the dial-up chat script used when none is
// configured.
const DefaultChatscriptFile = "/etc/cellmodem/chatscripts/default-script"

// Config holds the session settings of a modem driver. The zero value is
// valid: every unset field falls back to the defaults of the hardware
// profile the driver is built for.
type Config struct {
	// DeviceName is the serial device, e.g. "/dev/ttyUSB2". When empty the
	// port is detected from the profile's USB identifiers on Connect.
	DeviceName string
	// BaudRate of the serial line.
	BaudRate int
	// ChatscriptFile is handed to the dial-up layer.
	ChatscriptFile string
	// Timeout is the default deadline for Connect and for commands issued
	// without their own timeout.
	Timeout time.Duration
	// Events receives lifecycle notifications. It is not owned by the
	// session; a fresh no-op sink is used when nil.
	Events events.Sink
	// Dialer opens the transport. Defaults to a SerialDialer on DeviceName.
	Dialer Dialer
	// Detector finds DeviceName when it is empty. Defaults to USBDetector.
	Detector PortDetector
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.BaudRate < 0 {
		return errors.New("baud rate must not be negative")
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	return nil
}

func (c *Config) setDefaults(p Profile) {
	if c.BaudRate == 0 {
		c.BaudRate = p.DefaultBaudRate
	}
	if c.ChatscriptFile == "" {
		c.ChatscriptFile = DefaultChatscriptFile
	}
	if c.Timeout == 0 {
		c.Timeout = p.DefaultTimeout
	}
	if c.Events == nil {
		c.Events = events.Nop{}
	}
	if c.Detector == nil {
		c.Detector = NewUSBDetector(c.BaudRate)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// ConfigBuilder assembles a Config step by step.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder for an empty Config.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDeviceName(name string) *ConfigBuilder {
	b.config.DeviceName = name
	return b
}

func (b *ConfigBuilder) WithBaudRate(baud int) *ConfigBuilder {
	b.config.BaudRate = baud
	return b
}

func (b *ConfigBuilder) WithChatscript(path string) *ConfigBuilder {
	b.config.ChatscriptFile = path
	return b
}

func (b *ConfigBuilder) WithTimeout(d time.Duration) *ConfigBuilder {
	b.config.Timeout = d
	return b
}

func (b *ConfigBuilder) WithEvents(sink events.Sink) *ConfigBuilder {
	b.config.Events = sink
	return b
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithDetector(d PortDetector) *ConfigBuilder {
	b.config.Detector = d
	return b
}

func (b *ConfigBuilder) WithLogger(logger *slog.Logger) *ConfigBuilder {
	b.config.Logger = logger
	return b
}

// Build validates and returns the Config. Defaults are applied later, by
// the driver constructor, because they depend on the hardware profile.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.config.validate(); err != nil {
		return Config{}, err
	}
	return b.config, nil
}
