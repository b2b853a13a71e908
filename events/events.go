// Package events carries modem lifecycle notifications to interested
// parties. Sinks must not block: the modem delivers events from a single
// goroutine and drops them when the sink falls behind.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Kind names a lifecycle notification.
type Kind string

const (
	KindConnectAttempt      Kind = "connect.attempt"
	KindConnected           Kind = "connect.ok"
	KindConnectFailed       Kind = "connect.failed"
	KindDisconnected        Kind = "disconnect"
	KindRegistrationChanged Kind = "registration.changed"
	KindSocketOpened        Kind = "socket.opened"
	KindSocketClosed        Kind = "socket.closed"
	KindSocketLeaked        Kind = "socket.leaked"
	KindURC                 Kind = "urc"
)

// Event is a single notification emitted by a modem session.
type Event struct {
	Kind   Kind      `json:"kind"`
	Device string    `json:"device,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// New returns an event stamped with the current time.
func New(kind Kind, device, detail string) Event {
	return Event{Kind: kind, Device: device, Detail: detail, Time: time.Now()}
}

// Sink accepts lifecycle notifications.
type Sink interface {
	Notify(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(Event) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Notify(e Event) { f(e) }

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Notify(e Event) {
	for _, s := range m {
		if s != nil {
			s.Notify(e)
		}
	}
}

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

// NewLogSink returns a sink logging at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{Logger: logger, Level: slog.LevelInfo}
}

func (s *LogSink) Notify(e Event) {
	s.Logger.Log(context.Background(), s.Level, "Modem event",
		"kind", e.Kind,
		"device", e.Device,
		"detail", e.Detail,
		"time", e.Time,
	)
}
