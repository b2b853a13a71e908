package modem

import (
	"log/slog"
	"sync"

	"i4.energy/across/cellmodem/events"
)

const eventQueueSize = 32

// notifier delivers events to a sink from its own goroutine so the caller
// never waits for the sink. Events are dropped while it is stopped or when
// the queue is full.
type notifier struct {
	mu     sync.Mutex
	sink   events.Sink
	queue  chan events.Event
	logger *slog.Logger
}

func newNotifier(sink events.Sink, logger *slog.Logger) *notifier {
	return &notifier{sink: sink, logger: logger}
}

func (n *notifier) start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.queue != nil {
		return
	}
	q := make(chan events.Event, eventQueueSize)
	n.queue = q
	go func() {
		for e := range q {
			n.sink.Notify(e)
		}
	}()
}

// stop lets the delivery goroutine finish the queued events and exit.
func (n *notifier) stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.queue == nil {
		return
	}
	close(n.queue)
	n.queue = nil
}

func (n *notifier) notify(e events.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.queue == nil {
		return
	}
	select {
	case n.queue <- e:
	default:
		n.logger.Warn("Event queue full, dropping event", "kind", e.Kind)
	}
}
