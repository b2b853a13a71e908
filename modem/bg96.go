package modem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"i4.energy/across/cellmodem/events"
)

// BG96 drives a Quectel BG96 module, including its AT sockets.
type BG96 struct {
	*Modem
	sockets *SocketManager

	mu               sync.Mutex
	socketIdentifier int
}

// NewBG96 returns an unconnected BG96 session. Zero fields of config take
// the BG96 defaults: 115200 baud and a one second timeout.
func NewBG96(config Config) (*BG96, error) {
	m, err := newModem(BG96Profile(), config)
	if err != nil {
		return nil, err
	}
	b := &BG96{Modem: m}
	b.sockets = NewSocketManager(m, *m.profile.Sockets, m.logger, b.notifySocket)
	return b, nil
}

func (b *BG96) notifySocket(e events.Event) {
	b.emit(e.Kind, e.Detail)
}

// Sockets returns the manager of the module's socket identifiers.
func (b *BG96) Sockets() *SocketManager {
	return b.sockets
}

// SocketIdentifier returns the identifier of the socket most recently
// opened through OpenSocket. It is 0 before any socket was opened.
func (b *BG96) SocketIdentifier() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.socketIdentifier
}

// ATSocketsAvailable is always true for the BG96.
func (b *BG96) ATSocketsAvailable() bool {
	return b.SocketsAvailable()
}

// OpenSocket opens the lowest free socket identifier and makes it the
// current one.
func (b *BG96) OpenSocket(ctx context.Context, cfg SocketConfig) (int, error) {
	max := b.profile.Sockets.MaxSocketID
	for id := 0; id <= max; id++ {
		if b.sockets.State(id) != SocketClosed {
			continue
		}
		if err := b.sockets.Open(ctx, id, cfg); err != nil {
			if errors.Is(err, ErrInvalidState) {
				// taken by a concurrent open
				continue
			}
			return 0, err
		}
		b.mu.Lock()
		b.socketIdentifier = id
		b.mu.Unlock()
		return id, nil
	}
	return 0, fmt.Errorf("%w: all %d identifiers in use", ErrInvalidSocket, max+1)
}

// CloseSocket closes the current socket.
func (b *BG96) CloseSocket(ctx context.Context) error {
	return b.sockets.Close(ctx, b.SocketIdentifier())
}
