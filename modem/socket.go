package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"i4.energy/across/cellmodem/at"
	"i4.energy/across/cellmodem/events"
)

//go:generate go tool mockgen -source=socket.go -destination=mock_socket.go -package=modem

// Executor runs one AT command exchange. Channel and Modem implement it.
type Executor interface {
	Execute(ctx context.Context, cmd at.Command) (at.Result, error)
}

// SocketState is the lifecycle state of one socket identifier.
type SocketState int

const (
	SocketClosed SocketState = iota
	SocketOpening
	SocketOpen
	SocketClosing
)

func (s SocketState) String() string {
	switch s {
	case SocketClosed:
		return "CLOSED"
	case SocketOpening:
		return "OPENING"
	case SocketOpen:
		return "OPEN"
	case SocketClosing:
		return "CLOSING"
	default:
		return "INVALID"
	}
}

// Protocol of a socket.
type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
)

// SocketConfig describes the remote end of a socket.
type SocketConfig struct {
	Protocol Protocol
	Host     string
	Port     int
}

// Socket is a snapshot of one socket identifier.
type Socket struct {
	ID               int
	State            SocketState
	PDPContextActive bool
	Config           SocketConfig
}

// SocketVocabulary holds the vendor commands driving sockets and the PDP
// context they share.
type SocketVocabulary struct {
	// MaxSocketID is the highest socket identifier the module accepts.
	MaxSocketID int
	// ContextID is the PDP context all sockets are opened on.
	ContextID int

	// ContextActivate is set to "1" to activate the context and "0" to
	// deactivate it, and queried to probe its state.
	ContextActivate string
	ContextTimeout  time.Duration

	Open         string
	OpenTimeout  time.Duration
	Close        string
	CloseTimeout time.Duration
	Send         string
	Receive      string
	DataTimeout  time.Duration
}

// SocketManager tracks the socket identifiers of one modem and keeps the
// shared PDP context active exactly while sockets need it.
//
// Socket states only move CLOSED → OPENING → OPEN → CLOSING → CLOSED. A
// failed open returns to CLOSED; a failed close stays in CLOSING.
type SocketManager struct {
	mu      sync.Mutex
	exec    Executor
	vocab   SocketVocabulary
	sockets map[int]*Socket
	logger  *slog.Logger
	notify  func(events.Event)
}

// NewSocketManager returns a manager issuing commands through exec. notify
// may be nil.
func NewSocketManager(exec Executor, vocab SocketVocabulary, logger *slog.Logger, notify func(events.Event)) *SocketManager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if notify == nil {
		notify = func(events.Event) {}
	}
	return &SocketManager{
		exec:    exec,
		vocab:   vocab,
		sockets: make(map[int]*Socket),
		logger:  logger,
		notify:  notify,
	}
}

// State returns the state of socket id. Unknown identifiers are CLOSED.
func (m *SocketManager) State(id int) SocketState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socket(id).State
}

// Snapshot returns a copy of every socket that is not CLOSED, ordered by id.
func (m *SocketManager) Snapshot() []Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Socket
	for id := 0; id <= m.vocab.MaxSocketID; id++ {
		if s, ok := m.sockets[id]; ok && s.State != SocketClosed {
			out = append(out, *s)
		}
	}
	return out
}

// Socket returns a copy of socket id.
func (m *SocketManager) Socket(id int) (Socket, error) {
	if err := m.checkID(id); err != nil {
		return Socket{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.socket(id), nil
}

// socket must be called with mu held.
func (m *SocketManager) socket(id int) *Socket {
	s, ok := m.sockets[id]
	if !ok {
		s = &Socket{ID: id}
		m.sockets[id] = s
	}
	return s
}

func (m *SocketManager) checkID(id int) error {
	if id < 0 || id > m.vocab.MaxSocketID {
		return fmt.Errorf("%w: %d not in 0..%d", ErrInvalidSocket, id, m.vocab.MaxSocketID)
	}
	return nil
}

// transition moves socket id from one state to another, or fails with
// ErrInvalidState leaving it untouched.
func (m *SocketManager) transition(id int, from, to SocketState) (*Socket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.socket(id)
	if s.State != from {
		return nil, fmt.Errorf("%w: socket %d is %s, want %s", ErrInvalidState, id, s.State, from)
	}
	s.State = to
	return s, nil
}

func (m *SocketManager) setState(s *Socket, state SocketState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.State = state
}

// contextUsers counts the sockets other than id holding the PDP context.
func (m *SocketManager) contextUsers(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for other, s := range m.sockets {
		if other != id && s.State != SocketClosed && s.PDPContextActive {
			n++
		}
	}
	return n
}

// Open opens socket id. The PDP context is activated first when the modem
// reports it inactive. A context activated here is deactivated again when
// the open fails and no other socket holds it.
func (m *SocketManager) Open(ctx context.Context, id int, cfg SocketConfig) error {
	if err := m.checkID(id); err != nil {
		return err
	}
	if cfg.Protocol == "" {
		cfg.Protocol = TCP
	}

	s, err := m.transition(id, SocketClosed, SocketOpening)
	if err != nil {
		return err
	}

	activated, err := m.open(ctx, s, cfg)
	if err != nil {
		m.mu.Lock()
		s.State = SocketClosed
		s.PDPContextActive = false
		m.mu.Unlock()
		m.logger.Warn("Socket open failed", "socket", id, "error", err)

		if activated && m.contextUsers(id) == 0 {
			if rollbackErr := m.run(ctx, m.contextCommand(0)); rollbackErr != nil {
				m.logger.Warn("PDP context deactivation failed", "context", m.vocab.ContextID, "error", rollbackErr)
			}
		}
		return err
	}

	m.mu.Lock()
	s.State = SocketOpen
	s.Config = cfg
	m.mu.Unlock()

	m.logger.Info("Socket opened", "socket", id, "protocol", cfg.Protocol, "host", cfg.Host, "port", cfg.Port)
	m.notify(events.New(events.KindSocketOpened, "", fmt.Sprintf("socket %d %s %s:%d", id, cfg.Protocol, cfg.Host, cfg.Port)))
	return nil
}

// open reports whether it activated the PDP context.
func (m *SocketManager) open(ctx context.Context, s *Socket, cfg SocketConfig) (bool, error) {
	active, err := m.IsContextActive(ctx)
	if err != nil {
		return false, fmt.Errorf("probe PDP context: %w", err)
	}
	if !active {
		if err := m.run(ctx, m.contextCommand(1)); err != nil {
			return false, fmt.Errorf("activate PDP context: %w", err)
		}
	}
	m.mu.Lock()
	s.PDPContextActive = true
	m.mu.Unlock()

	arg := fmt.Sprintf("%d,%d,%q,%q,%d,0,1", m.vocab.ContextID, s.ID, cfg.Protocol, cfg.Host, cfg.Port)
	cmd := at.Set(m.vocab.Open, arg).WithTimeout(m.vocab.OpenTimeout)
	if err := m.run(ctx, cmd); err != nil {
		return !active, fmt.Errorf("open socket %d: %w", s.ID, err)
	}
	return !active, nil
}

// Close closes socket id. When no other socket uses the PDP context, the
// context is deactivated before the socket is closed.
//
// A failed close leaves the socket CLOSING and returns an error wrapping
// ErrSocketLeaked. There is no forced close: the identifier stays taken
// until the module is reset.
func (m *SocketManager) Close(ctx context.Context, id int) error {
	if err := m.checkID(id); err != nil {
		return err
	}

	s, err := m.transition(id, SocketOpen, SocketClosing)
	if err != nil {
		return err
	}

	var deactivateErr error
	if m.contextUsers(id) == 0 {
		deactivateErr = m.deactivateContext(ctx)
	}

	cmd := at.Set(m.vocab.Close, id).WithTimeout(m.vocab.CloseTimeout)
	if err := m.run(ctx, cmd); err != nil {
		m.logger.Error("Socket close failed, manual intervention required", "socket", id, "error", err)
		m.notify(events.New(events.KindSocketLeaked, "", fmt.Sprintf("socket %d: %v", id, err)))
		return fmt.Errorf("close socket %d: %w: %w", id, ErrSocketLeaked, errors.Join(err, deactivateErr))
	}

	m.mu.Lock()
	s.State = SocketClosed
	s.PDPContextActive = false
	s.Config = SocketConfig{}
	m.mu.Unlock()

	m.logger.Info("Socket closed", "socket", id)
	m.notify(events.New(events.KindSocketClosed, "", fmt.Sprintf("socket %d", id)))

	if deactivateErr != nil {
		return fmt.Errorf("socket %d closed: %w", id, deactivateErr)
	}
	return nil
}

func (m *SocketManager) deactivateContext(ctx context.Context) error {
	active, err := m.IsContextActive(ctx)
	if err != nil {
		return fmt.Errorf("probe PDP context: %w", err)
	}
	if !active {
		return nil
	}
	if err := m.run(ctx, m.contextCommand(0)); err != nil {
		m.logger.Warn("PDP context deactivation failed", "context", m.vocab.ContextID, "error", err)
		return fmt.Errorf("deactivate PDP context: %w", err)
	}
	return nil
}

func (m *SocketManager) contextCommand(state int) at.Command {
	return at.Set(m.vocab.ContextActivate, state).WithTimeout(m.vocab.ContextTimeout)
}

// IsContextActive probes the modem for the state of the shared PDP
// context. It does not change any socket state.
func (m *SocketManager) IsContextActive(ctx context.Context) (bool, error) {
	cmd := at.Cmd(m.vocab.ContextActivate + "?")
	res, err := m.exec.Execute(ctx, cmd)
	if err != nil {
		return false, err
	}
	if err := res.Err(cmd); err != nil {
		return false, err
	}

	// +QIACT: <contextID>,<state>,<type>[,<address>]
	for _, line := range res.Lines {
		_, rest, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		fields := strings.Split(rest, ",")
		if len(fields) < 2 {
			continue
		}
		if fields[0] == strconv.Itoa(m.vocab.ContextID) {
			return strings.TrimSpace(fields[1]) == "1", nil
		}
	}
	return false, nil
}

// Send writes data to an open socket: the send command is answered with a
// data prompt, then the payload is written raw.
func (m *SocketManager) Send(ctx context.Context, id int, data []byte) error {
	if err := m.requireOpen(id); err != nil {
		return err
	}

	prompt := at.Set(m.vocab.Send, fmt.Sprintf("%d,%d", id, len(data)))
	prompt.AwaitPrompt = true
	if err := m.run(ctx, prompt); err != nil {
		return fmt.Errorf("send on socket %d: %w", id, err)
	}

	payload := at.Command{Name: string(data), Raw: true, Timeout: m.vocab.DataTimeout}
	if err := m.run(ctx, payload); err != nil {
		return fmt.Errorf("send on socket %d: %w", id, err)
	}
	return nil
}

// Receive reads up to max bytes buffered by the modem for socket id. An
// empty result means no data was pending. Fewer bytes than announced by
// the modem is an error wrapping at.ErrUnknownResponse.
func (m *SocketManager) Receive(ctx context.Context, id int, max int) ([]byte, error) {
	if err := m.requireOpen(id); err != nil {
		return nil, err
	}

	cmd := at.Set(m.vocab.Receive, fmt.Sprintf("%d,%d", id, max)).WithTimeout(m.vocab.DataTimeout)
	cmd.LengthPrefixed = true
	res, err := m.exec.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := res.Err(cmd); err != nil {
		return nil, fmt.Errorf("receive on socket %d: %w", id, err)
	}

	// +QIRD: <length> followed by length bytes of data
	for _, line := range res.Lines {
		if !cmd.Answers(line) {
			continue
		}
		n, err := cmd.DataLength(line)
		if err != nil {
			return nil, fmt.Errorf("receive on socket %d: %w", id, err)
		}
		if len(res.Data) < n {
			return nil, fmt.Errorf("receive on socket %d: %w: got %d of %d bytes", id, at.ErrUnknownResponse, len(res.Data), n)
		}
		return res.Data[:n], nil
	}
	return nil, fmt.Errorf("receive on socket %d: %w: %q", id, at.ErrUnknownResponse, res.Lines)
}

func (m *SocketManager) requireOpen(id int) error {
	if err := m.checkID(id); err != nil {
		return err
	}
	if state := m.State(id); state != SocketOpen {
		return fmt.Errorf("%w: socket %d is %s, want %s", ErrInvalidState, id, state, SocketOpen)
	}
	return nil
}

func (m *SocketManager) run(ctx context.Context, cmd at.Command) error {
	res, err := m.exec.Execute(ctx, cmd)
	if err != nil {
		return err
	}
	return res.Err(cmd)
}
