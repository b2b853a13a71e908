package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"i4.energy/across/cellmodem/at"
	"i4.energy/across/cellmodem/events"
)

// Driver is the capability set shared by every supported modem family.
type Driver interface {
	Connect(ctx context.Context) error
	Disconnect() error
	SetNetworkRegistrationStatus(ctx context.Context) error
	ICCID(ctx context.Context) (string, error)
}

var (
	_ Driver = (*E303)(nil)
	_ Driver = (*BG96)(nil)
)

// Modem is one session with a cellular modem. It owns the transport while
// connected and serializes every command over a single Channel.
//
// Modem is not used directly; the hardware variants (E303, BG96) embed it
// with their Profile.
type Modem struct {
	profile Profile
	config  Config
	logger  *slog.Logger
	events  *notifier
	// device is the configured or detected serial device
	device atomic.Value

	// mu guards the fields below. It is not held while commands run; the
	// channel has its own lock for that.
	mu        sync.Mutex
	channel   *Channel
	closed    bool
	watchStop chan struct{}
}

func newModem(profile Profile, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.setDefaults(profile)

	logger := config.Logger.With("component", "modem", "model", profile.Name)
	m := &Modem{
		profile: profile,
		config:  config,
		logger:  logger,
		events:  newNotifier(config.Events, logger),
	}
	m.device.Store(config.DeviceName)
	return m, nil
}

// Connect acquires the transport and checks that the modem answers. A
// device name left empty in the Config is detected from the profile's USB
// identifiers.
//
// When ctx has no deadline, the session timeout bounds the whole connect.
// On failure the transport is released and the returned error wraps
// ErrConnect.
func (m *Modem) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channel != nil {
		return ErrAlreadyConnected
	}

	if _, ok := ctx.Deadline(); !ok && m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	m.events.start()
	m.emit(events.KindConnectAttempt, "")
	m.logger.Info("Connecting modem", "device", m.config.DeviceName, "baud_rate", m.config.BaudRate)

	ch, device, err := m.connect(ctx)
	if err != nil {
		m.logger.Error("Failed to connect modem", "error", err)
		m.emit(events.KindConnectFailed, err.Error())
		m.events.stop()
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	m.channel = ch
	m.device.Store(device)
	m.closed = false
	m.watchStop = make(chan struct{})
	go m.watch(ch, m.watchStop)

	m.logger.Info("Modem connected", "device", device)
	m.emit(events.KindConnected, device)
	return nil
}

// connect dials and probes. Every failure after a successful dial closes
// the transport again.
func (m *Modem) connect(ctx context.Context) (*Channel, string, error) {
	device := m.config.DeviceName
	dialer := m.config.Dialer
	if dialer == nil {
		if device == "" {
			detected, err := m.config.Detector.Detect(m.profile.USBIDs, true)
			if err != nil {
				return nil, "", err
			}
			m.logger.Debug("Detected modem port", "device", detected)
			device = detected
		}
		dialer = SerialDialer{
			PortName: device,
			Mode: &serial.Mode{
				BaudRate: m.config.BaudRate,
				Parity:   serial.NoParity,
				DataBits: 8,
				StopBits: serial.OneStopBit,
			},
		}
	}

	transport, err := dialer.Dial(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	if transport == nil {
		return nil, "", fmt.Errorf("%w: dialer returned no transport", ErrTransportUnavailable)
	}

	ch := NewChannel(transport, m.profile.Grammar, m.config.Timeout, m.logger)
	if err := m.init(ctx, ch); err != nil {
		if closeErr := ch.Close(); closeErr != nil {
			m.logger.Warn("Failed to release transport", "error", closeErr)
		}
		return nil, "", err
	}
	return ch, device, nil
}

// init performs the initial setup sequence for the modem hardware.
func (m *Modem) init(ctx context.Context, ch *Channel) error {
	probe := at.Cmd(at.CmdAt)
	if err := run(ctx, ch, probe); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}
	for _, cmd := range m.profile.Init {
		if err := run(ctx, ch, cmd); err != nil {
			return fmt.Errorf("initialize modem: %w", err)
		}
	}
	return nil
}

// watch turns URCs into events until the session ends.
func (m *Modem) watch(ch *Channel, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ch.Done():
			select {
			case <-stop:
			default:
				m.logger.Error("Modem transport stopped unexpectedly")
			}
			return
		case urc := <-ch.URC():
			kind := events.KindURC
			for _, p := range registrationURCs {
				if strings.HasPrefix(urc, p) {
					kind = events.KindRegistrationChanged
					break
				}
			}
			m.logger.Debug("URC received", "urc", urc)
			m.emit(kind, urc)
		}
	}
}

// Disconnect releases the transport. It returns ErrNotConnected when the
// session was never connected and ErrAlreadyClosed when called twice.
func (m *Modem) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channel == nil {
		if m.closed {
			return ErrAlreadyClosed
		}
		return ErrNotConnected
	}

	close(m.watchStop)
	err := m.channel.Close()
	m.channel = nil
	m.closed = true

	m.logger.Info("Modem disconnected", "device", m.DeviceName())
	m.emit(events.KindDisconnected, "")
	m.events.stop()
	return err
}

// Close is Disconnect, for use as an io.Closer.
func (m *Modem) Close() error {
	return m.Disconnect()
}

// Execute issues one command on the session's channel.
func (m *Modem) Execute(ctx context.Context, cmd at.Command) (at.Result, error) {
	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()

	if ch == nil {
		return at.Result{}, ErrNotConnected
	}
	return ch.Execute(ctx, cmd)
}

// SetNetworkRegistrationStatus enables unsolicited registration reports.
// Every registration command is attempted even when an earlier one fails;
// the failures are returned together.
func (m *Modem) SetNetworkRegistrationStatus(ctx context.Context) error {
	var errs []error
	for _, cmd := range m.profile.Registration {
		if err := run(ctx, m, cmd); err != nil {
			m.logger.Warn("Failed to set registration report mode", "command", cmd.String(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ICCID reads the SIM card identifier.
func (m *Modem) ICCID(ctx context.Context) (string, error) {
	cmd := m.profile.Identity
	res, err := m.Execute(ctx, cmd)
	if err != nil {
		return "", err
	}
	if err := res.Err(cmd); err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(res.Payload, "\n")
	return at.ExtractValue(line, cmd.Prefix())
}

// Profile returns the hardware profile of the session.
func (m *Modem) Profile() Profile {
	return m.profile
}

// DeviceName returns the serial device in use, or the configured one
// before Connect.
func (m *Modem) DeviceName() string {
	return m.device.Load().(string)
}

func (m *Modem) BaudRate() int {
	return m.config.BaudRate
}

func (m *Modem) ChatscriptFile() string {
	return m.config.ChatscriptFile
}

func (m *Modem) Timeout() time.Duration {
	return m.config.Timeout
}

// Connected reports whether the session holds its transport.
func (m *Modem) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel != nil
}

// SocketsAvailable reports whether the modem exposes AT socket commands.
func (m *Modem) SocketsAvailable() bool {
	return m.profile.Sockets != nil
}

func (m *Modem) String() string {
	return fmt.Sprintf("%s(%s)", m.profile.Name, m.DeviceName())
}

// emit must not take m.mu: it is called with and without it held.
func (m *Modem) emit(kind events.Kind, detail string) {
	m.events.notify(events.New(kind, m.DeviceName(), detail))
}

func run(ctx context.Context, exec Executor, cmd at.Command) error {
	res, err := exec.Execute(ctx, cmd)
	if err != nil {
		return err
	}
	return res.Err(cmd)
}
