package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

// Transport represents an established, bidirectional byte stream to a modem.
//
// A Transport is assumed to be already connected and ready for use. It provides
// the low-level I/O primitives required to send AT commands and receive responses.
// Typical implementations include serial ports, TCP connections to emulators,
// or in-memory fakes used for testing.
type Transport interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
}

// Dialer opens a Transport to a modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, TCP-based emulator, or test double) and is used by Connect
// only. Once a Transport is obtained, the Dialer is no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// PortDetector finds the serial device of a modem among the ports of the
// host.
type PortDetector interface {
	// Detect returns the name of a usable port whose USB identifiers are in
	// ids. With stopOnFirst the first usable port wins, otherwise the last.
	Detect(ids []USBID, stopOnFirst bool) (string, error)
}

// USBID is a USB vendor/product pair in hexadecimal, e.g. {"12d1", "1001"}.
type USBID struct {
	VendorID  string
	ProductID string
}

func (id USBID) String() string {
	return id.VendorID + ":" + id.ProductID
}

// Matches compares against enumerator output, which may use either case.
func (id USBID) Matches(vid, pid string) bool {
	return strings.EqualFold(id.VendorID, vid) && strings.EqualFold(id.ProductID, pid)
}

// SerialDialer opens a modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	PortName string
	// Mode defaults to 115200 8N1 when nil.
	Mode *serial.Mode
}

// Dial opens the serial port. The port is closed again if ctx was cancelled
// while opening.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("modem: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		mode = &serial.Mode{
			BaudRate: 115200,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.PortName, err)
	}

	if err := ctx.Err(); err != nil {
		port.Close()
		return nil, err
	}

	return port, nil
}

// USBDetector lists serial ports with go.bug.st/serial/enumerator and
// probes candidates by opening them.
type USBDetector struct {
	// BaudRate is used for the open probe.
	BaudRate int

	// list and probe are replaced in tests
	list  func() ([]*enumerator.PortDetails, error)
	probe func(name string, mode *serial.Mode) bool
}

// NewUSBDetector returns a detector probing at the given baud rate.
func NewUSBDetector(baudRate int) *USBDetector {
	return &USBDetector{BaudRate: baudRate}
}

func (d *USBDetector) Detect(ids []USBID, stopOnFirst bool) (string, error) {
	list := d.list
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	probe := d.probe
	if probe == nil {
		probe = probePort
	}

	ports, err := list()
	if err != nil {
		return "", fmt.Errorf("%w: list serial ports: %w", ErrTransportUnavailable, err)
	}

	mode := &serial.Mode{BaudRate: d.BaudRate}
	found := ""
	for _, p := range ports {
		if !p.IsUSB || !matchesAny(ids, p.VID, p.PID) {
			continue
		}
		if !probe(p.Name, mode) {
			continue
		}
		found = p.Name
		if stopOnFirst {
			break
		}
	}

	if found == "" {
		return "", fmt.Errorf("%w: no usable port for USB ids %v", ErrTransportUnavailable, ids)
	}
	return found, nil
}

func matchesAny(ids []USBID, vid, pid string) bool {
	for _, id := range ids {
		if id.Matches(vid, pid) {
			return true
		}
	}
	return false
}

func probePort(name string, mode *serial.Mode) bool {
	port, err := serial.Open(name, mode)
	if err != nil {
		return false
	}
	port.Close()
	return true
}
