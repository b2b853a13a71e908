package modem

import (
	"context"
	"errors"
	"testing"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

func TestSerialDialer(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		dialer  SerialDialer
		ctx     context.Context
		wantErr string
		wantIs  error
	}{
		{
			name:    "Missing port name",
			dialer:  SerialDialer{},
			ctx:     context.Background(),
			wantErr: "modem: serial port name is required",
		},
		{
			name:    "Nil context",
			dialer:  SerialDialer{PortName: "/dev/ttyUSB2"},
			ctx:     nil,
			wantErr: "modem: context is nil",
		},
		{
			name:   "Cancelled before open",
			dialer: SerialDialer{PortName: "/dev/nonexistent"},
			ctx:    cancelled,
			wantIs: context.Canceled,
		},
		{
			name: "Port does not exist",
			dialer: SerialDialer{
				PortName: "/dev/nonexistent",
				Mode: &serial.Mode{
					BaudRate: 9600,
					Parity:   serial.NoParity,
					DataBits: 8,
					StopBits: serial.OneStopBit,
				},
			},
			ctx: context.Background(),
		},
		{
			name:   "Port does not exist with default mode",
			dialer: SerialDialer{PortName: "/dev/nonexistent"},
			ctx:    context.Background(),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transport, err := tc.dialer.Dial(tc.ctx)
			if err == nil {
				t.Fatal("expected an error")
			}
			if transport != nil {
				t.Error("expected nil transport on error")
			}
			if tc.wantErr != "" && err.Error() != tc.wantErr {
				t.Errorf("unexpected error message: %v", err)
			}
			if tc.wantIs != nil && !errors.Is(err, tc.wantIs) {
				t.Errorf("expected %v, got: %v", tc.wantIs, err)
			}
		})
	}
}

func TestUSBID(t *testing.T) {
	id := USBID{VendorID: "2c7c", ProductID: "0296"}
	if id.String() != "2c7c:0296" {
		t.Errorf("unexpected String() %q", id.String())
	}
	if !id.Matches("2C7C", "0296") {
		t.Error("vendor id should match regardless of case")
	}
	if id.Matches("12d1", "1001") {
		t.Error("E303 ids should not match a BG96")
	}
}

func TestUSBDetector(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "2C7C", PID: "0296"},
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "2c7c", PID: "0296"},
		{Name: "/dev/ttyUSB2", IsUSB: true, VID: "2c7c", PID: "0296"},
		{Name: "/dev/ttyUSB3", IsUSB: true, VID: "12d1", PID: "1001"},
	}
	busy := map[string]bool{"/dev/ttyUSB0": true}

	newDetector := func() *USBDetector {
		d := NewUSBDetector(115200)
		d.list = func() ([]*enumerator.PortDetails, error) { return ports, nil }
		d.probe = func(name string, mode *serial.Mode) bool {
			if mode.BaudRate != 115200 {
				t.Errorf("unexpected probe baud rate %d", mode.BaudRate)
			}
			return !busy[name]
		}
		return d
	}
	bg96 := BG96Profile().USBIDs

	t.Run("First usable port", func(t *testing.T) {
		got, err := newDetector().Detect(bg96, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "/dev/ttyUSB1" {
			t.Errorf("expected /dev/ttyUSB1, got %q", got)
		}
	})

	t.Run("Last usable port", func(t *testing.T) {
		got, err := newDetector().Detect(bg96, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "/dev/ttyUSB2" {
			t.Errorf("expected /dev/ttyUSB2, got %q", got)
		}
	})

	t.Run("Other model", func(t *testing.T) {
		got, err := newDetector().Detect(E303Profile().USBIDs, true)
		if err != nil || got != "/dev/ttyUSB3" {
			t.Errorf("expected /dev/ttyUSB3, got %q, %v", got, err)
		}
	})

	t.Run("No match", func(t *testing.T) {
		_, err := newDetector().Detect([]USBID{{VendorID: "1199", ProductID: "68c0"}}, true)
		if !errors.Is(err, ErrTransportUnavailable) {
			t.Errorf("expected ErrTransportUnavailable, got: %v", err)
		}
	})

	t.Run("Enumeration failure", func(t *testing.T) {
		d := newDetector()
		d.list = func() ([]*enumerator.PortDetails, error) { return nil, errors.New("no sysfs") }
		if _, err := d.Detect(bg96, true); !errors.Is(err, ErrTransportUnavailable) {
			t.Errorf("expected ErrTransportUnavailable, got: %v", err)
		}
	})
}
