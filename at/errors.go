package at

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrTimeout is returned when no final result code arrived before the
	// command deadline.
	ErrTimeout = errors.New("command timeout")

	// ErrUnknownResponse is returned when the modem output could not be
	// classified, or a payload did not have the expected shape.
	ErrUnknownResponse = errors.New("unknown response")
)

// VendorError is an explicit failure reported by the modem: ERROR, or an
// extended +CME ERROR / +CMS ERROR result code.
type VendorError struct {
	// Command is the command line that failed.
	Command string
	// Line is the final result line as received.
	Line string
	// Code is the numeric error code, or -1 when the modem gave none
	// (plain ERROR or verbose error text).
	Code int
}

func newVendorError(cmd, line string) *VendorError {
	e := &VendorError{Command: cmd, Line: line, Code: -1}
	for _, p := range []string{CmeError, CmsError} {
		if rest, ok := strings.CutPrefix(line, p); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
				e.Code = n
			}
		}
	}
	return e
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("%s: modem returned %q", e.Command, e.Line)
}
