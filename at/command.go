package at

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Command is a single AT command exchange. It is a value type and is not
// modified once issued.
type Command struct {
	// Name is the command without the "AT" prefix, e.g. "+CREG" or "^ICCID?".
	Name string
	// Arg is rendered after "=" when not empty.
	Arg string
	// Timeout bounds the exchange. Zero selects the channel default.
	Timeout time.Duration
	// ExpectsPayload marks commands whose OK response must carry a line
	// starting with the command prefix.
	ExpectsPayload bool
	// AwaitPrompt makes the data prompt a terminal token for this command.
	AwaitPrompt bool
	// Raw commands are written verbatim, without the "AT" prefix.
	Raw bool
	// LengthPrefixed commands answer with a "<prefix>: <n>" line followed
	// by n bytes of raw data, which may contain anything including final
	// result codes.
	LengthPrefixed bool
}

// Cmd returns an action command such as "ATE0".
func Cmd(name string) Command {
	return Command{Name: name}
}

// Set returns a command assigning arg, e.g. Set("+CREG", 2) is "AT+CREG=2".
func Set(name string, arg any) Command {
	return Command{Name: name, Arg: fmt.Sprint(arg)}
}

// Query returns a read command expecting a prefixed payload line.
// The "?" suffix is added when missing.
func Query(name string) Command {
	if !strings.HasSuffix(name, "?") {
		name += "?"
	}
	return Command{Name: name, ExpectsPayload: true}
}

// WithTimeout returns a copy of c bounded by d.
func (c Command) WithTimeout(d time.Duration) Command {
	c.Timeout = d
	return c
}

// String renders the command line without the trailing carriage return.
func (c Command) String() string {
	if c.Raw {
		return c.Name
	}
	if c.Arg == "" {
		return "AT" + c.Name
	}
	return "AT" + c.Name + "=" + c.Arg
}

// Prefix is the token the modem puts in front of payload lines answering
// this command: "+QIACT?" and "+QIACT=?" both answer with "+QIACT".
func (c Command) Prefix() string {
	if c.Raw {
		return ""
	}
	p := strings.TrimSuffix(c.Name, "?")
	p = strings.TrimSuffix(p, "=")
	return p
}

// Answers reports whether line carries this command's payload prefix.
func (c Command) Answers(line string) bool {
	p := c.Prefix()
	if p == "" || !isPrefixed(p) {
		return false
	}
	return line == p || strings.HasPrefix(line, p+":")
}

// DataLength parses the byte count of an answer line such as "+QIRD: 5".
func (c Command) DataLength(line string) (int, error) {
	value, err := ExtractValue(line, c.Prefix())
	if err != nil {
		return 0, err
	}
	// +QIRD style answers may carry more fields after the length
	value, _, _ = strings.Cut(value, ",")
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: data length in %q", ErrUnknownResponse, line)
	}
	return n, nil
}

// isPrefixed reports whether the name is an extended command ("+X" or a
// vendor "^X", "$X", "%X") as opposed to a basic one like "E0" or "I".
func isPrefixed(name string) bool {
	return strings.ContainsAny(name[:1], "+^$%#*")
}
