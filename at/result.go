package at

import (
	"fmt"
	"strings"
)

// Status is the outcome of a command exchange.
type Status int

const (
	StatusUnknown Status = iota
	StatusOK
	StatusError
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Result is the classified response to one Command.
type Result struct {
	Status Status
	// Payload holds the lines matching the expected prefix on success, or
	// the error line on failure. Multiple lines are joined with "\n".
	Payload string
	// Lines holds every response line except echo, blanks and the final
	// result code.
	Lines []string
	// Data holds the raw bytes announced by the answer line of a
	// LengthPrefixed command.
	Data []byte
}

// OK reports whether the command completed successfully.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Err converts a non-OK result into the matching error for cmd.
func (r Result) Err(cmd Command) error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusError:
		return newVendorError(cmd.String(), r.Payload)
	case StatusTimeout:
		return fmt.Errorf("%s: %w", cmd, ErrTimeout)
	default:
		return fmt.Errorf("%s: %w: %q", cmd, ErrUnknownResponse, r.Payload)
	}
}

// ClassifyResponse parses raw response lines with the default grammar.
func ClassifyResponse(lines []string, expectedPrefix string) Result {
	return DefaultGrammar.ClassifyResponse(lines, expectedPrefix)
}

// ClassifyResponse turns the raw lines of one response into a Result.
//
// Blank lines are dropped. The first final result code
// decides the status: OK (or a vendor success code) yields the lines
// starting with expectedPrefix as payload, ERROR and +CME/+CMS errors yield
// the error line. Input without any final result code is UNKNOWN.
func (g Grammar) ClassifyResponse(lines []string, expectedPrefix string) Result {
	var data []string
	for _, raw := range lines {
		line := strings.TrimRight(raw, CRLF)
		if strings.TrimSpace(line) == "" {
			continue
		}

		status, final := g.finalStatus(line)
		if !final {
			data = append(data, line)
			continue
		}

		res := Result{Status: status, Lines: data}
		switch status {
		case StatusOK:
			res.Payload = strings.Join(matching(data, expectedPrefix), "\n")
		default:
			res.Payload = line
		}
		return res
	}

	return Result{
		Status:  StatusUnknown,
		Payload: strings.Join(data, "\n"),
		Lines:   data,
	}
}

// ClassifyCommand applies the per-command expectations on top of
// ClassifyResponse. Only an exact echo of cmd is dropped.
func (g Grammar) ClassifyCommand(lines []string, cmd Command) Result {
	var kept []string
	echo := cmd.String()
	for _, l := range lines {
		if l == echo {
			continue
		}
		if cmd.AwaitPrompt && (l == Prompt || l == strings.TrimSpace(Prompt)) {
			return Result{Status: StatusOK, Payload: Prompt, Lines: kept}
		}
		kept = append(kept, l)
	}

	res := g.ClassifyResponse(kept, cmd.Prefix())
	if res.Status == StatusOK && cmd.ExpectsPayload && res.Payload == "" {
		res.Status = StatusUnknown
		res.Payload = strings.Join(res.Lines, "\n")
	}
	return res
}

func matching(lines []string, prefix string) []string {
	if prefix == "" {
		return lines
	}
	prefix = strings.TrimSuffix(prefix, ":")
	var out []string
	for _, l := range lines {
		if l == prefix || strings.HasPrefix(l, prefix+":") {
			out = append(out, l)
		}
	}
	return out
}

// ExtractValue returns the value of an identity-style payload line
// "<prefix>: <value><terminator>".
//
// The line is split on the first ": " and the left side must equal prefix.
// Exactly one trailing terminator ("\r\n", "\r" or "\n") is removed, so a
// value that itself ends in a terminator-like character is preserved.
func ExtractValue(line, prefix string) (string, error) {
	head, value, found := strings.Cut(line, ": ")
	if !found {
		return "", fmt.Errorf("%w: missing %q delimiter in %q", ErrUnknownResponse, ": ", line)
	}
	if head != strings.TrimSuffix(prefix, ":") {
		return "", fmt.Errorf("%w: expected prefix %q, got %q", ErrUnknownResponse, prefix, head)
	}

	switch {
	case strings.HasSuffix(value, CRLF):
		value = value[:len(value)-len(CRLF)]
	case strings.HasSuffix(value, CR), strings.HasSuffix(value, LF):
		value = value[:len(value)-1]
	}

	if value == "" {
		return "", fmt.Errorf("%w: empty %s value", ErrUnknownResponse, prefix)
	}
	return value, nil
}
