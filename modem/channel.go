package modem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/cellmodem/at"
)

// maxLineLength bounds a single response line.
const maxLineLength = 16 * 1024

// Channel serializes AT command exchanges over one Transport.
//
// A single reader goroutine scans the transport into tokens for the whole
// lifetime of the channel. It is the ONLY goroutine reading from the
// transport. Execute holds the channel lock from the write of the command
// until its response is complete, so at most one command is in flight.
type Channel struct {
	// mu is held for the full duration of one Execute
	mu sync.Mutex

	transport Transport
	grammar   at.Grammar
	timeout   time.Duration
	logger    *slog.Logger

	// tokens carries scanned lines from the reader goroutine
	tokens chan chunk
	// urcs receives Unsolicited Result Codes, dropped when full
	urcs chan string
	// inflight is the command currently waiting for its response
	inflight atomic.Pointer[at.Command]

	// done is closed when the reader goroutine has stopped; readErr is
	// valid after that
	done    chan struct{}
	readErr error
	// stop is closed by Close to release a reader blocked on tokens
	stop chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewChannel starts reading from transport. Commands without their own
// timeout are bounded by timeout.
func NewChannel(transport Transport, grammar at.Grammar, timeout time.Duration, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Channel{
		transport: transport,
		grammar:   grammar,
		timeout:   timeout,
		logger:    logger,
		tokens:    make(chan chunk, 64),
		urcs:      make(chan string, 100), // Buffered to prevent blocking on URCs
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
	}
	go c.read()
	return c
}

// chunk is one scanned unit of modem output. Data chunks are raw bytes
// announced by a length-prefixed answer and are never classified.
type chunk struct {
	line string
	data bool
}

func (c *Channel) read() {
	defer close(c.done)

	// rawLeft is the byte count still owed to a length-prefixed answer
	rawLeft := 0

	scanner := bufio.NewScanner(c.transport)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		if rawLeft == 0 {
			return at.Splitter(data, atEOF)
		}
		switch {
		case len(data) >= rawLeft:
			return rawLeft, data[:rawLeft], nil
		case atEOF && len(data) > 0:
			return len(data), data, nil
		}
		return 0, nil, nil
	})

	for scanner.Scan() {
		tok := chunk{line: scanner.Text()}
		if rawLeft > 0 {
			tok.data = true
			rawLeft = 0
		} else {
			if tok.line == "" {
				continue
			}

			// URCs can arrive at any time, even during command execution
			if c.grammar.Classify(tok.line) == at.TypeURC && !c.answersInflight(tok.line) {
				c.dispatchURC(tok.line)
				continue
			}
			rawLeft = c.announcedData(tok.line)
		}

		select {
		case c.tokens <- tok:
		case <-c.stop:
			c.readErr = os.ErrClosed
			return
		}
	}

	err := scanner.Err()
	switch {
	case err == nil:
		err = io.EOF
	case errors.Is(err, bufio.ErrTooLong):
		err = ErrLineTooLong
	}
	c.readErr = err
}

// Execute writes cmd and waits for its final result code.
//
// A command that sees no final result code before its deadline returns a
// TIMEOUT result and a nil error; it is never retried here. Transport
// failures are returned as errors wrapping ErrTransportUnavailable.
// Cancelling ctx abandons the command like a timeout does, but returns
// ctx.Err().
func (c *Channel) Execute(ctx context.Context, cmd at.Command) (at.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return at.Result{}, c.transportErr()
	default:
	}

	// Late responses to an abandoned command must not answer this one
	c.drain()

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	c.inflight.Store(&cmd)
	defer c.inflight.Store(nil)

	line := cmd.String()
	wire := line + at.CR
	if cmd.Raw {
		wire = line
	}
	if _, err := c.transport.Write([]byte(wire)); err != nil {
		return at.Result{}, fmt.Errorf("write command %q: %w: %w", line, ErrTransportUnavailable, err)
	}
	c.logger.Debug("Command sent", "command", line)

	var (
		lines []string
		data  []byte
	)
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Command abandoned", "command", line, "error", ctx.Err())
			return at.Result{Status: at.StatusTimeout, Lines: lines, Data: data}, ctx.Err()

		case <-timer.C:
			c.logger.Debug("Command timed out", "command", line, "timeout", timeout)
			return at.Result{Status: at.StatusTimeout, Lines: lines, Data: data}, nil

		case tok := <-c.tokens:
			if tok.data {
				data = append(data, tok.line...)
				continue
			}
			token := tok.line
			if token == line {
				continue
			}

			switch c.grammar.Classify(token) {
			case at.TypeURC:
				if !cmd.Answers(token) {
					c.dispatchURC(token)
					continue
				}
				lines = append(lines, token)

			case at.TypeFinal:
				lines = append(lines, token)
				res := c.grammar.ClassifyCommand(lines, cmd)
				res.Data = data
				c.logger.Debug("Command completed", "command", line, "status", res.Status)
				return res, nil

			case at.TypePrompt:
				lines = append(lines, token)
				if cmd.AwaitPrompt {
					return c.grammar.ClassifyCommand(lines, cmd), nil
				}

			case at.TypeData:
				lines = append(lines, token)
			}

		case <-c.done:
			// Take whatever the reader produced before it stopped
			for _, tok := range c.pending() {
				if tok.data {
					data = append(data, tok.line...)
				} else if tok.line != line {
					lines = append(lines, tok.line)
				}
			}
			res := c.grammar.ClassifyCommand(lines, cmd)
			res.Data = data
			return res, c.transportErr()
		}
	}
}

// drain discards tokens left over from earlier commands.
func (c *Channel) drain() {
	for {
		select {
		case tok := <-c.tokens:
			c.logger.Debug("Discarding stale response", "line", tok.line)
		default:
			return
		}
	}
}

func (c *Channel) pending() []chunk {
	var out []chunk
	for {
		select {
		case tok := <-c.tokens:
			out = append(out, tok)
		default:
			return out
		}
	}
}

func (c *Channel) answersInflight(token string) bool {
	cmd := c.inflight.Load()
	return cmd != nil && cmd.Answers(token)
}

// announcedData returns the number of raw bytes that follow line when it
// answers a length-prefixed command in flight.
func (c *Channel) announcedData(line string) int {
	cmd := c.inflight.Load()
	if cmd == nil || !cmd.LengthPrefixed || !cmd.Answers(line) {
		return 0
	}
	n, err := cmd.DataLength(line)
	if err != nil {
		c.logger.Warn("Unreadable data length", "line", line, "error", err)
		return 0
	}
	return n
}

func (c *Channel) dispatchURC(token string) {
	select {
	case c.urcs <- token:
	default:
		c.logger.Warn("URC channel full, dropping URC", "urc", token)
	}
}

func (c *Channel) transportErr() error {
	return fmt.Errorf("%w: %w", ErrTransportUnavailable, c.readErr)
}

// URC returns a read-only channel that receives Unsolicited Result Codes.
// The channel is buffered, but may drop some URCs if not consumed fast
// enough.
func (c *Channel) URC() <-chan string {
	return c.urcs
}

// Done is closed once the transport stopped delivering data.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close closes the transport, which stops the reader goroutine. It is safe
// to call more than once; later calls return the first result.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}
