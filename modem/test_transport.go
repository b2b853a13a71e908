package modem

import (
	"io"
	"strings"
	"sync"
)

// TestTransport is a test helper that simulates a blocking transport using channels.
// This is needed because the Channel's reader goroutine continuously reads from the transport,
// and we need reads to block until data is available (like a real serial port would).
//
// Responses are scripted per command line: writing a line that has a
// scripted response queues that response for reading.
type TestTransport struct {
	mu        sync.Mutex
	readChan  chan []byte
	closed    bool
	released  bool
	responses map[string][]string
	hangups   map[string]bool
	writes    []string
	echo      bool

	// rest holds bytes of a chunk that did not fit the last Read
	rest []byte
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan:  make(chan []byte, 64),
		responses: make(map[string][]string),
		hangups:   make(map[string]bool),
	}
}

// Respond scripts the modem output for a command line such as "AT+CREG=2".
// Responding more than once to the same line queues the responses in order;
// the last one repeats.
func (t *TestTransport) Respond(line, response string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses[line] = append(t.responses[line], response)
	return t
}

// RespondAndHangUp scripts a response after which the transport reports EOF.
func (t *TestTransport) RespondAndHangUp(line, response string) *TestTransport {
	t.Respond(line, response)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hangups[line] = true
	return t
}

// WithEcho makes the transport echo every written command line.
func (t *TestTransport) WithEcho() *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.echo = true
	return t
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}

	line := strings.TrimSuffix(string(p), "\r")
	t.writes = append(t.writes, line)

	if t.echo {
		t.readChan <- []byte(line + "\r\n")
	}
	if queued, ok := t.responses[line]; ok && len(queued) > 0 {
		t.readChan <- []byte(queued[0])
		if len(queued) > 1 {
			t.responses[line] = queued[1:]
		}
	}
	if t.hangups[line] {
		t.closed = true
		close(t.readChan)
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	if len(t.rest) == 0 {
		data, ok := <-t.readChan
		if !ok {
			return 0, io.EOF
		}
		t.rest = data
	}
	n = copy(p, t.rest)
	t.rest = t.rest[n:]
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released = true
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// Closed reports whether Close was called or the transport hung up.
func (t *TestTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Released reports whether Close was called.
func (t *TestTransport) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}

// Writes returns the command lines written so far, without the trailing
// carriage return.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Count returns how often line was written.
func (t *TestTransport) Count(line string) int {
	n := 0
	for _, w := range t.Writes() {
		if w == line {
			n++
		}
	}
	return n
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}
