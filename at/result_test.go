package at_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"i4.energy/across/cellmodem/at"
)

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		prefix  string
		status  at.Status
		payload string
	}{
		{
			name:    "OK with prefixed payload",
			lines:   []string{"+CREG: 2,1", "OK"},
			prefix:  "+CREG",
			status:  at.StatusOK,
			payload: "+CREG: 2,1",
		},
		{
			name:    "Blank lines are stripped",
			lines:   []string{"", "^ICCID: 8944500102198304826", "", "OK"},
			prefix:  "^ICCID",
			status:  at.StatusOK,
			payload: "^ICCID: 8944500102198304826",
		},
		{
			name:    "OK without matching payload",
			lines:   []string{"Quectel", "OK"},
			prefix:  "+QIACT",
			status:  at.StatusOK,
			payload: "",
		},
		{
			name:    "Empty prefix keeps all data lines",
			lines:   []string{"Quectel", "BG96", "OK"},
			status:  at.StatusOK,
			payload: "Quectel\nBG96",
		},
		{
			name:    "Data lines starting with AT are kept",
			lines:   []string{"ATTACK", "at home", "OK"},
			status:  at.StatusOK,
			payload: "ATTACK\nat home",
		},
		{
			name:    "Multiple prefixed lines",
			lines:   []string{"+QIACT: 1,1,1,\"10.0.0.1\"", "+QIACT: 2,0,1", "OK"},
			prefix:  "+QIACT",
			status:  at.StatusOK,
			payload: "+QIACT: 1,1,1,\"10.0.0.1\"\n+QIACT: 2,0,1",
		},
		{
			name:    "Plain ERROR",
			lines:   []string{"AT+QICLOSE=1", "ERROR"},
			status:  at.StatusError,
			payload: "ERROR",
		},
		{
			name:    "CME error",
			lines:   []string{"+CME ERROR: 10"},
			status:  at.StatusError,
			payload: "+CME ERROR: 10",
		},
		{
			name:    "CMS error",
			lines:   []string{"+CMS ERROR: 500"},
			status:  at.StatusError,
			payload: "+CMS ERROR: 500",
		},
		{
			name:    "Terminal tokens are case sensitive",
			lines:   []string{"ok"},
			status:  at.StatusUnknown,
			payload: "ok",
		},
		{
			name:    "No terminal token",
			lines:   []string{"+CSQ: 15,99", "garbage"},
			prefix:  "+CSQ",
			status:  at.StatusUnknown,
			payload: "+CSQ: 15,99\ngarbage",
		},
		{
			name:   "No input",
			status: at.StatusUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := at.ClassifyResponse(tt.lines, tt.prefix)
			if res.Status != tt.status {
				t.Errorf("expected status %v, got %v", tt.status, res.Status)
			}
			if res.Payload != tt.payload {
				t.Errorf("expected payload %q, got %q", tt.payload, res.Payload)
			}
		})
	}
}

func TestClassifyCommand(t *testing.T) {
	g := at.DefaultGrammar.Extend(at.Grammar{
		FinalOK:    []string{"SEND OK"},
		FinalError: []string{"SEND FAIL"},
	})

	t.Run("Missing payload for a query is unknown", func(t *testing.T) {
		res := g.ClassifyCommand([]string{"OK"}, at.Query("^ICCID"))
		if res.Status != at.StatusUnknown {
			t.Errorf("expected UNKNOWN, got %v", res.Status)
		}
	})

	t.Run("Probe without payload is OK", func(t *testing.T) {
		cmd := at.Cmd("+QIACT?")
		res := g.ClassifyCommand([]string{"OK"}, cmd)
		if !res.OK() {
			t.Errorf("expected OK, got %v", res.Status)
		}
	})

	t.Run("Only the exact echo is dropped", func(t *testing.T) {
		cmd := at.Set("+QIRD", "0,1500")
		res := g.ClassifyCommand([]string{"AT+QIRD=0,1500", "+QIRD: 4", "ATAT", "OK"}, cmd)
		if !res.OK() {
			t.Fatalf("expected OK, got %v", res.Status)
		}
		if len(res.Lines) != 2 || res.Lines[1] != "ATAT" {
			t.Errorf("expected the data line to survive, got %q", res.Lines)
		}
	})

	t.Run("Prompt terminates prompt commands", func(t *testing.T) {
		cmd := at.Command{Name: "+QISEND", Arg: "0,5", AwaitPrompt: true}
		res := g.ClassifyCommand([]string{"AT+QISEND=0,5", "> "}, cmd)
		if !res.OK() || res.Payload != at.Prompt {
			t.Errorf("expected prompt result, got %+v", res)
		}
	})

	t.Run("Error before prompt", func(t *testing.T) {
		cmd := at.Command{Name: "+QISEND", Arg: "0,5", AwaitPrompt: true}
		res := g.ClassifyCommand([]string{"ERROR"}, cmd)
		if res.Status != at.StatusError {
			t.Errorf("expected ERROR, got %v", res.Status)
		}
	})

	t.Run("Vendor final codes", func(t *testing.T) {
		raw := at.Command{Name: "hello", Raw: true}
		if res := g.ClassifyCommand([]string{"SEND OK"}, raw); !res.OK() {
			t.Errorf("expected OK for SEND OK, got %v", res.Status)
		}
		if res := g.ClassifyCommand([]string{"SEND FAIL"}, raw); res.Status != at.StatusError {
			t.Errorf("expected ERROR for SEND FAIL, got %v", res.Status)
		}
	})
}

func TestExtractValue(t *testing.T) {
	const digits = "89014103211118510720123456789012"

	for n := 1; n <= 32; n++ {
		value := digits[:n]
		for _, term := range []string{"", "\r", "\n", "\r\n"} {
			line := "^ICCID: " + value + term
			got, err := at.ExtractValue(line, "^ICCID")
			if err != nil {
				t.Fatalf("ExtractValue(%q): unexpected error: %v", line, err)
			}
			if got != value {
				t.Fatalf("ExtractValue(%q): expected %q, got %q", line, value, got)
			}
		}
	}

	t.Run("Trims a single terminator only", func(t *testing.T) {
		got, err := at.ExtractValue("+QCCID: 8901\r\r", "+QCCID")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "8901\r" {
			t.Errorf("expected one terminator to remain, got %q", got)
		}
	})

	t.Run("Prefix characters inside the value survive", func(t *testing.T) {
		// a character-set strip of "^ICCID: " would also eat the leading "C" and "D"
		got, err := at.ExtractValue("^ICCID: CD12", "^ICCID:")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "CD12" {
			t.Errorf("expected %q, got %q", "CD12", got)
		}
	})

	errorCases := []struct {
		name string
		line string
	}{
		{name: "Wrong prefix", line: "+QCCID: 8901"},
		{name: "Missing delimiter", line: "^ICCID8901"},
		{name: "Empty value", line: "^ICCID: \r"},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := at.ExtractValue(tt.line, "^ICCID")
			if !errors.Is(err, at.ErrUnknownResponse) {
				t.Errorf("expected ErrUnknownResponse, got %v", err)
			}
		})
	}
}

func TestResultErr(t *testing.T) {
	cmd := at.Set("+QICLOSE", 1)

	if err := (at.Result{Status: at.StatusOK}).Err(cmd); err != nil {
		t.Errorf("expected nil error for OK, got %v", err)
	}

	err := (at.Result{Status: at.StatusTimeout}).Err(cmd)
	if !errors.Is(err, at.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}

	err = (at.Result{Status: at.StatusUnknown, Payload: "??"}).Err(cmd)
	if !errors.Is(err, at.ErrUnknownResponse) {
		t.Errorf("expected ErrUnknownResponse, got %v", err)
	}

	err = (at.Result{Status: at.StatusError, Payload: "+CME ERROR: 583"}).Err(cmd)
	var vendorErr *at.VendorError
	if !errors.As(err, &vendorErr) {
		t.Fatalf("expected VendorError, got %T", err)
	}
	if vendorErr.Code != 583 {
		t.Errorf("expected code 583, got %d", vendorErr.Code)
	}
	if vendorErr.Command != "AT+QICLOSE=1" {
		t.Errorf("expected command AT+QICLOSE=1, got %q", vendorErr.Command)
	}
	if !strings.Contains(err.Error(), "+CME ERROR: 583") {
		t.Errorf("expected error line in message, got %q", err.Error())
	}

	err = (at.Result{Status: at.StatusError, Payload: "ERROR"}).Err(cmd)
	if !errors.As(err, &vendorErr) || vendorErr.Code != -1 {
		t.Errorf("expected code -1 for plain ERROR, got %v", err)
	}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		name   string
		cmd    at.Command
		line   string
		prefix string
	}{
		{name: "Basic", cmd: at.Cmd(at.CmdEchoOff), line: "ATE0", prefix: "E0"},
		{name: "Ping", cmd: at.Cmd(at.CmdAt), line: "AT", prefix: ""},
		{name: "Set string", cmd: at.Set("+CREG", "2"), line: "AT+CREG=2", prefix: "+CREG"},
		{name: "Set int", cmd: at.Set("+QICLOSE", 1), line: "AT+QICLOSE=1", prefix: "+QICLOSE"},
		{name: "Query", cmd: at.Query("^ICCID"), line: "AT^ICCID?", prefix: "^ICCID"},
		{name: "Query keeps existing suffix", cmd: at.Query("+QIACT?"), line: "AT+QIACT?", prefix: "+QIACT"},
		{name: "Test form", cmd: at.Cmd("+QIACT=?"), line: "AT+QIACT=?", prefix: "+QIACT"},
		{name: "Raw", cmd: at.Command{Name: "payload", Raw: true}, line: "payload", prefix: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cmd.String(); got != tt.line {
				t.Errorf("expected line %q, got %q", tt.line, got)
			}
			if got := tt.cmd.Prefix(); got != tt.prefix {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}

	t.Run("Answers", func(t *testing.T) {
		q := at.Query("+CREG")
		if !q.Answers("+CREG: 2,1") {
			t.Error("expected +CREG query to answer +CREG line")
		}
		if q.Answers("+CREGX: 1") {
			t.Error("expected +CREG query not to answer +CREGX line")
		}
		if at.Cmd("E0").Answers("E0: 1") {
			t.Error("basic commands carry no payload prefix")
		}
	})

	t.Run("DataLength", func(t *testing.T) {
		cmd := at.Command{Name: "+QIRD", Arg: "0,1500", LengthPrefixed: true}
		for line, want := range map[string]int{"+QIRD: 5": 5, "+QIRD: 0": 0, "+QIRD: 12,\"10.0.0.1\",80": 12} {
			n, err := cmd.DataLength(line)
			if err != nil || n != want {
				t.Errorf("DataLength(%q): expected %d, got %d, %v", line, want, n, err)
			}
		}
		for _, line := range []string{"+QIRD: x", "+QIRD: -1", "+QISEND: 5"} {
			if _, err := cmd.DataLength(line); !errors.Is(err, at.ErrUnknownResponse) {
				t.Errorf("DataLength(%q): expected ErrUnknownResponse, got %v", line, err)
			}
		}
	})

	t.Run("WithTimeout copies", func(t *testing.T) {
		base := at.Set("+QIACT", 0)
		bounded := base.WithTimeout(30 * time.Second)
		if base.Timeout != 0 || bounded.Timeout != 30*time.Second {
			t.Errorf("unexpected timeouts: base=%v bounded=%v", base.Timeout, bounded.Timeout)
		}
	})
}
