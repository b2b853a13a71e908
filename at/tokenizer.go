package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input on LF, dropping any carriage returns that precede it,
// and also recognizes the data input prompt ("> ").
//
// Echoed commands are returned as ordinary tokens. Callers that run with
// echo enabled must discard them.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match data prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[0:len(Prompt)], nil
	}

	// 2. Match line ending, CRLF or a bare LF
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimRight(data[0:i], CR), nil
	}

	if atEOF {
		return len(data), bytes.TrimRight(data, CR), nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of the modem output using the default
// grammar.
func Classify(line string) ResponseType {
	return DefaultGrammar.Classify(line)
}

// Grammar describes the response vocabulary of one modem family on top of
// the standard final result codes.
type Grammar struct {
	// URCPrefixes lists line prefixes the modem emits unsolicited.
	URCPrefixes []string
	// FinalOK lists vendor final codes that complete a command successfully.
	FinalOK []string
	// FinalError lists vendor final codes that complete a command with failure.
	FinalError []string
}

// DefaultGrammar recognizes the 3GPP TS 27.007 final codes and the URCs
// every modem emits.
var DefaultGrammar = Grammar{
	URCPrefixes: []string{UrcNewMsg, UrcMessageReport, UrcCall},
}

// Classify identifies the nature of the modem output
func (g Grammar) Classify(line string) ResponseType {
	if line == Prompt || line == strings.TrimSpace(Prompt) {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return TypeFinal
	}
	for _, code := range g.FinalOK {
		if line == code {
			return TypeFinal
		}
	}
	for _, code := range g.FinalError {
		if line == code {
			return TypeFinal
		}
	}

	// Prefix matches
	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case g.isURC(line):
		return TypeURC
	default:
		return TypeData
	}
}

func (g Grammar) isURC(line string) bool {
	for _, p := range g.URCPrefixes {
		if line == p || strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// Extend returns a copy of g with the vendor vocabulary of other appended.
func (g Grammar) Extend(other Grammar) Grammar {
	return Grammar{
		URCPrefixes: append(append([]string(nil), g.URCPrefixes...), other.URCPrefixes...),
		FinalOK:     append(append([]string(nil), g.FinalOK...), other.FinalOK...),
		FinalError:  append(append([]string(nil), g.FinalError...), other.FinalError...),
	}
}

func (g Grammar) finalStatus(line string) (Status, bool) {
	switch {
	case line == OK:
		return StatusOK, true
	case line == ERROR, line == NoCarrier, line == NoDialtone, line == Busy, line == NoAnswer,
		strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return StatusError, true
	}
	for _, code := range g.FinalOK {
		if line == code {
			return StatusOK, true
		}
	}
	for _, code := range g.FinalError {
		if line == code {
			return StatusError, true
		}
	}
	return StatusUnknown, false
}
