package modem

import "errors"

var (
	// ErrNotConnected is returned when a command is issued on a Modem whose
	// transport has not been acquired with Connect.
	ErrNotConnected = errors.New("modem not connected")

	// ErrAlreadyConnected is returned by Connect on a session that already
	// holds its transport.
	ErrAlreadyConnected = errors.New("modem already connected")

	// ErrAlreadyClosed is returned when Disconnect is called on a Modem that
	// has already been disconnected.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrConnect wraps every failure of Connect. The transport has been
	// released when it is returned.
	ErrConnect = errors.New("connect modem")

	// ErrTransportUnavailable is returned when no usable serial port was
	// found, the port could not be opened, or the open transport failed.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrInvalidState is returned when a socket operation is attempted from a
	// state that does not allow it. The socket state is left unchanged.
	ErrInvalidState = errors.New("invalid socket state")

	// ErrInvalidSocket is returned for socket identifiers outside the range
	// supported by the modem.
	ErrInvalidSocket = errors.New("invalid socket identifier")

	// ErrSocketLeaked is returned when closing a socket failed. The socket
	// stays in the CLOSING state and occupies its identifier on the modem
	// until an operator resets the module.
	ErrSocketLeaked = errors.New("socket close failed, resource leaked")

	// ErrSocketsUnsupported is returned by socket operations on modems that
	// do not expose AT socket commands.
	ErrSocketsUnsupported = errors.New("AT sockets not supported")

	// ErrLineTooLong is returned when a modem response line exceeds the
	// maximum allowed length.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = errors.New("response line too long")
)
