package stream

import "errors"

var (
	// ErrStreamEnded signals that the connection is gone and the reader can
	// produce no more messages. Recoverable by reconnecting.
	ErrStreamEnded = errors.New("stream ended")

	// ErrProtocolViolation signals a frame the protocol does not allow on a
	// market-data stream, such as a binary frame. Not recoverable.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrReconnectTimeout signals that the reconnect loop exhausted its
	// attempt budget without re-establishing a connection.
	ErrReconnectTimeout = errors.New("reconnection timeout")
)
