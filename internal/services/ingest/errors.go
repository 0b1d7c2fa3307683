package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame marks bytes that are neither a valid JSON reading nor
	// a known binary frame. Non-fatal: the bytes are dropped and decoding goes on.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownMessageType is a MalformedFrame carrying an unrecognized binary tag.
	ErrUnknownMessageType = fmt.Errorf("%w: unknown message type", ErrMalformedFrame)

	// ErrProtocolViolation means the reassembly buffer grew past its bound
	// without completing a frame. Fatal for the connection that produced it.
	ErrProtocolViolation = errors.New("protocol violation")
)
