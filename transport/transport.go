// Package transport defines the duplex message channel the RFB engine
// reads server traffic from and writes client messages to.
package transport

import (
	"context"
	"errors"
)

// FrameKind distinguishes binary from text frames.
type FrameKind int

const (
	Binary FrameKind = iota
	Text
)

func (k FrameKind) String() string {
	if k == Text {
		return "text"
	}
	return "binary"
}

// Frame is one message on the transport.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Transport delivers frames in order. ReadFrame returns io.EOF when the
// peer closed cleanly and any other error when the channel failed.
type Transport interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(ctx context.Context, f Frame) error
	Close() error
}

// Dialer opens a Transport.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// ErrClosed is returned for operations on a transport closed locally.
var ErrClosed = errors.New("transport: closed")
