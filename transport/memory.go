package transport

import (
	"context"
	"io"
	"sync"
)

const pipeBuffer = 1024

type pipeState struct {
	once sync.Once
	done chan struct{}
	err  error
}

func (p *pipeState) close(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Memory is one end of an in-memory transport pair.
type Memory struct {
	in    chan Frame
	out   chan Frame
	state *pipeState
}

// Pipe returns two connected in-memory transports. Frames written to one
// are read from the other in order. Closing either end closes both; frames
// already written are still delivered before io.EOF.
func Pipe() (*Memory, *Memory) {
	ab := make(chan Frame, pipeBuffer)
	ba := make(chan Frame, pipeBuffer)
	state := &pipeState{done: make(chan struct{})}
	return &Memory{in: ba, out: ab, state: state}, &Memory{in: ab, out: ba, state: state}
}

// ReadFrame implements Transport.
func (m *Memory) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case f := <-m.in:
		return f, nil
	default:
	}
	select {
	case f := <-m.in:
		return f, nil
	case <-m.state.done:
		select {
		case f := <-m.in:
			return f, nil
		default:
		}
		if m.state.err != nil {
			return Frame{}, m.state.err
		}
		return Frame{}, io.EOF
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// WriteFrame implements Transport. The data is copied.
func (m *Memory) WriteFrame(ctx context.Context, f Frame) error {
	select {
	case <-m.state.done:
		return ErrClosed
	default:
	}
	f.Data = append([]byte(nil), f.Data...)
	select {
	case m.out <- f:
		return nil
	case <-m.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes both ends cleanly.
func (m *Memory) Close() error {
	m.state.close(nil)
	return nil
}

// CloseWithError closes both ends; readers get err instead of io.EOF.
func (m *Memory) CloseWithError(err error) {
	m.state.close(err)
}

// Done is closed once the pair is closed.
func (m *Memory) Done() <-chan struct{} {
	return m.state.done
}

// MemoryDialer hands out a prepared transport, or fails with Err.
type MemoryDialer struct {
	Transport Transport
	Err       error
}

// Dial implements Dialer.
func (d MemoryDialer) Dial(ctx context.Context) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Transport, nil
}
