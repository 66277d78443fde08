package tcgo

import (
	"context"

	"github.com/sidedock/tcgo/internal/daemon"
	"github.com/sidedock/tcgo/internal/logplex"
)

// Stream identifies which output stream a LogFrame belongs to.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// LogFrame is a single chunk of container output, preserved in daemon
// order per-stream.
type LogFrame struct {
	Stream Stream
	Bytes  []byte
}

// Consumer receives every LogFrame produced for the lifetime of a
// container. An implementation that returns an error is logged and
// unregistered.
type Consumer interface {
	Accept(ctx context.Context, frame LogFrame) error
}

// StreamCloser is implemented by Consumers that want notice when the
// container's log stream ends, whether registered up front via
// FollowLogs or attached after the stream already closed. err is the
// terminal transport error reported by the daemon, or nil on a clean
// EOF (the container exited normally, or Close tore it down).
type StreamCloser interface {
	Close(err error)
}

// ConsumerFunc adapts a plain function to a Consumer.
type ConsumerFunc func(ctx context.Context, frame LogFrame) error

func (f ConsumerFunc) Accept(ctx context.Context, frame LogFrame) error { return f(ctx, frame) }

// logplexAdapter lets a public Consumer register directly with the
// internal logplex.Plexer without that package depending on the root
// one.
type logplexAdapter struct{ inner Consumer }

func (a logplexAdapter) Accept(ctx context.Context, frame daemon.LogFrame) error {
	return a.inner.Accept(ctx, LogFrame{Stream: Stream(frame.Stream), Bytes: frame.Bytes})
}

// Close forwards the terminal marker to inner when it implements
// StreamCloser; the adapter itself always satisfies logplex.StreamCloser
// so the plexer delivers the marker unconditionally, and the check moves
// to the inner consumer instead.
func (a logplexAdapter) Close(err error) {
	if closer, ok := a.inner.(StreamCloser); ok {
		closer.Close(err)
	}
}

var (
	_ logplex.Consumer     = logplexAdapter{}
	_ logplex.StreamCloser = logplexAdapter{}
)
