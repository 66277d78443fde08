// Package logplex implements a single-subscription, fan-out log
// demultiplexer: exactly one daemon.Client.Logs subscription is opened
// per container, and every frame it produces is dispatched to every
// currently registered subscriber, backed by a bounded per-stream ring
// buffer so late subscribers can see recent history.
package logplex

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/sidedock/tcgo/internal/daemon"
)

// DefaultBufferSize is the default per-stream ring-buffer horizon: 1 MiB.
const DefaultBufferSize = 1 << 20

// subscriberDeadline bounds how long the plexer will wait on a single
// subscriber's Accept call before dropping it.
const subscriberDeadline = 5 * time.Second

// Consumer receives every LogFrame produced for the lifetime of a
// container. Implementations that return an error are logged and
// unregistered; a blocking implementation only ever blocks the plexer for
// up to subscriberDeadline.
type Consumer interface {
	Accept(ctx context.Context, frame daemon.LogFrame) error
}

// StreamClosers are notified exactly once, after the last frame has been
// dispatched, when the underlying daemon log stream ends. err is the
// terminal transport error, or nil on a clean EOF. A Consumer that does
// not implement StreamCloser simply stops receiving frames.
type StreamCloser interface {
	Close(err error)
}

// ConsumerFunc adapts a plain function to a Consumer, mirroring the
// original's blanket "impl<F: Fn(&LogFrame)> LogConsumer for F".
type ConsumerFunc func(ctx context.Context, frame daemon.LogFrame) error

func (f ConsumerFunc) Accept(ctx context.Context, frame daemon.LogFrame) error { return f(ctx, frame) }

type subscriber struct {
	id       uint64
	consumer Consumer
}

// Plexer owns the single log-stream subscription for one container and
// fans its frames out to every registered subscriber.
type Plexer struct {
	client daemon.Client
	id     string

	bufSize int

	mu          deadlock.RWMutex
	subscribers []subscriber
	nextSubID   uint64

	stdoutBuf *ringBuffer
	stderrBuf *ringBuffer

	closed   atomic.Bool
	doneCh   chan struct{}
	startErr error
}

// New constructs a Plexer for the given container id. bufSize<=0 uses
// DefaultBufferSize.
func New(client daemon.Client, id string, bufSize int) *Plexer {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Plexer{
		client:    client,
		id:        id,
		bufSize:   bufSize,
		stdoutBuf: newRingBuffer(bufSize),
		stderrBuf: newRingBuffer(bufSize),
		doneCh:    make(chan struct{}),
	}
}

// Start opens the single follow=true subscription and begins dispatching
// frames until the stream ends or ctx is cancelled. Start returns once
// the subscription is open; dispatch happens in the background.
func (p *Plexer) Start(ctx context.Context) error {
	frames, errCh := p.client.Logs(ctx, p.id, daemon.LogOptions{Follow: true})

	go p.pump(ctx, frames, errCh)
	return nil
}

func (p *Plexer) pump(ctx context.Context, frames <-chan daemon.LogFrame, errCh <-chan error) {
	defer close(p.doneCh)

	for frame := range frames {
		p.record(frame)
		p.dispatch(ctx, frame)
	}

	// Drain any terminal error reported by the transport; surfaced via
	// LastError() for callers that want to distinguish a clean EOF from a
	// broken connection, and passed to every StreamCloser subscriber below.
	var terminalErr error
	select {
	case terminalErr = <-errCh:
	default:
	}
	p.mu.Lock()
	p.startErr = terminalErr
	p.mu.Unlock()

	p.closeSubscribers(terminalErr)
}

func (p *Plexer) record(frame daemon.LogFrame) {
	switch frame.Stream {
	case daemon.Stdout:
		p.stdoutBuf.Write(frame.Bytes)
	case daemon.Stderr:
		p.stderrBuf.Write(frame.Bytes)
	}
}

func (p *Plexer) dispatch(ctx context.Context, frame daemon.LogFrame) {
	p.mu.RLock()
	subs := make([]subscriber, len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.RUnlock()

	var dead []uint64
	for _, sub := range subs {
		deadline, cancel := context.WithTimeout(ctx, subscriberDeadline)
		result := make(chan error, 1)
		go func(c Consumer) { result <- c.Accept(deadline, frame) }(sub.consumer)
		var err error
		select {
		case err = <-result:
		case <-deadline.Done():
			select {
			case err = <-result:
			default:
				err = deadline.Err()
			}
		}
		cancel()
		if err != nil {
			log.Warn().Str("container", p.id).Err(err).Msg("log subscriber dropped")
			dead = append(dead, sub.id)
		}
	}

	if len(dead) > 0 {
		p.mu.Lock()
		for _, id := range dead {
			p.removeLocked(id)
		}
		p.mu.Unlock()
	}
}

// closeSubscribers marks the stream closed and delivers the terminal
// marker to every currently registered subscriber that implements
// StreamCloser. Late AddSubscriber calls (if any race in concurrently)
// are handled there, not here.
func (p *Plexer) closeSubscribers(err error) {
	p.closed.Store(true)

	p.mu.Lock()
	subs := make([]subscriber, len(p.subscribers))
	copy(subs, p.subscribers)
	p.subscribers = nil
	p.mu.Unlock()

	for _, sub := range subs {
		if closer, ok := sub.consumer.(StreamCloser); ok {
			closer.Close(err)
		}
	}
}

// AddSubscriber registers c to receive every subsequent frame, backfilled
// first with whatever is currently in the ring buffers for streams so a
// late attach still sees recent history. It returns an unregister
// function.
func (p *Plexer) AddSubscriber(ctx context.Context, c Consumer, backfill bool) (unregister func()) {
	p.mu.Lock()
	if p.closed.Load() {
		// The stream already ended; there is no subscriber slot to clean
		// up, but a StreamCloser still needs its terminal notification.
		p.mu.Unlock()
		if closer, ok := c.(StreamCloser); ok {
			closer.Close(p.LastError())
		}
		return func() {}
	}
	id := p.nextSubID
	p.nextSubID++
	p.subscribers = append(p.subscribers, subscriber{id: id, consumer: c})
	stdoutBackfill := p.stdoutBuf.Snapshot()
	stderrBackfill := p.stderrBuf.Snapshot()
	p.mu.Unlock()

	if backfill {
		if len(stdoutBackfill) > 0 {
			_ = c.Accept(ctx, daemon.LogFrame{Stream: daemon.Stdout, Bytes: stdoutBackfill})
		}
		if len(stderrBackfill) > 0 {
			_ = c.Accept(ctx, daemon.LogFrame{Stream: daemon.Stderr, Bytes: stderrBackfill})
		}
	}

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.removeLocked(id)
	}
}

func (p *Plexer) removeLocked(id uint64) {
	for i, sub := range p.subscribers {
		if sub.id == id {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			return
		}
	}
}

// Closed reports whether the underlying log stream has ended.
func (p *Plexer) Closed() bool { return p.closed.Load() }

// Done returns a channel closed once the underlying log stream has ended.
func (p *Plexer) Done() <-chan struct{} { return p.doneCh }

// LastError returns the terminal transport error, if any, observed when
// the stream ended.
func (p *Plexer) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.startErr
}
