package logplex_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidedock/tcgo/internal/daemon"
	"github.com/sidedock/tcgo/internal/logplex"
)

type fakeClient struct {
	frames chan daemon.LogFrame
	errs   chan error
}

func newFakeClient() *fakeClient {
	return &fakeClient{frames: make(chan daemon.LogFrame, 16), errs: make(chan error, 1)}
}

func (f *fakeClient) Create(context.Context, daemon.CreateSpec) (string, error) { return "", nil }
func (f *fakeClient) Start(context.Context, string) error                      { return nil }
func (f *fakeClient) Inspect(context.Context, string) (daemon.Inspection, error) {
	return daemon.Inspection{}, nil
}
func (f *fakeClient) Stop(context.Context, string, time.Duration) error         { return nil }
func (f *fakeClient) Remove(context.Context, string, bool, bool) error          { return nil }
func (f *fakeClient) Logs(context.Context, string, daemon.LogOptions) (<-chan daemon.LogFrame, <-chan error) {
	return f.frames, f.errs
}
func (f *fakeClient) Exec(context.Context, string, daemon.ExecSpec) (*daemon.ExecResult, error) {
	return nil, nil
}
func (f *fakeClient) CopyIn(context.Context, string, string, io.Reader) error { return nil }
func (f *fakeClient) Pull(context.Context, string, *daemon.AuthConfig) error  { return nil }
func (f *fakeClient) Close() error                                           { return nil }

type recordingConsumer struct {
	mu       sync.Mutex
	received []string
}

func (r *recordingConsumer) Accept(_ context.Context, frame daemon.LogFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, string(frame.Bytes))
	return nil
}

func (r *recordingConsumer) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.received))
	copy(out, r.received)
	return out
}

func TestPlexer_FanOutPreservesOrderAcrossSubscribers(t *testing.T) {
	client := newFakeClient()
	plexer := logplex.New(client, "c1", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, plexer.Start(ctx))

	a := &recordingConsumer{}
	b := &recordingConsumer{}
	unregA := plexer.AddSubscriber(ctx, a, true)
	defer unregA()
	unregB := plexer.AddSubscriber(ctx, b, true)
	defer unregB()

	client.frames <- daemon.LogFrame{Stream: daemon.Stdout, Bytes: []byte("a")}
	client.frames <- daemon.LogFrame{Stream: daemon.Stdout, Bytes: []byte("b")}
	client.frames <- daemon.LogFrame{Stream: daemon.Stdout, Bytes: []byte("c")}
	close(client.frames)

	select {
	case <-plexer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("plexer never closed")
	}

	assert.Equal(t, []string{"a", "b", "c"}, a.snapshot())
	assert.Equal(t, []string{"a", "b", "c"}, b.snapshot())
}

func TestPlexer_LateSubscriberGetsBackfill(t *testing.T) {
	client := newFakeClient()
	plexer := logplex.New(client, "c1", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, plexer.Start(ctx))

	client.frames <- daemon.LogFrame{Stream: daemon.Stdout, Bytes: []byte("early")}

	// Give the pump goroutine a moment to record the frame into the ring
	// buffer before a subscriber attaches late.
	time.Sleep(50 * time.Millisecond)

	late := &recordingConsumer{}
	unreg := plexer.AddSubscriber(ctx, late, true)
	defer unreg()

	assert.Equal(t, []string{"early"}, late.snapshot())
}

type closingConsumer struct {
	recordingConsumer
	mu       sync.Mutex
	closed   bool
	closeErr error
}

func (c *closingConsumer) Close(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeErr = err
}

func (c *closingConsumer) wasClosed() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeErr
}

func TestPlexer_EOFDeliversTerminalMarkerToStreamCloser(t *testing.T) {
	client := newFakeClient()
	plexer := logplex.New(client, "c1", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, plexer.Start(ctx))

	sub := &closingConsumer{}
	plexer.AddSubscriber(ctx, sub, false)

	client.frames <- daemon.LogFrame{Stream: daemon.Stdout, Bytes: []byte("1")}
	close(client.frames)

	select {
	case <-plexer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("plexer never closed")
	}

	assert.True(t, plexer.Closed())
	closed, closeErr := sub.wasClosed()
	assert.True(t, closed, "StreamCloser subscriber should receive a terminal Close on EOF")
	assert.NoError(t, closeErr, "clean EOF should report a nil terminal error")
}

func TestPlexer_LateAttachAfterEOFStillGetsTerminalMarker(t *testing.T) {
	client := newFakeClient()
	plexer := logplex.New(client, "c1", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, plexer.Start(ctx))

	close(client.frames)
	select {
	case <-plexer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("plexer never closed")
	}

	late := &closingConsumer{}
	unreg := plexer.AddSubscriber(ctx, late, true)
	defer unreg()

	closed, _ := late.wasClosed()
	assert.True(t, closed, "a StreamCloser attaching after EOF should still be notified")
}

func TestPlexer_SubscriberErrorDropsIt(t *testing.T) {
	client := newFakeClient()
	plexer := logplex.New(client, "c1", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, plexer.Start(ctx))

	calls := 0
	var mu sync.Mutex
	failing := logplex.ConsumerFunc(func(_ context.Context, _ daemon.LogFrame) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return assert.AnError
	})
	plexer.AddSubscriber(ctx, failing, false)

	client.frames <- daemon.LogFrame{Stream: daemon.Stdout, Bytes: []byte("1")}
	client.frames <- daemon.LogFrame{Stream: daemon.Stdout, Bytes: []byte("2")}
	close(client.frames)

	select {
	case <-plexer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("plexer never closed")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "subscriber should be dropped after its first error")
}
