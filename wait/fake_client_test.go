package wait_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/sidedock/tcgo/internal/daemon"
)

// fakeClient is a minimal daemon.Client double driven entirely by test
// setup; only the methods a given strategy actually calls need
// meaningful behavior.
type fakeClient struct {
	mu sync.Mutex

	frames chan daemon.LogFrame
	errs   chan error

	inspections []daemon.Inspection // consumed in order by successive Inspect calls
	inspectIdx  int

	execFunc func(ctx context.Context, id string, spec daemon.ExecSpec) (*daemon.ExecResult, error)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		frames: make(chan daemon.LogFrame, 64),
		errs:   make(chan error, 1),
	}
}

func (f *fakeClient) Create(ctx context.Context, spec daemon.CreateSpec) (string, error) {
	return "fake-id", nil
}
func (f *fakeClient) Start(ctx context.Context, id string) error { return nil }

func (f *fakeClient) Inspect(ctx context.Context, id string) (daemon.Inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspectIdx < len(f.inspections) {
		insp := f.inspections[f.inspectIdx]
		if f.inspectIdx < len(f.inspections)-1 {
			f.inspectIdx++
		}
		return insp, nil
	}
	return daemon.Inspection{}, nil
}

func (f *fakeClient) Stop(ctx context.Context, id string, timeout time.Duration) error { return nil }
func (f *fakeClient) Remove(ctx context.Context, id string, force, removeVolumes bool) error {
	return nil
}

func (f *fakeClient) Logs(ctx context.Context, id string, opts daemon.LogOptions) (<-chan daemon.LogFrame, <-chan error) {
	return f.frames, f.errs
}

func (f *fakeClient) Exec(ctx context.Context, id string, spec daemon.ExecSpec) (*daemon.ExecResult, error) {
	return f.execFunc(ctx, id, spec)
}

func (f *fakeClient) CopyIn(ctx context.Context, id, dst string, tar io.Reader) error { return nil }
func (f *fakeClient) Pull(ctx context.Context, ref string, auth *daemon.AuthConfig) error {
	return nil
}
func (f *fakeClient) Close() error { return nil }

// writeLine pushes a single stdout/stderr line (with trailing '\n') as one
// LogFrame, the way a real transport delivers a short write.
func (f *fakeClient) writeLine(stream daemon.Stream, line string) {
	f.frames <- daemon.LogFrame{Stream: stream, Bytes: []byte(line + "\n"), LineHint: true}
}

func (f *fakeClient) closeStream() {
	close(f.frames)
}

// newLoopbackServer starts an httptest server with a known host:port pair,
// for ForTCP/ForHTTP tests that need a real listener.
func newLoopbackServer(handler http.HandlerFunc) (*httptest.Server, string) {
	srv := httptest.NewServer(handler)
	_, port, _ := net.SplitHostPort(srv.Listener.Addr().String())
	return srv, port
}
