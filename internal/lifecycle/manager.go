// Package lifecycle implements the orchestration core that drives a
// container through create, copy-in, start, log-plexer, wait-strategy,
// and port-refresh, and guarantees teardown on every exit path.
//
// This package knows nothing about Image or ContainerRequest: it
// consumes the plain daemon.CreateSpec the root package's merge already
// produced, plus the resolved wait strategies and copy-in files, so the
// root package can import lifecycle without a cycle.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/sidedock/tcgo/internal/daemon"
	"github.com/sidedock/tcgo/internal/logplex"
	"github.com/sidedock/tcgo/wait"
)

// stopTimeout is the grace period given to a container between SIGTERM
// and SIGKILL during cleanup.
const stopTimeout = 10 * time.Second

// rescueDeadline bounds the rescue executor's best-effort cleanup when
// the caller that started a container is gone.
const rescueDeadline = 30 * time.Second

// rescueQueueDepth is generous: cleanup jobs are cheap and rare relative
// to container lifetimes, and a full queue would rather apply backpressure
// to Start() than silently drop a teardown.
const rescueQueueDepth = 256

// ErrNotRunning mirrors the root package's sentinel of the same name; it
// is returned by Container operations once Stop or Rm has completed.
var ErrNotRunning = errors.New("lifecycle: container is not running")

// CopyInFile is a single pre-start file injection: invoked on the
// created but not-yet-started container, for each entry attached to the
// request.
type CopyInFile struct {
	Dst string
	Tar io.Reader
}

// StartSpec aggregates everything Manager.Start needs: the merged
// daemon-agnostic create payload plus the pieces the root package
// resolved from the Image/ContainerRequest pair (ready conditions,
// copy-in files, post-ready exec hooks) and the host address probes
// should dial.
type StartSpec struct {
	Create     daemon.CreateSpec
	Waits      []wait.Strategy
	CopyIn     []CopyInFile
	AfterReady []daemon.ExecSpec
	HostIP     string
}

// MetricsSink receives lifecycle events for internal/metrics to turn
// into counters/histograms. A nil sink (the default) disables metrics
// entirely; Manager never requires one.
type MetricsSink interface {
	ContainerStarted()
	ContainerStartFailed()
	WaitStrategyObserved(kind string, d time.Duration, err error)
	CleanupFailed()
}

// Manager is the sole entry point that turns a StartSpec into a
// running, ready Container and guarantees its teardown on every exit
// path, including a caller that is cancelled mid-start.
type Manager struct {
	client  daemon.Client
	metrics MetricsSink

	mu         deadlock.RWMutex
	containers map[string]*Container

	rescue chan rescueJob
}

type rescueJob struct {
	id     string
	client daemon.Client
}

// NewManager constructs a Manager bound to one daemon.Client and starts
// its background rescue executor.
func NewManager(client daemon.Client) *Manager {
	m := &Manager{
		client:     client,
		containers: map[string]*Container{},
		rescue:     make(chan rescueJob, rescueQueueDepth),
	}
	go m.rescueLoop()
	return m
}

// WithMetrics attaches a MetricsSink; intended to be called once, right
// after NewManager, before any Start.
func (m *Manager) WithMetrics(sink MetricsSink) *Manager {
	m.metrics = sink
	return m
}

func (m *Manager) rescueLoop() {
	for job := range m.rescue {
		ctx, cancel := context.WithTimeout(context.Background(), rescueDeadline)
		if err := teardown(ctx, job.client, job.id); err != nil {
			log.Warn().Str("container", job.id).Err(err).Msg("rescue cleanup failed")
			if m.metrics != nil {
				m.metrics.CleanupFailed()
			}
		}
		cancel()
	}
}

// Start pulls the image, creates and starts the container, runs every
// wait strategy, and refreshes its ports. Once the id is known, every
// failure path tears the container down: copy-in, start and log-stream
// failures hand it to the rescue executor, later failures run the
// teardown inline on a detached context, so a cancelled caller still
// gets teardown.
func (m *Manager) Start(ctx context.Context, spec StartSpec) (*Container, error) {
	ref := imageRef(spec.Create.Repository, spec.Create.Tag)

	if err := m.client.Pull(ctx, ref, nil); err != nil {
		m.failed()
		return nil, fmt.Errorf("lifecycle: pull %s: %w", ref, err)
	}

	id, err := m.client.Create(ctx, spec.Create)
	if err != nil {
		m.failed()
		return nil, fmt.Errorf("lifecycle: create: %w", err)
	}

	// From here on every failure path must tear the container down.
	// queueRescue hands the id to the rescue executor, which runs on its
	// own background context, so the removal still happens if ctx has
	// been cancelled.
	queueRescue := func() { m.rescue <- rescueJob{id: id, client: m.client} }

	for _, cp := range spec.CopyIn {
		if err := m.client.CopyIn(ctx, id, cp.Dst, cp.Tar); err != nil {
			queueRescue()
			m.failed()
			return nil, fmt.Errorf("lifecycle: copy-in %s: %w", cp.Dst, err)
		}
	}

	if err := m.client.Start(ctx, id); err != nil {
		queueRescue()
		m.failed()
		return nil, fmt.Errorf("lifecycle: start: %w", err)
	}

	plexer := logplex.New(m.client, id, 0)
	if err := plexer.Start(ctx); err != nil {
		queueRescue()
		m.failed()
		return nil, fmt.Errorf("lifecycle: open log stream: %w", err)
	}

	container := &Container{
		manager: m,
		client:  m.client,
		id:      id,
		hostIP:  spec.HostIP,
		Plexer:  plexer,
	}

	target := wait.Target{Client: m.client, ID: id, Plexer: plexer, HostIP: spec.HostIP}
	if err := m.runWaitStrategies(ctx, target, spec.Waits); err != nil {
		cleanupErr := teardown(detach(ctx), m.client, id)
		m.failed()
		return nil, m.abort(err, cleanupErr)
	}

	if err := container.RefreshPorts(ctx); err != nil {
		cleanupErr := teardown(detach(ctx), m.client, id)
		m.failed()
		return nil, m.abort(fmt.Errorf("lifecycle: refresh ports: %w", err), cleanupErr)
	}

	for _, exec := range spec.AfterReady {
		if err := runToCompletion(ctx, m.client, id, exec); err != nil {
			cleanupErr := teardown(detach(ctx), m.client, id)
			m.failed()
			return nil, m.abort(err, cleanupErr)
		}
	}

	m.mu.Lock()
	m.containers[id] = container
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ContainerStarted()
	}
	return container, nil
}

func (m *Manager) failed() {
	if m.metrics != nil {
		m.metrics.ContainerStartFailed()
	}
}

// abort wraps a start failure with any cleanup warning without masking
// the original cause: cleanup errors are attached as context, not
// substituted.
func (m *Manager) abort(cause, cleanupErr error) error {
	if cleanupErr == nil {
		return cause
	}
	return &StartFailure{Cause: cause, CleanupWarn: cleanupErr}
}

// forget drops a container from the manager's table once its handle has
// performed its own cleanup, so the table doesn't grow unbounded across
// a long test run.
func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.containers, id)
	m.mu.Unlock()
}

func (m *Manager) runWaitStrategies(ctx context.Context, target wait.Target, strategies []wait.Strategy) error {
	for _, s := range strategies {
		timeout := s.Timeout()
		if timeout <= 0 {
			timeout = wait.DefaultTimeout
		}
		start := time.Now()
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		err := s.WaitUntilReady(waitCtx, target)
		ctxErr := waitCtx.Err()
		cancel()

		if m.metrics != nil {
			m.metrics.WaitStrategyObserved(fmt.Sprintf("%T", s), time.Since(start), err)
		}

		if err == nil {
			continue
		}
		var werr *wait.Error
		if !errors.As(err, &werr) && ctxErr != nil {
			return &wait.Error{Kind: wait.KindExceeded, Err: ctxErr}
		}
		return err
	}
	return nil
}

// runToCompletion runs an exec-after-ready hook and requires a zero
// exit code.
func runToCompletion(ctx context.Context, client daemon.Client, id string, spec daemon.ExecSpec) error {
	result, err := client.Exec(ctx, id, spec)
	if err != nil {
		return fmt.Errorf("lifecycle: exec-after-ready: %w", err)
	}
	code, err := result.Wait(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: exec-after-ready: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("lifecycle: exec-after-ready exited %d", code)
	}
	return nil
}

// teardown performs the best-effort stop+remove, aggregating both
// failures via go-multierror rather than reporting only the first.
func teardown(ctx context.Context, client daemon.Client, id string) error {
	var result *multierror.Error
	if err := client.Stop(ctx, id, stopTimeout); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop: %w", err))
	}
	if err := client.Remove(ctx, id, true, true); err != nil {
		result = multierror.Append(result, fmt.Errorf("remove: %w", err))
	}
	return result.ErrorOrNil()
}

// detach returns a context carrying no deadline/cancellation from ctx,
// for cleanup calls that must run to completion even when the caller
// that failed has already been cancelled.
func detach(ctx context.Context) context.Context {
	return context.Background()
}

func imageRef(repository, tag string) string {
	if tag == "" {
		return repository
	}
	return repository + ":" + tag
}

// StartFailure wraps a Start failure together with a warning from the
// cleanup that followed it.
type StartFailure struct {
	Cause       error
	CleanupWarn error
}

func (e *StartFailure) Error() string {
	return fmt.Sprintf("%v (cleanup warning: %v)", e.Cause, e.CleanupWarn)
}

func (e *StartFailure) Unwrap() error { return e.Cause }
