package tcgo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sidedock/tcgo/internal/daemon"
	apidaemon "github.com/sidedock/tcgo/internal/daemon/api"
	clidaemon "github.com/sidedock/tcgo/internal/daemon/cli"
	"github.com/sidedock/tcgo/internal/lifecycle"
	"github.com/sidedock/tcgo/internal/metrics"
)

var (
	engineOnce   sync.Once
	engineClient daemon.Client
	engineMgr    *lifecycle.Manager
	engineReaper *lifecycle.Reaper
	engineErr    error
)

// engine lazily constructs the process-wide DaemonClient, LifecycleManager
// singleton, and reaper sidecar: one rescue executor and one companion
// container per process.
func engine(ctx context.Context) (*lifecycle.Manager, error) {
	engineOnce.Do(func() {
		engineClient, engineErr = newDaemonClient()
		if engineErr != nil {
			return
		}
		engineCollector = metrics.New("tcgo", "engine")
		engineMgr = lifecycle.NewManager(engineClient).WithMetrics(engineCollector)

		reaper, err := lifecycle.StartReaper(ctx, engineClient, sessionID)
		if err != nil {
			log.Warn().Err(err).Msg("reaper sidecar unavailable, falling back to drop-only cleanup")
		} else {
			engineReaper = reaper
		}
	})
	return engineMgr, engineErr
}

// EngineMetrics returns the process-wide prometheus.Collector tracking
// engine activity (containers started, wait-strategy latency, cleanup
// failures), once the engine has been initialized by a prior Run or
// Adopt call; callers register it with their own registry. Returns nil
// before first use.
func EngineMetrics() *metrics.Collector {
	return engineCollector
}

var engineCollector *metrics.Collector

func newDaemonClient() (daemon.Client, error) {
	switch os.Getenv("TESTCONTAINERS_DAEMON_BACKEND") {
	case "cli":
		return clidaemon.New(os.Getenv("TESTCONTAINERS_CLI_BINARY")), nil
	default:
		return apidaemon.New()
	}
}

// Run merges req against its Image, starts the container through the
// process-wide LifecycleManager, runs every wait strategy, and returns
// an owning ContainerHandle. Callers must Close the handle when done; a
// finalizer provides a best-effort backstop if they don't, but tests
// must not rely on it.
func Run(ctx context.Context, req ContainerRequest) (*ContainerHandle, error) {
	mgr, err := engine(ctx)
	if err != nil {
		return nil, fmt.Errorf("tcgo: engine unavailable: %w", err)
	}

	spec := req.Merge()
	start := lifecycle.StartSpec{
		Create:     spec,
		Waits:      req.waitStrategies(),
		HostIP:     hostIPOverride(),
		AfterReady: afterReadyExecs(req.Image.ExecAfterReady()),
	}
	for _, cp := range req.CopyIn {
		start.CopyIn = append(start.CopyIn, lifecycle.CopyInFile{Dst: cp.Dst, Tar: cp.Tar})
	}

	container, err := mgr.Start(ctx, start)
	if err != nil {
		return nil, translateStartErr(err)
	}

	handle := &ContainerHandle{container: container}
	runtime.SetFinalizer(handle, finalizeHandle)
	return handle, nil
}

func finalizeHandle(h *ContainerHandle) {
	if h.adopted {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.container.Cleanup(ctx); err != nil {
			log.Warn().Str("container", h.container.ID()).Err(err).
				Msg("handle garbage collected without Close; finalizer cleanup reported an error")
		}
	}()
}

// Adopt constructs a non-owning handle from an externally running
// container id. Its Close is always a no-op.
func Adopt(id string) (*ContainerHandle, error) {
	mgr, err := engine(context.Background())
	if err != nil {
		return nil, fmt.Errorf("tcgo: engine unavailable: %w", err)
	}
	container, err := lifecycle.Adopt(mgr, id)
	if err != nil {
		return nil, err
	}
	return &ContainerHandle{container: container, adopted: true}, nil
}

func afterReadyExecs(execs []Executable) []daemon.ExecSpec {
	out := make([]daemon.ExecSpec, 0, len(execs))
	for _, e := range execs {
		out = append(out, daemon.ExecSpec{Cmd: e.Cmd, Env: e.Env})
	}
	return out
}

func hostIPOverride() string {
	return os.Getenv("TESTCONTAINERS_HOST_OVERRIDE")
}

func translateStartErr(err error) error {
	var sf *lifecycle.StartFailure
	if errors.As(err, &sf) {
		return &StartError{Cause: sf.Cause, CleanupWarn: sf.CleanupWarn}
	}
	return err
}
