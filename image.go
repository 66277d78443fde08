package tcgo

import "github.com/sidedock/tcgo/wait"

// Image is the declarative, immutable descriptor of a container a test
// wants to run. All accessors are pure; the engine may call them
// multiple times, and ReadyConditions must return its strategies in the
// order they should be evaluated.
type Image interface {
	Name() string
	Tag() string
	EnvVars() map[string]string
	Mounts() []Mount
	Cmd() []string
	Entrypoint() []string
	ExposePorts() []int
	ReadyConditions() []wait.Strategy
	ExecAfterReady() []Executable
}

// Mount mirrors daemon.Mount at the public API boundary so callers never
// need to import the internal package.
type Mount struct {
	Type     string // "bind", "tmpfs", "volume"
	Source   string
	Target   string
	ReadOnly bool
}

// Executable is a command run once a container has satisfied every
// ready condition: an optional per-image follow-up hook.
type Executable struct {
	Cmd []string
	Env map[string]string
}

// GenericImage is the one concrete Image implementation tcgo ships: a
// builder-style record. An image catalogue (Postgres, Redis, Kafka, ...)
// is left to callers to build on top of it.
type GenericImage struct {
	repository string
	tag        string
	env        map[string]string
	mounts     []Mount
	cmd        []string
	entrypoint []string
	ports      []int
	ready      []wait.Strategy
	afterReady []Executable
}

// NewImage constructs a GenericImage for repository:tag.
func NewImage(repository, tag string) *GenericImage {
	return &GenericImage{
		repository: repository,
		tag:        tag,
		env:        map[string]string{},
	}
}

func (g *GenericImage) Name() string { return g.repository }
func (g *GenericImage) Tag() string  { return g.tag }

func (g *GenericImage) EnvVars() map[string]string { return g.env }
func (g *GenericImage) Mounts() []Mount             { return g.mounts }
func (g *GenericImage) Cmd() []string                { return g.cmd }
func (g *GenericImage) Entrypoint() []string          { return g.entrypoint }
func (g *GenericImage) ExposePorts() []int            { return g.ports }
func (g *GenericImage) ReadyConditions() []wait.Strategy { return g.ready }
func (g *GenericImage) ExecAfterReady() []Executable     { return g.afterReady }

// WithEnv sets env vars. g.env is a plain map, so the order env vars
// were added in is not preserved; Merge falls back to lexical key order
// for a deterministic result instead.
func (g *GenericImage) WithEnv(env map[string]string) *GenericImage {
	for k, v := range env {
		g.env[k] = v
	}
	return g
}

func (g *GenericImage) WithMounts(mounts ...Mount) *GenericImage {
	g.mounts = append(g.mounts, mounts...)
	return g
}

func (g *GenericImage) WithCmd(cmd ...string) *GenericImage {
	g.cmd = cmd
	return g
}

func (g *GenericImage) WithEntrypoint(entrypoint ...string) *GenericImage {
	g.entrypoint = entrypoint
	return g
}

func (g *GenericImage) WithExposedPorts(ports ...int) *GenericImage {
	g.ports = append(g.ports, ports...)
	return g
}

func (g *GenericImage) WithReadyConditions(strategies ...wait.Strategy) *GenericImage {
	g.ready = append(g.ready, strategies...)
	return g
}

func (g *GenericImage) WithExecAfterReady(execs ...Executable) *GenericImage {
	g.afterReady = append(g.afterReady, execs...)
	return g
}
