package tcgo

import (
	"io"
	"sort"

	"github.com/samber/lo"

	"github.com/sidedock/tcgo/internal/daemon"
	"github.com/sidedock/tcgo/wait"
)

// ContainerRequest is the mutable per-instance overlay on an Image:
// explicit port bindings, extra env/mounts, network placement, and
// additional wait strategies appended after the image's own.
type ContainerRequest struct {
	Image Image

	// Ports maps internal port -> requested host port. An empty string
	// value means "ephemeral" (let the daemon assign one). Only ports
	// present here are published; an image's ExposePorts() is advisory
	// only.
	Ports map[int]string

	Env        map[string]string
	Mounts     []Mount
	Cmd        []string
	Network    string
	NetworkAlias string
	Name       string
	CgroupNSMode string
	ExtraHosts []string
	Labels     map[string]string
	Wait       []wait.Strategy

	// CopyIn injects files into the created-but-not-started container.
	CopyIn []FileCopy
}

// FileCopy is a single pre-start file injection: Tar must be a tar
// stream, matching DaemonClient's CopyIn contract.
type FileCopy struct {
	Dst string
	Tar io.Reader
}

// Merge combines an Image and a ContainerRequest into the daemon-agnostic
// CreateSpec the lifecycle manager consumes. Merge is pure: it never
// mutates r.Image, and two calls with structurally equal inputs produce
// byte-equal specs.
func (r ContainerRequest) Merge() daemon.CreateSpec {
	env, envKeys := mergeEnv(r.Image.EnvVars(), r.Env)

	mounts := make([]daemon.Mount, 0, len(r.Image.Mounts())+len(r.Mounts))
	for _, m := range r.Image.Mounts() {
		mounts = append(mounts, toDaemonMount(m))
	}
	for _, m := range r.Mounts {
		mounts = append(mounts, toDaemonMount(m))
	}

	cmd := r.Cmd
	if len(cmd) == 0 {
		cmd = r.Image.Cmd()
	}

	var ports []daemon.PortBinding
	// Ports iterate by sorted internal port number, not map order, so
	// repeated merges of the same request are byte-for-byte identical.
	for _, internal := range sortedIntKeys(r.Ports) {
		hostPort := r.Ports[internal]
		if hostPort == "ephemeral" {
			hostPort = ""
		}
		ports = append(ports, daemon.PortBinding{InternalPort: internal, Protocol: "tcp", HostPort: hostPort})
	}

	labels := map[string]string{}
	for k, v := range r.Labels {
		labels[k] = v
	}
	// Session labels always win: a caller-supplied label with the same
	// key must never defeat reaper discovery.
	for k, v := range sessionLabels() {
		labels[k] = v
	}

	return daemon.CreateSpec{
		Repository:   r.Image.Name(),
		Tag:          r.Image.Tag(),
		Name:         r.Name,
		Env:          env,
		EnvKeys:      envKeys,
		Mounts:       mounts,
		Cmd:          cmd,
		Entrypoint:   r.Image.Entrypoint(),
		Ports:        ports,
		NetworkName:  r.Network,
		NetworkAlias: r.NetworkAlias,
		CgroupNSMode: r.CgroupNSMode,
		ExtraHosts:   append([]string(nil), r.ExtraHosts...),
		Labels:       labels,
	}
}

// waitStrategies returns the image's ready conditions followed by the
// request's own.
func (r ContainerRequest) waitStrategies() []wait.Strategy {
	out := make([]wait.Strategy, 0, len(r.Image.ReadyConditions())+len(r.Wait))
	out = append(out, r.Image.ReadyConditions()...)
	out = append(out, r.Wait...)
	return out
}

// mergeEnv implements the env merge rule: union with request overriding
// on key collision. Go maps have no insertion order, so EnvKeys can't
// reflect one; it lists the image's keys in lexical order followed by
// request-only keys in lexical order, via lo.Keys + sort, so repeated
// merges of the same inputs are byte-for-byte identical.
func mergeEnv(imageEnv, requestEnv map[string]string) (map[string]string, []string) {
	merged := map[string]string{}
	for k, v := range imageEnv {
		merged[k] = v
	}
	for k, v := range requestEnv {
		merged[k] = v
	}

	imageKeys := sortedStringKeys(imageEnv)
	seen := map[string]bool{}
	order := make([]string, 0, len(merged))
	for _, k := range imageKeys {
		order = append(order, k)
		seen[k] = true
	}
	for _, k := range sortedStringKeys(requestEnv) {
		if !seen[k] {
			order = append(order, k)
			seen[k] = true
		}
	}
	order = lo.Uniq(order)

	return merged, order
}

func sortedStringKeys(m map[string]string) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

func sortedIntKeys(m map[int]string) []int {
	keys := lo.Keys(m)
	sort.Ints(keys)
	return keys
}

func toDaemonMount(m Mount) daemon.Mount {
	return daemon.Mount{Type: m.Type, Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly}
}
