package lifecycle

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sidedock/tcgo/internal/daemon"
)

// Reaper session labels. Every container a Manager starts on behalf of
// a session is labeled with these so the reaper can identify and remove
// them if the controlling process dies abnormally.
const (
	LabelEnabled   = "org.testcontainers"
	LabelSessionID = "org.testcontainers.session-id"
	LabelLang      = "org.testcontainers.lang"
)

// defaultReaperImage is the "ryuk" sidecar the reaper protocol targets.
const defaultReaperImage = "testcontainers/ryuk:0.8.1"

const reaperAckTimeout = 10 * time.Second

// Reaper holds the socket connection to a "ryuk"-style sidecar container
// for the lifetime of the process: one companion container per process,
// registered with a plain-text label-filter protocol, that removes
// every container carrying the session's labels once this process's
// connection closes.
type Reaper struct {
	conn net.Conn
}

// StartReaper creates and starts the reaper sidecar, connects to its
// published port, and performs the ACK handshake. Disabled by
// TESTCONTAINERS_RYUK_DISABLED=true, in which case it returns (nil, nil)
// and Manager runs with drop-only cleanup.
func StartReaper(ctx context.Context, client daemon.Client, sessionID string) (*Reaper, error) {
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "true" {
		log.Info().Msg("reaper disabled via TESTCONTAINERS_RYUK_DISABLED")
		return nil, nil
	}

	image := os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_IMAGE")
	if image == "" {
		image = defaultReaperImage
	}
	repository, tag := splitRef(image)

	spec := daemon.CreateSpec{
		Repository: repository,
		Tag:        tag,
		Ports:      []daemon.PortBinding{{InternalPort: 8080, Protocol: "tcp"}},
		Mounts: []daemon.Mount{
			{Type: "bind", Source: "/var/run/docker.sock", Target: "/var/run/docker.sock"},
		},
	}

	if err := client.Pull(ctx, image, nil); err != nil {
		return nil, fmt.Errorf("lifecycle: reaper pull: %w", err)
	}
	id, err := client.Create(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: reaper create: %w", err)
	}
	if err := client.Start(ctx, id); err != nil {
		return nil, fmt.Errorf("lifecycle: reaper start: %w", err)
	}

	hostPort, err := waitReaperPort(ctx, client, id)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", hostPort), reaperAckTimeout)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: reaper dial: %w", err)
	}

	r := &Reaper{conn: conn}
	filter := fmt.Sprintf("label=%s=%s", LabelSessionID, sessionID)
	if err := r.send(filter); err != nil {
		conn.Close()
		return nil, err
	}
	if err := r.awaitACK(); err != nil {
		conn.Close()
		return nil, err
	}

	return r, nil
}

// Register adds an additional label filter to the open reaper
// connection; not required for containers already labeled at create
// time (which the reaper discovers via its own daemon socket), but
// available for filters outside the session-id label.
func (r *Reaper) Register(filter string) error {
	return r.send(filter)
}

func (r *Reaper) send(line string) error {
	_, err := fmt.Fprintf(r.conn, "%s\n", line)
	return err
}

func (r *Reaper) awaitACK() error {
	r.conn.SetReadDeadline(time.Now().Add(reaperAckTimeout))
	defer r.conn.SetReadDeadline(time.Time{})

	scanner := bufio.NewScanner(r.conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("lifecycle: reaper handshake: %w", err)
		}
		return fmt.Errorf("lifecycle: reaper handshake: connection closed before ACK")
	}
	if scanner.Text() != "ACK" {
		return fmt.Errorf("lifecycle: reaper handshake: unexpected response %q", scanner.Text())
	}
	return nil
}

// Close closes the held connection; no other shutdown message is sent.
// The reaper sidecar observes the close and sweeps every container
// carrying this session's labels.
func (r *Reaper) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func waitReaperPort(ctx context.Context, client daemon.Client, id string) (string, error) {
	deadline := time.Now().Add(15 * time.Second)
	for {
		insp, err := client.Inspect(ctx, id)
		if err != nil {
			return "", fmt.Errorf("lifecycle: reaper inspect: %w", err)
		}
		if p, ok := insp.Network.Ports["8080/tcp"]; ok && p != "" {
			return p, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("lifecycle: reaper never published its port")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func splitRef(ref string) (repository, tag string) {
	for i := len(ref) - 1; i >= 0; i-- {
		switch ref[i] {
		case ':':
			return ref[:i], ref[i+1:]
		case '/':
			return ref, "latest"
		}
	}
	return ref, "latest"
}
