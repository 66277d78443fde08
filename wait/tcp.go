package wait

import (
	"context"
	"fmt"
	"net"
	"time"
)

const probeRetryInterval = 100 * time.Millisecond

// ForTCP returns a Strategy that is ready on the first successful TCP
// handshake against the host port mapped from internalPort. The host
// port is resolved via Inspect at probe time, since the lifecycle
// manager only refreshes ports after all strategies resolve.
func ForTCP(internalPort int) Strategy {
	return &tcpProbe{internalPort: internalPort}
}

type tcpProbe struct {
	baseTimeout
	internalPort int
}

func (p *tcpProbe) WaitUntilReady(ctx context.Context, target Target) error {
	ticker := time.NewTicker(probeRetryInterval)
	defer ticker.Stop()

	for {
		hostPort, err := resolveHostPort(ctx, target, p.internalPort)
		if err == nil {
			addr := net.JoinHostPort(hostIP(target), hostPort)
			conn, dialErr := (&net.Dialer{Timeout: probeRetryInterval}).DialContext(ctx, "tcp", addr)
			if dialErr == nil {
				conn.Close()
				return nil
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return &Error{Kind: KindExceeded, Err: ctx.Err(), Message: fmt.Sprintf("tcp probe on port %d never succeeded", p.internalPort)}
		}
	}
}

func hostIP(target Target) string {
	if target.HostIP != "" {
		return target.HostIP
	}
	return "127.0.0.1"
}

func resolveHostPort(ctx context.Context, target Target, internalPort int) (string, error) {
	inspection, err := target.Client.Inspect(ctx, target.ID)
	if err != nil {
		return "", err
	}
	for key, hostPort := range inspection.Network.Ports {
		if portMatchesKey(key, internalPort) && hostPort != "" {
			return hostPort, nil
		}
	}
	return "", fmt.Errorf("wait: port %d not yet mapped", internalPort)
}

func portMatchesKey(key string, internalPort int) bool {
	return key == fmt.Sprintf("%d/tcp", internalPort) || key == fmt.Sprintf("%d/udp", internalPort)
}
