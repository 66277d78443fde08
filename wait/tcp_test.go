package wait_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidedock/tcgo/internal/daemon"
	"github.com/sidedock/tcgo/wait"
)

func TestForTCP_SucceedsOnceListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	client := newFakeClient()
	client.inspections = []daemon.Inspection{{
		Network: daemon.NetworkSettings{Ports: map[string]string{"5432/tcp": port}},
	}}
	target := newTarget(t, client)
	target.HostIP = "127.0.0.1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, wait.ForTCP(5432).WaitUntilReady(ctx, target))
}

func TestForTCP_TimesOutWhenUnbound(t *testing.T) {
	client := newFakeClient()
	client.inspections = []daemon.Inspection{{Network: daemon.NetworkSettings{Ports: map[string]string{}}}}
	target := newTarget(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := wait.ForTCP(5432).WaitUntilReady(ctx, target)
	var werr *wait.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wait.KindExceeded, werr.Kind)
}
