package wait_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidedock/tcgo/internal/daemon"
	"github.com/sidedock/tcgo/internal/logplex"
	"github.com/sidedock/tcgo/wait"
)

func newTarget(t *testing.T, client *fakeClient) wait.Target {
	t.Helper()
	plexer := logplex.New(client, "fake-id", 0)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, plexer.Start(ctx))
	return wait.Target{Client: client, ID: "fake-id", Plexer: plexer, HostIP: "127.0.0.1"}
}

func TestForLog_MatchesNthOccurrence(t *testing.T) {
	client := newFakeClient()
	target := newTarget(t, client)
	strategy := wait.ForLog(wait.Stderr, "ready to accept connections", 2)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- strategy.WaitUntilReady(ctx, target)
	}()

	client.writeLine(daemon.Stderr, "starting up")
	client.writeLine(daemon.Stderr, "database system is ready to accept connections")
	select {
	case err := <-done:
		t.Fatalf("resolved early after first occurrence: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	client.writeLine(daemon.Stderr, "database system is ready to accept connections")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second occurrence match")
	}
}

func TestForLog_StreamEndedBeforeMatch(t *testing.T) {
	client := newFakeClient()
	target := newTarget(t, client)
	strategy := wait.ForLog(wait.Stdout, "NEVER_PRINTED", 1)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- strategy.WaitUntilReady(ctx, target)
	}()

	client.writeLine(daemon.Stdout, "unrelated line")
	client.closeStream()

	select {
	case err := <-done:
		var werr *wait.Error
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, wait.KindStreamEnded, werr.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream-ended error")
	}
}

func TestForLog_IgnoresOtherStream(t *testing.T) {
	client := newFakeClient()
	target := newTarget(t, client)
	strategy := wait.ForLog(wait.Stdout, "hello", 1)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		done <- strategy.WaitUntilReady(ctx, target)
	}()

	client.writeLine(daemon.Stderr, "hello")

	err := <-done
	require.Error(t, err)
	var werr *wait.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wait.KindExceeded, werr.Kind)
}
