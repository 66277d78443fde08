package api

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/docker/docker/api/types"

	"github.com/sidedock/tcgo/internal/daemon"
)

// Logs opens a single log stream and demultiplexes it frame-by-frame into
// LogFrame values. Docker's multiplexed wire format is an 8-byte header
// ([0]=stream type, [4:8]=big-endian payload length) followed by the
// payload; pkg/stdcopy exists for io.Writer-based demux but the engine
// needs a channel of discrete frames (so the plexer can fan each one out
// to N subscribers without buffering the whole stream), so the header is
// parsed directly here instead.
func (c *Client) Logs(ctx context.Context, id string, opts daemon.LogOptions) (<-chan daemon.LogFrame, <-chan error) {
	frames := make(chan daemon.LogFrame, 64)
	errCh := make(chan error, 1)

	since := ""
	if !opts.Since.IsZero() {
		since = opts.Since.Format("2006-01-02T15:04:05.000000000Z")
	}

	reader, err := c.sdk.ContainerLogs(ctx, id, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Since:      since,
		Follow:     opts.Follow,
		Timestamps: false,
	})
	if err != nil {
		close(frames)
		errCh <- err
		close(errCh)
		return frames, errCh
	}

	go func() {
		defer close(frames)
		defer close(errCh)
		defer reader.Close()

		header := make([]byte, 8)
		for {
			if _, err := io.ReadFull(reader, header); err != nil {
				if err != io.EOF && err != io.ErrUnexpectedEOF {
					errCh <- err
				}
				return
			}

			streamType := header[0]
			size := binary.BigEndian.Uint32(header[4:8])
			payload := make([]byte, size)
			if _, err := io.ReadFull(reader, payload); err != nil {
				errCh <- err
				return
			}

			stream := daemon.Stdout
			if streamType == 2 {
				stream = daemon.Stderr
			}

			select {
			case frames <- daemon.LogFrame{Stream: stream, Bytes: payload, LineHint: true}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return frames, errCh
}
