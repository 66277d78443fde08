package wait

import (
	"bytes"
	"context"
	"sync"

	"github.com/sidedock/tcgo/internal/daemon"
)

// ForLog returns a Strategy that completes once the occurrence-th line
// containing substring has been observed on stream.
func ForLog(stream Stream, substring string, occurrence int) Strategy {
	if occurrence <= 0 {
		occurrence = 1
	}
	return &messageOnStream{stream: stream, substring: substring, occurrence: occurrence}
}

type messageOnStream struct {
	baseTimeout
	stream     Stream
	substring  string
	occurrence int
}

func (m *messageOnStream) WaitUntilReady(ctx context.Context, target Target) error {
	var mu sync.Mutex
	seen := 0
	var tail [][]byte
	const tailMax = 50

	matched := make(chan struct{})
	var matchedOnce sync.Once

	var pending []byte

	consumer := func(_ context.Context, frame daemon.LogFrame) error {
		if Stream(frame.Stream) != m.stream {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()

		pending = append(pending, frame.Bytes...)
		for {
			idx := bytes.IndexByte(pending, '\n')
			if idx < 0 {
				break
			}
			line := pending[:idx]
			pending = pending[idx+1:]

			tail = append(tail, append([]byte(nil), line...))
			if len(tail) > tailMax {
				tail = tail[len(tail)-tailMax:]
			}

			if bytes.Contains(line, []byte(m.substring)) {
				seen++
				if seen >= m.occurrence {
					matchedOnce.Do(func() { close(matched) })
				}
			}
		}
		return nil
	}

	unregister := target.Plexer.AddSubscriber(ctx, logConsumerFunc(consumer), true)
	defer unregister()

	select {
	case <-matched:
		return nil
	case <-target.Plexer.Done():
		mu.Lock()
		captured := make([]string, len(tail))
		for i, l := range tail {
			captured[i] = string(l)
		}
		mu.Unlock()
		return &Error{Kind: KindStreamEnded, Message: joinLines(captured)}
	case <-ctx.Done():
		return &Error{Kind: KindExceeded, Err: ctx.Err()}
	}
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// logConsumerFunc adapts a bare function to logplex.Consumer without the
// wait package importing logplex's concrete type name for every call
// site.
type logConsumerFunc func(ctx context.Context, frame daemon.LogFrame) error

func (f logConsumerFunc) Accept(ctx context.Context, frame daemon.LogFrame) error {
	return f(ctx, frame)
}
