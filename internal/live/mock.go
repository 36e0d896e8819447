package live

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/salut/internal/audio"
)

// MockConnector is a local stand-in used when no API key is configured. It
// answers every few seconds of captured audio, or any typed text, with a short
// spoken turn and matching transcripts.
type MockConnector struct {
	// ChunksPerTurn is the number of inbound audio chunks that close a user turn.
	ChunksPerTurn int
	Reply         string
	ToneHz        float64
}

func NewMockConnector() *MockConnector {
	return &MockConnector{ChunksPerTurn: 12, Reply: "Bonjour ! Répétez après moi : bonjour.", ToneHz: 220}
}

func (m *MockConnector) Name() string { return "mock" }

func (m *MockConnector) Connect(ctx context.Context, _ string, _ SessionConfig, cb Callbacks) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &mockConn{
		cfg:  *m,
		cb:   cb,
		wake: make(chan struct{}, 1),
	}
	if c.cfg.ChunksPerTurn <= 0 {
		c.cfg.ChunksPerTurn = 12
	}
	c.post(cb.open)
	go c.dispatch()
	return c, nil
}

type mockConn struct {
	cfg MockConnector
	cb  Callbacks

	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	chunks int
	closed bool
}

// dispatch runs queued callbacks in order on one goroutine. The queue is
// unbounded so Close never blocks on a slow consumer.
func (c *mockConn) dispatch() {
	for range c.wake {
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				done := c.closed
				c.mu.Unlock()
				if done {
					return
				}
				break
			}
			fn := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			fn()
		}
	}
}

// post must be called with c.mu held, except before dispatch starts.
func (c *mockConn) post(fn func()) {
	c.queue = append(c.queue, fn)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *mockConn) SendRealtimeInput(_ context.Context, in Input) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	switch {
	case in.Audio != nil:
		c.chunks++
		if c.chunks%c.cfg.ChunksPerTurn != 0 {
			return nil
		}
		c.replyLocked("...")
	case strings.TrimSpace(in.Text) != "":
		c.replyLocked(in.Text)
	}
	return nil
}

func (c *mockConn) replyLocked(heard string) {
	c.post(func() { c.cb.message(Message{InputTranscript: heard}) })
	for _, word := range strings.Fields(c.cfg.Reply) {
		chunk := toneChunk(c.cfg.ToneHz, 120*time.Millisecond)
		frag := word + " "
		c.post(func() { c.cb.message(Message{Audio: []audio.Blob{chunk}, OutputTranscript: frag}) })
	}
	c.post(func() { c.cb.message(Message{TurnComplete: true}) })
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.post(c.cb.closed)
	c.closed = true
	return nil
}

// toneChunk renders a sine burst as an output-rate PCM chunk.
func toneChunk(hz float64, d time.Duration) audio.Blob {
	n := int(d.Seconds() * audio.OutputSampleRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*hz*float64(i)/audio.OutputSampleRate))
	}
	return audio.EncodePCM16(samples, audio.OutputSampleRate)
}
