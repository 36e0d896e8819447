package playback

import (
	"math"
	"sync"
	"time"

	"github.com/antoniostano/salut/internal/audio"
)

// Mixer is a software output context. Its clock advances only as frames are
// rendered, so scheduled start times are sample accurate regardless of which
// device (or ticker) pulls audio out of it.
type Mixer struct {
	mu         sync.Mutex
	sampleRate int
	frames     int64
	sources    []*mixSource
	gain       float32
	comp       compressor
	tap        *Tap
	closed     bool
}

type MixerConfig struct {
	SampleRate int
	Gain       float64
	// TapSize is the number of most recent output samples kept for analysis.
	TapSize int
}

func NewMixer(cfg MixerConfig) *Mixer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.OutputSampleRate
	}
	if cfg.Gain <= 0 {
		cfg.Gain = 1
	}
	if cfg.TapSize <= 0 {
		cfg.TapSize = 2048
	}
	return &Mixer{
		sampleRate: cfg.SampleRate,
		gain:       float32(cfg.Gain),
		comp:       compressor{threshold: 0.5, ratio: 4},
		tap:        NewTap(cfg.TapSize),
	}
}

func (m *Mixer) SampleRate() int { return m.sampleRate }

// Tap exposes the post-gain, post-compression signal.
func (m *Mixer) Tap() *Tap { return m.tap }

func (m *Mixer) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return framesToDuration(m.frames, m.sampleRate)
}

func (m *Mixer) NewSource(buf audio.Buffer, onEnded func()) Source {
	return &mixSource{mixer: m, samples: buf.Samples, onEnded: onEnded}
}

// Render fills out with the next len(out) frames and advances the clock.
func (m *Mixer) Render(out []float32) {
	var ended []func()

	m.mu.Lock()
	for i := range out {
		out[i] = 0
	}
	n := int64(len(out))
	if !m.closed {
		kept := m.sources[:0]
		for _, src := range m.sources {
			offset := src.startFrame - m.frames
			if offset >= n {
				kept = append(kept, src)
				continue
			}
			begin := int64(0)
			if offset > 0 {
				begin = offset
			}
			for i := begin; i < n && src.pos < len(src.samples); i++ {
				out[i] += src.samples[src.pos]
				src.pos++
			}
			if src.pos >= len(src.samples) {
				src.ended = true
				if src.onEnded != nil {
					ended = append(ended, src.onEnded)
				}
				continue
			}
			kept = append(kept, src)
		}
		for i := len(kept); i < len(m.sources); i++ {
			m.sources[i] = nil
		}
		m.sources = kept

		for i := range out {
			out[i] = m.comp.apply(out[i] * m.gain)
		}
	}
	m.frames += n
	m.mu.Unlock()

	m.tap.Write(out)
	for _, fn := range ended {
		fn()
	}
}

// Close stops every source. Rendering after Close only advances the clock.
func (m *Mixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var ended []func()
	for _, src := range m.sources {
		src.ended = true
		if src.onEnded != nil {
			ended = append(ended, src.onEnded)
		}
	}
	m.sources = nil
	m.mu.Unlock()

	m.tap.Reset()
	for _, fn := range ended {
		fn()
	}
	return nil
}

// Pending reports how many sources are scheduled or playing.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

type mixSource struct {
	mixer      *Mixer
	samples    []float32
	startFrame int64
	pos        int
	started    bool
	ended      bool
	onEnded    func()
}

func (s *mixSource) Start(at time.Duration) {
	m := s.mixer
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.started || s.ended || m.closed {
		return
	}
	s.started = true
	s.startFrame = durationToFrames(at, m.sampleRate)
	m.sources = append(m.sources, s)
}

func (s *mixSource) Stop() {
	m := s.mixer
	m.mu.Lock()
	if s.ended {
		m.mu.Unlock()
		return
	}
	s.ended = true
	for i, src := range m.sources {
		if src == s {
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			break
		}
	}
	fn := s.onEnded
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// compressor is a hard-knee limiter above threshold followed by a clip.
type compressor struct {
	threshold float32
	ratio     float32
}

func (c compressor) apply(x float32) float32 {
	a := float32(math.Abs(float64(x)))
	if c.ratio > 1 && a > c.threshold {
		a = c.threshold + (a-c.threshold)/c.ratio
	}
	if a > 1 {
		a = 1
	}
	if x < 0 {
		return -a
	}
	return a
}

func framesToDuration(frames int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

func durationToFrames(d time.Duration, rate int) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Round(d.Seconds() * float64(rate)))
}
