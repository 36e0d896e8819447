package lipsync

import (
	"math"
	"math/rand"
	"testing"
)

func TestSmootherFastAttackSlowRelease(t *testing.T) {
	s := NewSmoother(DefaultRelease, DefaultFloor)
	if got := s.Next(0); got != 0 {
		t.Fatalf("idle Next(0) = %v, want 0", got)
	}
	if got := s.Next(1.0); got < 0.99 {
		t.Fatalf("attack Next(1) = %v, want >= 0.99", got)
	}

	frames := 0
	for s.Next(0) >= 0.1 {
		frames++
		if frames > 1000 {
			t.Fatalf("release never fell below 0.1")
		}
	}
	if frames < 2 {
		t.Fatalf("release fell below 0.1 after %d frames, want several", frames)
	}

	for i := 0; i < 100 && s.Value() != 0; i++ {
		s.Next(0)
	}
	if s.Value() != 0 {
		t.Fatalf("idle value = %v, want exactly 0", s.Value())
	}
}

func TestSmootherIgnoresInvalidSamples(t *testing.T) {
	s := NewSmoother(0.5, 0.01)
	s.Next(0.4)
	if got := s.Next(math.NaN()); got != 0.2 {
		t.Fatalf("Next(NaN) = %v, want 0.2", got)
	}
}

func TestMapperTotalAndMonotonic(t *testing.T) {
	m, err := NewMapper(nil)
	if err != nil {
		t.Fatalf("NewMapper() error = %v", err)
	}
	rng := rand.New(rand.NewSource(42))
	values := make([]float64, 1000)
	for i := range values {
		values[i] = rng.Float64() * 2.0
	}
	for _, a := range values {
		va := m.Map(a)
		if va < VisemeClosed || va > VisemeOpen {
			t.Fatalf("Map(%v) = %d, outside defined states", a, va)
		}
		for _, b := range values[:50] {
			vb := m.Map(b)
			if a > b && va < vb {
				t.Fatalf("Map(%v)=%s is more closed than Map(%v)=%s", a, va, b, vb)
			}
		}
	}
	if m.Map(0) != VisemeClosed {
		t.Fatalf("Map(0) = %s, want closed", m.Map(0))
	}
	if m.Map(100) != VisemeOpen {
		t.Fatalf("Map(100) = %s, want open", m.Map(100))
	}
	if m.Map(math.NaN()) != VisemeClosed {
		t.Fatalf("Map(NaN) = %s, want closed", m.Map(math.NaN()))
	}
}

func TestNewMapperRejectsBadThresholds(t *testing.T) {
	if _, err := NewMapper([]float64{0.1, 0.1, 0.2, 0.3, 0.4}); err == nil {
		t.Fatalf("NewMapper(non-ascending) error = nil")
	}
	if _, err := NewMapper([]float64{0.1, 0.2}); err == nil {
		t.Fatalf("NewMapper(short) error = nil")
	}
	th, err := ParseThresholds("0.1, 0.2,0.3,0.4,0.9")
	if err != nil {
		t.Fatalf("ParseThresholds() error = %v", err)
	}
	if _, err := NewMapper(th); err != nil {
		t.Fatalf("NewMapper(parsed) error = %v", err)
	}
	if _, err := ParseThresholds("a,b"); err == nil {
		t.Fatalf("ParseThresholds(invalid) error = nil")
	}
	for _, raw := range []string{"nan,0.1,0.2,0.3,0.4", "0.1,0.2,0.3,0.4,inf"} {
		if _, err := ParseThresholds(raw); err == nil {
			t.Fatalf("ParseThresholds(%q) error = nil", raw)
		}
	}
	if _, err := NewMapper([]float64{math.NaN(), 0.1, 0.2, 0.3, 0.4}); err == nil {
		t.Fatalf("NewMapper(NaN) error = nil")
	}
	if _, err := NewMapper([]float64{0.1, 0.2, 0.3, 0.4, math.Inf(1)}); err == nil {
		t.Fatalf("NewMapper(+Inf) error = nil")
	}
}

type sliceTap struct{ samples []float32 }

func (s *sliceTap) Latest(dst []float32) int {
	for i := range dst {
		dst[i] = 0
	}
	n := copy(dst[len(dst)-min(len(dst), len(s.samples)):], s.samples)
	return n
}

func TestAnalyzerSilenceAndTone(t *testing.T) {
	tap := &sliceTap{}
	a := NewAnalyzer(tap, DefaultFFTSize, nil)
	if got := a.SampleVolume(); got != 0 {
		t.Fatalf("SampleVolume() with empty tap = %v, want 0", got)
	}

	tap.samples = make([]float32, DefaultFFTSize)
	for i := range tap.samples {
		tap.samples[i] = float32(0.8 * math.Sin(2*math.Pi*float64(i)*16/DefaultFFTSize))
	}
	loud := a.SampleVolume()
	if loud <= 0 {
		t.Fatalf("SampleVolume() for tone = %v, want > 0", loud)
	}

	tap.samples = make([]float32, DefaultFFTSize)
	if a.Instantaneous() != 0 {
		t.Fatalf("Instantaneous() for silence = %v, want 0", a.Instantaneous())
	}
	if got := a.SampleVolume(); got >= loud {
		t.Fatalf("SampleVolume() after silence = %v, want decay below %v", got, loud)
	}
}

type stepSampler struct {
	values []float64
	i      int
}

func (s *stepSampler) SampleVolume() float64 {
	v := s.values[s.i]
	if s.i < len(s.values)-1 {
		s.i++
	}
	return v
}

func TestAnimatorPublishesOnlyOnChange(t *testing.T) {
	m, _ := NewMapper(nil)
	sampler := &stepSampler{values: []float64{0, 0, 0.9, 0.9, 0.9, 0}}
	a := NewAnimator(sampler, m, 60)
	ch, cancel := a.Subscribe()
	defer cancel()

	for i := 0; i < 6; i++ {
		a.Tick()
	}
	var got []Viseme
	for len(ch) > 0 {
		got = append(got, (<-ch).Viseme)
	}
	if len(got) != 2 || got[0] != VisemeOpen || got[1] != VisemeClosed {
		t.Fatalf("published = %v, want [open closed]", got)
	}
	if a.Current().Viseme != VisemeClosed {
		t.Fatalf("Current() = %v, want closed", a.Current())
	}
}
