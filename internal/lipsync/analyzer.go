// Package lipsync turns the output signal into a smoothed volume and maps it
// to discrete mouth shapes for avatar rendering.
package lipsync

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultFFTSize = 256
	// DefaultRelease is the fraction of the gap to the new sample closed per
	// frame while the signal falls.
	DefaultRelease = 0.2
	// DefaultFloor is the level under which a falling volume snaps to zero.
	DefaultFloor = 0.02

	minDecibels = -100.0
	maxDecibels = -30.0
)

// Sampler yields the current smoothed volume. Implementations are polled once
// per animation frame.
type Sampler interface {
	SampleVolume() float64
}

// SignalTap is the read side of an output analysis tap.
type SignalTap interface {
	Latest(dst []float32) int
}

// Smoother applies fast-attack / slow-release filtering.
type Smoother struct {
	Release float64
	Floor   float64
	value   float64
}

func NewSmoother(release, floor float64) *Smoother {
	if release <= 0 || release > 1 {
		release = DefaultRelease
	}
	if floor < 0 {
		floor = DefaultFloor
	}
	return &Smoother{Release: release, Floor: floor}
}

// Next folds a new instantaneous sample into the smoothed value.
func (s *Smoother) Next(sample float64) float64 {
	if math.IsNaN(sample) || sample < 0 {
		sample = 0
	}
	if sample > s.value {
		s.value = sample
		return s.value
	}
	s.value += (sample - s.value) * s.Release
	if s.value < s.Floor && sample < s.Floor {
		s.value = 0
	}
	return s.value
}

func (s *Smoother) Value() float64 { return s.value }

func (s *Smoother) Reset() { s.value = 0 }

// Analyzer reads frequency-domain energy from a tap and smooths it.
type Analyzer struct {
	mu       sync.Mutex
	tap      SignalTap
	fft      *fourier.FFT
	window   []float64
	raw      []float32
	seq      []float64
	coeff    []complex128
	smoother *Smoother
}

func NewAnalyzer(tap SignalTap, fftSize int, smoother *Smoother) *Analyzer {
	if fftSize <= 0 {
		fftSize = DefaultFFTSize
	}
	if smoother == nil {
		smoother = NewSmoother(DefaultRelease, DefaultFloor)
	}
	window := make([]float64, fftSize)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(fftSize)))
	}
	return &Analyzer{
		tap:      tap,
		fft:      fourier.NewFFT(fftSize),
		window:   window,
		raw:      make([]float32, fftSize),
		seq:      make([]float64, fftSize),
		smoother: smoother,
	}
}

// SampleVolume implements Sampler.
func (a *Analyzer) SampleVolume() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.smoother.Next(a.instantaneousLocked())
}

// Instantaneous returns the unsmoothed level of the current tap contents.
func (a *Analyzer) Instantaneous() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.instantaneousLocked()
}

func (a *Analyzer) Reset() {
	a.mu.Lock()
	a.smoother.Reset()
	a.mu.Unlock()
}

func (a *Analyzer) instantaneousLocked() float64 {
	if a.tap == nil {
		return 0
	}
	if a.tap.Latest(a.raw) == 0 {
		return 0
	}
	for i, v := range a.raw {
		a.seq[i] = float64(v) * a.window[i]
	}
	a.coeff = a.fft.Coefficients(a.coeff, a.seq)
	return LevelFromBins(a.coeff, len(a.seq))
}

// LevelFromBins converts FFT coefficients into the mean byte-scaled bin energy
// divided by 128, so a loud voice lands around 1.
func LevelFromBins(coeff []complex128, fftSize int) float64 {
	// Drop the Nyquist bin to match an analyser's fftSize/2 bins.
	bins := len(coeff)
	if bins > fftSize/2 {
		bins = fftSize / 2
	}
	if bins <= 0 {
		return 0
	}
	var sum float64
	for i := 0; i < bins; i++ {
		mag := cmplxAbs(coeff[i]) / float64(fftSize)
		sum += byteScale(mag)
	}
	return sum / float64(bins) / 128.0
}

func byteScale(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
