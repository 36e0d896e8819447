package lipsync

import (
	"context"
	"sync"
	"time"
)

// Frame is one animation tick's output.
type Frame struct {
	Volume float64 `json:"volume"`
	Viseme Viseme  `json:"viseme"`
}

// Animator polls a Sampler on a frame clock and publishes frames whose viseme
// differs from the previous one.
type Animator struct {
	sampler  Sampler
	mapper   *Mapper
	interval time.Duration

	mu      sync.RWMutex
	current Frame
	subs    map[int]chan Frame
	nextSub int
}

func NewAnimator(sampler Sampler, mapper *Mapper, fps int) *Animator {
	if fps <= 0 {
		fps = 60
	}
	return &Animator{
		sampler:  sampler,
		mapper:   mapper,
		interval: time.Second / time.Duration(fps),
		subs:     make(map[int]chan Frame),
	}
}

// Run ticks until ctx is done.
func (a *Animator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick()
		}
	}
}

// Tick samples once. It is exported so callers without a frame clock can drive
// the animator themselves.
func (a *Animator) Tick() Frame {
	vol := a.sampler.SampleVolume()
	f := Frame{Volume: vol, Viseme: a.mapper.Map(vol)}

	a.mu.Lock()
	changed := f.Viseme != a.current.Viseme
	a.current = f
	var targets []chan Frame
	if changed {
		targets = make([]chan Frame, 0, len(a.subs))
		for _, ch := range a.subs {
			targets = append(targets, ch)
		}
	}
	a.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- f:
		default:
		}
	}
	return f
}

func (a *Animator) Current() Frame {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Subscribe returns a channel of viseme changes and a cancel func. Slow
// subscribers miss frames rather than stalling the clock.
func (a *Animator) Subscribe() (<-chan Frame, func()) {
	ch := make(chan Frame, 16)
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
		})
	}
}
