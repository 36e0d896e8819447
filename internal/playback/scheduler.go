// Package playback schedules decoded speech buffers for gapless, strictly
// ordered output and renders them through a software output clock.
package playback

import (
	"sync"
	"time"

	"github.com/antoniostano/salut/internal/audio"
)

// DefaultLeadIn is the delay inserted before the first buffer of a stream that
// resumes after the cursor fell behind the output clock.
const DefaultLeadIn = 50 * time.Millisecond

// Source is one scheduled buffer on an output clock.
type Source interface {
	Start(at time.Duration)
	Stop()
}

// Output is the schedulable output clock. NewSource must call onEnded exactly
// once, after the last sample renders or after Stop.
type Output interface {
	Now() time.Duration
	NewSource(buf audio.Buffer, onEnded func()) Source
}

// Scheduled describes where a buffer landed on the output timeline.
type Scheduled struct {
	ID       uint64
	StartAt  time.Duration
	Duration time.Duration
}

type Scheduler struct {
	mu        sync.Mutex
	out       Output
	leadIn    time.Duration
	nextStart time.Duration
	active    map[uint64]Source
	seq       uint64
	onDrained func()
}

func NewScheduler(out Output, leadIn time.Duration) *Scheduler {
	if leadIn < 0 {
		leadIn = 0
	}
	return &Scheduler{
		out:    out,
		leadIn: leadIn,
		active: make(map[uint64]Source),
	}
}

// SetDrainedHook registers fn to run when the last active buffer finishes on
// its own. It is not called for Interrupt or Teardown.
func (s *Scheduler) SetDrainedHook(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrained = fn
}

// Enqueue schedules buf right after everything already queued.
func (s *Scheduler) Enqueue(buf audio.Buffer) Scheduled {
	s.mu.Lock()
	now := s.out.Now()
	startAt := s.nextStart
	if startAt < now {
		startAt = now + s.leadIn
	}
	s.seq++
	id := s.seq
	dur := buf.Duration()
	s.nextStart = startAt + dur

	// Output implementations fire onEnded outside their own locks and never
	// from Start, so holding mu here cannot re-enter ended.
	src := s.out.NewSource(buf, func() { s.ended(id) })
	s.active[id] = src
	src.Start(startAt)
	s.mu.Unlock()

	return Scheduled{ID: id, StartAt: startAt, Duration: dur}
}

func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	drained := len(s.active) == 0
	hook := s.onDrained
	s.mu.Unlock()

	if drained && hook != nil {
		hook()
	}
}

// Interrupt stops every active buffer and moves the cursor to the live clock.
// Calling it with nothing playing only re-anchors the cursor.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	stopping := s.drainLocked()
	s.nextStart = s.out.Now()
	s.mu.Unlock()

	for _, src := range stopping {
		src.Stop()
	}
	return len(stopping)
}

// Teardown stops everything and resets the timeline to zero. Buffer ids keep
// increasing so late callbacks from stopped sources cannot match new ones.
func (s *Scheduler) Teardown() int {
	s.mu.Lock()
	stopping := s.drainLocked()
	s.nextStart = 0
	s.mu.Unlock()

	for _, src := range stopping {
		src.Stop()
	}
	return len(stopping)
}

func (s *Scheduler) drainLocked() []Source {
	out := make([]Source, 0, len(s.active))
	for id, src := range s.active {
		out = append(out, src)
		delete(s.active, id)
	}
	return out
}

func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) Speaking() bool { return s.Active() > 0 }

func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}
