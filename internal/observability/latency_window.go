package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Stage is a measured span of the tutoring pipeline.
type Stage string

const (
	// StageConnect runs from the start of an attempt to transport open.
	StageConnect Stage = "connect"
	// StageFirstAudio runs from open to the first tutor audio chunk.
	StageFirstAudio Stage = "first_audio"
	// StageTurnAudio runs from learner input to the tutor's first reply chunk.
	StageTurnAudio Stage = "reply_audio"
	// StageTurnTotal runs from the first fragment of a turn to turn complete.
	StageTurnTotal Stage = "turn"
)

// stageBudgets are p95 targets. A zero budget is never exceeded.
var stageBudgets = map[Stage]time.Duration{
	StageConnect:    1500 * time.Millisecond,
	StageFirstAudio: 2 * time.Second,
	StageTurnAudio:  1200 * time.Millisecond,
	StageTurnTotal:  0,
}

// Counter names a pipeline event the perf report tallies.
type Counter string

const (
	CountInterrupted   Counter = "interrupted"
	CountDecodeDropped Counter = "decode_dropped"
	CountRetry         Counter = "retry"
)

type StageReport struct {
	Samples    int   `json:"samples"`
	LastMS     int64 `json:"last_ms"`
	P50MS      int64 `json:"p50_ms"`
	P95MS      int64 `json:"p95_ms"`
	MaxMS      int64 `json:"max_ms"`
	BudgetMS   int64 `json:"budget_ms,omitempty"`
	OverBudget int   `json:"over_budget"`
}

// PerfReport covers every known stage, including ones with no samples yet.
type PerfReport struct {
	Since    time.Time             `json:"since"`
	Window   int                   `json:"window"`
	Stages   map[Stage]StageReport `json:"stages"`
	Counters map[Counter]int64     `json:"counters"`
}

// LatencyWindow keeps the most recent durations per stage and running event
// counters since the last Reset.
type LatencyWindow struct {
	mu      sync.Mutex
	size    int
	since   time.Time
	samples map[Stage][]time.Duration
	counts  map[Counter]int64
}

func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 256
	}
	w := &LatencyWindow{size: size}
	w.Reset()
	return w
}

func (w *LatencyWindow) Observe(stage Stage, d time.Duration) {
	if w == nil || stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[stage], d)
	if len(s) > w.size {
		s = append(s[:0], s[len(s)-w.size:]...)
	}
	w.samples[stage] = s
}

func (w *LatencyWindow) Count(c Counter) {
	if w == nil || c == "" {
		return
	}
	w.mu.Lock()
	w.counts[c]++
	w.mu.Unlock()
}

func (w *LatencyWindow) Report() PerfReport {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := PerfReport{
		Since:    w.since,
		Window:   w.size,
		Stages:   make(map[Stage]StageReport, len(stageBudgets)),
		Counters: make(map[Counter]int64, len(w.counts)),
	}
	for stage := range stageBudgets {
		out.Stages[stage] = StageReport{BudgetMS: stageBudgets[stage].Milliseconds()}
	}
	for stage, s := range w.samples {
		out.Stages[stage] = summarize(s, stageBudgets[stage])
	}
	for c, n := range w.counts {
		out.Counters[c] = n
	}
	return out
}

func (w *LatencyWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.since = time.Now().UTC()
	w.samples = make(map[Stage][]time.Duration)
	w.counts = make(map[Counter]int64)
}

func summarize(s []time.Duration, budget time.Duration) StageReport {
	if len(s) == 0 {
		return StageReport{BudgetMS: budget.Milliseconds()}
	}
	sorted := slices.Clone(s)
	slices.Sort(sorted)
	r := StageReport{
		Samples:  len(s),
		LastMS:   s[len(s)-1].Milliseconds(),
		P50MS:    rank(sorted, 0.50).Milliseconds(),
		P95MS:    rank(sorted, 0.95).Milliseconds(),
		MaxMS:    sorted[len(sorted)-1].Milliseconds(),
		BudgetMS: budget.Milliseconds(),
	}
	if budget > 0 {
		for _, d := range s {
			if d > budget {
				r.OverBudget++
			}
		}
	}
	return r
}

// rank is the nearest-rank percentile of a sorted, non-empty slice.
func rank(sorted []time.Duration, q float64) time.Duration {
	i := int(math.Ceil(q*float64(len(sorted)))) - 1
	return sorted[max(0, min(i, len(sorted)-1))]
}
