package lipsync

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Viseme is a mouth shape. Values are ordered by degree of opening.
type Viseme int

const (
	VisemeClosed Viseme = iota
	VisemeSmile
	VisemeSlight
	VisemeRounded
	VisemeWide
	VisemeOpen
)

var visemeNames = [...]string{"closed", "smile", "slight", "rounded", "wide", "open"}

func (v Viseme) String() string {
	if v < 0 || int(v) >= len(visemeNames) {
		return "unknown"
	}
	return visemeNames[v]
}

func (v Viseme) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// DefaultThresholds are the lower bounds of smile, slight, rounded, wide and
// open. Anything below the first is closed.
var DefaultThresholds = []float64{0.05, 0.15, 0.3, 0.5, 0.75}

// Mapper maps a smoothed volume to a viseme.
type Mapper struct {
	thresholds []float64
}

func NewMapper(thresholds []float64) (*Mapper, error) {
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}
	if len(thresholds) != len(visemeNames)-1 {
		return nil, fmt.Errorf("viseme thresholds: got %d values, want %d", len(thresholds), len(visemeNames)-1)
	}
	for i, th := range thresholds {
		if math.IsNaN(th) || math.IsInf(th, 0) {
			return nil, fmt.Errorf("viseme threshold %d is not finite: %v", i, th)
		}
	}
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return nil, fmt.Errorf("viseme thresholds must be strictly ascending: %v", thresholds)
		}
	}
	return &Mapper{thresholds: append([]float64(nil), thresholds...)}, nil
}

// Map is total: NaN and negatives are closed, everything at or above the last
// threshold is open.
func (m *Mapper) Map(volume float64) Viseme {
	if !(volume >= m.thresholds[0]) {
		return VisemeClosed
	}
	v := VisemeClosed
	for i, th := range m.thresholds {
		if volume >= th {
			v = Viseme(i + 1)
		}
	}
	return v
}

// ParseThresholds reads a comma separated threshold list.
func ParseThresholds(raw string) ([]float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("viseme threshold %q: %w", p, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("viseme threshold %q: not a finite number", p)
		}
		out = append(out, f)
	}
	return out, nil
}
