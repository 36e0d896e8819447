package session

import (
	"errors"
	"time"

	"github.com/antoniostano/salut/internal/lipsync"
	"github.com/antoniostano/salut/internal/progress"
	"github.com/antoniostano/salut/internal/reliability"
	"github.com/antoniostano/salut/internal/transcript"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateError      State = "error"
)

var (
	ErrNotConnected      = errors.New("session not connected")
	ErrEmptyText         = errors.New("text is empty")
	ErrConnectTimeout    = errors.New("connect timed out")
	ErrClosedBeforeOpen  = errors.New("remote closed before open")
	ErrControllerStopped = errors.New("session controller stopped")
)

// Snapshot is the state exposed to the presentation layer.
type Snapshot struct {
	SessionID  string            `json:"session_id,omitempty"`
	State      State             `json:"state"`
	Speaking   bool              `json:"speaking"`
	Volume     float64           `json:"volume"`
	Viseme     lipsync.Viseme    `json:"viseme"`
	RetryCount int               `json:"retry_count"`
	Retrying   bool              `json:"retrying"`
	Error      string            `json:"error,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	Transcript []transcript.Item `json:"transcript"`
}

type EventType string

const (
	EventState      EventType = "state"
	EventTranscript EventType = "transcript"
	EventViseme     EventType = "viseme"
	EventError      EventType = "error"
)

// Event is pushed to subscribers. Only the field matching Type is set.
type Event struct {
	Type     EventType
	Snapshot Snapshot
	Item     transcript.Item
	Frame    lipsync.Frame
	Error    string
}

// TeardownStep records one release step and its failure, if any.
type TeardownStep struct {
	Name string
	Err  error
}

type TeardownReport struct {
	Epoch uint64
	Steps []TeardownStep
}

func (r TeardownReport) Failed() []TeardownStep {
	var out []TeardownStep
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

type Options struct {
	Model   string
	Voice   string
	Persona progress.Persona

	MaxRetries        int
	Backoff           reliability.Backoff
	AcquireRetryDelay time.Duration
	// ConnectTimeout bounds the time spent in Connecting per attempt. Zero
	// waits forever.
	ConnectTimeout    time.Duration
	InactivityTimeout time.Duration

	CaptureFrames int
	OutputFrames  int
	LeadIn        time.Duration
	OutputGain    float64

	Thresholds []float64
	Release    float64
	FFTSize    int
	FPS        int

	ProgressEnabled bool
	ProgressKey     string
	RecordDir       string
}

func DefaultOptions() Options {
	return Options{
		Model:             "gemini-2.5-flash-native-audio-preview-09-2025",
		Voice:             "Kore",
		Persona:           progress.Persona{TargetLanguage: "French", InstructionLanguage: "English"},
		MaxRetries:        2,
		Backoff:           reliability.Backoff{Strategy: "linear", Base: 1500 * time.Millisecond, Max: 10 * time.Second},
		AcquireRetryDelay: 2 * time.Second,
		ConnectTimeout:    20 * time.Second,
		InactivityTimeout: 5 * time.Minute,
		CaptureFrames:     4096,
		OutputFrames:      1024,
		LeadIn:            50 * time.Millisecond,
		OutputGain:        1,
		Release:           0.2,
		FFTSize:           256,
		FPS:               60,
		ProgressEnabled:   true,
		ProgressKey:       "salut_french_progress_v1",
	}
}
