// Package reliability holds the error taxonomy and retry delay policy shared
// by the session controller.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antoniostano/salut/internal/audio"
	"github.com/antoniostano/salut/internal/policy"
)

type Kind string

const (
	KindUnknown     Kind = "unknown"
	KindAcquisition Kind = "acquisition"
	KindTransport   Kind = "transport"
	KindDecode      Kind = "decode"
	KindRelease     Kind = "release"
	KindCanceled    Kind = "canceled"
)

// AcquisitionError reports that the microphone or output device could not be
// opened during session start.
type AcquisitionError struct {
	Device string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Device, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// TransportError reports a handshake failure or an unexpected drop of the
// streaming session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport " + e.Op
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ReleaseError reports a failed teardown step.
type ReleaseError struct {
	Step string
	Err  error
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("release %s: %v", e.Step, e.Err)
}

func (e *ReleaseError) Unwrap() error { return e.Err }

// Classify maps err onto the taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var acq *AcquisitionError
	var tr *TransportError
	var dec *audio.DecodeError
	var rel *ReleaseError
	switch {
	case errors.As(err, &acq):
		return KindAcquisition
	case errors.As(err, &tr):
		return KindTransport
	case errors.As(err, &dec):
		return KindDecode
	case errors.As(err, &rel):
		return KindRelease
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// Retryable reports whether a session start should be re-attempted for err.
// Decode and release failures are contained where they occur.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindAcquisition, KindTransport, KindUnknown:
		return err != nil
	default:
		return false
	}
}

// UserMessage renders err for presentation.
func UserMessage(err error) string {
	switch Classify(err) {
	case KindAcquisition:
		device := "microphone"
		var acq *AcquisitionError
		if errors.As(err, &acq) && acq.Device == "speaker" {
			device = "audio output"
		}
		return "Could not access the " + device + ". Check the device and permissions, then try again."
	case KindTransport:
		return "Lost the connection to the tutor. Check your network, then try again."
	default:
		if err == nil {
			return ""
		}
		return "Something went wrong: " + policy.RedactSecrets(err.Error())
	}
}

// LinearBackoff returns base*attempt with attempt counted from 1.
func LinearBackoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(attempt)
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Backoff selects the delay strategy by name ("linear" or "exponential").
type Backoff struct {
	Strategy string
	Base     time.Duration
	Max      time.Duration
}

// Delay returns the wait before retry attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Strategy == "exponential" {
		limit := b.Max
		if limit <= 0 {
			limit = 30 * time.Second
		}
		return ExponentialBackoff(attempt-1, b.Base, limit)
	}
	d := LinearBackoff(attempt, b.Base)
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
