// Package device opens the machine's microphone and speaker.
package device

import "context"

// RenderFunc fills out with the next block of output samples.
type RenderFunc func(out []float32)

// Microphone streams mono float32 frames in capture order. Frames is closed
// after Close returns.
type Microphone interface {
	Frames() <-chan []float32
	Close() error
}

type Speaker interface {
	Close() error
}

// Backend opens devices. Open failures are returned as
// *reliability.AcquisitionError.
type Backend interface {
	OpenMicrophone(ctx context.Context, sampleRate, framesPerBuffer int) (Microphone, error)
	OpenSpeaker(ctx context.Context, sampleRate, framesPerBuffer int, render RenderFunc) (Speaker, error)
	Name() string
	Close() error
}
