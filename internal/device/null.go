package device

import (
	"context"
	"sync"
	"time"
)

// Null is a device backend without hardware: the microphone yields silent
// frames and the speaker pulls rendered blocks, both paced in real time.
type Null struct{}

func NewNull() *Null { return &Null{} }

func (n *Null) Name() string { return "null" }

func (n *Null) Close() error { return nil }

func blockInterval(sampleRate, frames int) time.Duration {
	if sampleRate <= 0 || frames <= 0 {
		return 20 * time.Millisecond
	}
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

func (n *Null) OpenMicrophone(ctx context.Context, sampleRate, framesPerBuffer int) (Microphone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := &nullMicrophone{
		frames: make(chan []float32, 4),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go m.run(blockInterval(sampleRate, framesPerBuffer), framesPerBuffer)
	return m, nil
}

type nullMicrophone struct {
	frames    chan []float32
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

func (m *nullMicrophone) Frames() <-chan []float32 { return m.frames }

func (m *nullMicrophone) run(every time.Duration, size int) {
	defer close(m.exited)
	defer close(m.frames)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			select {
			case m.frames <- make([]float32, size):
			case <-m.done:
				return
			}
		}
	}
}

func (m *nullMicrophone) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		<-m.exited
	})
	return nil
}

func (n *Null) OpenSpeaker(ctx context.Context, sampleRate, framesPerBuffer int, render RenderFunc) (Speaker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &nullSpeaker{done: make(chan struct{}), exited: make(chan struct{})}
	go s.run(blockInterval(sampleRate, framesPerBuffer), framesPerBuffer, render)
	return s, nil
}

type nullSpeaker struct {
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

func (s *nullSpeaker) run(every time.Duration, size int, render RenderFunc) {
	defer close(s.exited)
	out := make([]float32, size)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			render(out)
		}
	}
}

func (s *nullSpeaker) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.exited
	})
	return nil
}
