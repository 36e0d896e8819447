package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/antoniostano/salut/internal/reliability"
)

// PortAudio opens the host's default input and output devices.
type PortAudio struct {
	closeOnce sync.Once
}

func NewPortAudio() (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &reliability.AcquisitionError{Device: "audio host", Err: err}
	}
	return &PortAudio{}, nil
}

func (p *PortAudio) Name() string { return "portaudio" }

func (p *PortAudio) Close() error {
	var err error
	p.closeOnce.Do(func() { err = portaudio.Terminate() })
	return err
}

func (p *PortAudio) OpenMicrophone(ctx context.Context, sampleRate, framesPerBuffer int) (Microphone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, &reliability.AcquisitionError{Device: "microphone", Err: fmt.Errorf("open stream: %w", err)}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &reliability.AcquisitionError{Device: "microphone", Err: fmt.Errorf("start stream: %w", err)}
	}
	m := &paMicrophone{
		stream: stream,
		buf:    buf,
		frames: make(chan []float32, 16),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go m.read()
	return m, nil
}

type paMicrophone struct {
	stream *portaudio.Stream
	buf    []float32
	frames chan []float32
	done   chan struct{}
	exited chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (m *paMicrophone) Frames() <-chan []float32 { return m.frames }

func (m *paMicrophone) read() {
	defer close(m.exited)
	defer close(m.frames)
	for {
		if err := m.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			return
		}
		frame := make([]float32, len(m.buf))
		copy(frame, m.buf)
		select {
		case m.frames <- frame:
		case <-m.done:
			return
		}
	}
}

func (m *paMicrophone) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		stopErr := m.stream.Stop()
		<-m.exited
		closeErr := m.stream.Close()
		m.closeErr = errors.Join(stopErr, closeErr)
	})
	return m.closeErr
}

func (p *PortAudio) OpenSpeaker(ctx context.Context, sampleRate, framesPerBuffer int, render RenderFunc) (Speaker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, func(out []float32) {
		render(out)
	})
	if err != nil {
		return nil, &reliability.AcquisitionError{Device: "speaker", Err: fmt.Errorf("open stream: %w", err)}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &reliability.AcquisitionError{Device: "speaker", Err: fmt.Errorf("start stream: %w", err)}
	}
	return &paSpeaker{stream: stream}, nil
}

type paSpeaker struct {
	stream    *portaudio.Stream
	closeOnce sync.Once
	closeErr  error
}

func (s *paSpeaker) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.stream.Stop(), s.stream.Close())
	})
	return s.closeErr
}
