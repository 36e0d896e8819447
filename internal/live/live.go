// Package live is the boundary to the remote real-time speech model.
package live

import (
	"context"
	"errors"

	"github.com/antoniostano/salut/internal/audio"
)

var ErrClosed = errors.New("live: session closed")

// SessionConfig is sent with the connect request.
type SessionConfig struct {
	Voice             string
	SystemInstruction string
	TranscribeInput   bool
	TranscribeOutput  bool
}

// Input is one realtime send: either an audio chunk or typed text.
type Input struct {
	Audio *audio.Blob
	Text  string
}

// Message is one inbound server event. Any subset of fields may be set.
type Message struct {
	Audio            []audio.Blob
	Interrupted      bool
	InputTranscript  string
	OutputTranscript string
	TurnComplete     bool
}

// Callbacks receive session events. OnOpen fires at most once, before any
// OnMessage. Exactly one of OnError or OnClose ends the stream. Connectors
// invoke callbacks from their own goroutine, never synchronously from Connect.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(Message)
	OnError   func(error)
	OnClose   func()
}

func (cb Callbacks) open() {
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
}

func (cb Callbacks) message(m Message) {
	if cb.OnMessage != nil {
		cb.OnMessage(m)
	}
}

func (cb Callbacks) fail(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

func (cb Callbacks) closed() {
	if cb.OnClose != nil {
		cb.OnClose()
	}
}

// Conn is an open streaming session.
type Conn interface {
	SendRealtimeInput(ctx context.Context, in Input) error
	Close() error
}

type Connector interface {
	Connect(ctx context.Context, model string, cfg SessionConfig, cb Callbacks) (Conn, error)
	Name() string
}
