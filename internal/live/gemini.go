package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/antoniostano/salut/internal/audio"
	"github.com/antoniostano/salut/internal/reliability"
)

// GeminiConnector opens Gemini Live sessions.
type GeminiConnector struct {
	client *genai.Client
}

func NewGeminiConnector(ctx context.Context, apiKey string) (*GeminiConnector, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiConnector{client: client}, nil
}

func (g *GeminiConnector) Name() string { return "gemini" }

func (g *GeminiConnector) Connect(ctx context.Context, model string, cfg SessionConfig, cb Callbacks) (Conn, error) {
	session, err := g.client.Live.Connect(ctx, model, connectConfig(cfg))
	if err != nil {
		return nil, &reliability.TransportError{Op: "connect", Err: err}
	}
	c := &geminiConn{session: session, done: make(chan struct{})}
	go c.receive(cb)
	return c, nil
}

func connectConfig(cfg SessionConfig) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if voice := strings.TrimSpace(cfg.Voice); voice != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	if strings.TrimSpace(cfg.SystemInstruction) != "" {
		out.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.TranscribeInput {
		out.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.TranscribeOutput {
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return out
}

type geminiConn struct {
	session *genai.Session

	sendMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func (c *geminiConn) SendRealtimeInput(_ context.Context, in Input) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	var rt genai.LiveRealtimeInput
	switch {
	case in.Audio != nil:
		rt.Audio = &genai.Blob{Data: in.Audio.Data, MIMEType: in.Audio.MIMEType}
	case strings.TrimSpace(in.Text) != "":
		rt.Text = in.Text
	default:
		return nil
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.session.SendRealtimeInput(rt); err != nil {
		return &reliability.TransportError{Op: "send", Err: err}
	}
	return nil
}

func (c *geminiConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

func (c *geminiConn) receive(cb Callbacks) {
	cb.open()
	for {
		msg, err := c.session.Receive()
		if err != nil {
			select {
			case <-c.done:
				cb.closed()
				return
			default:
			}
			if isCleanClose(err) {
				cb.closed()
				return
			}
			cb.fail(&reliability.TransportError{Op: "receive", Err: err})
			return
		}
		if m, ok := messageFromServer(msg); ok {
			cb.message(m)
		}
	}
}

func isCleanClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	return false
}

// messageFromServer flattens the parts of a server message the pipeline uses.
func messageFromServer(msg *genai.LiveServerMessage) (Message, bool) {
	if msg == nil || msg.ServerContent == nil {
		return Message{}, false
	}
	sc := msg.ServerContent
	var out Message
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			out.Audio = append(out.Audio, audio.Blob{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType})
		}
	}
	out.Interrupted = sc.Interrupted
	out.TurnComplete = sc.TurnComplete
	if sc.InputTranscription != nil {
		out.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		out.OutputTranscript = sc.OutputTranscription.Text
	}
	empty := len(out.Audio) == 0 && !out.Interrupted && !out.TurnComplete &&
		out.InputTranscript == "" && out.OutputTranscript == ""
	return out, !empty
}
