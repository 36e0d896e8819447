package live

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/antoniostano/salut/internal/audio"
)

type recorder struct {
	mu       sync.Mutex
	opened   int
	messages []Message
	closed   chan struct{}
}

func newRecorder() *recorder { return &recorder{closed: make(chan struct{})} }

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnOpen: func() {
			r.mu.Lock()
			r.opened++
			r.mu.Unlock()
		},
		OnMessage: func(m Message) {
			r.mu.Lock()
			r.messages = append(r.messages, m)
			r.mu.Unlock()
		},
		OnClose: func() { close(r.closed) },
	}
}

func TestMockConnectorRepliesToText(t *testing.T) {
	rec := newRecorder()
	conn, err := NewMockConnector().Connect(context.Background(), "mock", SessionConfig{}, rec.callbacks())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := conn.SendRealtimeInput(context.Background(), Input{Text: "Bonjour"}); err != nil {
		t.Fatalf("SendRealtimeInput() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-rec.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for close callback")
	}
	if err := conn.SendRealtimeInput(context.Background(), Input{Text: "again"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("SendRealtimeInput(after close) error = %v, want ErrClosed", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.opened != 1 {
		t.Fatalf("opened = %d, want 1", rec.opened)
	}
	if len(rec.messages) < 3 {
		t.Fatalf("messages = %d, want at least 3", len(rec.messages))
	}
	if rec.messages[0].InputTranscript != "Bonjour" {
		t.Fatalf("first message = %+v, want input transcript", rec.messages[0])
	}
	if !rec.messages[len(rec.messages)-1].TurnComplete {
		t.Fatalf("last message is not turn complete")
	}
	var spoken strings.Builder
	for _, m := range rec.messages {
		spoken.WriteString(m.OutputTranscript)
		for _, blob := range m.Audio {
			if _, err := audio.NewDecoder(audio.OutputSampleRate).Decode(context.Background(), blob); err != nil {
				t.Fatalf("mock audio does not decode: %v", err)
			}
		}
	}
	if !strings.Contains(spoken.String(), "Bonjour") {
		t.Fatalf("spoken transcript = %q", spoken.String())
	}
}

func TestMockConnectorTurnEveryNChunks(t *testing.T) {
	rec := newRecorder()
	m := &MockConnector{ChunksPerTurn: 3, Reply: "Oui"}
	conn, err := m.Connect(context.Background(), "mock", SessionConfig{}, rec.callbacks())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	blob := audio.EncodePCM16(make([]float32, 160), audio.CaptureSampleRate)
	for i := 0; i < 2; i++ {
		_ = conn.SendRealtimeInput(context.Background(), Input{Audio: &blob})
	}
	_ = conn.Close()
	<-rec.closed
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.messages) != 0 {
		t.Fatalf("messages after 2 chunks = %d, want 0", len(rec.messages))
	}
}

func TestMessageFromServer(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: []byte{1, 0}, MIMEType: "audio/pcm;rate=24000"}},
				{Text: "ignored"},
			}},
			OutputTranscription: &genai.Transcription{Text: "Bon"},
			TurnComplete:        true,
		},
	}
	got, ok := messageFromServer(msg)
	if !ok {
		t.Fatalf("messageFromServer() ok = false")
	}
	if len(got.Audio) != 1 || got.Audio[0].MIMEType != "audio/pcm;rate=24000" {
		t.Fatalf("Audio = %+v", got.Audio)
	}
	if got.OutputTranscript != "Bon" || !got.TurnComplete {
		t.Fatalf("message = %+v", got)
	}
	if _, ok := messageFromServer(&genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}}); ok {
		t.Fatalf("setup-only message should be skipped")
	}
}

func TestConnectConfig(t *testing.T) {
	cfg := connectConfig(SessionConfig{Voice: "Kore", SystemInstruction: "be kind", TranscribeInput: true, TranscribeOutput: true})
	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != genai.ModalityAudio {
		t.Fatalf("ResponseModalities = %v", cfg.ResponseModalities)
	}
	if cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Kore" {
		t.Fatalf("voice not set")
	}
	if cfg.SystemInstruction == nil || cfg.InputAudioTranscription == nil || cfg.OutputAudioTranscription == nil {
		t.Fatalf("connectConfig() = %+v", cfg)
	}
}

func TestIsCleanClose(t *testing.T) {
	if !isCleanClose(&websocket.CloseError{Code: websocket.CloseNormalClosure}) {
		t.Fatalf("normal closure should be clean")
	}
	if isCleanClose(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}) {
		t.Fatalf("abnormal closure should not be clean")
	}
	if isCleanClose(errors.New("eof")) {
		t.Fatalf("plain error should not be clean")
	}
}
