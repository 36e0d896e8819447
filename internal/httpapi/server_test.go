package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/antoniostano/salut/internal/config"
	"github.com/antoniostano/salut/internal/observability"
	"github.com/antoniostano/salut/internal/progress"
	"github.com/antoniostano/salut/internal/protocol"
	"github.com/antoniostano/salut/internal/session"
	"github.com/antoniostano/salut/internal/store"
	"github.com/antoniostano/salut/internal/transcript"
)

type fakeTutor struct {
	mu     sync.Mutex
	state  session.State
	texts  []string
	events chan session.Event
}

func newFakeTutor() *fakeTutor {
	return &fakeTutor{state: session.StateIdle, events: make(chan session.Event, 16)}
}

func (f *fakeTutor) Start(context.Context) error {
	f.mu.Lock()
	f.state = session.StateConnected
	snap := session.Snapshot{SessionID: "s1", State: f.state}
	f.mu.Unlock()
	f.events <- session.Event{Type: session.EventState, Snapshot: snap}
	return nil
}

func (f *fakeTutor) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = session.StateIdle
	return nil
}

func (f *fakeTutor) SendText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return session.ErrEmptyText
	}
	if f.state != session.StateConnected {
		return session.ErrNotConnected
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTutor) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Snapshot{State: f.state, Transcript: []transcript.Item{}}
}

func (f *fakeTutor) Transcript() []transcript.Item {
	return []transcript.Item{{ID: "i1", Role: transcript.RoleModel, Text: "Bonjour", Timestamp: 1}}
}

func (f *fakeTutor) Subscribe() (<-chan session.Event, func()) {
	return f.events, func() {}
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeTutor, store.Store) {
	t.Helper()
	cfg := config.Config{ProgressKey: "test_progress"}
	tutor := newFakeTutor()
	st := store.NewInMemoryStore()
	metrics := observability.NewMetrics(fmt.Sprintf("salut_test_httpapi_%d", time.Now().UnixNano()))
	srv := New(cfg, tutor, st, metrics, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, tutor, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func TestSessionLifecycleRoutes(t *testing.T) {
	ts, tutor, _ := newTestServer(t)

	res := postJSON(t, ts.URL+"/v1/tutor/session/text", textRequest{Text: "Salut"})
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("text before start status = %d, want %d", res.StatusCode, http.StatusConflict)
	}

	res = postJSON(t, ts.URL+"/v1/tutor/session/start", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}

	res = postJSON(t, ts.URL+"/v1/tutor/session/text", textRequest{Text: "Salut"})
	res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("text status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	res = postJSON(t, ts.URL+"/v1/tutor/session/text", textRequest{Text: " "})
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank text status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	stateRes, err := http.Get(ts.URL + "/v1/tutor/state")
	if err != nil {
		t.Fatalf("GET state error = %v", err)
	}
	defer stateRes.Body.Close()
	var snap session.Snapshot
	if err := json.NewDecoder(stateRes.Body).Decode(&snap); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if snap.State != session.StateConnected {
		t.Fatalf("state = %q, want connected", snap.State)
	}

	res = postJSON(t, ts.URL+"/v1/tutor/session/stop", nil)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(tutor.texts) != 1 || tutor.texts[0] != "Salut" {
		t.Fatalf("texts = %v, want [Salut]", tutor.texts)
	}
}

func TestProgressAndHistoryRoutes(t *testing.T) {
	ts, _, st := newTestServer(t)
	ctx := context.Background()
	if err := st.SaveProgress(ctx, "test_progress", progress.Progress{SessionsCompleted: 7, CurrentLevel: progress.LevelIntermediate}); err != nil {
		t.Fatalf("SaveProgress() error = %v", err)
	}
	if err := st.SaveTranscript(ctx, store.TranscriptRecord{ID: "r1", ProgressKey: "test_progress", Role: "user", Content: "Je suis prêt", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveTranscript() error = %v", err)
	}

	res, err := http.Get(ts.URL + "/v1/tutor/progress")
	if err != nil {
		t.Fatalf("GET progress error = %v", err)
	}
	var p progress.Progress
	_ = json.NewDecoder(res.Body).Decode(&p)
	res.Body.Close()
	if p.SessionsCompleted != 7 {
		t.Fatalf("sessionsCompleted = %d, want 7", p.SessionsCompleted)
	}

	res, err = http.Get(ts.URL + "/v1/tutor/history?limit=5")
	if err != nil {
		t.Fatalf("GET history error = %v", err)
	}
	var history struct {
		Items []store.TranscriptRecord `json:"items"`
	}
	_ = json.NewDecoder(res.Body).Decode(&history)
	res.Body.Close()
	if len(history.Items) != 1 || history.Items[0].Content != "Je suis prêt" {
		t.Fatalf("history = %+v", history.Items)
	}

	res, err = http.Get(ts.URL + "/v1/tutor/history?limit=zero")
	if err != nil {
		t.Fatalf("GET history error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	res = postJSON(t, ts.URL+"/v1/tutor/progress/reset", nil)
	_ = json.NewDecoder(res.Body).Decode(&p)
	res.Body.Close()
	if p.SessionsCompleted != 0 || p.CurrentLevel != progress.LevelBeginner {
		t.Fatalf("progress after reset = %+v", p)
	}
}

func TestTranscriptAndPerfRoutes(t *testing.T) {
	ts, _, _ := newTestServer(t)

	res, err := http.Get(ts.URL + "/v1/tutor/transcript")
	if err != nil {
		t.Fatalf("GET transcript error = %v", err)
	}
	var body struct {
		Items []transcript.Item `json:"items"`
	}
	_ = json.NewDecoder(res.Body).Decode(&body)
	res.Body.Close()
	if len(body.Items) != 1 || body.Items[0].Text != "Bonjour" {
		t.Fatalf("transcript = %+v", body.Items)
	}

	res, err = http.Get(ts.URL + "/v1/tutor/perf")
	if err != nil {
		t.Fatalf("GET perf error = %v", err)
	}
	defer res.Body.Close()
	var perf map[string]any
	if err := json.NewDecoder(res.Body).Decode(&perf); err != nil {
		t.Fatalf("decode perf: %v", err)
	}
	if _, ok := perf["stages"]; !ok {
		t.Fatalf("perf payload missing stages: %+v", perf)
	}
}

func TestWebSocketControlAndEvents(t *testing.T) {
	ts, tutor, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/tutor/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first protocol.StateEvent
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial state: %v", err)
	}
	if first.Type != protocol.TypeStateEvent || first.State != string(session.StateIdle) {
		t.Fatalf("initial = %+v, want idle state_event", first)
	}

	if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionStart}); err != nil {
		t.Fatalf("write control: %v", err)
	}
	var started protocol.StateEvent
	if err := conn.ReadJSON(&started); err != nil {
		t.Fatalf("read state after start: %v", err)
	}
	if started.State != string(session.StateConnected) || started.SessionID != "s1" {
		t.Fatalf("state after start = %+v", started)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"client_control","action":"dance"}`)); err != nil {
		t.Fatalf("write invalid: %v", err)
	}
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("read error event: %v", err)
	}
	if errEvent.Type != protocol.TypeErrorEvent || errEvent.Code != "invalid_client_message" {
		t.Fatalf("error event = %+v", errEvent)
	}

	if err := conn.WriteJSON(protocol.ClientText{Type: protocol.TypeClientText, Text: "Merci"}); err != nil {
		t.Fatalf("write text: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tutor.mu.Lock()
		n := len(tutor.texts)
		tutor.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client_text never reached the tutor")
}
