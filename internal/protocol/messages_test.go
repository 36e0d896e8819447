package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","action":"Stop","reason":"button","ts_ms":456}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionStop {
		t.Fatalf("Action = %q, want %q", control.Action, ActionStop)
	}
	if control.TSMs != 456 || control.Reason != "button" {
		t.Fatalf("unexpected client control: %+v", control)
	}
}

func TestParseClientMessageText(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_text","text":"Comment ça va ?"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	text, ok := msg.(ClientText)
	if !ok || text.Text != "Comment ça va ?" {
		t.Fatalf("message = %#v", msg)
	}
}

func TestParseClientMessageRejectsInvalid(t *testing.T) {
	cases := []string{
		`{"type":"client_control","action":"pause"}`,
		`{"type":"client_text","text":"   "}`,
		`not json`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) error = nil", raw)
		}
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestServerMessageFieldNames(t *testing.T) {
	raw, err := json.Marshal(VisemeFrame{Type: TypeVisemeFrame, Viseme: "open", Volume: 0.5, TSMs: 10})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"type":"viseme_frame","viseme":"open","volume":0.5,"ts_ms":10}`
	if string(raw) != want {
		t.Fatalf("json = %s, want %s", raw, want)
	}
}
