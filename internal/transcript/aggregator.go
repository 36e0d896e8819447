// Package transcript accumulates incremental transcription per turn.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Item is one committed utterance.
type Item struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type Aggregator struct {
	mu    sync.Mutex
	input strings.Builder
	model strings.Builder
	items []Item
}

func NewAggregator() *Aggregator { return &Aggregator{} }

// Append adds a fragment to the open turn of role.
func (a *Aggregator) Append(role Role, fragment string) {
	if fragment == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch role {
	case RoleUser:
		a.input.WriteString(fragment)
	case RoleModel:
		a.model.WriteString(fragment)
	}
}

// Commit closes the turn: every non-empty accumulator becomes an Item (user
// first), and both accumulators are cleared.
func (a *Aggregator) Commit(now time.Time) []Item {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := now.UnixMilli()
	var out []Item
	if text := strings.TrimSpace(a.input.String()); text != "" {
		out = append(out, Item{ID: uuid.NewString(), Role: RoleUser, Text: text, Timestamp: ts})
	}
	if text := strings.TrimSpace(a.model.String()); text != "" {
		out = append(out, Item{ID: uuid.NewString(), Role: RoleModel, Text: text, Timestamp: ts})
	}
	a.input.Reset()
	a.model.Reset()
	a.items = append(a.items, out...)
	return out
}

// Pending returns the uncommitted text of role.
func (a *Aggregator) Pending(role Role) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if role == RoleUser {
		return a.input.String()
	}
	return a.model.String()
}

// Items returns every committed item in order.
func (a *Aggregator) Items() []Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Item(nil), a.items...)
}

// Discard drops open fragments without committing them.
func (a *Aggregator) Discard() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.Reset()
	a.model.Reset()
}

// Clear drops open fragments and committed items.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.Reset()
	a.model.Reset()
	a.items = nil
}
