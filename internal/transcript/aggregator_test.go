package transcript

import (
	"testing"
	"time"
)

func TestCommitEmitsOnlyNonEmptyRoles(t *testing.T) {
	a := NewAggregator()
	a.Append(RoleModel, "Bon")
	a.Append(RoleModel, "jour")

	items := a.Commit(time.UnixMilli(1000))
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].Role != RoleModel || items[0].Text != "Bonjour" {
		t.Fatalf("item = %+v, want model/Bonjour", items[0])
	}
	if items[0].ID == "" || items[0].Timestamp != 1000 {
		t.Fatalf("item id/timestamp = %q/%d", items[0].ID, items[0].Timestamp)
	}
}

func TestCommitTrimsAndClears(t *testing.T) {
	a := NewAggregator()
	a.Append(RoleUser, "  ")
	a.Append(RoleModel, " salut ")

	items := a.Commit(time.Now())
	if len(items) != 1 || items[0].Text != "salut" {
		t.Fatalf("items = %+v, want one trimmed model item", items)
	}
	if a.Pending(RoleUser) != "" || a.Pending(RoleModel) != "" {
		t.Fatalf("accumulators not cleared: %q / %q", a.Pending(RoleUser), a.Pending(RoleModel))
	}
	if again := a.Commit(time.Now()); len(again) != 0 {
		t.Fatalf("second Commit() = %+v, want none", again)
	}
}

func TestCommitOrdersUserBeforeModel(t *testing.T) {
	a := NewAggregator()
	a.Append(RoleModel, "Très bien")
	a.Append(RoleUser, "Je m'appelle Ana")
	items := a.Commit(time.Now())
	if len(items) != 2 || items[0].Role != RoleUser || items[1].Role != RoleModel {
		t.Fatalf("items = %+v, want user then model", items)
	}
	if len(a.Items()) != 2 {
		t.Fatalf("Items() = %d, want 2", len(a.Items()))
	}
	a.Clear()
	if len(a.Items()) != 0 {
		t.Fatalf("Items() after Clear = %d, want 0", len(a.Items()))
	}
}

func TestDiscardDropsOpenTurn(t *testing.T) {
	a := NewAggregator()
	a.Append(RoleUser, "half a sent")
	a.Discard()
	if items := a.Commit(time.Now()); len(items) != 0 {
		t.Fatalf("Commit() after Discard = %+v, want none", items)
	}
}
