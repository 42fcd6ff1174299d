package engine

import (
	"testing"
	"time"

	"tglite/internal/domain"
)

func TestNextID(t *testing.T) {
	if got := nextID(nil); got != 1 {
		t.Fatalf("nextID(empty) = %d, want 1", got)
	}
	log := []domain.MessageRecord{{ID: 2}, {ID: 7}, {ID: 3}}
	if got := nextID(log); got != 8 {
		t.Fatalf("nextID = %d, want 8", got)
	}
}

func TestIsDuplicateWindowBoundary(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	window := 5 * time.Second
	log := []domain.MessageRecord{
		{ID: 1, ConversationID: 42, Text: "hi", ObservedAt: base},
	}

	if !isDuplicate(log, 42, "hi", base.Add(window-time.Millisecond), window) {
		t.Fatal("just inside the window should be a duplicate")
	}
	if isDuplicate(log, 42, "hi", base.Add(window), window) {
		t.Fatal("exactly at the window boundary is not a duplicate")
	}
	if isDuplicate(log, 42, "hi", base.Add(-window), window) {
		t.Fatal("window is symmetric; outside on the early side is not a duplicate")
	}
	if !isDuplicate(log, 42, "hi", base.Add(-window+time.Second), window) {
		t.Fatal("earlier observation inside the window should be a duplicate")
	}
	if isDuplicate(log, 7, "hi", base, window) {
		t.Fatal("another conversation is never a duplicate")
	}
	if isDuplicate(log, 42, "hi there", base, window) {
		t.Fatal("different text is never a duplicate")
	}
}

func TestMergeInboundComparesAgainstLogAsRead(t *testing.T) {
	// Two identical candidates in one batch both append: the window guards
	// against cross-batch replay, not within-batch repeats.
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	candidates := []domain.MessageRecord{
		{ConversationID: 42, Text: "hi", ObservedAt: base},
		{ConversationID: 42, Text: "hi", ObservedAt: base},
	}
	merged, appended := mergeInbound(nil, candidates, 5*time.Second)
	if len(appended) != 2 || len(merged) != 2 {
		t.Fatalf("want both candidates appended, got %d", len(appended))
	}
	if merged[0].ID != 1 || merged[1].ID != 2 {
		t.Fatalf("ids = %d, %d", merged[0].ID, merged[1].ID)
	}
}

func TestApplyToRosterTimestampNeverMovesBack(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	roster := []domain.RosterEntry{
		{ConversationID: 42, DisplayName: "Ann", LastMessageText: "new", LastMessageAt: base, FirstContactAt: base.Add(-time.Hour)},
	}

	out, changed := applyToRoster(roster, domain.MessageRecord{
		ConversationID: 42,
		SenderName:     "Annabel",
		Text:           "old",
		ObservedAt:     base.Add(-time.Minute),
	})
	if !changed {
		t.Fatal("expected a roster change")
	}
	if out[0].LastMessageText != "old" {
		t.Fatalf("lastMessageText = %q", out[0].LastMessageText)
	}
	if !out[0].LastMessageAt.Equal(base) {
		t.Fatalf("lastMessageAt moved backwards: %v", out[0].LastMessageAt)
	}
	if out[0].DisplayName != "Ann" {
		t.Fatalf("display name overwritten: %q", out[0].DisplayName)
	}
	// Input slice must not be mutated.
	if roster[0].LastMessageText != "new" {
		t.Fatalf("input roster mutated: %+v", roster[0])
	}
}

func TestApplyToRosterSkipsSystemRecords(t *testing.T) {
	out, changed := applyToRoster(nil, domain.MessageRecord{
		ConversationID: domain.SystemConversationID,
		Text:           "/settoken abc",
		ObservedAt:     time.Now(),
	})
	if changed || len(out) != 0 {
		t.Fatalf("system record must not create a roster entry: %+v", out)
	}
}
