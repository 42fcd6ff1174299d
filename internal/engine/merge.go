package engine

import (
	"time"

	"tglite/internal/domain"
)

// nextID assigns append ids as max(existing)+1. Deleted records leave gaps;
// ids are never reused.
func nextID(log []domain.MessageRecord) int64 {
	var max int64
	for _, r := range log {
		if r.ID > max {
			max = r.ID
		}
	}
	return max + 1
}

// isDuplicate implements the already-ingested heuristic: a record with the
// same conversation and identical text observed within the tolerance window.
// This is the only defense against upstream re-delivery across polls; it can
// both swallow legitimate fast repeats and miss replays that land outside the
// window.
func isDuplicate(log []domain.MessageRecord, conversationID int64, text string, at time.Time, window time.Duration) bool {
	for _, r := range log {
		if r.ConversationID != conversationID || r.Text != text {
			continue
		}
		d := at.Sub(r.ObservedAt)
		if d < 0 {
			d = -d
		}
		if d < window {
			return true
		}
	}
	return false
}

// mergeInbound appends the candidates that are not already present in the
// log, assigning ids in encounter order. Candidates are compared against the
// log as read, not against records appended earlier in the same batch: a
// single poll batch never replays one upstream event twice, only whole
// batches replay.
func mergeInbound(log []domain.MessageRecord, candidates []domain.MessageRecord, window time.Duration) (merged, appended []domain.MessageRecord) {
	merged = make([]domain.MessageRecord, len(log), len(log)+len(candidates))
	copy(merged, log)

	for _, cand := range candidates {
		if isDuplicate(log, cand.ConversationID, cand.Text, cand.ObservedAt, window) {
			continue
		}
		cand.ID = nextID(merged)
		merged = append(merged, cand)
		appended = append(appended, cand)
	}
	return merged, appended
}

// applyToRoster folds one appended record into the roster. System records are
// excluded. For an existing entry only the last-message fields move; display
// name and handle keep the values captured at first contact, and
// LastMessageAt never goes backwards.
func applyToRoster(roster []domain.RosterEntry, rec domain.MessageRecord) ([]domain.RosterEntry, bool) {
	if rec.System() {
		return roster, false
	}

	for i, entry := range roster {
		if entry.ConversationID != rec.ConversationID {
			continue
		}
		out := make([]domain.RosterEntry, len(roster))
		copy(out, roster)
		out[i].LastMessageText = rec.Text
		if rec.ObservedAt.After(out[i].LastMessageAt) {
			out[i].LastMessageAt = rec.ObservedAt
		}
		return out, true
	}

	return append(append([]domain.RosterEntry{}, roster...), domain.RosterEntry{
		ConversationID:  rec.ConversationID,
		DisplayName:     rec.SenderName,
		Handle:          rec.SenderHandle,
		LastMessageText: rec.Text,
		LastMessageAt:   rec.ObservedAt,
		FirstContactAt:  rec.ObservedAt,
	}), true
}

func applyAllToRoster(roster []domain.RosterEntry, recs []domain.MessageRecord) ([]domain.RosterEntry, bool) {
	changed := false
	for _, rec := range recs {
		var c bool
		roster, c = applyToRoster(roster, rec)
		changed = changed || c
	}
	return roster, changed
}
