package engine

import (
	"context"
	"fmt"
	"strings"

	"tglite/internal/domain"
	"tglite/internal/metrics"
)

// Send dispatches operator-authored text through the upstream source and, on
// success, appends the resulting outbound record through the same persistence
// discipline ingestion uses. A dispatch failure creates no record and issues
// no write.
func (e *Engine) Send(ctx context.Context, targetID int64, text string) (*SyncResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty message text")
	}

	upstreamID, err := e.source.Dispatch(ctx, targetID, text)
	if err != nil {
		metrics.DispatchFailures.Inc()
		return nil, fmt.Errorf("dispatch to %d: %w", targetID, err)
	}

	rec := domain.MessageRecord{
		ConversationID:    targetID,
		SenderName:        e.cfg.BotDisplayName,
		SenderHandle:      "bot",
		Text:              text,
		Direction:         domain.DirectionOutbound,
		ObservedAt:        e.now(),
		UpstreamMessageID: upstreamID,
	}

	log, logTag, err := readDocument[domain.MessageRecord](ctx, e.store, e.cfg.LogPath)
	if err != nil {
		// The message left the source but the log could not be read;
		// report the unpersisted record rather than dropping it.
		res := e.cachedResult()
		res.Messages = append(res.Messages, rec)
		res.LogPersist = PersistStatus{Attempted: true, Err: fmt.Errorf("read message log: %w", err)}
		return res, nil
	}

	logDelta := func(current []domain.MessageRecord) ([]domain.MessageRecord, bool) {
		// A conflict re-apply must not append the dispatched message
		// twice if it already landed through another path.
		for _, r := range current {
			if r.Direction == domain.DirectionOutbound &&
				r.ConversationID == targetID &&
				r.UpstreamMessageID == upstreamID {
				return current, false
			}
		}
		out := make([]domain.MessageRecord, len(current), len(current)+1)
		copy(out, current)
		r := rec
		r.ID = nextID(current)
		return append(out, r), true
	}
	mergedLog, newLogTag, logStatus := persistDocument(ctx, e, e.cfg.LogPath, log, logTag, logDelta)

	roster, rosterTag, err := readDocument[domain.RosterEntry](ctx, e.store, e.cfg.RosterPath)
	var (
		mergedRoster []domain.RosterEntry
		newRosterTag string
		rosterStatus PersistStatus
	)
	if err != nil {
		e.mu.RLock()
		mergedRoster = append([]domain.RosterEntry{}, e.roster...)
		newRosterTag = e.state.RosterTag
		e.mu.RUnlock()
		rosterStatus = PersistStatus{Attempted: true, Err: fmt.Errorf("read roster: %w", err)}
	} else {
		rosterDelta := func(current []domain.RosterEntry) ([]domain.RosterEntry, bool) {
			return applyToRoster(current, rec)
		}
		mergedRoster, newRosterTag, rosterStatus = persistDocument(ctx, e, e.cfg.RosterPath, roster, rosterTag, rosterDelta)
	}

	e.updateCache(mergedLog, mergedRoster, newLogTag, newRosterTag)

	return &SyncResult{
		Messages:      mergedLog,
		Roster:        mergedRoster,
		Appended:      1,
		LogPersist:    logStatus,
		RosterPersist: rosterStatus,
	}, nil
}
