package engine

import (
	"context"
	"fmt"

	"tglite/internal/domain"
)

// Delete removes one record from the log by id and rewrites the whole log
// document. When the record carries an upstream message id, retraction at the
// source is attempted first, best-effort: its failure never blocks local
// deletion. The roster is left untouched.
func (e *Engine) Delete(ctx context.Context, id int64) (*SyncResult, error) {
	log, logTag, err := readDocument[domain.MessageRecord](ctx, e.store, e.cfg.LogPath)
	if err != nil {
		return e.cachedResult(), fmt.Errorf("read message log: %w", err)
	}

	var target *domain.MessageRecord
	for i := range log {
		if log[i].ID == id {
			target = &log[i]
			break
		}
	}
	if target == nil {
		res := e.cachedResult()
		res.Messages = log
		return res, fmt.Errorf("message %d: %w", id, domain.ErrNotFound)
	}

	if target.UpstreamMessageID != 0 {
		if err := e.source.Retract(ctx, target.ConversationID, target.UpstreamMessageID); err != nil {
			e.logger.Warn("upstream retract failed, deleting locally anyway",
				"id", id,
				"upstreamMessageId", target.UpstreamMessageID,
				"error", err,
			)
		}
	}

	logDelta := func(current []domain.MessageRecord) ([]domain.MessageRecord, bool) {
		out := make([]domain.MessageRecord, 0, len(current))
		found := false
		for _, r := range current {
			if r.ID == id {
				found = true
				continue
			}
			out = append(out, r)
		}
		return out, found
	}
	mergedLog, newLogTag, logStatus := persistDocument(ctx, e, e.cfg.LogPath, log, logTag, logDelta)

	e.mu.Lock()
	e.messages = mergedLog
	e.state.LogTag = newLogTag
	roster := append([]domain.RosterEntry{}, e.roster...)
	e.mu.Unlock()

	return &SyncResult{
		Messages:   mergedLog,
		Roster:     roster,
		LogPersist: logStatus,
	}, nil
}
