// Package engine implements the message synchronization and reconciliation
// core: it polls the upstream source, merges new events into the persisted
// message log without duplication, keeps the conversation roster consistent
// with the log, and commits both documents back to the versioned remote store
// with optimistic-concurrency writes.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"tglite/internal/domain"
	"tglite/internal/metrics"
)

const legacyTokenPrefix = "/settoken "

type Config struct {
	LogPath          string
	RosterPath       string
	DedupWindow      time.Duration
	MaxWriteAttempts int
	BotDisplayName   string
}

func (c *Config) applyDefaults() {
	if c.LogPath == "" {
		c.LogPath = "chats.json"
	}
	if c.RosterPath == "" {
		c.RosterPath = "users.json"
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 5 * time.Second
	}
	if c.MaxWriteAttempts <= 0 {
		c.MaxWriteAttempts = 3
	}
	if c.BotDisplayName == "" {
		c.BotDisplayName = "Bot"
	}
}

// Engine is the sole writer of the message log and roster documents. The
// remote store is the system of record; the engine's in-memory copy is a
// cache derived from the most recent successful read.
type Engine struct {
	store  domain.DocumentStore
	source domain.MessageSource
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	messages []domain.MessageRecord
	roster   []domain.RosterEntry
	state    domain.SyncState
}

// SyncResult is the merged in-memory state after one engine operation plus an
// explicit persist outcome per document. The two documents are persisted
// independently; a partial persist is reported, never rolled back.
type SyncResult struct {
	Messages      []domain.MessageRecord
	Roster        []domain.RosterEntry
	Appended      int
	LogPersist    PersistStatus
	RosterPersist PersistStatus
}

func New(store domain.DocumentStore, source domain.MessageSource, cfg Config, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		source: source,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Sync runs one poll/merge/persist cycle and returns the merged state for
// immediate display regardless of whether a persist step was needed.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	start := e.now()

	log, logTag, err := readDocument[domain.MessageRecord](ctx, e.store, e.cfg.LogPath)
	if err != nil {
		metrics.SyncFailures.Inc()
		return e.cachedResult(), fmt.Errorf("read message log: %w", err)
	}
	roster, rosterTag, err := readDocument[domain.RosterEntry](ctx, e.store, e.cfg.RosterPath)
	if err != nil {
		metrics.SyncFailures.Inc()
		return e.cachedResult(), fmt.Errorf("read roster: %w", err)
	}

	events, err := e.source.PollNew(ctx)
	if err != nil {
		e.updateCache(log, roster, logTag, rosterTag)
		metrics.SyncFailures.Inc()
		return e.cachedResult(), fmt.Errorf("poll upstream: %w", err)
	}
	metrics.EventsPolled.Add(int64(len(events)))

	observedAt := e.now()
	candidates := make([]domain.MessageRecord, 0, len(events))
	for _, ev := range events {
		if ev.Text == "" {
			continue
		}
		candidates = append(candidates, domain.MessageRecord{
			ConversationID:    ev.ConversationID,
			SenderName:        ev.SenderName,
			SenderHandle:      ev.SenderHandle,
			Text:              ev.Text,
			Direction:         domain.DirectionInbound,
			ObservedAt:        observedAt,
			UpstreamMessageID: ev.UpstreamMessageID,
		})
	}

	// The closure re-runs on every conflict re-read so the merge always
	// reflects the freshest document; appended tracks the last application.
	var appended []domain.MessageRecord
	logDelta := func(current []domain.MessageRecord) ([]domain.MessageRecord, bool) {
		var merged []domain.MessageRecord
		merged, appended = mergeInbound(current, candidates, e.cfg.DedupWindow)
		return merged, len(appended) > 0
	}
	mergedLog, newLogTag, logStatus := persistDocument(ctx, e, e.cfg.LogPath, log, logTag, logDelta)

	metrics.RecordsAppended.Add(int64(len(appended)))
	metrics.DedupHits.Add(int64(len(candidates) - len(appended)))

	rosterDelta := func(current []domain.RosterEntry) ([]domain.RosterEntry, bool) {
		return applyAllToRoster(current, appended)
	}
	mergedRoster, newRosterTag, rosterStatus := persistDocument(ctx, e, e.cfg.RosterPath, roster, rosterTag, rosterDelta)

	e.updateCache(mergedLog, mergedRoster, newLogTag, newRosterTag)
	e.observeCycle(start, mergedLog, mergedRoster)

	if logStatus.Failed() {
		e.logger.Error("message log persist failed", "error", logStatus.Err)
	}
	if rosterStatus.Failed() {
		e.logger.Error("roster persist failed", "error", rosterStatus.Err)
	}

	return &SyncResult{
		Messages:      mergedLog,
		Roster:        mergedRoster,
		Appended:      len(appended),
		LogPersist:    logStatus,
		RosterPersist: rosterStatus,
	}, nil
}

// Messages returns the current message log from a fresh store read. On a
// transient read failure the cached snapshot is returned alongside the error.
func (e *Engine) Messages(ctx context.Context) ([]domain.MessageRecord, error) {
	log, tag, err := readDocument[domain.MessageRecord](ctx, e.store, e.cfg.LogPath)
	if err != nil {
		e.mu.RLock()
		defer e.mu.RUnlock()
		return slices.Clone(e.messages), fmt.Errorf("read message log: %w", err)
	}
	e.mu.Lock()
	e.messages = log
	e.state.LogTag = tag
	e.mu.Unlock()
	return slices.Clone(log), nil
}

// Roster returns the current roster from a fresh store read, with the same
// cache fallback as Messages.
func (e *Engine) Roster(ctx context.Context) ([]domain.RosterEntry, error) {
	roster, tag, err := readDocument[domain.RosterEntry](ctx, e.store, e.cfg.RosterPath)
	if err != nil {
		e.mu.RLock()
		defer e.mu.RUnlock()
		return slices.Clone(e.roster), fmt.Errorf("read roster: %w", err)
	}
	e.mu.Lock()
	e.roster = roster
	e.state.RosterTag = tag
	e.mu.Unlock()
	return slices.Clone(roster), nil
}

// BotToken scans the log for a legacy "/settoken" control record under the
// system conversation. Migration fallback only; the engine never writes such
// records.
func (e *Engine) BotToken(ctx context.Context) (string, error) {
	msgs, err := e.Messages(ctx)
	if err != nil && len(msgs) == 0 {
		return "", err
	}
	for _, rec := range msgs {
		if rec.ConversationID == domain.SystemConversationID && strings.HasPrefix(rec.Text, legacyTokenPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(rec.Text, legacyTokenPrefix)), nil
		}
	}
	return "", nil
}

func (e *Engine) updateCache(log []domain.MessageRecord, roster []domain.RosterEntry, logTag, rosterTag string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = log
	e.roster = roster
	e.state = domain.SyncState{LogTag: logTag, RosterTag: rosterTag}
}

func (e *Engine) cachedResult() *SyncResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &SyncResult{
		Messages: slices.Clone(e.messages),
		Roster:   slices.Clone(e.roster),
	}
}

func (e *Engine) observeCycle(start time.Time, log []domain.MessageRecord, roster []domain.RosterEntry) {
	metrics.SyncCycles.Inc()
	metrics.SyncDuration.Observe(e.now().Sub(start).Seconds())
	metrics.LogRecords.Set(int64(len(log)))
	metrics.RosterEntries.Set(int64(len(roster)))
}
