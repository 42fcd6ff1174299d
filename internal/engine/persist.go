package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tglite/internal/domain"
	"tglite/internal/metrics"
)

// PersistStatus reports the outcome of one document's persist step.
type PersistStatus struct {
	// Attempted is false when the delta produced no change and no write
	// was issued.
	Attempted bool
	Persisted bool
	Err       error
}

// Failed reports whether a write was needed but did not land.
func (p PersistStatus) Failed() bool { return p.Attempted && !p.Persisted }

// readDocument loads and parses a JSON list document. An absent path is an
// empty initial document, not an error.
func readDocument[T any](ctx context.Context, st domain.DocumentStore, path string) ([]T, string, error) {
	doc, tag, err := st.Read(ctx, path)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	var out []T
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &out); err != nil {
			return nil, "", fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return out, tag, nil
}

func marshalDocument[T any](v []T) ([]byte, error) {
	if v == nil {
		v = []T{}
	}
	return json.MarshalIndent(v, "", "  ")
}

// persistDocument applies delta to the current document and writes the result
// with the optimistic-concurrency discipline: on a conflict the document is
// re-read and the same logical delta re-applied to the fresh content, up to
// the configured attempt bound. The returned slice is the best-known merged
// state whether or not the write landed.
func persistDocument[T any](ctx context.Context, e *Engine, path string, current []T, tag string, delta func([]T) ([]T, bool)) ([]T, string, PersistStatus) {
	next, changed := delta(current)
	if !changed {
		return current, tag, PersistStatus{}
	}

	status := PersistStatus{Attempted: true}
	for attempt := 1; ; attempt++ {
		doc, err := marshalDocument(next)
		if err != nil {
			status.Err = fmt.Errorf("encode %s: %w", path, err)
			return next, tag, status
		}

		newTag, err := e.store.Write(ctx, path, doc, tag)
		if err == nil {
			status.Persisted = true
			return next, newTag, status
		}

		if errors.Is(err, domain.ErrConflict) {
			metrics.WriteConflicts.Inc()
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= e.cfg.MaxWriteAttempts {
			metrics.PersistFailures.Inc()
			status.Err = fmt.Errorf("persist %s: %w", path, err)
			return next, tag, status
		}

		e.logger.Warn("write conflict, re-reading document",
			"path", path,
			"attempt", attempt,
		)

		fresh, freshTag, err := readDocument[T](ctx, e.store, path)
		if err != nil {
			metrics.PersistFailures.Inc()
			status.Err = fmt.Errorf("re-read %s after conflict: %w", path, err)
			return next, tag, status
		}
		tag = freshTag
		next, changed = delta(fresh)
		if !changed {
			// The concurrent writer already carried this delta; the
			// documents have converged without our write.
			status.Persisted = true
			return fresh, freshTag, status
		}
	}
}
