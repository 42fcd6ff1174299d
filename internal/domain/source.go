package domain

import (
	"context"
	"fmt"
)

// RawEvent is one message observed at the upstream source during a poll.
type RawEvent struct {
	ConversationID    int64
	SenderName        string
	SenderHandle      string
	Text              string
	UpstreamMessageID int
}

// MessageSource is the upstream conversational message source. Delivery is
// at-least-once and possibly duplicated across polls; the service, not the
// client, owns the acknowledgment cursor.
type MessageSource interface {
	// PollNew returns all events the service considers unacknowledged, in
	// arrival order. The sequence may be empty and may replay events seen
	// in earlier polls.
	PollNew(ctx context.Context) ([]RawEvent, error)

	// Dispatch sends text to the target conversation synchronously and
	// returns the source-assigned message id.
	Dispatch(ctx context.Context, targetID int64, text string) (upstreamMessageID int, err error)

	// Retract asks the source to delete a previously dispatched message.
	// Best-effort only; callers must not treat failure as fatal.
	Retract(ctx context.Context, targetID int64, upstreamMessageID int) error
}

// RejectedError carries an upstream rejection with the source's own error
// detail verbatim. Rejections are never retried.
type RejectedError struct{ Detail string }

func (e *RejectedError) Error() string { return fmt.Sprintf("upstream rejected: %s", e.Detail) }
