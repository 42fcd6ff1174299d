package domain

import "time"

// Direction classifies who produced a message record.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionSystem   Direction = "system"
)

// SystemConversationID marks control records (e.g. a legacy stored bot token).
// Records under this id never appear in conversation rosters.
const SystemConversationID int64 = 0

// MessageRecord is one entry of the append-style message log. Records are
// immutable after creation; the only removal is a wholesale rewrite of the log.
type MessageRecord struct {
	ID                int64     `json:"id"`
	ConversationID    int64     `json:"conversationId"`
	SenderName        string    `json:"senderName"`
	SenderHandle      string    `json:"senderHandle,omitempty"`
	Text              string    `json:"text"`
	Direction         Direction `json:"direction"`
	ObservedAt        time.Time `json:"observedAt"`
	UpstreamMessageID int       `json:"upstreamMessageId,omitempty"`
}

// System reports whether the record is a control record rather than part of a
// user conversation.
func (m MessageRecord) System() bool {
	return m.ConversationID == SystemConversationID || m.Direction == DirectionSystem
}

// RosterEntry is the summary state for one known conversation. There is
// exactly one entry per distinct non-system conversation id in the log.
type RosterEntry struct {
	ConversationID  int64     `json:"conversationId"`
	DisplayName     string    `json:"displayName"`
	Handle          string    `json:"handle,omitempty"`
	LastMessageText string    `json:"lastMessageText"`
	LastMessageAt   time.Time `json:"lastMessageAt"`
	FirstContactAt  time.Time `json:"firstContactAt"`
}

// SyncState carries the revision tags observed on the most recent successful
// reads of the two persisted documents. It is never persisted itself.
type SyncState struct {
	LogTag    string
	RosterTag string
}
