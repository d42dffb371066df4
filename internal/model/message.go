package model

import "time"

// Direction of a logged message relative to the owning account.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Message is one entry of the append-only conversation log. Identity is
// (AccountID, ChatID, MessageID); re-appending the same message is a no-op.
type Message struct {
	AccountID string
	ChatID    int64
	MessageID int
	SenderID  int64
	Text      string
	SentAt    time.Time
	Direction Direction
}

// SyncLogEntry is a write-only audit record.
type SyncLogEntry struct {
	ID        int64
	AccountID string
	CreatedAt time.Time
	Action    string
	Details   string
}

// Sync log actions.
const (
	ActionNewContact   = "new_contact_added"
	ActionEventTagged  = "event_tagged"
	ActionContactEdit  = "contact_edited"
	ActionExport       = "export"
	ActionExportFailed = "export_failed"
)
