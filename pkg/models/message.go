package models

import "fmt"

// DeleteType selects the deletion behavior of MessageStore.DeleteMessage.
type DeleteType string

const (
	// DeleteHard removes the message from the box index and scrubs the row.
	DeleteHard DeleteType = "hard"
	// DeleteSoft marks the row deleted; it stays indexed and is served scrubbed.
	DeleteSoft DeleteType = "soft"
	// DeleteLeaf hard-deletes when the message has no replies, else soft-deletes.
	DeleteLeaf DeleteType = "leaf"
)

// Valid reports whether t is a known delete type.
func (t DeleteType) Valid() bool {
	switch t {
	case DeleteHard, DeleteSoft, DeleteLeaf:
		return true
	}
	return false
}

// Message is one entry in a message box. ID is derived from the box id and
// the creation timestamp and never changes.
type Message struct {
	ID           string `json:"id"`
	MessageBoxID string `json:"message_box_id"`
	ThreadKey    string `json:"thread_key"`
	Body         string `json:"body,omitempty"`
	CreatedBy    string `json:"created_by,omitempty"`
	// Created is milliseconds since epoch; unique within the locking scope.
	Created int64 `json:"created"`
	// Level is the nesting depth, 0 for a top-level message.
	Level int `json:"level"`
	// ReplyTo is the Created of the immediate parent, nil for top-level.
	ReplyTo *int64 `json:"reply_to,omitempty"`
	// Deleted holds the soft-delete timestamp, nil while the message is live.
	Deleted *int64 `json:"deleted,omitempty"`
	// Scrubbed marks a projection with Body and CreatedBy removed, so a
	// scrubbed record cannot be mistaken for an actually-empty message.
	Scrubbed bool `json:"scrubbed,omitempty"`
}

// MessageID builds the canonical message id from its two components.
func MessageID(messageBoxID string, created int64) string {
	return fmt.Sprintf("%s#%d", messageBoxID, created)
}

// Scrub returns a copy stripped down to structural fields. Scrubbing an
// already scrubbed message is a no-op.
func (m Message) Scrub() Message {
	m.Body = ""
	m.CreatedBy = ""
	m.Scrubbed = true
	return m
}

// Contribution marks recent activity of one contributor in a message box.
// Rows expire and are refreshed on every message creation.
type Contribution struct {
	MessageBoxID  string `json:"message_box_id"`
	ContributorID string `json:"contributor_id"`
	// LastActive is the Created of the contributor's newest message (ms).
	LastActive int64 `json:"last_active"`
	// Expires is the unix ms timestamp past which the row is dead.
	Expires int64 `json:"expires"`
}

// Tombstone records the former identity of a hard-deleted message so it can
// be recovered for diagnostics.
type Tombstone struct {
	MessageBoxID string `json:"message_box_id"`
	Created      int64  `json:"created"`
	ThreadKey    string `json:"thread_key"`
	DeletedAt    int64  `json:"deleted_at"`
}
