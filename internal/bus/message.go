// Package bus provides the in-process message bus for agent-to-agent
// communication: per-agent inboxes, read receipts and a bounded global
// history.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags a message with its purpose.
type Kind string

const (
	KindTask         Kind = "task"
	KindStatusUpdate Kind = "status_update"
	KindResponse     Kind = "response"
	KindQuery        Kind = "query"
	KindNotification Kind = "notification"
)

// Message is the envelope exchanged between agents. The envelope is
// immutable once published; only the read_by set mutates, and only through
// Bus.MarkRead.
type Message struct {
	ID         string         `json:"id"`
	SenderID   string         `json:"sender_id"`
	Recipients []string       `json:"recipients"`
	Content    string         `json:"content"`
	Kind       Kind           `json:"kind"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`

	// readBy is guarded by the owning bus's mutex.
	readBy map[string]struct{}
}

// NewMessage creates a message with a fresh id and current timestamp.
func NewMessage(senderID string, recipients []string, content string, kind Kind, metadata map[string]any) *Message {
	return &Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		Recipients: recipients,
		Content:    content,
		Kind:       kind,
		Metadata:   metadata,
		Timestamp:  time.Now().UTC(),
		readBy:     make(map[string]struct{}),
	}
}

// ReadBy reports whether the given agent has marked the message read.
// Callers outside the bus should use Bus.MessagesFor(agent, unreadOnly).
func (m *Message) ReadBy(agentID string) bool {
	_, ok := m.readBy[agentID]
	return ok
}

// isRecipientOrSender enforces the read_by ⊆ recipients ∪ {sender} invariant.
func (m *Message) isRecipientOrSender(agentID string) bool {
	if agentID == m.SenderID {
		return true
	}
	for _, r := range m.Recipients {
		if r == agentID {
			return true
		}
	}
	return false
}
