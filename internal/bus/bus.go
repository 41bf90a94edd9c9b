package bus

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/common/logger"
)

// Handler is a delivery callback registered by an agent.
type Handler func(msg *Message)

// Mirror receives a copy of every published message. Mirror failures are
// logged and never propagate to the publisher.
type Mirror interface {
	MirrorMessage(msg *Message) error
}

// Bus is the process-wide message bus. All methods are safe for concurrent
// use. Delivery to each recipient is FIFO in publish order; there is no
// cross-recipient ordering guarantee.
type Bus struct {
	mu       sync.Mutex
	history  []*Message          // bounded ring, oldest first
	byID     map[string]*Message // live (unevicted) messages
	inboxes  map[string][]string // agent id -> message ids in insertion order
	handlers map[string]Handler
	capacity int
	mirrors  []Mirror
	logger   *logger.Logger
}

// New creates a bus with the given history capacity.
func New(historyCapacity int, log *logger.Logger) *Bus {
	if historyCapacity <= 0 {
		historyCapacity = 10000
	}
	return &Bus{
		byID:     make(map[string]*Message),
		inboxes:  make(map[string][]string),
		handlers: make(map[string]Handler),
		capacity: historyCapacity,
		logger:   log,
	}
}

// AddMirror attaches an observer (a NATS publisher, the websocket event
// stream) that sees every published message.
func (b *Bus) AddMirror(m Mirror) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mirrors = append(b.mirrors, m)
}

// Subscribe registers a delivery callback for an agent. Re-subscription
// replaces the prior callback.
func (b *Bus) Subscribe(agentID string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[agentID] = h
}

// Unsubscribe removes an agent's delivery callback. Its inbox is retained.
func (b *Bus) Unsubscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, agentID)
}

// Publish appends the message to the global history (evicting the oldest
// once over capacity), appends its id to each recipient's inbox, and invokes
// each subscribed recipient's callback. A failing callback is logged and
// does not prevent delivery to other recipients.
func (b *Bus) Publish(msg *Message) error {
	if msg == nil {
		return errors.ValidationError("message", "must not be nil")
	}
	if len(msg.Recipients) == 0 {
		return errors.ValidationError("recipients", "at least one recipient is required")
	}
	if msg.readBy == nil {
		msg.readBy = make(map[string]struct{})
	}

	b.mu.Lock()
	b.history = append(b.history, msg)
	b.byID[msg.ID] = msg
	if len(b.history) > b.capacity {
		evicted := b.history[0]
		b.history = b.history[1:]
		delete(b.byID, evicted.ID)
	}
	// Unknown recipients get an inbox created on first delivery; they may
	// subscribe later.
	for _, r := range msg.Recipients {
		b.inboxes[r] = append(b.inboxes[r], msg.ID)
	}
	handlers := make(map[string]Handler, len(msg.Recipients))
	for _, r := range msg.Recipients {
		if h, ok := b.handlers[r]; ok {
			handlers[r] = h
		}
	}
	mirrors := append([]Mirror(nil), b.mirrors...)
	b.mu.Unlock()

	for agentID, h := range handlers {
		b.deliver(agentID, h, msg)
	}

	for _, mirror := range mirrors {
		if err := mirror.MirrorMessage(msg); err != nil {
			b.logger.Warn("message mirror failed",
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}

	b.logger.Debug("published message",
		zap.String("message_id", msg.ID),
		zap.String("sender", msg.SenderID),
		zap.String("kind", string(msg.Kind)),
		zap.Int("recipients", len(msg.Recipients)))
	return nil
}

// deliver invokes one recipient callback, containing panics.
func (b *Bus) deliver(agentID string, h Handler, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked",
				zap.String("agent_id", agentID),
				zap.String("message_id", msg.ID),
				zap.Any("panic", r))
		}
	}()
	h(msg)
}

// MessagesFor returns the agent's inbox messages in insertion order.
// With unreadOnly set, messages the agent has marked read are skipped.
// Ids referring to history-evicted messages are skipped.
func (b *Bus) MessagesFor(agentID string, unreadOnly bool) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := b.inboxes[agentID]
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		msg, ok := b.byID[id]
		if !ok {
			continue // evicted from history
		}
		if unreadOnly && msg.ReadBy(agentID) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// GetByID returns a message from the live history.
func (b *Bus) GetByID(messageID string) (*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg, ok := b.byID[messageID]
	if !ok {
		return nil, errors.NotFound("message", messageID)
	}
	return msg, nil
}

// MarkRead records a read receipt. Idempotent. Only recipients and the
// sender may mark a message read.
func (b *Bus) MarkRead(messageID, agentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, ok := b.byID[messageID]
	if !ok {
		return errors.NotFound("message", messageID)
	}
	if !msg.isRecipientOrSender(agentID) {
		return errors.Conflict(fmt.Sprintf("agent %s is not a recipient of message %s", agentID, messageID))
	}
	msg.readBy[agentID] = struct{}{}
	return nil
}

// History returns a copy of the global history, oldest first.
func (b *Bus) History() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Message, len(b.history))
	copy(out, b.history)
	return out
}

// HistoryLen returns the number of retained messages.
func (b *Bus) HistoryLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.history)
}

// ClearHistory empties the history and all inboxes.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
	b.byID = make(map[string]*Message)
	b.inboxes = make(map[string][]string)
}
