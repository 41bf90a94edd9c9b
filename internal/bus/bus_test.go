package bus_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execdesk/execdesk/internal/bus"
	apperrors "github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/common/logger"
)

type recordingMirror struct {
	mu   sync.Mutex
	seen []string
	fail bool
}

func (m *recordingMirror) MirrorMessage(msg *bus.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("mirror down")
	}
	m.seen = append(m.seen, msg.ID)
	return nil
}

func (m *recordingMirror) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.seen...)
}

func newTestBus(capacity int) *bus.Bus {
	return bus.New(capacity, logger.NewNop())
}

func TestPublishDeliversToEachRecipient(t *testing.T) {
	b := newTestBus(100)

	msg := bus.NewMessage("ceo-1", []string{"cto-1", "cfo-1"}, "weekly sync", bus.KindNotification, nil)
	require.NoError(t, b.Publish(msg))

	for _, agentID := range []string{"cto-1", "cfo-1"} {
		inbox := b.MessagesFor(agentID, false)
		require.Len(t, inbox, 1)
		assert.Equal(t, msg.ID, inbox[0].ID)
		assert.Equal(t, "weekly sync", inbox[0].Content)
	}
	assert.Empty(t, b.MessagesFor("ceo-1", false))
	assert.Equal(t, 1, b.HistoryLen())
}

func TestPublishValidation(t *testing.T) {
	b := newTestBus(100)

	err := b.Publish(nil)
	require.Error(t, err)

	err = b.Publish(bus.NewMessage("ceo-1", nil, "orphan", bus.KindQuery, nil))
	require.Error(t, err)
	assert.Equal(t, 0, b.HistoryLen())
}

func TestInboxIsFIFOPerRecipient(t *testing.T) {
	b := newTestBus(100)

	var want []string
	for i := 0; i < 5; i++ {
		msg := bus.NewMessage("ceo-1", []string{"cto-1"}, fmt.Sprintf("update %d", i), bus.KindStatusUpdate, nil)
		require.NoError(t, b.Publish(msg))
		want = append(want, msg.ID)
	}

	inbox := b.MessagesFor("cto-1", false)
	require.Len(t, inbox, 5)
	for i, msg := range inbox {
		assert.Equal(t, want[i], msg.ID)
	}
}

func TestMarkReadAndUnreadFilter(t *testing.T) {
	b := newTestBus(100)

	first := bus.NewMessage("ceo-1", []string{"cto-1"}, "one", bus.KindQuery, nil)
	second := bus.NewMessage("ceo-1", []string{"cto-1"}, "two", bus.KindQuery, nil)
	require.NoError(t, b.Publish(first))
	require.NoError(t, b.Publish(second))

	require.NoError(t, b.MarkRead(first.ID, "cto-1"))
	// idempotent
	require.NoError(t, b.MarkRead(first.ID, "cto-1"))

	unread := b.MessagesFor("cto-1", false)
	assert.Len(t, unread, 2)
	unread = b.MessagesFor("cto-1", true)
	require.Len(t, unread, 1)
	assert.Equal(t, second.ID, unread[0].ID)
}

func TestMarkReadRejectsNonParticipants(t *testing.T) {
	b := newTestBus(100)

	msg := bus.NewMessage("ceo-1", []string{"cto-1"}, "private", bus.KindQuery, nil)
	require.NoError(t, b.Publish(msg))

	err := b.MarkRead(msg.ID, "cfo-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	// the sender may mark its own message read
	require.NoError(t, b.MarkRead(msg.ID, "ceo-1"))

	err = b.MarkRead("missing", "cto-1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSubscribedHandlerReceivesMessages(t *testing.T) {
	b := newTestBus(100)

	var mu sync.Mutex
	var got []string
	b.Subscribe("cto-1", func(msg *bus.Message) {
		mu.Lock()
		got = append(got, msg.Content)
		mu.Unlock()
	})

	require.NoError(t, b.Publish(bus.NewMessage("ceo-1", []string{"cto-1"}, "ping", bus.KindQuery, nil)))

	b.Unsubscribe("cto-1")
	require.NoError(t, b.Publish(bus.NewMessage("ceo-1", []string{"cto-1"}, "pong", bus.KindQuery, nil)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ping"}, got)
	// the inbox keeps accumulating regardless of subscription
	assert.Len(t, b.MessagesFor("cto-1", false), 2)
}

func TestPanickingHandlerDoesNotBlockDelivery(t *testing.T) {
	b := newTestBus(100)

	b.Subscribe("cto-1", func(msg *bus.Message) {
		panic("handler bug")
	})
	delivered := false
	b.Subscribe("cfo-1", func(msg *bus.Message) {
		delivered = true
	})

	msg := bus.NewMessage("ceo-1", []string{"cto-1", "cfo-1"}, "broadcast", bus.KindNotification, nil)
	require.NoError(t, b.Publish(msg))
	assert.True(t, delivered)
	assert.Equal(t, 1, b.HistoryLen())
}

func TestHistoryEvictionSkipsStaleInboxEntries(t *testing.T) {
	b := newTestBus(3)

	var all []*bus.Message
	for i := 0; i < 5; i++ {
		msg := bus.NewMessage("ceo-1", []string{"cto-1"}, fmt.Sprintf("msg %d", i), bus.KindStatusUpdate, nil)
		require.NoError(t, b.Publish(msg))
		all = append(all, msg)
	}

	assert.Equal(t, 3, b.HistoryLen())

	// the two oldest were evicted; the inbox silently skips them
	inbox := b.MessagesFor("cto-1", false)
	require.Len(t, inbox, 3)
	assert.Equal(t, all[2].ID, inbox[0].ID)
	assert.Equal(t, all[4].ID, inbox[2].ID)

	_, err := b.GetByID(all[0].ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMirrorsObserveEveryPublish(t *testing.T) {
	b := newTestBus(100)

	healthy := &recordingMirror{}
	broken := &recordingMirror{fail: true}
	b.AddMirror(broken)
	b.AddMirror(healthy)

	first := bus.NewMessage("ceo-1", []string{"cto-1"}, "one", bus.KindQuery, nil)
	second := bus.NewMessage("ceo-1", []string{"cfo-1"}, "two", bus.KindQuery, nil)
	require.NoError(t, b.Publish(first))
	require.NoError(t, b.Publish(second))

	// a failing mirror never blocks publication or the healthy mirror
	assert.Equal(t, []string{first.ID, second.ID}, healthy.ids())
	assert.Equal(t, 2, b.HistoryLen())
}

func TestClearHistory(t *testing.T) {
	b := newTestBus(100)

	require.NoError(t, b.Publish(bus.NewMessage("ceo-1", []string{"cto-1"}, "tmp", bus.KindQuery, nil)))
	require.Equal(t, 1, b.HistoryLen())

	b.ClearHistory()
	assert.Equal(t, 0, b.HistoryLen())
	assert.Empty(t, b.MessagesFor("cto-1", false))
}
