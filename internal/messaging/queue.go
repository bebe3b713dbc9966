package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/Paradiso/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer size of the actions channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an emit waits on a full channel
	DefaultChannelTimeout = 1 * time.Second
)

// actionQueue is a closable actions channel safe for concurrent emitters.
type actionQueue struct {
	mu     sync.RWMutex
	ch     chan models.Action
	closed bool
}

func newActionQueue() *actionQueue {
	return &actionQueue{ch: make(chan models.Action, DefaultChannelBufferSize)}
}

// emit delivers a, dropping it when the queue is closed or stays full.
func (q *actionQueue) emit(source string, a models.Action) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		slog.Warn(source+" dropping inbound action (service stopped)", "from", a.From)
		return false
	}
	select {
	case q.ch <- a:
		slog.Debug(source+" emitted inbound action", "from", a.From, "kind", a.Kind)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(source+" actions channel blocked, dropping action", "from", a.From, "timeout", DefaultChannelTimeout)
		return false
	}
}

func (q *actionQueue) close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.closed = true
	close(q.ch)
	return true
}

func (q *actionQueue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// inboundAction normalizes an inbound text. A reply quoting one of our
// messages whose text reads as a control becomes a button press on it.
func inboundAction(from, name, destination, text, quotedID string, at time.Time) models.Action {
	a := models.Action{
		Kind:        models.ActionText,
		From:        from,
		DisplayName: name,
		Destination: destination,
		Text:        text,
		Time:        at,
	}
	if quotedID == "" {
		return a
	}
	if tag, ok := ParseReplyTag(text); ok {
		a.Kind = models.ActionButton
		a.MessageID = quotedID
		a.Tag = tag
	}
	return a
}

// canonicalPhone strips everything but digits and requires at least 6 of them.
func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errNoDigits(recipient)
	}
	if len(canonical) < 6 {
		return "", errTooShort(canonical)
	}
	return canonical, nil
}
