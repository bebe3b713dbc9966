package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/BTreeMap/Paradiso/internal/models"
)

// SentMessage records one outbound message captured by MockService.
type SentMessage struct {
	ID      string
	To      string
	Message models.OutboundMessage
}

// EditedMessage records one edit captured by MockService.
type EditedMessage struct {
	To        string
	MessageID string
	Message   models.OutboundMessage
}

// MockService is an in-memory Service for tests and dry runs.
type MockService struct {
	mu      sync.Mutex
	nextID  int
	Sent    []SentMessage
	Edits   []EditedMessage
	SendErr error
	EditErr error
	actions chan models.Action
	stopped bool
}

// NewMockService creates a MockService.
func NewMockService() *MockService {
	return &MockService{actions: make(chan models.Action, DefaultChannelBufferSize)}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	return recipient, nil
}

func (m *MockService) SendMessage(ctx context.Context, to string, msg models.OutboundMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.nextID++
	id := fmt.Sprintf("msg-%d", m.nextID)
	m.Sent = append(m.Sent, SentMessage{ID: id, To: to, Message: msg})
	return id, nil
}

func (m *MockService) EditMessage(ctx context.Context, to, messageID string, msg models.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EditErr != nil {
		return m.EditErr
	}
	m.Edits = append(m.Edits, EditedMessage{To: to, MessageID: messageID, Message: msg})
	return nil
}

func (m *MockService) Start(ctx context.Context) error { return nil }

func (m *MockService) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		close(m.actions)
	}
	return nil
}

func (m *MockService) Actions() <-chan models.Action { return m.actions }

// Emit injects an inbound action.
func (m *MockService) Emit(a models.Action) {
	m.actions <- a
}

// SentMessages returns a copy of everything sent so far.
func (m *MockService) SentMessages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}

// EditedMessages returns a copy of every edit so far.
func (m *MockService) EditedMessages() []EditedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EditedMessage(nil), m.Edits...)
}

// LastSentTo returns the newest message sent to a destination.
func (m *MockService) LastSentTo(to string) (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Sent) - 1; i >= 0; i-- {
		if m.Sent[i].To == to {
			return m.Sent[i], true
		}
	}
	return SentMessage{}, false
}
