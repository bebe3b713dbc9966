package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/Paradiso/internal/models"
	"github.com/BTreeMap/Paradiso/internal/util"
)

// DefaultHelpHint is sent when no hook handles a text message.
const DefaultHelpHint = "I didn't understand that. Send /help to see what I can do."

// ActionHook processes one inbound action. It returns true when the action
// was handled and later hooks must not see it.
type ActionHook func(ctx context.Context, action models.Action) (handled bool, err error)

// Deduplicator remembers inbound message ids. Platforms redeliver after
// reconnects and webhook retries.
type Deduplicator interface {
	RecordInbound(ctx context.Context, messageID, userToken string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

type senderQueue struct {
	pending []models.Action
}

type namedHook struct {
	name string
	hook ActionHook
}

// ResponseHandler routes inbound actions through an ordered list of hooks.
type ResponseHandler struct {
	mu             sync.RWMutex
	hooks          []namedHook
	msgService     Service
	defaultMessage string
	dedup          Deduplicator
	wg             sync.WaitGroup

	qmu    sync.Mutex
	queues map[string]*senderQueue
}

// NewResponseHandler creates a new ResponseHandler with the given messaging service.
func NewResponseHandler(msgService Service) *ResponseHandler {
	return &ResponseHandler{
		msgService:     msgService,
		defaultMessage: DefaultHelpHint,
		queues:         make(map[string]*senderQueue),
	}
}

// RegisterHook appends a hook. Hooks run in registration order.
func (rh *ResponseHandler) RegisterHook(name string, hook ActionHook) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.hooks = append(rh.hooks, namedHook{name: name, hook: hook})
	slog.Debug("ResponseHandler hook registered", "name", name, "position", len(rh.hooks))
}

// HookNames lists registered hooks in dispatch order.
func (rh *ResponseHandler) HookNames() []string {
	rh.mu.RLock()
	defer rh.mu.RUnlock()
	names := make([]string, len(rh.hooks))
	for i, h := range rh.hooks {
		names[i] = h.name
	}
	return names
}

// SetDefaultMessage sets the reply for unhandled text messages.
func (rh *ResponseHandler) SetDefaultMessage(message string) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.defaultMessage = message
}

// SetDeduplicator drops actions whose InboundID was already recorded.
func (rh *ResponseHandler) SetDeduplicator(d Deduplicator) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.dedup = d
}

// ProcessAction runs the hooks for one action. A failing hook ends
// dispatch; the user gets a message derived from the error.
func (rh *ResponseHandler) ProcessAction(ctx context.Context, action models.Action) error {
	rh.mu.RLock()
	hooks := append([]namedHook(nil), rh.hooks...)
	defaultMessage := rh.defaultMessage
	dedup := rh.dedup
	rh.mu.RUnlock()

	slog.Debug("ResponseHandler processing action", "from", action.From, "kind", action.Kind, "destination", action.Destination)

	if dedup != nil && action.InboundID != "" {
		fresh, err := dedup.RecordInbound(ctx, action.InboundID, util.UserToken(action.From))
		if err != nil {
			// Best effort: dispatch anyway.
			slog.Warn("ResponseHandler dedup check failed", "error", err, "inbound_id", action.InboundID)
		} else if !fresh {
			slog.Info("ResponseHandler dropping redelivered message", "inbound_id", action.InboundID, "from", action.From)
			return nil
		}
		defer func() {
			if err := dedup.MarkProcessed(context.WithoutCancel(ctx), action.InboundID); err != nil {
				slog.Warn("ResponseHandler failed to mark message processed", "error", err, "inbound_id", action.InboundID)
			}
		}()
	}

	for _, h := range hooks {
		handled, err := h.hook(ctx, action)
		if err != nil {
			slog.Error("ResponseHandler hook failed", "hook", h.name, "error", err, "from", action.From)
			if _, sendErr := rh.msgService.SendMessage(ctx, action.Destination, models.Text(models.UserMessage(err))); sendErr != nil {
				slog.Error("ResponseHandler failed to send error message", "error", sendErr, "to", action.Destination)
			}
			return fmt.Errorf("hook %s failed: %w", h.name, err)
		}
		if handled {
			slog.Debug("ResponseHandler action handled", "hook", h.name, "from", action.From)
			return nil
		}
	}

	if action.Kind != models.ActionText {
		slog.Debug("ResponseHandler dropping unhandled action", "kind", action.Kind, "from", action.From)
		return nil
	}
	// Group chatter that is not a command gets no reply.
	if !action.IsDirect() && !strings.HasPrefix(strings.TrimSpace(action.Text), "/") {
		slog.Debug("ResponseHandler ignoring group chatter", "from", action.From, "destination", action.Destination)
		return nil
	}
	if _, err := rh.msgService.SendMessage(ctx, action.Destination, models.Text(defaultMessage)); err != nil {
		slog.Error("ResponseHandler failed to send default response", "error", err, "to", action.Destination)
		return fmt.Errorf("failed to send default response: %w", err)
	}
	return nil
}

// Start consumes the service's actions until the channel closes or ctx is
// done. Actions from one sender run in arrival order; different senders
// run concurrently.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting action processing")
	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		defer slog.Info("ResponseHandler stopped action processing")
		for {
			select {
			case action, ok := <-rh.msgService.Actions():
				if !ok {
					slog.Debug("ResponseHandler actions channel closed")
					return
				}
				rh.enqueue(ctx, action)
			case <-ctx.Done():
				slog.Debug("ResponseHandler stopping due to context cancellation")
				return
			}
		}
	}()
}

// enqueue appends action to its sender's queue, starting a drain worker
// when the sender has none.
func (rh *ResponseHandler) enqueue(ctx context.Context, action models.Action) {
	rh.qmu.Lock()
	if q, ok := rh.queues[action.From]; ok {
		q.pending = append(q.pending, action)
		rh.qmu.Unlock()
		return
	}
	q := &senderQueue{pending: []models.Action{action}}
	rh.queues[action.From] = q
	rh.qmu.Unlock()

	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		rh.drain(ctx, action.From, q)
	}()
}

func (rh *ResponseHandler) drain(ctx context.Context, from string, q *senderQueue) {
	for {
		rh.qmu.Lock()
		if len(q.pending) == 0 {
			delete(rh.queues, from)
			rh.qmu.Unlock()
			return
		}
		action := q.pending[0]
		q.pending = q.pending[1:]
		rh.qmu.Unlock()

		if err := rh.ProcessAction(ctx, action); err != nil {
			slog.Error("ResponseHandler failed to process action", "error", err, "from", action.From)
		}
	}
}

// Wait blocks until the processing loop and in-flight actions finish.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}
