package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/Paradiso/internal/models"
	"github.com/BTreeMap/Paradiso/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
// Twilio cannot edit sent messages, so EditMessage sends a replacement.
type TwilioService struct {
	client  twiliowhatsapp.Sender
	actions *actionQueue
	now     func() time.Time
}

// NewTwilioService creates a new TwilioService.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:  client,
		actions: newActionQueue(),
		now:     time.Now,
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalPhone(strings.TrimPrefix(recipient, "whatsapp:"))
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return "+" + canonical, nil
}

// Start is a no-op; inbound traffic arrives via TwilioWebhookHandler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the actions channel.
func (s *TwilioService) Stop() error {
	s.actions.close()
	return nil
}

// SendMessage renders msg as text and sends it via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, msg models.OutboundMessage) (string, error) {
	if s.actions.isClosed() {
		return "", ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return "", err
	}
	return s.client.SendText(ctx, canonicalTo, RenderText(msg))
}

// EditMessage sends the new content as a fresh message.
func (s *TwilioService) EditMessage(ctx context.Context, to, messageID string, msg models.OutboundMessage) error {
	slog.Debug("TwilioService edit emulated with a new message", "to", to, "message_id", messageID)
	_, err := s.SendMessage(ctx, to, msg)
	return err
}

// Actions returns inbound user actions.
func (s *TwilioService) Actions() <-chan models.Action {
	return s.actions.ch
}

// TwilioWebhookHandler handles inbound Twilio webhook requests and emits
// them as actions.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	slog.Info("Inbound WhatsApp message from Twilio", "from", from, "sid", r.FormValue("MessageSid"))
	action := inboundAction(
		from,
		r.FormValue("ProfileName"),
		from,
		body,
		r.FormValue("OriginalRepliedMessageSid"),
		s.now(),
	)
	action.InboundID = r.FormValue("MessageSid")
	s.actions.emit("TwilioService", action)

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
