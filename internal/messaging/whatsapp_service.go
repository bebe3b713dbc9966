package messaging

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/Paradiso/internal/models"
	"github.com/BTreeMap/Paradiso/internal/whatsapp"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // set when event handling is available
	actions   *actionQueue
	handlerID uint32
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:  client,
		actions: newActionQueue(),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient accepts a phone number or a full JID.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if strings.Contains(recipient, "@") {
		jid, err := whatsapp.ParseDestination(recipient)
		if err != nil {
			return "", err
		}
		return jid.String(), nil
	}
	canonical, err := canonicalPhone(recipient)
	if err != nil {
		return "", err
	}
	return "+" + canonical, nil
}

// Start registers the inbound event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	s.handlerID = s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
			slog.Debug("WhatsAppService ignoring event type", "type", getEventType(v))
		}
	})
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop removes the event handler and closes the actions channel.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	if s.waClient != nil && s.waClient.GetClient() != nil && s.handlerID != 0 {
		s.waClient.GetClient().RemoveEventHandler(s.handlerID)
	}
	s.actions.close()
	return nil
}

// SendMessage renders msg as text and sends it.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, msg models.OutboundMessage) (string, error) {
	if s.actions.isClosed() {
		return "", ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return "", err
	}
	id, err := s.client.SendText(ctx, canonicalTo, RenderText(msg))
	if err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return "", err
	}
	slog.Debug("WhatsAppService message sent", "to", canonicalTo, "message_id", id)
	return id, nil
}

// EditMessage edits a message in place.
func (s *WhatsAppService) EditMessage(ctx context.Context, to, messageID string, msg models.OutboundMessage) error {
	if s.actions.isClosed() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.EditText(ctx, canonicalTo, messageID, RenderText(msg)); err != nil {
		slog.Error("WhatsAppService EditMessage error", "error", err, "to", canonicalTo, "message_id", messageID)
		return err
	}
	return nil
}

// Actions returns inbound user actions.
func (s *WhatsAppService) Actions() <-chan models.Action {
	return s.actions.ch
}

// handleIncomingMessage converts an incoming text message to an Action.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	var text, quotedID string
	if evt.Message.Conversation != nil {
		text = evt.Message.GetConversation()
	} else if ext := evt.Message.GetExtendedTextMessage(); ext != nil && ext.Text != nil {
		text = ext.GetText()
		quotedID = ext.GetContextInfo().GetStanzaID()
	} else {
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	action := inboundAction(
		"+"+evt.Info.Sender.User,
		evt.Info.PushName,
		chatDestination(evt.Info.Chat),
		text,
		quotedID,
		evt.Info.Timestamp,
	)
	action.InboundID = string(evt.Info.ID)
	s.actions.emit("WhatsAppService", action)
}

// chatDestination returns "+<number>" for direct chats and the full JID for groups.
func chatDestination(chat types.JID) string {
	if chat.Server == types.DefaultUserServer {
		return "+" + chat.User
	}
	return chat.String()
}

// getEventType returns a string representation of the event type for logging
func getEventType(evt interface{}) string {
	switch evt.(type) {
	case *events.Message:
		return "Message"
	case *events.Receipt:
		return "Receipt"
	case *events.Presence:
		return "Presence"
	case *events.Connected:
		return "Connected"
	case *events.Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}
