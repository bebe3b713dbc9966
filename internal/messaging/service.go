// Package messaging connects Paradiso to chat transports.
//
// A Service delivers formatted messages, edits previously sent ones, and
// emits normalized inbound actions. The ResponseHandler routes each action
// through an ordered list of hooks.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/BTreeMap/Paradiso/internal/models"
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging: service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Sender is the outbound half of a Service.
type Sender interface {
	// SendMessage delivers msg to a destination and returns the platform message id.
	SendMessage(ctx context.Context, to string, msg models.OutboundMessage) (string, error)
	// EditMessage replaces the content of a previously sent message. Transports
	// without edit support send a new message instead.
	EditMessage(ctx context.Context, to, messageID string, msg models.OutboundMessage) error
}

// Service defines a pluggable chat transport.
type Service interface {
	Sender

	// ValidateAndCanonicalizeRecipient validates and canonicalizes a destination identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// Start begins background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the actions channel.
	Stop() error

	// Actions returns a channel of inbound user actions.
	Actions() <-chan models.Action
}

var errEmptyRecipient = errors.New("recipient cannot be empty")

func errNoDigits(recipient string) error {
	return fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
}

func errTooShort(canonical string) error {
	return fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
}
