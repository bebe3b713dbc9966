package models

import "time"

// ActionKind is the input surface an Action arrived on.
type ActionKind string

const (
	ActionText   ActionKind = "text"
	ActionButton ActionKind = "button"
	ActionForm   ActionKind = "form"
)

// Action is a normalized inbound user action from any transport.
type Action struct {
	Kind        ActionKind        `json:"kind"`
	From        string            `json:"from"`
	DisplayName string            `json:"display_name,omitempty"`
	Destination string            `json:"destination"`
	MessageID   string            `json:"message_id,omitempty"` // message carrying the pressed control
	InboundID   string            `json:"inbound_id,omitempty"` // platform id of the inbound message
	Tag         string            `json:"tag,omitempty"`
	Text        string            `json:"text,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	Time        time.Time         `json:"time"`
}

// Name returns the display name, falling back to the sender id.
func (a Action) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.From
}

// IsDirect reports whether the action arrived in a one-to-one chat.
func (a Action) IsDirect() bool {
	return a.Destination == a.From
}

// Control is one interactive element attached to an outbound message.
type Control struct {
	Tag      string `json:"tag"`
	Label    string `json:"label"`
	Disabled bool   `json:"disabled,omitempty"`
}

// OutboundMessage is a formatted reply with optional controls.
type OutboundMessage struct {
	Title    string    `json:"title,omitempty"`
	Body     string    `json:"body"`
	Footer   string    `json:"footer,omitempty"`
	Controls []Control `json:"controls,omitempty"`
}

// Text builds a plain message with no controls.
func Text(body string) OutboundMessage {
	return OutboundMessage{Body: body}
}

// DisableAll returns a copy of m with every control disabled.
func (m OutboundMessage) DisableAll() OutboundMessage {
	out := m
	out.Controls = make([]Control, len(m.Controls))
	for i, c := range m.Controls {
		c.Disabled = true
		out.Controls[i] = c
	}
	return out
}
