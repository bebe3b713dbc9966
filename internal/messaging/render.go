package messaging

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/Paradiso/internal/models"
)

// Control tags shared by every selection surface.
const (
	TagCancel = "cancel"
	TagFirst  = "first"
	TagPrev   = "prev"
	TagNext   = "next"
	TagLast   = "last"

	selectPrefix = "select:"
)

// SelectTag builds the tag for the 1-based choice n.
func SelectTag(n int) string {
	return selectPrefix + strconv.Itoa(n)
}

// ParseSelectTag extracts the 1-based choice from a select tag.
func ParseSelectTag(tag string) (int, bool) {
	rest, ok := strings.CutPrefix(tag, selectPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

var replyAliases = map[string]string{
	"cancel":   TagCancel,
	"stop":     TagCancel,
	"first":    TagFirst,
	"prev":     TagPrev,
	"previous": TagPrev,
	"back":     TagPrev,
	"<":        TagPrev,
	"next":     TagNext,
	">":        TagNext,
	"more":     TagNext,
	"last":     TagLast,
}

// ParseReplyTag maps a plain-text reply to a control tag. Numbers become
// select tags.
func ParseReplyTag(text string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return "", false
	}
	if tag, ok := replyAliases[t]; ok {
		return tag, true
	}
	if n, err := strconv.Atoi(t); err == nil && n > 0 && n < 100 {
		return SelectTag(n), true
	}
	return "", false
}

// RenderText flattens msg for text-only transports. Disabled controls are
// left out; their absence tells the user the surface is closed.
func RenderText(msg models.OutboundMessage) string {
	var b strings.Builder
	if msg.Title != "" {
		b.WriteString("*" + msg.Title + "*\n")
	}
	b.WriteString(msg.Body)

	var labels []string
	for _, c := range msg.Controls {
		if !c.Disabled {
			labels = append(labels, replyHint(c))
		}
	}
	if len(labels) > 0 {
		b.WriteString("\n\nReply: " + strings.Join(labels, " · "))
	}
	if msg.Footer != "" {
		b.WriteString("\n_" + msg.Footer + "_")
	}
	return strings.TrimSpace(b.String())
}

func replyHint(c models.Control) string {
	if n, ok := ParseSelectTag(c.Tag); ok {
		return strconv.Itoa(n)
	}
	if c.Label != "" && !strings.EqualFold(c.Label, c.Tag) {
		return fmt.Sprintf("%s (%s)", c.Tag, c.Label)
	}
	return c.Tag
}
