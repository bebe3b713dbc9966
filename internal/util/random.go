// Package util provides utility functions for the Paradiso application.
package util

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Not for cryptographic use.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// ManualItemID derives the id of a manually added item from its creation time.
func ManualItemID(createdAt time.Time) string {
	return fmt.Sprintf("manual_%d", createdAt.UnixNano())
}

// VoteRecordID builds a unique audit record id:
// vote_{token prefix}_{item}_{unix seconds}_{uuid prefix}.
func VoteRecordID(token, itemID string, at time.Time) string {
	prefix := token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("vote_%s_%s_%d_%s", prefix, itemID, at.Unix(), uuid.NewString()[:8])
}
