package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// UserToken derives the opaque, non-reversible token stored on vote audit
// records in place of the raw platform user id.
func UserToken(userID string) string {
	h := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(h[:])
}
