package util

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		hexLength  int
		wantPrefix string
		wantLength int // expected total length: prefix + hexLength
	}{
		{
			name:       "vote prefix format",
			prefix:     "v_",
			hexLength:  32,
			wantPrefix: "v_",
			wantLength: 34, // 2 + 32
		},
		{
			name:       "session ID format",
			prefix:     "s_",
			hexLength:  32,
			wantPrefix: "s_",
			wantLength: 34, // 2 + 32
		},
		{
			name:       "custom prefix",
			prefix:     "test_",
			hexLength:  16,
			wantPrefix: "test_",
			wantLength: 21, // 5 + 16
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomID(tt.prefix, tt.hexLength)

			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("GenerateRandomID() = %v, want prefix %v", got, tt.wantPrefix)
			}

			if len(got) != tt.wantLength {
				t.Errorf("GenerateRandomID() length = %v, want %v", len(got), tt.wantLength)
			}

			// Check that the hex part is valid
			hexPart := got[len(tt.wantPrefix):]
			if !isValidHex(hexPart) {
				t.Errorf("GenerateRandomID() hex part = %v is not valid hex", hexPart)
			}
		})
	}
}

func TestGenerateRandomHex(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"zero length", 0, 0},
		{"negative length", -1, 0},
		{"small length", 8, 8},
		{"medium length", 16, 16},
		{"large length", 64, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomHex(tt.length)

			if len(got) != tt.want {
				t.Errorf("GenerateRandomHex() length = %v, want %v", len(got), tt.want)
			}

			if tt.want > 0 && !isValidHex(got) {
				t.Errorf("GenerateRandomHex() = %v is not valid hex", got)
			}
		})
	}
}

func TestRandomIDUniqueness(t *testing.T) {
	const iterations = 1000
	seen := make(map[string]bool)

	for i := 0; i < iterations; i++ {
		id := GenerateRandomID("test_", 16)
		if seen[id] {
			t.Errorf("GenerateRandomID() generated duplicate: %v", id)
		}
		seen[id] = true
	}
}

func TestRandomHexUniqueness(t *testing.T) {
	const iterations = 1000
	seen := make(map[string]bool)

	for i := 0; i < iterations; i++ {
		hex := GenerateRandomHex(16)
		if seen[hex] {
			t.Errorf("GenerateRandomHex() generated duplicate: %v", hex)
		}
		seen[hex] = true
	}
}

// Helper function to validate hex strings
func isValidHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func TestManualItemID(t *testing.T) {
	at := time.Unix(1700000000, 42)
	if got := ManualItemID(at); got != "manual_1700000000000000042" {
		t.Errorf("ManualItemID() = %v", got)
	}
}

func TestVoteRecordID(t *testing.T) {
	token := UserToken("user-1")
	at := time.Unix(1700000000, 0)
	a := VoteRecordID(token, "tt0133093", at)
	b := VoteRecordID(token, "tt0133093", at)

	want := "vote_" + token[:8] + "_tt0133093_1700000000_"
	if !strings.HasPrefix(a, want) {
		t.Errorf("VoteRecordID() = %v, want prefix %v", a, want)
	}
	if a == b {
		t.Error("VoteRecordID() should be unique per call")
	}
	if got := VoteRecordID("abc", "x", at); !strings.HasPrefix(got, "vote_abc_x_") {
		t.Errorf("short token not handled: %v", got)
	}
}

func TestUserToken(t *testing.T) {
	// SHA-256 of "hello"
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := UserToken("hello"); got != want {
		t.Errorf("UserToken(hello) = %s, want %s", got, want)
	}
	if UserToken("alice") == UserToken("bob") {
		t.Error("different users must yield different tokens")
	}
	if len(UserToken("")) != 64 {
		t.Error("token should be 64 hex chars")
	}
}
