// Package testutil provides common test helpers for Paradiso packages.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/Paradiso/internal/models"
	"github.com/BTreeMap/Paradiso/internal/store"
)

// NewItem builds a seed item with the given year, vote count and genres.
func NewItem(id, title string, year, votes int, genre ...string) models.Item {
	return models.Item{
		ID:        id,
		Title:     title,
		Year:      &year,
		Votes:     votes,
		Genre:     genre,
		Source:    "seed",
		AddedDate: time.Now(),
	}
}

// SeedItem inserts one item and fails the test on error.
func SeedItem(t *testing.T, st store.ItemStore, id, title string, year, votes int, genre ...string) models.Item {
	t.Helper()
	item := NewItem(id, title, year, votes, genre...)
	if err := st.InsertItem(context.Background(), item); err != nil {
		t.Fatalf("failed to seed item %s: %v", id, err)
	}
	return item
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeAPIResponse decodes the JSON envelope of rr.
func DecodeAPIResponse(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var response models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rr.Body.String(), err)
	}
	return response
}

// ResultMap returns the envelope result as a JSON object.
func ResultMap(t *testing.T, response models.APIResponse) map[string]interface{} {
	t.Helper()
	m, ok := response.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result is %T, not an object", response.Result)
	}
	return m
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
// A string body is sent verbatim so tests can post malformed JSON.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	switch b := body.(type) {
	case nil:
		reqBody = bytes.NewBuffer(nil)
	case string:
		reqBody = bytes.NewBufferString(b)
	default:
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, b))
	}

	req := httptest.NewRequest(method, url, reqBody)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
