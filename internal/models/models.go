// Package models defines the core data structures for Paradiso.
//
// It includes items, vote audit records, session and selection state, the
// normalized inbound action, and the JSON envelope used by the HTTP API.
package models

import (
	"errors"
	"strings"
)

// Validation constants for API input
const (
	// MaxTitleLength is the longest accepted item title.
	MaxTitleLength = 200
	// MaxFieldLength bounds director/actors/genre free text.
	MaxFieldLength = 1000
)

// Error variables for request validation
var (
	ErrEmptyItemID    = errors.New("item_id is required")
	ErrEmptyUserID    = errors.New("user_id is required")
	ErrEmptyTitle     = errors.New("title is required")
	ErrTitleTooLong   = errors.New("title exceeds maximum length")
	ErrFieldTooLong   = errors.New("field exceeds maximum length")
	ErrEmptySearchArg = errors.New("query is required")
)

// VoteRequest is the body of POST /votes.
type VoteRequest struct {
	ItemID string `json:"item_id"`
	UserID string `json:"user_id"`
}

// Validate checks the request has both identities.
func (r VoteRequest) Validate() error {
	if strings.TrimSpace(r.ItemID) == "" {
		return ErrEmptyItemID
	}
	if strings.TrimSpace(r.UserID) == "" {
		return ErrEmptyUserID
	}
	return nil
}

// ItemFormRequest is the structured submission of POST /items. Field values
// use the same text conventions as the chat dialogue ("unknown", comma lists).
type ItemFormRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Destination string `json:"destination,omitempty"`
	Title       string `json:"title"`
	Year        string `json:"year"`
	Director    string `json:"director"`
	Actors      string `json:"actors"`
	Genre       string `json:"genre"`
}

// Validate performs shape checks; semantic validation happens in the flow package.
func (r ItemFormRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(r.Title) == "" {
		return ErrEmptyTitle
	}
	if len(r.Title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	for _, f := range []string{r.Director, r.Actors, r.Genre} {
		if len(f) > MaxFieldLength {
			return ErrFieldTooLong
		}
	}
	return nil
}

// Fields returns the request as the generic field map used by form actions.
func (r ItemFormRequest) Fields() map[string]string {
	return map[string]string{
		"title":    r.Title,
		"year":     r.Year,
		"director": r.Director,
		"actors":   r.Actors,
		"genre":    r.Genre,
	}
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusDuplicate indicates the request was a repeat of an earlier one.
	APIStatusDuplicate APIStatus = "duplicate"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithResult(result).Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithMessage(message).WithResult(result).Build()
}

// Duplicate reports an idempotent repeat, e.g. a second vote for the same item.
func Duplicate(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusDuplicate).WithMessage(message).WithResult(result).Build()
}

// ErrorResponse creates an error API response with a message.
func ErrorResponse(message string) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusError).WithMessage(message).Build()
}
