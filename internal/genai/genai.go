// Package genai provides GenAI-enhanced operations using OpenAI API.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/Paradiso/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = string(openai.ChatModelGPT4oMini)
	// DefaultMaxCompletionTokens bounds a generated description.
	DefaultMaxCompletionTokens = 200

	describeSystemPrompt = "You write short, spoiler-free movie descriptions for a group movie-night list. " +
		"Reply with two sentences at most and no preamble. If you do not know the movie, describe it only from the details given."
)

// ErrNoChoicesReturned is returned when the API answers with no choices.
var ErrNoChoicesReturned = errors.New("genai: no choices returned")

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// sdkChat adapts the SDK completions service to chatService.
type sdkChat struct {
	completions *openai.ChatCompletionService
}

func (s sdkChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey              string
	Model               string
	MaxCompletionTokens int64
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithMaxCompletionTokens caps the response length.
func WithMaxCompletionTokens(n int64) Option {
	return func(o *Opts) { o.MaxCompletionTokens = n }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat                chatService
	model               string
	maxCompletionTokens int64
}

// NewClient initializes a GenAI client. The API key falls back to OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, MaxCompletionTokens: DefaultMaxCompletionTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: created", "model", cfg.Model, "max_completion_tokens", cfg.MaxCompletionTokens)
	return &Client{
		chat:                sdkChat{completions: &cli.Chat.Completions},
		model:               cfg.Model,
		maxCompletionTokens: cfg.MaxCompletionTokens,
	}, nil
}

// GeneratePrompt returns the model's reply to a system and user prompt pair.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	}
	if c.maxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxCompletionTokens)
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Describe writes a short description for a manually added movie.
func (c *Client) Describe(ctx context.Context, item models.Item) (string, error) {
	out, err := c.GeneratePrompt(ctx, describeSystemPrompt, describePrompt(item))
	if err != nil {
		slog.Warn("Client.Describe: generation failed", "title", item.Title, "error", err)
		return "", err
	}
	if out == "" {
		return "", ErrNoChoicesReturned
	}
	return out, nil
}

func describePrompt(item models.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", item.DisplayTitle())
	if item.Director != "" {
		fmt.Fprintf(&b, "Director: %s\n", item.Director)
	}
	if len(item.Actors) > 0 {
		fmt.Fprintf(&b, "Actors: %s\n", strings.Join(item.Actors, ", "))
	}
	if len(item.Genre) > 0 {
		fmt.Fprintf(&b, "Genre: %s\n", strings.Join(item.Genre, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
