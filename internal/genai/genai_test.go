package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/Paradiso/internal/models"
	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func reply(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: content}}},
	}
}

func TestGeneratePrompt_Success(t *testing.T) {
	mock := &mockChatService{resp: reply("  Hello World \n")}
	client := &Client{chat: mock, model: "test-model"}
	out, err := client.GeneratePrompt(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if string(mock.params.Model) != "test-model" {
		t.Errorf("expected model test-model, got %q", mock.params.Model)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(mock.params.Messages))
	}
}

func TestGeneratePrompt_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.GeneratePrompt(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGeneratePrompt_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: openai.ChatCompletion{}}}
	_, err := client.GeneratePrompt(context.Background(), "sys", "usr")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	year := 1995
	client := &Client{chat: &mockChatService{resp: reply("A crew of thieves and the detective chasing them.")}}
	out, err := client.Describe(context.Background(), models.Item{Title: "Heat", Year: &year, Director: "Michael Mann"})
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if !strings.HasPrefix(out, "A crew") {
		t.Errorf("unexpected description %q", out)
	}

	empty := &Client{chat: &mockChatService{resp: reply("   ")}}
	if _, err := empty.Describe(context.Background(), models.Item{Title: "Heat"}); err == nil {
		t.Error("expected error for empty description")
	}
}

func TestDescribePrompt(t *testing.T) {
	year := 1995
	got := describePrompt(models.Item{
		Title:    "Heat",
		Year:     &year,
		Director: "Michael Mann",
		Actors:   []string{"Al Pacino", "Robert De Niro"},
		Genre:    []string{"Crime"},
	})
	want := "Title: Heat (1995)\nDirector: Michael Mann\nActors: Al Pacino, Robert De Niro\nGenre: Crime"
	if got != want {
		t.Errorf("describePrompt =\n%s\nwant\n%s", got, want)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %q", cli.model)
	}
}
