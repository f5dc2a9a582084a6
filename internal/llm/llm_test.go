package llm

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

type stubGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)
	calls        int
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	s.calls++
	return s.GenerateFunc(ctx, prompt)
}

func TestNewClient_NoAPIKey(t *testing.T) {
	_, err := NewClient("", "", TextGenerationOptions{})
	if err == nil {
		t.Fatal("Expected error when no API key is available")
	}
	if !strings.Contains(err.Error(), "gemini API key is required") {
		t.Errorf("Expected API key error, got: %v", err)
	}
}

func TestNewClient_DefaultModel(t *testing.T) {
	client, err := NewClient("test-key", "", TextGenerationOptions{})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	if client.ModelName() != DefaultModel {
		t.Errorf("Expected model %q, got %q", DefaultModel, client.ModelName())
	}
}

func TestGenerateText_EmptyPrompt(t *testing.T) {
	client, err := NewClient("test-key", "gemini-1.5-flash", TextGenerationOptions{})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.GenerateText(context.Background(), "   ", TextGenerationOptions{}); err == nil {
		t.Error("Expected error for empty prompt")
	}
}

func TestGenerationConfig(t *testing.T) {
	if cfg := generationConfig(TextGenerationOptions{}); cfg != nil {
		t.Error("Expected nil config when no options are set")
	}

	cfg := generationConfig(TextGenerationOptions{MaxTokens: 512, Temperature: 0.4})
	if cfg == nil {
		t.Fatal("Expected config")
	}
	if cfg.MaxOutputTokens != 512 {
		t.Errorf("Expected 512 max tokens, got %d", cfg.MaxOutputTokens)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.4 {
		t.Errorf("Expected temperature 0.4, got %v", cfg.Temperature)
	}
}

func TestGenerateText_Integration(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("GEMINI_API_KEY not set, skipping integration test")
	}

	client, err := NewClient(apiKey, "", TextGenerationOptions{MaxTokens: 64})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	text, err := client.Generate(context.Background(), "Reply with the single word: tamam")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if strings.TrimSpace(text) == "" {
		t.Error("Expected non-empty response")
	}
}

func TestTracedClient_PassesThrough(t *testing.T) {
	stub := &stubGenerator{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		return "echo: " + prompt, nil
	}}
	tc := NewTracedClient(stub, "test-model", "evaluation_narrative", nil)

	got, err := tc.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "echo: hi" || stub.calls != 1 {
		t.Errorf("Unexpected result %q after %d calls", got, stub.calls)
	}
}

func TestTracedClient_PropagatesError(t *testing.T) {
	want := errors.New("quota exceeded")
	stub := &stubGenerator{GenerateFunc: func(ctx context.Context, prompt string) (string, error) {
		return "", want
	}}
	tc := NewTracedClient(stub, "test-model", "aggregate_report", nil)

	if _, err := tc.Generate(context.Background(), "hi"); !errors.Is(err, want) {
		t.Errorf("Expected %v, got %v", want, err)
	}
}
