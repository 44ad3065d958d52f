package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docutag/brandscan/models"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantName string
		wantErr  bool
	}{
		{name: "empty provider defaults to ollama", cfg: Config{}, wantName: ProviderOllama},
		{name: "ollama", cfg: Config{Provider: "Ollama"}, wantName: ProviderOllama},
		{name: "anthropic", cfg: Config{Provider: "anthropic", APIKey: "k"}, wantName: ProviderAnthropic},
		{name: "anthropic without key", cfg: Config{Provider: "anthropic"}, wantErr: true},
		{name: "openai", cfg: Config{Provider: "openai", APIKey: "k"}, wantName: ProviderOpenAI},
		{name: "openai without key", cfg: Config{Provider: "openai"}, wantErr: true},
		{name: "unknown", cfg: Config{Provider: "mystery"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client.Name() != tt.wantName {
				t.Errorf("expected %s, got %s", tt.wantName, client.Name())
			}
		})
	}
}

func TestOllamaComplete(t *testing.T) {
	var got models.OllamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(models.OllamaResponse{Response: `{"business_name":"Acme"}`, Done: true})
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL+"/", "test-model", nil)
	out, err := client.Complete(context.Background(), Request{
		System:      "sys",
		Prompt:      "hello",
		Temperature: 0.4,
		MaxTokens:   1000,
		JSON:        true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"business_name":"Acme"}` {
		t.Errorf("unexpected response %q", out)
	}
	if got.Model != "test-model" || got.Prompt != "hello" || got.System != "sys" {
		t.Errorf("unexpected request %+v", got)
	}
	if got.Stream {
		t.Error("expected non-streaming request")
	}
	if got.Format != "json" {
		t.Errorf("expected json format, got %q", got.Format)
	}
	if got.Options == nil || got.Options.Temperature != 0.4 || got.Options.NumPredict != 1000 {
		t.Errorf("unexpected options %+v", got.Options)
	}
}

func TestOllamaCompleteHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "", nil)
	_, err := client.Complete(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("expected status in error, got %v", err)
	}
}
