package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/incidentsuite/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnalyzerRejectsUnusableConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AnalyzerConfig
	}{
		{name: "unknown provider", cfg: config.AnalyzerConfig{Provider: "watson"}},
		{name: "openai without key", cfg: config.AnalyzerConfig{Provider: config.ProviderOpenAI}},
		{name: "anthropic without key", cfg: config.AnalyzerConfig{Provider: config.ProviderAnthropic}},
		{name: "openrouter without key", cfg: config.AnalyzerConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAnalyzer(tt.cfg)
			assert.ErrorIs(t, err, ErrNoProvider)
		})
	}

	ls, err := NewAnalyzer(config.AnalyzerConfig{Provider: config.ProviderOllama})
	require.NoError(t, err)
	assert.Equal(t, "llama2:13b", ls.Model())
}

func TestOllamaAnalyze(t *testing.T) {
	var got OllamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(OllamaGenerateResponse{Response: "[]", Done: true})
	}))
	defer srv.Close()

	tracker := NewCallTracker(10)
	ls, err := NewAnalyzer(config.AnalyzerConfig{Provider: config.ProviderOllama, BaseURL: srv.URL, Model: "llama3"}, WithCallTracker(tracker))
	require.NoError(t, err)

	ctx := ContextWithRunID(context.Background(), "run-42")
	out, err := ls.Analyze(ctx, AnalyzerRequest{Task: CallIssueDerivation, System: "sys", Payload: map[string]int{"a": 1}})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "sys", got.System)
	assert.False(t, got.Stream)
	assert.InDelta(t, 0.2, got.Options["temperature"], 1e-9)
	assert.JSONEq(t, `{"a":1}`, got.Prompt)

	calls := tracker.List()
	require.Len(t, calls, 1)
	assert.Equal(t, "issue_derivation", calls[0].CallType)
	assert.Equal(t, "run-42", calls[0].RunID)
	assert.Equal(t, http.StatusOK, calls[0].Status)
	assert.Empty(t, calls[0].Error)
}

func TestChatCompletionsAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Equal(t, "raw text", req.Messages[1].Content)

		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	ls, err := NewAnalyzer(config.AnalyzerConfig{Provider: config.ProviderOpenAI, APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := ls.Analyze(context.Background(), AnalyzerRequest{Task: CallRunbook, System: "sys", Payload: "raw text"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestAnthropicAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sys", req.System)
		assert.Equal(t, anthropicMaxTokens, req.MaxTokens)

		w.Write([]byte(`{"content":[{"type":"text","text":"part one, "},{"type":"text","text":"part two"}]}`))
	}))
	defer srv.Close()

	ls, err := NewAnalyzer(config.AnalyzerConfig{Provider: config.ProviderAnthropic, APIKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := ls.Analyze(context.Background(), AnalyzerRequest{Task: CallNotification, System: "sys", Payload: "x"})
	require.NoError(t, err)
	assert.Equal(t, "part one, part two", out)
}

func TestAnalyzeReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ls, err := NewAnalyzer(config.AnalyzerConfig{Provider: config.ProviderOllama, BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = ls.Analyze(context.Background(), AnalyzerRequest{Task: CallTickets, Payload: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	calls := ls.GetAPICalls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.StatusServiceUnavailable, calls[0].Status)
	assert.NotEmpty(t, calls[0].Error)

	ls.ClearAPICalls()
	assert.Empty(t, ls.GetAPICalls())
}

func TestAnalyzeHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ls, err := NewAnalyzer(config.AnalyzerConfig{Provider: config.ProviderOllama, BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ls.Analyze(ctx, AnalyzerRequest{Task: CallRunbook, Payload: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCallTrackerKeepsMostRecent(t *testing.T) {
	tracker := NewCallTracker(3)
	for i := 0; i < 5; i++ {
		tracker.Add(LLMAPICall{ID: string(rune('a' + i))})
	}
	calls := tracker.List()
	require.Len(t, calls, 3)
	assert.Equal(t, "c", calls[0].ID)
	assert.Equal(t, "e", calls[2].ID)
}

func TestOllamaHealthAndModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"llama3"},{"name":"mistral"}]}`))
	}))
	defer srv.Close()

	ls, err := NewAnalyzer(config.AnalyzerConfig{Provider: config.ProviderOllama, BaseURL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, ls.CheckHealth(context.Background()))
	models, err := ls.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3", "mistral"}, models)
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "[1, 2]", want: "[1, 2]"},
		{in: "```json\n[1, 2]\n```", want: "[1, 2]"},
		{in: "```\n# Title\n```", want: "# Title"},
		{in: "  ```markdown\n- [ ] item\n```  ", want: "- [ ] item"},
	}
	for _, tt := range tests {
		if got := StripCodeFence(tt.in); got != tt.want {
			t.Errorf("StripCodeFence(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}

func TestMalformedOutputMatchesSentinel(t *testing.T) {
	err := malformedOutput("tickets: analyzer returned invalid JSON: %s", "oops")
	assert.ErrorIs(t, err, ErrMalformedAnalyzerOutput)
	assert.Equal(t, "tickets: analyzer returned invalid JSON: oops", err.Error())
}
