package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/incidentsuite/backend/internal/config"
	"github.com/incidentsuite/backend/internal/logger"
	"github.com/incidentsuite/backend/internal/metrics"
)

// CallType names the pipeline task an analyzer request belongs to.
type CallType string

const (
	CallEntryFallback   CallType = "entry_fallback"
	CallIssueDerivation CallType = "issue_derivation"
	CallRunbook         CallType = "runbook"
	CallTickets         CallType = "tickets"
	CallNotification    CallType = "notification"

	callHealthCheck CallType = "health_check"
)

const (
	maxTrackedCalls     = 100
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 4096
	defaultTemperature  = 0.2
)

var (
	// ErrNoProvider is returned when the analyzer config cannot produce a client.
	ErrNoProvider = errors.New("no usable analyzer provider configured")
	// ErrMalformedAnalyzerOutput marks analyzer responses that do not fit the expected shape.
	ErrMalformedAnalyzerOutput = errors.New("malformed analyzer output")
)

// outputError carries a stage-scoped note about unusable analyzer output.
type outputError struct {
	note string
}

func (e *outputError) Error() string { return e.note }
func (e *outputError) Unwrap() error { return ErrMalformedAnalyzerOutput }

func malformedOutput(format string, args ...interface{}) error {
	return &outputError{note: fmt.Sprintf(format, args...)}
}

// AnalyzerRequest is one instruction plus a task payload.
// Payload is sent verbatim when it is a string, otherwise as indented JSON.
type AnalyzerRequest struct {
	Task    CallType
	System  string
	Payload any
}

// Analyzer is the text generation capability used by every pipeline stage.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalyzerRequest) (string, error)
}

// AnalyzerFactory builds a fresh Analyzer from an explicit configuration.
type AnalyzerFactory func(cfg config.AnalyzerConfig) (Analyzer, error)

// LLMAPICall is one tracked analyzer round trip
type LLMAPICall struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"runId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Provider  string                 `json:"provider"`
	Endpoint  string                 `json:"endpoint"`
	Model     string                 `json:"model"`
	CallType  string                 `json:"callType"`
	Payload   map[string]interface{} `json:"payload"`
	Status    int                    `json:"status"`
	Duration  time.Duration          `json:"duration"`
	Response  string                 `json:"response"`
	Error     string                 `json:"error,omitempty"`
}

// CallTracker keeps the most recent analyzer calls across client instances.
type CallTracker struct {
	mu    sync.RWMutex
	calls []LLMAPICall
	limit int
}

func NewCallTracker(limit int) *CallTracker {
	if limit <= 0 {
		limit = maxTrackedCalls
	}
	return &CallTracker{limit: limit, calls: make([]LLMAPICall, 0)}
}

// Add appends a call, dropping the oldest once the limit is reached
func (t *CallTracker) Add(call LLMAPICall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.calls) >= t.limit {
		t.calls = t.calls[1:]
	}
	t.calls = append(t.calls, call)
}

// List returns a copy of the tracked calls, oldest first
func (t *CallTracker) List() []LLMAPICall {
	t.mu.RLock()
	defer t.mu.RUnlock()
	calls := make([]LLMAPICall, len(t.calls))
	copy(calls, t.calls)
	return calls
}

// Clear drops the call history
func (t *CallTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = make([]LLMAPICall, 0)
}

type runIDKey struct{}

// ContextWithRunID tags analyzer calls made under ctx with a pipeline run.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// LLMService talks to one configured language-model provider.
type LLMService struct {
	provider    string
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	client      *http.Client
	tracker     *CallTracker
}

// AnalyzerOption configures an LLMService.
type AnalyzerOption func(*LLMService)

// WithCallTracker records every call in t instead of a private tracker.
func WithCallTracker(t *CallTracker) AnalyzerOption {
	return func(ls *LLMService) {
		if t != nil {
			ls.tracker = t
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) AnalyzerOption {
	return func(ls *LLMService) {
		if c != nil {
			ls.client = c
		}
	}
}

// NewAnalyzer constructs a client for cfg. Hosted providers need an API key.
func NewAnalyzer(cfg config.AnalyzerConfig, opts ...AnalyzerOption) (*LLMService, error) {
	cfg = cfg.WithDefaults()
	switch cfg.Provider {
	case config.ProviderOllama:
	case config.ProviderOpenAI, config.ProviderOpenRouter, config.ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: %s requires an API key", ErrNoProvider, cfg.Provider)
		}
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNoProvider, cfg.Provider)
	}

	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	ls := &LLMService{
		provider:    cfg.Provider,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: temperature,
		client:      &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(ls)
	}
	if ls.tracker == nil {
		ls.tracker = NewCallTracker(maxTrackedCalls)
	}
	return ls, nil
}

// NewAnalyzerFactory returns a factory whose clients share one call tracker.
func NewAnalyzerFactory(tracker *CallTracker) AnalyzerFactory {
	return func(cfg config.AnalyzerConfig) (Analyzer, error) {
		ls, err := NewAnalyzer(cfg, WithCallTracker(tracker))
		if err != nil {
			return nil, err
		}
		return ls, nil
	}
}

func (ls *LLMService) Provider() string { return ls.provider }
func (ls *LLMService) Model() string    { return ls.model }

// GetAPICalls returns all tracked LLM API calls
func (ls *LLMService) GetAPICalls() []LLMAPICall {
	return ls.tracker.List()
}

// ClearAPICalls clears the API call history
func (ls *LLMService) ClearAPICalls() {
	ls.tracker.Clear()
}

// Analyze sends one request to the provider. There is no retry.
func (ls *LLMService) Analyze(ctx context.Context, req AnalyzerRequest) (string, error) {
	user, err := renderPayload(req.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal analyzer payload: %w", err)
	}

	log := logger.WithLLM(string(req.Task), ls.model)
	log.WithField("prompt_length", len(user)).Debug("Making analyzer request")

	startTime := time.Now()
	text, endpoint, status, err := ls.send(ctx, req.System, user)
	elapsed := time.Since(startTime)

	call := LLMAPICall{
		ID:        fmt.Sprintf("llm_%d", startTime.UnixNano()),
		RunID:     runIDFrom(ctx),
		Timestamp: startTime,
		Provider:  ls.provider,
		Endpoint:  endpoint,
		Model:     ls.model,
		CallType:  string(req.Task),
		Payload:   map[string]interface{}{"system_length": len(req.System), "prompt_length": len(user)},
		Status:    status,
		Duration:  elapsed,
		Response:  truncate(text, 2000),
	}
	if err != nil {
		call.Error = err.Error()
	}
	ls.tracker.Add(call)
	if req.Task != callHealthCheck {
		metrics.ObserveAnalyzerCall(string(req.Task), err)
	}

	if err != nil {
		log.WithField("duration", elapsed.String()).WithError(err).Warn("Analyzer request failed")
		return "", err
	}
	log.WithFields(map[string]interface{}{
		"duration": elapsed.String(),
		"status":   status,
	}).Debug("Analyzer request completed")
	return text, nil
}

func (ls *LLMService) send(ctx context.Context, system, user string) (string, string, int, error) {
	switch ls.provider {
	case config.ProviderOllama:
		return ls.callOllama(ctx, system, user)
	case config.ProviderAnthropic:
		return ls.callAnthropic(ctx, system, user)
	default:
		return ls.callChatCompletions(ctx, system, user)
	}
}

type OllamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type OllamaGenerateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	CreatedAt string `json:"created_at"`
}

type OllamaModelsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (ls *LLMService) callOllama(ctx context.Context, system, user string) (string, string, int, error) {
	const endpoint = "/api/generate"
	request := OllamaGenerateRequest{
		Model:  ls.model,
		Prompt: user,
		System: system,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": ls.temperature,
			"top_p":       0.8,
		},
	}
	var resp OllamaGenerateResponse
	status, err := ls.postJSON(ctx, endpoint, nil, request, &resp)
	if err != nil {
		return "", endpoint, status, err
	}
	return resp.Response, endpoint, status, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (ls *LLMService) callChatCompletions(ctx context.Context, system, user string) (string, string, int, error) {
	const endpoint = "/chat/completions"
	request := chatCompletionRequest{
		Model:       ls.model,
		Temperature: ls.temperature,
	}
	if system != "" {
		request.Messages = append(request.Messages, chatMessage{Role: "system", Content: system})
	}
	request.Messages = append(request.Messages, chatMessage{Role: "user", Content: user})

	headers := map[string]string{"Authorization": "Bearer " + ls.apiKey}
	if ls.provider == config.ProviderOpenRouter {
		headers["X-Title"] = "incidentsuite"
	}

	var resp chatCompletionResponse
	status, err := ls.postJSON(ctx, endpoint, headers, request, &resp)
	if err != nil {
		return "", endpoint, status, err
	}
	if len(resp.Choices) == 0 {
		return "", endpoint, status, fmt.Errorf("%s returned no choices", ls.provider)
	}
	return resp.Choices[0].Message.Content, endpoint, status, nil
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (ls *LLMService) callAnthropic(ctx context.Context, system, user string) (string, string, int, error) {
	const endpoint = "/v1/messages"
	request := anthropicRequest{
		Model:       ls.model,
		System:      system,
		Messages:    []chatMessage{{Role: "user", Content: user}},
		MaxTokens:   anthropicMaxTokens,
		Temperature: ls.temperature,
	}
	headers := map[string]string{
		"x-api-key":         ls.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}

	var resp anthropicResponse
	status, err := ls.postJSON(ctx, endpoint, headers, request, &resp)
	if err != nil {
		return "", endpoint, status, err
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), endpoint, status, nil
}

func (ls *LLMService) postJSON(ctx context.Context, endpoint string, headers map[string]string, body, out interface{}) (int, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ls.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ls.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read %s response: %w", ls.provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("%s API returned status %d, body: %s", ls.provider, resp.StatusCode, truncate(string(respBody), 500))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", ls.provider, err)
	}
	return resp.StatusCode, nil
}

// CheckHealth probes the provider. Ollama is asked for its model list,
// hosted providers get a minimal request.
func (ls *LLMService) CheckHealth(ctx context.Context) error {
	if ls.provider == config.ProviderOllama {
		_, err := ls.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("LLM service not available: %w", err)
		}
		return nil
	}
	_, err := ls.Analyze(ctx, AnalyzerRequest{
		Task:    callHealthCheck,
		System:  "Reply with the single word OK.",
		Payload: "ping",
	})
	if err != nil {
		return fmt.Errorf("LLM service not available: %w", err)
	}
	return nil
}

// ListModels returns the models the provider reports. Only Ollama exposes a
// listing; other providers report the configured model.
func (ls *LLMService) ListModels(ctx context.Context) ([]string, error) {
	if ls.provider != config.ProviderOllama {
		return []string{ls.model}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ls.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := ls.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get models: status %d", resp.StatusCode)
	}

	var modelsResp OllamaModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, err
	}

	var modelNames []string
	for _, model := range modelsResp.Models {
		modelNames = append(modelNames, model.Name)
	}
	return modelNames, nil
}

var (
	fenceOpen  = regexp.MustCompile("^```[\\w-]*[ \\t]*\\r?\\n?")
	fenceClose = regexp.MustCompile("\\r?\\n?```$")
)

// StripCodeFence removes a surrounding markdown code fence, if any.
func StripCodeFence(text string) string {
	clean := strings.TrimSpace(text)
	if strings.HasPrefix(clean, "```") {
		clean = fenceOpen.ReplaceAllString(clean, "")
		clean = fenceClose.ReplaceAllString(clean, "")
	}
	return strings.TrimSpace(clean)
}

func renderPayload(payload any) (string, error) {
	switch p := payload.(type) {
	case nil:
		return "", nil
	case string:
		return p, nil
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
