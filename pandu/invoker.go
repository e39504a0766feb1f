package pandu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	groqBaseURL            = "https://api.groq.com/openai/v1"
	openRouterBaseURL      = "https://openrouter.ai/api/v1"
	pollinationsAPIBaseURL = "https://text.pollinations.ai/openai"
	pollinationsFreeURL    = "https://text.pollinations.ai/"
	huggingFaceBaseURL     = "https://api-inference.huggingface.co/models/"

	// pollinations' free endpoint takes the whole conversation as a URL
	// path, so it gets a tighter history window and a hard prompt cap
	pollinationsFreeHistoryLimit = 6
	pollinationsFreePromptLimit  = 4000
)

// ErrRateLimited wraps provider errors that indicate the active credential
// was rate-limited. The provider call function rotates the key before
// returning this, so a retry picks up the freshly promoted credential.
var ErrRateLimited = errors.New("provider rate-limited the active key")

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AIResponse is the result of one successful AI invocation.
type AIResponse struct {
	Text     string        `json:"text"`
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Version  string        `json:"version"`
	Latency  time.Duration `json:"latency"`
}

// ProviderCallFunc executes one request against a specific provider.
// Implementations fetch their own credential from the key pool and are
// responsible for interpreting their provider's rate-limit signals.
type ProviderCallFunc func(
	ctx context.Context,
	model string,
	message string,
	history []ChatMessage,
	systemPrompt string,
) (string, error)

// Invoker executes one logical AI request with automatic recovery: a
// same-provider retry after credential rotation, then the configured
// cross-provider fallback ladder, then a terminal aggregated error.
type Invoker struct {
	pool       *KeyPool
	config     *AIConfig
	logger     *slog.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
	fallbacks  []FallbackTarget

	// calls maps provider name to its call function; replaced in tests
	calls map[string]ProviderCallFunc
}

func NewInvoker(pool *KeyPool, config *AIConfig, httpClient *http.Client) *Invoker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RequestTimeout}
	}
	fallbacks := config.Fallbacks
	if len(fallbacks) == 0 {
		fallbacks = DefaultFallbacks()
	}
	inv := &Invoker{
		pool:       pool,
		config:     config,
		logger:     newLogger("invoker", config.LogLevel),
		httpClient: httpClient,
		limiter: rate.NewLimiter(
			rate.Limit(config.MaxRequestsPerSecond),
			config.MaxRequestsPerSecond,
		),
		fallbacks: fallbacks,
	}
	inv.calls = map[string]ProviderCallFunc{
		ProviderGroq:             inv.callGroq,
		ProviderPollinationsFree: inv.callPollinationsFree,
		ProviderPollinationsAPI:  inv.callPollinationsAPI,
		ProviderOpenRouter:       inv.callOpenRouter,
		ProviderHuggingFace:      inv.callHuggingFace,
	}
	return inv
}

// poolProvider maps an AI provider name to the credential pool it draws
// from. Both pollinations variants share one pool entry.
func poolProvider(provider string) string {
	switch provider {
	case ProviderPollinationsAPI, ProviderPollinationsFree:
		return "pollinations"
	default:
		return provider
	}
}

// Invoke runs one AI request against the given provider and model.
//
// Recovery ladder: if the provider rate-limits the active credential, the
// call function rotates the pool and Invoke retries the same provider once
// on the promoted key. Any other failure (or a failed retry) walks the
// fallback targets in order, skipping the provider that already failed.
// The returned Latency covers only the attempt that produced the response,
// not the failed attempts before it.
func (inv *Invoker) Invoke(
	ctx context.Context,
	provider string,
	model string,
	message string,
	history []ChatMessage,
	systemPrompt string,
) (*AIResponse, error) {
	// unknown provider names land on the free tier, mirroring the default
	// chat settings. Remapped here, before the fallback walk, so a failed
	// request doesn't hit the free tier a second time as its own fallback.
	if _, ok := inv.calls[provider]; !ok {
		provider = ProviderPollinationsFree
		model = DefaultFallbackModel
	}

	log := inv.logger.With(
		"request_id", uuid.NewString(),
		"provider", provider,
		"model", model,
	)

	text, latency, err := inv.attempt(ctx, provider, model, message, history, systemPrompt)
	if err != nil && errors.Is(err, ErrRateLimited) {
		log.WarnContext(ctx, "active key rate-limited, retrying after rotation", tint.Err(err))
		text, latency, err = inv.attempt(ctx, provider, model, message, history, systemPrompt)
	}
	if err == nil {
		info := inv.resolveModel(ctx, provider, model)
		log.InfoContext(ctx, "ai request completed", "latency", latency)
		return &AIResponse{
			Text:     text,
			Provider: providerDisplayName(provider),
			Model:    info.Name,
			Version:  info.Version,
			Latency:  latency,
		}, nil
	}

	primaryErr := err
	log.WarnContext(ctx, "ai request failed", tint.Err(primaryErr))

	for _, fb := range inv.fallbacks {
		if fb.Provider == provider {
			continue
		}
		text, latency, err = inv.attempt(ctx, fb.Provider, fb.Model, message, history, systemPrompt)
		if err == nil {
			info := inv.resolveModel(ctx, fb.Provider, fb.Model)
			log.InfoContext(
				ctx,
				"fallback succeeded",
				"fallback_provider", fb.Provider,
				"latency", latency,
			)
			return &AIResponse{
				Text:     text,
				Provider: providerDisplayName(fb.Provider) + " (Fallback)",
				Model:    info.Name,
				Version:  info.Version,
				Latency:  latency,
			}, nil
		}
		log.WarnContext(
			ctx,
			"fallback failed",
			"fallback_provider", fb.Provider,
			tint.Err(err),
		)
	}

	if err == primaryErr { //nolint:errorlint // no fallback target was attempted
		return nil, fmt.Errorf("all AI providers failed: %w", primaryErr)
	}
	return nil, fmt.Errorf("all AI providers failed: %v (fallback: %v)", primaryErr, err)
}

// attempt runs a single provider call, pacing requests through the shared
// limiter and bounding the call with the configured timeout. Latency is
// measured around the provider call only.
func (inv *Invoker) attempt(
	ctx context.Context,
	provider string,
	model string,
	message string,
	history []ChatMessage,
	systemPrompt string,
) (string, time.Duration, error) {
	call, ok := inv.calls[provider]
	if !ok {
		// Invoke normalizes the primary, so this only trips on a
		// misconfigured fallback target
		return "", 0, fmt.Errorf("unknown provider %q", provider)
	}
	if err := inv.limiter.Wait(ctx); err != nil {
		return "", 0, err
	}

	callCtx, cancel := context.WithTimeout(ctx, inv.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	text, err := call(callCtx, model, message, history, systemPrompt)
	return text, time.Since(start), err
}

// resolveModel prefers the dynamic catalog so synced models display their
// real names, falling back to the built-in table.
func (inv *Invoker) resolveModel(ctx context.Context, provider, modelID string) ModelInfo {
	for _, m := range inv.pool.Models(ctx, poolProvider(provider)) {
		if m.ID == modelID {
			return ModelInfo{ID: m.ID, Name: m.Name, Version: m.Version}
		}
	}
	return modelInfo(provider, modelID)
}

func (inv *Invoker) callGroq(
	ctx context.Context,
	model, message string,
	history []ChatMessage,
	systemPrompt string,
) (string, error) {
	key := inv.pool.GetActiveKey(ctx, ProviderGroq, inv.config.GroqAPIKey)
	if key == "" {
		return "", errors.New("no groq API key configured")
	}
	return inv.openAICompatible(
		ctx, groqBaseURL, key, nil, ProviderGroq, model, message, history, systemPrompt,
	)
}

func (inv *Invoker) callOpenRouter(
	ctx context.Context,
	model, message string,
	history []ChatMessage,
	systemPrompt string,
) (string, error) {
	key := inv.pool.GetActiveKey(ctx, ProviderOpenRouter, inv.config.OpenRouterAPIKey)
	if key == "" {
		return "", errors.New("no openrouter API key configured")
	}
	headers := map[string]string{
		"HTTP-Referer": "https://discord.com",
		"X-Title":      "Pandu Discord Bot",
	}
	return inv.openAICompatible(
		ctx, openRouterBaseURL, key, headers, ProviderOpenRouter, model, message, history, systemPrompt,
	)
}

func (inv *Invoker) callPollinationsAPI(
	ctx context.Context,
	model, message string,
	history []ChatMessage,
	systemPrompt string,
) (string, error) {
	key := inv.pool.GetActiveKey(
		ctx, poolProvider(ProviderPollinationsAPI), inv.config.PollinationsAPIKey,
	)
	if key == "" {
		return "", errors.New("no pollinations API key configured")
	}
	return inv.openAICompatible(
		ctx, pollinationsAPIBaseURL, key, nil,
		ProviderPollinationsAPI, model, message, history, systemPrompt,
	)
}

// openAICompatible issues a chat completion against any OpenAI-compatible
// endpoint. A 429 response puts the active key in cooldown and returns an
// ErrRateLimited-wrapped error so the invoker can retry on the next key.
func (inv *Invoker) openAICompatible(
	ctx context.Context,
	baseURL string,
	key string,
	extraHeaders map[string]string,
	provider string,
	model, message string,
	history []ChatMessage,
	systemPrompt string,
) (string, error) {
	clientCfg := openai.DefaultConfig(key)
	clientCfg.BaseURL = baseURL
	clientCfg.HTTPClient = inv.httpClient
	if len(extraHeaders) > 0 {
		clientCfg.HTTPClient = &http.Client{
			Timeout: inv.httpClient.Timeout,
			Transport: headerTransport{
				base:    inv.httpClient.Transport,
				headers: extraHeaders,
			},
		}
	}
	client := openai.NewClientWithConfig(clientCfg)

	trimmed := lastN(history, inv.config.HistoryLimit)
	messages := make([]openai.ChatCompletionMessage, 0, len(trimmed)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range trimmed {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   DefaultAIMaxTokens,
		Temperature: DefaultAITemperature,
	})
	if err != nil {
		if isRateLimitError(err) {
			rotated := inv.pool.RotateKey(ctx, poolProvider(provider), inv.config.RotateCooldown)
			inv.logger.Warn(
				"provider rate limit",
				"provider", provider,
				"rotated", rotated,
			)
			return "", fmt.Errorf("%w: %s", ErrRateLimited, err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", provider)
	}
	return resp.Choices[0].Message.Content, nil
}

func isRateLimitError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}

// headerTransport injects static headers into every request (OpenRouter
// wants attribution headers on completion calls).
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// buildTextPrompt flattens the system prompt, trailing history and the new
// message into a single plain-text prompt for providers without a chat API.
func buildTextPrompt(message string, history []ChatMessage, systemPrompt string, historyLimit int) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")
	for _, m := range lastN(history, historyLimit) {
		if m.Role == openai.ChatMessageRoleUser {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(message)
	b.WriteString("\nAssistant:")
	return truncate(b.String(), pollinationsFreePromptLimit)
}

// callPollinationsFree hits pollinations' keyless text endpoint: the whole
// prompt goes in the URL path, the model and a random seed as query params.
func (inv *Invoker) callPollinationsFree(
	ctx context.Context,
	model, message string,
	history []ChatMessage,
	systemPrompt string,
) (string, error) {
	prompt := buildTextPrompt(message, history, systemPrompt, pollinationsFreeHistoryLimit)
	seed := rand.Intn(1000000) //nolint:gosec // response variety only

	reqURL := fmt.Sprintf(
		"%s%s?model=%s&seed=%d",
		pollinationsFreeURL,
		url.PathEscape(prompt),
		url.QueryEscape(model),
		seed,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := inv.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pollinations free: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("pollinations free: %w", err)
	}
	text := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK || text == "" {
		return "", fmt.Errorf(
			"pollinations free: status %d: %s",
			resp.StatusCode,
			truncate(text, 200),
		)
	}
	return text, nil
}

type huggingFaceRequest struct {
	Inputs     string `json:"inputs"`
	Parameters struct {
		MaxNewTokens   int     `json:"max_new_tokens"`
		Temperature    float64 `json:"temperature"`
		ReturnFullText bool    `json:"return_full_text"`
	} `json:"parameters"`
}

func (inv *Invoker) callHuggingFace(
	ctx context.Context,
	model, message string,
	history []ChatMessage,
	systemPrompt string,
) (string, error) {
	key := inv.pool.GetActiveKey(ctx, ProviderHuggingFace, inv.config.HuggingFaceAPIKey)
	if key == "" {
		return "", errors.New("no huggingface API key configured")
	}

	payload := huggingFaceRequest{
		Inputs: buildTextPrompt(message, history, systemPrompt, inv.config.HistoryLimit),
	}
	payload.Parameters.MaxNewTokens = 500
	payload.Parameters.Temperature = DefaultAITemperature
	payload.Parameters.ReturnFullText = false

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		huggingFaceBaseURL+model,
		bytes.NewReader(data),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := inv.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("huggingface: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		rotated := inv.pool.RotateKey(ctx, ProviderHuggingFace, inv.config.RotateCooldown)
		inv.logger.Warn("provider rate limit", "provider", ProviderHuggingFace, "rotated", rotated)
		return "", fmt.Errorf("%w: huggingface status 429", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf(
			"huggingface: status %d: %s",
			resp.StatusCode,
			truncate(string(body), 200),
		)
	}

	var generated []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&generated); err != nil {
		return "", fmt.Errorf("huggingface: %w", err)
	}
	if len(generated) == 0 || strings.TrimSpace(generated[0].GeneratedText) == "" {
		return "", errors.New("huggingface: empty generation")
	}
	return strings.TrimSpace(generated[0].GeneratedText), nil
}
