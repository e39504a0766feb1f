package pandu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInvoker(t testing.TB) (*Invoker, *memStore) {
	t.Helper()
	store := newMemStore()
	pool := NewKeyPool(store, nil, nil)
	config := &AIConfig{
		Provider:             DefaultAIProvider,
		Model:                DefaultAIModel,
		RequestTimeout:       5 * time.Second,
		RotateCooldown:       time.Minute,
		MaxRequestsPerSecond: 100,
		HistoryLimit:         DefaultAIHistoryLimit,
		Fallbacks:            DefaultFallbacks(),
	}
	return NewInvoker(pool, config, nil), store
}

func TestInvokeSuccess(t *testing.T) {
	ctx := context.Background()
	inv, _ := newTestInvoker(t)

	var gotMessage, gotSystemPrompt string
	var gotHistory []ChatMessage
	inv.calls[ProviderGroq] = func(
		_ context.Context,
		model, message string,
		history []ChatMessage,
		systemPrompt string,
	) (string, error) {
		assert.Equal(t, "llama-3.3-70b-versatile", model)
		gotMessage = message
		gotHistory = history
		gotSystemPrompt = systemPrompt
		return "hello from groq", nil
	}

	history := []ChatMessage{{Role: "user", Content: "earlier"}}
	resp, err := inv.Invoke(
		ctx,
		ProviderGroq,
		"llama-3.3-70b-versatile",
		"hi",
		history,
		"be nice",
	)
	require.NoError(t, err)

	assert.Equal(t, "hello from groq", resp.Text)
	assert.Equal(t, "Groq", resp.Provider)
	assert.Equal(t, "Llama 3.3 70B Versatile", resp.Model)
	assert.Equal(t, "v3.3", resp.Version)
	assert.NotContains(t, resp.Provider, "(Fallback)")
	assert.GreaterOrEqual(t, resp.Latency, time.Duration(0))

	assert.Equal(t, "hi", gotMessage)
	assert.Equal(t, history, gotHistory)
	assert.Equal(t, "be nice", gotSystemPrompt)
}

func TestInvokeUnknownModelMetadata(t *testing.T) {
	inv, _ := newTestInvoker(t)
	inv.calls[ProviderGroq] = func(
		_ context.Context, _, _ string, _ []ChatMessage, _ string,
	) (string, error) {
		return "ok", nil
	}

	resp, err := inv.Invoke(
		context.Background(), ProviderGroq, "mystery-model", "hi", nil, "",
	)
	require.NoError(t, err)
	assert.Equal(t, "mystery-model", resp.Model)
	assert.Equal(t, "unknown", resp.Version)
}

func TestInvokeRetriesSameProviderAfterRotation(t *testing.T) {
	ctx := context.Background()
	inv, _ := newTestInvoker(t)

	require.True(t, inv.pool.AddAPIKey(ctx, "groq", "gsk_limited_key_0001").Success)
	require.True(t, inv.pool.AddAPIKey(ctx, "groq", "gsk_fresh_key_000002").Success)

	calls := 0
	inv.calls[ProviderGroq] = func(
		callCtx context.Context, _, _ string, _ []ChatMessage, _ string,
	) (string, error) {
		calls++
		key := inv.pool.GetActiveKey(callCtx, "groq", "")
		if key == "gsk_limited_key_0001" {
			// mimic a provider call: rotate, then surface the sentinel
			inv.pool.RotateKey(callCtx, "groq", inv.config.RotateCooldown)
			return "", fmt.Errorf("%w: status 429", ErrRateLimited)
		}
		return "answered on " + key, nil
	}

	resp, err := inv.Invoke(ctx, ProviderGroq, "llama-3.3-70b-versatile", "hi", nil, "")
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, "answered on gsk_fresh_key_000002", resp.Text)
	// a successful retry is not a fallback
	assert.Equal(t, "Groq", resp.Provider)
}

func TestInvokeFallsBackAcrossProviders(t *testing.T) {
	ctx := context.Background()
	inv, _ := newTestInvoker(t)

	inv.calls[ProviderGroq] = func(
		_ context.Context, _, _ string, _ []ChatMessage, _ string,
	) (string, error) {
		return "", errors.New("groq is down")
	}
	inv.calls[ProviderPollinationsFree] = func(
		_ context.Context, model, _ string, _ []ChatMessage, _ string,
	) (string, error) {
		assert.Equal(t, DefaultFallbackModel, model)
		return "rescued", nil
	}

	resp, err := inv.Invoke(ctx, ProviderGroq, "llama-3.3-70b-versatile", "hi", nil, "")
	require.NoError(t, err)

	assert.Equal(t, "rescued", resp.Text)
	assert.Equal(t, "Pollinations (Free) (Fallback)", resp.Provider)
}

func TestInvokeSkipsFallbackToSameProvider(t *testing.T) {
	ctx := context.Background()
	inv, _ := newTestInvoker(t)
	inv.fallbacks = []FallbackTarget{
		{Provider: ProviderPollinationsFree, Model: "openai"},
	}

	calls := 0
	inv.calls[ProviderPollinationsFree] = func(
		_ context.Context, _, _ string, _ []ChatMessage, _ string,
	) (string, error) {
		calls++
		return "", errors.New("free tier down")
	}

	_, err := inv.Invoke(ctx, ProviderPollinationsFree, "openai", "hi", nil, "")
	require.Error(t, err)
	// the primary failure must not be retried as its own fallback
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "all AI providers failed")
}

func TestInvokeAggregatesTerminalErrors(t *testing.T) {
	ctx := context.Background()
	inv, _ := newTestInvoker(t)

	inv.calls[ProviderGroq] = func(
		_ context.Context, _, _ string, _ []ChatMessage, _ string,
	) (string, error) {
		return "", errors.New("groq is down")
	}
	inv.calls[ProviderPollinationsFree] = func(
		_ context.Context, _, _ string, _ []ChatMessage, _ string,
	) (string, error) {
		return "", errors.New("pollinations is down")
	}

	_, err := inv.Invoke(ctx, ProviderGroq, "llama-3.3-70b-versatile", "hi", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all AI providers failed")
	assert.Contains(t, err.Error(), "groq is down")
	assert.Contains(t, err.Error(), "pollinations is down")
}

func TestInvokeUnknownProviderLandsOnFreeTier(t *testing.T) {
	ctx := context.Background()
	inv, _ := newTestInvoker(t)

	inv.calls[ProviderPollinationsFree] = func(
		_ context.Context, model, _ string, _ []ChatMessage, _ string,
	) (string, error) {
		assert.Equal(t, DefaultFallbackModel, model)
		return "default tier", nil
	}

	resp, err := inv.Invoke(ctx, "not-a-provider", "whatever", "hi", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "default tier", resp.Text)
	// the remap is the primary attempt, not a fallback
	assert.Equal(t, "Pollinations (Free)", resp.Provider)
}

func TestInvokeUnknownProviderFailsFreeTierOnce(t *testing.T) {
	ctx := context.Background()
	inv, _ := newTestInvoker(t)
	inv.fallbacks = []FallbackTarget{
		{Provider: ProviderPollinationsFree, Model: DefaultFallbackModel},
	}

	calls := 0
	inv.calls[ProviderPollinationsFree] = func(
		_ context.Context, _, _ string, _ []ChatMessage, _ string,
	) (string, error) {
		calls++
		return "", errors.New("free tier down")
	}

	_, err := inv.Invoke(ctx, "not-a-provider", "whatever", "hi", nil, "")
	require.Error(t, err)
	// the unknown name resolves to the free tier before the fallback walk,
	// so the matching fallback rung is skipped
	assert.Equal(t, 1, calls)
}

func TestPoolProvider(t *testing.T) {
	assert.Equal(t, "pollinations", poolProvider(ProviderPollinationsFree))
	assert.Equal(t, "pollinations", poolProvider(ProviderPollinationsAPI))
	assert.Equal(t, "groq", poolProvider(ProviderGroq))
	assert.Equal(t, "openrouter", poolProvider(ProviderOpenRouter))
}

func TestBuildTextPrompt(t *testing.T) {
	history := []ChatMessage{
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer"},
		{Role: "user", Content: "second question"},
		{Role: "assistant", Content: "second answer"},
	}

	prompt := buildTextPrompt("third question", history, "stay helpful", 2)

	assert.True(t, strings.HasPrefix(prompt, "stay helpful\n\n"))
	assert.True(t, strings.HasSuffix(prompt, "User: third question\nAssistant:"))

	// only the last two history entries survive the window
	assert.NotContains(t, prompt, "first question")
	assert.Contains(t, prompt, "User: second question")
	assert.Contains(t, prompt, "Assistant: second answer")
}

func TestBuildTextPromptCapsLength(t *testing.T) {
	long := strings.Repeat("a", 2*pollinationsFreePromptLimit)
	prompt := buildTextPrompt(long, nil, "", 0)
	assert.Len(t, prompt, pollinationsFreePromptLimit)
}

func TestResolveModelPrefersDynamicCatalog(t *testing.T) {
	ctx := context.Background()
	inv, _ := newTestInvoker(t)

	require.True(
		t,
		inv.pool.AddModel(
			ctx, "openrouter", "acme/custom:free", "Acme Custom", "synced", "",
		).Success,
	)

	info := inv.resolveModel(ctx, ProviderOpenRouter, "acme/custom:free")
	assert.Equal(t, "Acme Custom", info.Name)
	assert.Equal(t, "synced", info.Version)

	// static catalog still resolves
	info = inv.resolveModel(ctx, ProviderGroq, "gemma2-9b-it")
	assert.Equal(t, "Gemma2 9B", info.Name)
}
