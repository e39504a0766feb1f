package pandu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/samber/lo"
)

// KeyStatus is the lifecycle state of a pooled API key. At most one key per
// provider is active at any observed snapshot; rotation moves the active key
// to cooldown and promotes a standby.
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusStandby  KeyStatus = "standby"
	KeyStatusCooldown KeyStatus = "cooldown"
)

// APIKey is one credential record in a provider's pool.
type APIKey struct {
	Key    string    `json:"key"`
	Status KeyStatus `json:"status"`

	// CooldownUntil is ms since epoch; meaningful only while Status is
	// KeyStatusCooldown. Expiry is checked lazily on the next read - there
	// is no background sweeper.
	CooldownUntil int64 `json:"cooldownUntil,omitempty"`

	AddedAt int64 `json:"addedAt"`
	Usage   int64 `json:"usage"`
}

// Model is one entry in a provider's dynamic model catalog.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Category string `json:"category"`
	Enabled  bool   `json:"enabled"`
	AddedAt  int64  `json:"addedAt"`
}

// PoolCount aggregates a provider's key pool by status. Derived on demand,
// never persisted.
type PoolCount struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Standby  int `json:"standby"`
	Cooldown int `json:"cooldown"`
}

// OpResult is the outcome of an admin mutation. Validation problems
// (duplicate key, bad index, unknown model) come back as Err, not as a
// Go error - they're expected caller mistakes.
type OpResult struct {
	Success bool   `json:"success"`
	Total   int    `json:"total,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
	Err     string `json:"error,omitempty"`
}

const (
	errKeyExists       = "Key already exists"
	errInvalidIndex    = "Invalid index"
	errModelExists     = "Model already exists"
	errModelNotFound   = "Model not found"
	errStoreOffline    = "Credential store unavailable"
	openRouterModelURL = "https://openrouter.ai/api/v1/models"
)

// keyPoolProviders is the fixed set of providers tracked by PoolStatus.
// gemini and elevenlabs have no chat call path yet; their pools exist so
// credentials can be staged ahead of time.
var keyPoolProviders = []string{
	"groq",
	"openrouter",
	"huggingface",
	"gemini",
	"elevenlabs",
	"pollinations",
}

// KeyPool maintains, per provider, an ordered list of API keys with
// active/standby/cooldown lifecycle state, persisted in a ListStore.
// The store is the source of truth; every mutation is a full
// read-modify-write of the provider's list.
type KeyPool struct {
	store      ListStore
	logger     *slog.Logger
	httpClient *http.Client

	// now is stubbed in tests
	now func() time.Time
}

func NewKeyPool(store ListStore, logger *slog.Logger, httpClient *http.Client) *KeyPool {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &KeyPool{
		store:      store,
		logger:     logger,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Connected reports whether the backing store is reachable, so callers can
// tell "no credentials configured" apart from an outage.
func (p *KeyPool) Connected() bool {
	return p.store.Connected()
}

func apiKeyName(provider string) string {
	return "api:" + provider
}

func modelKeyName(provider string) string {
	return "models:" + provider
}

func decodeKeys(raw []byte) ([]APIKey, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var keys []APIKey
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("corrupt key list: %w", err)
	}
	return keys, nil
}

func decodeModels(raw []byte) ([]Model, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var models []Model
	if err := json.Unmarshal(raw, &models); err != nil {
		return nil, fmt.Errorf("corrupt model list: %w", err)
	}
	return models, nil
}

// Keys returns the provider's key records for display. Degrades to nil when
// the store is unreachable.
func (p *KeyPool) Keys(ctx context.Context, provider string) []APIKey {
	var keys []APIKey
	if _, err := p.store.GetJSON(ctx, apiKeyName(provider), &keys); err != nil {
		p.logger.Warn("key list unavailable", "provider", provider, tint.Err(err))
		return nil
	}
	return keys
}

// GetActiveKey returns the credential to use right now for provider.
//
// An already-active key is returned as-is, with no store write - repeated
// calls are idempotent. Otherwise the pool self-heals: an expired-cooldown
// key, or failing that the first standby key, is promoted to active and
// persisted. When the pool is empty or the store is unreachable, envFallback
// (typically from process configuration) is returned.
func (p *KeyPool) GetActiveKey(ctx context.Context, provider, envFallback string) string {
	var keys []APIKey
	found, err := p.store.GetJSON(ctx, apiKeyName(provider), &keys)
	if err != nil || !found || len(keys) == 0 {
		return envFallback
	}
	for _, k := range keys {
		if k.Status == KeyStatusActive {
			return k.Key
		}
	}

	var promoted string
	err = p.store.UpdateJSON(ctx, apiKeyName(provider), func(raw []byte) (any, error) {
		current, err := decodeKeys(raw)
		if err != nil {
			return nil, err
		}
		now := p.now().UnixMilli()
		// someone else may have promoted between our read and this CAS
		for i := range current {
			if current[i].Status == KeyStatusActive {
				promoted = current[i].Key
				return nil, errNoChange
			}
		}
		for i := range current {
			if current[i].Status == KeyStatusCooldown && current[i].CooldownUntil < now {
				current[i].Status = KeyStatusActive
				current[i].CooldownUntil = 0
				promoted = current[i].Key
				return current, nil
			}
		}
		for i := range current {
			if current[i].Status == KeyStatusStandby {
				current[i].Status = KeyStatusActive
				promoted = current[i].Key
				return current, nil
			}
		}
		return nil, errNoChange
	})
	if err != nil || promoted == "" {
		return envFallback
	}
	return promoted
}

// AddAPIKey appends a key to the provider's pool. The first key in an empty
// pool becomes active; later additions start as standby. Exact duplicates
// are rejected.
func (p *KeyPool) AddAPIKey(ctx context.Context, provider, key string) OpResult {
	var res OpResult
	err := p.store.UpdateJSON(ctx, apiKeyName(provider), func(raw []byte) (any, error) {
		keys, err := decodeKeys(raw)
		if err != nil {
			return nil, err
		}
		if lo.ContainsBy(keys, func(k APIKey) bool { return k.Key == key }) {
			res = OpResult{Err: errKeyExists}
			return nil, errNoChange
		}
		status := KeyStatusStandby
		if len(keys) == 0 {
			status = KeyStatusActive
		}
		keys = append(keys, APIKey{
			Key:     key,
			Status:  status,
			AddedAt: p.now().UnixMilli(),
		})
		res = OpResult{Success: true, Total: len(keys)}
		return keys, nil
	})
	if err != nil {
		p.logger.Warn("add key failed", "provider", provider, tint.Err(err))
		return OpResult{Err: errStoreOffline}
	}
	return res
}

// RemoveAPIKey deletes the key at index (0-based) from the provider's pool.
// If the removed key was the active one, the first remaining key is promoted
// so a non-empty pool always has exactly one active key.
func (p *KeyPool) RemoveAPIKey(ctx context.Context, provider string, index int) OpResult {
	var res OpResult
	err := p.store.UpdateJSON(ctx, apiKeyName(provider), func(raw []byte) (any, error) {
		keys, err := decodeKeys(raw)
		if err != nil {
			return nil, err
		}
		if index < 0 || index >= len(keys) {
			res = OpResult{Err: errInvalidIndex}
			return nil, errNoChange
		}
		keys = append(keys[:index], keys[index+1:]...)
		if len(keys) > 0 {
			hasActive := lo.ContainsBy(keys, func(k APIKey) bool {
				return k.Status == KeyStatusActive
			})
			if !hasActive {
				keys[0].Status = KeyStatusActive
				keys[0].CooldownUntil = 0
			}
		}
		res = OpResult{Success: true, Total: len(keys)}
		return keys, nil
	})
	if err != nil {
		p.logger.Warn("remove key failed", "provider", provider, tint.Err(err))
		return OpResult{Err: errStoreOffline}
	}
	return res
}

// RotateKey is called when the active key has just failed (e.g. the provider
// rate-limited it). The active key is put in cooldown until now+cooldown and
// the nearest standby key - scanning circularly forward from the active
// index - is promoted. Returns false when the pool has fewer than two keys
// or no standby key remains; in that case nothing is persisted.
func (p *KeyPool) RotateKey(ctx context.Context, provider string, cooldown time.Duration) bool {
	rotated := false
	err := p.store.UpdateJSON(ctx, apiKeyName(provider), func(raw []byte) (any, error) {
		keys, err := decodeKeys(raw)
		if err != nil {
			return nil, err
		}
		if len(keys) < 2 {
			return nil, errNoChange
		}
		activeIdx := -1
		for i := range keys {
			if keys[i].Status == KeyStatusActive {
				activeIdx = i
				break
			}
		}
		if activeIdx == -1 {
			return nil, errNoChange
		}

		keys[activeIdx].Status = KeyStatusCooldown
		keys[activeIdx].CooldownUntil = p.now().Add(cooldown).UnixMilli()

		for i := 1; i < len(keys); i++ {
			next := (activeIdx + i) % len(keys)
			if keys[next].Status == KeyStatusStandby {
				keys[next].Status = KeyStatusActive
				keys[next].Usage++
				rotated = true
				p.logger.Info(
					"rotated key",
					"provider", provider,
					"from_index", activeIdx,
					"to_index", next,
				)
				return keys, nil
			}
		}
		// active pool exhausted - leave the stored list untouched
		return nil, errNoChange
	})
	if err != nil {
		p.logger.Warn("rotate failed", "provider", provider, tint.Err(err))
		return false
	}
	return rotated
}

// PoolStatus aggregates key counts per provider across the fixed provider
// set. Pure read; never mutates.
func (p *KeyPool) PoolStatus(ctx context.Context) map[string]PoolCount {
	status := make(map[string]PoolCount, len(keyPoolProviders))
	for _, provider := range keyPoolProviders {
		keys := p.Keys(ctx, provider)
		status[provider] = PoolCount{
			Total:    len(keys),
			Active:   lo.CountBy(keys, func(k APIKey) bool { return k.Status == KeyStatusActive }),
			Standby:  lo.CountBy(keys, func(k APIKey) bool { return k.Status == KeyStatusStandby }),
			Cooldown: lo.CountBy(keys, func(k APIKey) bool { return k.Status == KeyStatusCooldown }),
		}
	}
	return status
}

// Models returns the provider's dynamic model catalog. Degrades to nil when
// the store is unreachable.
func (p *KeyPool) Models(ctx context.Context, provider string) []Model {
	var models []Model
	if _, err := p.store.GetJSON(ctx, modelKeyName(provider), &models); err != nil {
		p.logger.Warn("model list unavailable", "provider", provider, tint.Err(err))
		return nil
	}
	return models
}

// AddModel inserts a model into the provider's dynamic catalog. Duplicate
// IDs are rejected.
func (p *KeyPool) AddModel(ctx context.Context, provider, id, name, version, category string) OpResult {
	if name == "" {
		name = id
	}
	if category == "" {
		category = "custom"
	}
	var res OpResult
	err := p.store.UpdateJSON(ctx, modelKeyName(provider), func(raw []byte) (any, error) {
		models, err := decodeModels(raw)
		if err != nil {
			return nil, err
		}
		if lo.ContainsBy(models, func(m Model) bool { return m.ID == id }) {
			res = OpResult{Err: errModelExists}
			return nil, errNoChange
		}
		models = append(models, Model{
			ID:       id,
			Name:     name,
			Version:  version,
			Category: category,
			Enabled:  true,
			AddedAt:  p.now().UnixMilli(),
		})
		res = OpResult{Success: true, Total: len(models)}
		return models, nil
	})
	if err != nil {
		return OpResult{Err: errStoreOffline}
	}
	return res
}

// RemoveModel deletes a model from the provider's dynamic catalog by ID.
func (p *KeyPool) RemoveModel(ctx context.Context, provider, id string) OpResult {
	var res OpResult
	err := p.store.UpdateJSON(ctx, modelKeyName(provider), func(raw []byte) (any, error) {
		models, err := decodeModels(raw)
		if err != nil {
			return nil, err
		}
		_, idx, ok := lo.FindIndexOf(models, func(m Model) bool { return m.ID == id })
		if !ok {
			res = OpResult{Err: errModelNotFound}
			return nil, errNoChange
		}
		models = append(models[:idx], models[idx+1:]...)
		res = OpResult{Success: true, Total: len(models)}
		return models, nil
	})
	if err != nil {
		return OpResult{Err: errStoreOffline}
	}
	return res
}

// ToggleModel flips a model's enabled flag. Disabled models stay in storage
// but are excluded from effective model lists.
func (p *KeyPool) ToggleModel(ctx context.Context, provider, id string) OpResult {
	var res OpResult
	err := p.store.UpdateJSON(ctx, modelKeyName(provider), func(raw []byte) (any, error) {
		models, err := decodeModels(raw)
		if err != nil {
			return nil, err
		}
		for i := range models {
			if models[i].ID == id {
				models[i].Enabled = !models[i].Enabled
				res = OpResult{Success: true, Enabled: models[i].Enabled}
				return models, nil
			}
		}
		res = OpResult{Err: errModelNotFound}
		return nil, errNoChange
	})
	if err != nil {
		return OpResult{Err: errStoreOffline}
	}
	return res
}

// ClearModels drops the provider's entire dynamic catalog.
func (p *KeyPool) ClearModels(ctx context.Context, provider string) error {
	return p.store.SetJSON(ctx, modelKeyName(provider), []Model{})
}

// MergedModels combines the dynamic catalog (enabled entries only) with the
// static catalog, dynamic entries winning on ID collisions. An empty dynamic
// catalog yields the static list unchanged.
func (p *KeyPool) MergedModels(ctx context.Context, provider string) []ModelInfo {
	static := providerModels(provider)
	dynamic := p.Models(ctx, provider)
	if len(dynamic) == 0 {
		return static
	}

	seen := make(map[string]bool, len(dynamic))
	merged := make([]ModelInfo, 0, len(dynamic)+len(static))
	for _, m := range dynamic {
		seen[m.ID] = true
		if m.Enabled {
			merged = append(merged, ModelInfo{ID: m.ID, Name: m.Name, Version: m.Version})
		}
	}
	for _, m := range static {
		if !seen[m.ID] {
			merged = append(merged, m)
		}
	}
	return merged
}

type openRouterModelList struct {
	Data []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
}

// SyncOpenRouterModels replaces the openrouter dynamic catalog with the
// current listing from OpenRouter's public model endpoint. With freeOnly
// set, only `:free`-suffixed models are kept. Returns the number of models
// stored.
func (p *KeyPool) SyncOpenRouterModels(ctx context.Context, freeOnly bool) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openRouterModelURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("openrouter model sync: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("openrouter model sync: unexpected status %d", resp.StatusCode)
	}

	var listing openRouterModelList
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return 0, fmt.Errorf("openrouter model sync: %w", err)
	}

	now := p.now().UnixMilli()
	models := make([]Model, 0, len(listing.Data))
	for _, m := range listing.Data {
		if freeOnly && !strings.Contains(m.ID, ":free") {
			continue
		}
		name := m.Name
		if name == "" {
			parts := strings.Split(m.ID, "/")
			name = parts[len(parts)-1]
		}
		category, _, _ := strings.Cut(m.ID, "/")
		models = append(models, Model{
			ID:       m.ID,
			Name:     name,
			Version:  "synced",
			Category: category,
			Enabled:  true,
			AddedAt:  now,
		})
	}

	if err := p.store.SetJSON(ctx, modelKeyName("openrouter"), models); err != nil {
		return 0, err
	}
	p.logger.Info("synced openrouter models", "count", len(models), "free_only", freeOnly)
	return len(models), nil
}
