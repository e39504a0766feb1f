package pandu

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
)

// memStore is an in-memory ListStore for tests. Updates are serialized by a
// mutex rather than optimistic retries; the contract is the same as the
// Redis-backed Store.
type memStore struct {
	mu        sync.Mutex
	data      map[string][]byte
	connected bool

	// writes counts successful SetJSON/UpdateJSON persists
	writes int
}

func newMemStore() *memStore {
	return &memStore{
		data:      map[string][]byte{},
		connected: true,
	}
}

func (m *memStore) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *memStore) GetJSON(_ context.Context, key string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return false, ErrStoreUnavailable
	}
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (m *memStore) SetJSON(_ context.Context, key string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrStoreUnavailable
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[key] = raw
	m.writes++
	return nil
}

func (m *memStore) UpdateJSON(
	_ context.Context,
	key string,
	fn func(raw []byte) (any, error),
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrStoreUnavailable
	}
	next, err := fn(m.data[key])
	if err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	m.data[key] = raw
	m.writes++
	return nil
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// mustKeys decodes the stored key list for a provider, for assertions.
func (m *memStore) mustKeys(provider string) []APIKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[apiKeyName(provider)]
	if !ok {
		return nil
	}
	var keys []APIKey
	if err := json.Unmarshal(raw, &keys); err != nil {
		panic(err)
	}
	return keys
}

// roundTripFunc lets tests stand in for an HTTP transport.
type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
