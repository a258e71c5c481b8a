package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store used in tests and when no database is
// configured. Records are deep-copied on the way in and out so callers
// never alias internal state.
type Memory struct {
	mu      sync.RWMutex
	byToken map[string]*SendRecord
}

// Compile-time check that Memory satisfies the Store contract.
var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{byToken: make(map[string]*SendRecord)}
}

func (m *Memory) FindByToken(_ context.Context, token string) (*SendRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byToken[token]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func (m *Memory) FindByProviderMessageID(_ context.Context, id string) (*SendRecord, error) {
	if id == "" {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.byToken {
		if rec.ProviderMessageID == id {
			return copyRecord(rec), nil
		}
	}
	return nil, nil
}

func (m *Memory) Create(_ context.Context, rec *SendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byToken[rec.Token]; exists {
		return ErrDuplicateToken
	}
	m.byToken[rec.Token] = copyRecord(rec)
	return nil
}

func (m *Memory) SetProviderMessageID(_ context.Context, token, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.byToken[token]; ok {
		rec.ProviderMessageID = id
	}
	return nil
}

func (m *Memory) UpdateMetadata(_ context.Context, token string, mutate func(*Metadata)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.byToken[token]; ok {
		mutate(&rec.Metadata)
	}
	return nil
}

func (m *Memory) DeleteOlderThan(_ context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)

	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for token, rec := range m.byToken {
		if rec.CreatedAt.Before(cutoff) {
			delete(m.byToken, token)
			deleted++
		}
	}
	return deleted, nil
}

// copyRecord deep-copies a record including metadata slices.
func copyRecord(rec *SendRecord) *SendRecord {
	out := *rec
	if rec.Metadata.Failures != nil {
		out.Metadata.Failures = append([]BouncedRecipient(nil), rec.Metadata.Failures...)
	}
	if rec.Metadata.LastBounce != nil {
		out.Metadata.LastBounce = append([]byte(nil), rec.Metadata.LastBounce...)
	}
	if rec.Metadata.LastComplaint != nil {
		out.Metadata.LastComplaint = append([]byte(nil), rec.Metadata.LastComplaint...)
	}
	return &out
}
