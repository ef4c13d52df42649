package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// TokenKey is the slot key holding the raw bearer token.
const TokenKey = "token"

var ErrEmptyToken = errors.New("token must not be empty")

// Slot is a durable key/value cell. Implementations must make a Put visible to
// any later Get, including one from a freshly constructed Slot on the same
// backing storage.
type Slot interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Store owns the current credential. It does not cache: every Get reads the
// slot, so a Set or Clear is observed by the next reader.
type Store struct {
	slot Slot
}

func NewStore(slot Slot) (*Store, error) {
	if slot == nil {
		return nil, fmt.Errorf("session slot is required")
	}
	return &Store{slot: slot}, nil
}

func (s *Store) Get(ctx context.Context) (string, bool, error) {
	token, ok, err := s.slot.Get(ctx, TokenKey)
	if err != nil {
		return "", false, fmt.Errorf("read session token: %w", err)
	}
	if !ok || token == "" {
		return "", false, nil
	}
	return token, true, nil
}

func (s *Store) Set(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrEmptyToken
	}
	if err := s.slot.Put(ctx, TokenKey, token); err != nil {
		return fmt.Errorf("write session token: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.slot.Delete(ctx, TokenKey); err != nil {
		return fmt.Errorf("clear session token: %w", err)
	}
	return nil
}

type MemorySlot struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{values: make(map[string]string)}
}

func (s *MemorySlot) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemorySlot) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemorySlot) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
