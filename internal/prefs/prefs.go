// Package prefs stores the small per-user settings the notification core
// needs: whether sounds are on and when the user was last active.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

var ErrNotFound = errors.New("prefs: key not found")

const (
	keySoundEnabled = "sound_enabled"
	keyLastActive   = "last_active"
)

// KV is a string key/value store scoped to one user.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

type Store interface {
	// SoundEnabled defaults to true when never set.
	SoundEnabled(ctx context.Context) (bool, error)
	SetSoundEnabled(ctx context.Context, on bool) error
	// LastActive reports false when no timestamp was stored yet.
	LastActive(ctx context.Context) (time.Time, bool, error)
	SetLastActive(ctx context.Context, t time.Time) error
}

// KVStore implements Store on top of a KV.
type KVStore struct {
	kv KV
}

func NewStore(kv KV) *KVStore {
	return &KVStore{kv: kv}
}

func (s *KVStore) SoundEnabled(ctx context.Context) (bool, error) {
	v, err := s.kv.Get(ctx, keySoundEnabled)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return true, err
	}
	on, err := strconv.ParseBool(v)
	if err != nil {
		return true, fmt.Errorf("prefs: %s=%q: %w", keySoundEnabled, v, err)
	}
	return on, nil
}

func (s *KVStore) SetSoundEnabled(ctx context.Context, on bool) error {
	return s.kv.Set(ctx, keySoundEnabled, strconv.FormatBool(on))
}

func (s *KVStore) LastActive(ctx context.Context) (time.Time, bool, error) {
	v, err := s.kv.Get(ctx, keyLastActive)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("prefs: %s=%q: %w", keyLastActive, v, err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *KVStore) SetLastActive(ctx context.Context, t time.Time) error {
	return s.kv.Set(ctx, keyLastActive, strconv.FormatInt(t.UnixMilli(), 10))
}

// MemoryKV keeps values in process memory.
type MemoryKV struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: map[string]string{}}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.m[key] = value
	m.mu.Unlock()
	return nil
}
