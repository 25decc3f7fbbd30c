package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	domrepo "PerpGate/internal/domain/repository"
	"PerpGate/pkg/cache"
)

// snapshot is the persisted form of the order-key cache: key -> unix nanos.
type snapshot map[string]int64

func encodeSnapshot(keys map[string]time.Time) ([]byte, error) {
	s := make(snapshot, len(keys))
	for k, ts := range keys {
		s[k] = ts.UnixNano()
	}
	return json.Marshal(s)
}

func decodeSnapshot(b []byte) (map[string]time.Time, error) {
	var s snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode idempotency snapshot: %w", err)
	}
	out := make(map[string]time.Time, len(s))
	for k, ns := range s {
		out[k] = time.Unix(0, ns).UTC()
	}
	return out, nil
}

// CacheIdempotencyStore keeps the snapshot under one key of a cache.Service (Redis in production).
type CacheIdempotencyStore struct {
	c   cache.Service
	key string
	ttl time.Duration
}

// NewCacheIdempotencyStore expires the snapshot after ttl; zero keeps it forever.
func NewCacheIdempotencyStore(c cache.Service, key string, ttl time.Duration) *CacheIdempotencyStore {
	return &CacheIdempotencyStore{c: c, key: key, ttl: ttl}
}

func (s *CacheIdempotencyStore) Load(ctx context.Context) (map[string]time.Time, error) {
	var raw string
	if err := s.c.Get(ctx, s.key, &raw); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return map[string]time.Time{}, nil
		}
		return nil, fmt.Errorf("load idempotency snapshot: %w", err)
	}
	return decodeSnapshot([]byte(raw))
}

func (s *CacheIdempotencyStore) Save(ctx context.Context, keys map[string]time.Time) error {
	b, err := encodeSnapshot(keys)
	if err != nil {
		return err
	}
	if err := s.c.Set(ctx, s.key, string(b), s.ttl); err != nil {
		return fmt.Errorf("save idempotency snapshot: %w", err)
	}
	return nil
}

// FileIdempotencyStore writes the snapshot atomically: temp file, fsync, rename.
type FileIdempotencyStore struct {
	path string
}

func NewFileIdempotencyStore(path string) *FileIdempotencyStore {
	return &FileIdempotencyStore{path: path}
}

func (s *FileIdempotencyStore) Load(_ context.Context) (map[string]time.Time, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]time.Time{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return decodeSnapshot(b)
}

func (s *FileIdempotencyStore) Save(_ context.Context, keys map[string]time.Time) error {
	b, err := encodeSnapshot(keys)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, b, 0o600)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(name, perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// NoopIdempotencyStore persists nothing; the cache lives for the process only.
type NoopIdempotencyStore struct{}

func (NoopIdempotencyStore) Load(context.Context) (map[string]time.Time, error) {
	return map[string]time.Time{}, nil
}

func (NoopIdempotencyStore) Save(context.Context, map[string]time.Time) error { return nil }

var (
	_ domrepo.IdempotencyStore = (*CacheIdempotencyStore)(nil)
	_ domrepo.IdempotencyStore = (*FileIdempotencyStore)(nil)
	_ domrepo.IdempotencyStore = NoopIdempotencyStore{}
)
