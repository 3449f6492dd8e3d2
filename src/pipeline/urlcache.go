package pipeline

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
)

// URLCache maps short URLs to their expanded destination.
// Entries never expire; re-expanding a cached URL is skipped by the expander.
type URLCache struct {
	expanded map[string]string
	mu       sync.RWMutex
}

// NewURLCache creates a new empty URLCache.
func NewURLCache() *URLCache {
	return &URLCache{expanded: make(map[string]string)}
}

// Get returns the expansion for a short URL.
func (c *URLCache) Get(short string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.expanded[short]
	return v, ok
}

// Put records an expansion. Existing entries are overwritten.
func (c *URLCache) Put(short, expanded string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expanded[short] = expanded
}

// Len returns the number of cached expansions.
func (c *URLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.expanded)
}

// Snapshot returns a copy of the cache contents.
func (c *URLCache) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]string, len(c.expanded))
	for k, v := range c.expanded {
		snapshot[k] = v
	}
	return snapshot
}

// SetAll replaces the cache contents.
func (c *URLCache) SetAll(m map[string]string) {
	if m == nil {
		m = make(map[string]string)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expanded = m
}

// URLStore persists a URLCache between runs.
type URLStore interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, expanded map[string]string) error
}

// FileURLStore keeps the cache as a gob-encoded map on disk.
type FileURLStore struct {
	Path string
}

// NewFileURLStore returns a store backed by path.
func NewFileURLStore(path string) *FileURLStore {
	return &FileURLStore{Path: path}
}

// Save writes the map to a temporary file and renames it over the old one.
func (s *FileURLStore) Save(_ context.Context, expanded map[string]string) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp := s.Path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", tmp, err)
	}

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(expanded); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode url cache to %s: %w", tmp, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", tmp, err)
	}
	return nil
}

// Load reads the map back. A missing file yields an error wrapping
// os.ErrNotExist.
func (s *FileURLStore) Load(_ context.Context) (map[string]string, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", s.Path, err)
	}
	defer file.Close()

	var expanded map[string]string
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&expanded); err != nil {
		return nil, fmt.Errorf("failed to decode url cache from %s: %w", s.Path, err)
	}
	if expanded == nil {
		expanded = make(map[string]string)
	}
	return expanded, nil
}

// RedisURLStore keeps the cache in a single Redis hash with no TTL, so that
// several pipeline hosts share expansions.
type RedisURLStore struct {
	client *redis.Client
	key    string
}

// NewRedisURLStore connects to addr and checks the connection.
func NewRedisURLStore(ctx context.Context, addr, password string, db int, key string) (*RedisURLStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	slog.Info("Redis url store initialized", "addr", addr, "key", key)
	return &RedisURLStore{client: client, key: key}, nil
}

// Load returns every field of the hash. An absent hash is an empty cache.
func (s *RedisURLStore) Load(ctx context.Context) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read url cache %s: %w", s.key, err)
	}
	if m == nil {
		m = make(map[string]string)
	}
	return m, nil
}

// Save writes all entries into the hash. Fields not in expanded are kept.
func (s *RedisURLStore) Save(ctx context.Context, expanded map[string]string) error {
	if len(expanded) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(expanded)*2)
	for k, v := range expanded {
		values = append(values, k, v)
	}
	if err := s.client.HSet(ctx, s.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to write url cache %s: %w", s.key, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisURLStore) Close() error {
	return s.client.Close()
}

// LoadURLCache fills a new URLCache from store. A missing cache is not an
// error: a warning is logged and the cache starts empty.
func LoadURLCache(ctx context.Context, store URLStore) (*URLCache, error) {
	c := NewURLCache()
	m, err := store.Load(ctx)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("No url expansion cache found, using raw urls", "error", err)
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	c.SetAll(m)
	return c, nil
}
