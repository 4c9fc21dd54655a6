// Package settings holds the admin key-value configuration in a
// process-wide cache with explicit reload-on-write semantics, instead of
// ambient globals scattered through the codebase.
package settings

import (
	"context"
	"fmt"
	"sync"

	"shop-service/internal/store"
)

// Cache is a read-through snapshot of the settings table. Reads never touch
// the database; every write reloads the snapshot.
type Cache struct {
	store *store.Store

	mu     sync.RWMutex
	values map[string]string
}

// NewCache creates an empty cache. Call Reload before first use.
func NewCache(st *store.Store) *Cache {
	return &Cache{
		store:  st,
		values: make(map[string]string),
	}
}

// Reload replaces the snapshot with the current table contents.
func (c *Cache) Reload(ctx context.Context) error {
	rows, err := c.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.Value.Valid {
			values[row.Key] = row.Value.String
		}
	}

	c.mu.Lock()
	c.values = values
	c.mu.Unlock()

	return nil
}

// Get returns the value for key, or fallback when unset.
func (c *Cache) Get(key, fallback string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.values[key]; ok {
		return v
	}
	return fallback
}

// Set persists a key and reloads the snapshot so every subsequent read in
// this process observes the write.
func (c *Cache) Set(ctx context.Context, key, value string) error {
	if err := c.store.UpsertSetting(ctx, key, value); err != nil {
		return fmt.Errorf("write setting %q: %w", key, err)
	}
	return c.Reload(ctx)
}

// Snapshot returns a copy of selected keys, with fallbacks for unset ones.
func (c *Cache) Snapshot(defaults map[string]string) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(defaults))
	for key, fallback := range defaults {
		if v, ok := c.values[key]; ok {
			out[key] = v
		} else {
			out[key] = fallback
		}
	}
	return out
}
