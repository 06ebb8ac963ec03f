package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// headEntry is the newest version of a node.
type headEntry struct {
	Label   string    `json:"label"`
	Created time.Time `json:"created"`
	Count   int       `json:"count"`
}

// headIndex is the persistent state of the cache.
type headIndex struct {
	Version int                   `json:"version"`
	Entries map[string]*headEntry `json:"entries"` // key is the node ref
	dirty   bool
	mu      sync.RWMutex
}

// cache keeps the head of every version history so that the association
// throttle does not rescan version records. It is a write-through cache:
// a miss falls back to the records on disk.
type cache struct {
	Path  string // {vault}/{systemDir}/heads.json
	index *headIndex
}

func newCache(vaultPath, systemDir string) *cache {
	return &cache{
		Path: filepath.Join(vaultPath, systemDir, "heads.json"),
		index: &headIndex{
			Version: 1,
			Entries: make(map[string]*headEntry),
		},
	}
}

// Load reads the cache from disk. A missing or corrupted file yields an empty cache.
func (c *cache) Load() error {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	data, err := os.ReadFile(c.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	if err := json.Unmarshal(data, c.index); err != nil || c.index.Entries == nil {
		c.index.Entries = make(map[string]*headEntry)
	}
	c.index.dirty = false
	return nil
}

// Save persists the cache when it changed since the last save.
func (c *cache) Save() error {
	c.index.mu.RLock()
	if !c.index.dirty {
		c.index.mu.RUnlock()
		return nil
	}
	data, err := json.MarshalIndent(c.index, "", "  ")
	c.index.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := writeFileAtomic(c.Path, data, 0644); err != nil {
		return err
	}

	c.index.mu.Lock()
	c.index.dirty = false
	c.index.mu.Unlock()
	return nil
}

// Get returns the cached head of ref.
func (c *cache) Get(ref string) (headEntry, bool) {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()

	entry, ok := c.index.Entries[ref]
	if !ok {
		return headEntry{}, false
	}
	return *entry, true
}

// Set records the head of ref.
func (c *cache) Set(ref string, entry headEntry) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	c.index.Entries[ref] = &entry
	c.index.dirty = true
}

// Delete forgets ref.
func (c *cache) Delete(ref string) {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()

	if _, ok := c.index.Entries[ref]; ok {
		delete(c.index.Entries, ref)
		c.index.dirty = true
	}
}

// Len returns the number of cached heads.
func (c *cache) Len() int {
	c.index.mu.RLock()
	defer c.index.mu.RUnlock()
	return len(c.index.Entries)
}
