// Package cache implements the two-tier (in-memory + on-disk) trust
// cache keyed by install-root path, with TTL and mtime invalidation.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	ferrors "github.com/ruminasu/fsdecrypt/internal/errors"
)

const (
	ttl       = 300 * time.Second
	cacheFile = ".trust_cache.json"
)

// Status is the minimal shape of a verify result the cache stores and
// compares; the deploy/verify package's richer TrustStatus satisfies this
// via adaptation at the call site.
type Status struct {
	Trusted        bool   `json:"trusted"`
	Reason         string `json:"reason,omitempty"`
	BuildID        string `json:"build_id,omitempty"`
	ArtifactName   string `json:"artifact_name,omitempty"`
	ArtifactSHA256 string `json:"artifact_sha256,omitempty"`
	GeneratedAt    string `json:"generated_at,omitempty"`
	MissingFiles   bool   `json:"missing_files"`
}

// Entry is the persisted and in-memory cache record for one install root.
type Entry struct {
	Status       Status           `json:"status"`
	Mtimes       map[string]int64 `json:"mtimes"` // path -> nanoseconds since Unix epoch
	CachedAtSecs int64            `json:"cached_at_secs"`
}

// Cache is the process-wide trust cache. Construct it with New; the zero
// value has no entry map or clock and is not usable.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	nowFn   func() time.Time
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]Entry), nowFn: time.Now}
}

// Get returns the cached entry for root if both tiers agree it is still
// valid: neither TTL has expired, and every recorded file's current mtime
// matches what was cached. Any other condition is a miss.
func (c *Cache) Get(root string) (Status, bool) {
	c.mu.Lock()
	mem, memOK := c.entries[root]
	c.mu.Unlock()

	disk, diskOK := c.readDisk(root)

	if !memOK && !diskOK {
		return Status{}, false
	}

	entry := mem
	if !memOK {
		entry = disk
	}
	if memOK && diskOK && mem.CachedAtSecs != disk.CachedAtSecs {
		// Tiers disagree (e.g. another process wrote disk); trust neither.
		return Status{}, false
	}

	if c.expired(entry) {
		return Status{}, false
	}
	if !c.mtimesMatch(root, entry.Mtimes) {
		return Status{}, false
	}
	return entry.Status, true
}

// Put stores status for root keyed by the current mtimes of paths, unless
// status is untrusted or has missing files, in which case any existing
// cache entry for root is removed instead.
func (c *Cache) Put(root string, status Status, paths []string) error {
	if !status.Trusted || status.MissingFiles {
		return c.Invalidate(root)
	}

	mtimes := make(map[string]int64, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		mtimes[p] = info.ModTime().UnixNano()
	}

	entry := Entry{Status: status, Mtimes: mtimes, CachedAtSecs: c.nowFn().Unix()}

	c.mu.Lock()
	c.entries[root] = entry
	c.mu.Unlock()

	return c.writeDisk(root, entry)
}

// Invalidate removes both tiers' cache entries for root.
func (c *Cache) Invalidate(root string) error {
	c.mu.Lock()
	delete(c.entries, root)
	c.mu.Unlock()

	path := filepath.Join(root, cacheFile)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ferrors.NewFileError("remove", path, err)
	}
	return nil
}

func (c *Cache) expired(entry Entry) bool {
	age := c.nowFn().Unix() - entry.CachedAtSecs
	return age < 0 || time.Duration(age)*time.Second >= ttl
}

func (c *Cache) mtimesMatch(root string, recorded map[string]int64) bool {
	_ = root
	for path, wantNanos := range recorded {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.ModTime().UnixNano() != wantNanos {
			return false
		}
	}
	return true
}

func (c *Cache) readDisk(root string) (Entry, bool) {
	raw, err := os.ReadFile(filepath.Join(root, cacheFile))
	if err != nil {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

func (c *Cache) writeDisk(root string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return ferrors.Wrap(err, "marshal trust cache entry")
	}
	path := filepath.Join(root, cacheFile)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return ferrors.NewFileError("write", path, err)
	}
	return nil
}
