package enhance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for a key that was never put or was deleted.
var ErrNotFound = errors.New("key not found")

// ErrPersistenceDegraded signals that a disk write failed and the object was
// kept in memory instead. Data is never lost; the memory budget may be
// exceeded until disk recovers.
var ErrPersistenceDegraded = errors.New("session store persistence degraded")

// StoreStats is a point-in-time view of the store's footprint.
type StoreStats struct {
	MemoryBytesUsed int64 `json:"memoryBytesUsed"`
	DiskBytesUsed   int64 `json:"diskBytesUsed"`
	EntryCount      int   `json:"entryCount"`
}

// storedEntry tracks one key. data is nil exactly when the value lives on
// disk.
type storedEntry struct {
	data         []byte
	onDisk       bool
	size         int64
	lastAccessed time.Time
}

// SessionStore is a key/value store for large intermediate objects that
// behaves like unbounded memory but spills the least-recently-accessed
// entries to a per-session directory once the memory budget is exceeded.
// Where a value lives is invisible to callers except via latency and Stats.
type SessionStore struct {
	mu      sync.Mutex
	dir     string
	budget  int64
	entries map[string]*storedEntry
	mem     int64
	log     *slog.Logger

	now func() time.Time
}

// NewSessionStore creates the session directory and an empty store with the
// given memory budget in bytes.
func NewSessionStore(dir string, budget int64, log *slog.Logger) (*SessionStore, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("session store: memory budget must be > 0")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session store: create %s: %w", dir, err)
	}
	return &SessionStore{
		dir:     dir,
		budget:  budget,
		entries: make(map[string]*storedEntry),
		log:     log,
		now:     time.Now,
	}, nil
}

// path derives the on-disk filename for a key.
func (s *SessionStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:8])+".json")
}

// Put stores v under key, spilling older entries to disk as needed to stay
// under the memory budget. An object bigger than the whole budget goes
// straight to disk. Disk failures are fail-soft: the object stays in memory
// and ErrPersistenceDegraded is returned.
func (s *SessionStore) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session store: encode %q: %w", key, err)
	}
	size := int64(len(data))

	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropLocked(key)

	now := s.now()
	if size > s.budget {
		// Never going to fit in memory; write through to disk.
		if err := os.WriteFile(s.path(key), data, 0o644); err != nil {
			s.log.Warn("Disk write failed, keeping object in memory", "key", key, "error", err)
			s.entries[key] = &storedEntry{data: data, size: size, lastAccessed: now}
			s.mem += size
			return fmt.Errorf("put %q: %w: %w", key, ErrPersistenceDegraded, err)
		}
		s.entries[key] = &storedEntry{onDisk: true, size: size, lastAccessed: now}
		s.log.Debug("Stored oversized object to disk", "key", key, "size", size)
		return nil
	}

	degraded := s.evictLocked(size)
	s.entries[key] = &storedEntry{data: data, size: size, lastAccessed: now}
	s.mem += size
	s.log.Debug("Stored object in memory", "key", key, "size", size, "memory_bytes", s.mem)
	if degraded != nil {
		return fmt.Errorf("put %q: %w: %w", key, ErrPersistenceDegraded, degraded)
	}
	return nil
}

// evictLocked spills the least-recently-accessed in-memory entries until
// incoming fits inside the budget. Returns the first disk error, leaving the
// unevictable victims in memory.
func (s *SessionStore) evictLocked(incoming int64) error {
	var firstErr error
	skip := make(map[string]bool)
	for s.mem+incoming > s.budget {
		victim := ""
		var oldest time.Time
		for key, e := range s.entries {
			if e.onDisk || skip[key] {
				continue
			}
			if victim == "" || e.lastAccessed.Before(oldest) {
				victim = key
				oldest = e.lastAccessed
			}
		}
		if victim == "" {
			break
		}
		e := s.entries[victim]
		if err := os.WriteFile(s.path(victim), e.data, 0o644); err != nil {
			s.log.Warn("Eviction write failed, keeping entry in memory", "key", victim, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			skip[victim] = true
			continue
		}
		s.mem -= e.size
		e.data = nil
		e.onDisk = true
		s.log.Debug("Evicted entry to disk", "key", victim, "size", e.size, "memory_bytes", s.mem)
	}
	return firstErr
}

// Get loads the value for key into dest, checking memory first and disk
// second. A disk hit refreshes lastAccessed but does not promote the entry
// back into memory.
func (s *SessionStore) Get(key string, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("get %q: %w", key, ErrNotFound)
	}
	e.lastAccessed = s.now()

	data := e.data
	if e.onDisk {
		var err error
		data, err = os.ReadFile(s.path(key))
		if err != nil {
			return fmt.Errorf("get %q from disk: %w", key, err)
		}
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("get %q: decode: %w", key, err)
	}
	return nil
}

// Delete removes key from memory and disk.
func (s *SessionStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(key)
}

func (s *SessionStore) dropLocked(key string) {
	e, ok := s.entries[key]
	if !ok {
		return
	}
	if e.onDisk {
		if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
			s.log.Warn("Failed to remove spill file", "key", key, "error", err)
		}
	} else {
		s.mem -= e.size
	}
	delete(s.entries, key)
}

// Clear removes every entry for the session; used on session reset.
func (s *SessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		s.dropLocked(key)
	}
}

// Stats reports the store's current footprint.
func (s *SessionStore) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := StoreStats{MemoryBytesUsed: s.mem, EntryCount: len(s.entries)}
	for _, e := range s.entries {
		if e.onDisk {
			stats.DiskBytesUsed += e.size
		}
	}
	return stats
}
