package enhance

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DefaultMemoryBudget bounds how much the session store keeps in memory
// before spilling to disk.
const DefaultMemoryBudget int64 = 64 << 20 // 64 MiB

// SessionConfig collects the knobs every session component needs.
type SessionConfig struct {
	StorageRoot  string         // "" → os.TempDir()
	MemoryBudget int64          // <=0 → DefaultMemoryBudget
	Catalog      *ModelCatalog  // nil → DefaultCatalog()
	Client       Enhancer       // nil → UnavailableEnhancer
	Prompts      *PromptBuilder // nil → built-in templates
	Logger       *slog.Logger   // nil → slog.Default()
}

// Session bundles the per-session state the pipeline shares: usage-tracking
// rate limiter, bounded store, processor, and progress tracker. There is no
// ambient global; callers construct one session and pass it around.
type Session struct {
	ID        string
	Store     *SessionStore
	Limiter   *RateLimiter
	Processor *Processor
	Tracker   *Tracker
	log       *slog.Logger
}

// NewSession constructs a session with a fresh id and its own storage
// directory.
func NewSession(cfg SessionConfig) (*Session, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	root := cfg.StorageRoot
	if root == "" {
		root = os.TempDir()
	}
	budget := cfg.MemoryBudget
	if budget <= 0 {
		budget = DefaultMemoryBudget
	}

	id := uuid.NewString()
	store, err := NewSessionStore(filepath.Join(root, "enhance-sessions", id), budget, log)
	if err != nil {
		return nil, err
	}

	limiter := NewRateLimiter(cfg.Catalog, cfg.Client, log)
	tracker := NewTracker()
	proc, err := NewProcessor(limiter, cfg.Prompts, store, log)
	if err != nil {
		return nil, err
	}
	proc.SetTracker(tracker)

	log.Info("Session initialized", "session_id", id, "memory_budget", budget)
	return &Session{
		ID:        id,
		Store:     store,
		Limiter:   limiter,
		Processor: proc,
		Tracker:   tracker,
		log:       log,
	}, nil
}

// Reset clears the store and usage stats; explicit user action only.
func (s *Session) Reset() {
	s.Store.Clear()
	s.Limiter.ResetStats()
	s.log.Info("Session reset", "session_id", s.ID)
}

// CleanupOldSessions removes session directories under root that have not
// been touched within maxAge. The current session is left alone.
func (s *Session) CleanupOldSessions(root string, maxAge time.Duration) {
	base := filepath.Join(root, "enhance-sessions")
	dirs, err := os.ReadDir(base)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, d := range dirs {
		if !d.IsDir() || d.Name() == s.ID {
			continue
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(base, d.Name())); err != nil {
			s.log.Warn("Failed to clean up old session", "dir", d.Name(), "error", err)
			continue
		}
		s.log.Debug("Cleaned up old session", "dir", d.Name())
	}
}
