package enhance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionDefaults(t *testing.T) {
	root := t.TempDir()
	s, err := NewSession(SessionConfig{StorageRoot: root, Client: NewMockEnhancer()})
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	require.NotNil(t, s.Store)
	require.NotNil(t, s.Limiter)
	require.NotNil(t, s.Processor)
	require.NotNil(t, s.Tracker)

	// The session owns its own storage directory.
	info, err := os.Stat(filepath.Join(root, "enhance-sessions", s.ID))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSessionEndToEndRun(t *testing.T) {
	s, err := NewSession(SessionConfig{
		StorageRoot: t.TempDir(),
		Catalog:     testCatalog(0, 0),
		Client:      NewMockEnhancer(),
	})
	require.NoError(t, err)
	newFakeClock().install(s.Limiter)

	run, err := s.Processor.Process(context.Background(), makeChunks(4),
		WithSequential(),
		WithStoreKey("latest"),
	)
	require.NoError(t, err)
	assert.Equal(t, 4, run.Completed)

	// The tracker is wired in and the results landed in the store.
	assert.Equal(t, 4, s.Tracker.Snapshot().Completed)
	var stored []EnhancementResult
	require.NoError(t, s.Store.Get("latest", &stored))
	assert.Len(t, stored, 4)
	assert.Equal(t, 1, s.Limiter.Stats().RequestCount)
}

func TestSessionReset(t *testing.T) {
	s, err := NewSession(SessionConfig{
		StorageRoot: t.TempDir(),
		Catalog:     testCatalog(0, 0),
		Client:      NewMockEnhancer(),
	})
	require.NoError(t, err)
	newFakeClock().install(s.Limiter)

	_, err = s.Processor.Process(context.Background(), makeChunks(2),
		WithSequential(), WithStoreKey("latest"))
	require.NoError(t, err)
	require.NotZero(t, s.Limiter.Stats().RequestCount)

	s.Reset()
	assert.Zero(t, s.Limiter.Stats().RequestCount)
	assert.Zero(t, s.Store.Stats().EntryCount)
}

func TestCleanupOldSessions(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "enhance-sessions")

	stale := filepath.Join(base, "stale-session")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	s, err := NewSession(SessionConfig{StorageRoot: root, Client: NewMockEnhancer()})
	require.NoError(t, err)

	s.CleanupOldSessions(root, 24*time.Hour)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale session directory must be removed")
	_, err = os.Stat(filepath.Join(base, s.ID))
	assert.NoError(t, err, "the live session directory must survive")
}

func TestSessionUnavailableClient(t *testing.T) {
	s, err := NewSession(SessionConfig{StorageRoot: t.TempDir()})
	require.NoError(t, err)
	newFakeClock().install(s.Limiter)

	run, err := s.Processor.Process(context.Background(), makeChunks(2), WithSequential())
	require.NoError(t, err)
	assert.Equal(t, 2, run.Failed)
	for _, r := range run.Results {
		assert.Equal(t, ErrorKindDependencyMissing, r.ErrorKind)
	}
}
