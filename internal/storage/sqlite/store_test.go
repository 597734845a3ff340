package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docs-summarizer/internal/crawler"
	"github.com/JakeFAU/docs-summarizer/internal/storage/storetest"
)

func openTemp(t *testing.T, clock crawler.Clock) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "summaries.db")}, clock)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestStoreSuite(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T, clock crawler.Clock) crawler.JobStore {
		return openTemp(t, clock)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{}, nil)
	require.ErrorContains(t, err, "path is required")
}

func TestReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "summaries.db")
	ctx := context.Background()
	store, err := Open(ctx, Config{Path: path}, nil)
	require.NoError(t, err)
	job, err := store.CreateJob(ctx, crawler.JobParameters{URL: "https://docs.example.com/", MaxPages: 5, MaxDepth: 2})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, Config{Path: path}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	got, err := reopened.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusQueued, got.Status)
	require.Equal(t, "https://docs.example.com/", got.URL)
}
