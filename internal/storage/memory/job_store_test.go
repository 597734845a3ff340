package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docs-summarizer/internal/crawler"
	"github.com/JakeFAU/docs-summarizer/internal/storage/storetest"
)

func TestJobStoreSuite(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(_ *testing.T, clock crawler.Clock) crawler.JobStore {
		return NewJobStore(clock)
	})
}

func TestGetJobReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()
	job, err := store.CreateJob(ctx, crawler.JobParameters{URL: "https://example.com/", MaxPages: 1, MaxDepth: 1})
	require.NoError(t, err)
	canceled, err := store.Cancel(ctx, job.ID)
	require.NoError(t, err)

	canceled.Error.Message = "mutated"
	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotEqual(t, "mutated", got.Error.Message)
}
