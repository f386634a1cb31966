package embedqueue

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildrag/models"
)

// fakeQueueRepo tracks per-row attempt counts and transitions in memory.
type fakeQueueRepo struct {
	attempts     map[string]int
	failed       []string
	done         []string
	enqueued     [][]*models.EmbedQueueItem
	countBatches [][]string
	countPerCall int
	err          error
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{attempts: make(map[string]int)}
}

func (r *fakeQueueRepo) EnqueueWindows(ctx context.Context, items []*models.EmbedQueueItem) error {
	r.enqueued = append(r.enqueued, items)
	return r.err
}

func (r *fakeQueueRepo) ClaimReadyBatch(ctx context.Context, limit int) ([]*models.EmbedQueueItem, error) {
	return nil, r.err
}

func (r *fakeQueueRepo) MarkDone(ctx context.Context, id string) error {
	r.done = append(r.done, id)
	return r.err
}

func (r *fakeQueueRepo) MarkFailed(ctx context.Context, id string) error {
	r.failed = append(r.failed, id)
	return r.err
}

func (r *fakeQueueRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.attempts[id]++
	return r.attempts[id], nil
}

func (r *fakeQueueRepo) CountReadyByWindowIDs(ctx context.Context, windowIDs []string) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	batch := make([]string, len(windowIDs))
	copy(batch, windowIDs)
	r.countBatches = append(r.countBatches, batch)
	return r.countPerCall, nil
}

func (r *fakeQueueRepo) CountReadyForGuild(ctx context.Context, guildID string) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	return r.countPerCall, nil
}

func TestRegisterAttempt_FailsTerminallyAtCap(t *testing.T) {
	repo := newFakeQueueRepo()
	service := &EmbedQueueService{queueRepo: repo}

	// Attempts 1 through 4 leave the row ready for a later retry.
	for i := 1; i <= 4; i++ {
		terminal, err := service.RegisterAttempt(context.Background(), "eq_1", 5)
		require.NoError(t, err)
		assert.False(t, terminal, "attempt %d should not be terminal", i)
		assert.Empty(t, repo.failed)
	}

	// The fifth attempt hits the cap and fails the row exactly once.
	terminal, err := service.RegisterAttempt(context.Background(), "eq_1", 5)
	require.NoError(t, err)
	assert.True(t, terminal)
	assert.Equal(t, []string{"eq_1"}, repo.failed)
	assert.Equal(t, 5, repo.attempts["eq_1"])
}

func TestRegisterAttempt_PropagatesRepoError(t *testing.T) {
	repo := newFakeQueueRepo()
	repo.err = fmt.Errorf("connection reset")
	service := &EmbedQueueService{queueRepo: repo}

	terminal, err := service.RegisterAttempt(context.Background(), "eq_1", 5)
	assert.Error(t, err)
	assert.False(t, terminal)
	assert.Empty(t, repo.failed)
}

func TestEnqueueWindows_AssignsIDsAndReadyStatus(t *testing.T) {
	repo := newFakeQueueRepo()
	service := &EmbedQueueService{queueRepo: repo}

	require.NoError(t, service.EnqueueWindows(context.Background(), []string{"win_1", "win_2"}))

	require.Len(t, repo.enqueued, 1)
	items := repo.enqueued[0]
	require.Len(t, items, 2)
	for i, item := range items {
		assert.NotEmpty(t, item.ID)
		assert.Equal(t, fmt.Sprintf("win_%d", i+1), item.WindowID)
		assert.Equal(t, 0, item.Priority)
		assert.Equal(t, models.EmbedQueueStatusReady, item.Status)
	}
}

func TestEnqueueWindows_EmptyIsNoop(t *testing.T) {
	repo := newFakeQueueRepo()
	service := &EmbedQueueService{queueRepo: repo}

	require.NoError(t, service.EnqueueWindows(context.Background(), nil))
	assert.Empty(t, repo.enqueued)
}

func TestCountReadyByWindowIDs_BatchesLookups(t *testing.T) {
	repo := newFakeQueueRepo()
	repo.countPerCall = 2
	service := &EmbedQueueService{queueRepo: repo}

	ids := make([]string, 1200)
	for i := range ids {
		ids[i] = fmt.Sprintf("win_%d", i)
	}

	total, err := service.CountReadyByWindowIDs(context.Background(), ids)
	require.NoError(t, err)

	// 1200 ids split into 500/500/200.
	require.Len(t, repo.countBatches, 3)
	assert.Len(t, repo.countBatches[0], 500)
	assert.Len(t, repo.countBatches[1], 500)
	assert.Len(t, repo.countBatches[2], 200)
	assert.Equal(t, 6, total)
}
