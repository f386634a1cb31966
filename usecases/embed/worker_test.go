package embed

import (
	"context"
	"fmt"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"guildrag/models"
	"guildrag/services"
	"guildrag/tokenizer"
)

type fakeEmbedder struct {
	vector   []float32
	err      error
	failures int
	calls    int
}

func (f *fakeEmbedder) EmbedWindow(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil && f.calls <= f.failures {
		return nil, f.err
	}
	if f.err != nil && f.failures == 0 {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.EmbedWindow(ctx, text)
}

func newTestWorker(
	queue *services.MockEmbedQueueService,
	windows *services.MockWindowsService,
	embeddings *services.MockEmbeddingsService,
	embedder *fakeEmbedder,
) *Worker {
	return NewWorker(queue, windows, embeddings, embedder, tokenizer.NewCounter(nil), 2)
}

func queueItem(id, windowID string) *models.EmbedQueueItem {
	return &models.EmbedQueueItem{
		ID:       id,
		WindowID: windowID,
		Status:   models.EmbedQueueStatusReady,
	}
}

func TestProcessItem_HappyPath(t *testing.T) {
	queue := new(services.MockEmbedQueueService)
	windows := new(services.MockWindowsService)
	embeddings := new(services.MockEmbeddingsService)
	embedder := &fakeEmbedder{vector: []float32{0.5, 0.5}}

	windows.On("ResolveWindowText", mock.Anything, "win_1").
		Return(mo.Some("window text"), nil)
	embeddings.On("UpsertEmbedding", mock.Anything, "win_1", []float32{0.5, 0.5}).
		Return(nil)
	queue.On("CompleteItem", mock.Anything, "eq_1").Return(nil)

	worker := newTestWorker(queue, windows, embeddings, embedder)
	worker.processItem(context.Background(), queueItem("eq_1", "win_1"))

	queue.AssertExpectations(t)
	windows.AssertExpectations(t)
	embeddings.AssertExpectations(t)
	queue.AssertNotCalled(t, "RegisterAttempt", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessItem_MissingTextFailsTerminally(t *testing.T) {
	queue := new(services.MockEmbedQueueService)
	windows := new(services.MockWindowsService)
	embeddings := new(services.MockEmbeddingsService)
	embedder := &fakeEmbedder{vector: []float32{1}}

	windows.On("ResolveWindowText", mock.Anything, "win_gone").
		Return(mo.None[string](), nil)
	queue.On("FailItem", mock.Anything, "eq_2").Return(nil)

	worker := newTestWorker(queue, windows, embeddings, embedder)
	worker.processItem(context.Background(), queueItem("eq_2", "win_gone"))

	queue.AssertExpectations(t)
	assert.Equal(t, 0, embedder.calls)
	queue.AssertNotCalled(t, "RegisterAttempt", mock.Anything, mock.Anything, mock.Anything)
	queue.AssertNotCalled(t, "CompleteItem", mock.Anything, mock.Anything)
}

func TestProcessItem_EmbedErrorRegistersAttempt(t *testing.T) {
	queue := new(services.MockEmbedQueueService)
	windows := new(services.MockWindowsService)
	embeddings := new(services.MockEmbeddingsService)
	embedder := &fakeEmbedder{err: fmt.Errorf("model overloaded")}

	windows.On("ResolveWindowText", mock.Anything, "win_3").
		Return(mo.Some("text"), nil)
	queue.On("RegisterAttempt", mock.Anything, "eq_3", maxAttempts).Return(false, nil)

	worker := newTestWorker(queue, windows, embeddings, embedder)
	worker.processItem(context.Background(), queueItem("eq_3", "win_3"))

	queue.AssertExpectations(t)
	queue.AssertNotCalled(t, "CompleteItem", mock.Anything, mock.Anything)
	queue.AssertNotCalled(t, "FailItem", mock.Anything, mock.Anything)
}

func TestProcessItem_UpsertErrorRegistersAttempt(t *testing.T) {
	queue := new(services.MockEmbedQueueService)
	windows := new(services.MockWindowsService)
	embeddings := new(services.MockEmbeddingsService)
	embedder := &fakeEmbedder{vector: []float32{1, 2}}

	windows.On("ResolveWindowText", mock.Anything, "win_4").
		Return(mo.Some("text"), nil)
	embeddings.On("UpsertEmbedding", mock.Anything, "win_4", []float32{1, 2}).
		Return(fmt.Errorf("db down"))
	queue.On("RegisterAttempt", mock.Anything, "eq_4", maxAttempts).Return(true, nil)

	worker := newTestWorker(queue, windows, embeddings, embedder)
	worker.processItem(context.Background(), queueItem("eq_4", "win_4"))

	queue.AssertExpectations(t)
	queue.AssertNotCalled(t, "CompleteItem", mock.Anything, mock.Anything)
}

func TestProcessItem_RetryThenSuccessAcrossCycles(t *testing.T) {
	queue := new(services.MockEmbedQueueService)
	windows := new(services.MockWindowsService)
	embeddings := new(services.MockEmbeddingsService)
	embedder := &fakeEmbedder{vector: []float32{9}, err: fmt.Errorf("transient"), failures: 1}

	windows.On("ResolveWindowText", mock.Anything, "win_5").
		Return(mo.Some("text"), nil)
	queue.On("RegisterAttempt", mock.Anything, "eq_5", maxAttempts).Return(false, nil).Once()
	embeddings.On("UpsertEmbedding", mock.Anything, "win_5", []float32{9}).Return(nil)
	queue.On("CompleteItem", mock.Anything, "eq_5").Return(nil).Once()

	worker := newTestWorker(queue, windows, embeddings, embedder)
	item := queueItem("eq_5", "win_5")

	// First cycle fails and books an attempt; the row stays ready and a later
	// batch picks it up again.
	worker.processItem(context.Background(), item)
	worker.processItem(context.Background(), item)

	queue.AssertExpectations(t)
	embeddings.AssertExpectations(t)
	assert.Equal(t, 2, embedder.calls)
}

func TestRunOnce_EmptyQueueReturnsZero(t *testing.T) {
	queue := new(services.MockEmbedQueueService)
	windows := new(services.MockWindowsService)
	embeddings := new(services.MockEmbeddingsService)

	queue.On("ClaimReadyBatch", mock.Anything, defaultBatchSize).
		Return([]*models.EmbedQueueItem{}, nil)

	worker := newTestWorker(queue, windows, embeddings, &fakeEmbedder{})
	assert.Equal(t, 0, worker.runOnce(context.Background()))
	queue.AssertExpectations(t)
}

func TestRunOnce_ProcessesClaimedBatch(t *testing.T) {
	queue := new(services.MockEmbedQueueService)
	windows := new(services.MockWindowsService)
	embeddings := new(services.MockEmbeddingsService)
	embedder := &fakeEmbedder{vector: []float32{1}}

	batch := []*models.EmbedQueueItem{
		queueItem("eq_a", "win_a"),
		queueItem("eq_b", "win_b"),
	}
	queue.On("ClaimReadyBatch", mock.Anything, defaultBatchSize).Return(batch, nil)
	windows.On("ResolveWindowText", mock.Anything, mock.Anything).
		Return(mo.Some("text"), nil)
	embeddings.On("UpsertEmbedding", mock.Anything, mock.Anything, []float32{1}).Return(nil)
	queue.On("CompleteItem", mock.Anything, "eq_a").Return(nil).Once()
	queue.On("CompleteItem", mock.Anything, "eq_b").Return(nil).Once()

	worker := newTestWorker(queue, windows, embeddings, embedder)
	assert.Equal(t, 2, worker.runOnce(context.Background()))
	queue.AssertExpectations(t)
}
