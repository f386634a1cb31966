package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"guildrag/chunker"
	"guildrag/clients"
	"guildrag/models"
	"guildrag/services"
	"guildrag/tokenizer"
)

type fakeFetcher struct {
	result *clients.FetchResult
	err    error
}

func (f *fakeFetcher) FetchGuild(
	ctx context.Context,
	guildID string,
	since *time.Time,
	onProgress clients.FetchProgress,
) (*clients.FetchResult, error) {
	if onProgress != nil {
		onProgress(1, 2, "draining channels")
		onProgress(2, 2, "draining channels")
	}
	return f.result, f.err
}

func (f *fakeFetcher) FetchChannel(
	ctx context.Context,
	guildID, channelID string,
	since *time.Time,
	onProgress clients.FetchProgress,
) (*clients.FetchResult, error) {
	return f.result, f.err
}

type runnerMocks struct {
	messages *services.MockMessagesService
	windows  *services.MockWindowsService
	queue    *services.MockEmbedQueueService
	ops      *services.MockSyncOperationsService
	cursors  *services.MockSyncCursorsService
	registry *services.MockChannelRegistryService
	tx       *services.MockTransactionManager
}

func newTestRunner(fetcher clients.MessageFetcher) (*Runner, *runnerMocks) {
	m := &runnerMocks{
		messages: new(services.MockMessagesService),
		windows:  new(services.MockWindowsService),
		queue:    new(services.MockEmbedQueueService),
		ops:      new(services.MockSyncOperationsService),
		cursors:  new(services.MockSyncCursorsService),
		registry: new(services.MockChannelRegistryService),
		tx:       new(services.MockTransactionManager),
	}
	engine := chunker.NewEngine(tokenizer.NewCounter(nil), chunker.DefaultConfig())
	runner := NewRunner(fetcher, m.messages, m.windows, m.queue, m.ops, m.cursors, m.registry, m.tx, engine)
	return runner, m
}

func guildOp() *models.SyncOperation {
	return &models.SyncOperation{
		ID:          "op_1",
		GuildID:     "guild_1",
		Scope:       models.SyncScopeGuild,
		Mode:        models.SyncModeFull,
		RequestedBy: "user_1",
		Status:      models.SyncStatusRunning,
	}
}

func fetchedMessage(id, channelID, content string, at time.Time) *models.Message {
	return &models.Message{
		MessageID:    id,
		GuildID:      "guild_1",
		ChannelID:    channelID,
		ContentPlain: &content,
		CreatedAt:    &at,
	}
}

func TestRunOperation_EmptyGuildCompletes(t *testing.T) {
	fetcher := &fakeFetcher{result: &clients.FetchResult{}}
	runner, m := newTestRunner(fetcher)

	m.ops.On("UpdateProgress", mock.Anything, "op_1", mock.Anything).Return(nil)
	m.registry.On("RegisterChannels", mock.Anything, mock.Anything).Return(nil)
	m.registry.On("RegisterThreads", mock.Anything, mock.Anything).Return(nil)
	m.ops.On("CompleteOperation", mock.Anything, "op_1", models.SyncStatusCompleted,
		models.SyncProgress{Processed: 100, Total: 100, Message: "completed"}).Return(nil)

	runner.runOperation(context.Background(), guildOp())

	m.ops.AssertExpectations(t)
	m.messages.AssertNotCalled(t, "SaveMessages", mock.Anything, mock.Anything)
	m.queue.AssertNotCalled(t, "EnqueueWindows", mock.Anything, mock.Anything)
	m.cursors.AssertNotCalled(t, "UpdateCursor", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOperation_FullPipeline(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	result := &clients.FetchResult{
		Messages: []*models.Message{
			fetchedMessage("msg_1", "chan_1", "hello there", at),
			fetchedMessage("msg_2", "chan_1", "general kenobi", at.Add(time.Minute)),
		},
		Channels: []*models.Channel{{ChannelID: "chan_1", GuildID: "guild_1"}},
	}
	fetcher := &fakeFetcher{result: result}
	runner, m := newTestRunner(fetcher)

	m.ops.On("UpdateProgress", mock.Anything, "op_1", mock.Anything).Return(nil)
	m.registry.On("RegisterChannels", mock.Anything, result.Channels).Return(nil)
	m.registry.On("RegisterThreads", mock.Anything, mock.Anything).Return(nil)
	m.ops.On("RecordChunkOutcome", mock.Anything, mock.Anything).Return(nil)
	m.messages.On("SaveMessages", mock.Anything, result.Messages).Return(nil)
	m.tx.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)
	m.windows.On("UpsertWindow", mock.Anything, mock.MatchedBy(func(w *models.MessageWindow) bool {
		return w.GuildID == "guild_1" &&
			w.ChannelID == "chan_1" &&
			w.Date == "2025-03-01" &&
			w.WindowSeq == 1 &&
			len(w.MessageIDs) == 2
	})).Return("win_1", nil)
	m.queue.On("EnqueueWindows", mock.Anything, []string{"win_1"}).Return(nil)
	m.queue.On("CountReadyByWindowIDs", mock.Anything, []string{"win_1"}).Return(0, nil)
	m.cursors.On("UpdateCursor", mock.Anything, "guild_1", "msg_2", at.Add(time.Minute)).Return(nil)
	m.ops.On("CompleteOperation", mock.Anything, "op_1", models.SyncStatusCompleted,
		mock.Anything).Return(nil)

	runner.runOperation(context.Background(), guildOp())

	m.windows.AssertExpectations(t)
	m.queue.AssertExpectations(t)
	m.cursors.AssertExpectations(t)
	m.ops.AssertExpectations(t)
}

func TestRunOperation_FetchFailureMarksFailed(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("discord unreachable")}
	runner, m := newTestRunner(fetcher)

	m.ops.On("UpdateProgress", mock.Anything, "op_1", mock.Anything).Return(nil)
	m.ops.On("CompleteOperation", mock.Anything, "op_1", models.SyncStatusFailed,
		mock.MatchedBy(func(p models.SyncProgress) bool {
			return p.Message != "" && p.Total == 100
		})).Return(nil)

	runner.runOperation(context.Background(), guildOp())

	m.ops.AssertExpectations(t)
	m.messages.AssertNotCalled(t, "SaveMessages", mock.Anything, mock.Anything)
}

func TestRunOperation_ProgressIsMonotonic(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	result := &clients.FetchResult{
		Messages: []*models.Message{fetchedMessage("msg_1", "chan_1", "hi", at)},
	}
	fetcher := &fakeFetcher{result: result}
	runner, m := newTestRunner(fetcher)

	var observed []int
	m.ops.On("UpdateProgress", mock.Anything, "op_1", mock.Anything).
		Run(func(args mock.Arguments) {
			observed = append(observed, args.Get(2).(models.SyncProgress).Processed)
		}).Return(nil)
	m.registry.On("RegisterChannels", mock.Anything, mock.Anything).Return(nil)
	m.registry.On("RegisterThreads", mock.Anything, mock.Anything).Return(nil)
	m.messages.On("SaveMessages", mock.Anything, mock.Anything).Return(nil)
	m.tx.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)
	m.windows.On("UpsertWindow", mock.Anything, mock.Anything).Return("win_1", nil)
	m.queue.On("EnqueueWindows", mock.Anything, mock.Anything).Return(nil)
	m.queue.On("CountReadyByWindowIDs", mock.Anything, mock.Anything).Return(0, nil)
	m.cursors.On("UpdateCursor", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.ops.On("CompleteOperation", mock.Anything, "op_1", models.SyncStatusCompleted, mock.Anything).Return(nil)

	runner.runOperation(context.Background(), guildOp())

	require.NotEmpty(t, observed)
	for i := 1; i < len(observed); i++ {
		assert.GreaterOrEqual(t, observed[i], observed[i-1])
	}
	assert.LessOrEqual(t, observed[len(observed)-1], 100)
}

// concurrentFetcher fires the progress callback from many goroutines at once,
// the way the guild fan-out reports per-container completion.
type concurrentFetcher struct {
	containers int
}

func (f *concurrentFetcher) FetchGuild(
	ctx context.Context,
	guildID string,
	since *time.Time,
	onProgress clients.FetchProgress,
) (*clients.FetchResult, error) {
	var wg stdsync.WaitGroup
	for i := 1; i <= f.containers; i++ {
		wg.Add(1)
		go func(completed int) {
			defer wg.Done()
			onProgress(completed, f.containers, "draining channels")
		}(i)
	}
	wg.Wait()
	return &clients.FetchResult{}, nil
}

func (f *concurrentFetcher) FetchChannel(
	ctx context.Context,
	guildID, channelID string,
	since *time.Time,
	onProgress clients.FetchProgress,
) (*clients.FetchResult, error) {
	return &clients.FetchResult{}, nil
}

func TestRunOperation_ConcurrentFetchCallbacksStayMonotonic(t *testing.T) {
	runner, m := newTestRunner(&concurrentFetcher{containers: 50})

	var observed []int
	m.ops.On("UpdateProgress", mock.Anything, "op_1", mock.Anything).
		Run(func(args mock.Arguments) {
			observed = append(observed, args.Get(2).(models.SyncProgress).Processed)
		}).Return(nil)
	m.registry.On("RegisterChannels", mock.Anything, mock.Anything).Return(nil)
	m.registry.On("RegisterThreads", mock.Anything, mock.Anything).Return(nil)
	m.ops.On("CompleteOperation", mock.Anything, "op_1", models.SyncStatusCompleted,
		mock.Anything).Return(nil)

	runner.runOperation(context.Background(), guildOp())

	require.NotEmpty(t, observed)
	for i := 1; i < len(observed); i++ {
		assert.GreaterOrEqual(t, observed[i], observed[i-1],
			"progress regressed at write %d: %v", i, observed)
	}
	m.ops.AssertExpectations(t)
}

func TestChunkPhase_PartitionsByContainerAndDate(t *testing.T) {
	at := time.Date(2025, 3, 1, 23, 50, 0, 0, time.UTC)
	threadID := "thread_1"
	threadMsg := fetchedMessage("msg_t", "chan_1", "in a thread", at)
	threadMsg.ThreadID = &threadID

	messages := []*models.Message{
		fetchedMessage("msg_1", "chan_1", "late night", at),
		fetchedMessage("msg_2", "chan_1", "next day", at.Add(20*time.Minute)),
		threadMsg,
	}

	runner, m := newTestRunner(&fakeFetcher{})

	m.ops.On("UpdateProgress", mock.Anything, "op_1", mock.Anything).Return(nil)
	m.tx.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)

	var seen []string
	m.windows.On("UpsertWindow", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			w := args.Get(1).(*models.MessageWindow)
			seen = append(seen, fmt.Sprintf("%s|%s", w.ChannelID, w.Date))
		}).Return("win_x", nil)
	m.queue.On("EnqueueWindows", mock.Anything, mock.Anything).Return(nil)

	tracker := &progressTracker{last: 50}
	ids, err := runner.chunkPhase(context.Background(), guildOp(), messages, tracker)

	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.ElementsMatch(t, []string{
		"chan_1|2025-03-01",
		"chan_1|2025-03-02",
		"thread_1|2025-03-01",
	}, seen)
}

func TestAwaitEmbeddings_AssumesDoneAfterConsecutiveErrors(t *testing.T) {
	runner, m := newTestRunner(&fakeFetcher{})

	m.queue.On("CountReadyByWindowIDs", mock.Anything, mock.Anything).
		Return(0, fmt.Errorf("db flaking")).Times(embedWaitMaxErrors)

	tracker := &progressTracker{last: 90}
	done := make(chan struct{})
	go func() {
		runner.awaitEmbeddings(context.Background(), "op_1", []string{"win_1"}, tracker)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("awaitEmbeddings did not give up after consecutive errors")
	}
	m.queue.AssertExpectations(t)
}

func TestDrainQueue_NoQueuedOperations(t *testing.T) {
	runner, m := newTestRunner(&fakeFetcher{})

	m.ops.On("ClaimNextOperation", mock.Anything).
		Return(mo.None[*models.SyncOperation](), nil)

	runner.drainQueue(context.Background())
	m.ops.AssertExpectations(t)
}
