package services

import (
	"context"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"

	"guildrag/models"
)

// MockMessagesService is a mock implementation of MessagesService
type MockMessagesService struct {
	mock.Mock
}

func (m *MockMessagesService) SaveMessages(ctx context.Context, messages []*models.Message) error {
	args := m.Called(ctx, messages)
	return args.Error(0)
}

func (m *MockMessagesService) GetMessagesByIDs(
	ctx context.Context,
	messageIDs []string,
) ([]*models.Message, error) {
	args := m.Called(ctx, messageIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

// MockWindowsService is a mock implementation of WindowsService
type MockWindowsService struct {
	mock.Mock
}

func (m *MockWindowsService) UpsertWindow(
	ctx context.Context,
	window *models.MessageWindow,
) (string, error) {
	args := m.Called(ctx, window)
	return args.String(0), args.Error(1)
}

func (m *MockWindowsService) GetWindowByID(
	ctx context.Context,
	windowID string,
) (mo.Option[*models.MessageWindow], error) {
	args := m.Called(ctx, windowID)
	return args.Get(0).(mo.Option[*models.MessageWindow]), args.Error(1)
}

func (m *MockWindowsService) GetWindowsByIDs(
	ctx context.Context,
	windowIDs []string,
) ([]*models.MessageWindow, error) {
	args := m.Called(ctx, windowIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.MessageWindow), args.Error(1)
}

func (m *MockWindowsService) ResolveWindowText(
	ctx context.Context,
	windowID string,
) (mo.Option[string], error) {
	args := m.Called(ctx, windowID)
	return args.Get(0).(mo.Option[string]), args.Error(1)
}

// MockEmbeddingsService is a mock implementation of EmbeddingsService
type MockEmbeddingsService struct {
	mock.Mock
}

func (m *MockEmbeddingsService) UpsertEmbedding(
	ctx context.Context,
	windowID string,
	embedding []float32,
) error {
	args := m.Called(ctx, windowID, embedding)
	return args.Error(0)
}

func (m *MockEmbeddingsService) MatchWindowsInGuild(
	ctx context.Context,
	queryEmbedding []float32,
	guildID string,
	limit int,
) ([]*models.WindowMatch, error) {
	args := m.Called(ctx, queryEmbedding, guildID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.WindowMatch), args.Error(1)
}

// MockEmbedQueueService is a mock implementation of EmbedQueueService
type MockEmbedQueueService struct {
	mock.Mock
}

func (m *MockEmbedQueueService) EnqueueWindows(ctx context.Context, windowIDs []string) error {
	args := m.Called(ctx, windowIDs)
	return args.Error(0)
}

func (m *MockEmbedQueueService) ClaimReadyBatch(
	ctx context.Context,
	limit int,
) ([]*models.EmbedQueueItem, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.EmbedQueueItem), args.Error(1)
}

func (m *MockEmbedQueueService) CompleteItem(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockEmbedQueueService) FailItem(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockEmbedQueueService) RegisterAttempt(
	ctx context.Context,
	id string,
	maxAttempts int,
) (bool, error) {
	args := m.Called(ctx, id, maxAttempts)
	return args.Bool(0), args.Error(1)
}

func (m *MockEmbedQueueService) CountReadyByWindowIDs(
	ctx context.Context,
	windowIDs []string,
) (int, error) {
	args := m.Called(ctx, windowIDs)
	return args.Int(0), args.Error(1)
}

func (m *MockEmbedQueueService) CountReadyForGuild(ctx context.Context, guildID string) (int, error) {
	args := m.Called(ctx, guildID)
	return args.Int(0), args.Error(1)
}

// MockSyncOperationsService is a mock implementation of SyncOperationsService
type MockSyncOperationsService struct {
	mock.Mock
}

func (m *MockSyncOperationsService) EnqueueSyncOperation(
	ctx context.Context,
	guildID string,
	scope models.SyncScope,
	targetIDs []string,
	requestedBy string,
) (*models.SyncOperation, error) {
	args := m.Called(ctx, guildID, scope, targetIDs, requestedBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncOperation), args.Error(1)
}

func (m *MockSyncOperationsService) ClaimNextOperation(
	ctx context.Context,
) (mo.Option[*models.SyncOperation], error) {
	args := m.Called(ctx)
	return args.Get(0).(mo.Option[*models.SyncOperation]), args.Error(1)
}

func (m *MockSyncOperationsService) GetOperationByID(
	ctx context.Context,
	id string,
) (mo.Option[*models.SyncOperation], error) {
	args := m.Called(ctx, id)
	return args.Get(0).(mo.Option[*models.SyncOperation]), args.Error(1)
}

func (m *MockSyncOperationsService) UpdateProgress(
	ctx context.Context,
	id string,
	progress models.SyncProgress,
) error {
	args := m.Called(ctx, id, progress)
	return args.Error(0)
}

func (m *MockSyncOperationsService) CompleteOperation(
	ctx context.Context,
	id string,
	status models.SyncStatus,
	progress models.SyncProgress,
) error {
	args := m.Called(ctx, id, status, progress)
	return args.Error(0)
}

func (m *MockSyncOperationsService) ResetStaleRunning(
	ctx context.Context,
	olderThan time.Duration,
) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSyncOperationsService) RecordChunkOutcome(
	ctx context.Context,
	chunk *models.SyncChunk,
) error {
	args := m.Called(ctx, chunk)
	return args.Error(0)
}

// MockSyncCursorsService is a mock implementation of SyncCursorsService
type MockSyncCursorsService struct {
	mock.Mock
}

func (m *MockSyncCursorsService) GetCursor(
	ctx context.Context,
	guildID string,
) (mo.Option[*models.SyncCursor], error) {
	args := m.Called(ctx, guildID)
	return args.Get(0).(mo.Option[*models.SyncCursor]), args.Error(1)
}

func (m *MockSyncCursorsService) UpdateCursor(
	ctx context.Context,
	guildID, lastMessageID string,
	lastSyncedAt time.Time,
) error {
	args := m.Called(ctx, guildID, lastMessageID, lastSyncedAt)
	return args.Error(0)
}

// MockChannelRegistryService is a mock implementation of ChannelRegistryService
type MockChannelRegistryService struct {
	mock.Mock
}

func (m *MockChannelRegistryService) RegisterChannels(
	ctx context.Context,
	channels []*models.Channel,
) error {
	args := m.Called(ctx, channels)
	return args.Error(0)
}

func (m *MockChannelRegistryService) RegisterThreads(
	ctx context.Context,
	threads []*models.Thread,
) error {
	args := m.Called(ctx, threads)
	return args.Error(0)
}

// MockTransactionManager is a mock implementation of TransactionManager that
// executes the function directly without a transaction.
type MockTransactionManager struct {
	mock.Mock
}

func (m *MockTransactionManager) WithTransaction(
	ctx context.Context,
	fn func(ctx context.Context) error,
) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx)
}
