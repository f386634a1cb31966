package syncops

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/samber/mo"

	"guildrag/core"
	"guildrag/db"
	"guildrag/models"
	"guildrag/services"
)

type SyncOperationsService struct {
	opsRepo    *db.PostgresSyncOperationsRepository
	chunksRepo *db.PostgresSyncChunksRepository
	cursors    services.SyncCursorsService
}

func NewSyncOperationsService(
	opsRepo *db.PostgresSyncOperationsRepository,
	chunksRepo *db.PostgresSyncChunksRepository,
	cursors services.SyncCursorsService,
) *SyncOperationsService {
	return &SyncOperationsService{
		opsRepo:    opsRepo,
		chunksRepo: chunksRepo,
		cursors:    cursors,
	}
}

// EnqueueSyncOperation creates a queued operation for the guild. Mode is
// delta iff a cursor exists, in which case since is the cursor's
// last_synced_at.
func (s *SyncOperationsService) EnqueueSyncOperation(
	ctx context.Context,
	guildID string,
	scope models.SyncScope,
	targetIDs []string,
	requestedBy string,
) (*models.SyncOperation, error) {
	log.Printf("📋 Starting to enqueue %s sync for guild %s requested by %s", scope, guildID, requestedBy)

	if guildID == "" {
		return nil, fmt.Errorf("guild_id cannot be empty")
	}
	if requestedBy == "" {
		return nil, fmt.Errorf("requested_by cannot be empty")
	}
	switch scope {
	case models.SyncScopeGuild, models.SyncScopeChannel, models.SyncScopeThread:
	default:
		return nil, fmt.Errorf("unsupported sync scope: %s", scope)
	}
	if scope != models.SyncScopeGuild && len(targetIDs) == 0 {
		return nil, fmt.Errorf("%s scope requires target_ids", scope)
	}

	mode := models.SyncModeFull
	var since *time.Time
	maybeCursor, err := s.cursors.GetCursor(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if maybeCursor.IsPresent() && maybeCursor.MustGet().LastSyncedAt != nil {
		mode = models.SyncModeDelta
		since = maybeCursor.MustGet().LastSyncedAt
	}

	op := &models.SyncOperation{
		ID:          core.NewID("op"),
		GuildID:     guildID,
		Scope:       scope,
		Mode:        mode,
		TargetIDs:   targetIDs,
		Since:       since,
		RequestedBy: requestedBy,
		Status:      models.SyncStatusQueued,
		Progress:    models.SyncProgress{Processed: 0, Total: 100, Message: "queued"},
	}

	if err := s.opsRepo.CreateSyncOperation(ctx, op); err != nil {
		return nil, core.NewCodedError(core.CodeSyncEnqueueFailed, err)
	}

	log.Printf("📋 Completed successfully - enqueued sync operation %s (%s mode)", op.ID, mode)
	return op, nil
}

func (s *SyncOperationsService) ClaimNextOperation(
	ctx context.Context,
) (mo.Option[*models.SyncOperation], error) {
	maybeOp, err := s.opsRepo.ClaimOldestQueued(ctx)
	if err != nil {
		return mo.None[*models.SyncOperation](), fmt.Errorf("failed to claim next operation: %w", err)
	}
	return maybeOp, nil
}

func (s *SyncOperationsService) GetOperationByID(
	ctx context.Context,
	id string,
) (mo.Option[*models.SyncOperation], error) {
	if !core.IsValidULID(id) {
		return mo.None[*models.SyncOperation](), fmt.Errorf("operation id must be a valid ULID")
	}
	return s.opsRepo.GetSyncOperationByID(ctx, id)
}

func (s *SyncOperationsService) UpdateProgress(
	ctx context.Context,
	id string,
	progress models.SyncProgress,
) error {
	if err := s.opsRepo.UpdateProgress(ctx, id, progress); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

func (s *SyncOperationsService) CompleteOperation(
	ctx context.Context,
	id string,
	status models.SyncStatus,
	progress models.SyncProgress,
) error {
	if status != models.SyncStatusCompleted && status != models.SyncStatusFailed {
		return fmt.Errorf("terminal status must be completed or failed, got %s", status)
	}
	if err := s.opsRepo.CompleteOperation(ctx, id, status, progress); err != nil {
		return fmt.Errorf("failed to complete operation: %w", err)
	}
	log.Printf("📋 Sync operation %s finished with status %s", id, status)
	return nil
}

func (s *SyncOperationsService) ResetStaleRunning(
	ctx context.Context,
	olderThan time.Duration,
) (int64, error) {
	reset, err := s.opsRepo.ResetStaleRunning(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale running operations: %w", err)
	}
	if reset > 0 {
		log.Printf("⚠️ Reset %d stale running sync operations back to queued", reset)
	}
	return reset, nil
}

func (s *SyncOperationsService) RecordChunkOutcome(ctx context.Context, chunk *models.SyncChunk) error {
	if chunk.ID == "" {
		chunk.ID = core.NewID("sc")
	}
	if err := s.chunksRepo.RecordChunk(ctx, chunk); err != nil {
		// Chunk bookkeeping is advisory; a write failure must not sink a job.
		log.Printf("⚠️ Failed to record sync chunk for target %s: %v", chunk.TargetID, err)
	}
	return nil
}
