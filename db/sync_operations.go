package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/mo"

	dbtx "guildrag/db/tx"
	"guildrag/models"
)

type PostgresSyncOperationsRepository struct {
	db     *sqlx.DB
	schema string
}

// DBSyncOperation represents the database schema for the sync_operations table
type DBSyncOperation struct {
	ID          string              `db:"id"`
	GuildID     string              `db:"guild_id"`
	Scope       string              `db:"scope"`
	Mode        string              `db:"mode"`
	TargetIDs   pq.StringArray      `db:"target_ids"`
	Since       *time.Time          `db:"since"`
	RequestedBy string              `db:"requested_by"`
	Status      string              `db:"status"`
	Progress    models.SyncProgress `db:"progress"`
	CreatedAt   time.Time           `db:"created_at"`
	UpdatedAt   time.Time           `db:"updated_at"`
}

var syncOperationsColumns = []string{
	"id",
	"guild_id",
	"scope",
	"mode",
	"target_ids",
	"since",
	"requested_by",
	"status",
	"progress",
	"created_at",
	"updated_at",
}

func NewPostgresSyncOperationsRepository(db *sqlx.DB, schema string) *PostgresSyncOperationsRepository {
	return &PostgresSyncOperationsRepository{db: db, schema: schema}
}

func dbSyncOperationToModel(dbOp *DBSyncOperation) *models.SyncOperation {
	return &models.SyncOperation{
		ID:          dbOp.ID,
		GuildID:     dbOp.GuildID,
		Scope:       models.SyncScope(dbOp.Scope),
		Mode:        models.SyncMode(dbOp.Mode),
		TargetIDs:   dbOp.TargetIDs,
		Since:       dbOp.Since,
		RequestedBy: dbOp.RequestedBy,
		Status:      models.SyncStatus(dbOp.Status),
		Progress:    dbOp.Progress,
		CreatedAt:   dbOp.CreatedAt,
		UpdatedAt:   dbOp.UpdatedAt,
	}
}

func (r *PostgresSyncOperationsRepository) CreateSyncOperation(
	ctx context.Context,
	op *models.SyncOperation,
) error {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(syncOperationsColumns, ", ")
	returningStr := columnsStr

	query := fmt.Sprintf(`
		INSERT INTO %s.sync_operations (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING %s`, r.schema, columnsStr, returningStr)

	var returned DBSyncOperation
	err := db.QueryRowxContext(ctx, query,
		op.ID, op.GuildID, string(op.Scope), string(op.Mode),
		pq.Array(op.TargetIDs), op.Since, op.RequestedBy,
		string(op.Status), op.Progress).
		StructScan(&returned)
	if err != nil {
		return fmt.Errorf("failed to create sync operation: %w", err)
	}

	*op = *dbSyncOperationToModel(&returned)
	return nil
}

func (r *PostgresSyncOperationsRepository) GetSyncOperationByID(
	ctx context.Context,
	id string,
) (mo.Option[*models.SyncOperation], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(syncOperationsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.sync_operations
		WHERE id = $1`, columnsStr, r.schema)

	var dbOp DBSyncOperation
	err := db.GetContext(ctx, &dbOp, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.SyncOperation](), nil
		}
		return mo.None[*models.SyncOperation](), fmt.Errorf("failed to get sync operation: %w", err)
	}
	return mo.Some(dbSyncOperationToModel(&dbOp)), nil
}

// ClaimOldestQueued transitions the oldest queued operation to running. The
// update is conditional on the status still being queued, so concurrent
// runners cannot both win; a loser sees None and skips the job.
func (r *PostgresSyncOperationsRepository) ClaimOldestQueued(
	ctx context.Context,
) (mo.Option[*models.SyncOperation], error) {
	db := dbtx.GetTransactional(ctx, r.db)
	columnsStr := strings.Join(syncOperationsColumns, ", ")
	query := fmt.Sprintf(`
		UPDATE %s.sync_operations
		SET status = 'running', updated_at = NOW()
		WHERE id = (
			SELECT id FROM %s.sync_operations
			WHERE status = 'queued'
			ORDER BY created_at ASC
			LIMIT 1
		) AND status = 'queued'
		RETURNING %s`, r.schema, r.schema, columnsStr)

	var dbOp DBSyncOperation
	err := db.QueryRowxContext(ctx, query).StructScan(&dbOp)
	if err != nil {
		if err == sql.ErrNoRows {
			return mo.None[*models.SyncOperation](), nil
		}
		return mo.None[*models.SyncOperation](), fmt.Errorf("failed to claim queued sync operation: %w", err)
	}
	return mo.Some(dbSyncOperationToModel(&dbOp)), nil
}

// UpdateProgress writes the progress blob of a running operation.
func (r *PostgresSyncOperationsRepository) UpdateProgress(
	ctx context.Context,
	id string,
	progress models.SyncProgress,
) error {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.sync_operations
		SET progress = $2, updated_at = NOW()
		WHERE id = $1`, r.schema)

	if _, err := db.ExecContext(ctx, query, id, progress); err != nil {
		return fmt.Errorf("failed to update sync operation progress: %w", err)
	}
	return nil
}

// CompleteOperation transitions a running operation to a terminal status
// (completed or failed). The condition on the previous status enforces the
// queued -> running -> terminal lifecycle.
func (r *PostgresSyncOperationsRepository) CompleteOperation(
	ctx context.Context,
	id string,
	status models.SyncStatus,
	progress models.SyncProgress,
) error {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.sync_operations
		SET status = $2, progress = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'running'`, r.schema)

	if _, err := db.ExecContext(ctx, query, id, string(status), progress); err != nil {
		return fmt.Errorf("failed to complete sync operation: %w", err)
	}
	return nil
}

// ResetStaleRunning flips running operations older than the cutoff back to
// queued. Used by the startup sweep to recover jobs orphaned by a crash.
func (r *PostgresSyncOperationsRepository) ResetStaleRunning(
	ctx context.Context,
	olderThan time.Duration,
) (int64, error) {
	db := dbtx.GetTransactional(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s.sync_operations
		SET status = 'queued', updated_at = NOW()
		WHERE status = 'running' AND updated_at < NOW() - $1::interval`, r.schema)

	result, err := db.ExecContext(ctx, query, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale running operations: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
