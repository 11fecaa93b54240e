package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// WorkflowRepo persists and loads workflows from PostgreSQL using a minimal
// pgx pool.
type WorkflowRepo struct{ Pool PgxPool }

// NewWorkflowRepo constructs a WorkflowRepo with the given pool.
func NewWorkflowRepo(p PgxPool) *WorkflowRepo { return &WorkflowRepo{Pool: p} }

// Create inserts a new workflow and returns its id.
func (r *WorkflowRepo) Create(ctx domain.Context, w domain.Workflow) (string, error) {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "workflows"),
	)
	id := w.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO workflows (id, merchant_id, upload_id, status, current_stage, purchase_order_id, retry_count, execution_mode, content_hash, error, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.Pool.Exec(ctx, q, id, w.MerchantID, w.UploadID, w.Status, w.CurrentStage, w.PurchaseOrderID, w.RetryCount, w.ExecutionMode, w.ContentHash, w.Error, now, now)
	if err != nil {
		return "", fmt.Errorf("op=workflow.create: %w", err)
	}
	return id, nil
}

// Get loads a workflow by id.
func (r *WorkflowRepo) Get(ctx domain.Context, id string) (domain.Workflow, error) {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "workflows"),
	)
	q := `SELECT id, merchant_id, upload_id, status, current_stage, purchase_order_id, retry_count, execution_mode, content_hash, COALESCE(error,''), created_at, updated_at, completed_at FROM workflows WHERE id=$1`
	return scanWorkflow(r.Pool.QueryRow(ctx, q, id), "workflow.get")
}

// FindByUploadID loads a workflow by its source upload_id, used by the
// orchestrator's idempotent start path.
func (r *WorkflowRepo) FindByUploadID(ctx domain.Context, uploadID string) (domain.Workflow, error) {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.FindByUploadID")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "workflows"),
	)
	q := `SELECT id, merchant_id, upload_id, status, current_stage, purchase_order_id, retry_count, execution_mode, content_hash, COALESCE(error,''), created_at, updated_at, completed_at FROM workflows WHERE upload_id=$1 LIMIT 1`
	return scanWorkflow(r.Pool.QueryRow(ctx, q, uploadID), "workflow.find_by_upload_id")
}

func scanWorkflow(row pgx.Row, op string) (domain.Workflow, error) {
	var w domain.Workflow
	var poID *string
	var completedAt *time.Time
	if err := row.Scan(&w.ID, &w.MerchantID, &w.UploadID, &w.Status, &w.CurrentStage, &poID, &w.RetryCount, &w.ExecutionMode, &w.ContentHash, &w.Error, &w.CreatedAt, &w.UpdatedAt, &completedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Workflow{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
		return domain.Workflow{}, fmt.Errorf("op=%s: %w", op, err)
	}
	w.PurchaseOrderID = poID
	w.CompletedAt = completedAt
	return w, nil
}

// UpdateStage advances a workflow's current stage and status, bumping
// updated_at with an explicit transaction for the same isolation-level
// discipline the teacher applies to every mutating write.
func (r *WorkflowRepo) UpdateStage(ctx domain.Context, id string, stage domain.WorkflowStage, status domain.WorkflowStatus) error {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.UpdateStage")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "workflows"),
	)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=workflow.update_stage.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	q := `UPDATE workflows SET current_stage=$2, status=$3, updated_at=$4 WHERE id=$1`
	if _, err := tx.Exec(ctx, q, id, stage, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=workflow.update_stage.exec: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=workflow.update_stage.commit: %w", err)
	}
	committed = true
	return nil
}

// MarkFailed marks a workflow failed with the given error message.
func (r *WorkflowRepo) MarkFailed(ctx domain.Context, id string, errMsg string) error {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.MarkFailed")
	defer span.End()
	q := `UPDATE workflows SET status=$2, error=$3, updated_at=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, domain.WorkflowFailed, errMsg, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=workflow.mark_failed: %w", err)
	}
	return nil
}

// MarkCompleted marks a workflow completed and stamps completed_at.
func (r *WorkflowRepo) MarkCompleted(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.MarkCompleted")
	defer span.End()
	now := time.Now().UTC()
	q := `UPDATE workflows SET status=$2, current_stage=$3, completed_at=$4, updated_at=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, domain.WorkflowCompleted, domain.StageStatusUpdate, now); err != nil {
		return fmt.Errorf("op=workflow.mark_completed: %w", err)
	}
	return nil
}

// CountByStatus returns the number of workflows by status.
func (r *WorkflowRepo) CountByStatus(ctx domain.Context, status domain.WorkflowStatus) (int64, error) {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.CountByStatus")
	defer span.End()
	q := `SELECT COUNT(*) FROM workflows WHERE status = $1`
	row := r.Pool.QueryRow(ctx, q, status)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=workflow.count_by_status: %w", err)
	}
	return count, nil
}

// AverageCompletionDuration returns the average wall-clock time between
// creation and completion for completed workflows.
func (r *WorkflowRepo) AverageCompletionDuration(ctx domain.Context) (time.Duration, error) {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.AverageCompletionDuration")
	defer span.End()
	q := `SELECT AVG(EXTRACT(EPOCH FROM (completed_at - created_at))) FROM workflows WHERE status = $1`
	row := r.Pool.QueryRow(ctx, q, domain.WorkflowCompleted)
	var avgSeconds *float64
	if err := row.Scan(&avgSeconds); err != nil {
		return 0, fmt.Errorf("op=workflow.avg_completion_duration: %w", err)
	}
	if avgSeconds == nil {
		return 0, nil
	}
	return time.Duration(*avgSeconds * float64(time.Second)), nil
}

// ListWithFilters returns a paginated list of workflows matching the filter.
func (r *WorkflowRepo) ListWithFilters(ctx domain.Context, f domain.WorkflowFilter) ([]domain.Workflow, error) {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.ListWithFilters")
	defer span.End()

	baseQuery := `SELECT id, merchant_id, upload_id, status, current_stage, purchase_order_id, retry_count, execution_mode, content_hash, COALESCE(error,''), created_at, updated_at, completed_at FROM workflows`
	where := ""
	args := []any{}
	idx := 1
	if f.MerchantID != "" {
		where += fmt.Sprintf(" WHERE merchant_id = $%d", idx)
		args = append(args, f.MerchantID)
		idx++
	}
	if f.Status != "" {
		if where == "" {
			where += " WHERE"
		} else {
			where += " AND"
		}
		where += fmt.Sprintf(" status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Stage != "" {
		if where == "" {
			where += " WHERE"
		} else {
			where += " AND"
		}
		where += fmt.Sprintf(" current_stage = $%d", idx)
		args = append(args, f.Stage)
		idx++
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := baseQuery + where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("op=workflow.list_with_filters: %w", err)
	}
	defer rows.Close()

	var out []domain.Workflow
	for rows.Next() {
		var w domain.Workflow
		var poID *string
		var completedAt *time.Time
		if err := rows.Scan(&w.ID, &w.MerchantID, &w.UploadID, &w.Status, &w.CurrentStage, &poID, &w.RetryCount, &w.ExecutionMode, &w.ContentHash, &w.Error, &w.CreatedAt, &w.UpdatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("op=workflow.list_with_filters_scan: %w", err)
		}
		w.PurchaseOrderID = poID
		w.CompletedAt = completedAt
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=workflow.list_with_filters_rows: %w", err)
	}
	return out, nil
}

// IncrementRetry bumps a workflow's retry_count by one and returns the new
// value, used by the janitor to cap stuck-workflow re-enqueue attempts.
func (r *WorkflowRepo) IncrementRetry(ctx domain.Context, id string) (int, error) {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.IncrementRetry")
	defer span.End()
	q := `UPDATE workflows SET retry_count = retry_count + 1, updated_at = $2 WHERE id = $1 RETURNING retry_count`
	row := r.Pool.QueryRow(ctx, q, id, time.Now().UTC())
	var count int
	if err := row.Scan(&count); err != nil {
		if err == pgx.ErrNoRows {
			return 0, fmt.Errorf("op=workflow.increment_retry: %w", domain.ErrNotFound)
		}
		return 0, fmt.Errorf("op=workflow.increment_retry: %w", err)
	}
	return count, nil
}

// ListStuck returns workflows in processing state whose updated_at predates
// staleSince, used by the janitor's sweep query.
func (r *WorkflowRepo) ListStuck(ctx domain.Context, staleSince time.Time, limit int) ([]domain.Workflow, error) {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.ListStuck")
	defer span.End()
	q := `SELECT id, merchant_id, upload_id, status, current_stage, purchase_order_id, retry_count, execution_mode, content_hash, COALESCE(error,''), created_at, updated_at, completed_at
	FROM workflows WHERE status = $1 AND updated_at < $2
	ORDER BY updated_at ASC LIMIT $3 FOR UPDATE SKIP LOCKED`
	rows, err := r.Pool.Query(ctx, q, domain.WorkflowProcessing, staleSince, limit)
	if err != nil {
		return nil, fmt.Errorf("op=workflow.list_stuck: %w", err)
	}
	defer rows.Close()

	var out []domain.Workflow
	for rows.Next() {
		var w domain.Workflow
		var poID *string
		var completedAt *time.Time
		if err := rows.Scan(&w.ID, &w.MerchantID, &w.UploadID, &w.Status, &w.CurrentStage, &poID, &w.RetryCount, &w.ExecutionMode, &w.ContentHash, &w.Error, &w.CreatedAt, &w.UpdatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("op=workflow.list_stuck_scan: %w", err)
		}
		w.PurchaseOrderID = poID
		w.CompletedAt = completedAt
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=workflow.list_stuck_rows: %w", err)
	}
	return out, nil
}
