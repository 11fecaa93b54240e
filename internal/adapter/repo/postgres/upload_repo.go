package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// UploadRepo discovers uploads with no active workflow, for the Tick
// Dispatcher's pending-upload sweep.
type UploadRepo struct{ Pool PgxPool }

// NewUploadRepo constructs an UploadRepo with the given pool.
func NewUploadRepo(p PgxPool) *UploadRepo { return &UploadRepo{Pool: p} }

// ListPending returns uploads with no row in workflows, or whose workflow
// is in a terminal state, oldest first.
func (r *UploadRepo) ListPending(ctx domain.Context, limit int) ([]domain.Upload, error) {
	tracer := otel.Tracer("repo.uploads")
	ctx, span := tracer.Start(ctx, "uploads.ListPending")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "uploads"),
	)

	q := `SELECT u.id, u.merchant_id, u.file_url, COALESCE(u.po_hint, ''), u.created_at
	FROM uploads u
	LEFT JOIN workflows w ON w.upload_id = u.id AND w.status IN ($1, $2)
	WHERE w.id IS NULL
	ORDER BY u.created_at ASC
	LIMIT $3`
	rows, err := r.Pool.Query(ctx, q, domain.WorkflowPending, domain.WorkflowProcessing, limit)
	if err != nil {
		return nil, fmt.Errorf("op=upload.list_pending: %w", err)
	}
	defer rows.Close()

	var out []domain.Upload
	for rows.Next() {
		var u domain.Upload
		if err := rows.Scan(&u.ID, &u.MerchantID, &u.FileURL, &u.POHint, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=upload.list_pending_scan: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=upload.list_pending_rows: %w", err)
	}
	return out, nil
}
