package postgres

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// SupplierRepo persists and loads suppliers, and resolves fuzzy matches
// against a Postgres pg_trgm index (fuzzy-match Engine B, spec.md §4.3.2).
type SupplierRepo struct{ Pool PgxPool }

// NewSupplierRepo constructs a SupplierRepo with the given pool.
func NewSupplierRepo(p PgxPool) *SupplierRepo { return &SupplierRepo{Pool: p} }

// Create inserts a new supplier and returns its id.
func (r *SupplierRepo) Create(ctx domain.Context, s domain.Supplier) (string, error) {
	tracer := otel.Tracer("repo.suppliers")
	ctx, span := tracer.Start(ctx, "suppliers.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "suppliers"),
	)
	id := s.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO suppliers (id, merchant_id, name, email, phone, website) VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := r.Pool.Exec(ctx, q, id, s.MerchantID, s.Name, s.Email, s.Phone, s.Website); err != nil {
		return "", fmt.Errorf("op=supplier.create: %w", err)
	}
	return id, nil
}

// Get loads a supplier by id.
func (r *SupplierRepo) Get(ctx domain.Context, id string) (domain.Supplier, error) {
	tracer := otel.Tracer("repo.suppliers")
	ctx, span := tracer.Start(ctx, "suppliers.Get")
	defer span.End()
	q := `SELECT id, merchant_id, name, email, phone, website FROM suppliers WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var s domain.Supplier
	if err := row.Scan(&s.ID, &s.MerchantID, &s.Name, &s.Email, &s.Phone, &s.Website); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Supplier{}, fmt.Errorf("op=supplier.get: %w", domain.ErrNotFound)
		}
		return domain.Supplier{}, fmt.Errorf("op=supplier.get: %w", err)
	}
	return s, nil
}

// ListByMerchant returns all suppliers registered to a merchant.
func (r *SupplierRepo) ListByMerchant(ctx domain.Context, merchantID string) ([]domain.Supplier, error) {
	tracer := otel.Tracer("repo.suppliers")
	ctx, span := tracer.Start(ctx, "suppliers.ListByMerchant")
	defer span.End()
	q := `SELECT id, merchant_id, name, email, phone, website FROM suppliers WHERE merchant_id=$1`
	rows, err := r.Pool.Query(ctx, q, merchantID)
	if err != nil {
		return nil, fmt.Errorf("op=supplier.list_by_merchant: %w", err)
	}
	defer rows.Close()
	var out []domain.Supplier
	for rows.Next() {
		var s domain.Supplier
		if err := rows.Scan(&s.ID, &s.MerchantID, &s.Name, &s.Email, &s.Phone, &s.Website); err != nil {
			return nil, fmt.Errorf("op=supplier.list_by_merchant_scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TrigramMatch finds the best pg_trgm similarity match for name among a
// merchant's suppliers, returning the candidate and its similarity score.
// This is fuzzy-match Engine B: a single indexed query instead of
// in-process Levenshtein scoring.
func (r *SupplierRepo) TrigramMatch(ctx domain.Context, merchantID, name string) (domain.Supplier, float64, error) {
	tracer := otel.Tracer("repo.suppliers")
	ctx, span := tracer.Start(ctx, "suppliers.TrigramMatch")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "suppliers"), attribute.String("fuzzy_match.engine", "engine_b"))
	q := `SELECT id, merchant_id, name, email, phone, website, similarity(name, $2) AS score
	FROM suppliers WHERE merchant_id=$1 ORDER BY score DESC LIMIT 1`
	row := r.Pool.QueryRow(ctx, q, merchantID, name)
	var s domain.Supplier
	var score float64
	if err := row.Scan(&s.ID, &s.MerchantID, &s.Name, &s.Email, &s.Phone, &s.Website, &score); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Supplier{}, 0, fmt.Errorf("op=supplier.trigram_match: %w", domain.ErrNotFound)
		}
		return domain.Supplier{}, 0, fmt.Errorf("op=supplier.trigram_match: %w", err)
	}
	return s, score, nil
}
