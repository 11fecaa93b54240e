package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// POConflictSuffixes is the number of numbered PO-number disambiguation
// suffixes (-1 through -99) tried before falling back to an epoch-millisecond suffix
// (spec.md §4.3.1 conflict-resolution loop).
const POConflictSuffixes = 99

// PORepo persists and loads purchase orders and their owned line items.
type PORepo struct {
	Pool              PgxPool
	TransactionBudget time.Duration
}

// NewPORepo constructs a PORepo with the given pool and transaction budget.
func NewPORepo(p PgxPool, transactionBudget time.Duration) *PORepo {
	if transactionBudget <= 0 {
		transactionBudget = 10 * time.Second
	}
	return &PORepo{Pool: p, TransactionBudget: transactionBudget}
}

// Save persists a new purchase order and its line items inside a single
// transaction bounded by TransactionBudget. po.PONumber may be suffixed
// (B, B-1, ..., B-99, then B-<epoch_ms>) if it collides with an existing
// PO number for the same merchant.
func (r *PORepo) Save(ctx domain.Context, po domain.PurchaseOrder) (string, error) {
	tracer := otel.Tracer("repo.purchase_orders")
	ctx, span := tracer.Start(ctx, "purchase_orders.Save")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "purchase_orders"),
	)

	ctx, cancel := contextWithTimeout(ctx, r.TransactionBudget)
	defer cancel()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return "", fmt.Errorf("op=po.save.begin_tx: %w", domain.ErrTransactionTimeout)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	id := po.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	poNumber := po.PONumber

	for attempt := 0; ; attempt++ {
		q := `INSERT INTO purchase_orders (id, merchant_id, supplier_id, po_number, status, confidence, total_amount, currency, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`
		// Each attempt runs under its own savepoint so a unique violation
		// does not abort the enclosing transaction.
		sp, err := tx.Begin(ctx)
		if err != nil {
			return "", fmt.Errorf("op=po.save.savepoint: %w", err)
		}
		_, err = sp.Exec(ctx, q, id, po.MerchantID, po.SupplierID, poNumber, po.Status, po.Confidence, po.TotalAmount, orDefaultCurrency(po.Currency), now)
		if err == nil {
			if err := sp.Commit(ctx); err != nil {
				return "", fmt.Errorf("op=po.save.release_savepoint: %w", err)
			}
			break
		}
		_ = sp.Rollback(ctx)
		if !isUniqueViolation(err) {
			return "", fmt.Errorf("op=po.save.insert: %w", err)
		}
		switch {
		case attempt < POConflictSuffixes:
			poNumber = fmt.Sprintf("%s-%d", po.PONumber, attempt+1)
		case attempt == POConflictSuffixes:
			poNumber = fmt.Sprintf("%s-%d", po.PONumber, now.UnixMilli())
		default:
			return "", fmt.Errorf("op=po.save.insert: %w", domain.ErrConflict)
		}
	}

	for _, li := range po.LineItems {
		liID := li.ID
		if liID == "" {
			liID = uuid.New().String()
		}
		q := `INSERT INTO line_items (id, purchase_order_id, sku, description, quantity, unit_price, total_price, confidence) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
		if _, err := tx.Exec(ctx, q, liID, id, li.SKU, li.Description, li.Quantity, li.UnitPrice, li.TotalPrice, li.Confidence); err != nil {
			return "", fmt.Errorf("op=po.save.insert_line_item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("op=po.save.commit: %w", domain.ErrTransactionTimeout)
	}
	committed = true

	if count, err := r.CountLineItems(ctx, id); err == nil && count != len(po.LineItems) {
		return "", fmt.Errorf("op=po.save.verify: %w", domain.ErrConflict)
	}

	return id, nil
}

// Update persists changes to an existing purchase order's status,
// confidence, totals, and processing notes. Progress is never written
// here; processing_notes is a one-time post-S2 narrative, not a channel
// for repeated writes (spec.md §4.5, §9).
func (r *PORepo) Update(ctx domain.Context, po domain.PurchaseOrder) error {
	tracer := otel.Tracer("repo.purchase_orders")
	ctx, span := tracer.Start(ctx, "purchase_orders.Update")
	defer span.End()
	q := `UPDATE purchase_orders SET status=$2, confidence=$3, total_amount=$4, currency=$5, processing_notes=$6, updated_at=$7 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, po.ID, po.Status, po.Confidence, po.TotalAmount, orDefaultCurrency(po.Currency), po.ProcessingNotes, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=po.update: %w", err)
	}
	return nil
}

// Get loads a purchase order and its line items.
func (r *PORepo) Get(ctx domain.Context, id string) (domain.PurchaseOrder, error) {
	tracer := otel.Tracer("repo.purchase_orders")
	ctx, span := tracer.Start(ctx, "purchase_orders.Get")
	defer span.End()
	q := `SELECT id, merchant_id, supplier_id, po_number, status, confidence, total_amount, currency, processing_notes, created_at, updated_at FROM purchase_orders WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var po domain.PurchaseOrder
	if err := row.Scan(&po.ID, &po.MerchantID, &po.SupplierID, &po.PONumber, &po.Status, &po.Confidence, &po.TotalAmount, &po.Currency, &po.ProcessingNotes, &po.CreatedAt, &po.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.PurchaseOrder{}, fmt.Errorf("op=po.get: %w", domain.ErrNotFound)
		}
		return domain.PurchaseOrder{}, fmt.Errorf("op=po.get: %w", err)
	}
	items, err := r.lineItems(ctx, id)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	po.LineItems = items
	return po, nil
}

// FindByMerchantAndNumber loads a purchase order by merchant and exact
// PO number. No PO-number precheck runs before Save; a collision is
// resolved only by Save's own suffix loop.
func (r *PORepo) FindByMerchantAndNumber(ctx domain.Context, merchantID, poNumber string) (domain.PurchaseOrder, error) {
	tracer := otel.Tracer("repo.purchase_orders")
	ctx, span := tracer.Start(ctx, "purchase_orders.FindByMerchantAndNumber")
	defer span.End()
	q := `SELECT id, merchant_id, supplier_id, po_number, status, confidence, total_amount, currency, processing_notes, created_at, updated_at FROM purchase_orders WHERE merchant_id=$1 AND po_number=$2 LIMIT 1`
	row := r.Pool.QueryRow(ctx, q, merchantID, poNumber)
	var po domain.PurchaseOrder
	if err := row.Scan(&po.ID, &po.MerchantID, &po.SupplierID, &po.PONumber, &po.Status, &po.Confidence, &po.TotalAmount, &po.Currency, &po.ProcessingNotes, &po.CreatedAt, &po.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.PurchaseOrder{}, fmt.Errorf("op=po.find_by_merchant_and_number: %w", domain.ErrNotFound)
		}
		return domain.PurchaseOrder{}, fmt.Errorf("op=po.find_by_merchant_and_number: %w", err)
	}
	return po, nil
}

// CountLineItems returns the number of line items owned by a purchase
// order, used for the post-commit verification step.
func (r *PORepo) CountLineItems(ctx domain.Context, poID string) (int, error) {
	q := `SELECT COUNT(*) FROM line_items WHERE purchase_order_id=$1`
	row := r.Pool.QueryRow(ctx, q, poID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=po.count_line_items: %w", err)
	}
	return count, nil
}

// Finalize resolves and persists a purchase order's terminal status from
// its line items and confidence (spec.md §4.4 S6), used by the janitor's
// orphan recovery path when S6 never ran to completion.
func (r *PORepo) Finalize(ctx domain.Context, id string) error {
	po, err := r.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("op=po.finalize.get: %w", err)
	}
	status := domain.ResolveTerminalStatus(po)
	q := `UPDATE purchase_orders SET status=$2, updated_at=$3 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=po.finalize: %w", err)
	}
	return nil
}

func (r *PORepo) lineItems(ctx domain.Context, poID string) ([]domain.LineItem, error) {
	q := `SELECT id, purchase_order_id, sku, description, quantity, unit_price, total_price, confidence FROM line_items WHERE purchase_order_id=$1 ORDER BY id`
	rows, err := r.Pool.Query(ctx, q, poID)
	if err != nil {
		return nil, fmt.Errorf("op=po.line_items: %w", err)
	}
	defer rows.Close()
	var out []domain.LineItem
	for rows.Next() {
		var li domain.LineItem
		if err := rows.Scan(&li.ID, &li.PurchaseOrderID, &li.SKU, &li.Description, &li.Quantity, &li.UnitPrice, &li.TotalPrice, &li.Confidence); err != nil {
			return nil, fmt.Errorf("op=po.line_items_scan: %w", err)
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

// orDefaultCurrency returns c, or "USD" if c is empty. SaveStage already
// defaults Currency before Save/Update are called; this is a defensive
// fallback for callers that construct a PurchaseOrder directly.
func orDefaultCurrency(c string) string {
	if c == "" {
		return "USD"
	}
	return c
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// contextWithTimeout wraps context.WithTimeout so the transaction budget
// can be applied uniformly across Save's retry loop.
func contextWithTimeout(ctx domain.Context, d time.Duration) (domain.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
