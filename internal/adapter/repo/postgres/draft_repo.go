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

// DraftRepo persists and loads product drafts created from parsed line
// items, prior to Shopify sync.
type DraftRepo struct{ Pool PgxPool }

// NewDraftRepo constructs a DraftRepo with the given pool.
func NewDraftRepo(p PgxPool) *DraftRepo { return &DraftRepo{Pool: p} }

// Create inserts a new product draft and returns its id.
func (r *DraftRepo) Create(ctx domain.Context, d domain.ProductDraft) (string, error) {
	tracer := otel.Tracer("repo.product_drafts")
	ctx, span := tracer.Start(ctx, "product_drafts.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "product_drafts"),
	)
	id := d.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	status := d.Status
	if status == "" {
		status = domain.ProductDraftStatusDraft
	}
	q := `INSERT INTO product_drafts (id, line_item_id, purchase_order_id, title, sku, price, shopify_product_id, created_at, session_id, original_price, price_refined, estimated_margin, status)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	if _, err := r.Pool.Exec(ctx, q, id, d.LineItemID, d.PurchaseOrderID, d.Title, d.SKU, d.Price, d.ShopifyProductID, now, d.SessionID, d.OriginalPrice, d.PriceRefined, d.EstimatedMargin, status); err != nil {
		return "", fmt.Errorf("op=draft.create: %w", err)
	}
	return id, nil
}

// Get loads a product draft by id.
func (r *DraftRepo) Get(ctx domain.Context, id string) (domain.ProductDraft, error) {
	tracer := otel.Tracer("repo.product_drafts")
	ctx, span := tracer.Start(ctx, "product_drafts.Get")
	defer span.End()
	q := `SELECT id, line_item_id, purchase_order_id, title, sku, price, shopify_product_id, created_at, session_id, original_price, price_refined, estimated_margin, status FROM product_drafts WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	d, err := scanDraft(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ProductDraft{}, fmt.Errorf("op=draft.get: %w", domain.ErrNotFound)
		}
		return domain.ProductDraft{}, fmt.Errorf("op=draft.get: %w", err)
	}
	return d, nil
}

// ListByPurchaseOrder returns all drafts created for a purchase order.
func (r *DraftRepo) ListByPurchaseOrder(ctx domain.Context, poID string) ([]domain.ProductDraft, error) {
	tracer := otel.Tracer("repo.product_drafts")
	ctx, span := tracer.Start(ctx, "product_drafts.ListByPurchaseOrder")
	defer span.End()
	q := `SELECT id, line_item_id, purchase_order_id, title, sku, price, shopify_product_id, created_at, session_id, original_price, price_refined, estimated_margin, status
	FROM product_drafts WHERE purchase_order_id=$1 ORDER BY id`
	rows, err := r.Pool.Query(ctx, q, poID)
	if err != nil {
		return nil, fmt.Errorf("op=draft.list_by_purchase_order: %w", err)
	}
	defer rows.Close()
	var out []domain.ProductDraft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("op=draft.list_by_purchase_order_scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AttachShopifyID records the Shopify product id assigned to a draft after
// the shopify_sync stage pushes it.
func (r *DraftRepo) AttachShopifyID(ctx domain.Context, draftID, shopifyProductID string) error {
	tracer := otel.Tracer("repo.product_drafts")
	ctx, span := tracer.Start(ctx, "product_drafts.AttachShopifyID")
	defer span.End()
	q := `UPDATE product_drafts SET shopify_product_id=$2 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, draftID, shopifyProductID); err != nil {
		return fmt.Errorf("op=draft.attach_shopify_id: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (domain.ProductDraft, error) {
	var d domain.ProductDraft
	err := row.Scan(&d.ID, &d.LineItemID, &d.PurchaseOrderID, &d.Title, &d.SKU, &d.Price, &d.ShopifyProductID, &d.CreatedAt,
		&d.SessionID, &d.OriginalPrice, &d.PriceRefined, &d.EstimatedMargin, &d.Status)
	return d, err
}
