// Package http implements domain.Extractor against an HTTP document/vision
// extraction service, routing by MIME type: PDF, image and tabular
// (CSV/XLSX) artifacts are sent with distinct routing kinds, and any other
// type is sent as tabular.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// BackoffConfig mirrors the teacher's per-call exponential backoff knobs.
type BackoffConfig struct {
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Client calls an external document/vision extraction service over HTTP.
// Every LLM-backed call on the far side MUST use temperature 0 so identical
// input produces identical output; that constraint is encoded in the
// request payload's Temperature field rather than left to the server
// default.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Backoff BackoffConfig
}

// New constructs a Client with an otelhttp-instrumented transport.
func New(baseURL string, backoffCfg BackoffConfig) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
		Backoff: backoffCfg,
	}
}

type extractRequest struct {
	Kind        string `json:"kind"`
	Temperature float64 `json:"temperature"`
}

type extractResponse struct {
	PONumber   string              `json:"po_number"`
	Supplier   extractedSupplier   `json:"supplier"`
	LineItems  []extractedLineItem `json:"line_items"`
	Confidence float64             `json:"confidence"`
}

type extractedSupplier struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Website string `json:"website"`
}

type extractedLineItem struct {
	SKU         string   `json:"sku"`
	Description string   `json:"description"`
	Quantity    *int     `json:"quantity"`
	UnitPrice   *float64 `json:"unit_price"`
	Confidence  float64  `json:"confidence"`
}

// ExtractPurchaseOrder sniffs artifactPath's MIME type, submits it to the
// extraction service with the matching routing kind, and retries transient
// failures with exponential backoff.
func (c *Client) ExtractPurchaseOrder(ctx domain.Context, artifactPath string) (domain.ExtractedPO, error) {
	kind, err := detectKind(artifactPath)
	if err != nil {
		return domain.ExtractedPO{}, fmt.Errorf("op=extractor.detect_kind: %w", err)
	}

	body, err := os.ReadFile(artifactPath)
	if err != nil {
		return domain.ExtractedPO{}, fmt.Errorf("op=extractor.read_artifact: %w", err)
	}

	var result extractResponse
	op := func() error {
		resp, err := c.submit(ctx, kind, body)
		if err != nil {
			return err
		}
		result = resp
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = orDefault(c.Backoff.InitialInterval, 200*time.Millisecond)
	expo.MaxInterval = orDefault(c.Backoff.MaxInterval, 3*time.Second)
	expo.MaxElapsedTime = orDefault(c.Backoff.MaxElapsedTime, 30*time.Second)
	if c.Backoff.Multiplier > 0 {
		expo.Multiplier = c.Backoff.Multiplier
	}

	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return domain.ExtractedPO{}, fmt.Errorf("op=extractor.extract: %w", err)
	}

	return toExtractedPO(result), nil
}

func (c *Client) submit(ctx context.Context, kind string, body []byte) (extractResponse, error) {
	payload, err := json.Marshal(extractRequest{Kind: kind, Temperature: 0})
	if err != nil {
		return extractResponse{}, backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/extract", bytes.NewReader(append(payload, body...)))
	if err != nil {
		return extractResponse{}, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Extract-Kind", kind)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return extractResponse{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return extractResponse{}, fmt.Errorf("extractor returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return extractResponse{}, backoff.Permanent(fmt.Errorf("extractor returned %d", resp.StatusCode))
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return extractResponse{}, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return out, nil
}

func toExtractedPO(r extractResponse) domain.ExtractedPO {
	items := make([]domain.ExtractedLineItem, 0, len(r.LineItems))
	for _, li := range r.LineItems {
		items = append(items, domain.ExtractedLineItem{
			SKU:         li.SKU,
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Confidence:  li.Confidence,
		})
	}
	return domain.ExtractedPO{
		PONumber: r.PONumber,
		Supplier: domain.Supplier{
			Name:    r.Supplier.Name,
			Email:   r.Supplier.Email,
			Phone:   r.Supplier.Phone,
			Website: r.Supplier.Website,
		},
		LineItems:  items,
		Confidence: r.Confidence,
	}
}

// detectKind routes by MIME type: PDF, image, or tabular (CSV/XLSX).
func detectKind(path string) (string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	switch {
	case mtype.Is("application/pdf"):
		return "pdf", nil
	case strings.HasPrefix(mtype.String(), "image/"):
		return "image", nil
	case mtype.Is("text/csv"), mtype.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"):
		return "tabular", nil
	default:
		return "tabular", nil
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
