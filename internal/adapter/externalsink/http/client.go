// Package http implements domain.ExternalSink against a Shopify-like
// product ingestion API.
package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// Client pushes product drafts to the external sink's product ingestion
// endpoint.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New constructs a Client with an otelhttp-instrumented transport.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   20 * time.Second,
		},
	}
}

type productPayload struct {
	SKU   string  `json:"sku"`
	Title string  `json:"title"`
	Price float64 `json:"price"`
}

type productResponse struct {
	ExternalID string `json:"external_id"`
}

// PushProduct submits draft and returns the sink's assigned external ID.
func (c *Client) PushProduct(ctx domain.Context, draft domain.ProductDraft) (string, error) {
	payload, err := json.Marshal(productPayload{SKU: draft.SKU, Title: draft.Title, Price: draft.Price})
	if err != nil {
		return "", fmt.Errorf("op=externalsink.marshal_payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/products", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("op=externalsink.build_request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=externalsink.do_request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("op=externalsink.push_product: status %d", resp.StatusCode)
	}

	var out productResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("op=externalsink.decode_response: %w", err)
	}
	return out.ExternalID, nil
}
