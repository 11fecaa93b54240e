// Package http implements domain.ImageSource against an external image
// search service queried once per product.
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// Client queries an image-search service with a single query per lookup,
// passing only the SKU as the "sku" query parameter.
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
			Timeout:   15 * time.Second,
		},
	}
}

type imageSearchResponse struct {
	URL string `json:"url"`
}

// FetchImage issues a single query for sku and returns the best-scoring
// image URL, or an empty string if nothing usable was found.
func (c *Client) FetchImage(ctx domain.Context, sku string) (string, error) {
	endpoint := c.BaseURL + "/v1/images?sku=" + url.QueryEscape(sku)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("op=imagesource.build_request: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=imagesource.do_request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("op=imagesource.fetch_image: status %d", resp.StatusCode)
	}

	var out imageSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("op=imagesource.decode_response: %w", err)
	}
	return out.URL, nil
}
