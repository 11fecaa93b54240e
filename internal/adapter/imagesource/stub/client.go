// Package stub provides a deterministic in-memory domain.ImageSource.
package stub

import "github.com/fairyhunter13/po-workflow-core/internal/domain"

// Client returns a fixed URL per SKU, or empty for unknown SKUs.
type Client struct {
	URLs map[string]string
}

// New constructs a stub Client over the given SKU-to-URL fixtures.
func New(urls map[string]string) *Client {
	return &Client{URLs: urls}
}

// FetchImage returns the fixture URL for sku, if any.
func (c *Client) FetchImage(ctx domain.Context, sku string) (string, error) {
	return c.URLs[sku], nil
}
