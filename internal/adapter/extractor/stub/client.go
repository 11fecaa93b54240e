// Package stub provides a deterministic in-memory domain.Extractor for
// local development and tests, standing in for the real HTTP-backed
// extraction service.
package stub

import (
	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// Client returns a fixed extraction result regardless of input, useful for
// exercising the pipeline without a live extraction service.
type Client struct {
	Result domain.ExtractedPO
	Err    error
}

// New constructs a stub Client returning result for every call.
func New(result domain.ExtractedPO) *Client {
	return &Client{Result: result}
}

// ExtractPurchaseOrder returns the configured fixture.
func (c *Client) ExtractPurchaseOrder(ctx domain.Context, artifactPath string) (domain.ExtractedPO, error) {
	if c.Err != nil {
		return domain.ExtractedPO{}, c.Err
	}
	return c.Result, nil
}
