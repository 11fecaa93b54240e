// Package stub provides a deterministic in-memory domain.ExternalSink.
package stub

import "github.com/fairyhunter13/po-workflow-core/internal/domain"

// Client records pushed drafts and returns a predictable external ID.
type Client struct {
	Pushed []domain.ProductDraft
	Err    error
}

// New constructs an empty stub Client.
func New() *Client { return &Client{} }

// PushProduct records draft and returns "ext_<draft id>".
func (c *Client) PushProduct(ctx domain.Context, draft domain.ProductDraft) (string, error) {
	if c.Err != nil {
		return "", c.Err
	}
	c.Pushed = append(c.Pushed, draft)
	return "ext_" + draft.ID, nil
}
