// Package stub provides a deterministic in-memory domain.ObjectStore backed
// by fixed local file paths, for tests that need a real filesystem path
// without a running blob-storage service.
package stub

import "github.com/fairyhunter13/po-workflow-core/internal/domain"

// Client maps upload IDs to pre-existing local file paths.
type Client struct {
	Paths map[string]string
	Err   error
}

// New constructs a stub Client over the given upload-ID-to-path fixtures.
func New(paths map[string]string) *Client {
	return &Client{Paths: paths}
}

// Fetch returns the fixture path for uploadID. cleanup is a no-op since the
// stub never creates temp files of its own.
func (c *Client) Fetch(ctx domain.Context, uploadID string) (string, func(), error) {
	if c.Err != nil {
		return "", nil, c.Err
	}
	path, ok := c.Paths[uploadID]
	if !ok {
		return "", nil, domain.ErrNotFound
	}
	return path, func() {}, nil
}
