// Package http implements domain.ObjectStore by streaming an upload's
// source artifact from a blob-storage HTTP endpoint to a local temp file,
// so stage processors downstream (ai_parsing in particular) can operate on
// a plain filesystem path regardless of where the artifact actually lives.
package http

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/crypto/blake2b"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// Client fetches blobs from a storage service addressed by upload ID.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	TempDir string
}

// New constructs a Client with an otelhttp-instrumented transport. TempDir
// empty means os.TempDir().
func New(baseURL string, tempDir string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   60 * time.Second,
		},
		TempDir: tempDir,
	}
}

// Fetch downloads the artifact for uploadID into a temp file and returns its
// path along with a cleanup func that removes it. Callers must invoke
// cleanup once done, typically via defer.
func (c *Client) Fetch(ctx domain.Context, uploadID string) (string, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/blobs/"+uploadID, nil)
	if err != nil {
		return "", nil, fmt.Errorf("op=objectstore.build_request: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("op=objectstore.do_request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil, fmt.Errorf("op=objectstore.fetch: %w", domain.ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return "", nil, fmt.Errorf("op=objectstore.fetch: status %d", resp.StatusCode)
	}

	f, err := os.CreateTemp(c.TempDir, "po-artifact-"+uploadID+"-*")
	if err != nil {
		return "", nil, fmt.Errorf("op=objectstore.create_temp: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }

	hasher, err := blake2b.New256(nil)
	if err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("op=objectstore.new_hasher: %w", err)
	}

	if _, err := io.Copy(f, io.TeeReader(resp.Body, hasher)); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("op=objectstore.write_temp: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("op=objectstore.close_temp: %w", err)
	}

	slog.Debug("objectstore artifact fetched",
		slog.String("upload_id", uploadID),
		slog.String("content_fingerprint", hex.EncodeToString(hasher.Sum(nil))))

	return f.Name(), cleanup, nil
}
