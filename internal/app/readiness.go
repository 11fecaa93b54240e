// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fairyhunter13/po-workflow-core/internal/config"
	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck is one named dependency probe; Run returns nil when the
// dependency is reachable.
type ReadinessCheck struct {
	Name string
	Run  func(ctx context.Context) error
}

// BuildReadinessChecks returns one check per dependency the running process
// leans on: the database, the KV/progress fabric, and the three opaque
// external collaborators. Every check is always built: a nil pool or kv
// makes its check report "not configured" rather than being skipped.
func BuildReadinessChecks(cfg config.Config, pool Pinger, kv domain.KVStore) []ReadinessCheck {
	checks := []ReadinessCheck{
		{Name: "db", Run: func(ctx context.Context) error {
			if pool == nil {
				return fmt.Errorf("db not configured")
			}
			return pool.Ping(ctx)
		}},
		{Name: "kv", Run: func(ctx context.Context) error {
			if kv == nil {
				return fmt.Errorf("kv not configured")
			}
			// A TTL-bounded round trip on a well-known key is cheaper than a
			// bespoke ping method on the KVStore port.
			return kv.Put(ctx, "readiness:probe", []byte("1"), time.Second)
		}},
	}
	checks = append(checks,
		httpReachabilityCheck("extractor", cfg.ExtractorURL),
		httpReachabilityCheck("imagesource", cfg.ImageSourceURL),
		httpReachabilityCheck("externalsink", cfg.ExternalSinkURL),
	)
	return checks
}

// httpReachabilityCheck probes baseURL's root with a short timeout. The
// external collaborators don't promise a dedicated health path, so reaching
// the server at all (any status code) counts as ready; only a transport
// failure (DNS, connection refused, timeout) fails the check.
func httpReachabilityCheck(name, baseURL string) ReadinessCheck {
	return ReadinessCheck{
		Name: name,
		Run: func(ctx context.Context) error {
			if baseURL == "" {
				return fmt.Errorf("%s url not configured", name)
			}
			client := &http.Client{Timeout: 2 * time.Second}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/", nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			_ = resp.Body.Close()
			return nil
		},
	}
}
