// Package tick implements the periodic driver that discovers pending
// uploads, de-duplicates them, hands each to the Orchestrator, and invokes
// the Janitor (C8).
package tick

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/po-workflow-core/internal/adapter/observability"
	"github.com/fairyhunter13/po-workflow-core/internal/domain"
	"github.com/fairyhunter13/po-workflow-core/internal/janitor"
	obsctx "github.com/fairyhunter13/po-workflow-core/internal/observability"
	"github.com/fairyhunter13/po-workflow-core/internal/orchestrator"
)

// DefaultInterval is the tick cadence.
const DefaultInterval = 60 * time.Second

// DefaultBudget is the hard per-tick deadline; tick enqueues work, it does
// not process it.
const DefaultBudget = 10 * time.Second

// starter is the subset of Orchestrator's surface the dispatcher needs,
// kept narrow so it can be faked in tests without the full orchestrator.
type starter interface {
	StartWorkflow(ctx domain.Context, in orchestrator.StartInput) (string, error)
}

// sweeper is the subset of Janitor's surface the dispatcher invokes each
// tick.
type sweeper interface {
	Sweep(ctx domain.Context) error
}

// statsSource is the subset of WorkflowRepository the dispatcher reads each
// tick to refresh the point-in-time status gauges.
type statsSource interface {
	CountByStatus(ctx domain.Context, status domain.WorkflowStatus) (int64, error)
	AverageCompletionDuration(ctx domain.Context) (time.Duration, error)
}

// statusesToReport lists the workflow statuses refreshed into
// observability.WorkflowsByStatus each tick.
var statusesToReport = []domain.WorkflowStatus{
	domain.WorkflowPending,
	domain.WorkflowProcessing,
	domain.WorkflowCompleted,
	domain.WorkflowFailed,
}

// Dispatcher runs the periodic tick loop.
type Dispatcher struct {
	Uploads      domain.UploadRepository
	Orchestrator starter
	Janitor      sweeper
	Stats        statsSource

	Interval time.Duration
	Budget   time.Duration

	Now func() time.Time
}

// New constructs a Dispatcher with default cadence and budget. workflows
// also backs the Stats source used to refresh the per-status gauges.
func New(uploads domain.UploadRepository, orch *orchestrator.Orchestrator, j *janitor.Janitor, workflows domain.WorkflowRepository) *Dispatcher {
	return &Dispatcher{
		Uploads:      uploads,
		Orchestrator: orch,
		Janitor:      j,
		Stats:        workflows,
		Interval:     DefaultInterval,
		Budget:       DefaultBudget,
		Now:          time.Now,
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Run blocks, firing Tick on Interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx domain.Context) {
	lg := obsctx.LoggerFromContext(ctx)
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			lg.Info("tick dispatcher stopping")
			return
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				lg.Error("tick dispatcher tick failed", slog.Any("error", err))
			}
		}
	}
}

// Tick performs one discovery + dedup + enqueue + janitor-sweep pass. It
// must complete well under the 10s budget since it only enqueues work.
func (d *Dispatcher) Tick(ctx domain.Context) error {
	tracer := otel.Tracer("tick")
	ctx, span := tracer.Start(ctx, "Dispatcher.Tick")
	defer span.End()

	start := d.now()
	lg := obsctx.LoggerFromContext(ctx)

	const discoverLimit = 200
	uploads, err := d.Uploads.ListPending(ctx, discoverLimit)
	if err != nil {
		return fmt.Errorf("tick: list pending uploads: %w", err)
	}

	kept, skipped := dedupeByPONumber(uploads)
	for _, u := range skipped {
		lg.Info("tick dispatcher skipping duplicate upload",
			slog.String("upload_id", u.ID), slog.String("merchant_id", u.MerchantID), slog.String("po_hint", u.POHint))
	}

	started := 0
	for _, u := range kept {
		existingID, err := orchestrator.NewWorkflowID(d.now())
		if err != nil {
			lg.Error("tick dispatcher failed to mint workflow id", slog.Any("error", err))
			continue
		}
		if _, err := d.Orchestrator.StartWorkflow(ctx, orchestrator.StartInput{
			UploadID:           u.ID,
			MerchantID:         u.MerchantID,
			FileURL:            u.FileURL,
			ExistingWorkflowID: existingID,
		}); err != nil {
			lg.Error("tick dispatcher failed to start workflow", slog.String("upload_id", u.ID), slog.Any("error", err))
			continue
		}
		started++
	}

	if d.Janitor != nil {
		if err := d.Janitor.Sweep(ctx); err != nil {
			lg.Error("tick dispatcher janitor sweep failed", slog.Any("error", err))
		}
	}

	d.refreshStatusGauges(ctx, lg)

	elapsed := d.now().Sub(start)
	span.SetAttributes(
		attribute.Int("tick.discovered", len(uploads)),
		attribute.Int("tick.skipped_duplicates", len(skipped)),
		attribute.Int("tick.started", started),
		attribute.Float64("tick.elapsed_seconds", elapsed.Seconds()),
	)
	if elapsed > d.Budget {
		lg.Warn("tick dispatcher exceeded budget", slog.Duration("elapsed", elapsed), slog.Duration("budget", d.Budget))
	}
	return nil
}

// refreshStatusGauges repopulates the per-status workflow count gauge and
// the average completion duration gauge. Failures are logged, not
// returned, since a stale gauge reading is not worth failing the tick over.
func (d *Dispatcher) refreshStatusGauges(ctx domain.Context, lg *slog.Logger) {
	if d.Stats == nil {
		return
	}
	for _, status := range statusesToReport {
		count, err := d.Stats.CountByStatus(ctx, status)
		if err != nil {
			lg.Error("tick dispatcher failed to count workflows by status", slog.String("status", string(status)), slog.Any("error", err))
			continue
		}
		observability.WorkflowsByStatus.WithLabelValues(string(status)).Set(float64(count))
	}

	avg, err := d.Stats.AverageCompletionDuration(ctx)
	if err != nil {
		lg.Error("tick dispatcher failed to compute average completion duration", slog.Any("error", err))
		return
	}
	observability.WorkflowAverageCompletionSeconds.Set(avg.Seconds())
}

// dedupeByPONumber keeps the earliest upload per (merchant_id, po_hint)
// pair; uploads without a po_hint are never deduplicated against each
// other since there's nothing yet to compare.
func dedupeByPONumber(uploads []domain.Upload) (kept, skipped []domain.Upload) {
	seen := make(map[string]bool)
	for _, u := range uploads {
		if u.POHint == "" {
			kept = append(kept, u)
			continue
		}
		key := u.MerchantID + "|" + u.POHint
		if seen[key] {
			skipped = append(skipped, u)
			continue
		}
		seen[key] = true
		kept = append(kept, u)
	}
	return kept, skipped
}
