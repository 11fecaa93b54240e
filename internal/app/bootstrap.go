package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/po-workflow-core/internal/adapter/db/pgconn"
	extractorhttp "github.com/fairyhunter13/po-workflow-core/internal/adapter/extractor/http"
	externalsinkhttp "github.com/fairyhunter13/po-workflow-core/internal/adapter/externalsink/http"
	imagesourcehttp "github.com/fairyhunter13/po-workflow-core/internal/adapter/imagesource/http"
	"github.com/fairyhunter13/po-workflow-core/internal/adapter/kv/redisstore"
	objectstorehttp "github.com/fairyhunter13/po-workflow-core/internal/adapter/objectstore/http"
	"github.com/fairyhunter13/po-workflow-core/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/po-workflow-core/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/po-workflow-core/internal/config"
	"github.com/fairyhunter13/po-workflow-core/internal/fuzzymatch"
	"github.com/fairyhunter13/po-workflow-core/internal/janitor"
	"github.com/fairyhunter13/po-workflow-core/internal/orchestrator"
	"github.com/fairyhunter13/po-workflow-core/internal/stage"
)

// Dependencies bundles the components every long-running process shares:
// database pool, KV fabric, queue producer, stage registry, orchestrator,
// and janitor. cmd/ entry points assemble their process-specific pieces
// (consumer, ticker, HTTP router) on top of this.
type Dependencies struct {
	Pool      *pgxpool.Pool
	dbManager *pgconn.Manager
	Redis     *redis.Client
	KV        *redisstore.Store
	Queue     *redpanda.Producer
	Stages    stage.Registry
	Orchestrator *orchestrator.Orchestrator
	Janitor   *janitor.Janitor
	Uploads   *postgres.UploadRepo
	Workflows *postgres.WorkflowRepo
}

// Build wires every shared dependency from cfg. producerTransactionalID lets
// each process use a distinct Kafka transactional ID.
func Build(ctx context.Context, cfg config.Config, producerTransactionalID string) (*Dependencies, error) {
	dbManager, err := pgconn.NewManager(ctx, cfg.DBURL, pgconn.RetryConfig{
		MaxElapsedTime:  cfg.RetryMaxDelay,
		InitialInterval: cfg.RetryInitialDelay,
		MaxInterval:     cfg.RetryMaxDelay,
		Multiplier:      cfg.RetryMultiplier,
	})
	if err != nil {
		return nil, fmt.Errorf("op=bootstrap.db: %w", err)
	}
	pool, err := dbManager.Pool(ctx)
	if err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("op=bootstrap.db_pool: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("op=bootstrap.redis_parse: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	kv := redisstore.New(rdb)

	queue, err := redpanda.NewProducerWithTransactionalID(cfg.KafkaBrokers, producerTransactionalID)
	if err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("op=bootstrap.queue: %w", err)
	}

	workflows := postgres.NewWorkflowRepo(pool)
	purchaseOrders := postgres.NewPORepo(pool, cfg.PersistenceTransactionBudget)
	suppliers := postgres.NewSupplierRepo(pool)
	drafts := postgres.NewDraftRepo(pool)
	uploads := postgres.NewUploadRepo(pool)

	resolver := fuzzymatch.NewResolver(suppliers, cfg.FuzzyMatchThreshold)
	resolver.GlobalEngine = fuzzymatch.EngineA
	if cfg.FuzzyMatchGlobalEngineB {
		resolver.GlobalEngine = fuzzymatch.EngineB
	}
	resolver.RolloutPercent = cfg.FuzzyMatchRolloutPercentage

	merchantMarkups := map[string]float64{}
	if cfg.MerchantSettingsPath != "" {
		settings, err := config.LoadMerchantSettings(cfg.MerchantSettingsPath)
		if err != nil {
			dbManager.Close()
			return nil, fmt.Errorf("op=bootstrap.merchant_settings: %w", err)
		}
		merchantEngines := map[string]fuzzymatch.Engine{}
		for merchantID, s := range settings {
			if s.PricingMarkupRatio > 0 {
				merchantMarkups[merchantID] = s.PricingMarkupRatio
			}
			if s.FuzzyMatchEngine != "" {
				merchantEngines[merchantID] = fuzzymatch.Engine(s.FuzzyMatchEngine)
			}
		}
		resolver.MerchantEngine = merchantEngines
	}

	objects := objectstorehttp.New(cfg.ObjectStoreURL, "")
	extractor := extractorhttp.New(cfg.ExtractorURL, extractorhttp.BackoffConfig{})
	images := imagesourcehttp.New(cfg.ImageSourceURL)
	sink := externalsinkhttp.New(cfg.ExternalSinkURL)

	stages := stage.NewRegistry(
		&stage.ParseStage{Objects: objects, Extractor: extractor, Suppliers: suppliers, Resolver: resolver, KV: kv},
		&stage.SaveStage{PurchaseOrders: purchaseOrders, Workflows: workflows, KV: kv},
		&stage.DraftStage{
			PurchaseOrders:     purchaseOrders,
			Drafts:             drafts,
			KV:                 kv,
			MerchantMarkups:    merchantMarkups,
			DefaultMarkupRatio: cfg.PricingMarkupDefaultRatio,
		},
		&stage.ImagesStage{PurchaseOrders: purchaseOrders, Drafts: drafts, Images: images, KV: kv},
		&stage.SyncStage{Drafts: drafts, Sink: sink, KV: kv},
		&stage.FinalizeStage{PurchaseOrders: purchaseOrders, Workflows: workflows, KV: kv},
	)

	orch := orchestrator.New(workflows, queue, kv)
	if cfg.RetryMaxAttempts > 0 {
		orch.MaxStageAttempts = cfg.RetryMaxAttempts
	}

	jan := janitor.New(workflows, purchaseOrders, queue)
	jan.StaleAfter = cfg.JanitorStuckThreshold
	if cfg.JanitorPageSize > 0 {
		jan.PageSize = cfg.JanitorPageSize
	}

	return &Dependencies{
		Pool:         pool,
		dbManager:    dbManager,
		Redis:        rdb,
		KV:           kv,
		Queue:        queue,
		Stages:       stages,
		Orchestrator: orch,
		Janitor:      jan,
		Uploads:      uploads,
		Workflows:    workflows,
	}, nil
}

// Close releases every pooled connection. Safe to call on a partially built
// Dependencies.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.Queue != nil {
		_ = d.Queue.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.dbManager != nil {
		d.dbManager.Close()
	}
}
