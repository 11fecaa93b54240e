package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
	"github.com/fairyhunter13/po-workflow-core/internal/observability"
	"github.com/fairyhunter13/po-workflow-core/internal/orchestrator"
	"github.com/fairyhunter13/po-workflow-core/internal/stage"
)

// Consumer wraps a Kafka consumer, fanning out stage jobs from every stage
// topic to a dynamically sized worker pool, each worker dispatching into the
// matching stage.Processor and reporting the outcome back to the
// orchestrator.
type Consumer struct {
	session *kgo.GroupTransactSession

	stages       stage.Registry
	orchestrator *orchestrator.Orchestrator

	groupID string
	topics  []string

	maxWorkers    int
	minWorkers    int
	activeWorkers int
	workerMu      sync.RWMutex
	jobQueue      chan *kgo.Record

	adaptivePoller *AdaptivePoller
	shutdown       chan struct{}

	brokers         []string
	transactionalID string
}

// NewConsumer constructs a Consumer subscribed to every stage's topic.
func NewConsumer(brokers []string, groupID string, stages stage.Registry, orch *orchestrator.Orchestrator) (*Consumer, error) {
	return NewConsumerWithConfig(brokers, groupID, "po-workflow-consumer", stages, orch, 2, 10)
}

// NewConsumerWithConfig constructs a Consumer with custom worker pool bounds.
func NewConsumerWithConfig(brokers []string, groupID, transactionalID string, stages stage.Registry, orch *orchestrator.Orchestrator, minWorkers, maxWorkers int) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}

	topics := make([]string, 0, len(domain.StageOrder))
	for _, s := range domain.StageOrder {
		topics = append(topics, topicForStage(s))
	}

	ctx := context.Background()
	tempClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("temp client: %w", err)
	}
	defer tempClient.Close()
	ensureAllStageTopics(ctx, tempClient)

	kotelTracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelService := kotel.NewKotel(kotel.WithTracer(kotelTracer))

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.RequireStableFetchOffsets(),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10 * time.Second),
		kgo.RequestTimeoutOverhead(5 * time.Second),
		kgo.RetryTimeout(30 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
		kgo.HeartbeatInterval(3 * time.Second),
		kgo.RebalanceTimeout(10 * time.Second),
		kgo.FetchMaxBytes(10 * 1024 * 1024),
		kgo.FetchMaxWait(10 * time.Second),
		kgo.FetchMinBytes(512),
		kgo.FetchMaxPartitionBytes(2 * 1024 * 1024),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(1 * time.Second),
	}

	session, err := kgo.NewGroupTransactSession(opts...)
	if err != nil {
		return nil, fmt.Errorf("redpanda transactional session: %w", err)
	}

	slog.Info("redpanda consumer created", slog.Any("topics", topics), slog.Int("min_workers", minWorkers), slog.Int("max_workers", maxWorkers))
	return &Consumer{
		session:         session,
		stages:          stages,
		orchestrator:    orch,
		groupID:         groupID,
		topics:          topics,
		minWorkers:      minWorkers,
		maxWorkers:      maxWorkers,
		jobQueue:        make(chan *kgo.Record, maxWorkers*2),
		shutdown:        make(chan struct{}),
		activeWorkers:   minWorkers,
		brokers:         brokers,
		transactionalID: transactionalID,
		adaptivePoller:  NewAdaptivePoller(100 * time.Millisecond),
	}, nil
}

// Start begins consuming stage jobs with a dynamically sized worker pool.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("starting redpanda consumer", slog.Any("topics", c.topics), slog.String("group_id", c.groupID))

	for i := 0; i < c.minWorkers; i++ {
		go c.worker(ctx, i)
	}
	go c.messageFetcher(ctx)
	go c.workerPoolManager(ctx)

	<-ctx.Done()
	slog.Info("redpanda consumer shutting down")
	close(c.shutdown)
	return ctx.Err()
}

func (c *Consumer) workerPoolManager(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.scaleWorkers(ctx)
		}
	}
}

func (c *Consumer) scaleWorkers(ctx context.Context) {
	queueLen := len(c.jobQueue)
	active := c.getActiveWorkers()

	if queueLen > 0 && active < c.maxWorkers {
		toAdd := minInt(queueLen, c.maxWorkers-active)
		for i := 0; i < toAdd; i++ {
			if c.getActiveWorkers() < c.maxWorkers {
				c.incrementActiveWorkers()
				go c.worker(ctx, c.getActiveWorkers())
			}
		}
	}

	if active > c.minWorkers && (queueLen == 0 || active > queueLen) {
		toRemove := active - c.minWorkers
		if queueLen > 0 && active > queueLen {
			toRemove = minInt(toRemove, active-queueLen)
		}
		for i := 0; i < toRemove; i++ {
			if c.getActiveWorkers() > c.minWorkers {
				c.decrementActiveWorkers()
			}
		}
	}
}

func (c *Consumer) messageFetcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
			interval := c.adaptivePoller.GetNextInterval()
			fetches := c.session.PollFetches(ctx)

			if errs := fetches.Errors(); len(errs) > 0 {
				for _, e := range errs {
					slog.Error("fetch error", slog.String("topic", e.Topic), slog.Int("partition", int(e.Partition)), slog.Any("error", e.Err))
				}
				c.adaptivePoller.RecordFailure()
				time.Sleep(interval)
				continue
			}

			if fetches.NumRecords() == 0 {
				c.adaptivePoller.RecordSuccess()
				time.Sleep(interval)
				continue
			}

			c.adaptivePoller.RecordSuccess()
			fetches.EachRecord(func(record *kgo.Record) {
				select {
				case c.jobQueue <- record:
				default:
					slog.Warn("job queue full, processing in a separate goroutine", slog.String("topic", record.Topic))
					go func(rec *kgo.Record) { _ = c.processRecord(ctx, rec) }(record)
				}
			})
		}
	}
}

func (c *Consumer) worker(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case record := <-c.jobQueue:
			if record == nil {
				return
			}
			if err := c.processRecord(ctx, record); err != nil {
				slog.Error("failed to process stage record",
					slog.Int("worker_id", workerID),
					slog.String("topic", record.Topic),
					slog.Any("error", err))
			}

			active := c.getActiveWorkers()
			queueLen := len(c.jobQueue)
			if active > c.minWorkers && (queueLen == 0 || active > queueLen) {
				return
			}
		}
	}
}

func (c *Consumer) getActiveWorkers() int {
	c.workerMu.RLock()
	defer c.workerMu.RUnlock()
	return c.activeWorkers
}

func (c *Consumer) incrementActiveWorkers() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	c.activeWorkers++
}

func (c *Consumer) decrementActiveWorkers() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	if c.activeWorkers > 0 {
		c.activeWorkers--
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// processRecord decodes a stage job, dispatches it to the matching
// processor, and reports success or failure back to the orchestrator so the
// workflow advances, retries, or fails per the shared failure policy.
func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) error {
	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "Consumer.ProcessStageJob")
	defer span.End()

	stageName, ok := stageForTopic(record.Topic)
	if !ok {
		return fmt.Errorf("unrecognized stage topic %q", record.Topic)
	}

	var job domain.StageJob
	if err := json.Unmarshal(record.Value, &job); err != nil {
		return fmt.Errorf("unmarshal stage job: %w", err)
	}

	lg := observability.LoggerFromContext(ctx).With(
		slog.String("workflow_id", job.WorkflowID),
		slog.String("stage", string(stageName)),
	)
	ctx = observability.ContextWithLogger(ctx, lg)

	processor, ok := c.stages.Get(stageName)
	if !ok {
		return fmt.Errorf("no processor registered for stage %q", stageName)
	}

	result, err := processor.Process(ctx, job)
	if err != nil {
		lg.Error("stage processing failed", slog.Any("error", err))
		return c.orchestrator.HandleStageFailure(ctx, job, err)
	}

	lg.Info("stage processing succeeded")
	return c.orchestrator.ScheduleNextStage(ctx, job, result)
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	if c.shutdown != nil {
		select {
		case <-c.shutdown:
		default:
			close(c.shutdown)
		}
	}
	return nil
}
