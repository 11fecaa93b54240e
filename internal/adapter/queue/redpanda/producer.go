package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// Producer wraps a Kafka producer and implements domain.Queue, dispatching
// each stage job to its stage's dedicated topic with exactly-once semantics.
type Producer struct {
	client          *kgo.Client
	transactionChan chan struct{}
}

// NewProducer constructs a Producer with exactly-once semantics.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithTransactionalID(brokers, "po-workflow-producer")
}

// NewProducerWithTransactionalID constructs a Producer with a custom
// transactional ID, useful for test isolation.
func NewProducerWithTransactionalID(brokers []string, transactionalID string) (*Producer, error) {
	slog.Info("creating redpanda producer", slog.Any("brokers", brokers), slog.String("transactional_id", transactionalID))

	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		slog.Error("failed to create redpanda client", slog.Any("error", err))
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	ensureAllStageTopics(context.Background(), client)

	slog.Info("redpanda producer created successfully")
	return &Producer{
		client:          client,
		transactionChan: make(chan struct{}, 1),
	}, nil
}

// EnqueueDLQ routes a stage job that exhausted its retry budget to the dead
// letter topic, carrying the terminal error for offline inspection.
func (p *Producer) EnqueueDLQ(ctx domain.Context, job domain.StageJob, reason string) error {
	message := struct {
		Job    domain.StageJob `json:"job"`
		Reason string          `json:"reason"`
	}{Job: job, Reason: reason}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal dlq message: %w", err)
	}

	record := &kgo.Record{Key: []byte(job.WorkflowID), Value: messageBytes, Topic: dlqTopic}

	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	default:
		return fmt.Errorf("transaction channel is busy")
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort dlq transaction", slog.Any("error", abortErr))
		}
		return fmt.Errorf("produce dlq message: %w", err)
	}

	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("commit dlq transaction: %w", err)
	}

	slog.Info("stage job sent to dlq", slog.String("workflow_id", job.WorkflowID), slog.String("stage", string(job.Stage)))
	return nil
}

// EnqueueStage implements domain.Queue, publishing job to its stage's
// dedicated topic with transactional exactly-once semantics.
func (p *Producer) EnqueueStage(ctx domain.Context, job domain.StageJob) (string, error) {
	if job.ID == "" {
		job.ID = ulid.Make().String()
	}
	topic := topicForStage(job.Stage)

	slog.Info("enqueueing stage job",
		slog.String("workflow_id", job.WorkflowID),
		slog.String("stage", string(job.Stage)),
		slog.String("topic", topic))

	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}

	b, err := json.Marshal(job)
	if err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction", slog.Any("error", abortErr))
		}
		return "", fmt.Errorf("marshal stage job: %w", err)
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(job.WorkflowID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "workflow_id", Value: []byte(job.WorkflowID)},
			{Key: "merchant_id", Value: []byte(job.MerchantID)},
			{Key: "stage", Value: []byte(job.Stage)},
		},
	}

	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())

	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction", slog.Any("error", abortErr))
		}
		return "", fmt.Errorf("produce: %w", err)
	}

	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("stage job enqueued", slog.String("workflow_id", job.WorkflowID), slog.String("job_id", job.ID), slog.String("topic", topic))
	return job.ID, nil
}

// Close closes the producer.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	if p.transactionChan != nil {
		select {
		case <-p.transactionChan:
		default:
			close(p.transactionChan)
		}
	}
	return nil
}
