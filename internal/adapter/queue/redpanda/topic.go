// Package redpanda provides Redpanda/Kafka queue integration for dispatching
// workflow stage jobs.
//
// Each workflow stage gets its own topic so a slow or backlogged stage
// (image_attachment waiting on a flaky image source, say) never blocks
// throughput on the others. The package provides reliable message delivery
// with exactly-once semantics and supports horizontal scaling of workers.
package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// topicForStage maps a workflow stage to its dedicated Kafka topic.
func topicForStage(stage domain.WorkflowStage) string {
	return "po-stage-" + string(stage)
}

// stageForTopic is the inverse of topicForStage, used by the consumer to
// recover the stage a record belongs to. The dlq topic never maps back to a
// stage since it carries terminal failures, not further work.
func stageForTopic(topic string) (domain.WorkflowStage, bool) {
	for _, s := range domain.StageOrder {
		if topicForStage(s) == topic {
			return s, true
		}
	}
	return "", false
}

// createTopicIfNotExists creates a topic if it doesn't exist using the Kafka AdminClient API.
// It handles the "topic already exists" error gracefully and returns nil in that case.
func createTopicIfNotExists(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("topic name cannot be empty")
	}
	if partitions <= 0 {
		return fmt.Errorf("partitions must be greater than 0")
	}
	if replicationFactor <= 0 {
		return fmt.Errorf("replication factor must be greater than 0")
	}

	slog.Info("ensuring topic exists",
		slog.String("topic", topic),
		slog.Int("partitions", int(partitions)),
		slog.Int("replication_factor", int(replicationFactor)))

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor

	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	createTopicsResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type: %T", resp)
	}

	for _, topicResp := range createTopicsResp.Topics {
		if topicResp.ErrorCode != 0 {
			// error code 36 = TOPIC_ALREADY_EXISTS
			if topicResp.ErrorCode == 36 {
				slog.Info("topic already exists", slog.String("topic", topicResp.Topic))
				return nil
			}
			errorMsg := ""
			if topicResp.ErrorMessage != nil {
				errorMsg = *topicResp.ErrorMessage
			}
			return fmt.Errorf("create topic error: %s (code %d)", errorMsg, topicResp.ErrorCode)
		}
		slog.Info("topic created successfully",
			slog.String("topic", topicResp.Topic),
			slog.Int("partitions", int(partitions)),
			slog.Int("replication_factor", int(replicationFactor)))
	}

	return nil
}

// ensureAllStageTopics creates the dedicated topic for every stage in
// domain.StageOrder plus the dead-letter topic, tolerating already-exists.
func ensureAllStageTopics(ctx context.Context, client *kgo.Client) {
	for _, s := range domain.StageOrder {
		if err := createTopicIfNotExists(ctx, client, topicForStage(s), 4, 1); err != nil {
			slog.Warn("failed to create stage topic, it may already exist",
				slog.String("topic", topicForStage(s)), slog.Any("error", err))
		}
	}
	if err := createTopicIfNotExists(ctx, client, dlqTopic, 1, 1); err != nil {
		slog.Warn("failed to create dlq topic, it may already exist", slog.Any("error", err))
	}
}

const dlqTopic = "po-stage-dlq"
