// Package consumer reads raw readings off a Redis Stream and feeds them to
// the ingestion pipeline, for deployments where device gateways publish
// rather than POST.
package consumer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/savegress/vitalsync/internal/config"
	"github.com/savegress/vitalsync/pkg/models"
)

// Ingester accepts decoded reading batches
type Ingester interface {
	IngestBatch(patientID string, readings []models.RawReading) models.BatchResult
}

// StreamConsumer consumes RawReading JSON payloads from a Redis Stream
// via a consumer group
type StreamConsumer struct {
	cfg      *config.RedisConfig
	client   *redis.Client
	ingester Ingester
	logger   *zap.Logger
}

// NewStreamConsumer creates a consumer over an existing Redis client
func NewStreamConsumer(cfg *config.RedisConfig, client *redis.Client, ingester Ingester, logger *zap.Logger) *StreamConsumer {
	return &StreamConsumer{
		cfg:      cfg,
		client:   client,
		ingester: ingester,
		logger:   logger,
	}
}

// Start creates the consumer group and runs the read loop until the
// context is cancelled. Blocking; callers run it in a goroutine.
func (c *StreamConsumer) Start(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}

	c.logger.Info("stream consumer started",
		zap.String("stream", c.cfg.Stream),
		zap.String("consumer_group", c.cfg.ConsumerGroup),
		zap.String("consumer_name", c.cfg.ConsumerName))

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to consume stream",
				zap.Error(err),
				zap.Duration("backoff", backoff))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (c *StreamConsumer) consumeOnce(ctx context.Context) error {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.ConsumerGroup,
		Consumer: c.cfg.ConsumerName,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    100,
		Block:    5 * time.Second,
	}).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			c.handleMessage(ctx, msg)
		}
	}
	return nil
}

// handleMessage decodes and ingests one entry. Malformed entries are acked
// and dropped; a poison message must never wedge the group.
func (c *StreamConsumer) handleMessage(ctx context.Context, msg redis.XMessage) {
	defer c.client.XAck(ctx, c.cfg.Stream, c.cfg.ConsumerGroup, msg.ID)

	payload, ok := msg.Values["data"].(string)
	if !ok {
		c.logger.Warn("stream entry missing data field", zap.String("id", msg.ID))
		return
	}

	var raw models.RawReading
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		c.logger.Warn("malformed stream entry",
			zap.String("id", msg.ID),
			zap.Error(err))
		return
	}

	result := c.ingester.IngestBatch(raw.PatientID, []models.RawReading{raw})
	if result.Rejected > 0 {
		c.logger.Debug("stream reading rejected",
			zap.String("id", msg.ID),
			zap.String("metric", raw.Metric))
	}
}
