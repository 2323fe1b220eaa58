package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"recsignal/internal/metrics"
	"recsignal/internal/models"
	"recsignal/internal/services"
	"recsignal/internal/utils"
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Submitter is the part of services.Service the consumer drives.
type Submitter interface {
	SubmitBatch(ctx context.Context, sub services.Submission) (services.BatchResult, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads agent payloads from a topic, one batch per message.
// Offsets are committed only after the batch committed or was rejected as
// invalid, so a store outage leaves the message to be read again.
type Consumer struct {
	reader      messageReader
	svc         Submitter
	logger      logrus.FieldLogger
	maxAttempts int
	retryDelay  time.Duration
}

func NewConsumer(cfg Config, svc Submitter, logger logrus.FieldLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(r, svc, logger)
}

func newConsumer(r messageReader, svc Submitter, logger logrus.FieldLogger) *Consumer {
	return &Consumer{reader: r, svc: svc, logger: logger, maxAttempts: 5, retryDelay: time.Second}
}

// Run consumes until ctx is cancelled. It returns an error only when a
// message could not be stored after every retry.
func (s *Consumer) Run(ctx context.Context) error {
	s.logger.Info("Kafka consumer started")
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("Kafka consumer stopped")
				return nil
			}
			s.logger.Errorf("Fetch message failed: %v", err)
			continue
		}

		if err := s.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.KafkaMessagesTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("kafka message %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Errorf("Commit offset %d failed: %v", msg.Offset, err)
		}
	}
}

// handle submits one message. Invalid payloads are logged and skipped;
// store failures are retried and then returned.
func (s *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	sub, err := decodePayload(msg.Value)
	if err != nil {
		metrics.KafkaMessagesTotal.WithLabelValues("invalid").Inc()
		s.logger.WithField("offset", msg.Offset).Errorf("Invalid message skipped: %v", err)
		return nil
	}

	ctx = services.WithSource(ctx, "kafka")
	var res services.BatchResult
	err = utils.Retry(ctx, s.logger, s.maxAttempts, s.retryDelay, func(ctx context.Context) error {
		var err error
		res, err = s.svc.SubmitBatch(ctx, sub)
		if errors.Is(err, services.ErrValidation) {
			return utils.Permanent(err)
		}
		return err
	})
	if errors.Is(err, services.ErrValidation) {
		metrics.KafkaMessagesTotal.WithLabelValues("invalid").Inc()
		s.logger.WithField("offset", msg.Offset).Errorf("Invalid message skipped: %v", err)
		return nil
	}
	if err != nil {
		return err
	}
	metrics.KafkaMessagesTotal.WithLabelValues("committed").Inc()
	s.logger.WithFields(logrus.Fields{"hostname": sub.Hostname, "offset": msg.Offset}).
		Infof("Processed Kafka message: stored=%d alerts=%d", res.StoredCount, res.AlertsCreated)
	return nil
}

// decodePayload parses and validates an agent payload.
func decodePayload(value []byte) (services.Submission, error) {
	var p models.MetricPayload
	if err := json.Unmarshal(value, &p); err != nil {
		return services.Submission{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	return services.SubmissionFromPayload(p)
}

func (s *Consumer) Close() {
	err := s.reader.Close()
	if err != nil {
		return
	}
}
