package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmehra2102/course-payments/internal/notification/application"
	"github.com/dmehra2102/course-payments/pkg/outbox"
	"github.com/dmehra2102/course-payments/pkg/tracing"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Handler interface {
	Handle(ctx context.Context, eventType, eventID string, payload []byte) error
}

// Deduper is satisfied by idempotency.Store.
type Deduper interface {
	Key(scope, id string) string
	Seen(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultMaxAttempts = 5
	defaultBackoff     = time.Second
)

type Consumer struct {
	log    *slog.Logger
	reader reader
	svc    Handler
	idem   Deduper
	tracer trace.Tracer

	maxAttempts int
	backoff     time.Duration
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, svc Handler, idem Deduper) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("notification-consumer"),

		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
}

// Run commits a message only after it was handled or deliberately skipped.
// Group offsets are positional, so a message that keeps failing stops the
// consumer instead of being stepped over: nothing past it is fetched or
// committed, and it is redelivered when the group resumes.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := c.handleWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("event handling failed, consumer stopping", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
			return fmt.Errorf("offset %d/%d left uncommitted: %w", msg.Partition, msg.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "offset", msg.Offset, "err", err)
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = c.handle(ctx, msg); err == nil {
			return nil
		}
		if attempt == c.maxAttempts {
			break
		}
		wait := time.Duration(attempt) * c.backoff
		c.log.Warn("retrying event", "offset", msg.Offset, "attempt", attempt, "backoff", wait, "err", err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", c.maxAttempts, err)
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	eventType := headerValue(msg.Headers, outbox.HeaderEventType)
	eventID := headerValue(msg.Headers, outbox.HeaderEventID)
	if eventID == "" {
		eventID = fmt.Sprintf("%d:%d", msg.Partition, msg.Offset)
	}

	key := c.idem.Key(msg.Topic, eventID)
	seen, err := c.idem.Seen(ctx, key)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if seen {
		c.log.Info("duplicate message skipped", "key", key)
		return nil
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumePaymentEvent", trace.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.String("event.id", eventID),
	))
	defer span.End()

	err = c.svc.Handle(msgCtx, eventType, eventID, msg.Value)
	if errors.Is(err, application.ErrUndecodable) {
		c.log.Error("undecodable event skipped", "event_id", eventID, "err", err)
		span.SetStatus(codes.Error, err.Error())
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if rerr := c.idem.Release(ctx, key); rerr != nil {
			c.log.Error("idempotency release failed", "key", key, "err", rerr)
		}
		return err
	}
	return nil
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
