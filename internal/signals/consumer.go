// Package signals consumes deadline notifications from NATS JetStream and
// moves the named wagers into pending_verification. An external scheduler
// owns deadline timing; this consumer only reacts to its signals.
package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"WagerPool/internal/engine"
	"WagerPool/internal/observability"
	"WagerPool/internal/wager"
)

const (
	// DeadlineSubject is the subject space the scheduler publishes to:
	// wagers.deadlines.{wager_id}
	DeadlineSubject = "wagers.deadlines.>"
	StreamName      = "WAGER_DEADLINES"
	ConsumerName    = "wagerpool-deadlines"
)

// DeadlineSignal is the scheduler's notification payload.
type DeadlineSignal struct {
	WagerID  uuid.UUID `json:"wager_id"`
	Deadline time.Time `json:"deadline"`
}

// Consumer drives deadline transitions off a durable JetStream consumer.
type Consumer struct {
	js      jetstream.JetStream
	engine  *engine.Engine
	log     zerolog.Logger
	metrics *observability.Metrics
	cc      jetstream.ConsumeContext
}

func NewConsumer(js jetstream.JetStream, eng *engine.Engine, metrics *observability.Metrics) *Consumer {
	return &Consumer{
		js:      js,
		engine:  eng,
		log:     observability.NewLogger("signals"),
		metrics: metrics,
	}
}

// Start creates the durable consumer and begins processing. Messages are
// acked after the transition commits; malformed and inapplicable signals
// are acked too, since redelivery cannot fix them.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: DeadlineSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create deadline consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume deadlines: %w", err)
	}
	c.cc = cc

	c.log.Info().Str("subject", DeadlineSubject).Msg("deadline consumer started")
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	c.metrics.SignalsReceived.Inc()

	var sig DeadlineSignal
	if err := json.Unmarshal(msg.Data(), &sig); err != nil {
		c.metrics.SignalsDiscarded.WithLabelValues("malformed").Inc()
		c.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("malformed deadline signal")
		msg.Ack()
		return
	}
	if sig.WagerID == uuid.Nil {
		c.metrics.SignalsDiscarded.WithLabelValues("malformed").Inc()
		msg.Ack()
		return
	}

	_, err := c.engine.MarkPendingVerification(ctx, sig.WagerID, "deadline-scheduler")
	switch {
	case err == nil:
		msg.Ack()

	case engine.IsNotFound(err):
		c.metrics.SignalsDiscarded.WithLabelValues("unknown_wager").Inc()
		c.log.Warn().Str("wager_id", sig.WagerID.String()).Msg("deadline signal for unknown wager")
		msg.Ack()

	case errors.Is(err, wager.ErrInvalidStateTransition):
		// Already resolved, cancelled, or pending. The signal arrived late;
		// nothing to do.
		c.metrics.SignalsDiscarded.WithLabelValues("stale").Inc()
		msg.Ack()

	default:
		c.log.Error().Err(err).Str("wager_id", sig.WagerID.String()).Msg("deadline transition failed")
		msg.Nak()
	}
}

// Stop halts message delivery.
func (c *Consumer) Stop() {
	if c.cc != nil {
		c.cc.Stop()
	}
	c.log.Info().Msg("deadline consumer stopped")
}

// EnsureStream creates the deadline stream the scheduler publishes into.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{DeadlineSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create deadline stream: %w", err)
	}
	return nil
}
