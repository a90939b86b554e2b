// Package outbound publishes wager lifecycle events and payout batches to
// NATS JetStream for downstream consumers (notification bots, disbursement
// workers). Lifecycle events are best-effort: the channel send drops when
// full. Payout batches are the disbursement hand-off and are never dropped;
// emitting one blocks until the publisher accepts it.
package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"WagerPool/internal/observability"
	"WagerPool/internal/settle"
)

// Subjects follow the pattern:
//
//	wagers.events.{event_type}.{wager_id}   lifecycle events
//	wagers.payouts.{wager_id}               payout batches
const (
	EventSubjectPrefix  = "wagers.events"
	PayoutSubjectPrefix = "wagers.payouts"
	StreamName          = "WAGER_EVENTS"
)

// Event is one lifecycle notification.
type Event struct {
	WagerID   uuid.UUID   `json:"wager_id"`
	GroupID   string      `json:"group_id"`
	EventType string      `json:"event_type"`
	Actor     string      `json:"actor,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// PayoutBatch is the full settlement of one wager, published once at
// resolve time.
type PayoutBatch struct {
	WagerID     uuid.UUID       `json:"wager_id"`
	GroupID     string          `json:"group_id"`
	WinningSide string          `json:"winning_side"`
	Payouts     []settle.Payout `json:"payouts"`
	Total       int64           `json:"total"`
	Timestamp   time.Time       `json:"timestamp"`
}

type outboundMsg struct {
	subject string
	data    []byte
}

// Publisher drains emitted messages to JetStream on its Run loop.
type Publisher struct {
	js      jetstream.JetStream
	events  chan outboundMsg
	payouts chan outboundMsg
	log     zerolog.Logger
	metrics *observability.Metrics
}

// NewPublisher creates a publisher with the given lifecycle-event buffer.
func NewPublisher(js jetstream.JetStream, bufferSize int, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		events:  make(chan outboundMsg, bufferSize),
		payouts: make(chan outboundMsg),
		log:     observability.NewLogger("outbound"),
		metrics: metrics,
	}
}

// EmitEvent queues a lifecycle event. Drops when the buffer is full; the
// durable audit log in Postgres remains the source of truth.
func (p *Publisher) EmitEvent(evt Event) {
	evt.Timestamp = time.Now().UTC()
	data, err := json.Marshal(evt)
	if err != nil {
		p.log.Error().Err(err).Str("event_type", evt.EventType).Msg("marshal lifecycle event")
		return
	}

	msg := outboundMsg{
		subject: fmt.Sprintf("%s.%s.%s", EventSubjectPrefix, evt.EventType, evt.WagerID),
		data:    data,
	}

	select {
	case p.events <- msg:
	default:
		p.metrics.PublishDrops.Inc()
		p.log.Warn().
			Str("event_type", evt.EventType).
			Str("wager_id", evt.WagerID.String()).
			Msg("publish buffer full, lifecycle event dropped")
	}
}

// EmitPayouts queues a payout batch. Blocks until the publisher accepts it
// or ctx is cancelled; payout batches are never dropped.
func (p *Publisher) EmitPayouts(ctx context.Context, batch PayoutBatch) error {
	batch.Timestamp = time.Now().UTC()
	batch.Total = settle.Total(batch.Payouts)
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal payout batch: %w", err)
	}

	msg := outboundMsg{
		subject: fmt.Sprintf("%s.%s", PayoutSubjectPrefix, batch.WagerID),
		data:    data,
	}

	select {
	case p.payouts <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains both queues until ctx is cancelled. Payout sends take priority
// over lifecycle events.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg := <-p.payouts:
			if err := p.publish(ctx, msg); err != nil {
				p.metrics.PublishErrors.Inc()
				p.log.Error().Err(err).Str("subject", msg.subject).Msg("payout publish failed")
				continue
			}
			p.metrics.EventsPublished.WithLabelValues("payouts").Inc()

		case msg := <-p.events:
			if err := p.publish(ctx, msg); err != nil {
				p.metrics.PublishErrors.Inc()
				// Non-fatal: the Postgres audit log retains the event.
				p.log.Warn().Err(err).Str("subject", msg.subject).Msg("event publish failed")
				continue
			}
			p.metrics.EventsPublished.WithLabelValues("lifecycle").Inc()
		}
	}
}

func (p *Publisher) publish(ctx context.Context, msg outboundMsg) error {
	_, err := p.js.Publish(ctx, msg.subject, msg.data)
	return err
}

// EnsureStream creates the outbound stream covering both subject spaces.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{EventSubjectPrefix + ".>", PayoutSubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
