// Package kafka publishes order change events to a Kafka topic.
package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xenking/storeadmin/internal/domain/order"
)

// Writer is the part of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures the Kafka publisher.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

var _ order.Publisher = (*Publisher)(nil)

// Publisher writes order events keyed by order ID through a circuit breaker.
// While the breaker is open events are dropped without touching the broker.
type Publisher struct {
	w       Writer
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	lg      *zap.Logger
}

// NewWriter returns a synchronous writer for cfg.
func NewWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		Compression:  kafka.Snappy,
	}
}

// NewPublisher wraps w. A zero timeout means 5 seconds.
func NewPublisher(w Writer, timeout time.Duration, lg *zap.Logger) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-order-events",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("circuit", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return &Publisher{w: w, cb: cb, timeout: timeout, lg: lg}
}

// Publish encodes evt and writes it synchronously, bounded by the publisher
// timeout. Cancellation of ctx does not abort the write.
func (p *Publisher) Publish(ctx context.Context, evt order.Event) error {
	ctx = context.WithoutCancel(ctx)
	msg := kafka.Message{
		Key:   []byte(evt.OrderID),
		Value: EncodeEvent(evt),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
	}

	_, err := p.cb.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return nil, p.w.WriteMessages(ctx, msg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			zctx.From(ctx).Debug("Drop order event, circuit open", zap.String("type", evt.Type))
		}
		return errors.Wrapf(err, "publish %s", evt.Type)
	}
	return nil
}

// State reports the breaker state.
func (p *Publisher) State() gobreaker.State { return p.cb.State() }

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if err := p.w.Close(); err != nil {
		return errors.Wrap(err, "close writer")
	}
	return nil
}

// EncodeEvent renders evt as the JSON message value.
func EncodeEvent(evt order.Event) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(evt.Type) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(evt.OrderID) })
		if evt.InvoiceNo != "" {
			e.Field("invoiceNo", func(e *jx.Encoder) { e.Str(evt.InvoiceNo) })
		}
		if evt.MaskedID != "" {
			e.Field("maskedOrderId", func(e *jx.Encoder) { e.Str(evt.MaskedID) })
		}
		if evt.Status != "" {
			e.Field("status", func(e *jx.Encoder) { e.Str(string(evt.Status)) })
		}
		e.Field("totalAmount", func(e *jx.Encoder) { e.Str(evt.Total.StringFixed(2)) })
		e.Field("occurredAt", func(e *jx.Encoder) { e.Str(evt.OccurredAt.UTC().Format(time.RFC3339Nano)) })
	})
	return append([]byte(nil), e.Bytes()...)
}
