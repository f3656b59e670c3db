// Package broker implements the at-least-once, topic-routed event bus
// described in spec.md §4.2, grounded on
// original_source/shared/utils/rabbitmq.py's EventBus class. It declares a
// main topic exchange and a paired dead-letter exchange, retries failed
// handlers with capped exponential backoff, and republishes exhausted
// messages to a per-queue dead-letter queue.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/admadc/pipeline/internal/apperrors"
	"github.com/admadc/pipeline/internal/contracts"
	"github.com/admadc/pipeline/internal/logging"
)

const (
	ExchangeName    = "admadc.events"
	DLXExchangeName = "admadc.dlx"

	connectMaxRetries     = 10
	connectInitialBackoff = time.Second
	connectMaxBackoff     = 30 * time.Second

	DefaultMaxRetries      = 3
	DefaultRetryDelayBase  = time.Second
	maxRetryDelayCap       = 32 * time.Second
)

// HeaderRetryCount/HeaderIdempotencyKey/HeaderFinalFailure are the envelope
// wire-format headers required by spec.md §6.
const (
	HeaderRetryCount     = "x-retry-count"
	HeaderIdempotencyKey = "idempotency_key"
	HeaderFinalFailure   = "x-final-failure"
)

// Handler processes one decoded envelope. A non-nil error is a handler
// failure and drives the retry/DLQ path (spec.md §4.2 step 5-7).
type Handler func(ctx context.Context, env *contracts.Envelope) error

// IdempotencyStore provides set-if-absent semantics for message dedup
// (spec.md §4.2's "Idempotency store").
type IdempotencyStore interface {
	IsSeen(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, key string, ttl time.Duration) error
}

// EventBus is the broker abstraction (C2). It owns one AMQP connection and
// channel. Connect retries the initial dial with capped exponential backoff;
// a connection lost after Connect has returned is not re-established.
type EventBus struct {
	url       string
	producer  string
	logger    logging.Logger
	idemStore IdempotencyStore
	idemTTL   time.Duration

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

type Option func(*EventBus)

func WithLogger(l logging.Logger) Option { return func(b *EventBus) { b.logger = l } }

func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(b *EventBus) { b.idemTTL = ttl }
}

// NewEventBus constructs a bus bound to url, publishing as producer, and
// deduplicating deliveries through store.
func NewEventBus(url, producer string, store IdempotencyStore, opts ...Option) *EventBus {
	b := &EventBus{
		url:       url,
		producer:  producer,
		idemStore: store,
		idemTTL:   24 * time.Hour,
		logger:    logging.NoOp{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Connect dials the broker with capped exponential backoff and declares
// both topic exchanges.
func (b *EventBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectLocked(ctx)
}

func (b *EventBus) connectLocked(ctx context.Context) error {
	backoff := connectInitialBackoff
	var lastErr error
	for attempt := 0; attempt < connectMaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := amqp.Dial(b.url)
		if err != nil {
			lastErr = err
			b.logger.Warn("broker connect failed, retrying", logging.Fields{"attempt": attempt, "error": err.Error()})
			time.Sleep(backoff)
			backoff = time.Duration(math.Min(float64(backoff*2), float64(connectMaxBackoff)))
			continue
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			lastErr = err
			time.Sleep(backoff)
			continue
		}
		if err := ch.Qos(1, 0, false); err != nil {
			ch.Close()
			conn.Close()
			lastErr = err
			continue
		}
		if err := declareExchanges(ch); err != nil {
			ch.Close()
			conn.Close()
			lastErr = err
			continue
		}

		b.conn = conn
		b.channel = ch
		b.closed = false
		return nil
	}
	return fmt.Errorf("broker: %w after %d attempts: %v", apperrors.ErrBrokerUnavailable, connectMaxRetries, lastErr)
}

func declareExchanges(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	return ch.ExchangeDeclare(DLXExchangeName, "topic", true, false, false, false, nil)
}

// Close shuts down the channel and connection.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Publish sends env to the main exchange with routing key = event_type,
// persistent delivery, and the idempotency/retry-count headers (spec.md
// §4.2's publish contract).
func (b *EventBus) Publish(ctx context.Context, env *contracts.Envelope) error {
	return b.publishTo(ctx, ExchangeName, env, 0, false)
}

func (b *EventBus) publishTo(ctx context.Context, exchange string, env *contracts.Envelope, retryCount int, finalFailure bool) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("broker: marshal envelope: %w", err)
	}
	return b.publishRaw(ctx, exchange, string(env.EventType), body, env.IdempotencyKey, retryCount, finalFailure)
}

// publishRaw republishes body unchanged, used both for freshly-marshaled
// envelopes and for retry/DLX republishing of a delivery whose body never
// decoded into a typed Envelope in the first place.
func (b *EventBus) publishRaw(ctx context.Context, exchange, routingKey string, body []byte, idempotencyKey string, retryCount int, finalFailure bool) error {
	headers := amqp.Table{
		HeaderIdempotencyKey: idempotencyKey,
		HeaderRetryCount:     int32(retryCount),
	}
	if finalFailure {
		headers[HeaderFinalFailure] = true
	}

	b.mu.Lock()
	ch := b.channel
	b.mu.Unlock()
	if ch == nil {
		return apperrors.ErrBrokerUnavailable
	}

	return ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         body,
		Timestamp:    time.Now().UTC(),
	})
}

// Subscribe declares a durable queue bound to routingKeys on the main
// exchange, plus a paired dlq.<queueName> bound to the same keys on the
// dead-letter exchange, then consumes messages applying the delivery
// algorithm of spec.md §4.2.
func (b *EventBus) Subscribe(ctx context.Context, queueName string, routingKeys []string, handler Handler, maxRetries int, retryDelayBase time.Duration) error {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if retryDelayBase <= 0 {
		retryDelayBase = DefaultRetryDelayBase
	}

	b.mu.Lock()
	ch := b.channel
	b.mu.Unlock()
	if ch == nil {
		return apperrors.ErrBrokerUnavailable
	}

	dlqName := "dlq." + queueName

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare queue %s: %w", queueName, err)
	}
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare dlq %s: %w", dlqName, err)
	}
	for _, rk := range routingKeys {
		if err := ch.QueueBind(queueName, rk, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("broker: bind %s to %s: %w", queueName, rk, err)
		}
		if err := ch.QueueBind(dlqName, rk, DLXExchangeName, false, nil); err != nil {
			return fmt.Errorf("broker: bind %s to %s: %w", dlqName, rk, err)
		}
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: consume %s: %w", queueName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				b.handleDelivery(ctx, d, handler, maxRetries, retryDelayBase)
			}
		}
	}()
	return nil
}

func (b *EventBus) handleDelivery(ctx context.Context, d amqp.Delivery, handler Handler, maxRetries int, retryDelayBase time.Duration) {
	retryCount := headerInt(d.Headers, HeaderRetryCount)

	env, err := contracts.Validate(d.Body)
	if err != nil {
		b.logger.Error("broker: malformed message, treating as handler failure", logging.Fields{"error": err.Error()})
		b.failAndRetry(ctx, d, nil, retryCount, maxRetries, retryDelayBase)
		return
	}

	effectiveKey := env.IdempotencyKey
	if retryCount > 0 {
		effectiveKey = fmt.Sprintf("%s:retry:%d", env.IdempotencyKey, retryCount)
	}

	if b.idemStore != nil {
		seen, err := b.idemStore.IsSeen(ctx, effectiveKey)
		if err == nil && seen {
			d.Ack(false)
			return
		}
		_ = b.idemStore.MarkSeen(ctx, effectiveKey, b.idemTTL)
	}

	if err := handler(ctx, env); err != nil {
		b.logger.Warn("broker: handler failed", logging.Fields{"event_type": env.EventType, "retry_count": retryCount, "error": err.Error()})
		b.failAndRetry(ctx, d, env, retryCount, maxRetries, retryDelayBase)
		return
	}
	d.Ack(false)
}

// failAndRetry republishes the delivery's original bytes on retry, or to the
// DLX once max_retries is exhausted. It operates on d.Body/d.RoutingKey
// directly rather than a decoded Envelope so a message that never validated
// in the first place (malformed JSON, unknown event_type) still counts
// against retries and still lands in dlq.<queue> instead of being dropped.
func (b *EventBus) failAndRetry(ctx context.Context, d amqp.Delivery, env *contracts.Envelope, retryCount, maxRetries int, retryDelayBase time.Duration) {
	idemKey := ""
	if env != nil {
		idemKey = env.IdempotencyKey
	} else if v, ok := d.Headers[HeaderIdempotencyKey].(string); ok {
		idemKey = v
	}

	if retryCount+1 < maxRetries {
		delay := RetryDelay(retryDelayBase, retryCount)
		time.Sleep(delay)

		if err := b.publishRaw(ctx, ExchangeName, d.RoutingKey, d.Body, idemKey, retryCount+1, false); err != nil {
			b.logger.Error("broker: republish for retry failed", logging.Fields{"error": err.Error()})
		}
		d.Ack(false)
		return
	}

	if err := b.publishRaw(ctx, DLXExchangeName, d.RoutingKey, d.Body, idemKey, retryCount, true); err != nil {
		b.logger.Error("broker: publish to DLX failed", logging.Fields{"error": err.Error()})
	}
	d.Ack(false)
}

func headerInt(headers amqp.Table, key string) int {
	if headers == nil {
		return 0
	}
	switch v := headers[key].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
