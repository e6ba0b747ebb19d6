package postgres

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/audit"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/contracts/event"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/metrics"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/logger"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	outboxBatchSize   = 20
	outboxMaxAttempts = 12
	outboxPollEvery   = 500 * time.Millisecond
	outboxInFlight    = 15 * time.Second
	confirmWait       = 600 * time.Millisecond
)

// backoff: exponential with jitter, between 5s and 30m
func computeNextRetry(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	sec := math.Pow(2, float64(attempt))
	sec = math.Max(5, math.Min(sec, 1800))
	d := time.Duration(sec) * time.Second

	// jitter +/-10%
	j := time.Duration(rand.Int63n(int64(d/5))) - d/10
	return d + j
}

type outboxRow struct {
	ID         uuid.UUID
	MessageID  uuid.UUID
	TraceID    string
	RoutingKey string
	Payload    []byte
	Attempt    int
}

// publisher is the slice of *amqp.Channel the worker needs, with its confirm and
// return notifications.
type publisher struct {
	ch       *amqp.Channel
	exchange string
	confirms <-chan amqp.Confirmation
	returns  <-chan amqp.Return
}

// StartOutboxWorker publishes pending outbox rows to a topic exchange with publisher
// confirms. Failed rows are rescheduled with backoff and marked dead after
// outboxMaxAttempts.
func (r *Repository) StartOutboxWorker(ctx context.Context, rabbitURL, exchange string, auditLog *audit.Logger) {
	go func() {
		log := logger.Logger.With().Str("component", "outbox_worker").Logger()

		conn, err := amqp.Dial(rabbitURL)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect rabbitmq for outbox publishing")
			return
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			log.Error().Err(err).Msg("failed to open rabbitmq channel for outbox publishing")
			return
		}
		defer ch.Close()

		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			log.Error().Err(err).Str("exchange", exchange).Msg("exchange declare failed")
			return
		}
		if err := ch.Confirm(false); err != nil {
			log.Error().Err(err).Msg("publisher confirm enable failed")
			return
		}

		pub := &publisher{
			ch:       ch,
			exchange: exchange,
			confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 100)),
			returns:  ch.NotifyReturn(make(chan amqp.Return, 100)),
		}

		ticker := time.NewTicker(outboxPollEvery)
		defer ticker.Stop()

		var lastErr string
		var lastAt time.Time
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case <-ticker.C:
				if err := r.processOutboxBatch(ctx, pub, auditLog); err != nil {
					if err.Error() != lastErr || time.Since(lastAt) > 10*time.Second {
						log.Warn().Err(err).Msg("outbox batch failed")
						lastErr = err.Error()
						lastAt = time.Now()
					}
				} else {
					lastErr = ""
				}
			}
		}
	}()
}

// claimOutboxBatch locks due rows, pushes their next_retry_at past the in-flight window
// and commits, so the publish itself runs without holding row locks.
func (r *Repository) claimOutboxBatch(ctx context.Context) ([]outboxRow, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, message_id, trace_id, routing_key, payload, attempt
		FROM outbox
		WHERE status = 'pending'
		  AND next_retry_at <= NOW()
		ORDER BY next_retry_at ASC, occurred_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, outboxBatchSize)
	if err != nil {
		return nil, err
	}

	var batch []outboxRow
	for rows.Next() {
		var m outboxRow
		if err := rows.Scan(&m.ID, &m.MessageID, &m.TraceID, &m.RoutingKey, &m.Payload, &m.Attempt); err != nil {
			rows.Close()
			return nil, err
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(batch) > 0 {
		ids := make([]uuid.UUID, len(batch))
		for i, m := range batch {
			ids[i] = m.ID
		}
		if _, err := tx.Exec(ctx, `
			UPDATE outbox SET next_retry_at = $2 WHERE id = ANY($1)
		`, ids, time.Now().Add(outboxInFlight)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *Repository) processOutboxBatch(ctx context.Context, pub *publisher, auditLog *audit.Logger) error {
	batch, err := r.claimOutboxBatch(ctx)
	if err != nil {
		return err
	}

	for _, m := range batch {
		if err := pub.publish(ctx, m); err != nil {
			r.failOutbox(ctx, m, err.Error(), auditLog)
			continue
		}
		r.markSent(ctx, m, auditLog)
	}
	return nil
}

// publish sends one row and waits for its confirm. A mandatory return (no route),
// a nack or a missing confirm is an error.
func (p *publisher) publish(ctx context.Context, m outboxRow) error {
	// drop stale notifications from a previous timed-out publish
drain:
	for {
		select {
		case <-p.returns:
		case <-p.confirms:
		default:
			break drain
		}
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		Body:          m.Payload,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     m.MessageID.String(),
		CorrelationId: m.TraceID,
		AppId:         event.Producer,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, m.RoutingKey, true, false, msg); err != nil {
		return fmt.Errorf("publish error: %w", err)
	}

	// A return, if any, arrives before the confirm.
	deadline := time.After(confirmWait)
	var returned *amqp.Return
	for {
		select {
		case ret := <-p.returns:
			returned = &ret
		case c := <-p.confirms:
			if returned != nil {
				return fmt.Errorf("NO_ROUTE: code=%d text=%s exchange=%s rk=%s",
					returned.ReplyCode, returned.ReplyText, returned.Exchange, returned.RoutingKey)
			}
			if !c.Ack {
				return fmt.Errorf("NACK: delivery_tag=%d", c.DeliveryTag)
			}
			return nil
		case <-deadline:
			return fmt.Errorf("confirm timeout")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Repository) markSent(ctx context.Context, m outboxRow, auditLog *audit.Logger) {
	_, _ = r.pool.Exec(ctx, `
		UPDATE outbox
		SET status = 'sent',
		    last_error = NULL
		WHERE id = $1
	`, m.ID)

	metrics.RecordOutboxPublished("sent")
	if auditLog != nil {
		auditLog.OutboxMessageSent(ctx, m.MessageID.String(), m.RoutingKey)
	}
}

func (r *Repository) failOutbox(ctx context.Context, m outboxRow, errMsg string, auditLog *audit.Logger) {
	log := logger.Logger.With().Str("component", "outbox_worker").Logger()

	nextAttempt := m.Attempt + 1
	if nextAttempt >= outboxMaxAttempts {
		_, _ = r.pool.Exec(ctx, `
			UPDATE outbox
			SET status = 'dead',
			    attempt = $2,
			    last_error = $3
			WHERE id = $1
		`, m.ID, nextAttempt, errMsg)

		metrics.RecordOutboxPublished("dead")
		if auditLog != nil {
			auditLog.OutboxMessageDead(ctx, m.MessageID.String(), m.RoutingKey, nextAttempt)
		}
		return
	}

	delay := computeNextRetry(nextAttempt)
	_, _ = r.pool.Exec(ctx, `
		UPDATE outbox
		SET attempt = $2,
		    next_retry_at = NOW() + make_interval(secs => $3::double precision),
		    last_error = $4
		WHERE id = $1
	`, m.ID, nextAttempt, delay.Seconds(), errMsg)

	metrics.RecordOutboxPublished("retry")
	log.Warn().
		Str("outbox_id", m.ID.String()).
		Str("message_id", m.MessageID.String()).
		Str("routing_key", m.RoutingKey).
		Int("attempt", nextAttempt).
		Dur("retry_in", delay).
		Str("error", errMsg).
		Msg("outbox publish failed; scheduled retry")
}
