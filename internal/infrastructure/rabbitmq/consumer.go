package rabbitmq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/contracts/event"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/logger"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	supportedVersion = 1
	queueName        = "view-service.profile-snapshots"
	handlerName      = "profile_snapshots"
)

// SubjectRegistry creates subject rows. Every ViewStore satisfies it.
type SubjectRegistry interface {
	EnsureSubject(ctx context.Context, subjectID string) error
}

// inboxTx is the optional strong path: dedupe fence and side effect in one DB tx.
type inboxTx interface {
	ProcessOnce(ctx context.Context, messageID, handlerName string, fn func(tx pgx.Tx) error) (bool, error)
	EnsureSubjectTx(ctx context.Context, tx pgx.Tx, subjectID string) error
}

// Consumer keeps the local subject projection in step with the profile owner.
type Consumer struct {
	rabbitURL string
	exchange  string
	repo      SubjectRegistry
}

func NewConsumer(rabbitURL, exchange string, repo SubjectRegistry) *Consumer {
	return &Consumer{
		rabbitURL: strings.TrimSpace(rabbitURL),
		exchange:  strings.TrimSpace(exchange),
		repo:      repo,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	log := logger.Logger.With().Str("component", "rabbitmq_consumer").Logger()

	conn, err := amqp.Dial(c.rabbitURL)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	closeAll := func() {
		_ = ch.Close()
		_ = conn.Close()
	}

	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		closeAll()
		return err
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		closeAll()
		return err
	}
	if err := ch.QueueBind(q.Name, event.RoutingProfileCreated, c.exchange, false, nil); err != nil {
		closeAll()
		return err
	}
	if err := ch.Qos(10, 0, false); err != nil {
		closeAll()
		return err
	}
	deliveries, err := ch.Consume(q.Name, event.Producer, false, false, false, false, nil)
	if err != nil {
		closeAll()
		return err
	}

	go func() {
		defer closeAll()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					log.Warn().Msg("delivery channel closed")
					return
				}
				if err := c.handleMessage(ctx, d.RoutingKey, d.MessageId, d.Body); err != nil {
					_ = d.Nack(false, true) // transient => requeue
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	log.Info().Str("queue", q.Name).Msg("consumer started")
	return nil
}

// handleMessage returns an error only for failures worth redelivering.
// Poison messages are logged and dropped.
func (c *Consumer) handleMessage(ctx context.Context, routingKey, amqpMessageID string, body []byte) error {
	baseLog := logger.Logger.With().
		Str("component", "rabbitmq_consumer").
		Str("routing_key", routingKey).
		Logger()

	var env event.DomainEventEnvelope[json.RawMessage]
	if err := json.Unmarshal(body, &env); err != nil {
		baseLog.Warn().Err(err).Msg("invalid envelope json; dropping")
		return nil
	}
	if env.Version != supportedVersion {
		baseLog.Warn().Int("version", env.Version).Msg("unsupported envelope version; dropping")
		return nil
	}

	msgID := messageID(env.MessageID, amqpMessageID, routingKey, body)
	log := baseLog.With().
		Str("message_id", msgID).
		Str("trace_id", strings.TrimSpace(env.TraceID)).
		Logger()

	if routingKey != event.RoutingProfileCreated {
		log.Warn().Msg("unknown routing key; ignoring")
		return nil
	}
	subjectID, ok := profileID(env.Payload, log)
	if !ok {
		return nil
	}

	if r, ok := c.repo.(inboxTx); ok {
		processed, err := r.ProcessOnce(ctx, msgID, handlerName, func(tx pgx.Tx) error {
			return r.EnsureSubjectTx(ctx, tx, subjectID)
		})
		if err != nil {
			log.Error().Err(err).Msg("processing failed (requeue)")
			return err
		}
		if !processed {
			log.Info().Msg("duplicate delivery ignored")
		}
		return nil
	}

	// EnsureSubject is idempotent, so redelivery without a fence is harmless.
	if err := c.repo.EnsureSubject(ctx, subjectID); err != nil {
		log.Error().Err(err).Msg("ensure subject failed (requeue)")
		return err
	}
	return nil
}

// messageID prefers envelope.message_id, then the AMQP MessageId, else a content hash.
func messageID(envelopeID, amqpID, routingKey string, body []byte) string {
	if id := strings.TrimSpace(envelopeID); id != "" {
		return id
	}
	if id := strings.TrimSpace(amqpID); id != "" {
		return id
	}
	h := sha256.Sum256(append([]byte(routingKey+"\n"), body...))
	return "hash:" + hex.EncodeToString(h[:])
}

func profileID(raw json.RawMessage, log zerolog.Logger) (string, bool) {
	var p event.ProfileCreatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn().Err(err).Msg("invalid payload json; dropping")
		return "", false
	}
	// tolerate legacy field
	id := strings.TrimSpace(p.ProfileID)
	if id == "" {
		id = strings.TrimSpace(p.ID)
	}
	if id == "" {
		log.Warn().Msg("missing profile_id; dropping")
		return "", false
	}
	return id, true
}
