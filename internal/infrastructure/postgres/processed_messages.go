package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
)

// tryMarkProcessedTx inserts (message_id, handler_name) once inside tx.
// first=false means the delivery was already handled.
func tryMarkProcessedTx(ctx context.Context, tx pgx.Tx, messageID, handlerName string) (first bool, err error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_messages (message_id, handler_name)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, messageID, handlerName)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ProcessOnce runs fn in one transaction with the processed_messages fence.
// A duplicate delivery skips fn and returns processed=false, err=nil. If fn fails the
// marker rolls back with it, so the message can be redelivered.
// Without a message id there is nothing to fence on; fn still runs.
func (r *Repository) ProcessOnce(ctx context.Context, messageID, handlerName string, fn func(tx pgx.Tx) error) (processed bool, err error) {
	messageID = strings.TrimSpace(messageID)
	handlerName = strings.TrimSpace(handlerName)
	if handlerName == "" {
		handlerName = "unknown"
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if messageID != "" {
		first, err := tryMarkProcessedTx(ctx, tx, messageID, handlerName)
		if err != nil {
			return false, err
		}
		if !first {
			return false, nil
		}
	}

	if err := fn(tx); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// EnsureSubjectTx creates the subject row with zero counters. Existing counters are kept.
func (r *Repository) EnsureSubjectTx(ctx context.Context, tx pgx.Tx, subjectID string) error {
	return ensureSubject(ctx, tx, subjectID)
}
