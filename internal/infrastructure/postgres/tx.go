package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// viewTx is the domain.ViewTx over one pgx transaction.
type viewTx struct {
	tx pgx.Tx
}

func (t *viewTx) LockSubject(ctx context.Context, subjectID string) (domain.SubjectProfile, error) {
	p := domain.SubjectProfile{ID: subjectID}
	err := t.tx.QueryRow(ctx, `
		SELECT total_views, last_viewed_at
		FROM profiles
		WHERE id = $1
		FOR UPDATE
	`, subjectID).Scan(&p.TotalViews, &p.LastViewedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SubjectProfile{}, domain.ErrSubjectNotFound
	}
	if err != nil {
		return domain.SubjectProfile{}, err
	}
	return p, nil
}

func (t *viewTx) IncrementSubject(ctx context.Context, subjectID string, at time.Time) (int64, error) {
	var total int64
	err := t.tx.QueryRow(ctx, `
		UPDATE profiles
		SET total_views = total_views + 1,
		    last_viewed_at = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING total_views
	`, subjectID, at).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrSubjectNotFound
	}
	return total, err
}

func (t *viewTx) InsertEvent(ctx context.Context, e *domain.ViewEvent) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO view_events (subject_id, viewer_id, ts, origin_address, client_signature, session_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, e.SubjectID, e.ViewerID, e.Timestamp, e.OriginAddress, e.ClientSignature, e.SessionID).Scan(&e.ID)
}

func (t *viewTx) UpsertDaily(ctx context.Context, subjectID string, day, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO daily_view_aggregates (subject_id, view_date, view_count, last_view_at)
		VALUES ($1, $2::date, 1, $3)
		ON CONFLICT (subject_id, view_date) DO UPDATE
		SET view_count = daily_view_aggregates.view_count + 1,
		    last_view_at = EXCLUDED.last_view_at
	`, subjectID, domain.DateKey(day), at)
	return err
}

func (t *viewTx) UpsertRateLimit(ctx context.Context, subjectID, originAddress string, now time.Time, window time.Duration) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO rate_limit_records (subject_id, origin_address, window_start, view_count)
		VALUES ($1, $2, $3::timestamptz, 1)
		ON CONFLICT (subject_id, origin_address) DO UPDATE
		SET window_start = CASE
		        WHEN $3::timestamptz - rate_limit_records.window_start > make_interval(secs => $4::double precision)
		        THEN $3::timestamptz
		        ELSE rate_limit_records.window_start
		    END,
		    view_count = CASE
		        WHEN $3::timestamptz - rate_limit_records.window_start > make_interval(secs => $4::double precision)
		        THEN 1
		        ELSE rate_limit_records.view_count + 1
		    END
	`, subjectID, originAddress, now, window.Seconds())
	return err
}

func (t *viewTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	messageID, err := uuid.Parse(msg.MessageID)
	if err != nil {
		messageID = uuid.New()
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO outbox (message_id, trace_id, routing_key, payload, occurred_at, status)
		VALUES ($1, $2, $3, $4, NOW(), 'pending')
	`, messageID, msg.TraceID, msg.RoutingKey, msg.Payload)
	return err
}

func (t *viewTx) CountEvents(ctx context.Context, subjectID string) (int64, error) {
	return countEvents(ctx, t.tx, subjectID)
}

func (t *viewTx) SetTotalViews(ctx context.Context, subjectID string, total int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE profiles SET total_views = $2, updated_at = NOW() WHERE id = $1
	`, subjectID, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubjectNotFound
	}
	return nil
}

func (t *viewTx) ResetSubject(ctx context.Context, subjectID string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE profiles
		SET total_views = 0, last_viewed_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, subjectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubjectNotFound
	}
	return nil
}
