package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultMaxRetries = 3

// -------------------------
// Deadlock policy:
// Every write transaction locks in this order (for the same subject_id):
//   1) profiles row (FOR UPDATE)
//   2) daily_view_aggregates row (upsert)
//   3) rate_limit_records row (upsert)
//   4) outbox insert
// Transactions for different subjects share no rows.
// -------------------------

type Repository struct {
	pool       *pgxpool.Pool
	maxRetries int
}

var _ domain.ViewStore = (*Repository)(nil)

func New(pool *pgxpool.Pool, maxRetries int) *Repository {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	return &Repository{pool: pool, maxRetries: maxRetries}
}

// WithinTx runs fn in a READ COMMITTED transaction. Serialization failures and
// deadlocks roll back and rerun fn, up to maxRetries extra attempts, after which
// the last error is wrapped in domain.ErrTxConflict.
func (r *Repository) WithinTx(ctx context.Context, fn func(tx domain.ViewTx) error) error {
	for attempt := 0; ; attempt++ {
		err := r.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt >= r.maxRetries {
			return fmt.Errorf("%w: %w", domain.ErrTxConflict, err)
		}

		delay := retryDelay(attempt)
		logger.WithCtx(ctx).Debug().Err(err).Int("attempt", attempt+1).Dur("retry_in", delay).Msg("tx conflict; retrying")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Repository) runTx(ctx context.Context, fn func(tx domain.ViewTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}

	defer func() {
		// Safety: in case fn panics, rollback to avoid leaked tx.
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
	}()

	if err := fn(&viewTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// isRetryable reports whether err is a serialization failure (40001) or a
// deadlock (40P01).
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// retryDelay: 10ms doubling per attempt, capped at 200ms, +/-10% jitter.
func retryDelay(attempt int) time.Duration {
	d := 10 * time.Millisecond << attempt
	if attempt > 8 || d > 200*time.Millisecond {
		d = 200 * time.Millisecond
	}
	j := time.Duration(rand.Int63n(int64(d/5)+1)) - d/10
	return d + j
}

// ---- reads (no cross-call consistency) ----

func (r *Repository) GetSubject(ctx context.Context, subjectID string) (domain.SubjectProfile, error) {
	p := domain.SubjectProfile{ID: subjectID}
	err := r.pool.QueryRow(ctx, `
		SELECT total_views, last_viewed_at
		FROM profiles
		WHERE id = $1
	`, subjectID).Scan(&p.TotalViews, &p.LastViewedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SubjectProfile{}, domain.ErrSubjectNotFound
	}
	if err != nil {
		return domain.SubjectProfile{}, err
	}
	return p, nil
}

func (r *Repository) EnsureSubject(ctx context.Context, subjectID string) error {
	return ensureSubject(ctx, r.pool, subjectID)
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func ensureSubject(ctx context.Context, db execer, subjectID string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO profiles (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, subjectID)
	return err
}

func (r *Repository) GetRateLimit(ctx context.Context, subjectID, originAddress string) (domain.RateLimitRecord, error) {
	rec := domain.RateLimitRecord{SubjectID: subjectID, OriginAddress: originAddress}
	err := r.pool.QueryRow(ctx, `
		SELECT window_start, view_count
		FROM rate_limit_records
		WHERE subject_id = $1 AND origin_address = $2
	`, subjectID, originAddress).Scan(&rec.WindowStart, &rec.ViewCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RateLimitRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RateLimitRecord{}, err
	}
	return rec, nil
}

func (r *Repository) DeleteExpiredRateLimits(ctx context.Context, windowStartBefore time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rate_limit_records WHERE window_start < $1`, windowStartBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) HasSessionViewSince(ctx context.Context, subjectID, sessionID string, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM view_events
			WHERE subject_id = $1 AND session_id = $2 AND ts > $3
		)
	`, subjectID, sessionID, since).Scan(&exists)
	return exists, err
}

func (r *Repository) GetDaily(ctx context.Context, subjectID string, day time.Time) (domain.DailyViewAggregate, error) {
	agg := domain.DailyViewAggregate{SubjectID: subjectID, Day: domain.DayStart(day)}
	err := r.pool.QueryRow(ctx, `
		SELECT view_count, last_view_at
		FROM daily_view_aggregates
		WHERE subject_id = $1 AND view_date = $2::date
	`, subjectID, domain.DateKey(day)).Scan(&agg.ViewCount, &agg.LastViewAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DailyViewAggregate{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DailyViewAggregate{}, err
	}
	return agg, nil
}

func (r *Repository) SumDailySince(ctx context.Context, subjectID string, fromDay time.Time) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(view_count), 0)::bigint
		FROM daily_view_aggregates
		WHERE subject_id = $1 AND view_date >= $2::date
	`, subjectID, domain.DateKey(fromDay)).Scan(&sum)
	return sum, err
}

func (r *Repository) CountEvents(ctx context.Context, subjectID string) (int64, error) {
	return countEvents(ctx, r.pool, subjectID)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func countEvents(ctx context.Context, db queryRower, subjectID string) (int64, error) {
	var n int64
	err := db.QueryRow(ctx, `SELECT count(*) FROM view_events WHERE subject_id = $1`, subjectID).Scan(&n)
	return n, err
}

// CountUniqueViewers counts distinct viewers, falling back to the session for anonymous views.
func (r *Repository) CountUniqueViewers(ctx context.Context, subjectID string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT count(DISTINCT COALESCE('u:' || NULLIF(viewer_id, ''), 's:' || session_id))
		FROM view_events
		WHERE subject_id = $1
	`, subjectID).Scan(&n)
	return n, err
}

func (r *Repository) ListRecentlyViewedSubjects(ctx context.Context, since time.Time, afterID string, limit int) ([]string, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id
		FROM profiles
		WHERE last_viewed_at >= $1
		  AND id > $2
		ORDER BY id
		LIMIT $3
	`, since, afterID, lim)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
