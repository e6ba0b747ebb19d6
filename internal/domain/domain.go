package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Reason is the structured outcome of a RecordView call.
// Rejections are expected and frequent; they are values, not errors.
type Reason string

const (
	ReasonRecorded        Reason = "recorded"
	ReasonSelfView        Reason = "self_view"
	ReasonRateLimited     Reason = "rate_limited"
	ReasonDuplicate       Reason = "duplicate"
	ReasonSubjectNotFound Reason = "subject_not_found"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSubjectNotFound = errors.New("subject not found")
	ErrNotFound        = errors.New("not found")

	// ErrTransient marks failures a caller may retry or drop: store timeouts and
	// exhausted conflict retries. No partial write is observable behind it.
	ErrTransient  = errors.New("transient failure")
	ErrTxConflict = errors.New("transaction conflict retries exhausted")

	ErrCacheMiss = errors.New("cache miss")
)

// ViewEvent is append-only. It is never mutated once written.
type ViewEvent struct {
	ID              uuid.UUID
	SubjectID       string
	ViewerID        *string
	Timestamp       time.Time
	OriginAddress   string
	ClientSignature string
	SessionID       string
}

type DailyViewAggregate struct {
	SubjectID  string
	Day        time.Time // UTC midnight
	ViewCount  int64
	LastViewAt time.Time
}

type RateLimitRecord struct {
	SubjectID     string
	OriginAddress string
	WindowStart   time.Time
	ViewCount     int
}

// SubjectProfile carries the two view fields of the externally owned profile record.
type SubjectProfile struct {
	ID           string
	TotalViews   int64
	LastViewedAt *time.Time
}

type ProfileViewStats struct {
	TotalViews  int64      `json:"total_views"`
	UniqueViews int64      `json:"unique_views"`
	TodayViews  int64      `json:"today_views"`
	WeekViews   int64      `json:"week_views"`
	MonthViews  int64      `json:"month_views"`
	LastViewAt  *time.Time `json:"last_view_at,omitempty"`
}

type RecordViewInput struct {
	SubjectID       string
	ViewerID        *string
	OriginAddress   string
	ClientSignature string
	SessionID       *string
}

type RecordResult struct {
	Recorded   bool   `json:"recorded"`
	Reason     Reason `json:"reason"`
	TotalViews int64  `json:"total_views"`
}

type RepairReport struct {
	SubjectID     string `json:"subject_id"`
	OriginalCount int64  `json:"original_count"`
	ActualCount   int64  `json:"actual_count"`
	Repaired      bool   `json:"repaired"`
}

// OutboxMessage is a domain event queued in the same transaction as the write it describes.
type OutboxMessage struct {
	MessageID  string
	TraceID    string
	RoutingKey string
	Payload    []byte
}

// DayStart returns the UTC calendar day containing t.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DateKey is the textual form of DayStart, e.g. "2026-03-01".
func DateKey(t time.Time) string {
	return DayStart(t).Format(time.DateOnly)
}

// ViewStore is the persistent store behind the view tracking core.
// Reads outside WithinTx carry no cross-call consistency guarantee.
type ViewStore interface {
	// WithinTx runs fn atomically. Conflicts between concurrent writers are retried
	// inside the store up to a bounded count, then surfaced as ErrTxConflict.
	WithinTx(ctx context.Context, fn func(tx ViewTx) error) error

	GetSubject(ctx context.Context, subjectID string) (SubjectProfile, error)
	EnsureSubject(ctx context.Context, subjectID string) error

	// GetRateLimit returns ErrNotFound when no record exists for the key.
	GetRateLimit(ctx context.Context, subjectID, originAddress string) (RateLimitRecord, error)
	DeleteExpiredRateLimits(ctx context.Context, windowStartBefore time.Time) (int64, error)

	HasSessionViewSince(ctx context.Context, subjectID, sessionID string, since time.Time) (bool, error)

	// GetDaily returns ErrNotFound when the day has no aggregate.
	GetDaily(ctx context.Context, subjectID string, day time.Time) (DailyViewAggregate, error)
	SumDailySince(ctx context.Context, subjectID string, fromDay time.Time) (int64, error)

	CountEvents(ctx context.Context, subjectID string) (int64, error)
	CountUniqueViewers(ctx context.Context, subjectID string) (int64, error)

	// ListRecentlyViewedSubjects pages subjects viewed at or after since in id order,
	// starting after afterID ("" for the first page).
	ListRecentlyViewedSubjects(ctx context.Context, since time.Time, afterID string, limit int) ([]string, error)
}

// ViewTx is the write surface available inside WithinTx. Callers lock the subject
// row first; the remaining rows are touched in declaration order.
type ViewTx interface {
	LockSubject(ctx context.Context, subjectID string) (SubjectProfile, error)
	IncrementSubject(ctx context.Context, subjectID string, at time.Time) (int64, error)
	InsertEvent(ctx context.Context, e *ViewEvent) error
	UpsertDaily(ctx context.Context, subjectID string, day, at time.Time) error
	// UpsertRateLimit opens a fresh window (count 1) when now-window_start exceeds window,
	// otherwise increments the count of the current window.
	UpsertRateLimit(ctx context.Context, subjectID, originAddress string, now time.Time, window time.Duration) error
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error

	CountEvents(ctx context.Context, subjectID string) (int64, error)
	SetTotalViews(ctx context.Context, subjectID string, total int64) error
	ResetSubject(ctx context.Context, subjectID string) error
}

// UniqueViewCache holds computed unique-viewer counts. Get returns ErrCacheMiss on miss.
type UniqueViewCache interface {
	Get(ctx context.Context, subjectID string) (int64, error)
	Set(ctx context.Context, subjectID string, n int64, ttl time.Duration) error
	Invalidate(ctx context.Context, subjectID string) error
}
