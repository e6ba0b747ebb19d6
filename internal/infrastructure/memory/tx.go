package memory

import (
	"context"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	"github.com/google/uuid"
)

// WithinTx holds the store's write lock for the whole of fn, so transactions never
// conflict here. Writes are staged on a txState and applied only after fn and the
// commit step succeed.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.ViewTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txState{
		store:    s,
		subjects: make(map[string]domain.SubjectProfile),
		daily:    make(map[dailyKey]domain.DailyViewAggregate),
		limits:   make(map[limitKey]domain.RateLimitRecord),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.stepFault(StepCommit); err != nil {
		return err
	}
	tx.apply()
	return nil
}

type txState struct {
	store *Store

	subjects map[string]domain.SubjectProfile
	events   []domain.ViewEvent
	daily    map[dailyKey]domain.DailyViewAggregate
	limits   map[limitKey]domain.RateLimitRecord
	outbox   []domain.OutboxMessage
}

func (t *txState) subject(id string) (domain.SubjectProfile, bool) {
	if p, ok := t.subjects[id]; ok {
		return p, true
	}
	p, ok := t.store.subjects[id]
	return p, ok
}

func (t *txState) LockSubject(ctx context.Context, subjectID string) (domain.SubjectProfile, error) {
	if err := t.store.stepFault(StepLockSubject); err != nil {
		return domain.SubjectProfile{}, err
	}
	p, ok := t.subject(subjectID)
	if !ok {
		return domain.SubjectProfile{}, domain.ErrSubjectNotFound
	}
	return p, nil
}

func (t *txState) IncrementSubject(ctx context.Context, subjectID string, at time.Time) (int64, error) {
	if err := t.store.stepFault(StepIncrementSubject); err != nil {
		return 0, err
	}
	p, ok := t.subject(subjectID)
	if !ok {
		return 0, domain.ErrSubjectNotFound
	}
	p.TotalViews++
	ts := at
	p.LastViewedAt = &ts
	t.subjects[subjectID] = p
	return p.TotalViews, nil
}

func (t *txState) InsertEvent(ctx context.Context, e *domain.ViewEvent) error {
	if err := t.store.stepFault(StepInsertEvent); err != nil {
		return err
	}
	e.ID = uuid.New()
	t.events = append(t.events, *e)
	return nil
}

func (t *txState) UpsertDaily(ctx context.Context, subjectID string, day, at time.Time) error {
	if err := t.store.stepFault(StepUpsertDaily); err != nil {
		return err
	}
	k := dailyKey{subjectID, domain.DayStart(day)}
	agg, ok := t.daily[k]
	if !ok {
		agg, ok = t.store.daily[k]
	}
	if !ok {
		agg = domain.DailyViewAggregate{SubjectID: subjectID, Day: k.day}
	}
	agg.ViewCount++
	agg.LastViewAt = at
	t.daily[k] = agg
	return nil
}

func (t *txState) UpsertRateLimit(ctx context.Context, subjectID, originAddress string, now time.Time, window time.Duration) error {
	if err := t.store.stepFault(StepUpsertRateLimit); err != nil {
		return err
	}
	k := limitKey{subjectID, originAddress}
	rec, ok := t.limits[k]
	if !ok {
		rec, ok = t.store.limits[k]
	}
	if !ok || now.Sub(rec.WindowStart) > window {
		rec = domain.RateLimitRecord{SubjectID: subjectID, OriginAddress: originAddress, WindowStart: now, ViewCount: 1}
	} else {
		rec.ViewCount++
	}
	t.limits[k] = rec
	return nil
}

func (t *txState) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	if err := t.store.stepFault(StepEnqueueOutbox); err != nil {
		return err
	}
	t.outbox = append(t.outbox, msg)
	return nil
}

func (t *txState) CountEvents(ctx context.Context, subjectID string) (int64, error) {
	n := int64(len(t.store.events[subjectID]))
	for _, e := range t.events {
		if e.SubjectID == subjectID {
			n++
		}
	}
	return n, nil
}

func (t *txState) SetTotalViews(ctx context.Context, subjectID string, total int64) error {
	if err := t.store.stepFault(StepSetTotalViews); err != nil {
		return err
	}
	p, ok := t.subject(subjectID)
	if !ok {
		return domain.ErrSubjectNotFound
	}
	p.TotalViews = total
	t.subjects[subjectID] = p
	return nil
}

func (t *txState) ResetSubject(ctx context.Context, subjectID string) error {
	p, ok := t.subject(subjectID)
	if !ok {
		return domain.ErrSubjectNotFound
	}
	p.TotalViews = 0
	p.LastViewedAt = nil
	t.subjects[subjectID] = p
	return nil
}

func (t *txState) apply() {
	s := t.store
	for id, p := range t.subjects {
		s.subjects[id] = p
	}
	for _, e := range t.events {
		s.events[e.SubjectID] = append(s.events[e.SubjectID], e)
	}
	for k, agg := range t.daily {
		s.daily[k] = agg
	}
	for k, rec := range t.limits {
		s.limits[k] = rec
	}
	s.outbox = append(s.outbox, t.outbox...)
}
