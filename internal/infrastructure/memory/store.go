package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	"github.com/google/uuid"
)

// Step names a write inside WithinTx, or the commit itself. Used for failure injection.
type Step string

const (
	StepLockSubject      Step = "lock_subject"
	StepIncrementSubject Step = "increment_subject"
	StepInsertEvent      Step = "insert_event"
	StepUpsertDaily      Step = "upsert_daily"
	StepUpsertRateLimit  Step = "upsert_rate_limit"
	StepEnqueueOutbox    Step = "enqueue_outbox"
	StepSetTotalViews    Step = "set_total_views"
	StepCommit           Step = "commit"
)

// Read names a non-transactional query. Used for failure injection.
type Read string

const (
	ReadGetSubject    Read = "get_subject"
	ReadGetRateLimit  Read = "get_rate_limit"
	ReadSessionView   Read = "session_view"
	ReadGetDaily      Read = "get_daily"
	ReadSumDaily      Read = "sum_daily"
	ReadCountEvents   Read = "count_events"
	ReadCountUnique   Read = "count_unique"
	ReadRecentSubject Read = "recent_subjects"
)

type dailyKey struct {
	subjectID string
	day       time.Time
}

type limitKey struct {
	subjectID string
	origin    string
}

// Store is a process-local domain.ViewStore. Transactions are serialized under one
// mutex and their writes are staged until commit, so a failed fn leaves no trace.
type Store struct {
	mu       sync.RWMutex
	subjects map[string]domain.SubjectProfile
	events   map[string][]domain.ViewEvent
	daily    map[dailyKey]domain.DailyViewAggregate
	limits   map[limitKey]domain.RateLimitRecord
	outbox   []domain.OutboxMessage

	faultMu    sync.Mutex
	stepFaults map[Step]error
	readFaults map[Read]error
}

var _ domain.ViewStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		subjects:   make(map[string]domain.SubjectProfile),
		events:     make(map[string][]domain.ViewEvent),
		daily:      make(map[dailyKey]domain.DailyViewAggregate),
		limits:     make(map[limitKey]domain.RateLimitRecord),
		stepFaults: make(map[Step]error),
		readFaults: make(map[Read]error),
	}
}

// FailNext makes the next transactional write at step fail with err.
func (s *Store) FailNext(step Step, err error) {
	s.faultMu.Lock()
	s.stepFaults[step] = err
	s.faultMu.Unlock()
}

// FailReads makes every read of kind r fail with err until cleared with a nil err.
func (s *Store) FailReads(r Read, err error) {
	s.faultMu.Lock()
	if err == nil {
		delete(s.readFaults, r)
	} else {
		s.readFaults[r] = err
	}
	s.faultMu.Unlock()
}

func (s *Store) stepFault(step Step) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	err, ok := s.stepFaults[step]
	if ok {
		delete(s.stepFaults, step)
	}
	return err
}

func (s *Store) readFault(r Read) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	return s.readFaults[r]
}

// ---- seeding and inspection helpers (dev + tests) ----

// PutSubject overwrites the subject row directly, bypassing the recorder.
func (s *Store) PutSubject(p domain.SubjectProfile) {
	s.mu.Lock()
	s.subjects[p.ID] = p
	s.mu.Unlock()
}

// AppendEvents writes events straight into the log, bypassing counters.
func (s *Store) AppendEvents(evs ...domain.ViewEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range evs {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		s.events[e.SubjectID] = append(s.events[e.SubjectID], e)
	}
}

func (s *Store) Events(subjectID string) []domain.ViewEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ViewEvent, len(s.events[subjectID]))
	copy(out, s.events[subjectID])
	return out
}

func (s *Store) Outbox() []domain.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OutboxMessage, len(s.outbox))
	copy(out, s.outbox)
	return out
}

// ---- domain.ViewStore reads ----

func (s *Store) GetSubject(ctx context.Context, subjectID string) (domain.SubjectProfile, error) {
	if err := s.readFault(ReadGetSubject); err != nil {
		return domain.SubjectProfile{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.subjects[subjectID]
	if !ok {
		return domain.SubjectProfile{}, domain.ErrSubjectNotFound
	}
	return p, nil
}

func (s *Store) EnsureSubject(ctx context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects[subjectID]; !ok {
		s.subjects[subjectID] = domain.SubjectProfile{ID: subjectID}
	}
	return nil
}

func (s *Store) GetRateLimit(ctx context.Context, subjectID, originAddress string) (domain.RateLimitRecord, error) {
	if err := s.readFault(ReadGetRateLimit); err != nil {
		return domain.RateLimitRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.limits[limitKey{subjectID, originAddress}]
	if !ok {
		return domain.RateLimitRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *Store) DeleteExpiredRateLimits(ctx context.Context, windowStartBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.limits {
		if rec.WindowStart.Before(windowStartBefore) {
			delete(s.limits, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) HasSessionViewSince(ctx context.Context, subjectID, sessionID string, since time.Time) (bool, error) {
	if err := s.readFault(ReadSessionView); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events[subjectID] {
		if e.SessionID == sessionID && e.Timestamp.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetDaily(ctx context.Context, subjectID string, day time.Time) (domain.DailyViewAggregate, error) {
	if err := s.readFault(ReadGetDaily); err != nil {
		return domain.DailyViewAggregate{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.daily[dailyKey{subjectID, domain.DayStart(day)}]
	if !ok {
		return domain.DailyViewAggregate{}, domain.ErrNotFound
	}
	return agg, nil
}

func (s *Store) SumDailySince(ctx context.Context, subjectID string, fromDay time.Time) (int64, error) {
	if err := s.readFault(ReadSumDaily); err != nil {
		return 0, err
	}
	from := domain.DayStart(fromDay)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for k, agg := range s.daily {
		if k.subjectID == subjectID && !k.day.Before(from) {
			sum += agg.ViewCount
		}
	}
	return sum, nil
}

func (s *Store) CountEvents(ctx context.Context, subjectID string) (int64, error) {
	if err := s.readFault(ReadCountEvents); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events[subjectID])), nil
}

func (s *Store) CountUniqueViewers(ctx context.Context, subjectID string) (int64, error) {
	if err := s.readFault(ReadCountUnique); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, e := range s.events[subjectID] {
		seen[uniqueKey(e)] = struct{}{}
	}
	return int64(len(seen)), nil
}

func (s *Store) ListRecentlyViewedSubjects(ctx context.Context, since time.Time, afterID string, limit int) ([]string, error) {
	if err := s.readFault(ReadRecentSubject); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, p := range s.subjects {
		if id > afterID && p.LastViewedAt != nil && !p.LastViewedAt.Before(since) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func uniqueKey(e domain.ViewEvent) string {
	if e.ViewerID != nil && *e.ViewerID != "" {
		return "u:" + *e.ViewerID
	}
	return "s:" + e.SessionID
}
