// Package memory provides in-process implementations of the repositories.
// They back the tests and the single-binary development mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mentorlink/study-agent/internal/domain/job"
	"github.com/mentorlink/study-agent/internal/domain/shared"
)

// JobRepository is an in-memory job.Repository.
type JobRepository struct {
	mu      sync.Mutex
	records map[string]*job.Record
	seq     map[string]int64
	next    int64
}

// NewJobRepository creates an empty repository.
func NewJobRepository() *JobRepository {
	return &JobRepository{
		records: make(map[string]*job.Record),
		seq:     make(map[string]int64),
	}
}

var _ job.Repository = (*JobRepository)(nil)

// Create implements job.Repository.
func (r *JobRepository) Create(_ context.Context, record *job.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.insertLocked(record)
}

// CreateUnlessRecent implements job.Repository.
func (r *JobRepository) CreateUnlessRecent(_ context.Context, record *job.Record, f job.RecentFilter) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.existsLocked(f) {
		return false, nil
	}
	if err := r.insertLocked(record); err != nil {
		return false, err
	}
	return true, nil
}

func (r *JobRepository) insertLocked(record *job.Record) error {
	if _, ok := r.records[record.ID]; ok {
		return shared.ErrAlreadyExists
	}
	r.next++
	r.seq[record.ID] = r.next
	r.records[record.ID] = cloneJob(record)
	return nil
}

// FindByID implements job.Repository.
func (r *JobRepository) FindByID(_ context.Context, id string) (*job.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, shared.ErrJobNotFound
	}
	return cloneJob(rec), nil
}

// ExistsRecent implements job.Repository.
func (r *JobRepository) ExistsRecent(_ context.Context, f job.RecentFilter) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.existsLocked(f), nil
}

func (r *JobRepository) existsLocked(f job.RecentFilter) bool {
	for _, rec := range r.records {
		if rec.UserID != f.UserID || rec.Type != f.Type || rec.ID == f.ExcludeID {
			continue
		}
		if rec.Forced && !f.IncludeForced {
			continue
		}
		if !f.Since.IsZero() && rec.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Before.IsZero() && !rec.CreatedAt.Before(f.Before) {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, rec.Status) {
			continue
		}
		return true
	}
	return false
}

// LeaseNext implements job.Repository.
func (r *JobRepository) LeaseNext(_ context.Context, now time.Time) (*job.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *job.Record
	for _, rec := range r.records {
		if !rec.Status.IsLeasable() {
			continue
		}
		if best == nil || r.before(rec, best) {
			best = rec
		}
	}
	if best == nil {
		return nil, shared.ErrNoJobAvailable
	}
	if err := best.Start(now); err != nil {
		return nil, err
	}
	return cloneJob(best), nil
}

// before orders by priority desc, then creation time, then insertion order.
func (r *JobRepository) before(a, b *job.Record) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return r.seq[a.ID] < r.seq[b.ID]
}

// Update implements job.Repository.
func (r *JobRepository) Update(_ context.Context, record *job.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[record.ID]; !ok {
		return shared.ErrJobNotFound
	}
	r.records[record.ID] = cloneJob(record)
	return nil
}

// ListByCreatedRange implements job.Repository.
func (r *JobRepository) ListByCreatedRange(_ context.Context, from, to time.Time) ([]*job.Record, error) {
	return r.filter(func(rec *job.Record) bool {
		return !rec.CreatedAt.Before(from) && rec.CreatedAt.Before(to)
	}), nil
}

// RecentForUser implements job.Repository.
func (r *JobRepository) RecentForUser(_ context.Context, userID string, since time.Time) ([]*job.Record, error) {
	out := r.filter(func(rec *job.Record) bool {
		return rec.UserID == userID && !rec.CreatedAt.Before(since)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// LastCreatedAt implements job.Repository.
func (r *JobRepository) LastCreatedAt(_ context.Context, userID string) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var last time.Time
	found := false
	for _, rec := range r.records {
		if rec.UserID == userID && (!found || rec.CreatedAt.After(last)) {
			last, found = rec.CreatedAt, true
		}
	}
	return last, found, nil
}

// All returns every record ordered by insertion. Used by tests.
func (r *JobRepository) All() []*job.Record {
	return r.filter(func(*job.Record) bool { return true })
}

func (r *JobRepository) filter(keep func(*job.Record) bool) []*job.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*job.Record, 0)
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, cloneJob(rec))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return r.seq[out[i].ID] < r.seq[out[j].ID] })
	return out
}

func containsStatus(list []job.Status, s job.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func cloneJob(r *job.Record) *job.Record {
	c := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
