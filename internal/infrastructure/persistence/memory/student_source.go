package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/student"
)

// StudentSource is an in-memory student.Source.
type StudentSource struct {
	mu        sync.RWMutex
	snapshots map[string]*student.Snapshot
	err       error
}

// NewStudentSource creates a source seeded with snapshots.
func NewStudentSource(snapshots ...*student.Snapshot) *StudentSource {
	s := &StudentSource{snapshots: make(map[string]*student.Snapshot)}
	for _, snap := range snapshots {
		s.Put(snap)
	}
	return s
}

var _ student.Source = (*StudentSource)(nil)

// Put adds or replaces a snapshot.
func (s *StudentSource) Put(snap *student.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.UserID] = snap
}

// FailWith makes every call return err until reset with nil.
func (s *StudentSource) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Snapshot implements student.Source.
func (s *StudentSource) Snapshot(_ context.Context, userID string) (*student.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}
	snap, ok := s.snapshots[userID]
	if !ok {
		return nil, shared.ErrStudentNotFound
	}
	c := *snap
	return &c, nil
}

// ActiveStudents implements student.Source.
func (s *StudentSource) ActiveStudents(_ context.Context) ([]student.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}
	out := make([]student.Summary, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, student.Summary{UserID: snap.UserID, Name: snap.Name, MentorID: snap.MentorID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
