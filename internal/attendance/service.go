// Package attendance records recognition events against active course
// sessions. Each (student, course, date) cell moves through
// unmarked -> present|late|absent exactly once; a written cell is terminal.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"classattend/internal/schedule"
)

// Cell states. Late is the present state recorded after the grace period.
const (
	StatusPresent = "present"
	StatusLate    = "late"
	StatusAbsent  = "absent"
)

var (
	// ErrNoActiveSession means no enrolled course is in session now.
	ErrNoActiveSession = errors.New("no course session is active")
	// ErrAmbiguousSession means more than one enrolled course is in
	// session; recording against a guess is refused.
	ErrAmbiguousSession = errors.New("multiple course sessions are active")
	// ErrSessionClosed means the cell was already marked absent; a late
	// recognition cannot rewrite history.
	ErrSessionClosed = errors.New("session already closed as absent")
)

// Result is the outcome of a recognition event.
type Result struct {
	Record Record
	// Already is set when the cell had been marked present before this
	// event; the repeat recognition is a no-op success.
	Already bool
}

// Service coordinates attendance state transitions.
type Service struct {
	repo      *Repository
	lateAfter time.Duration
}

// NewService creates a service. lateAfter is the grace period after
// session start before a recognition is marked late.
func NewService(repo *Repository, lateAfter time.Duration) *Service {
	if lateAfter <= 0 {
		lateAfter = 10 * time.Minute
	}
	return &Service{repo: repo, lateAfter: lateAfter}
}

// RecordRecognition marks the student present for the single active
// session at now. Storage failures are retried once; domain failures are
// not.
func (s *Service) RecordRecognition(ctx context.Context, studentID string, now time.Time) (Result, error) {
	courses, err := s.repo.ListEnrolledCoursesOn(ctx, studentID, now.Weekday().String())
	if err != nil {
		return Result{}, err
	}

	var active []schedule.Course
	for _, c := range courses {
		if c.ActiveAt(now) {
			active = append(active, c)
		}
	}
	if len(active) == 0 {
		return Result{}, ErrNoActiveSession
	}
	if len(active) > 1 {
		return Result{}, ErrAmbiguousSession
	}
	course := active[0]

	// Late only when more than the grace period has passed since start.
	status := StatusPresent
	if schedule.MinutesOfDay(now) > course.StartMin+int(s.lateAfter.Minutes()) {
		status = StatusLate
	}

	rec := Record{
		ID:        uuid.NewString(),
		StudentID: studentID,
		CourseID:  course.ID,
		Date:      dateOf(now),
		Time:      now.Format("15:04:05"),
		Status:    status,
	}

	inserted, err := s.repo.InsertIfUnmarked(ctx, rec)
	if err != nil {
		// one retry for transient storage trouble
		inserted, err = s.repo.InsertIfUnmarked(ctx, rec)
		if err != nil {
			return Result{}, fmt.Errorf("record attendance: %w", err)
		}
	}
	if inserted {
		return Result{Record: rec}, nil
	}

	// The cell was already terminal; find out how it was marked.
	existing, err := s.repo.GetCell(ctx, studentID, course.ID, rec.Date)
	if err != nil {
		return Result{}, err
	}
	if existing == nil {
		// Lost a race with a concurrent delete of history; treat as recorded.
		return Result{Record: rec, Already: true}, nil
	}
	if existing.Status == StatusAbsent {
		return Result{}, ErrSessionClosed
	}
	return Result{Record: *existing, Already: true}, nil
}

// SweepAbsences marks enrolled-but-unseen students absent for every
// session that has ended by now. Running it twice adds nothing the second
// time.
func (s *Service) SweepAbsences(ctx context.Context, now time.Time) (int64, error) {
	added, err := s.repo.InsertAbsences(ctx, dateOf(now), now.Weekday().String(),
		schedule.MinutesOfDay(now), now.Format("15:04:05"))
	if err != nil {
		added, err = s.repo.InsertAbsences(ctx, dateOf(now), now.Weekday().String(),
			schedule.MinutesOfDay(now), now.Format("15:04:05"))
		if err != nil {
			return 0, fmt.Errorf("sweep absences: %w", err)
		}
	}
	return added, nil
}

// List returns the joined attendance history, newest first.
func (s *Service) List(ctx context.Context) ([]JoinedRecord, error) {
	return s.repo.List(ctx)
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
