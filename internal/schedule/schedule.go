// Package schedule owns course definitions and resolves which sessions are
// active at a point in time.
package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidTimeRange means start >= end.
	ErrInvalidTimeRange = errors.New("course start must be before end")
	// ErrInvalidWeekday means the weekday is not an English day name.
	ErrInvalidWeekday = errors.New("invalid weekday")
	// ErrBadClock means a time string did not parse as "HH:MM".
	ErrBadClock = errors.New("invalid clock time")
	// ErrNotFound means no such course.
	ErrNotFound = errors.New("course not found")
)

// Service coordinates course CRUD and session resolution.
type Service struct {
	repo *Repository
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Create validates and persists a course. Times are "HH:MM" strings.
func (s *Service) Create(ctx context.Context, name, weekday, start, end string) (Course, error) {
	if !ValidWeekday(weekday) {
		return Course{}, ErrInvalidWeekday
	}
	startMin, err := ParseClock(start)
	if err != nil {
		return Course{}, err
	}
	endMin, err := ParseClock(end)
	if err != nil {
		return Course{}, err
	}
	if startMin >= endMin {
		return Course{}, ErrInvalidTimeRange
	}

	c := Course{
		ID:       uuid.NewString(),
		Name:     name,
		Weekday:  weekday,
		StartMin: startMin,
		EndMin:   endMin,
	}
	if err := s.repo.Insert(ctx, c); err != nil {
		return Course{}, err
	}
	return c, nil
}

// Remove deletes a course.
func (s *Service) Remove(ctx context.Context, id string) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

// List returns all courses.
func (s *Service) List(ctx context.Context) ([]Course, error) {
	return s.repo.List(ctx)
}

// ActiveSessionsAt returns the courses in session at t.
func (s *Service) ActiveSessionsAt(ctx context.Context, t time.Time) ([]Course, error) {
	courses, err := s.repo.ListByWeekday(ctx, t.Weekday().String())
	if err != nil {
		return nil, err
	}
	var active []Course
	for _, c := range courses {
		if c.ActiveAt(t) {
			active = append(active, c)
		}
	}
	return active, nil
}
