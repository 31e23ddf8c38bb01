// Package registry is the single source of truth for students and their
// reference face embeddings. It keeps an in-memory gallery snapshot in
// lockstep with the database so the matcher always sees exactly what the
// registry currently reports.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"classattend/internal/encoder"
	"classattend/internal/matcher"
)

var (
	// ErrDuplicateID means the student id exists and overwrite was not requested.
	ErrDuplicateID = errors.New("student id already registered")
	// ErrNotFound means no such student.
	ErrNotFound = errors.New("student not found")
	// ErrInvalidInput covers missing required fields.
	ErrInvalidInput = errors.New("student id and name are required")
)

// RegisterInput is one registration request.
type RegisterInput struct {
	StudentID string
	Name      string
	ClassName string
	FaceImage string // data-URL encoded capture; empty registers without a photo
	Overwrite bool
}

// Service coordinates student registration and the matcher gallery.
type Service struct {
	repo *Repository
	enc  encoder.Encoder

	mu      sync.RWMutex
	gallery map[string][]float32
	gen     uint64
}

// NewService creates a service backed by a repository and an encoder.
func NewService(repo *Repository, enc encoder.Encoder) *Service {
	return &Service{
		repo:    repo,
		enc:     enc,
		gallery: make(map[string][]float32),
	}
}

// LoadSnapshot primes the in-memory gallery from storage. Called once at
// startup before any recognition traffic.
func (s *Service) LoadSnapshot(ctx context.Context) error {
	entries, err := s.repo.Gallery(ctx)
	if err != nil {
		return fmt.Errorf("load gallery: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gallery = make(map[string][]float32, len(entries))
	for _, e := range entries {
		s.gallery[e.StudentID] = e.Embedding
	}
	s.gen++
	return nil
}

// Register encodes the reference photo (when given) and stores the
// student. Fails with ErrDuplicateID unless overwrite is requested.
// Nothing is stored when encoding fails.
func (s *Service) Register(ctx context.Context, in RegisterInput) error {
	if in.StudentID == "" || in.Name == "" {
		return ErrInvalidInput
	}

	existing, err := s.repo.Get(ctx, in.StudentID)
	if err != nil {
		return err
	}
	if existing != nil && !in.Overwrite {
		return ErrDuplicateID
	}

	st := Student{StudentID: in.StudentID, Name: in.Name, ClassName: in.ClassName}
	if existing != nil {
		st.ID = existing.ID
	}

	if in.FaceImage != "" {
		raw, err := encoder.DecodeDataURL(in.FaceImage)
		if err != nil {
			return err
		}
		emb, err := s.enc.Encode(raw)
		if err != nil {
			return fmt.Errorf("encode reference photo: %w", err)
		}
		st.Embedding = emb
	}

	if err := s.repo.Upsert(ctx, st); err != nil {
		return err
	}

	if len(st.Embedding) > 0 {
		s.mu.Lock()
		s.gallery[st.StudentID] = st.Embedding
		s.gen++
		s.mu.Unlock()
	}
	return nil
}

// Remove deletes a student. Later Snapshot calls will never include them.
func (s *Service) Remove(ctx context.Context, studentID string) error {
	deleted, err := s.repo.Delete(ctx, studentID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	s.mu.Lock()
	delete(s.gallery, studentID)
	s.gen++
	s.mu.Unlock()
	return nil
}

// List returns student summaries in insertion order.
func (s *Service) List(ctx context.Context) ([]Student, error) {
	return s.repo.List(ctx)
}

// Get returns a full student record.
func (s *Service) Get(ctx context.Context, studentID string) (*Student, error) {
	st, err := s.repo.Get(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrNotFound
	}
	return st, nil
}

// Snapshot returns the current gallery as matcher candidates plus the
// generation counter. The slice is a copy; callers may hold it across the
// match without blocking registrations.
func (s *Service) Snapshot() ([]matcher.Candidate, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]matcher.Candidate, 0, len(s.gallery))
	for id, emb := range s.gallery {
		out = append(out, matcher.Candidate{StudentID: id, Embedding: emb})
	}
	return out, s.gen
}
