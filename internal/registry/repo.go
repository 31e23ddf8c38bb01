package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Student is a registered student. Embedding is nil when no reference
// photo was ever captured successfully.
type Student struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	Name        string    `json:"name"`
	ClassName   string    `json:"class_name"`
	HasPhoto    bool      `json:"has_photo"`
	CourseCount int       `json:"course_count"`
	CreatedAt   time.Time `json:"-"`

	Embedding []float32 `json:"-"`
}

// GalleryEntry is a student reference embedding row.
type GalleryEntry struct {
	StudentID string
	Embedding []float32
}

// Repository persists students and their reference embeddings in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns a student with embedding, or nil when absent.
func (r *Repository) Get(ctx context.Context, studentID string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT s.id, s.student_id, s.name, s.class_name, s.created_at
		FROM students s WHERE s.student_id = $1
	`, studentID)
	var st Student
	if err := row.Scan(&st.ID, &st.StudentID, &st.Name, &st.ClassName, &st.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var emb pgvector.Vector
	err := r.db.QueryRowContext(ctx, `
		SELECT embedding FROM face_embeddings WHERE student_id = $1
	`, studentID).Scan(&emb)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// no reference photo
	case err != nil:
		return nil, err
	default:
		st.Embedding = emb.Slice()
		st.HasPhoto = true
	}
	return &st, nil
}

// Upsert writes a student record and, when an embedding is present,
// replaces the reference embedding in the same transaction. Either both
// writes land or neither does.
func (r *Repository) Upsert(ctx context.Context, st Student) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO students (id, student_id, name, class_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id) DO UPDATE SET
			name = EXCLUDED.name,
			class_name = EXCLUDED.class_name
	`, st.ID, st.StudentID, st.Name, st.ClassName)
	if err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}

	if len(st.Embedding) > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO face_embeddings (student_id, embedding)
			VALUES ($1, $2)
			ON CONFLICT (student_id) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				updated_at = NOW()
		`, st.StudentID, pgvector.NewVector(st.Embedding))
		if err != nil {
			return fmt.Errorf("upsert embedding: %w", err)
		}
	}

	return tx.Commit()
}

// Delete removes a student; enrollments and the embedding cascade away.
// Returns false when no such student existed.
func (r *Repository) Delete(ctx context.Context, studentID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE student_id = $1`, studentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// List returns student summaries in insertion order with enrollment counts.
func (r *Repository) List(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.student_id, s.name, s.class_name, s.created_at,
		       EXISTS (SELECT 1 FROM face_embeddings fe WHERE fe.student_id = s.student_id) AS has_photo,
		       (SELECT COUNT(*) FROM student_courses sc WHERE sc.student_id = s.student_id) AS course_count
		FROM students s
		ORDER BY s.created_at, s.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.StudentID, &st.Name, &st.ClassName, &st.CreatedAt, &st.HasPhoto, &st.CourseCount); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Gallery returns every stored reference embedding.
func (r *Repository) Gallery(ctx context.Context) ([]GalleryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT student_id, embedding FROM face_embeddings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GalleryEntry
	for rows.Next() {
		var id string
		var emb pgvector.Vector
		if err := rows.Scan(&id, &emb); err != nil {
			return nil, err
		}
		out = append(out, GalleryEntry{StudentID: id, Embedding: emb.Slice()})
	}
	return out, rows.Err()
}
