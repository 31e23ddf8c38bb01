// Package enrollment manages the student/course association.
package enrollment

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"classattend/internal/schedule"
)

var (
	// ErrAlreadyEnrolled means the (student, course) pair exists.
	ErrAlreadyEnrolled = errors.New("student already enrolled in course")
	// ErrNotFound means no such enrollment.
	ErrNotFound = errors.New("enrollment not found")
	// ErrUnknownStudentOrCourse means one side of the pair does not exist.
	ErrUnknownStudentOrCourse = errors.New("student or course does not exist")
)

// Postgres foreign_key_violation.
const fkViolation = "23503"

// Repository persists enrollments in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Assign enrolls a student in a course. The pair is unique.
func (r *Repository) Assign(ctx context.Context, studentID, courseID string) error {
	var existing string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM student_courses WHERE student_id = $1 AND course_id = $2
	`, studentID, courseID).Scan(&existing)
	switch {
	case err == nil:
		return ErrAlreadyEnrolled
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO student_courses (id, student_id, course_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_id, course_id) DO NOTHING
	`, uuid.NewString(), studentID, courseID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == fkViolation {
		return ErrUnknownStudentOrCourse
	}
	return err
}

// Remove deletes one enrollment.
func (r *Repository) Remove(ctx context.Context, studentID, courseID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM student_courses WHERE student_id = $1 AND course_id = $2
	`, studentID, courseID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCoursesByStudent returns the courses a student is enrolled in.
func (r *Repository) ListCoursesByStudent(ctx context.Context, studentID string) ([]schedule.Course, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.course_name, c.weekday, c.start_min, c.end_min, c.created_at
		FROM courses c
		JOIN student_courses sc ON c.id = sc.course_id
		WHERE sc.student_id = $1
		ORDER BY c.weekday, c.start_min
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Course
	for rows.Next() {
		var c schedule.Course
		if err := rows.Scan(&c.ID, &c.Name, &c.Weekday, &c.StartMin, &c.EndMin, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
