package schedule

import (
	"context"
	"database/sql"
	"time"
)

// Course is one timetabled course: a weekday plus a daily time window.
type Course struct {
	ID        string
	Name      string
	Weekday   string
	StartMin  int
	EndMin    int
	CreatedAt time.Time
}

// Repository persists courses in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new course.
func (r *Repository) Insert(ctx context.Context, c Course) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO courses (id, course_name, weekday, start_min, end_min)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.Name, c.Weekday, c.StartMin, c.EndMin)
	return err
}

// Delete removes a course; enrollments cascade away. Returns false when no
// such course existed.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// List returns every course in insertion order.
func (r *Repository) List(ctx context.Context) ([]Course, error) {
	return r.query(ctx, `
		SELECT id, course_name, weekday, start_min, end_min, created_at
		FROM courses ORDER BY created_at, id
	`)
}

// ListByWeekday returns the courses scheduled on the given day.
func (r *Repository) ListByWeekday(ctx context.Context, weekday string) ([]Course, error) {
	return r.query(ctx, `
		SELECT id, course_name, weekday, start_min, end_min, created_at
		FROM courses WHERE weekday = $1 ORDER BY start_min
	`, weekday)
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]Course, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Name, &c.Weekday, &c.StartMin, &c.EndMin, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
