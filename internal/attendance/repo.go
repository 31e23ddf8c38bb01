package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"classattend/internal/schedule"
)

// Record is one attendance cell: (student, course, date) is unique.
type Record struct {
	ID        string
	StudentID string
	CourseID  string
	Date      time.Time
	Time      string // "HH:MM:SS"
	Status    string
	CreatedAt time.Time
}

// JoinedRecord is a listing row with student and course context. Student
// and course fields are blank when the parent was deleted; the history row
// itself is retained.
type JoinedRecord struct {
	StudentID  string `json:"student_id"`
	Name       string `json:"name"`
	ClassName  string `json:"class_name"`
	CourseName string `json:"course_name"`
	RecordDate string `json:"record_date"`
	RecordTime string `json:"record_time"`
	Status     string `json:"status"`
}

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertIfUnmarked atomically writes the cell only when it is still
// unmarked. The unique (student, course, date) constraint makes two
// concurrent recognitions race safely: exactly one insert wins.
func (r *Repository) InsertIfUnmarked(ctx context.Context, rec Record) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, course_id, record_date, record_time, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, course_id, record_date) DO NOTHING
	`, rec.ID, rec.StudentID, rec.CourseID, rec.Date, rec.Time, rec.Status)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetCell returns the existing record for (student, course, date), or nil.
func (r *Repository) GetCell(ctx context.Context, studentID, courseID string, date time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, course_id, record_date, record_time, status, created_at
		FROM attendance_records
		WHERE student_id = $1 AND course_id = $2 AND record_date = $3
	`, studentID, courseID, date)
	var rec Record
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.CourseID, &rec.Date, &rec.Time, &rec.Status, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListEnrolledCoursesOn returns the courses a student is enrolled in for
// the given weekday.
func (r *Repository) ListEnrolledCoursesOn(ctx context.Context, studentID, weekday string) ([]schedule.Course, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.course_name, c.weekday, c.start_min, c.end_min, c.created_at
		FROM courses c
		JOIN student_courses sc ON c.id = sc.course_id
		WHERE sc.student_id = $1 AND c.weekday = $2
		ORDER BY c.start_min
	`, studentID, weekday)
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

// InsertAbsences marks every enrolled-but-unmarked student of today's
// already-ended sessions absent, in one statement. The cell constraint
// keeps it idempotent and safe against concurrent recognitions.
func (r *Repository) InsertAbsences(ctx context.Context, date time.Time, weekday string, nowMin int, timeOfDay string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, course_id, record_date, record_time, status)
		SELECT gen_random_uuid(), sc.student_id, c.id, $1, $2, $3
		FROM student_courses sc
		JOIN courses c ON c.id = sc.course_id
		WHERE c.weekday = $4 AND c.end_min <= $5
		ON CONFLICT (student_id, course_id, record_date) DO NOTHING
	`, date, timeOfDay, StatusAbsent, weekday, nowMin)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// List returns the newest attendance rows with student/course context.
func (r *Repository) List(ctx context.Context) ([]JoinedRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ar.student_id,
		       COALESCE(s.name, '') AS name,
		       COALESCE(s.class_name, '') AS class_name,
		       COALESCE(c.course_name, '') AS course_name,
		       TO_CHAR(ar.record_date, 'YYYY-MM-DD') AS record_date,
		       ar.record_time,
		       ar.status
		FROM attendance_records ar
		LEFT JOIN students s ON s.student_id = ar.student_id
		LEFT JOIN courses c ON c.id = ar.course_id
		ORDER BY ar.record_date DESC, ar.record_time DESC
		LIMIT 1000
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JoinedRecord
	for rows.Next() {
		var jr JoinedRecord
		if err := rows.Scan(&jr.StudentID, &jr.Name, &jr.ClassName, &jr.CourseName, &jr.RecordDate, &jr.RecordTime, &jr.Status); err != nil {
			return nil, err
		}
		out = append(out, jr)
	}
	return out, rows.Err()
}
