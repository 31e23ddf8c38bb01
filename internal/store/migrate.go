package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the schema on startup. Statements are idempotent so the
// function is safe to run on every boot.
//
// Embeddings live in their own table: a student without a reference photo
// simply has no row there, which keeps the vector column NOT NULL.
func Migrate(ctx context.Context, db *sql.DB) error {
	// pgvector; requires the extension to be installed on the server.
	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id          UUID PRIMARY KEY,
		student_id  TEXT UNIQUE NOT NULL,
		name        TEXT NOT NULL,
		class_name  TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS face_embeddings (
		student_id  TEXT PRIMARY KEY REFERENCES students(student_id) ON DELETE CASCADE,
		embedding   vector NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS courses (
		id          UUID PRIMARY KEY,
		course_name TEXT NOT NULL,
		weekday     TEXT NOT NULL,
		start_min   SMALLINT NOT NULL,
		end_min     SMALLINT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS student_courses (
		id          UUID PRIMARY KEY,
		student_id  TEXT NOT NULL REFERENCES students(student_id) ON DELETE CASCADE,
		course_id   UUID NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (student_id, course_id)
	);

	-- No FK on student_id/course_id: attendance history outlives deletions.
	CREATE TABLE IF NOT EXISTS attendance_records (
		id          UUID PRIMARY KEY,
		student_id  TEXT NOT NULL,
		course_id   UUID NOT NULL,
		record_date DATE NOT NULL,
		record_time TEXT NOT NULL,
		status      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (student_id, course_id, record_date)
	);

	CREATE INDEX IF NOT EXISTS idx_courses_weekday   ON courses(weekday);
	CREATE INDEX IF NOT EXISTS idx_attendance_date   ON attendance_records(record_date);
	CREATE INDEX IF NOT EXISTS idx_enrollment_course ON student_courses(course_id);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
