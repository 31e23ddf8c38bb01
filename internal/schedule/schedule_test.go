package schedule

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"08:00", 480, false},
		{"00:00", 0, false},
		{"23:59", 1439, false},
		{"09:30:15", 570, false},
		{"24:00", 0, true},
		{"08:60", 0, true},
		{"eight", 0, true},
		{"", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseClock(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestFormatClock(t *testing.T) {
	require.Equal(t, "08:00", FormatClock(480))
	require.Equal(t, "00:05", FormatClock(5))
	require.Equal(t, "23:59", FormatClock(1439))
}

// 2026-08-24 is a Monday.
func mondayAt(hour, min int) time.Time {
	return time.Date(2026, 8, 24, hour, min, 0, 0, time.UTC)
}

func TestCourseActiveAt(t *testing.T) {
	c := Course{Weekday: "Monday", StartMin: 480, EndMin: 540} // 08:00-09:00

	require.True(t, c.ActiveAt(mondayAt(8, 0)), "window start is inclusive")
	require.True(t, c.ActiveAt(mondayAt(8, 30)))
	require.False(t, c.ActiveAt(mondayAt(9, 0)), "window end is exclusive")
	require.False(t, c.ActiveAt(mondayAt(10, 0)))
	require.False(t, c.ActiveAt(mondayAt(7, 59)))

	tuesday := mondayAt(8, 30).AddDate(0, 0, 1)
	require.False(t, c.ActiveAt(tuesday), "wrong weekday")
}

func TestCourseEndedBy(t *testing.T) {
	c := Course{Weekday: "Monday", StartMin: 480, EndMin: 540}
	require.False(t, c.EndedBy(mondayAt(8, 59)))
	require.True(t, c.EndedBy(mondayAt(9, 0)))
	require.False(t, c.EndedBy(mondayAt(9, 0).AddDate(0, 0, 1)), "other day")
}

func newScheduleMock(t *testing.T) (*Service, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewService(NewRepository(db)), mock, func() { db.Close() }
}

func TestCreateCourse(t *testing.T) {
	svc, mock, cleanup := newScheduleMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO courses")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c, err := svc.Create(context.Background(), "Algebra", "Monday", "08:00", "09:00")
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)
	require.Equal(t, 480, c.StartMin)
	require.Equal(t, 540, c.EndMin)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCourseInvalidRange(t *testing.T) {
	svc, _, cleanup := newScheduleMock(t)
	defer cleanup()

	_, err := svc.Create(context.Background(), "Algebra", "Monday", "09:00", "09:00")
	require.ErrorIs(t, err, ErrInvalidTimeRange)

	_, err = svc.Create(context.Background(), "Algebra", "Monday", "10:00", "09:00")
	require.ErrorIs(t, err, ErrInvalidTimeRange)

	_, err = svc.Create(context.Background(), "Algebra", "Moonday", "08:00", "09:00")
	require.ErrorIs(t, err, ErrInvalidWeekday)
}

func TestRemoveCourseNotFound(t *testing.T) {
	svc, mock, cleanup := newScheduleMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM courses")).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.ErrorIs(t, svc.Remove(context.Background(), "ghost"), ErrNotFound)
}

func TestActiveSessionsAt(t *testing.T) {
	svc, mock, cleanup := newScheduleMock(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "course_name", "weekday", "start_min", "end_min", "created_at"}).
		AddRow("c1", "Algebra", "Monday", 480, 540, time.Now()).
		AddRow("c2", "History", "Monday", 600, 660, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM courses WHERE weekday = $1")).
		WithArgs("Monday").
		WillReturnRows(rows)

	active, err := svc.ActiveSessionsAt(context.Background(), mondayAt(8, 30))
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "Algebra", active[0].Name)
}
