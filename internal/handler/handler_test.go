package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"classattend/internal/attendance"
	"classattend/internal/encoder"
	"classattend/internal/enrollment"
	"classattend/internal/matcher"
	"classattend/internal/queue"
	"classattend/internal/registry"
	"classattend/internal/schedule"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- stubs ---

type stubStudents struct {
	registerErr error
	removeErr   error
	students    []registry.Student
	gallery     []matcher.Candidate

	registered []registry.RegisterInput
}

func (s *stubStudents) Register(_ context.Context, in registry.RegisterInput) error {
	s.registered = append(s.registered, in)
	return s.registerErr
}
func (s *stubStudents) Remove(context.Context, string) error         { return s.removeErr }
func (s *stubStudents) List(context.Context) ([]registry.Student, error) {
	return s.students, nil
}
func (s *stubStudents) Snapshot() ([]matcher.Candidate, uint64) { return s.gallery, 1 }

type stubCourses struct {
	createErr error
	removeErr error
	courses   []schedule.Course
}

func (s *stubCourses) Create(_ context.Context, name, weekday, start, end string) (schedule.Course, error) {
	if s.createErr != nil {
		return schedule.Course{}, s.createErr
	}
	return schedule.Course{ID: "c1", Name: name, Weekday: weekday, StartMin: 480, EndMin: 540}, nil
}
func (s *stubCourses) Remove(context.Context, string) error { return s.removeErr }
func (s *stubCourses) List(context.Context) ([]schedule.Course, error) {
	return s.courses, nil
}

type stubEnrollments struct {
	assignErr error
	removeErr error
	courses   []schedule.Course
}

func (s *stubEnrollments) Assign(context.Context, string, string) error { return s.assignErr }
func (s *stubEnrollments) Remove(context.Context, string, string) error { return s.removeErr }
func (s *stubEnrollments) ListCoursesByStudent(context.Context, string) ([]schedule.Course, error) {
	return s.courses, nil
}

type stubAttendance struct {
	result    attendance.Result
	recordErr error
	swept     int64
	records   []attendance.JoinedRecord

	recordCalls int
}

func (s *stubAttendance) RecordRecognition(_ context.Context, studentID string, _ time.Time) (attendance.Result, error) {
	s.recordCalls++
	if s.recordErr != nil {
		return attendance.Result{}, s.recordErr
	}
	return s.result, nil
}
func (s *stubAttendance) SweepAbsences(context.Context, time.Time) (int64, error) {
	return s.swept, nil
}
func (s *stubAttendance) List(context.Context) ([]attendance.JoinedRecord, error) {
	return s.records, nil
}

type stubEncoder struct {
	vec   []float32
	faces []encoder.Face
	err   error
}

func (s *stubEncoder) Detect([]byte) ([]encoder.Face, error) { return s.faces, s.err }
func (s *stubEncoder) Encode([]byte) ([]float32, error)      { return s.vec, s.err }
func (s *stubEncoder) Dim() int                              { return len(s.vec) }

type stubMatcher struct {
	match matcher.Match
	err   error
}

func (s *stubMatcher) Match([]float32, []matcher.Candidate, uint64, float64) (matcher.Match, error) {
	return s.match, s.err
}

type captureQueue struct {
	messages []queue.Message
}

func (q *captureQueue) Publish(_ context.Context, msg queue.Message) error {
	q.messages = append(q.messages, msg)
	return nil
}
func (q *captureQueue) Consume(context.Context) (<-chan queue.Message, error) { return nil, nil }

// --- fixture ---

type fixture struct {
	students    *stubStudents
	courses     *stubCourses
	enrollments *stubEnrollments
	attendance  *stubAttendance
	enc         *stubEncoder
	match       *stubMatcher
	q           *captureQueue
	router      *gin.Engine
}

func newFixture() *fixture {
	f := &fixture{
		students: &stubStudents{
			gallery: []matcher.Candidate{{StudentID: "S001", Embedding: []float32{1, 0}}},
		},
		courses:     &stubCourses{},
		enrollments: &stubEnrollments{},
		attendance: &stubAttendance{
			result: attendance.Result{Record: attendance.Record{
				StudentID: "S001", CourseID: "c1",
				Date:   time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
				Time:   "08:05:00",
				Status: attendance.StatusPresent,
			}},
		},
		enc:   &stubEncoder{vec: []float32{1, 0}},
		match: &stubMatcher{match: matcher.Match{StudentID: "S001", Distance: 0.12}},
		q:     &captureQueue{},
	}
	h := New(f.students, f.courses, f.enrollments, f.attendance, f.enc, f.match, f.q, 0.4)
	h.now = func() time.Time { return time.Date(2026, 8, 24, 8, 5, 0, 0, time.UTC) }
	f.router = gin.New()
	h.Register(f.router)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func faceImage() string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("capture"))
}

// --- tests ---

func TestRecognizeRecordsAttendance(t *testing.T) {
	f := newFixture()

	w, env := f.do(t, http.MethodPost, "/api/attendance/recognize", gin.H{"face_image": faceImage()})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, env.Success)

	data := env.Data.(map[string]any)
	require.Equal(t, "S001", data["student_id"])
	require.Equal(t, attendance.StatusPresent, data["status"])
	require.Equal(t, "08:05:00", data["time"])
	require.Equal(t, false, data["already"])

	require.Len(t, f.q.messages, 1)
	require.Equal(t, "attendance.recorded", f.q.messages[0].Type)
}

func TestRecognizeNoMatchIsDomainFailure(t *testing.T) {
	f := newFixture()
	f.match.err = matcher.ErrNoMatch

	w, env := f.do(t, http.MethodPost, "/api/attendance/recognize", gin.H{"face_image": faceImage()})
	require.Equal(t, http.StatusOK, w.Code, "domain failures stay 200")
	require.False(t, env.Success)
	require.Equal(t, "No matching student found", env.Message)
	require.Zero(t, f.attendance.recordCalls)
	require.Empty(t, f.q.messages)
}

func TestRecognizeNoFaceDetected(t *testing.T) {
	f := newFixture()
	f.enc.err = encoder.ErrNoFaceDetected

	w, env := f.do(t, http.MethodPost, "/api/attendance/recognize", gin.H{"face_image": faceImage()})
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, env.Success)
	require.Zero(t, f.attendance.recordCalls)
}

func TestRecognizeEmptyGallery(t *testing.T) {
	f := newFixture()
	f.students.gallery = nil

	_, env := f.do(t, http.MethodPost, "/api/attendance/recognize", gin.H{"face_image": faceImage()})
	require.False(t, env.Success)
	require.Equal(t, "No registered faces", env.Message)
}

func TestRecognizeNoActiveSession(t *testing.T) {
	f := newFixture()
	f.attendance.recordErr = attendance.ErrNoActiveSession

	_, env := f.do(t, http.MethodPost, "/api/attendance/recognize", gin.H{"face_image": faceImage()})
	require.False(t, env.Success)
	require.Contains(t, env.Message, "No active course session")
	require.Empty(t, f.q.messages)
}

func TestRecognizeMissingBody(t *testing.T) {
	f := newFixture()
	w, env := f.do(t, http.MethodPost, "/api/attendance/recognize", gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.False(t, env.Success)
}

func TestTestRecognizeDoesNotRecord(t *testing.T) {
	f := newFixture()

	_, env := f.do(t, http.MethodPost, "/api/test_recognize", gin.H{"face_image": faceImage()})
	require.True(t, env.Success)
	data := env.Data.(map[string]any)
	require.Equal(t, "S001", data["student_id"])
	require.Zero(t, f.attendance.recordCalls, "dry run must not write attendance")
	require.Empty(t, f.q.messages)
}

func TestCreateStudentDuplicate(t *testing.T) {
	f := newFixture()
	f.students.registerErr = registry.ErrDuplicateID

	w, env := f.do(t, http.MethodPost, "/api/students", gin.H{
		"student_id": "S001", "name": "Ada",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, env.Success)
	require.Equal(t, "Student ID already exists", env.Message)
}

func TestCreateStudentPassesInput(t *testing.T) {
	f := newFixture()

	_, env := f.do(t, http.MethodPost, "/api/students", gin.H{
		"student_id": "S002", "name": "Grace", "class_name": "10B",
		"face_image": faceImage(), "overwrite": true,
	})
	require.True(t, env.Success)
	require.Len(t, f.students.registered, 1)
	in := f.students.registered[0]
	require.Equal(t, "S002", in.StudentID)
	require.Equal(t, "10B", in.ClassName)
	require.True(t, in.Overwrite)
}

func TestCreateCourseInvalidWeekday(t *testing.T) {
	f := newFixture()
	f.courses.createErr = schedule.ErrInvalidWeekday

	_, env := f.do(t, http.MethodPost, "/api/courses", gin.H{
		"course_name": "Algebra", "weekday": "Moonday",
		"course_time_start": "08:00", "course_time_end": "09:00",
	})
	require.False(t, env.Success)
}

func TestCreateCourseRendersTimes(t *testing.T) {
	f := newFixture()

	_, env := f.do(t, http.MethodPost, "/api/courses", gin.H{
		"course_name": "Algebra", "weekday": "Monday",
		"course_time_start": "08:00", "course_time_end": "09:00",
	})
	require.True(t, env.Success)
	data := env.Data.(map[string]any)
	require.Equal(t, "08:00", data["course_time_start"])
	require.Equal(t, "09:00", data["course_time_end"])
}

func TestListCoursesFieldNames(t *testing.T) {
	f := newFixture()
	f.courses.courses = []schedule.Course{
		{ID: "c1", Name: "Algebra", Weekday: "Monday", StartMin: 480, EndMin: 540},
	}

	_, env := f.do(t, http.MethodGet, "/api/courses", nil)
	require.True(t, env.Success)
	courses := env.Data.([]any)
	require.Len(t, courses, 1)
	course := courses[0].(map[string]any)
	require.Equal(t, "08:00", course["course_time_start"])
	require.Equal(t, "09:00", course["course_time_end"])
	require.NotContains(t, course, "start_time")
}

func TestAssignCourseAlreadyEnrolled(t *testing.T) {
	f := newFixture()
	f.enrollments.assignErr = enrollment.ErrAlreadyEnrolled

	_, env := f.do(t, http.MethodPost, "/api/student_courses", gin.H{
		"student_id": "S001", "course_id": "c1",
	})
	require.False(t, env.Success)
	require.Equal(t, "Student already enrolled in this course", env.Message)
}

func TestAssignCourseUnknownStudent(t *testing.T) {
	f := newFixture()
	f.enrollments.assignErr = enrollment.ErrUnknownStudentOrCourse

	w, env := f.do(t, http.MethodPost, "/api/student_courses", gin.H{
		"student_id": "ghost", "course_id": "c1",
	})
	require.Equal(t, http.StatusOK, w.Code, "a bad reference is a domain failure, not a server error")
	require.False(t, env.Success)
	require.Equal(t, "Student or course not found", env.Message)
}

func TestCheckAbsences(t *testing.T) {
	f := newFixture()
	f.attendance.swept = 4

	_, env := f.do(t, http.MethodPost, "/api/attendance/check_absences", nil)
	require.True(t, env.Success)
	data := env.Data.(map[string]any)
	require.EqualValues(t, 4, data["marked_absent"])
}

func TestDebugFaceDetection(t *testing.T) {
	f := newFixture()
	f.enc.faces = []encoder.Face{{Rect: image.Rect(10, 20, 60, 80)}}

	_, env := f.do(t, http.MethodPost, "/api/debug/face_detection", gin.H{"face_image": faceImage()})
	require.True(t, env.Success)
	data := env.Data.(map[string]any)
	require.EqualValues(t, 1, data["faces_found"])
	faces := data["faces"].([]any)
	box := faces[0].(map[string]any)
	require.EqualValues(t, 10, box["x"])
	require.EqualValues(t, 50, box["width"])
}

func TestDeleteStudentNotFound(t *testing.T) {
	f := newFixture()
	f.students.removeErr = registry.ErrNotFound

	w, env := f.do(t, http.MethodDelete, "/api/students/ghost", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, env.Success)
	require.Equal(t, "Student not found", env.Message)
}
