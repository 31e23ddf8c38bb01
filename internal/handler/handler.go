// Package handler exposes the attendance API over HTTP. Domain failures
// are reported inside the response envelope with HTTP 200; the browser
// client shows the message as-is. Non-2xx codes are reserved for malformed
// requests and infrastructure trouble.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classattend/internal/attendance"
	"classattend/internal/encoder"
	"classattend/internal/enrollment"
	"classattend/internal/httpmiddleware"
	"classattend/internal/matcher"
	"classattend/internal/queue"
	"classattend/internal/registry"
	"classattend/internal/schedule"
)

// Students is the registry surface the API needs.
type Students interface {
	Register(ctx context.Context, in registry.RegisterInput) error
	Remove(ctx context.Context, studentID string) error
	List(ctx context.Context) ([]registry.Student, error)
	Snapshot() ([]matcher.Candidate, uint64)
}

// Courses is the schedule surface the API needs.
type Courses interface {
	Create(ctx context.Context, name, weekday, start, end string) (schedule.Course, error)
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]schedule.Course, error)
}

// Enrollments is the student/course association surface.
type Enrollments interface {
	Assign(ctx context.Context, studentID, courseID string) error
	Remove(ctx context.Context, studentID, courseID string) error
	ListCoursesByStudent(ctx context.Context, studentID string) ([]schedule.Course, error)
}

// Attendance is the recorder surface the API needs.
type Attendance interface {
	RecordRecognition(ctx context.Context, studentID string, now time.Time) (attendance.Result, error)
	SweepAbsences(ctx context.Context, now time.Time) (int64, error)
	List(ctx context.Context) ([]attendance.JoinedRecord, error)
}

// FaceMatcher identifies a query embedding against a gallery snapshot.
type FaceMatcher interface {
	Match(query []float32, gallery []matcher.Candidate, gen uint64, tolerance float64) (matcher.Match, error)
}

// Handler wires the services to gin routes.
type Handler struct {
	students    Students
	courses     Courses
	enrollments Enrollments
	attendance  Attendance
	enc         encoder.Encoder
	match       FaceMatcher
	q           queue.Queue
	tolerance   float64

	// now is injectable for tests.
	now func() time.Time
}

// New creates a handler.
func New(st Students, co Courses, en Enrollments, at Attendance,
	enc encoder.Encoder, m FaceMatcher, q queue.Queue, tolerance float64) *Handler {
	return &Handler{
		students:    st,
		courses:     co,
		enrollments: en,
		attendance:  at,
		enc:         enc,
		match:       m,
		q:           q,
		tolerance:   tolerance,
		now:         time.Now,
	}
}

// Register mounts all routes on the router.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")

	api.POST("/students", h.createStudent)
	api.GET("/students", h.listStudents)
	api.DELETE("/students/:id", h.deleteStudent)

	api.POST("/courses", h.createCourse)
	api.GET("/courses", h.listCourses)
	api.DELETE("/courses/:id", h.deleteCourse)

	api.POST("/student_courses", h.assignCourse)
	api.GET("/student_courses/:studentId", h.listStudentCourses)
	api.DELETE("/student_courses/:studentId/:courseId", h.removeStudentCourse)

	api.POST("/attendance/recognize", h.recognize)
	api.POST("/test_recognize", h.testRecognize)
	api.GET("/attendance", h.listAttendance)
	api.POST("/attendance/check_absences", h.checkAbsences)

	api.POST("/debug/face_detection", h.debugFaceDetection)
}

// envelope is the uniform response shape.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func ok(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

// fail reports a domain failure. The envelope carries the verdict; the
// status stays 200 so the client always parses the body.
func fail(c *gin.Context, message string) {
	c.JSON(http.StatusOK, envelope{Success: false, Message: message})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, envelope{Success: false, Message: err.Error()})
}

func internal(c *gin.Context, err error) {
	log.Printf("internal error: %v", err)
	c.JSON(http.StatusInternalServerError, envelope{Success: false, Message: "internal error"})
}

// --- students ---

type studentRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	Name      string `json:"name" binding:"required"`
	ClassName string `json:"class_name"`
	FaceImage string `json:"face_image"`
	Overwrite bool   `json:"overwrite"`
}

func (h *Handler) createStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	err := h.students.Register(c.Request.Context(), registry.RegisterInput{
		StudentID: req.StudentID,
		Name:      req.Name,
		ClassName: req.ClassName,
		FaceImage: req.FaceImage,
		Overwrite: req.Overwrite,
	})
	switch {
	case err == nil:
		ok(c, "Student registered", gin.H{"student_id": req.StudentID})
	case errors.Is(err, registry.ErrDuplicateID):
		fail(c, "Student ID already exists")
	case errors.Is(err, registry.ErrInvalidInput),
		errors.Is(err, encoder.ErrDecode),
		errors.Is(err, encoder.ErrImageTooSmall),
		errors.Is(err, encoder.ErrNoFaceDetected),
		errors.Is(err, encoder.ErrMultipleFaces):
		fail(c, err.Error())
	default:
		internal(c, err)
	}
}

func (h *Handler) listStudents(c *gin.Context) {
	students, err := h.students.List(c.Request.Context())
	if err != nil {
		internal(c, err)
		return
	}
	if students == nil {
		students = []registry.Student{}
	}
	ok(c, "", students)
}

func (h *Handler) deleteStudent(c *gin.Context) {
	err := h.students.Remove(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		ok(c, "Student deleted", nil)
	case errors.Is(err, registry.ErrNotFound):
		fail(c, "Student not found")
	default:
		internal(c, err)
	}
}

// --- courses ---

type courseRequest struct {
	CourseName string `json:"course_name" binding:"required"`
	Weekday    string `json:"weekday" binding:"required"`
	StartTime  string `json:"course_time_start" binding:"required"`
	EndTime    string `json:"course_time_end" binding:"required"`
}

type courseView struct {
	ID         string `json:"id"`
	CourseName string `json:"course_name"`
	Weekday    string `json:"weekday"`
	StartTime  string `json:"course_time_start"`
	EndTime    string `json:"course_time_end"`
}

func viewCourse(c schedule.Course) courseView {
	return courseView{
		ID:         c.ID,
		CourseName: c.Name,
		Weekday:    c.Weekday,
		StartTime:  schedule.FormatClock(c.StartMin),
		EndTime:    schedule.FormatClock(c.EndMin),
	}
}

func viewCourses(courses []schedule.Course) []courseView {
	out := make([]courseView, 0, len(courses))
	for _, c := range courses {
		out = append(out, viewCourse(c))
	}
	return out
}

func (h *Handler) createCourse(c *gin.Context) {
	var req courseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	course, err := h.courses.Create(c.Request.Context(), req.CourseName, req.Weekday, req.StartTime, req.EndTime)
	switch {
	case err == nil:
		ok(c, "Course created", viewCourse(course))
	case errors.Is(err, schedule.ErrInvalidWeekday),
		errors.Is(err, schedule.ErrInvalidTimeRange),
		errors.Is(err, schedule.ErrBadClock):
		fail(c, err.Error())
	default:
		internal(c, err)
	}
}

func (h *Handler) listCourses(c *gin.Context) {
	courses, err := h.courses.List(c.Request.Context())
	if err != nil {
		internal(c, err)
		return
	}
	ok(c, "", viewCourses(courses))
}

func (h *Handler) deleteCourse(c *gin.Context) {
	err := h.courses.Remove(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		ok(c, "Course deleted", nil)
	case errors.Is(err, schedule.ErrNotFound):
		fail(c, "Course not found")
	default:
		internal(c, err)
	}
}

// --- enrollments ---

type assignRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	CourseID  string `json:"course_id" binding:"required"`
}

func (h *Handler) assignCourse(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	err := h.enrollments.Assign(c.Request.Context(), req.StudentID, req.CourseID)
	switch {
	case err == nil:
		ok(c, "Course assigned", nil)
	case errors.Is(err, enrollment.ErrAlreadyEnrolled):
		fail(c, "Student already enrolled in this course")
	case errors.Is(err, enrollment.ErrUnknownStudentOrCourse):
		fail(c, "Student or course not found")
	default:
		internal(c, err)
	}
}

func (h *Handler) listStudentCourses(c *gin.Context) {
	courses, err := h.enrollments.ListCoursesByStudent(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		internal(c, err)
		return
	}
	ok(c, "", viewCourses(courses))
}

func (h *Handler) removeStudentCourse(c *gin.Context) {
	err := h.enrollments.Remove(c.Request.Context(), c.Param("studentId"), c.Param("courseId"))
	switch {
	case err == nil:
		ok(c, "Enrollment removed", nil)
	case errors.Is(err, enrollment.ErrNotFound):
		fail(c, "Enrollment not found")
	default:
		internal(c, err)
	}
}

// --- recognition ---

type faceRequest struct {
	FaceImage string `json:"face_image" binding:"required"`
}

// identify runs decode, encode and gallery matching. When it returns
// false the failure response has already been written.
func (h *Handler) identify(c *gin.Context) (matcher.Match, bool) {
	var req faceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return matcher.Match{}, false
	}

	raw, err := encoder.DecodeDataURL(req.FaceImage)
	if err != nil {
		fail(c, err.Error())
		return matcher.Match{}, false
	}

	emb, err := h.enc.Encode(raw)
	switch {
	case err == nil:
	case errors.Is(err, encoder.ErrDecode),
		errors.Is(err, encoder.ErrImageTooSmall),
		errors.Is(err, encoder.ErrNoFaceDetected),
		errors.Is(err, encoder.ErrMultipleFaces):
		httpmiddleware.RecognitionsTotal.WithLabelValues("no_face").Inc()
		fail(c, err.Error())
		return matcher.Match{}, false
	default:
		internal(c, err)
		return matcher.Match{}, false
	}

	gallery, gen := h.students.Snapshot()
	if len(gallery) == 0 {
		fail(c, "No registered faces")
		return matcher.Match{}, false
	}

	m, err := h.match.Match(emb, gallery, gen, h.tolerance)
	if err != nil {
		httpmiddleware.RecognitionsTotal.WithLabelValues("no_match").Inc()
		fail(c, "No matching student found")
		return matcher.Match{}, false
	}
	return m, true
}

func (h *Handler) recognize(c *gin.Context) {
	m, matched := h.identify(c)
	if !matched {
		return
	}

	res, err := h.attendance.RecordRecognition(c.Request.Context(), m.StudentID, h.now())
	switch {
	case err == nil:
	case errors.Is(err, attendance.ErrNoActiveSession):
		httpmiddleware.RecognitionsTotal.WithLabelValues("no_session").Inc()
		fail(c, "No active course session for "+m.StudentID)
		return
	case errors.Is(err, attendance.ErrAmbiguousSession):
		httpmiddleware.RecognitionsTotal.WithLabelValues("no_session").Inc()
		fail(c, "Multiple active sessions; cannot attribute attendance")
		return
	case errors.Is(err, attendance.ErrSessionClosed):
		httpmiddleware.RecognitionsTotal.WithLabelValues("closed").Inc()
		fail(c, "Session already closed as absent for "+m.StudentID)
		return
	default:
		httpmiddleware.RecognitionsTotal.WithLabelValues("error").Inc()
		internal(c, err)
		return
	}

	outcome, message := "recorded", "Attendance recorded"
	if res.Already {
		outcome, message = "already", "Attendance already recorded"
	}
	httpmiddleware.RecognitionsTotal.WithLabelValues(outcome).Inc()
	h.publishRecognition(c.Request.Context(), res)

	ok(c, message, gin.H{
		"student_id": m.StudentID,
		"distance":   m.Distance,
		"time":       res.Record.Time,
		"status":     res.Record.Status,
		"already":    res.Already,
	})
}

func (h *Handler) testRecognize(c *gin.Context) {
	m, matched := h.identify(c)
	if !matched {
		return
	}
	ok(c, "Match found", gin.H{
		"student_id": m.StudentID,
		"distance":   m.Distance,
	})
}

func (h *Handler) publishRecognition(ctx context.Context, res attendance.Result) {
	body, err := json.Marshal(gin.H{
		"student_id":  res.Record.StudentID,
		"course_id":   res.Record.CourseID,
		"record_date": res.Record.Date.Format("2006-01-02"),
		"record_time": res.Record.Time,
		"status":      res.Record.Status,
		"already":     res.Already,
	})
	if err != nil {
		return
	}
	if err := h.q.Publish(ctx, queue.Message{Type: "attendance.recorded", Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

// --- attendance ---

func (h *Handler) listAttendance(c *gin.Context) {
	records, err := h.attendance.List(c.Request.Context())
	if err != nil {
		internal(c, err)
		return
	}
	if records == nil {
		records = []attendance.JoinedRecord{}
	}
	ok(c, "", records)
}

func (h *Handler) checkAbsences(c *gin.Context) {
	added, err := h.attendance.SweepAbsences(c.Request.Context(), h.now())
	if err != nil {
		internal(c, err)
		return
	}
	ok(c, "Absence check complete", gin.H{"marked_absent": added})
}

// --- debug ---

func (h *Handler) debugFaceDetection(c *gin.Context) {
	var req faceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	raw, err := encoder.DecodeDataURL(req.FaceImage)
	if err != nil {
		fail(c, err.Error())
		return
	}

	faces, err := h.enc.Detect(raw)
	switch {
	case err == nil:
	case errors.Is(err, encoder.ErrDecode), errors.Is(err, encoder.ErrImageTooSmall):
		fail(c, err.Error())
		return
	default:
		internal(c, err)
		return
	}

	type box struct {
		X      int `json:"x"`
		Y      int `json:"y"`
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	boxes := make([]box, 0, len(faces))
	for _, f := range faces {
		boxes = append(boxes, box{
			X:      f.Rect.Min.X,
			Y:      f.Rect.Min.Y,
			Width:  f.Rect.Dx(),
			Height: f.Rect.Dy(),
		})
	}
	ok(c, "", gin.H{"faces_found": len(faces), "faces": boxes})
}
