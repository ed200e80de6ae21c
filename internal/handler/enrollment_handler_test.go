package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusflow/lms-api/internal/middleware"
	"github.com/campusflow/lms-api/internal/models"
	"github.com/campusflow/lms-api/internal/service"
	appErrors "github.com/campusflow/lms-api/pkg/errors"
	"github.com/campusflow/lms-api/pkg/response"
)

const (
	handlerStudentID    = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaa01"
	handlerCourseID     = "cccccccc-cccc-4ccc-8ccc-cccccccccc01"
	handlerEnrollmentID = "dddddddd-dddd-4ddd-8ddd-dddddddddd01"
)

type enrollmentStoreStub struct {
	enrollments map[string]models.Enrollment
	enrollErr   error
}

func (m *enrollmentStoreStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var out []models.EnrollmentDetail
	for _, e := range m.enrollments {
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		out = append(out, models.EnrollmentDetail{Enrollment: e})
	}
	return out, len(out), nil
}

func (m *enrollmentStoreStub) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *enrollmentStoreStub) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := m.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *enrollmentStoreStub) Enroll(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	if m.enrollErr != nil {
		return nil, m.enrollErr
	}
	return &models.Enrollment{
		ID:             handlerEnrollmentID,
		StudentID:      studentID,
		CourseID:       courseID,
		Status:         models.EnrollmentStatusActive,
		EnrollmentDate: time.Now().UTC(),
	}, nil
}

func (m *enrollmentStoreStub) Drop(ctx context.Context, id string) (*models.Enrollment, error) {
	e, ok := m.enrollments[id]
	if !ok {
		return nil, appErrors.ErrEnrollmentNotFound
	}
	e.Status = models.EnrollmentStatusDropped
	return &e, nil
}

func (m *enrollmentStoreStub) SetStatus(ctx context.Context, id string, status models.EnrollmentStatus) (*models.Enrollment, error) {
	e, ok := m.enrollments[id]
	if !ok {
		return nil, appErrors.ErrEnrollmentNotFound
	}
	e.Status = status
	return &e, nil
}

func (m *enrollmentStoreStub) SetFinalGrade(ctx context.Context, id string, grade float64) error {
	if _, ok := m.enrollments[id]; !ok {
		return appErrors.ErrEnrollmentNotFound
	}
	return nil
}

type userStoreStub struct {
	users map[string]models.User
}

func (m *userStoreStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *userStoreStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

type courseStoreStub struct{}

func (courseStoreStub) IsOwnedBy(ctx context.Context, courseID, instructorID string) (bool, error) {
	return true, nil
}

type accessStub struct{}

func (accessStub) CanAccessCourse(ctx context.Context, actor *models.CurrentUser, courseID string) error {
	return nil
}

func (accessStub) CanAccessStudent(ctx context.Context, actor *models.CurrentUser, studentID string) error {
	return nil
}

func newEnrollmentHandlerForTest(store *enrollmentStoreStub) *EnrollmentHandler {
	users := &userStoreStub{users: map[string]models.User{
		handlerStudentID: {ID: handlerStudentID, Role: models.RoleStudent, Active: true},
	}}
	svc := service.NewEnrollmentService(store, users, courseStoreStub{}, accessStub{}, nil, nil, nil)
	return NewEnrollmentHandler(svc, nil)
}

func adminContext(t *testing.T, method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body != nil {
		req, _ = http.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, target, nil)
	}
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.CurrentUser{ID: "admin-1", Role: models.RoleAdmin, Active: true})
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func TestEnrollmentHandlerCreate(t *testing.T) {
	handler := newEnrollmentHandlerForTest(&enrollmentStoreStub{})

	payload, _ := json.Marshal(service.EnrollRequest{StudentID: handlerStudentID, CourseID: handlerCourseID})
	c, w := adminContext(t, http.MethodPost, "/enrollments", payload)

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.True(t, envelope.Success)
	assert.NotNil(t, envelope.Data)
}

func TestEnrollmentHandlerCreateInvalidBody(t *testing.T) {
	handler := newEnrollmentHandlerForTest(&enrollmentStoreStub{})

	c, w := adminContext(t, http.MethodPost, "/enrollments", []byte(`{"student_id":`))

	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.False(t, envelope.Success)
	assert.Equal(t, appErrors.ErrValidation.Code, envelope.Code)
}

func TestEnrollmentHandlerCreateCourseFull(t *testing.T) {
	handler := newEnrollmentHandlerForTest(&enrollmentStoreStub{enrollErr: appErrors.ErrCourseFull})

	payload, _ := json.Marshal(service.EnrollRequest{StudentID: handlerStudentID, CourseID: handlerCourseID})
	c, w := adminContext(t, http.MethodPost, "/enrollments", payload)

	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.False(t, envelope.Success)
	assert.Equal(t, appErrors.ErrCourseFull.Code, envelope.Code)
}

func TestEnrollmentHandlerDropUnknown(t *testing.T) {
	handler := newEnrollmentHandlerForTest(&enrollmentStoreStub{})

	c, w := adminContext(t, http.MethodDelete, "/enrollments/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	handler.Drop(c)
	require.Equal(t, http.StatusNotFound, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.Equal(t, appErrors.ErrEnrollmentNotFound.Code, envelope.Code)
}

func TestEnrollmentHandlerList(t *testing.T) {
	store := &enrollmentStoreStub{enrollments: map[string]models.Enrollment{
		handlerEnrollmentID: {ID: handlerEnrollmentID, StudentID: handlerStudentID, CourseID: handlerCourseID, Status: models.EnrollmentStatusActive},
	}}
	handler := newEnrollmentHandlerForTest(store)

	c, w := adminContext(t, http.MethodGet, "/enrollments?page=1&limit=20", nil)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.True(t, envelope.Success)
	require.NotNil(t, envelope.Pagination)
	assert.Equal(t, 1, envelope.Pagination.Total)
}

func TestEnrollmentHandlerMissingIdentity(t *testing.T) {
	handler := newEnrollmentHandlerForTest(&enrollmentStoreStub{})

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/enrollments", nil)

	handler.List(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.Equal(t, appErrors.ErrUnauthenticated.Code, envelope.Code)
}
