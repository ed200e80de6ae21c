package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusflow/lms-api/internal/models"
	appErrors "github.com/campusflow/lms-api/pkg/errors"
)

const (
	testStudentID    = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaa1"
	testStudentID2   = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaa2"
	testInstructorID = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbb1"
	testCourseID     = "cccccccc-cccc-4ccc-8ccc-ccccccccccc1"
	testEnrollmentID = "dddddddd-dddd-4ddd-8ddd-ddddddddddd1"
)

type mockEnrollmentStore struct {
	enrollments map[string]models.Enrollment
	enrollErr   error
	dropped     []string
	statusSet   map[string]models.EnrollmentStatus
	grades      map[string]float64
}

func (m *mockEnrollmentStore) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var out []models.EnrollmentDetail
	for _, e := range m.enrollments {
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		if filter.CourseID != "" && e.CourseID != filter.CourseID {
			continue
		}
		out = append(out, models.EnrollmentDetail{Enrollment: e})
	}
	return out, len(out), nil
}

func (m *mockEnrollmentStore) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentStore) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := m.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentStore) Enroll(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	if m.enrollErr != nil {
		return nil, m.enrollErr
	}
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.Enrollment)
	}
	enrollment := models.Enrollment{
		ID:             "new-enrollment",
		StudentID:      studentID,
		CourseID:       courseID,
		Status:         models.EnrollmentStatusActive,
		EnrollmentDate: time.Now().UTC(),
	}
	m.enrollments[enrollment.ID] = enrollment
	return &enrollment, nil
}

func (m *mockEnrollmentStore) Drop(ctx context.Context, id string) (*models.Enrollment, error) {
	e, ok := m.enrollments[id]
	if !ok {
		return nil, appErrors.ErrEnrollmentNotFound
	}
	if e.Status != models.EnrollmentStatusActive {
		return nil, appErrors.ErrNotActive
	}
	e.Status = models.EnrollmentStatusDropped
	m.enrollments[id] = e
	m.dropped = append(m.dropped, id)
	return &e, nil
}

func (m *mockEnrollmentStore) SetStatus(ctx context.Context, id string, status models.EnrollmentStatus) (*models.Enrollment, error) {
	e, ok := m.enrollments[id]
	if !ok {
		return nil, appErrors.ErrEnrollmentNotFound
	}
	e.Status = status
	m.enrollments[id] = e
	if m.statusSet == nil {
		m.statusSet = make(map[string]models.EnrollmentStatus)
	}
	m.statusSet[id] = status
	return &e, nil
}

func (m *mockEnrollmentStore) SetFinalGrade(ctx context.Context, id string, grade float64) error {
	if _, ok := m.enrollments[id]; !ok {
		return appErrors.ErrEnrollmentNotFound
	}
	if m.grades == nil {
		m.grades = make(map[string]float64)
	}
	m.grades[id] = grade
	return nil
}

type mockUserStore struct {
	users  map[string]models.User
	audits []models.AuditLog
}

func (m *mockUserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.audits = append(m.audits, *log)
	return nil
}

type mockCourseStore struct {
	owners map[string]string
}

func (m *mockCourseStore) IsOwnedBy(ctx context.Context, courseID, instructorID string) (bool, error) {
	return m.owners[courseID] == instructorID, nil
}

type mockAccess struct {
	courseErr  error
	studentErr error
}

func (m *mockAccess) CanAccessCourse(ctx context.Context, actor *models.CurrentUser, courseID string) error {
	return m.courseErr
}

func (m *mockAccess) CanAccessStudent(ctx context.Context, actor *models.CurrentUser, studentID string) error {
	return m.studentErr
}

func newEnrollmentServiceForTest(store *mockEnrollmentStore, users *mockUserStore, courses *mockCourseStore, access *mockAccess) *EnrollmentService {
	return NewEnrollmentService(store, users, courses, access, nil, validator.New(), zap.NewNop())
}

func activeStudent(id string) models.User {
	return models.User{ID: id, Role: models.RoleStudent, Active: true}
}

func admin() *models.CurrentUser {
	return &models.CurrentUser{ID: "admin-1", Role: models.RoleAdmin, Active: true}
}

func studentActor(id string) *models.CurrentUser {
	return &models.CurrentUser{ID: id, Role: models.RoleStudent, Active: true}
}

func instructorActor(id string) *models.CurrentUser {
	return &models.CurrentUser{ID: id, Role: models.RoleInstructor, Active: true}
}

func TestEnrollStudentSelf(t *testing.T) {
	store := &mockEnrollmentStore{}
	users := &mockUserStore{users: map[string]models.User{testStudentID: activeStudent(testStudentID)}}
	svc := newEnrollmentServiceForTest(store, users, &mockCourseStore{}, &mockAccess{})

	enrollment, err := svc.Enroll(context.Background(), studentActor(testStudentID), EnrollRequest{
		StudentID: testStudentID,
		CourseID:  testCourseID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, testCourseID, enrollment.CourseID)
	require.Len(t, users.audits, 1)
	assert.Equal(t, models.AuditActionEnroll, users.audits[0].Action)
}

func TestEnrollStudentCannotEnrollOthers(t *testing.T) {
	store := &mockEnrollmentStore{}
	users := &mockUserStore{users: map[string]models.User{testStudentID2: activeStudent(testStudentID2)}}
	svc := newEnrollmentServiceForTest(store, users, &mockCourseStore{}, &mockAccess{})

	_, err := svc.Enroll(context.Background(), studentActor(testStudentID), EnrollRequest{
		StudentID: testStudentID2,
		CourseID:  testCourseID,
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrAccessDenied.Code, appErr.Code)
}

func TestEnrollByOwningInstructor(t *testing.T) {
	store := &mockEnrollmentStore{}
	users := &mockUserStore{users: map[string]models.User{testStudentID: activeStudent(testStudentID)}}
	courses := &mockCourseStore{owners: map[string]string{testCourseID: testInstructorID}}
	svc := newEnrollmentServiceForTest(store, users, courses, &mockAccess{})

	enrollment, err := svc.Enroll(context.Background(), instructorActor(testInstructorID), EnrollRequest{
		StudentID: testStudentID,
		CourseID:  testCourseID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
}

func TestEnrollByNonOwningInstructorDenied(t *testing.T) {
	users := &mockUserStore{users: map[string]models.User{testStudentID: activeStudent(testStudentID)}}
	courses := &mockCourseStore{owners: map[string]string{testCourseID: "someone-else"}}
	svc := newEnrollmentServiceForTest(&mockEnrollmentStore{}, users, courses, &mockAccess{})

	_, err := svc.Enroll(context.Background(), instructorActor(testInstructorID), EnrollRequest{
		StudentID: testStudentID,
		CourseID:  testCourseID,
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrAccessDenied.Code, appErr.Code)
}

func TestEnrollRejectsNonStudentTarget(t *testing.T) {
	users := &mockUserStore{users: map[string]models.User{
		testInstructorID: {ID: testInstructorID, Role: models.RoleInstructor, Active: true},
	}}
	svc := newEnrollmentServiceForTest(&mockEnrollmentStore{}, users, &mockCourseStore{}, &mockAccess{})

	_, err := svc.Enroll(context.Background(), admin(), EnrollRequest{
		StudentID: testInstructorID,
		CourseID:  testCourseID,
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidStudent)
}

func TestEnrollRejectsInactiveStudent(t *testing.T) {
	users := &mockUserStore{users: map[string]models.User{
		testStudentID: {ID: testStudentID, Role: models.RoleStudent, Active: false},
	}}
	svc := newEnrollmentServiceForTest(&mockEnrollmentStore{}, users, &mockCourseStore{}, &mockAccess{})

	_, err := svc.Enroll(context.Background(), admin(), EnrollRequest{
		StudentID: testStudentID,
		CourseID:  testCourseID,
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidStudent)
}

func TestEnrollPropagatesCourseFull(t *testing.T) {
	store := &mockEnrollmentStore{enrollErr: appErrors.ErrCourseFull}
	users := &mockUserStore{users: map[string]models.User{testStudentID: activeStudent(testStudentID)}}
	svc := newEnrollmentServiceForTest(store, users, &mockCourseStore{}, &mockAccess{})

	_, err := svc.Enroll(context.Background(), admin(), EnrollRequest{
		StudentID: testStudentID,
		CourseID:  testCourseID,
	})
	assert.ErrorIs(t, err, appErrors.ErrCourseFull)
}

func TestDropByOwningStudent(t *testing.T) {
	store := &mockEnrollmentStore{enrollments: map[string]models.Enrollment{
		testEnrollmentID: {ID: testEnrollmentID, StudentID: testStudentID, CourseID: testCourseID, Status: models.EnrollmentStatusActive},
	}}
	users := &mockUserStore{}
	svc := newEnrollmentServiceForTest(store, users, &mockCourseStore{}, &mockAccess{})

	enrollment, err := svc.Drop(context.Background(), studentActor(testStudentID), testEnrollmentID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusDropped, enrollment.Status)
	assert.Contains(t, store.dropped, testEnrollmentID)
}

func TestDropByOtherStudentDenied(t *testing.T) {
	store := &mockEnrollmentStore{enrollments: map[string]models.Enrollment{
		testEnrollmentID: {ID: testEnrollmentID, StudentID: testStudentID, CourseID: testCourseID, Status: models.EnrollmentStatusActive},
	}}
	svc := newEnrollmentServiceForTest(store, &mockUserStore{}, &mockCourseStore{}, &mockAccess{})

	_, err := svc.Drop(context.Background(), studentActor(testStudentID2), testEnrollmentID)
	assert.ErrorIs(t, err, appErrors.ErrAccessDenied)
}

func TestDropByNonOwningInstructorDenied(t *testing.T) {
	store := &mockEnrollmentStore{enrollments: map[string]models.Enrollment{
		testEnrollmentID: {ID: testEnrollmentID, StudentID: testStudentID, CourseID: testCourseID, Status: models.EnrollmentStatusActive},
	}}
	courses := &mockCourseStore{owners: map[string]string{testCourseID: "someone-else"}}
	svc := newEnrollmentServiceForTest(store, &mockUserStore{}, courses, &mockAccess{})

	_, err := svc.Drop(context.Background(), instructorActor(testInstructorID), testEnrollmentID)
	assert.ErrorIs(t, err, appErrors.ErrAccessDenied)
}

func TestDropAlreadyDroppedNotActive(t *testing.T) {
	store := &mockEnrollmentStore{enrollments: map[string]models.Enrollment{
		testEnrollmentID: {ID: testEnrollmentID, StudentID: testStudentID, CourseID: testCourseID, Status: models.EnrollmentStatusDropped},
	}}
	svc := newEnrollmentServiceForTest(store, &mockUserStore{}, &mockCourseStore{}, &mockAccess{})

	_, err := svc.Drop(context.Background(), admin(), testEnrollmentID)
	assert.ErrorIs(t, err, appErrors.ErrNotActive)
}

func TestDropUnknownEnrollment(t *testing.T) {
	svc := newEnrollmentServiceForTest(&mockEnrollmentStore{}, &mockUserStore{}, &mockCourseStore{}, &mockAccess{})

	_, err := svc.Drop(context.Background(), admin(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrEnrollmentNotFound)
}

func TestSetStatusByOwningInstructor(t *testing.T) {
	store := &mockEnrollmentStore{enrollments: map[string]models.Enrollment{
		testEnrollmentID: {ID: testEnrollmentID, StudentID: testStudentID, CourseID: testCourseID, Status: models.EnrollmentStatusActive},
	}}
	courses := &mockCourseStore{owners: map[string]string{testCourseID: testInstructorID}}
	svc := newEnrollmentServiceForTest(store, &mockUserStore{}, courses, &mockAccess{})

	enrollment, err := svc.SetStatus(context.Background(), instructorActor(testInstructorID), testEnrollmentID, SetStatusRequest{
		Status: models.EnrollmentStatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)
}

func TestSetStatusRejectsUnknownValue(t *testing.T) {
	svc := newEnrollmentServiceForTest(&mockEnrollmentStore{}, &mockUserStore{}, &mockCourseStore{}, &mockAccess{})

	_, err := svc.SetStatus(context.Background(), admin(), testEnrollmentID, SetStatusRequest{Status: "paused"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestSetFinalGradeBounds(t *testing.T) {
	store := &mockEnrollmentStore{enrollments: map[string]models.Enrollment{
		testEnrollmentID: {ID: testEnrollmentID, StudentID: testStudentID, CourseID: testCourseID, Status: models.EnrollmentStatusActive},
	}}
	svc := newEnrollmentServiceForTest(store, &mockUserStore{}, &mockCourseStore{}, &mockAccess{})

	_, err := svc.SetFinalGrade(context.Background(), admin(), testEnrollmentID, SetGradeRequest{FinalGrade: 150})
	assert.ErrorIs(t, err, appErrors.ErrGradeOutOfRange)

	_, err = svc.SetFinalGrade(context.Background(), admin(), testEnrollmentID, SetGradeRequest{FinalGrade: -1})
	assert.ErrorIs(t, err, appErrors.ErrGradeOutOfRange)

	_, err = svc.SetFinalGrade(context.Background(), admin(), testEnrollmentID, SetGradeRequest{FinalGrade: 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, store.grades[testEnrollmentID])

	_, err = svc.SetFinalGrade(context.Background(), admin(), testEnrollmentID, SetGradeRequest{FinalGrade: 100})
	require.NoError(t, err)
	assert.Equal(t, 100.0, store.grades[testEnrollmentID])
}

type seatLimitedStore struct {
	mockEnrollmentStore
	mu        sync.Mutex
	seatsLeft int
	enrolled  int
}

func (m *seatLimitedStore) Enroll(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seatsLeft == 0 {
		return nil, appErrors.ErrCourseFull
	}
	m.seatsLeft--
	m.enrolled++
	return &models.Enrollment{
		ID:        fmt.Sprintf("enr-%d", m.enrolled),
		StudentID: studentID,
		CourseID:  courseID,
		Status:    models.EnrollmentStatusActive,
	}, nil
}

type safeUserStore struct {
	mu    sync.Mutex
	users map[string]models.User
}

func (m *safeUserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *safeUserStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

func TestEnrollConcurrentRespectsCapacity(t *testing.T) {
	const attempts = 20
	const seats = 5

	store := &seatLimitedStore{seatsLeft: seats}
	users := &safeUserStore{users: make(map[string]models.User)}
	studentIDs := make([]string, attempts)
	for i := range studentIDs {
		id := fmt.Sprintf("aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaa%03d", i)
		studentIDs[i] = id
		users.users[id] = activeStudent(id)
	}
	svc := NewEnrollmentService(store, users, &mockCourseStore{}, &mockAccess{}, nil, validator.New(), zap.NewNop())

	var wg sync.WaitGroup
	var successes, fulls int64
	for _, id := range studentIDs {
		wg.Add(1)
		go func(studentID string) {
			defer wg.Done()
			_, err := svc.Enroll(context.Background(), admin(), EnrollRequest{
				StudentID: studentID,
				CourseID:  testCourseID,
			})
			switch {
			case err == nil:
				atomic.AddInt64(&successes, 1)
			case errors.Is(err, appErrors.ErrCourseFull):
				atomic.AddInt64(&fulls, 1)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int64(seats), successes)
	assert.Equal(t, int64(attempts-seats), fulls)
}

func TestListScopesStudentToOwnRows(t *testing.T) {
	store := &mockEnrollmentStore{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: testStudentID, CourseID: testCourseID, Status: models.EnrollmentStatusActive},
		"e2": {ID: "e2", StudentID: testStudentID2, CourseID: testCourseID, Status: models.EnrollmentStatusActive},
	}}
	svc := newEnrollmentServiceForTest(store, &mockUserStore{}, &mockCourseStore{}, &mockAccess{})

	enrollments, _, err := svc.List(context.Background(), studentActor(testStudentID), models.EnrollmentFilter{})
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, testStudentID, enrollments[0].StudentID)
}

func TestListInstructorRequiresCourse(t *testing.T) {
	svc := newEnrollmentServiceForTest(&mockEnrollmentStore{}, &mockUserStore{}, &mockCourseStore{}, &mockAccess{})

	_, _, err := svc.List(context.Background(), instructorActor(testInstructorID), models.EnrollmentFilter{})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestListByStudentHonorsAccessCheck(t *testing.T) {
	access := &mockAccess{studentErr: appErrors.ErrAccessDenied}
	svc := newEnrollmentServiceForTest(&mockEnrollmentStore{}, &mockUserStore{}, &mockCourseStore{}, access)

	_, _, err := svc.ListByStudent(context.Background(), instructorActor(testInstructorID), testStudentID, models.EnrollmentFilter{})
	assert.ErrorIs(t, err, appErrors.ErrAccessDenied)
}

func TestGetByIDStudentOwnRow(t *testing.T) {
	store := &mockEnrollmentStore{enrollments: map[string]models.Enrollment{
		testEnrollmentID: {ID: testEnrollmentID, StudentID: testStudentID, CourseID: testCourseID, Status: models.EnrollmentStatusActive},
	}}
	svc := newEnrollmentServiceForTest(store, &mockUserStore{}, &mockCourseStore{}, &mockAccess{})

	detail, err := svc.GetByID(context.Background(), studentActor(testStudentID), testEnrollmentID)
	require.NoError(t, err)
	assert.Equal(t, testEnrollmentID, detail.ID)

	_, err = svc.GetByID(context.Background(), studentActor(testStudentID2), testEnrollmentID)
	assert.ErrorIs(t, err, appErrors.ErrAccessDenied)
}
