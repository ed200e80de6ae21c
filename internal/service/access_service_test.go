package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusflow/lms-api/internal/models"
	appErrors "github.com/campusflow/lms-api/pkg/errors"
)

type mockAccessCourses struct {
	courses map[string]models.Course
	owners  map[string]string
}

func (m *mockAccessCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAccessCourses) IsOwnedBy(ctx context.Context, courseID, instructorID string) (bool, error) {
	return m.owners[courseID] == instructorID, nil
}

type mockAccessEnrollments struct {
	active  map[string]bool
	teaches map[string]bool
}

func (m *mockAccessEnrollments) HasActiveEnrollment(ctx context.Context, studentID, courseID string) (bool, error) {
	return m.active[studentID+"/"+courseID], nil
}

func (m *mockAccessEnrollments) InstructorTeachesStudent(ctx context.Context, instructorID, studentID string) (bool, error) {
	return m.teaches[instructorID+"/"+studentID], nil
}

func newAccessServiceForTest(courses *mockAccessCourses, enrollments *mockAccessEnrollments) *AccessService {
	return NewAccessService(courses, enrollments, zap.NewNop())
}

func TestCanAccessCourseMatrix(t *testing.T) {
	courses := &mockAccessCourses{
		courses: map[string]models.Course{testCourseID: {ID: testCourseID}},
		owners:  map[string]string{testCourseID: testInstructorID},
	}
	enrollments := &mockAccessEnrollments{
		active: map[string]bool{testStudentID + "/" + testCourseID: true},
	}
	svc := newAccessServiceForTest(courses, enrollments)
	ctx := context.Background()

	assert.NoError(t, svc.CanAccessCourse(ctx, admin(), testCourseID))
	assert.NoError(t, svc.CanAccessCourse(ctx, instructorActor(testInstructorID), testCourseID))
	assert.NoError(t, svc.CanAccessCourse(ctx, studentActor(testStudentID), testCourseID))

	err := svc.CanAccessCourse(ctx, instructorActor("other-instructor"), testCourseID)
	assert.ErrorIs(t, err, appErrors.ErrAccessDenied)

	err = svc.CanAccessCourse(ctx, studentActor(testStudentID2), testCourseID)
	assert.ErrorIs(t, err, appErrors.ErrAccessDenied)
}

func TestCanAccessCourseUnknownCourse(t *testing.T) {
	svc := newAccessServiceForTest(&mockAccessCourses{}, &mockAccessEnrollments{})

	err := svc.CanAccessCourse(context.Background(), admin(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrInvalidCourse)
}

func TestCanAccessCourseNilActor(t *testing.T) {
	svc := newAccessServiceForTest(&mockAccessCourses{}, &mockAccessEnrollments{})

	err := svc.CanAccessCourse(context.Background(), nil, testCourseID)
	assert.ErrorIs(t, err, appErrors.ErrUnauthenticated)
}

func TestCanAccessCourseUnknownRole(t *testing.T) {
	courses := &mockAccessCourses{courses: map[string]models.Course{testCourseID: {ID: testCourseID}}}
	svc := newAccessServiceForTest(courses, &mockAccessEnrollments{})

	actor := &models.CurrentUser{ID: "x", Role: models.UserRole("superuser"), Active: true}
	err := svc.CanAccessCourse(context.Background(), actor, testCourseID)
	assert.ErrorIs(t, err, appErrors.ErrInsufficientRole)
}

func TestCanAccessStudentMatrix(t *testing.T) {
	enrollments := &mockAccessEnrollments{
		teaches: map[string]bool{testInstructorID + "/" + testStudentID: true},
	}
	svc := newAccessServiceForTest(&mockAccessCourses{}, enrollments)
	ctx := context.Background()

	assert.NoError(t, svc.CanAccessStudent(ctx, admin(), testStudentID))
	assert.NoError(t, svc.CanAccessStudent(ctx, studentActor(testStudentID), testStudentID))
	assert.NoError(t, svc.CanAccessStudent(ctx, instructorActor(testInstructorID), testStudentID))

	err := svc.CanAccessStudent(ctx, studentActor(testStudentID2), testStudentID)
	assert.ErrorIs(t, err, appErrors.ErrAccessDenied)

	err = svc.CanAccessStudent(ctx, instructorActor("other-instructor"), testStudentID)
	assert.ErrorIs(t, err, appErrors.ErrAccessDenied)

	require.ErrorIs(t, svc.CanAccessStudent(ctx, nil, testStudentID), appErrors.ErrUnauthenticated)
}
