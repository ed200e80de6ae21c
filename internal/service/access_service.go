package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/campusflow/lms-api/internal/models"
	appErrors "github.com/campusflow/lms-api/pkg/errors"
)

type accessCourseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	IsOwnedBy(ctx context.Context, courseID, instructorID string) (bool, error)
}

type accessEnrollmentRepository interface {
	HasActiveEnrollment(ctx context.Context, studentID, courseID string) (bool, error)
	InstructorTeachesStudent(ctx context.Context, instructorID, studentID string) (bool, error)
}

// AccessService answers resource-level authorization questions once the
// caller's identity and role are already established.
type AccessService struct {
	courses     accessCourseRepository
	enrollments accessEnrollmentRepository
	logger      *zap.Logger
}

// NewAccessService constructs an AccessService instance.
func NewAccessService(courses accessCourseRepository, enrollments accessEnrollmentRepository, logger *zap.Logger) *AccessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{courses: courses, enrollments: enrollments, logger: logger}
}

// CanAccessCourse reports whether the actor may access the given course.
// Admins may access any course, instructors only courses they own, students
// only courses they hold an active enrollment in. A missing course is
// reported as ErrInvalidCourse so callers do not leak existence to
// unauthorized users ahead of the ownership verdict.
func (s *AccessService) CanAccessCourse(ctx context.Context, actor *models.CurrentUser, courseID string) error {
	if actor == nil {
		return appErrors.ErrUnauthenticated
	}

	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrInvalidCourse
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleInstructor:
		owned, err := s.courses.IsOwnedBy(ctx, courseID, actor.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course ownership")
		}
		if !owned {
			return appErrors.ErrAccessDenied
		}
		return nil
	case models.RoleStudent:
		enrolled, err := s.enrollments.HasActiveEnrollment(ctx, actor.ID, courseID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if !enrolled {
			return appErrors.ErrAccessDenied
		}
		return nil
	}
	return appErrors.ErrInsufficientRole
}

// CanAccessStudent reports whether the actor may access the given student's
// records. Admins always may, students may access only their own, and
// instructors only students actively enrolled in one of their courses.
func (s *AccessService) CanAccessStudent(ctx context.Context, actor *models.CurrentUser, studentID string) error {
	if actor == nil {
		return appErrors.ErrUnauthenticated
	}

	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleStudent:
		if actor.ID == studentID {
			return nil
		}
		return appErrors.ErrAccessDenied
	case models.RoleInstructor:
		teaches, err := s.enrollments.InstructorTeachesStudent(ctx, actor.ID, studentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check teaching relationship")
		}
		if !teaches {
			return appErrors.ErrAccessDenied
		}
		return nil
	}
	return appErrors.ErrInsufficientRole
}
