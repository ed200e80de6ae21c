package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusflow/lms-api/internal/models"
	appErrors "github.com/campusflow/lms-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	Enroll(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	Drop(ctx context.Context, id string) (*models.Enrollment, error)
	SetStatus(ctx context.Context, id string, status models.EnrollmentStatus) (*models.Enrollment, error)
	SetFinalGrade(ctx context.Context, id string, grade float64) error
}

type enrollmentStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type enrollmentCourseRepository interface {
	IsOwnedBy(ctx context.Context, courseID, instructorID string) (bool, error)
}

type accessChecker interface {
	CanAccessCourse(ctx context.Context, actor *models.CurrentUser, courseID string) error
	CanAccessStudent(ctx context.Context, actor *models.CurrentUser, studentID string) error
}

// CacheInvalidator drops cached course entries after seat counts change.
type CacheInvalidator interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// EnrollRequest is the payload for enrolling a student in a course.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid4"`
	CourseID  string `json:"course_id" validate:"required,uuid4"`
}

// SetStatusRequest updates the lifecycle status of an enrollment.
type SetStatusRequest struct {
	Status models.EnrollmentStatus `json:"status" validate:"required"`
}

// SetGradeRequest records a final grade on an enrollment.
type SetGradeRequest struct {
	FinalGrade float64 `json:"final_grade"`
}

// EnrollmentService owns the enrollment lifecycle. Seat accounting is
// transactional inside the repository; this layer adds actor authorization,
// student validation, auditing and cache invalidation.
type EnrollmentService struct {
	enrollments enrollmentRepository
	users       enrollmentStudentRepository
	courses     enrollmentCourseRepository
	access      accessChecker
	cache       CacheInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewEnrollmentService constructs an EnrollmentService instance.
func NewEnrollmentService(
	enrollments enrollmentRepository,
	users enrollmentStudentRepository,
	courses enrollmentCourseRepository,
	access accessChecker,
	cache CacheInvalidator,
	validate *validator.Validate,
	logger *zap.Logger,
) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EnrollmentService{
		enrollments: enrollments,
		users:       users,
		courses:     courses,
		access:      access,
		cache:       cache,
		validator:   validate,
		logger:      logger,
	}
}

// Enroll registers a student in a course. Admins may enroll any student,
// instructors may enroll students into courses they own, students only
// themselves. Capacity, course end date and duplicate checks happen inside a
// single transaction in the repository.
func (s *EnrollmentService) Enroll(ctx context.Context, actor *models.CurrentUser, req EnrollRequest) (*models.Enrollment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthenticated
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleStudent:
		if req.StudentID != actor.ID {
			return nil, appErrors.Clone(appErrors.ErrAccessDenied, "students can only enroll themselves")
		}
	case models.RoleInstructor:
		owned, err := s.courses.IsOwnedBy(ctx, req.CourseID, actor.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course ownership")
		}
		if !owned {
			return nil, appErrors.Clone(appErrors.ErrAccessDenied, "instructors can only enroll students into their own courses")
		}
	default:
		return nil, appErrors.ErrInsufficientRole
	}

	student, err := s.users.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidStudent
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent || !student.Active {
		return nil, appErrors.ErrInvalidStudent
	}

	enrollment, err := s.enrollments.Enroll(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return nil, err
	}

	s.invalidateCourseCache(ctx, req.CourseID)
	s.audit(ctx, actor, models.AuditActionEnroll, enrollment.ID, nil, enrollment)

	s.logger.Info("student enrolled",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", req.StudentID),
		zap.String("course_id", req.CourseID))

	return enrollment, nil
}

// Drop marks an active enrollment as dropped and releases its seat.
func (s *EnrollmentService) Drop(ctx context.Context, actor *models.CurrentUser, enrollmentID string) (*models.Enrollment, error) {
	existing, err := s.authorizeEnrollmentWrite(ctx, actor, enrollmentID, true)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.enrollments.Drop(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	s.invalidateCourseCache(ctx, enrollment.CourseID)
	s.audit(ctx, actor, models.AuditActionDrop, enrollment.ID, existing, enrollment)

	return enrollment, nil
}

// SetStatus transitions an enrollment to the requested status, adjusting the
// course seat counter when the transition crosses the active boundary.
// Only admins and the owning instructor may change status directly.
func (s *EnrollmentService) SetStatus(ctx context.Context, actor *models.CurrentUser, enrollmentID string, req SetStatusRequest) (*models.Enrollment, error) {
	if !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown enrollment status %q", req.Status))
	}

	existing, err := s.authorizeEnrollmentWrite(ctx, actor, enrollmentID, false)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.enrollments.SetStatus(ctx, enrollmentID, req.Status)
	if err != nil {
		return nil, err
	}

	s.invalidateCourseCache(ctx, enrollment.CourseID)
	s.audit(ctx, actor, models.AuditActionStatusChange, enrollment.ID, existing, enrollment)

	return enrollment, nil
}

// SetFinalGrade records a final grade between 0 and 100 inclusive.
func (s *EnrollmentService) SetFinalGrade(ctx context.Context, actor *models.CurrentUser, enrollmentID string, req SetGradeRequest) (*models.Enrollment, error) {
	if req.FinalGrade < 0 || req.FinalGrade > 100 {
		return nil, appErrors.ErrGradeOutOfRange
	}

	existing, err := s.authorizeEnrollmentWrite(ctx, actor, enrollmentID, false)
	if err != nil {
		return nil, err
	}

	if err := s.enrollments.SetFinalGrade(ctx, enrollmentID, req.FinalGrade); err != nil {
		return nil, err
	}

	updated, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload enrollment")
	}

	s.audit(ctx, actor, models.AuditActionGradeChange, enrollmentID, existing, updated)

	return updated, nil
}

// GetByID returns enrollment detail visible to the actor.
func (s *EnrollmentService) GetByID(ctx context.Context, actor *models.CurrentUser, enrollmentID string) (*models.EnrollmentDetail, error) {
	detail, err := s.enrollments.FindDetailByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if err := s.authorizeEnrollmentRead(ctx, actor, &detail.Enrollment); err != nil {
		return nil, err
	}
	return detail, nil
}

// List returns enrollments scoped to what the actor may see. Students are
// always restricted to their own rows; instructors must name a course they
// own.
func (s *EnrollmentService) List(ctx context.Context, actor *models.CurrentUser, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthenticated
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleStudent:
		filter.StudentID = actor.ID
	case models.RoleInstructor:
		if filter.CourseID == "" {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "course_id is required")
		}
		if err := s.access.CanAccessCourse(ctx, actor, filter.CourseID); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, appErrors.ErrInsufficientRole
	}

	if filter.CourseID != "" && actor.Role != models.RoleInstructor {
		if err := s.access.CanAccessCourse(ctx, actor, filter.CourseID); err != nil {
			return nil, nil, err
		}
	}

	enrollments, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, models.NewPagination(filter.Page, filter.Limit, total), nil
}

// ListByStudent returns a student's enrollments when the actor may view them.
func (s *EnrollmentService) ListByStudent(ctx context.Context, actor *models.CurrentUser, studentID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if err := s.access.CanAccessStudent(ctx, actor, studentID); err != nil {
		return nil, nil, err
	}

	filter.StudentID = studentID
	enrollments, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, models.NewPagination(filter.Page, filter.Limit, total), nil
}

// ListByCourse returns a course's enrollments when the actor may view them.
func (s *EnrollmentService) ListByCourse(ctx context.Context, actor *models.CurrentUser, courseID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if err := s.access.CanAccessCourse(ctx, actor, courseID); err != nil {
		return nil, nil, err
	}

	filter.CourseID = courseID
	enrollments, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, models.NewPagination(filter.Page, filter.Limit, total), nil
}

// authorizeEnrollmentWrite loads the enrollment and checks whether the actor
// may mutate it. When allowSelf is set, students may act on their own row.
func (s *EnrollmentService) authorizeEnrollmentWrite(ctx context.Context, actor *models.CurrentUser, enrollmentID string, allowSelf bool) (*models.Enrollment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthenticated
	}
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	switch actor.Role {
	case models.RoleAdmin:
		return enrollment, nil
	case models.RoleStudent:
		if allowSelf && enrollment.StudentID == actor.ID {
			return enrollment, nil
		}
		return nil, appErrors.ErrAccessDenied
	case models.RoleInstructor:
		owned, err := s.courses.IsOwnedBy(ctx, enrollment.CourseID, actor.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course ownership")
		}
		if !owned {
			return nil, appErrors.ErrAccessDenied
		}
		return enrollment, nil
	}
	return nil, appErrors.ErrInsufficientRole
}

func (s *EnrollmentService) authorizeEnrollmentRead(ctx context.Context, actor *models.CurrentUser, enrollment *models.Enrollment) error {
	if actor == nil {
		return appErrors.ErrUnauthenticated
	}
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleStudent:
		if enrollment.StudentID == actor.ID {
			return nil
		}
		return appErrors.ErrAccessDenied
	case models.RoleInstructor:
		owned, err := s.courses.IsOwnedBy(ctx, enrollment.CourseID, actor.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course ownership")
		}
		if !owned {
			return appErrors.ErrAccessDenied
		}
		return nil
	}
	return appErrors.ErrInsufficientRole
}

func (s *EnrollmentService) invalidateCourseCache(ctx context.Context, courseID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "courses:*"); err != nil {
		s.logger.Warn("failed to invalidate course list cache", zap.Error(err))
	}
	if err := s.cache.DeleteByPattern(ctx, "course:"+courseID); err != nil {
		s.logger.Warn("failed to invalidate course cache", zap.String("course_id", courseID), zap.Error(err))
	}
}

func (s *EnrollmentService) audit(ctx context.Context, actor *models.CurrentUser, action, resourceID string, oldValue, newValue interface{}) {
	log := &models.AuditLog{
		UserID:     &actor.ID,
		Action:     action,
		Resource:   "enrollments",
		ResourceID: &resourceID,
	}
	if oldValue != nil {
		if raw, err := json.Marshal(oldValue); err == nil {
			log.OldValues = raw
		}
	}
	if newValue != nil {
		if raw, err := json.Marshal(newValue); err == nil {
			log.NewValues = raw
		}
	}
	if err := s.users.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record enrollment audit log", zap.Error(err))
	}
}
