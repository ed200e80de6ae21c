package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusflow/lms-api/internal/models"
	appErrors "github.com/campusflow/lms-api/pkg/errors"
)

type courseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, id string) error
	IsOwnedBy(ctx context.Context, courseID, instructorID string) (bool, error)
}

type courseUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CourseCache is the cache surface the course service reads through.
type CourseCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateCourseRequest is the payload for creating a course.
type CreateCourseRequest struct {
	CourseCode   string    `json:"course_code" validate:"required,min=2,max=20"`
	Title        string    `json:"title" validate:"required,min=3,max=200"`
	Description  string    `json:"description"`
	InstructorID string    `json:"instructor_id" validate:"required,uuid4"`
	Credits      int       `json:"credits" validate:"required,min=1,max=12"`
	Department   string    `json:"department"`
	MaxStudents  int       `json:"max_students" validate:"required,min=1"`
	StartDate    time.Time `json:"start_date" validate:"required"`
	EndDate      time.Time `json:"end_date" validate:"required"`
}

// UpdateCourseRequest is the payload for updating course metadata. The seat
// counter is not part of it.
type UpdateCourseRequest struct {
	Title       *string    `json:"title" validate:"omitempty,min=3,max=200"`
	Description *string    `json:"description"`
	Credits     *int       `json:"credits" validate:"omitempty,min=1,max=12"`
	Department  *string    `json:"department"`
	MaxStudents *int       `json:"max_students" validate:"omitempty,min=1"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	Active      *bool      `json:"is_active"`
}

// CourseService manages course offerings with read-through Redis caching.
type CourseService struct {
	courses   courseRepository
	users     courseUserRepository
	cache     CourseCache
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewCourseService constructs a CourseService instance.
func NewCourseService(courses courseRepository, users courseUserRepository, cache CourseCache, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &CourseService{courses: courses, users: users, cache: cache, validator: validate, logger: logger, cacheTTL: cacheTTL}
}

type cachedCourseList struct {
	Courses []models.CourseDetail `json:"courses"`
	Total   int                   `json:"total"`
}

// List returns courses matching the filter. Unfiltered first pages are served
// from cache when available.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, *models.Pagination, error) {
	cacheKey := s.listCacheKey(filter)
	if s.cache != nil && cacheKey != "" {
		var cached cachedCourseList
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached.Courses, models.NewPagination(filter.Page, filter.Limit, cached.Total), nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("course list cache read failed", zap.Error(err))
		}
	}

	courses, total, err := s.courses.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}

	if s.cache != nil && cacheKey != "" {
		if err := s.cache.Set(ctx, cacheKey, cachedCourseList{Courses: courses, Total: total}, s.cacheTTL); err != nil {
			s.logger.Warn("course list cache write failed", zap.Error(err))
		}
	}

	return courses, models.NewPagination(filter.Page, filter.Limit, total), nil
}

// GetByID returns course detail, served read-through from cache.
func (s *CourseService) GetByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	cacheKey := "course:" + id
	if s.cache != nil {
		var cached models.CourseDetail
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("course cache read failed", zap.Error(err))
		}
	}

	course, err := s.courses.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, course, s.cacheTTL); err != nil {
			s.logger.Warn("course cache write failed", zap.Error(err))
		}
	}
	return course, nil
}

// Create adds a new course offering. Admins may assign any instructor;
// instructors may only create courses for themselves. The instructor must be
// an active user with the instructor role.
func (s *CourseService) Create(ctx context.Context, actor *models.CurrentUser, req CreateCourseRequest) (*models.Course, error) {
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleInstructor:
		if req.InstructorID != actor.ID {
			return nil, appErrors.Clone(appErrors.ErrAccessDenied, "instructors can only create courses for themselves")
		}
	default:
		return nil, appErrors.ErrInsufficientRole
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must be after start_date")
	}

	instructor, err := s.users.FindByID(ctx, req.InstructorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}
	if instructor.Role != models.RoleInstructor || !instructor.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "instructor must be an active instructor account")
	}

	course := &models.Course{
		CourseCode:   req.CourseCode,
		Title:        req.Title,
		Description:  req.Description,
		InstructorID: req.InstructorID,
		Credits:      req.Credits,
		Department:   req.Department,
		MaxStudents:  req.MaxStudents,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Active:       true,
	}

	if err := s.courses.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	s.invalidateCache(ctx, course.ID)
	s.audit(ctx, actor, "COURSE_CREATE", course.ID, nil, course)

	return course, nil
}

// Update modifies course metadata. Admins may update any course, instructors
// only their own.
func (s *CourseService) Update(ctx context.Context, actor *models.CurrentUser, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleInstructor:
		if course.InstructorID != actor.ID {
			return nil, appErrors.ErrAccessDenied
		}
	default:
		return nil, appErrors.ErrInsufficientRole
	}

	before := *course
	if req.Title != nil {
		course.Title = *req.Title
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.Credits != nil {
		course.Credits = *req.Credits
	}
	if req.Department != nil {
		course.Department = *req.Department
	}
	if req.MaxStudents != nil {
		if *req.MaxStudents < course.CurrentStudents {
			return nil, appErrors.Clone(appErrors.ErrValidation, "max_students cannot be below the current enrollment count")
		}
		course.MaxStudents = *req.MaxStudents
	}
	if req.StartDate != nil {
		course.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		course.EndDate = *req.EndDate
	}
	if req.Active != nil {
		course.Active = *req.Active
	}
	if !course.EndDate.After(course.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must be after start_date")
	}

	if err := s.courses.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}

	s.invalidateCache(ctx, course.ID)
	s.audit(ctx, actor, "COURSE_UPDATE", course.ID, &before, course)

	return course, nil
}

// Delete removes a course offering. Admins may delete any course, instructors
// only their own; either way deletion is blocked while the course still holds
// seats.
func (s *CourseService) Delete(ctx context.Context, actor *models.CurrentUser, id string) error {
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleInstructor {
		return appErrors.ErrInsufficientRole
	}

	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if actor.Role == models.RoleInstructor && course.InstructorID != actor.ID {
		return appErrors.ErrAccessDenied
	}

	if course.CurrentStudents > 0 {
		return appErrors.ErrCourseNotEmpty
	}

	if err := s.courses.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}

	s.invalidateCache(ctx, id)
	s.audit(ctx, actor, "COURSE_DELETE", id, course, nil)

	return nil
}

func (s *CourseService) listCacheKey(filter models.CourseFilter) string {
	// Only cache the common unsearched listings; search terms are too
	// high-cardinality to be worth keeping.
	if filter.Search != "" {
		return ""
	}
	active := "all"
	if filter.Active != nil {
		active = fmt.Sprintf("%t", *filter.Active)
	}
	return fmt.Sprintf("courses:list:%s:%s:%s:%d:%d:%s:%s",
		filter.InstructorID, filter.Department, active, filter.Page, filter.Limit, filter.SortBy, filter.SortOrder)
}

func (s *CourseService) invalidateCache(ctx context.Context, courseID string) {
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

func (s *CourseService) audit(ctx context.Context, actor *models.CurrentUser, action, resourceID string, oldValue, newValue interface{}) {
	log := &models.AuditLog{
		UserID:     &actor.ID,
		Action:     action,
		Resource:   "courses",
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
		s.logger.Warn("failed to record course audit log", zap.Error(err))
	}
}
