package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusflow/lms-api/internal/models"
	appErrors "github.com/campusflow/lms-api/pkg/errors"
)

type assessmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Assessment, error)
	ListByCourse(ctx context.Context, courseID string, publishedOnly bool) ([]models.Assessment, error)
	Create(ctx context.Context, assessment *models.Assessment) error
	Update(ctx context.Context, assessment *models.Assessment) error
	Delete(ctx context.Context, id string) error
	FindResult(ctx context.Context, assessmentID, studentID string) (*models.StudentResult, error)
	ListResults(ctx context.Context, assessmentID string) ([]models.StudentResultDetail, error)
	ListStudentResults(ctx context.Context, courseID, studentID string) ([]models.StudentResultDetail, error)
	UpsertResult(ctx context.Context, result *models.StudentResult) error
}

type assessmentEnrollmentRepository interface {
	HasActiveEnrollment(ctx context.Context, studentID, courseID string) (bool, error)
}

// CreateAssessmentRequest is the payload for creating an assessment.
type CreateAssessmentRequest struct {
	Title      string                `json:"title" validate:"required,min=3,max=200"`
	Type       models.AssessmentType `json:"type" validate:"required"`
	TotalMarks float64               `json:"total_marks" validate:"required,gt=0"`
	Weight     float64               `json:"weight" validate:"gte=0,lte=100"`
	DueDate    *time.Time            `json:"due_date"`
	Published  bool                  `json:"is_published"`
}

// UpdateAssessmentRequest is the payload for updating an assessment.
type UpdateAssessmentRequest struct {
	Title      *string                `json:"title" validate:"omitempty,min=3,max=200"`
	Type       *models.AssessmentType `json:"type"`
	TotalMarks *float64               `json:"total_marks" validate:"omitempty,gt=0"`
	Weight     *float64               `json:"weight" validate:"omitempty,gte=0,lte=100"`
	DueDate    *time.Time             `json:"due_date"`
	Published  *bool                  `json:"is_published"`
}

// GradeResultRequest records marks for a student on an assessment.
type GradeResultRequest struct {
	StudentID     string  `json:"student_id" validate:"required,uuid4"`
	MarksObtained float64 `json:"marks_obtained" validate:"gte=0"`
	Remarks       string  `json:"remarks" validate:"max=500"`
}

// AssessmentService manages course assessments and student results. All
// course-scoped authorization goes through the access checker.
type AssessmentService struct {
	assessments assessmentRepository
	enrollments assessmentEnrollmentRepository
	access      accessChecker
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAssessmentService constructs an AssessmentService instance.
func NewAssessmentService(
	assessments assessmentRepository,
	enrollments assessmentEnrollmentRepository,
	access accessChecker,
	validate *validator.Validate,
	logger *zap.Logger,
) *AssessmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AssessmentService{
		assessments: assessments,
		enrollments: enrollments,
		access:      access,
		validator:   validate,
		logger:      logger,
	}
}

// ListByCourse returns a course's assessments. Students only see published
// ones.
func (s *AssessmentService) ListByCourse(ctx context.Context, actor *models.CurrentUser, courseID string) ([]models.Assessment, error) {
	if err := s.access.CanAccessCourse(ctx, actor, courseID); err != nil {
		return nil, err
	}
	publishedOnly := actor.Role == models.RoleStudent
	assessments, err := s.assessments.ListByCourse(ctx, courseID, publishedOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assessments")
	}
	return assessments, nil
}

// Create adds an assessment to a course. Admins and the owning instructor
// only.
func (s *AssessmentService) Create(ctx context.Context, actor *models.CurrentUser, courseID string, req CreateAssessmentRequest) (*models.Assessment, error) {
	if actor.Role == models.RoleStudent {
		return nil, appErrors.ErrInsufficientRole
	}
	if err := s.access.CanAccessCourse(ctx, actor, courseID); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment payload")
	}
	if !req.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown assessment type %q", req.Type))
	}

	assessment := &models.Assessment{
		CourseID:   courseID,
		Title:      req.Title,
		Type:       req.Type,
		TotalMarks: req.TotalMarks,
		Weight:     req.Weight,
		DueDate:    req.DueDate,
		Published:  req.Published,
	}
	if err := s.assessments.Create(ctx, assessment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assessment")
	}
	return assessment, nil
}

// Update modifies an assessment.
func (s *AssessmentService) Update(ctx context.Context, actor *models.CurrentUser, assessmentID string, req UpdateAssessmentRequest) (*models.Assessment, error) {
	if actor.Role == models.RoleStudent {
		return nil, appErrors.ErrInsufficientRole
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment payload")
	}

	assessment, err := s.loadAssessmentForWrite(ctx, actor, assessmentID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		assessment.Title = *req.Title
	}
	if req.Type != nil {
		if !req.Type.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown assessment type %q", *req.Type))
		}
		assessment.Type = *req.Type
	}
	if req.TotalMarks != nil {
		assessment.TotalMarks = *req.TotalMarks
	}
	if req.Weight != nil {
		assessment.Weight = *req.Weight
	}
	if req.DueDate != nil {
		assessment.DueDate = req.DueDate
	}
	if req.Published != nil {
		assessment.Published = *req.Published
	}

	if err := s.assessments.Update(ctx, assessment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assessment")
	}
	return assessment, nil
}

// Delete removes an assessment and its results.
func (s *AssessmentService) Delete(ctx context.Context, actor *models.CurrentUser, assessmentID string) error {
	if actor.Role == models.RoleStudent {
		return appErrors.ErrInsufficientRole
	}
	if _, err := s.loadAssessmentForWrite(ctx, actor, assessmentID); err != nil {
		return err
	}
	if err := s.assessments.Delete(ctx, assessmentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete assessment")
	}
	return nil
}

// GradeResult records or overwrites a student's marks for an assessment. The
// student must hold an active enrollment in the course and the marks cannot
// exceed the assessment total.
func (s *AssessmentService) GradeResult(ctx context.Context, actor *models.CurrentUser, assessmentID string, req GradeResultRequest) (*models.StudentResult, error) {
	if actor.Role == models.RoleStudent {
		return nil, appErrors.ErrInsufficientRole
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid result payload")
	}

	assessment, err := s.loadAssessmentForWrite(ctx, actor, assessmentID)
	if err != nil {
		return nil, err
	}
	if req.MarksObtained > assessment.TotalMarks {
		return nil, appErrors.Clone(appErrors.ErrValidation, "marks cannot exceed the assessment total")
	}

	enrolled, err := s.enrollments.HasActiveEnrollment(ctx, req.StudentID, assessment.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrInvalidStudent, "student is not actively enrolled in this course")
	}

	now := time.Now().UTC()
	result := &models.StudentResult{
		AssessmentID:  assessmentID,
		StudentID:     req.StudentID,
		MarksObtained: req.MarksObtained,
		Remarks:       req.Remarks,
		GradedBy:      &actor.ID,
		GradedAt:      &now,
	}
	if err := s.assessments.UpsertResult(ctx, result); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record result")
	}
	return result, nil
}

// ListResults returns all results for an assessment. Staff only.
func (s *AssessmentService) ListResults(ctx context.Context, actor *models.CurrentUser, assessmentID string) ([]models.StudentResultDetail, error) {
	if actor.Role == models.RoleStudent {
		return nil, appErrors.ErrInsufficientRole
	}
	if _, err := s.loadAssessmentForWrite(ctx, actor, assessmentID); err != nil {
		return nil, err
	}
	results, err := s.assessments.ListResults(ctx, assessmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list results")
	}
	return results, nil
}

// ListStudentResults returns a student's results in a course. The actor must
// be allowed to see both the course and the student.
func (s *AssessmentService) ListStudentResults(ctx context.Context, actor *models.CurrentUser, courseID, studentID string) ([]models.StudentResultDetail, error) {
	if err := s.access.CanAccessStudent(ctx, actor, studentID); err != nil {
		return nil, err
	}
	if err := s.access.CanAccessCourse(ctx, actor, courseID); err != nil {
		return nil, err
	}
	results, err := s.assessments.ListStudentResults(ctx, courseID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list results")
	}
	return results, nil
}

func (s *AssessmentService) loadAssessmentForWrite(ctx context.Context, actor *models.CurrentUser, assessmentID string) (*models.Assessment, error) {
	assessment, err := s.assessments.FindByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
	}
	if err := s.access.CanAccessCourse(ctx, actor, assessment.CourseID); err != nil {
		return nil, err
	}
	return assessment, nil
}
