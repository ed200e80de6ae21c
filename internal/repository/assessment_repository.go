package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusflow/lms-api/internal/models"
)

// AssessmentRepository handles persistence of assessments and student results.
type AssessmentRepository struct {
	db *sqlx.DB
}

// NewAssessmentRepository constructs the repository.
func NewAssessmentRepository(db *sqlx.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// FindByID returns an assessment by its ID.
func (r *AssessmentRepository) FindByID(ctx context.Context, id string) (*models.Assessment, error) {
	const query = `SELECT id, course_id, title, type, total_marks, weight, due_date, is_published, created_at, updated_at
FROM assessments WHERE id = $1`
	var assessment models.Assessment
	if err := r.db.GetContext(ctx, &assessment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find assessment: %w", err)
	}
	return &assessment, nil
}

// ListByCourse returns all assessments for a course.
func (r *AssessmentRepository) ListByCourse(ctx context.Context, courseID string, publishedOnly bool) ([]models.Assessment, error) {
	query := `SELECT id, course_id, title, type, total_marks, weight, due_date, is_published, created_at, updated_at
FROM assessments WHERE course_id = $1`
	args := []interface{}{courseID}
	if publishedOnly {
		query += " AND is_published = true"
	}
	query += " ORDER BY due_date ASC NULLS LAST, created_at ASC"

	var assessments []models.Assessment
	if err := r.db.SelectContext(ctx, &assessments, query, args...); err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	return assessments, nil
}

// Create persists a new assessment.
func (r *AssessmentRepository) Create(ctx context.Context, assessment *models.Assessment) error {
	if assessment.ID == "" {
		assessment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assessment.CreatedAt.IsZero() {
		assessment.CreatedAt = now
	}
	assessment.UpdatedAt = now
	const query = `INSERT INTO assessments (id, course_id, title, type, total_marks, weight, due_date, is_published, created_at, updated_at)
VALUES (:id, :course_id, :title, :type, :total_marks, :weight, :due_date, :is_published, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assessment); err != nil {
		return fmt.Errorf("create assessment: %w", err)
	}
	return nil
}

// Update persists mutable assessment fields.
func (r *AssessmentRepository) Update(ctx context.Context, assessment *models.Assessment) error {
	assessment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE assessments SET title = :title, type = :type, total_marks = :total_marks, weight = :weight,
due_date = :due_date, is_published = :is_published, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, assessment); err != nil {
		return fmt.Errorf("update assessment: %w", err)
	}
	return nil
}

// Delete removes an assessment and its results.
func (r *AssessmentRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM student_results WHERE assessment_id = $1`, id); err != nil {
		return fmt.Errorf("delete assessment results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assessments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete assessment: %w", err)
	}
	return tx.Commit()
}

// FindResult returns a student's result for an assessment.
func (r *AssessmentRepository) FindResult(ctx context.Context, assessmentID, studentID string) (*models.StudentResult, error) {
	const query = `SELECT id, assessment_id, student_id, marks_obtained, remarks, graded_by, graded_at, created_at
FROM student_results WHERE assessment_id = $1 AND student_id = $2 LIMIT 1`
	var result models.StudentResult
	if err := r.db.GetContext(ctx, &result, query, assessmentID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find result: %w", err)
	}
	return &result, nil
}

// ListResults returns graded results for an assessment with student info.
func (r *AssessmentRepository) ListResults(ctx context.Context, assessmentID string) ([]models.StudentResultDetail, error) {
	const query = `SELECT r.id, r.assessment_id, r.student_id, r.marks_obtained, r.remarks, r.graded_by, r.graded_at, r.created_at,
u.first_name AS student_first_name, u.last_name AS student_last_name,
a.title AS assessment_title, a.total_marks
FROM student_results r
INNER JOIN users u ON u.id = r.student_id
INNER JOIN assessments a ON a.id = r.assessment_id
WHERE r.assessment_id = $1
ORDER BY u.last_name ASC, u.first_name ASC`
	var results []models.StudentResultDetail
	if err := r.db.SelectContext(ctx, &results, query, assessmentID); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return results, nil
}

// ListStudentResults returns a student's results across a course.
func (r *AssessmentRepository) ListStudentResults(ctx context.Context, courseID, studentID string) ([]models.StudentResultDetail, error) {
	const query = `SELECT r.id, r.assessment_id, r.student_id, r.marks_obtained, r.remarks, r.graded_by, r.graded_at, r.created_at,
u.first_name AS student_first_name, u.last_name AS student_last_name,
a.title AS assessment_title, a.total_marks
FROM student_results r
INNER JOIN users u ON u.id = r.student_id
INNER JOIN assessments a ON a.id = r.assessment_id
WHERE a.course_id = $1 AND r.student_id = $2
ORDER BY a.due_date ASC NULLS LAST`
	var results []models.StudentResultDetail
	if err := r.db.SelectContext(ctx, &results, query, courseID, studentID); err != nil {
		return nil, fmt.Errorf("list student results: %w", err)
	}
	return results, nil
}

// UpsertResult records or overwrites a student's marks for an assessment.
func (r *AssessmentRepository) UpsertResult(ctx context.Context, result *models.StudentResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO student_results (id, assessment_id, student_id, marks_obtained, remarks, graded_by, graded_at, created_at)
VALUES (:id, :assessment_id, :student_id, :marks_obtained, :remarks, :graded_by, :graded_at, :created_at)
ON CONFLICT (assessment_id, student_id)
DO UPDATE SET marks_obtained = EXCLUDED.marks_obtained, remarks = EXCLUDED.remarks, graded_by = EXCLUDED.graded_by, graded_at = EXCLUDED.graded_at`
	if _, err := r.db.NamedExecContext(ctx, query, result); err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}
