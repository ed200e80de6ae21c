package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusflow/lms-api/internal/models"
	appErrors "github.com/campusflow/lms-api/pkg/errors"
)

const enrollmentColumns = `id, student_id, course_id, enrollment_date, status, final_grade, attendance_percentage`

const enrollmentDetailQuery = `SELECT e.id, e.student_id, e.course_id, e.enrollment_date, e.status, e.final_grade, e.attendance_percentage,
u.first_name AS student_first_name, u.last_name AS student_last_name, u.email AS student_email, u.student_id AS student_number,
c.course_code, c.title AS course_title,
i.first_name AS instructor_first_name, i.last_name AS instructor_last_name
FROM enrollments e
INNER JOIN users u ON u.id = e.student_id
INNER JOIN courses c ON c.id = e.course_id
INNER JOIN users i ON i.id = c.instructor_id`

// EnrollmentRepository handles persistence of enrollments and owns every
// mutation of the course seat counter. Enroll, Drop and SetStatus run inside
// a single transaction that locks the course row before the capacity check,
// so concurrent enrollments on a near-full course serialize instead of
// overshooting max_students.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
INNER JOIN users u ON u.id = e.student_id
INNER JOIN courses c ON c.id = e.course_id
INNER JOIN users i ON i.id = c.instructor_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrollment_date": "e.enrollment_date",
		"student_name":    "u.last_name",
		"course_code":     "c.course_code",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrollment_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	offset := (page - 1) * limit

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.course_id, e.enrollment_date, e.status, e.final_grade, e.attendance_percentage,
u.first_name AS student_first_name, u.last_name AS student_last_name, u.email AS student_email, u.student_id AS student_number,
c.course_code, c.title AS course_title,
i.first_name AS instructor_first_name, i.last_name AS instructor_last_name
%s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, limit, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with student and course info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	query := enrollmentDetailQuery + ` WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment detail: %w", err)
	}
	return &detail, nil
}

// HasActiveEnrollment reports whether the student holds an active enrollment
// in the course.
func (r *EnrollmentRepository) HasActiveEnrollment(ctx context.Context, studentID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID, models.EnrollmentStatusActive); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// InstructorTeachesStudent reports whether the instructor owns at least one
// course in which the student holds an active enrollment.
func (r *EnrollmentRepository) InstructorTeachesStudent(ctx context.Context, instructorID, studentID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments e
INNER JOIN courses c ON c.id = e.course_id
WHERE e.student_id = $1 AND c.instructor_id = $2 AND e.status = $3
LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, instructorID, models.EnrollmentStatusActive); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check instructor-student relation: %w", err)
	}
	return true, nil
}

// lockedCourse is the slice of the course row read under FOR UPDATE.
type lockedCourse struct {
	ID              string    `db:"id"`
	MaxStudents     int       `db:"max_students"`
	CurrentStudents int       `db:"current_students"`
	EndDate         time.Time `db:"end_date"`
	Active          bool      `db:"is_active"`
}

func lockCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (*lockedCourse, error) {
	const query = `SELECT id, max_students, current_students, end_date, is_active FROM courses WHERE id = $1 FOR UPDATE`
	var course lockedCourse
	if err := tx.GetContext(ctx, &course, query, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrInvalidCourse
		}
		return nil, fmt.Errorf("lock course row: %w", err)
	}
	return &course, nil
}

func adjustSeats(ctx context.Context, tx *sqlx.Tx, courseID string, delta int) error {
	const query = `UPDATE courses SET current_students = current_students + $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, courseID, delta, time.Now().UTC()); err != nil {
		return fmt.Errorf("adjust seat counter: %w", err)
	}
	return nil
}

// Enroll creates a new active enrollment or reactivates a dropped one, and
// reserves a seat on the course, all in one transaction. Business-rule
// violations come back as typed errors from the errors package.
func (r *EnrollmentRepository) Enroll(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enroll tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	course, err := lockCourse(ctx, tx, courseID)
	if err != nil {
		return nil, err
	}
	if !course.Active {
		return nil, appErrors.ErrInvalidCourse
	}
	if time.Now().UTC().After(course.EndDate) {
		return nil, appErrors.ErrEnrollmentEnded
	}

	var existing models.Enrollment
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1`, enrollmentColumns)
	err = tx.GetContext(ctx, &existing, query, studentID, courseID)
	switch {
	case err == nil:
		switch existing.Status {
		case models.EnrollmentStatusActive:
			return nil, appErrors.ErrAlreadyEnrolled
		case models.EnrollmentStatusCompleted:
			return nil, appErrors.Clone(appErrors.ErrConflict, "course already completed by student")
		}
	case err == sql.ErrNoRows:
		existing = models.Enrollment{}
	default:
		return nil, fmt.Errorf("find prior enrollment: %w", err)
	}

	if course.CurrentStudents >= course.MaxStudents {
		return nil, appErrors.ErrCourseFull
	}

	now := time.Now().UTC()
	if existing.ID != "" {
		// Reactivation keeps the logical row; the enrollment date resets.
		const update = `UPDATE enrollments SET status = $2, enrollment_date = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, existing.ID, models.EnrollmentStatusActive, now); err != nil {
			return nil, fmt.Errorf("reactivate enrollment: %w", err)
		}
		existing.Status = models.EnrollmentStatusActive
		existing.EnrollmentDate = now
	} else {
		existing = models.Enrollment{
			ID:             uuid.NewString(),
			StudentID:      studentID,
			CourseID:       courseID,
			EnrollmentDate: now,
			Status:         models.EnrollmentStatusActive,
		}
		const insert = `INSERT INTO enrollments (id, student_id, course_id, enrollment_date, status, attendance_percentage)
VALUES (:id, :student_id, :course_id, :enrollment_date, :status, :attendance_percentage)`
		if _, err := tx.NamedExecContext(ctx, insert, existing); err != nil {
			return nil, fmt.Errorf("create enrollment: %w", err)
		}
	}

	if err := adjustSeats(ctx, tx, courseID, 1); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enroll tx: %w", err)
	}
	return &existing, nil
}

// Drop transitions an active enrollment to dropped and releases its seat.
// Returns NotActive when the enrollment is not currently active, so a second
// drop never double-decrements the counter.
func (r *EnrollmentRepository) Drop(ctx context.Context, id string) (*models.Enrollment, error) {
	return r.changeStatus(ctx, id, models.EnrollmentStatusDropped, true)
}

// SetStatus overwrites the enrollment status, adjusting the seat counter only
// when the transition crosses the active boundary. Transitions between the
// three statuses are otherwise unrestricted, matching instructor workflows.
func (r *EnrollmentRepository) SetStatus(ctx context.Context, id string, status models.EnrollmentStatus) (*models.Enrollment, error) {
	return r.changeStatus(ctx, id, status, false)
}

func (r *EnrollmentRepository) changeStatus(ctx context.Context, id string, status models.EnrollmentStatus, requireActive bool) (*models.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin status tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var enrollment models.Enrollment
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1 FOR UPDATE`, enrollmentColumns)
	if err := tx.GetContext(ctx, &enrollment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("lock enrollment row: %w", err)
	}

	if requireActive && enrollment.Status != models.EnrollmentStatusActive {
		return nil, appErrors.ErrNotActive
	}

	entering := enrollment.Status != models.EnrollmentStatusActive && status == models.EnrollmentStatusActive
	leaving := enrollment.Status == models.EnrollmentStatusActive && status != models.EnrollmentStatusActive

	if entering || leaving {
		course, err := lockCourse(ctx, tx, enrollment.CourseID)
		if err != nil {
			return nil, err
		}
		if entering {
			if course.CurrentStudents >= course.MaxStudents {
				return nil, appErrors.ErrCourseFull
			}
			if err := adjustSeats(ctx, tx, enrollment.CourseID, 1); err != nil {
				return nil, err
			}
		} else if course.CurrentStudents > 0 {
			if err := adjustSeats(ctx, tx, enrollment.CourseID, -1); err != nil {
				return nil, err
			}
		}
	}

	const update = `UPDATE enrollments SET status = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update, id, status); err != nil {
		return nil, fmt.Errorf("update enrollment status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit status tx: %w", err)
	}
	enrollment.Status = status
	return &enrollment, nil
}

// SetFinalGrade updates the final grade. Pure field update with no
// state-machine effect.
func (r *EnrollmentRepository) SetFinalGrade(ctx context.Context, id string, grade float64) error {
	const query = `UPDATE enrollments SET final_grade = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, grade)
	if err != nil {
		return fmt.Errorf("update final grade: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return appErrors.ErrEnrollmentNotFound
	}
	return nil
}

// ListRoster returns all enrollments for a course ordered by student name,
// used by roster exports.
func (r *EnrollmentRepository) ListRoster(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	query := enrollmentDetailQuery + ` WHERE e.course_id = $1 ORDER BY u.last_name ASC, u.first_name ASC`
	var roster []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &roster, query, courseID); err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	return roster, nil
}
