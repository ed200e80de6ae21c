package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/campusflow/lms-api/internal/models"
	appErrors "github.com/campusflow/lms-api/pkg/errors"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

const lockCourseQuery = `SELECT id, max_students, current_students, end_date, is_active FROM courses WHERE id = $1 FOR UPDATE`

func courseRow(max, current int, endDate time.Time, active bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "max_students", "current_students", "end_date", "is_active"}).
		AddRow("course-1", max, current, endDate, active)
}

func enrollmentRow(id string, status models.EnrollmentStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "student_id", "course_id", "enrollment_date", "status", "final_grade", "attendance_percentage"}).
		AddRow(id, "student-1", "course-1", time.Now(), status, nil, 0.0)
}

func TestEnrollmentRepositoryEnrollNewStudent(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockCourseQuery)).
		WithArgs("course-1").
		WillReturnRows(courseRow(30, 12, time.Now().Add(24*time.Hour), true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id, enrollment_date, status, final_grade, attendance_percentage FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1")).
		WithArgs("student-1", "course-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET current_students = current_students + $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment, err := repo.Enroll(context.Background(), "student-1", "course-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.NotEmpty(t, enrollment.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryEnrollCourseFull(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockCourseQuery)).
		WithArgs("course-1").
		WillReturnRows(courseRow(30, 30, time.Now().Add(24*time.Hour), true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id, enrollment_date, status, final_grade, attendance_percentage FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1")).
		WithArgs("student-1", "course-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Enroll(context.Background(), "student-1", "course-1")
	require.ErrorIs(t, err, appErrors.ErrCourseFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryEnrollAlreadyActive(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockCourseQuery)).
		WithArgs("course-1").
		WillReturnRows(courseRow(30, 12, time.Now().Add(24*time.Hour), true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id, enrollment_date, status, final_grade, attendance_percentage FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1")).
		WithArgs("student-1", "course-1").
		WillReturnRows(enrollmentRow("enr-1", models.EnrollmentStatusActive))
	mock.ExpectRollback()

	_, err := repo.Enroll(context.Background(), "student-1", "course-1")
	require.ErrorIs(t, err, appErrors.ErrAlreadyEnrolled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryEnrollReactivatesDroppedRow(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockCourseQuery)).
		WithArgs("course-1").
		WillReturnRows(courseRow(30, 12, time.Now().Add(24*time.Hour), true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id, enrollment_date, status, final_grade, attendance_percentage FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1")).
		WithArgs("student-1", "course-1").
		WillReturnRows(enrollmentRow("enr-1", models.EnrollmentStatusDropped))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, enrollment_date = $3 WHERE id = $1")).
		WithArgs("enr-1", models.EnrollmentStatusActive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET current_students = current_students + $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment, err := repo.Enroll(context.Background(), "student-1", "course-1")
	require.NoError(t, err)
	require.Equal(t, "enr-1", enrollment.ID)
	require.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryEnrollAfterEndDate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockCourseQuery)).
		WithArgs("course-1").
		WillReturnRows(courseRow(30, 12, time.Now().Add(-24*time.Hour), true))
	mock.ExpectRollback()

	_, err := repo.Enroll(context.Background(), "student-1", "course-1")
	require.ErrorIs(t, err, appErrors.ErrEnrollmentEnded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryEnrollUnknownCourse(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockCourseQuery)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Enroll(context.Background(), "student-1", "missing")
	require.ErrorIs(t, err, appErrors.ErrInvalidCourse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDropReleasesSeat(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id, enrollment_date, status, final_grade, attendance_percentage FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRow("enr-1", models.EnrollmentStatusActive))
	mock.ExpectQuery(regexp.QuoteMeta(lockCourseQuery)).
		WithArgs("course-1").
		WillReturnRows(courseRow(30, 12, time.Now().Add(24*time.Hour), true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET current_students = current_students + $2")).
		WithArgs("course-1", -1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2 WHERE id = $1")).
		WithArgs("enr-1", models.EnrollmentStatusDropped).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment, err := repo.Drop(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusDropped, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDropNotActive(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id, enrollment_date, status, final_grade, attendance_percentage FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRow("enr-1", models.EnrollmentStatusDropped))
	mock.ExpectRollback()

	_, err := repo.Drop(context.Background(), "enr-1")
	require.ErrorIs(t, err, appErrors.ErrNotActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDropSkipsDecrementAtZero(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id, enrollment_date, status, final_grade, attendance_percentage FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRow("enr-1", models.EnrollmentStatusActive))
	mock.ExpectQuery(regexp.QuoteMeta(lockCourseQuery)).
		WithArgs("course-1").
		WillReturnRows(courseRow(30, 0, time.Now().Add(24*time.Hour), true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2 WHERE id = $1")).
		WithArgs("enr-1", models.EnrollmentStatusDropped).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := repo.Drop(context.Background(), "enr-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySetStatusCompletedKeepsSeats(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	// dropped -> completed never touches the seat counter
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id, enrollment_date, status, final_grade, attendance_percentage FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRow("enr-1", models.EnrollmentStatusDropped))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2 WHERE id = $1")).
		WithArgs("enr-1", models.EnrollmentStatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment, err := repo.SetStatus(context.Background(), "enr-1", models.EnrollmentStatusCompleted)
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySetStatusReactivateChecksCapacity(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id, enrollment_date, status, final_grade, attendance_percentage FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRow("enr-1", models.EnrollmentStatusDropped))
	mock.ExpectQuery(regexp.QuoteMeta(lockCourseQuery)).
		WithArgs("course-1").
		WillReturnRows(courseRow(30, 30, time.Now().Add(24*time.Hour), true))
	mock.ExpectRollback()

	_, err := repo.SetStatus(context.Background(), "enr-1", models.EnrollmentStatusActive)
	require.ErrorIs(t, err, appErrors.ErrCourseFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySetFinalGrade(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET final_grade = $2 WHERE id = $1")).
		WithArgs("enr-1", 87.5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetFinalGrade(context.Background(), "enr-1", 87.5))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET final_grade = $2 WHERE id = $1")).
		WithArgs("missing", 87.5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.SetFinalGrade(context.Background(), "missing", 87.5)
	require.ErrorIs(t, err, appErrors.ErrEnrollmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryHasActiveEnrollment(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status = $3 LIMIT 1")).
		WithArgs("student-1", "course-1", models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	ok, err := repo.HasActiveEnrollment(context.Background(), "student-1", "course-1")
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status = $3 LIMIT 1")).
		WithArgs("student-2", "course-1", models.EnrollmentStatusActive).
		WillReturnError(sql.ErrNoRows)
	ok, err = repo.HasActiveEnrollment(context.Background(), "student-2", "course-1")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
