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
)

func newCourseRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCourseRepositoryCreateAndFind(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO courses")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	course := &models.Course{
		CourseCode:   "CS101",
		Title:        "Intro to Computer Science",
		InstructorID: "instr-1",
		Credits:      3,
		MaxStudents:  30,
		StartDate:    time.Now(),
		EndDate:      time.Now().Add(90 * 24 * time.Hour),
		Active:       true,
	}
	require.NoError(t, repo.Create(context.Background(), course))
	require.NotEmpty(t, course.ID)
	require.False(t, course.CreatedAt.IsZero())

	rows := sqlmock.NewRows([]string{"id", "course_code", "title", "description", "instructor_id", "credits", "department", "max_students", "current_students", "start_date", "end_date", "is_active", "created_at", "updated_at"}).
		AddRow(course.ID, "CS101", "Intro to Computer Science", nil, "instr-1", 3, nil, 30, 0, course.StartDate, course.EndDate, true, course.CreatedAt, course.UpdatedAt)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, course_code, title")).
		WithArgs(course.ID).
		WillReturnRows(rows)

	found, err := repo.FindByID(context.Background(), course.ID)
	require.NoError(t, err)
	require.Equal(t, "CS101", found.CourseCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "course_code", "title", "description", "instructor_id", "credits", "department", "max_students", "current_students", "start_date", "end_date", "is_active", "created_at", "updated_at", "instructor_first_name", "instructor_last_name"}).
		AddRow("course-1", "CS101", "Intro to Computer Science", nil, "instr-1", 3, nil, 30, 12, now, now.Add(time.Hour), true, now, now, "Ada", "Lovelace")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT c.id, c.course_code")).
		WithArgs("instr-1", true).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM courses c")).
		WithArgs("instr-1", true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	active := true
	courses, total, err := repo.List(context.Background(), models.CourseFilter{InstructorID: "instr-1", Active: &active})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, courses, 1)
	require.Equal(t, "Ada", courses[0].InstructorFirstName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryIsOwnedBy(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM courses WHERE id = $1 AND instructor_id = $2 LIMIT 1")).
		WithArgs("course-1", "instr-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	owned, err := repo.IsOwnedBy(context.Background(), "course-1", "instr-1")
	require.NoError(t, err)
	require.True(t, owned)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM courses WHERE id = $1 AND instructor_id = $2 LIMIT 1")).
		WithArgs("course-1", "instr-2").
		WillReturnError(sql.ErrNoRows)
	owned, err = repo.IsOwnedBy(context.Background(), "course-1", "instr-2")
	require.NoError(t, err)
	require.False(t, owned)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryVerifySeatCounter(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT c.current_students")).
		WithArgs("course-1", models.EnrollmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"current_students", "actual"}).AddRow(12, 11))

	cached, actual, err := repo.VerifySeatCounter(context.Background(), "course-1")
	require.NoError(t, err)
	require.Equal(t, 12, cached)
	require.Equal(t, 11, actual)
	require.NoError(t, mock.ExpectationsWereMet())
}
