package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. Entering active reserves a seat on the
// course, leaving active releases it.
const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusDropped   EnrollmentStatus = "dropped"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
)

// Valid reports whether the status is one of the known values.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusActive, EnrollmentStatusDropped, EnrollmentStatusCompleted:
		return true
	}
	return false
}

// Enrollment captures a student's registration in a course. There is one
// logical row per (student, course) pair; dropped rows are reactivated
// instead of duplicated and rows are never hard-deleted.
type Enrollment struct {
	ID                   string           `db:"id" json:"id"`
	StudentID            string           `db:"student_id" json:"student_id"`
	CourseID             string           `db:"course_id" json:"course_id"`
	EnrollmentDate       time.Time        `db:"enrollment_date" json:"enrollment_date"`
	Status               EnrollmentStatus `db:"status" json:"status"`
	FinalGrade           *float64         `db:"final_grade" json:"final_grade,omitempty"`
	AttendancePercentage float64          `db:"attendance_percentage" json:"attendance_percentage"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentFirstName    string  `db:"student_first_name" json:"student_first_name"`
	StudentLastName     string  `db:"student_last_name" json:"student_last_name"`
	StudentEmail        string  `db:"student_email" json:"student_email"`
	StudentNumber       *string `db:"student_number" json:"student_number,omitempty"`
	CourseCode          string  `db:"course_code" json:"course_code"`
	CourseTitle         string  `db:"course_title" json:"course_title"`
	InstructorFirstName string  `db:"instructor_first_name" json:"instructor_first_name"`
	InstructorLastName  string  `db:"instructor_last_name" json:"instructor_last_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	CourseID  string
	Status    EnrollmentStatus
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}
