package models

import "time"

// Course represents a course offering taught by a single instructor.
// CurrentStudents is a cached seat counter kept equal to the number of active
// enrollments; it is only mutated inside the enrollment transaction.
type Course struct {
	ID              string    `db:"id" json:"id"`
	CourseCode      string    `db:"course_code" json:"course_code"`
	Title           string    `db:"title" json:"title"`
	Description     string    `db:"description" json:"description,omitempty"`
	InstructorID    string    `db:"instructor_id" json:"instructor_id"`
	Credits         int       `db:"credits" json:"credits"`
	Department      string    `db:"department" json:"department,omitempty"`
	MaxStudents     int       `db:"max_students" json:"max_students"`
	CurrentStudents int       `db:"current_students" json:"current_students"`
	StartDate       time.Time `db:"start_date" json:"start_date"`
	EndDate         time.Time `db:"end_date" json:"end_date"`
	Active          bool      `db:"is_active" json:"is_active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// CourseDetail enriches Course with instructor info for list endpoints.
type CourseDetail struct {
	Course
	InstructorFirstName string `db:"instructor_first_name" json:"instructor_first_name"`
	InstructorLastName  string `db:"instructor_last_name" json:"instructor_last_name"`
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	InstructorID string
	Department   string
	Active       *bool
	Search       string
	Page         int
	Limit        int
	SortBy       string
	SortOrder    string
}
