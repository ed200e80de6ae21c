package models

import "time"

// AssessmentType enumerates supported assessment categories.
type AssessmentType string

const (
	AssessmentTypeQuiz       AssessmentType = "quiz"
	AssessmentTypeAssignment AssessmentType = "assignment"
	AssessmentTypeMidterm    AssessmentType = "midterm"
	AssessmentTypeFinal      AssessmentType = "final"
	AssessmentTypeProject    AssessmentType = "project"
)

// Valid reports whether the assessment type is known.
func (t AssessmentType) Valid() bool {
	switch t {
	case AssessmentTypeQuiz, AssessmentTypeAssignment, AssessmentTypeMidterm, AssessmentTypeFinal, AssessmentTypeProject:
		return true
	}
	return false
}

// Assessment is a graded activity belonging to a course.
type Assessment struct {
	ID         string         `db:"id" json:"id"`
	CourseID   string         `db:"course_id" json:"course_id"`
	Title      string         `db:"title" json:"title"`
	Type       AssessmentType `db:"type" json:"type"`
	TotalMarks float64        `db:"total_marks" json:"total_marks"`
	Weight     float64        `db:"weight" json:"weight"`
	DueDate    *time.Time     `db:"due_date" json:"due_date,omitempty"`
	Published  bool           `db:"is_published" json:"is_published"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// StudentResult records a student's marks for an assessment.
type StudentResult struct {
	ID            string     `db:"id" json:"id"`
	AssessmentID  string     `db:"assessment_id" json:"assessment_id"`
	StudentID     string     `db:"student_id" json:"student_id"`
	MarksObtained float64    `db:"marks_obtained" json:"marks_obtained"`
	Remarks       string     `db:"remarks" json:"remarks,omitempty"`
	GradedBy      *string    `db:"graded_by" json:"graded_by,omitempty"`
	GradedAt      *time.Time `db:"graded_at" json:"graded_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// StudentResultDetail enriches a result with student and assessment info.
type StudentResultDetail struct {
	StudentResult
	StudentFirstName string  `db:"student_first_name" json:"student_first_name"`
	StudentLastName  string  `db:"student_last_name" json:"student_last_name"`
	AssessmentTitle  string  `db:"assessment_title" json:"assessment_title"`
	TotalMarks       float64 `db:"total_marks" json:"total_marks"`
}
