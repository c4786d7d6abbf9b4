package models

import "time"

// Student represents a library committee member eligible for duty assignment.
type Student struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	ClassID   string    `db:"class_id" json:"class_id"`
	Grade     int       `db:"grade" json:"grade"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentDetail joins the owning class name for list views.
type StudentDetail struct {
	Student
	ClassName string `db:"class_name" json:"class_name"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	ClassID   string
	Grade     *int
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
