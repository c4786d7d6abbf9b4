package models

import "time"

// DutyAssignment places one student into one (room, day-of-week) duty slot for
// a term. DayOfWeek follows time.Weekday numbering: 0=Sunday..6=Saturday.
// A student never holds two assignments on the same (term, day-of-week).
type DutyAssignment struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"student_id"`
	RoomID    string    `db:"room_id" json:"room_id"`
	DayOfWeek int       `db:"day_of_week" json:"day_of_week"`
	Term      Term      `db:"term" json:"term"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DutyAssignmentDetail enriches an assignment with display references.
type DutyAssignmentDetail struct {
	DutyAssignment
	StudentName string `db:"student_name" json:"student_name"`
	Grade       int    `db:"grade" json:"grade"`
	ClassName   string `db:"class_name" json:"class_name"`
	RoomName    string `db:"room_name" json:"room_name"`
}

// DutyAssignmentFilter describes query params for listing assignments.
type DutyAssignmentFilter struct {
	Term      Term
	DayOfWeek *int
	RoomID    string
	Grade     *int
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// DutyScheduleSummary aggregates assignment counts over a scope.
type DutyScheduleSummary struct {
	TotalAssignments int            `json:"total_assignments"`
	ByTerm           map[Term]int   `json:"by_term"`
	ByDay            map[int]int    `json:"by_day"`
	ByGrade          map[int]int    `json:"by_grade"`
	ByRoom           map[string]int `json:"by_room"`
	DistinctStudents int            `json:"distinct_students"`
}

// ResetResult reports the outcome of a schedule reset.
type ResetResult struct {
	DeletedCount int                 `json:"deleted_count"`
	Summary      DutyScheduleSummary `json:"summary"`
}
