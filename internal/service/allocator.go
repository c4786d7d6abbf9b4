package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/noah-isme/library-duty-api/internal/models"
	appErrors "github.com/noah-isme/library-duty-api/pkg/errors"
)

// AllocationConfig tunes a single allocation run.
type AllocationConfig struct {
	// DutyDays lists the days of week carrying duty slots, 0=Sunday..6=Saturday.
	DutyDays []int
	// MinCoverage is the required fraction of students receiving at least one
	// assignment; capacity is checked against it before placement starts.
	MinCoverage float64
	// AssignmentsPerStudent caps weekly assignments per student.
	AssignmentsPerStudent int
}

// AllocationStats aggregates the shape of a generated schedule.
type AllocationStats struct {
	TotalAssignments   int            `json:"total_assignments"`
	AssignedStudents   int            `json:"assigned_students"`
	UnassignedStudents int            `json:"unassigned_students"`
	Coverage           float64        `json:"coverage"`
	PerRoom            map[string]int `json:"per_room"`
	PerDay             map[int]int    `json:"per_day"`
	PerGrade           map[int]int    `json:"per_grade"`
}

// AllocationResult carries assignment candidates plus run statistics. The
// candidates have no IDs or timestamps; the store stamps those on persist.
type AllocationResult struct {
	Assignments          []models.DutyAssignment `json:"assignments"`
	Stats                AllocationStats         `json:"stats"`
	UnassignedStudentIDs []string                `json:"unassigned_student_ids,omitempty"`
}

// dutySlot is one (day-of-week, room) pair with a capacity budget.
type dutySlot struct {
	day      int
	roomID   string
	capacity int
	load     int
}

func (c AllocationConfig) normalized() AllocationConfig {
	out := c
	if len(out.DutyDays) == 0 {
		out.DutyDays = []int{1, 2, 3, 4, 5}
	} else {
		seen := make(map[int]struct{}, len(out.DutyDays))
		days := make([]int, 0, len(out.DutyDays))
		for _, d := range out.DutyDays {
			if d < 0 || d > 6 {
				continue
			}
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			days = append(days, d)
		}
		sort.Ints(days)
		out.DutyDays = days
	}
	if out.MinCoverage <= 0 || out.MinCoverage > 1 {
		out.MinCoverage = 1.0
	}
	if out.AssignmentsPerStudent < 1 {
		out.AssignmentsPerStudent = 1
	}
	return out
}

// Allocate computes a conflict-free, capacity-respecting duty assignment set
// for one term. It is pure and deterministic: identical inputs always produce
// the identical assignment list.
//
// Students are walked in roster order (class, grade, name, id). Each placement
// picks the feasible slot with the least cumulative load, breaking ties by
// ascending room id and then ascending day-of-week, which spreads load evenly
// across rooms and days. A student already on duty that day is never placed
// there again; a student with no feasible slot left is reported as unassigned
// rather than failing the run.
func Allocate(students []models.Student, rooms []models.Room, term models.Term, cfg AllocationConfig) (*AllocationResult, error) {
	cfg = cfg.normalized()

	if !term.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown term %q", term))
	}
	if len(students) == 0 {
		return nil, appErrors.ErrNoEligibleStudents
	}

	usableRooms := make([]models.Room, 0, len(rooms))
	for _, room := range rooms {
		if room.Capacity >= 1 {
			usableRooms = append(usableRooms, room)
		}
	}
	if len(usableRooms) == 0 {
		return nil, appErrors.ErrNoRoomsAvailable
	}

	ordered := make([]models.Student, len(students))
	copy(ordered, students)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.ClassID != b.ClassID {
			return a.ClassID < b.ClassID
		}
		if a.Grade != b.Grade {
			return a.Grade < b.Grade
		}
		if a.FullName != b.FullName {
			return a.FullName < b.FullName
		}
		return a.ID < b.ID
	})

	sort.SliceStable(usableRooms, func(i, j int) bool {
		return usableRooms[i].ID < usableRooms[j].ID
	})

	weeklyCapacity := 0
	for _, room := range usableRooms {
		weeklyCapacity += room.Capacity * len(cfg.DutyDays)
	}
	required := int(math.Ceil(float64(len(ordered)) * cfg.MinCoverage))
	if weeklyCapacity < required {
		return nil, appErrors.Clone(appErrors.ErrInsufficientCapacity,
			fmt.Sprintf("weekly capacity %d cannot cover %d required assignments", weeklyCapacity, required))
	}

	slots := make([]*dutySlot, 0, len(cfg.DutyDays)*len(usableRooms))
	for _, day := range cfg.DutyDays {
		for _, room := range usableRooms {
			slots = append(slots, &dutySlot{day: day, roomID: room.ID, capacity: room.Capacity})
		}
	}

	occupiedDays := make(map[string]map[int]bool, len(ordered))
	assignmentCount := make(map[string]int, len(ordered))
	var assignments []models.DutyAssignment

	for round := 0; round < cfg.AssignmentsPerStudent; round++ {
		for _, student := range ordered {
			slot := pickSlot(slots, occupiedDays[student.ID])
			if slot == nil {
				continue
			}
			slot.load++
			if occupiedDays[student.ID] == nil {
				occupiedDays[student.ID] = make(map[int]bool, len(cfg.DutyDays))
			}
			occupiedDays[student.ID][slot.day] = true
			assignmentCount[student.ID]++
			assignments = append(assignments, models.DutyAssignment{
				StudentID: student.ID,
				RoomID:    slot.roomID,
				DayOfWeek: slot.day,
				Term:      term,
			})
		}
	}

	stats := AllocationStats{
		TotalAssignments: len(assignments),
		PerRoom:          make(map[string]int),
		PerDay:           make(map[int]int),
		PerGrade:         make(map[int]int),
	}
	gradeByStudent := make(map[string]int, len(ordered))
	for _, student := range ordered {
		gradeByStudent[student.ID] = student.Grade
	}
	for _, a := range assignments {
		stats.PerRoom[a.RoomID]++
		stats.PerDay[a.DayOfWeek]++
		stats.PerGrade[gradeByStudent[a.StudentID]]++
	}

	var unassigned []string
	for _, student := range ordered {
		if assignmentCount[student.ID] == 0 {
			unassigned = append(unassigned, student.ID)
		}
	}
	stats.AssignedStudents = len(ordered) - len(unassigned)
	stats.UnassignedStudents = len(unassigned)
	stats.Coverage = float64(stats.AssignedStudents) / float64(len(ordered))

	return &AllocationResult{
		Assignments:          assignments,
		Stats:                stats,
		UnassignedStudentIDs: unassigned,
	}, nil
}

// pickSlot selects the feasible slot with the least cumulative load, then the
// smallest room id, then the earliest day. Returns nil when the student cannot
// be placed anywhere without a same-day double-booking or a capacity breach.
func pickSlot(slots []*dutySlot, studentDays map[int]bool) *dutySlot {
	var best *dutySlot
	for _, slot := range slots {
		if slot.load >= slot.capacity {
			continue
		}
		if studentDays[slot.day] {
			continue
		}
		if best == nil || slotLess(slot, best) {
			best = slot
		}
	}
	return best
}

func slotLess(a, b *dutySlot) bool {
	if a.load != b.load {
		return a.load < b.load
	}
	if a.roomID != b.roomID {
		return a.roomID < b.roomID
	}
	return a.day < b.day
}
