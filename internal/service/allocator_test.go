package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/library-duty-api/internal/models"
	appErrors "github.com/noah-isme/library-duty-api/pkg/errors"
)

func rosterStudents(n int) []models.Student {
	students := make([]models.Student, 0, n)
	for i := 0; i < n; i++ {
		students = append(students, models.Student{
			ID:       fmt.Sprintf("student-%02d", i+1),
			FullName: fmt.Sprintf("Student %02d", i+1),
			ClassID:  fmt.Sprintf("class-%d", i%2+1),
			Grade:    5 + i%2,
			Active:   true,
		})
	}
	return students
}

func weekdayConfig() AllocationConfig {
	return AllocationConfig{
		DutyDays:              []int{1, 2, 3, 4, 5},
		MinCoverage:           1.0,
		AssignmentsPerStudent: 1,
	}
}

func TestAllocateAssignsEveryStudentOnce(t *testing.T) {
	students := rosterStudents(8)
	rooms := []models.Room{
		{ID: "room-a", Name: "Reading Room", Capacity: 2},
		{ID: "room-b", Name: "Reference Room", Capacity: 2},
	}

	result, err := Allocate(students, rooms, models.TermFirst, weekdayConfig())
	require.NoError(t, err)

	assert.Equal(t, 8, result.Stats.TotalAssignments)
	assert.Equal(t, 8, result.Stats.AssignedStudents)
	assert.Equal(t, 0, result.Stats.UnassignedStudents)
	assert.Empty(t, result.UnassignedStudentIDs)
	assert.InDelta(t, 1.0, result.Stats.Coverage, 1e-9)

	seen := make(map[string]bool, len(students))
	for _, a := range result.Assignments {
		assert.Equal(t, models.TermFirst, a.Term)
		assert.False(t, seen[a.StudentID], "student %s assigned twice", a.StudentID)
		seen[a.StudentID] = true
	}
}

func TestAllocateRespectsSlotCapacity(t *testing.T) {
	students := rosterStudents(20)
	rooms := []models.Room{
		{ID: "room-a", Capacity: 2},
		{ID: "room-b", Capacity: 3},
	}
	capacity := map[string]int{"room-a": 2, "room-b": 3}

	result, err := Allocate(students, rooms, models.TermSecond, weekdayConfig())
	require.NoError(t, err)

	slotLoad := make(map[string]int)
	for _, a := range result.Assignments {
		key := fmt.Sprintf("%s|%d", a.RoomID, a.DayOfWeek)
		slotLoad[key]++
		assert.LessOrEqual(t, slotLoad[key], capacity[a.RoomID],
			"slot %s exceeds room capacity", key)
	}
}

func TestAllocateNeverDoubleBooksADay(t *testing.T) {
	students := rosterStudents(6)
	rooms := []models.Room{
		{ID: "room-a", Capacity: 4},
		{ID: "room-b", Capacity: 4},
	}
	cfg := weekdayConfig()
	cfg.AssignmentsPerStudent = 3

	result, err := Allocate(students, rooms, models.TermFirst, cfg)
	require.NoError(t, err)

	days := make(map[string]map[int]bool)
	for _, a := range result.Assignments {
		if days[a.StudentID] == nil {
			days[a.StudentID] = make(map[int]bool)
		}
		assert.False(t, days[a.StudentID][a.DayOfWeek],
			"student %s placed twice on day %d", a.StudentID, a.DayOfWeek)
		days[a.StudentID][a.DayOfWeek] = true
	}
	for id, d := range days {
		assert.Equal(t, 3, len(d), "student %s should hold three weekly slots", id)
	}
}

func TestAllocateIsDeterministic(t *testing.T) {
	students := rosterStudents(15)
	rooms := []models.Room{
		{ID: "room-a", Capacity: 2},
		{ID: "room-b", Capacity: 2},
	}

	first, err := Allocate(students, rooms, models.TermFirst, weekdayConfig())
	require.NoError(t, err)

	// Reverse the inputs; the engine must sort them back into roster order.
	reversed := make([]models.Student, 0, len(students))
	for i := len(students) - 1; i >= 0; i-- {
		reversed = append(reversed, students[i])
	}
	shuffledRooms := []models.Room{rooms[1], rooms[0]}

	second, err := Allocate(reversed, shuffledRooms, models.TermFirst, weekdayConfig())
	require.NoError(t, err)

	assert.Equal(t, first.Assignments, second.Assignments)
	assert.Equal(t, first.Stats, second.Stats)
}

func TestAllocateSpreadsLoadAcrossRoomsAndDays(t *testing.T) {
	students := rosterStudents(10)
	rooms := []models.Room{
		{ID: "room-a", Capacity: 2},
		{ID: "room-b", Capacity: 2},
	}

	result, err := Allocate(students, rooms, models.TermFirst, weekdayConfig())
	require.NoError(t, err)

	assert.Equal(t, 5, result.Stats.PerRoom["room-a"])
	assert.Equal(t, 5, result.Stats.PerRoom["room-b"])
	for day := 1; day <= 5; day++ {
		assert.Equal(t, 2, result.Stats.PerDay[day], "day %d should hold an even share", day)
	}
}

func TestAllocateInsufficientCapacity(t *testing.T) {
	students := rosterStudents(10)
	rooms := []models.Room{{ID: "room-a", Capacity: 1}}

	result, err := Allocate(students, rooms, models.TermFirst, weekdayConfig())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, appErrors.ErrInsufficientCapacity.Code, appErrors.FromError(err).Code)
}

func TestAllocatePartialCoverageReportsUnassigned(t *testing.T) {
	students := rosterStudents(4)
	rooms := []models.Room{{ID: "room-a", Capacity: 1}}
	cfg := AllocationConfig{
		DutyDays:              []int{1, 2},
		MinCoverage:           0.5,
		AssignmentsPerStudent: 1,
	}

	result, err := Allocate(students, rooms, models.TermFirst, cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stats.TotalAssignments)
	assert.Equal(t, 2, result.Stats.AssignedStudents)
	assert.Equal(t, 2, result.Stats.UnassignedStudents)
	assert.Len(t, result.UnassignedStudentIDs, 2)
	assert.InDelta(t, 0.5, result.Stats.Coverage, 1e-9)
}

func TestAllocateNoEligibleStudents(t *testing.T) {
	rooms := []models.Room{{ID: "room-a", Capacity: 2}}

	_, err := Allocate(nil, rooms, models.TermFirst, weekdayConfig())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoEligibleStudents.Code, appErrors.FromError(err).Code)
}

func TestAllocateNoUsableRooms(t *testing.T) {
	students := rosterStudents(3)

	_, err := Allocate(students, nil, models.TermFirst, weekdayConfig())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoRoomsAvailable.Code, appErrors.FromError(err).Code)

	_, err = Allocate(students, []models.Room{{ID: "room-a", Capacity: 0}}, models.TermFirst, weekdayConfig())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoRoomsAvailable.Code, appErrors.FromError(err).Code)
}

func TestAllocateRejectsUnknownTerm(t *testing.T) {
	students := rosterStudents(2)
	rooms := []models.Room{{ID: "room-a", Capacity: 2}}

	_, err := Allocate(students, rooms, models.Term("SUMMER"), weekdayConfig())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAllocationConfigNormalizesInput(t *testing.T) {
	cfg := AllocationConfig{
		DutyDays:              []int{5, 3, 3, 9, -1, 1},
		MinCoverage:           1.7,
		AssignmentsPerStudent: 0,
	}.normalized()

	assert.Equal(t, []int{1, 3, 5}, cfg.DutyDays)
	assert.InDelta(t, 1.0, cfg.MinCoverage, 1e-9)
	assert.Equal(t, 1, cfg.AssignmentsPerStudent)
}
