package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/library-duty-api/internal/models"
	"github.com/noah-isme/library-duty-api/pkg/config"
	appErrors "github.com/noah-isme/library-duty-api/pkg/errors"
)

type rosterStub struct {
	students []models.Student
	err      error
}

func (s rosterStub) ListActive(ctx context.Context) ([]models.Student, error) {
	return s.students, s.err
}

type roomStub struct {
	rooms []models.Room
	err   error
}

func (s roomStub) List(ctx context.Context) ([]models.Room, error) {
	return s.rooms, s.err
}

// memoryAssignmentStore mimics the persistence contract in memory. WithinTx
// snapshots state and restores it when the callback errors, matching rollback
// semantics.
type memoryAssignmentStore struct {
	assignments []models.DutyAssignment
	lockedTerms []models.Term
	listErr     error
}

func (m *memoryAssignmentStore) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	snapshot := make([]models.DutyAssignment, len(m.assignments))
	copy(snapshot, m.assignments)
	if err := fn(nil); err != nil {
		m.assignments = snapshot
		return err
	}
	return nil
}

func (m *memoryAssignmentStore) LockTerm(ctx context.Context, exec sqlx.ExtContext, term models.Term) error {
	m.lockedTerms = append(m.lockedTerms, term)
	return nil
}

func (m *memoryAssignmentStore) matches(a models.DutyAssignment, scope models.TermScope) bool {
	return scope == models.ScopeAll || models.TermScope(a.Term) == scope
}

func (m *memoryAssignmentStore) CountByScope(ctx context.Context, exec sqlx.ExtContext, scope models.TermScope) (int, error) {
	count := 0
	for _, a := range m.assignments {
		if m.matches(a, scope) {
			count++
		}
	}
	return count, nil
}

func (m *memoryAssignmentStore) List(ctx context.Context, filter models.DutyAssignmentFilter) ([]models.DutyAssignmentDetail, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	details := make([]models.DutyAssignmentDetail, 0, len(m.assignments))
	for _, a := range m.assignments {
		if filter.Term != "" && a.Term != filter.Term {
			continue
		}
		details = append(details, models.DutyAssignmentDetail{DutyAssignment: a})
	}
	return details, len(details), nil
}

func (m *memoryAssignmentStore) BulkCreate(ctx context.Context, exec sqlx.ExtContext, assignments []models.DutyAssignment) error {
	for i := range assignments {
		assignments[i].ID = fmt.Sprintf("assignment-%03d", len(m.assignments)+i+1)
	}
	m.assignments = append(m.assignments, assignments...)
	return nil
}

func (m *memoryAssignmentStore) DeleteByScope(ctx context.Context, exec sqlx.ExtContext, scope models.TermScope) (int, error) {
	kept := m.assignments[:0]
	deleted := 0
	for _, a := range m.assignments {
		if m.matches(a, scope) {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	m.assignments = kept
	return deleted, nil
}

func (m *memoryAssignmentStore) SummarizeByScope(ctx context.Context, exec sqlx.ExtContext, scope models.TermScope) (*models.DutyScheduleSummary, error) {
	summary := &models.DutyScheduleSummary{
		ByTerm:  make(map[models.Term]int),
		ByDay:   make(map[int]int),
		ByGrade: make(map[int]int),
		ByRoom:  make(map[string]int),
	}
	students := make(map[string]bool)
	for _, a := range m.assignments {
		if !m.matches(a, scope) {
			continue
		}
		summary.TotalAssignments++
		summary.ByTerm[a.Term]++
		summary.ByDay[a.DayOfWeek]++
		summary.ByRoom[a.RoomID]++
		students[a.StudentID] = true
	}
	summary.DistinctStudents = len(students)
	return summary, nil
}

func schedulerTestConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		DutyDays:              []int{1, 2, 3, 4, 5},
		MinCoverage:           1.0,
		AssignmentsPerStudent: 1,
	}
}

func newDutyServiceFixture(store *memoryAssignmentStore, students []models.Student, rooms []models.Room) *DutyScheduleService {
	return NewDutyScheduleService(
		store,
		rosterStub{students: students},
		roomStub{rooms: rooms},
		nil, nil, nil, nil,
		schedulerTestConfig(),
	)
}

func TestDutyScheduleServiceGenerateSuccess(t *testing.T) {
	store := &memoryAssignmentStore{}
	service := newDutyServiceFixture(store, rosterStudents(8), []models.Room{
		{ID: "room-a", Capacity: 2},
		{ID: "room-b", Capacity: 2},
	})

	result, err := service.Generate(context.Background(), GenerateScheduleRequest{Term: models.TermFirst})
	require.NoError(t, err)

	assert.Equal(t, models.TermFirst, result.Term)
	assert.Equal(t, 8, result.Stats.TotalAssignments)
	assert.False(t, result.Regenerated)
	assert.Len(t, store.assignments, 8)
	assert.Equal(t, []models.Term{models.TermFirst}, store.lockedTerms)
	for _, a := range store.assignments {
		assert.NotEmpty(t, a.ID, "persisted assignments must carry ids")
	}
}

func TestDutyScheduleServiceGenerateRefusesExisting(t *testing.T) {
	store := &memoryAssignmentStore{
		assignments: []models.DutyAssignment{
			{ID: "existing-1", StudentID: "student-01", RoomID: "room-a", DayOfWeek: 1, Term: models.TermFirst},
		},
	}
	service := newDutyServiceFixture(store, rosterStudents(8), []models.Room{{ID: "room-a", Capacity: 4}})

	_, err := service.Generate(context.Background(), GenerateScheduleRequest{Term: models.TermFirst})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrScheduleAlreadyExists.Code, appErrors.FromError(err).Code)
	assert.Len(t, store.assignments, 1, "existing schedule must stay untouched")
	assert.Equal(t, "existing-1", store.assignments[0].ID)
}

func TestDutyScheduleServiceGenerateDoesNotTouchOtherTerm(t *testing.T) {
	store := &memoryAssignmentStore{
		assignments: []models.DutyAssignment{
			{ID: "second-1", StudentID: "student-01", RoomID: "room-a", DayOfWeek: 2, Term: models.TermSecond},
		},
	}
	service := newDutyServiceFixture(store, rosterStudents(4), []models.Room{{ID: "room-a", Capacity: 4}})

	result, err := service.Generate(context.Background(), GenerateScheduleRequest{Term: models.TermFirst})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Stats.TotalAssignments)
	assert.Len(t, store.assignments, 5, "second term assignments must survive")
}

func TestDutyScheduleServiceForceRegenerateReplaces(t *testing.T) {
	store := &memoryAssignmentStore{
		assignments: []models.DutyAssignment{
			{ID: "old-1", StudentID: "student-01", RoomID: "room-a", DayOfWeek: 1, Term: models.TermFirst},
			{ID: "old-2", StudentID: "student-02", RoomID: "room-a", DayOfWeek: 2, Term: models.TermFirst},
		},
	}
	service := newDutyServiceFixture(store, rosterStudents(6), []models.Room{{ID: "room-a", Capacity: 2}})

	result, err := service.Generate(context.Background(), GenerateScheduleRequest{
		Term:            models.TermFirst,
		ForceRegenerate: true,
	})
	require.NoError(t, err)

	assert.True(t, result.Regenerated)
	assert.Equal(t, 2, result.ReplacedCount)
	assert.Len(t, store.assignments, 6, "old schedule must be replaced, not merged")
	for _, a := range store.assignments {
		assert.NotContains(t, []string{"old-1", "old-2"}, a.ID)
	}
}

func TestDutyScheduleServiceGeneratePreconditions(t *testing.T) {
	t.Run("no students", func(t *testing.T) {
		store := &memoryAssignmentStore{}
		service := newDutyServiceFixture(store, nil, []models.Room{{ID: "room-a", Capacity: 2}})

		_, err := service.Generate(context.Background(), GenerateScheduleRequest{Term: models.TermFirst})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrNoEligibleStudents.Code, appErrors.FromError(err).Code)
		assert.Empty(t, store.assignments)
	})

	t.Run("no rooms", func(t *testing.T) {
		store := &memoryAssignmentStore{}
		service := newDutyServiceFixture(store, rosterStudents(4), nil)

		_, err := service.Generate(context.Background(), GenerateScheduleRequest{Term: models.TermFirst})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrNoRoomsAvailable.Code, appErrors.FromError(err).Code)
	})

	t.Run("insufficient capacity", func(t *testing.T) {
		store := &memoryAssignmentStore{}
		service := newDutyServiceFixture(store, rosterStudents(10), []models.Room{{ID: "room-a", Capacity: 1}})

		_, err := service.Generate(context.Background(), GenerateScheduleRequest{Term: models.TermFirst})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrInsufficientCapacity.Code, appErrors.FromError(err).Code)
		assert.Empty(t, store.assignments, "failed generation must not persist anything")
	})

	t.Run("invalid term", func(t *testing.T) {
		service := newDutyServiceFixture(&memoryAssignmentStore{}, rosterStudents(4), []models.Room{{ID: "room-a", Capacity: 2}})

		_, err := service.Generate(context.Background(), GenerateScheduleRequest{Term: "MID_TERM"})
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	})
}

func TestDutyScheduleServiceResetRequiresConfirmation(t *testing.T) {
	store := &memoryAssignmentStore{
		assignments: []models.DutyAssignment{
			{ID: "a1", StudentID: "student-01", RoomID: "room-a", DayOfWeek: 1, Term: models.TermFirst},
		},
	}
	service := newDutyServiceFixture(store, nil, nil)

	_, err := service.Reset(context.Background(), ResetScheduleRequest{Scope: models.ScopeFirstTerm})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConfirmationRequired.Code, appErrors.FromError(err).Code)
	assert.Len(t, store.assignments, 1, "unconfirmed reset must delete nothing")
}

func TestDutyScheduleServiceResetSingleTerm(t *testing.T) {
	store := &memoryAssignmentStore{
		assignments: []models.DutyAssignment{
			{ID: "a1", StudentID: "student-01", RoomID: "room-a", DayOfWeek: 1, Term: models.TermFirst},
			{ID: "a2", StudentID: "student-02", RoomID: "room-a", DayOfWeek: 2, Term: models.TermFirst},
			{ID: "a3", StudentID: "student-01", RoomID: "room-b", DayOfWeek: 1, Term: models.TermSecond},
		},
	}
	service := newDutyServiceFixture(store, nil, nil)

	result, err := service.Reset(context.Background(), ResetScheduleRequest{
		Scope:         models.ScopeFirstTerm,
		ConfirmDelete: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.DeletedCount)
	assert.Equal(t, 2, result.Summary.TotalAssignments)
	assert.Equal(t, 2, result.Summary.DistinctStudents)
	assert.Len(t, store.assignments, 1, "other term must survive a scoped reset")
	assert.Equal(t, models.TermSecond, store.assignments[0].Term)
	assert.Equal(t, []models.Term{models.TermFirst}, store.lockedTerms)
}

func TestDutyScheduleServiceResetAll(t *testing.T) {
	store := &memoryAssignmentStore{
		assignments: []models.DutyAssignment{
			{ID: "a1", StudentID: "student-01", RoomID: "room-a", DayOfWeek: 1, Term: models.TermFirst},
			{ID: "a2", StudentID: "student-02", RoomID: "room-b", DayOfWeek: 3, Term: models.TermSecond},
		},
	}
	service := newDutyServiceFixture(store, nil, nil)

	result, err := service.Reset(context.Background(), ResetScheduleRequest{
		Scope:         models.ScopeAll,
		ConfirmDelete: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.DeletedCount)
	assert.Empty(t, store.assignments)
	assert.Equal(t, []models.Term{models.TermFirst, models.TermSecond}, store.lockedTerms)
}

func TestDutyScheduleServiceResetEmptyScope(t *testing.T) {
	store := &memoryAssignmentStore{}
	service := newDutyServiceFixture(store, nil, nil)

	_, err := service.Reset(context.Background(), ResetScheduleRequest{
		Scope:         models.ScopeAll,
		ConfirmDelete: true,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoScheduleToDelete.Code, appErrors.FromError(err).Code)

	// Running it again yields the same outcome, never a partial delete.
	_, err = service.Reset(context.Background(), ResetScheduleRequest{
		Scope:         models.ScopeAll,
		ConfirmDelete: true,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoScheduleToDelete.Code, appErrors.FromError(err).Code)
}

func TestDutyScheduleServiceListPaginates(t *testing.T) {
	store := &memoryAssignmentStore{
		assignments: []models.DutyAssignment{
			{ID: "a1", StudentID: "student-01", RoomID: "room-a", DayOfWeek: 1, Term: models.TermFirst},
			{ID: "a2", StudentID: "student-02", RoomID: "room-a", DayOfWeek: 2, Term: models.TermFirst},
		},
	}
	service := newDutyServiceFixture(store, nil, nil)

	items, pagination, err := service.List(context.Background(), models.DutyAssignmentFilter{Term: models.TermFirst})
	require.NoError(t, err)

	assert.Len(t, items, 2)
	require.NotNil(t, pagination)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, 2, pagination.TotalCount)
}

func TestDutyScheduleServiceSummary(t *testing.T) {
	store := &memoryAssignmentStore{
		assignments: []models.DutyAssignment{
			{ID: "a1", StudentID: "student-01", RoomID: "room-a", DayOfWeek: 1, Term: models.TermFirst},
			{ID: "a2", StudentID: "student-01", RoomID: "room-b", DayOfWeek: 3, Term: models.TermFirst},
		},
	}
	service := newDutyServiceFixture(store, nil, nil)

	summary, err := service.Summary(context.Background(), models.TermFirst)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalAssignments)
	assert.Equal(t, 1, summary.DistinctStudents)
	assert.Equal(t, 1, summary.ByRoom["room-a"])
	assert.Equal(t, 1, summary.ByDay[3])

	_, err = service.Summary(context.Background(), models.Term("MID_TERM"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
