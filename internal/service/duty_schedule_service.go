package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/library-duty-api/internal/models"
	"github.com/noah-isme/library-duty-api/pkg/config"
	appErrors "github.com/noah-isme/library-duty-api/pkg/errors"
)

type studentRoster interface {
	ListActive(ctx context.Context) ([]models.Student, error)
}

type roomRoster interface {
	List(ctx context.Context) ([]models.Room, error)
}

type assignmentStore interface {
	WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	LockTerm(ctx context.Context, exec sqlx.ExtContext, term models.Term) error
	CountByScope(ctx context.Context, exec sqlx.ExtContext, scope models.TermScope) (int, error)
	List(ctx context.Context, filter models.DutyAssignmentFilter) ([]models.DutyAssignmentDetail, int, error)
	BulkCreate(ctx context.Context, exec sqlx.ExtContext, assignments []models.DutyAssignment) error
	DeleteByScope(ctx context.Context, exec sqlx.ExtContext, scope models.TermScope) (int, error)
	SummarizeByScope(ctx context.Context, exec sqlx.ExtContext, scope models.TermScope) (*models.DutyScheduleSummary, error)
}

// GenerateScheduleRequest triggers duty schedule generation for one term.
type GenerateScheduleRequest struct {
	Term            models.Term `json:"term" validate:"required"`
	ForceRegenerate bool        `json:"force_regenerate"`
}

// GenerateScheduleResult returns the persisted schedule with run statistics.
type GenerateScheduleResult struct {
	Term                 models.Term             `json:"term"`
	Assignments          []models.DutyAssignment `json:"assignments"`
	Stats                AllocationStats         `json:"stats"`
	UnassignedStudentIDs []string                `json:"unassigned_student_ids,omitempty"`
	Regenerated          bool                    `json:"regenerated"`
	ReplacedCount        int                     `json:"replaced_count"`
}

// ResetScheduleRequest asks for deletion of a term's (or every) schedule.
type ResetScheduleRequest struct {
	Scope         models.TermScope `json:"scope" validate:"required"`
	ConfirmDelete bool             `json:"confirm_delete"`
}

// DutyScheduleService coordinates schedule generation, reset and read models.
type DutyScheduleService struct {
	assignments assignmentStore
	students    studentRoster
	rooms       roomRoster
	validator   *validator.Validate
	logger      *zap.Logger
	metrics     *MetricsService
	cache       *CacheService
	cfg         config.SchedulerConfig
}

// NewDutyScheduleService instantiates DutyScheduleService.
func NewDutyScheduleService(assignments assignmentStore, students studentRoster, rooms roomRoster, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, cache *CacheService, cfg config.SchedulerConfig) *DutyScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DutyScheduleService{
		assignments: assignments,
		students:    students,
		rooms:       rooms,
		validator:   validate,
		logger:      logger,
		metrics:     metrics,
		cache:       cache,
		cfg:         cfg,
	}
}

// Generate produces and persists a term's duty schedule. Without force it
// refuses to overwrite an existing schedule; with force the old schedule is
// deleted and the new one written inside the same transaction.
func (s *DutyScheduleService) Generate(ctx context.Context, req GenerateScheduleRequest) (*GenerateScheduleResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation payload")
	}
	if !req.Term.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("term must be %s or %s", models.TermFirst, models.TermSecond))
	}

	var result *GenerateScheduleResult
	err := s.assignments.WithinTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.assignments.LockTerm(ctx, tx, req.Term); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock term for generation")
		}

		existing, err := s.assignments.CountByScope(ctx, tx, models.TermScope(req.Term))
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing schedule")
		}

		replaced := 0
		if existing > 0 {
			if !req.ForceRegenerate {
				return appErrors.Clone(appErrors.ErrScheduleAlreadyExists,
					fmt.Sprintf("duty schedule already exists for %s; retry with force_regenerate", req.Term))
			}
			replaced, err = s.assignments.DeleteByScope(ctx, tx, models.TermScope(req.Term))
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear existing schedule")
			}
		}

		students, err := s.students.ListActive(ctx)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active students")
		}
		if len(students) == 0 {
			return appErrors.ErrNoEligibleStudents
		}

		rooms, err := s.rooms.List(ctx)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rooms")
		}
		if len(rooms) == 0 {
			return appErrors.ErrNoRoomsAvailable
		}

		alloc, err := Allocate(students, rooms, req.Term, AllocationConfig{
			DutyDays:              s.cfg.DutyDays,
			MinCoverage:           s.cfg.MinCoverage,
			AssignmentsPerStudent: s.cfg.AssignmentsPerStudent,
		})
		if err != nil {
			return err
		}

		if err := s.assignments.BulkCreate(ctx, tx, alloc.Assignments); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist duty assignments")
		}

		result = &GenerateScheduleResult{
			Term:                 req.Term,
			Assignments:          alloc.Assignments,
			Stats:                alloc.Stats,
			UnassignedStudentIDs: alloc.UnassignedStudentIDs,
			Regenerated:          replaced > 0,
			ReplacedCount:        replaced,
		}
		return nil
	})
	if err != nil {
		s.metrics.ObserveScheduleOp("generate", appErrors.FromError(err).Code)
		return nil, err
	}

	s.metrics.ObserveScheduleOp("generate", "OK")
	s.invalidateCache(ctx)
	s.logger.Info("duty schedule generated",
		zap.String("term", string(req.Term)),
		zap.Int("assignments", result.Stats.TotalAssignments),
		zap.Int("unassigned", result.Stats.UnassignedStudents),
		zap.Bool("regenerated", result.Regenerated),
	)
	return result, nil
}

// Reset deletes a term's (or every term's) assignments after explicit
// confirmation, returning a summary of what was removed. The count, summary
// and delete run in one transaction under the per-term locks, so the reported
// numbers always describe exactly the deleted set.
func (s *DutyScheduleService) Reset(ctx context.Context, req ResetScheduleRequest) (*models.ResetResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset payload")
	}
	if !req.ConfirmDelete {
		return nil, appErrors.ErrConfirmationRequired
	}
	if !req.Scope.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("scope must be %s, %s or %s", models.TermFirst, models.TermSecond, models.ScopeAll))
	}

	var result *models.ResetResult
	err := s.assignments.WithinTx(ctx, func(tx *sqlx.Tx) error {
		for _, term := range req.Scope.Terms() {
			if err := s.assignments.LockTerm(ctx, tx, term); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock term for reset")
			}
		}

		count, err := s.assignments.CountByScope(ctx, tx, req.Scope)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count assignments for reset")
		}
		if count == 0 {
			return appErrors.Clone(appErrors.ErrNoScheduleToDelete, fmt.Sprintf("no duty assignments exist for scope %s", req.Scope))
		}

		summary, err := s.assignments.SummarizeByScope(ctx, tx, req.Scope)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarize assignments for reset")
		}

		deleted, err := s.assignments.DeleteByScope(ctx, tx, req.Scope)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete duty assignments")
		}

		result = &models.ResetResult{DeletedCount: deleted, Summary: *summary}
		return nil
	})
	if err != nil {
		s.metrics.ObserveScheduleOp("reset", appErrors.FromError(err).Code)
		return nil, err
	}

	s.metrics.ObserveScheduleOp("reset", "OK")
	s.invalidateCache(ctx)
	s.logger.Info("duty schedule reset",
		zap.String("scope", string(req.Scope)),
		zap.Int("deleted", result.DeletedCount),
		zap.Int("students", result.Summary.DistinctStudents),
	)
	return result, nil
}

// listCacheEntry is the cached shape of a schedule list response.
type listCacheEntry struct {
	Items      []models.DutyAssignmentDetail `json:"items"`
	Pagination models.Pagination             `json:"pagination"`
}

// List returns assignment details with pagination metadata, served from cache
// when possible.
func (s *DutyScheduleService) List(ctx context.Context, filter models.DutyAssignmentFilter) ([]models.DutyAssignmentDetail, *models.Pagination, error) {
	key := listCacheKey(filter)

	var cached listCacheEntry
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		pagination := cached.Pagination
		return cached.Items, &pagination, nil
	}

	assignments, total, err := s.assignments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list duty assignments")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}

	s.cache.Set(ctx, key, listCacheEntry{Items: assignments, Pagination: *pagination})

	return assignments, pagination, nil
}

// Summary aggregates the stored schedule for one term.
func (s *DutyScheduleService) Summary(ctx context.Context, term models.Term) (*models.DutyScheduleSummary, error) {
	if !term.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("term must be %s or %s", models.TermFirst, models.TermSecond))
	}
	summary, err := s.assignments.SummarizeByScope(ctx, nil, models.TermScope(term))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarize duty schedule")
	}
	return summary, nil
}

func (s *DutyScheduleService) invalidateCache(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "duty:schedules:*"); err != nil {
		s.logger.Warn("failed to invalidate schedule cache", zap.Error(err))
	}
}

func listCacheKey(filter models.DutyAssignmentFilter) string {
	day := "any"
	if filter.DayOfWeek != nil {
		day = fmt.Sprintf("%d", *filter.DayOfWeek)
	}
	grade := "any"
	if filter.Grade != nil {
		grade = fmt.Sprintf("%d", *filter.Grade)
	}
	return fmt.Sprintf("duty:schedules:%s:%s:%s:%s:%d:%d:%s:%s",
		filter.Term, day, filter.RoomID, grade, filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)
}
