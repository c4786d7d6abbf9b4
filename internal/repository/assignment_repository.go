package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/library-duty-api/internal/models"
)

// AssignmentRepository persists duty assignments. All mutating methods accept
// an optional sqlx.ExtContext so callers can scope them to one transaction.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

func (r *AssignmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// WithinTx runs fn inside a single database transaction, rolling back on error.
func (r *AssignmentRepository) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin duty assignment tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit duty assignment tx: %w", err)
	}
	return nil
}

// LockTerm serializes schedule mutations per term. The advisory lock is bound
// to the surrounding transaction and released on commit or rollback.
func (r *AssignmentRepository) LockTerm(ctx context.Context, exec sqlx.ExtContext, term models.Term) error {
	const query = `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := r.exec(exec).ExecContext(ctx, query, string(term)); err != nil {
		return fmt.Errorf("lock term %s: %w", term, err)
	}
	return nil
}

// CountByScope counts stored assignments for a term, or across all terms.
func (r *AssignmentRepository) CountByScope(ctx context.Context, exec sqlx.ExtContext, scope models.TermScope) (int, error) {
	query := `SELECT COUNT(*) FROM duty_assignments`
	var args []interface{}
	if scope != models.ScopeAll {
		query += ` WHERE term = $1`
		args = append(args, string(scope))
	}
	var count int
	if err := sqlx.GetContext(ctx, r.exec(exec), &count, query, args...); err != nil {
		return 0, fmt.Errorf("count duty assignments: %w", err)
	}
	return count, nil
}

// List returns assignment details with optional filtering and pagination.
func (r *AssignmentRepository) List(ctx context.Context, filter models.DutyAssignmentFilter) ([]models.DutyAssignmentDetail, int, error) {
	base := `FROM duty_assignments a
	JOIN students s ON s.id = a.student_id
	JOIN classes c ON c.id = s.class_id
	JOIN rooms r ON r.id = a.room_id
	WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Term != "" {
		conditions = append(conditions, fmt.Sprintf("a.term = $%d", len(args)+1))
		args = append(args, string(filter.Term))
	}
	if filter.DayOfWeek != nil {
		conditions = append(conditions, fmt.Sprintf("a.day_of_week = $%d", len(args)+1))
		args = append(args, *filter.DayOfWeek)
	}
	if filter.RoomID != "" {
		conditions = append(conditions, fmt.Sprintf("a.room_id = $%d", len(args)+1))
		args = append(args, filter.RoomID)
	}
	if filter.Grade != nil {
		conditions = append(conditions, fmt.Sprintf("s.grade = $%d", len(args)+1))
		args = append(args, *filter.Grade)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"day_of_week": "a.day_of_week",
		"room":        "r.name",
		"student":     "s.full_name",
		"created_at":  "a.created_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "a.day_of_week"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT a.id, a.student_id, a.room_id, a.day_of_week, a.term, a.created_at,
	s.full_name AS student_name, s.grade, c.name AS class_name, r.name AS room_name
	%s ORDER BY %s %s, r.name ASC, s.full_name ASC LIMIT %d OFFSET %d`, base, column, order, size, offset)
	var assignments []models.DutyAssignmentDetail
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list duty assignments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count duty assignments: %w", err)
	}

	return assignments, total, nil
}

// ListByTerm returns a term's full roster ordered for display and export.
func (r *AssignmentRepository) ListByTerm(ctx context.Context, term models.Term) ([]models.DutyAssignmentDetail, error) {
	const query = `SELECT a.id, a.student_id, a.room_id, a.day_of_week, a.term, a.created_at,
	s.full_name AS student_name, s.grade, c.name AS class_name, r.name AS room_name
	FROM duty_assignments a
	JOIN students s ON s.id = a.student_id
	JOIN classes c ON c.id = s.class_id
	JOIN rooms r ON r.id = a.room_id
	WHERE a.term = $1
	ORDER BY a.day_of_week ASC, r.name ASC, s.full_name ASC`
	var assignments []models.DutyAssignmentDetail
	if err := r.db.SelectContext(ctx, &assignments, query, string(term)); err != nil {
		return nil, fmt.Errorf("list duty assignments by term: %w", err)
	}
	return assignments, nil
}

// BulkCreate inserts assignment candidates, stamping identifiers and creation
// times. IDs and timestamps are written back into the given slice.
func (r *AssignmentRepository) BulkCreate(ctx context.Context, exec sqlx.ExtContext, assignments []models.DutyAssignment) error {
	target := r.exec(exec)
	now := time.Now().UTC()

	const query = `INSERT INTO duty_assignments (id, student_id, room_id, day_of_week, term, created_at)
	VALUES (:id, :student_id, :room_id, :day_of_week, :term, :created_at)`
	for i := range assignments {
		if assignments[i].ID == "" {
			assignments[i].ID = uuid.NewString()
		}
		if assignments[i].CreatedAt.IsZero() {
			assignments[i].CreatedAt = now
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, assignments[i]); err != nil {
			return fmt.Errorf("insert duty assignment: %w", err)
		}
	}
	return nil
}

// DeleteByScope removes assignments for one term or all of them, returning the
// number of deleted rows.
func (r *AssignmentRepository) DeleteByScope(ctx context.Context, exec sqlx.ExtContext, scope models.TermScope) (int, error) {
	query := `DELETE FROM duty_assignments`
	var args []interface{}
	if scope != models.ScopeAll {
		query += ` WHERE term = $1`
		args = append(args, string(scope))
	}
	result, err := r.exec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete duty assignments: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("duty assignment rows affected: %w", err)
	}
	return int(affected), nil
}

// SummarizeByScope aggregates assignment counts by term, day, grade and room
// plus the distinct student count. Run inside the reset transaction so the
// summarized set matches the deleted set exactly.
func (r *AssignmentRepository) SummarizeByScope(ctx context.Context, exec sqlx.ExtContext, scope models.TermScope) (*models.DutyScheduleSummary, error) {
	target := r.exec(exec)

	condition := ""
	var args []interface{}
	if scope != models.ScopeAll {
		condition = ` WHERE a.term = $1`
		args = append(args, string(scope))
	}

	summary := &models.DutyScheduleSummary{
		ByTerm:  make(map[models.Term]int),
		ByDay:   make(map[int]int),
		ByGrade: make(map[int]int),
		ByRoom:  make(map[string]int),
	}

	var termRows []struct {
		Term  models.Term `db:"term"`
		Count int         `db:"count"`
	}
	termQuery := `SELECT a.term, COUNT(*) AS count FROM duty_assignments a` + condition + ` GROUP BY a.term`
	if err := sqlx.SelectContext(ctx, target, &termRows, termQuery, args...); err != nil {
		return nil, fmt.Errorf("summarize duty assignments by term: %w", err)
	}
	for _, row := range termRows {
		summary.ByTerm[row.Term] = row.Count
		summary.TotalAssignments += row.Count
	}

	var dayRows []struct {
		DayOfWeek int `db:"day_of_week"`
		Count     int `db:"count"`
	}
	dayQuery := `SELECT a.day_of_week, COUNT(*) AS count FROM duty_assignments a` + condition + ` GROUP BY a.day_of_week`
	if err := sqlx.SelectContext(ctx, target, &dayRows, dayQuery, args...); err != nil {
		return nil, fmt.Errorf("summarize duty assignments by day: %w", err)
	}
	for _, row := range dayRows {
		summary.ByDay[row.DayOfWeek] = row.Count
	}

	var gradeRows []struct {
		Grade int `db:"grade"`
		Count int `db:"count"`
	}
	gradeQuery := `SELECT s.grade, COUNT(*) AS count FROM duty_assignments a JOIN students s ON s.id = a.student_id` + condition + ` GROUP BY s.grade`
	if err := sqlx.SelectContext(ctx, target, &gradeRows, gradeQuery, args...); err != nil {
		return nil, fmt.Errorf("summarize duty assignments by grade: %w", err)
	}
	for _, row := range gradeRows {
		summary.ByGrade[row.Grade] = row.Count
	}

	var roomRows []struct {
		RoomName string `db:"room_name"`
		Count    int    `db:"count"`
	}
	roomQuery := `SELECT r.name AS room_name, COUNT(*) AS count FROM duty_assignments a JOIN rooms r ON r.id = a.room_id` + condition + ` GROUP BY r.name`
	if err := sqlx.SelectContext(ctx, target, &roomRows, roomQuery, args...); err != nil {
		return nil, fmt.Errorf("summarize duty assignments by room: %w", err)
	}
	for _, row := range roomRows {
		summary.ByRoom[row.RoomName] = row.Count
	}

	distinctQuery := `SELECT COUNT(DISTINCT a.student_id) FROM duty_assignments a` + condition
	if err := sqlx.GetContext(ctx, target, &summary.DistinctStudents, distinctQuery, args...); err != nil {
		return nil, fmt.Errorf("count distinct duty students: %w", err)
	}

	return summary, nil
}
