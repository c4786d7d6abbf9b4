package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/library-duty-api/internal/models"
)

func newStudentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestStudentRepositoryListActiveOrder(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "full_name", "class_id", "grade", "active", "created_at", "updated_at"}).
		AddRow("s1", "Student A", "class-1", 5, true, now, now).
		AddRow("s2", "Student B", "class-1", 5, true, now, now)
	mock.ExpectQuery("SELECT id, full_name, class_id, grade, active, created_at, updated_at\\s+FROM students WHERE active = TRUE\\s+ORDER BY class_id ASC, grade ASC, full_name ASC, id ASC").
		WillReturnRows(rows)

	students, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, students, 2)
	assert.Equal(t, "s1", students[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListWithFilter(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	grade := 5
	rows := sqlmock.NewRows([]string{"id", "full_name", "class_id", "grade", "active", "created_at", "updated_at", "class_name"}).
		AddRow("s1", "Student A", "class-1", 5, true, now, now, "Class 5A")
	mock.ExpectQuery("SELECT s.id, s.full_name").
		WithArgs("%ann%", grade).
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("%ann%", grade).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{Search: "ann", Grade: &grade})
	require.NoError(t, err)
	assert.Len(t, students, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Class 5A", students[0].ClassName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateStampsID(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WithArgs(sqlmock.AnyArg(), "Student A", "class-1", 5, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	student := &models.Student{FullName: "Student A", ClassID: "class-1", Grade: 5, Active: true}
	require.NoError(t, repo.Create(context.Background(), student))
	assert.NotEmpty(t, student.ID)
	assert.False(t, student.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateMissingRow(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("UPDATE students SET").
		WithArgs("Student A", "class-1", 5, true, sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Student{
		ID: "missing", FullName: "Student A", ClassID: "class-1", Grade: 5, Active: true,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE id = $1")).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
