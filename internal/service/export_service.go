package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/library-duty-api/internal/models"
	appErrors "github.com/noah-isme/library-duty-api/pkg/errors"
	"github.com/noah-isme/library-duty-api/pkg/export"
)

type assignmentReader interface {
	ListByTerm(ctx context.Context, term models.Term) ([]models.DutyAssignmentDetail, error)
}

// ExportService renders a term's stored roster as CSV or PDF.
type ExportService struct {
	assignments assignmentReader
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	title       string
	logger      *zap.Logger
}

// NewExportService constructs an export service.
func NewExportService(assignments assignmentReader, title string, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if title == "" {
		title = "Library Duty Roster"
	}
	return &ExportService{
		assignments: assignments,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		title:       title,
		logger:      logger,
	}
}

// Render produces export bytes and the matching content type.
func (s *ExportService) Render(ctx context.Context, term models.Term, format string) ([]byte, string, error) {
	if !term.Valid() {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("term must be %s or %s", models.TermFirst, models.TermSecond))
	}

	assignments, err := s.assignments.ListByTerm(ctx, term)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load duty assignments")
	}
	if len(assignments) == 0 {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no duty schedule exists for %s", term))
	}

	dataset := export.Dataset{
		Headers: []string{"Weekday", "Room", "Student", "Class", "Grade"},
	}
	for _, a := range assignments {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Weekday": time.Weekday(a.DayOfWeek).String(),
			"Room":    a.RoomName,
			"Student": a.StudentName,
			"Class":   a.ClassName,
			"Grade":   fmt.Sprintf("%d", a.Grade),
		})
	}

	switch strings.ToLower(format) {
	case "", "csv":
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return payload, "text/csv", nil
	case "pdf":
		title := fmt.Sprintf("%s - %s", s.title, strings.ReplaceAll(string(term), "_", " "))
		payload, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return payload, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}
