package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/library-duty-api/internal/models"
	"github.com/noah-isme/library-duty-api/internal/service"
	"github.com/noah-isme/library-duty-api/pkg/response"
)

// DutyScheduleHandler manages duty schedule endpoints.
type DutyScheduleHandler struct {
	service *service.DutyScheduleService
	export  *service.ExportService
}

// NewDutyScheduleHandler constructs handler.
func NewDutyScheduleHandler(svc *service.DutyScheduleService, export *service.ExportService) *DutyScheduleHandler {
	return &DutyScheduleHandler{service: svc, export: export}
}

// Generate godoc
// @Summary Generate a term's duty schedule
// @Tags Duty Schedules
// @Accept json
// @Produce json
// @Param payload body service.GenerateScheduleRequest true "Generation request"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /duty-schedules/generate [post]
func (h *DutyScheduleHandler) Generate(c *gin.Context) {
	var req service.GenerateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.service.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Reset godoc
// @Summary Delete a term's (or every) duty schedule
// @Tags Duty Schedules
// @Accept json
// @Produce json
// @Param payload body service.ResetScheduleRequest true "Reset request"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /duty-schedules/reset [post]
func (h *DutyScheduleHandler) Reset(c *gin.Context) {
	var req service.ResetScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.service.Reset(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List duty assignments
// @Tags Duty Schedules
// @Produce json
// @Param term query string false "Filter by term"
// @Param dayOfWeek query int false "Filter by day of week (0-6)"
// @Param roomId query string false "Filter by room"
// @Param grade query int false "Filter by grade"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /duty-schedules [get]
func (h *DutyScheduleHandler) List(c *gin.Context) {
	var filter models.DutyAssignmentFilter
	filter.Term = models.Term(strings.ToUpper(c.Query("term")))
	if raw := c.Query("dayOfWeek"); raw != "" {
		if day, err := strconv.Atoi(raw); err == nil {
			filter.DayOfWeek = &day
		}
	}
	filter.RoomID = c.Query("roomId")
	if raw := c.Query("grade"); raw != "" {
		if grade, err := strconv.Atoi(raw); err == nil {
			filter.Grade = &grade
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = limit
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	assignments, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, pagination)
}

// Summary godoc
// @Summary Summarize a term's duty schedule
// @Tags Duty Schedules
// @Produce json
// @Param term query string true "Term"
// @Success 200 {object} response.Envelope
// @Router /duty-schedules/summary [get]
func (h *DutyScheduleHandler) Summary(c *gin.Context) {
	term := models.Term(strings.ToUpper(c.Query("term")))

	summary, err := h.service.Summary(c.Request.Context(), term)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Export godoc
// @Summary Export a term's duty roster
// @Tags Duty Schedules
// @Produce text/csv
// @Produce application/pdf
// @Param term query string true "Term"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} byte
// @Router /duty-schedules/export [get]
func (h *DutyScheduleHandler) Export(c *gin.Context) {
	term := models.Term(strings.ToUpper(c.Query("term")))
	format := c.DefaultQuery("format", "csv")

	payload, contentType, err := h.export.Render(c.Request.Context(), term, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	ext := "csv"
	if contentType == "application/pdf" {
		ext = "pdf"
	}
	filename := fmt.Sprintf("duty-roster-%s.%s", strings.ToLower(string(term)), ext)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}
