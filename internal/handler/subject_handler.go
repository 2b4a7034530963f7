package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/timetable-sync/internal/middleware"
	"github.com/noah-isme/timetable-sync/internal/models"
	"github.com/noah-isme/timetable-sync/internal/service"
	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
	"github.com/noah-isme/timetable-sync/pkg/response"
)

type subjectService interface {
	List(ctx context.Context, userID string, opts service.GetOptions) (*service.SubjectsView, error)
	Replace(ctx context.Context, userID string, subjects models.SubjectList) (*service.SubjectsView, error)
	AddGrade(ctx context.Context, userID, subjectID string, grade models.Grade) (*service.SubjectsView, error)
	DeleteSubject(ctx context.Context, userID, subjectID string) (*service.SubjectsView, error)
}

// SubjectHandler exposes the per-user grade calculator.
type SubjectHandler struct {
	subjects subjectService
}

// NewSubjectHandler constructs the handler.
func NewSubjectHandler(subjects subjectService) *SubjectHandler {
	return &SubjectHandler{subjects: subjects}
}

// List godoc
// @Summary List subjects
// @Tags Subjects
// @Produce json
// @Param refresh query bool false "Force a refresh from the document store"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /subjects [get]
func (h *SubjectHandler) List(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("refresh"))
	view, err := h.subjects.List(c.Request.Context(), middleware.UserID(c), service.GetOptions{ForceRefresh: force})
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, view.Source)
	response.OK(c, view, middleware.ExtractMeta(c, nil))
}

// Replace godoc
// @Summary Replace subjects
// @Tags Subjects
// @Accept json
// @Produce json
// @Param payload body []models.Subject true "Complete subject list"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /subjects [put]
func (h *SubjectHandler) Replace(c *gin.Context) {
	var subjects models.SubjectList
	if err := c.ShouldBindJSON(&subjects); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid payload"))
		return
	}
	view, err := h.subjects.Replace(c.Request.Context(), middleware.UserID(c), subjects)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// AddGrade godoc
// @Summary Add a grade
// @Tags Subjects
// @Accept json
// @Produce json
// @Param id path string true "Subject ID"
// @Param payload body models.Grade true "Grade"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /subjects/{id}/grades [post]
func (h *SubjectHandler) AddGrade(c *gin.Context) {
	var grade models.Grade
	if err := c.ShouldBindJSON(&grade); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid payload"))
		return
	}
	view, err := h.subjects.AddGrade(c.Request.Context(), middleware.UserID(c), c.Param("id"), grade)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// Delete godoc
// @Summary Delete a subject
// @Tags Subjects
// @Produce json
// @Param id path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /subjects/{id} [delete]
func (h *SubjectHandler) Delete(c *gin.Context) {
	view, err := h.subjects.DeleteSubject(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}
