package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/timetable-sync/internal/middleware"
	"github.com/noah-isme/timetable-sync/internal/models"
	"github.com/noah-isme/timetable-sync/internal/service"
	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
	"github.com/noah-isme/timetable-sync/pkg/response"
)

const maxIngestBytes = 4 << 20

type timetableService interface {
	Current(ctx context.Context, opts service.GetOptions) service.TimetableView
	Subscribe(buffer int) (<-chan service.UpdateEvent, func())
	Ingest(body []byte, substitutions []byte) models.FallbackResult
	CurrentPeriod(ctx context.Context, now time.Time) service.CurrentPeriodView
	Export(ctx context.Context, format string) (*service.ExportFile, error)
}

// TimetableHandler exposes the weekly timetable.
type TimetableHandler struct {
	timetable timetableService
	now       func() time.Time
}

// NewTimetableHandler constructs the handler.
func NewTimetableHandler(timetable timetableService) *TimetableHandler {
	return &TimetableHandler{timetable: timetable, now: time.Now}
}

// Get godoc
// @Summary Current timetable
// @Description Returns the active week. Falls back to the last saved week or sample data when the source is unavailable.
// @Tags Timetable
// @Produce json
// @Param refresh query bool false "Force a refresh from the source"
// @Success 200 {object} response.Envelope
// @Router /timetable [get]
func (h *TimetableHandler) Get(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("refresh"))
	view := h.timetable.Current(c.Request.Context(), service.GetOptions{ForceRefresh: force})
	middleware.SetCacheHit(c, view.Source)
	response.OK(c, view.Week, middleware.ExtractMeta(c, viewMeta(view)))
}

// Refresh godoc
// @Summary Refresh timetable
// @Tags Timetable
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /timetable/refresh [post]
func (h *TimetableHandler) Refresh(c *gin.Context) {
	view := h.timetable.Current(c.Request.Context(), service.GetOptions{ForceRefresh: true})
	middleware.SetCacheHit(c, view.Source)
	response.OK(c, view.Week, middleware.ExtractMeta(c, viewMeta(view)))
}

// CurrentPeriod godoc
// @Summary Running or next period
// @Tags Timetable
// @Produce json
// @Param at query string false "Clock time HH:MM, defaults to now"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /timetable/current-period [get]
func (h *TimetableHandler) CurrentPeriod(c *gin.Context) {
	now := h.now()
	if at := c.Query("at"); at != "" {
		clock, err := service.ParseClock(at)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "at must be HH:MM"))
			return
		}
		now = time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
	}
	response.OK(c, h.timetable.CurrentPeriod(c.Request.Context(), now))
}

// Export godoc
// @Summary Export timetable
// @Tags Timetable
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /timetable/export [get]
func (h *TimetableHandler) Export(c *gin.Context) {
	file, err := h.timetable.Export(c.Request.Context(), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Content)
}

// Ingest godoc
// @Summary Interpret a raw timetable payload
// @Description Runs a payload through the format adapters without touching the caches. Unrecognised payloads yield sample data.
// @Tags Timetable
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /timetable/ingest [post]
func (h *TimetableHandler) Ingest(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIngestBytes+1))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unable to read request body"))
		return
	}
	if len(body) > maxIngestBytes {
		response.Error(c, appErrors.Clone(appErrors.ErrTooLarge, "payload exceeds 4MB"))
		return
	}
	result := h.timetable.Ingest(body, nil)
	meta := map[string]interface{}{"is_fallback": result.IsFallback}
	if result.IsFallback {
		status := service.DescribeFallback(result.Reason)
		meta["status"] = status
	}
	response.OK(c, result, meta)
}

// Updates godoc
// @Summary Timetable change notifications
// @Description Server-sent events; each event tells the client to re-read the timetable.
// @Tags Timetable
// @Produce text/event-stream
// @Success 200
// @Router /timetable/updates [get]
func (h *TimetableHandler) Updates(c *gin.Context) {
	events, unsubscribe := h.timetable.Subscribe(8)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-store")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(evt.Topic, evt)
			c.Writer.Flush()
		}
	}
}

func viewMeta(view service.TimetableView) map[string]interface{} {
	meta := map[string]interface{}{
		"source":      view.Source,
		"is_fallback": view.IsFallback,
		"stale":       view.Stale,
		"refreshing":  view.Refreshing,
	}
	if !view.FetchedAt.IsZero() {
		meta["fetched_at"] = view.FetchedAt
	}
	if view.Status != nil {
		meta["reason"] = view.Status.Reason
		meta["permanent_failure"] = view.Status.IsPermanentFailure
	}
	if view.StatusMessage != "" {
		meta["status_message"] = view.StatusMessage
	}
	if view.Notice != "" {
		meta["notice"] = view.Notice
	}
	return meta
}
