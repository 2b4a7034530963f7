package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-sync/internal/middleware"
	"github.com/noah-isme/timetable-sync/internal/models"
	"github.com/noah-isme/timetable-sync/internal/service"
	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
)

type timetableServiceMock struct {
	view       service.TimetableView
	lastOpts   service.GetOptions
	lastNow    time.Time
	ingestBody []byte
	exportErr  error
	events     chan service.UpdateEvent
}

func (m *timetableServiceMock) Current(_ context.Context, opts service.GetOptions) service.TimetableView {
	m.lastOpts = opts
	return m.view
}

func (m *timetableServiceMock) Subscribe(int) (<-chan service.UpdateEvent, func()) {
	return m.events, func() {}
}

func (m *timetableServiceMock) Ingest(body []byte, _ []byte) models.FallbackResult {
	m.ingestBody = body
	if len(body) == 0 || body[0] != '{' {
		return models.FallbackResult{IsFallback: true, Reason: models.FallbackReasonParseError}
	}
	return models.FallbackResult{Week: m.view.Week, Adapter: service.AdapterWeek}
}

func (m *timetableServiceMock) CurrentPeriod(_ context.Context, now time.Time) service.CurrentPeriodView {
	m.lastNow = now
	return service.CurrentPeriodView{Period: service.PeriodTime{Period: 2, Start: "08:55", End: "09:40"}, Day: "monday"}
}

func (m *timetableServiceMock) Export(_ context.Context, format string) (*service.ExportFile, error) {
	if m.exportErr != nil {
		return nil, m.exportErr
	}
	return &service.ExportFile{Filename: "timetable." + format, ContentType: "text/csv; charset=utf-8", Content: []byte("Day\n")}, nil
}

func newTimetableRouter(mock *timetableServiceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewTimetableHandler(mock)
	h.now = func() time.Time { return time.Date(2024, 9, 2, 7, 0, 0, 0, time.UTC) }
	r := gin.New()
	r.Use(middleware.WithResponseMeta())
	g := r.Group("/api/timetable")
	g.GET("", h.Get)
	g.POST("/refresh", h.Refresh)
	g.GET("/current-period", h.CurrentPeriod)
	g.GET("/export", h.Export)
	g.POST("/ingest", h.Ingest)
	g.GET("/updates", h.Updates)
	return r
}

func sampleView() service.TimetableView {
	return service.TimetableView{
		Week:   models.Week{"monday": {DayName: "Monday", Lessons: []models.Lesson{{PeriodNumber: 1, Subject: "M"}}}},
		Source: models.CacheSourceSnapshot,
		Stale:  true,
	}
}

func TestTimetableHandlerGet(t *testing.T) {
	mock := &timetableServiceMock{view: sampleView()}
	r := newTimetableRouter(mock)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/timetable", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, mock.lastOpts.ForceRefresh)

	var body struct {
		Data models.Week            `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "M", body.Data["monday"].Lessons[0].Subject)
	assert.Equal(t, "snapshot", body.Meta["source"])
	assert.Equal(t, true, body.Meta["stale"])
	assert.Equal(t, false, body.Meta["is_fallback"])
	assert.NotContains(t, body.Meta, "reason")
	assert.Equal(t, true, body.Meta["cache_hit"])
	assert.Contains(t, body.Meta, "processing_time_ms")

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/timetable?refresh=true", nil))
	assert.True(t, mock.lastOpts.ForceRefresh)
}

func TestTimetableHandlerGetFallbackMeta(t *testing.T) {
	view := service.TimetableView{
		Week:          models.Week{"monday": {DayName: "Monday"}},
		Source:        models.CacheSourceFallback,
		IsFallback:    true,
		Status:        &models.FallbackStatus{Reason: models.FallbackReasonTimeout, IsPermanentFailure: false},
		StatusMessage: "Remote source timed out",
		Notice:        "showing sample timetable",
	}
	mock := &timetableServiceMock{view: view}

	w := httptest.NewRecorder()
	newTimetableRouter(mock).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/timetable", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data models.Week            `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Data, "monday")
	assert.NotContains(t, body.Data, "week")
	assert.Equal(t, true, body.Meta["is_fallback"])
	assert.Equal(t, string(models.FallbackReasonTimeout), body.Meta["reason"])
	assert.Equal(t, "Remote source timed out", body.Meta["status_message"])
	assert.Equal(t, false, body.Meta["permanent_failure"])
	assert.Equal(t, "showing sample timetable", body.Meta["notice"])
	assert.Equal(t, false, body.Meta["cache_hit"])
}

func TestTimetableHandlerRefreshForces(t *testing.T) {
	mock := &timetableServiceMock{view: sampleView()}
	w := httptest.NewRecorder()
	newTimetableRouter(mock).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/timetable/refresh", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mock.lastOpts.ForceRefresh)
}

func TestTimetableHandlerCurrentPeriod(t *testing.T) {
	mock := &timetableServiceMock{}
	r := newTimetableRouter(mock)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/timetable/current-period?at=9:05", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2024, 9, 2, 9, 5, 0, 0, time.UTC), mock.lastNow)
	assert.Contains(t, w.Body.String(), `"period":2`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/timetable/current-period?at=late", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTimetableHandlerExport(t *testing.T) {
	mock := &timetableServiceMock{}
	r := newTimetableRouter(mock)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/timetable/export", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="timetable.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "Day\n", w.Body.String())

	mock.exportErr = appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/timetable/export?format=xlsx", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTimetableHandlerIngest(t *testing.T) {
	mock := &timetableServiceMock{view: sampleView()}
	r := newTimetableRouter(mock)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/timetable/ingest", bytes.NewBufferString(`{"monday": []}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"monday": []}`, string(mock.ingestBody))
	assert.Contains(t, w.Body.String(), `"is_fallback":false`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/timetable/ingest", bytes.NewBufferString(`"nope"`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"permanent_failure":true`)
	assert.Contains(t, w.Body.String(), `"reason":"parse_error"`)
}

func TestTimetableHandlerIngestRejectsOversizedBody(t *testing.T) {
	mock := &timetableServiceMock{view: sampleView()}
	r := newTimetableRouter(mock)

	oversized := append([]byte("{"), bytes.Repeat([]byte(" "), maxIngestBytes)...)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/timetable/ingest", bytes.NewReader(oversized)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "PAYLOAD_TOO_LARGE")
	assert.Nil(t, mock.ingestBody)

	atLimit := append([]byte("{"), bytes.Repeat([]byte(" "), maxIngestBytes-2)...)
	atLimit = append(atLimit, '}')
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/timetable/ingest", bytes.NewReader(atLimit)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, mock.ingestBody, maxIngestBytes)
}

func TestTimetableHandlerUpdatesStreamsEvents(t *testing.T) {
	mock := &timetableServiceMock{events: make(chan service.UpdateEvent, 2)}
	mock.events <- service.UpdateEvent{Topic: "timetableEntriesUpdated", Key: "timetableEntries", Source: models.CacheSourceRemote}
	close(mock.events)

	w := httptest.NewRecorder()
	newTimetableRouter(mock).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/timetable/updates", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream"))
	assert.Contains(t, w.Body.String(), "event:timetableEntriesUpdated")
	assert.Contains(t, w.Body.String(), `"key":"timetableEntries"`)
}
