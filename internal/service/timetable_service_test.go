package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-sync/internal/models"
	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
)

type stubTimetableSource struct {
	body     []byte
	subs     []byte
	err      error
	subsErr  error
	delay    time.Duration
	requests int32
}

func (s *stubTimetableSource) FetchTimetable(ctx context.Context) ([]byte, error) {
	atomic.AddInt32(&s.requests, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.body, s.err
}

func (s *stubTimetableSource) FetchSubstitutions(context.Context) ([]byte, error) {
	return s.subs, s.subsErr
}

func newTestTimetableService(t *testing.T, source TimetableSource) (*TimetableService, *memorySnapshots) {
	t.Helper()
	store := newMemorySnapshots()
	rec := NewSyncReconciler(testReconcilerConfig(newTestClock()), store, nil, nil, nil)
	t.Cleanup(rec.Stop)
	return NewTimetableService(rec, source, nil, nil, nil, nil, nil), store
}

func TestTimetableServiceServesRemoteWeek(t *testing.T) {
	svc, store := newTestTimetableService(t, &stubTimetableSource{body: []byte(structuredPayload)})

	view := svc.Current(context.Background(), GetOptions{})

	assert.Equal(t, models.CacheSourceRemote, view.Source)
	assert.False(t, view.IsFallback)
	assert.Nil(t, view.Status)
	assert.Empty(t, view.Notice)
	require.Len(t, view.Week["monday"].Lessons, 1)
	assert.Equal(t, "M", view.Week["monday"].Lessons[0].Subject)
	assert.True(t, store.has(TimetableResource))
}

func TestTimetableServiceAppliesSubstitutionFeed(t *testing.T) {
	source := &stubTimetableSource{
		body: []byte(structuredPayload),
		subs: []byte(`{"substitutions": [{"dayIndex": 0, "periodIndex": 0, "cancelled": true, "info": "Teacher ill"}]}`),
	}
	svc, _ := newTestTimetableService(t, source)

	lesson := svc.Current(context.Background(), GetOptions{}).Week["monday"].Lessons[0]
	assert.True(t, lesson.IsCancelled)
	assert.Equal(t, "Teacher ill | Cancelled", lesson.Notes)
}

func TestTimetableServiceIgnoresFailingSubstitutionFeed(t *testing.T) {
	source := &stubTimetableSource{body: []byte(structuredPayload), subsErr: errors.New("feed down")}
	svc, _ := newTestTimetableService(t, source)

	view := svc.Current(context.Background(), GetOptions{})
	assert.False(t, view.IsFallback)
	assert.False(t, view.Week["monday"].Lessons[0].IsCancelled)
}

func TestTimetableServiceFallsBackOnTimeout(t *testing.T) {
	store := newMemorySnapshots()
	cfg := testReconcilerConfig(newTestClock())
	cfg.FetchTimeout = 30 * time.Millisecond
	rec := NewSyncReconciler(cfg, store, nil, nil, nil)
	t.Cleanup(rec.Stop)
	svc := NewTimetableService(rec, &stubTimetableSource{body: []byte(structuredPayload), delay: time.Second}, nil, nil, nil, nil, nil)

	view := svc.Current(context.Background(), GetOptions{})

	assert.True(t, view.IsFallback)
	require.NotNil(t, view.Status)
	assert.Equal(t, models.FallbackReasonTimeout, view.Status.Reason)
	assert.False(t, view.Status.IsPermanentFailure)
	assert.True(t, strings.HasSuffix(view.StatusMessage, "Showing sample data."))
	assert.Len(t, view.Week, 5)
	assert.False(t, store.has(TimetableResource), "fallback data is never persisted")
}

func TestTimetableServiceNoticeShownOnce(t *testing.T) {
	source := &stubTimetableSource{err: appErrors.FetchHTTPError(503)}
	svc, _ := newTestTimetableService(t, source)
	ctx := context.Background()

	first := svc.Current(ctx, GetOptions{})
	require.NotNil(t, first.Status)
	assert.Equal(t, models.ClientStatusReason(503), first.Status.Reason)
	assert.NotEmpty(t, first.Notice)

	second := svc.Current(ctx, GetOptions{})
	assert.True(t, second.IsFallback)
	assert.NotEmpty(t, second.StatusMessage)
	assert.Empty(t, second.Notice)
}

func TestTimetableServiceWithoutSourceServesSample(t *testing.T) {
	svc, _ := newTestTimetableService(t, nil)

	view := svc.Current(context.Background(), GetOptions{})
	assert.True(t, view.IsFallback)
	assert.Equal(t, models.CacheSourceFallback, view.Source)
	assert.Equal(t, 5, len(view.Week))
}

func TestTimetableServiceIngest(t *testing.T) {
	svc, store := newTestTimetableService(t, nil)

	ok := svc.Ingest([]byte(structuredPayload), []byte(`[{"day": 0, "period": 0, "cancelled": "true"}]`))
	assert.False(t, ok.IsFallback)
	assert.Equal(t, AdapterStructured, ok.Adapter)
	assert.True(t, ok.Week["monday"].Lessons[0].IsCancelled)

	for _, body := range []string{`{}`, `null`, `"timetable"`, `not json`, ``} {
		res := svc.Ingest([]byte(body), nil)
		assert.True(t, res.IsFallback, body)
		assert.Equal(t, models.FallbackReasonParseError, res.Reason, body)
		assert.Len(t, res.Week, 5, body)
	}
	assert.Empty(t, store.data, "ingestion never touches the caches")
}

func TestTimetableServiceCurrentPeriod(t *testing.T) {
	svc, _ := newTestTimetableService(t, &stubTimetableSource{body: []byte(structuredPayload)})

	monday := time.Date(2024, 9, 2, 8, 30, 0, 0, time.UTC)
	view := svc.CurrentPeriod(context.Background(), monday)
	assert.Equal(t, 1, view.Period.Period)
	assert.Equal(t, "monday", view.Day)
	assert.False(t, view.DuringBreak)
	require.NotNil(t, view.Lesson)
	assert.Equal(t, "M", view.Lesson.Subject)

	breakTime := time.Date(2024, 9, 2, 9, 50, 0, 0, time.UTC)
	view = svc.CurrentPeriod(context.Background(), breakTime)
	assert.True(t, view.DuringBreak)
	assert.Equal(t, 3, view.Period.Period)
	assert.Nil(t, view.Lesson)
}

func TestTimetableServiceExport(t *testing.T) {
	svc, _ := newTestTimetableService(t, &stubTimetableSource{body: []byte(structuredPayload)})
	ctx := context.Background()

	csvFile, err := svc.Export(ctx, "CSV")
	require.NoError(t, err)
	assert.Equal(t, "timetable.csv", csvFile.Filename)
	assert.Contains(t, string(csvFile.Content), "Day,Period,Time,Subject,Teacher,Room,Status,Notes\n")
	assert.Contains(t, string(csvFile.Content), "Montag,1,08:10-08:55,M,,101,,\n")

	pdfFile, err := svc.Export(ctx, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "timetable.pdf", pdfFile.Filename)
	assert.True(t, bytes.HasPrefix(pdfFile.Content, []byte("%PDF")))

	_, err = svc.Export(ctx, "xlsx")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestWeekTableMarksLessonStatus(t *testing.T) {
	week := models.Week{"monday": {DayName: "Monday", Lessons: []models.Lesson{
		{PeriodNumber: 1, StartTime: "08:10", EndTime: "08:55", Subject: "Art", IsCancelled: true},
		{PeriodNumber: 2, StartTime: "08:55", EndTime: "09:40", Subject: "Music", IsSubstitution: true},
	}}}
	table := WeekTable(week, "Week")
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "cancelled", table.Rows[0][6])
	assert.Equal(t, "substitution", table.Rows[1][6])
}
