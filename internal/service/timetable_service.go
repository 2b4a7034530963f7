package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/timetable-sync/internal/models"
	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
	"github.com/noah-isme/timetable-sync/pkg/export"
)

// TimetableResource is the snapshot key of the weekly timetable.
const TimetableResource = "timetableEntries"

// TimetableSource fetches raw payloads from the upstream schedule.
type TimetableSource interface {
	FetchTimetable(ctx context.Context) ([]byte, error)
	// FetchSubstitutions returns nil, nil when no feed is configured.
	FetchSubstitutions(ctx context.Context) ([]byte, error)
}

// TimetableView is the active week together with its provenance.
type TimetableView struct {
	Week       models.Week            `json:"week"`
	Source     models.CacheSource     `json:"source"`
	FetchedAt  time.Time              `json:"fetched_at"`
	IsFallback bool                   `json:"is_fallback"`
	Stale      bool                   `json:"stale"`
	Refreshing bool                   `json:"refreshing"`
	Status     *models.FallbackStatus `json:"status,omitempty"`
	// StatusMessage is set whenever the week is not fresh remote data.
	StatusMessage string `json:"status_message,omitempty"`
	// Notice is set only the first time a given failure is seen.
	Notice string `json:"notice,omitempty"`
}

// CurrentPeriodView describes the running or next period.
type CurrentPeriodView struct {
	Period      PeriodTime     `json:"period"`
	DuringBreak bool           `json:"during_break"`
	Day         string         `json:"day"`
	Lesson      *models.Lesson `json:"lesson,omitempty"`
}

// ExportFile is a rendered timetable export.
type ExportFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// TimetableService serves the weekly timetable through the reconciler.
type TimetableService struct {
	resource *Resource[models.Week]
	source   TimetableSource
	chain    *FormatAdapterChain
	overlay  *SubstitutionOverlay
	fallback *FallbackProvider
	periods  *PeriodTable
	notices  *NoticeTracker
	logger   *zap.Logger
}

// NewTimetableService registers the timetable resource with rec.
func NewTimetableService(rec *SyncReconciler, source TimetableSource, chain *FormatAdapterChain, overlay *SubstitutionOverlay, fallback *FallbackProvider, periods *PeriodTable, logger *zap.Logger) *TimetableService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if periods == nil {
		periods = DefaultPeriodTable()
	}
	if chain == nil {
		chain = NewFormatAdapterChain(NewLessonNormalizer(periods), logger, nil)
	}
	if overlay == nil {
		overlay = NewSubstitutionOverlay(logger)
	}
	if fallback == nil {
		fallback = NewFallbackProvider(periods)
	}
	s := &TimetableService{
		source:   source,
		chain:    chain,
		overlay:  overlay,
		fallback: fallback,
		periods:  periods,
		notices:  NewNoticeTracker(),
		logger:   logger,
	}
	opts := ResourceOptions[models.Week]{
		Fallback: func(error) models.Week { return s.fallback.SampleWeek() },
	}
	if source != nil {
		opts.Fetch = s.fetch
	}
	s.resource = NewResource(rec, TimetableResource, opts)
	return s
}

// Resource exposes the underlying cached resource.
func (s *TimetableService) Resource() *Resource[models.Week] {
	return s.resource
}

// Current returns the active week. It never fails.
func (s *TimetableService) Current(ctx context.Context, opts GetOptions) TimetableView {
	entry := s.resource.Get(ctx, "", opts)
	view := TimetableView{
		Week:       entry.Payload,
		Source:     entry.Source,
		FetchedAt:  entry.FetchedAt,
		IsFallback: entry.IsFallback,
		Stale:      entry.Stale,
		Refreshing: entry.Refreshing,
	}
	if entry.Reason == "" {
		s.notices.Reset(entry.Key)
		return view
	}
	status := DescribeFallback(entry.Reason)
	view.Status = &status
	view.StatusMessage = ServedMessage(status, entry.IsFallback)
	if s.notices.ShouldNotify(entry.Key, entry.Reason) {
		view.Notice = status.Message
	}
	return view
}

// Subscribe delivers a notification whenever the timetable changes.
func (s *TimetableService) Subscribe(buffer int) (<-chan UpdateEvent, func()) {
	return s.resource.rec.Bus().Subscribe(s.resource.Topic(), buffer)
}

// Ingest interprets a payload without touching the caches. Anything that
// cannot be interpreted yields the sample week.
func (s *TimetableService) Ingest(body []byte, substitutions []byte) models.FallbackResult {
	week, adapter, err := s.interpret(body, substitutions)
	if err != nil {
		return s.fallback.Result(err)
	}
	return models.FallbackResult{Week: week, Adapter: adapter}
}

// CurrentPeriod resolves the running or next period at now and the lesson
// scheduled in it, if any.
func (s *TimetableService) CurrentPeriod(ctx context.Context, now time.Time) CurrentPeriodView {
	period := s.periods.CurrentOrUpcomingPeriod(now)
	view := CurrentPeriodView{
		Period:      period,
		DuringBreak: s.periods.IsDuringBreak(now),
		Day:         strings.ToLower(now.Weekday().String()),
	}
	week := s.Current(ctx, GetOptions{}).Week
	for _, lesson := range week[view.Day].Lessons {
		if lesson.PeriodNumber == period.Period {
			l := lesson
			view.Lesson = &l
			break
		}
	}
	return view
}

// Export renders the active week as csv or pdf.
func (s *TimetableService) Export(ctx context.Context, format string) (*ExportFile, error) {
	exporter, err := export.ForFormat(strings.ToLower(format))
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	view := s.Current(ctx, GetOptions{})
	title := "Timetable"
	if view.IsFallback {
		title += " (sample data)"
	}
	content, err := exporter.Render(WeekTable(view.Week, title))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render timetable export")
	}
	return &ExportFile{
		Filename:    "timetable." + exporter.Extension(),
		ContentType: exporter.ContentType(),
		Content:     content,
	}, nil
}

// WeekTable flattens a week into export rows in day and period order.
func WeekTable(week models.Week, title string) export.Table {
	table := export.Table{
		Title:   title,
		Headers: []string{"Day", "Period", "Time", "Subject", "Teacher", "Room", "Status", "Notes"},
	}
	for _, key := range week.DayKeys() {
		day := week[key]
		for _, l := range day.Lessons {
			status := ""
			switch {
			case l.IsCancelled:
				status = "cancelled"
			case l.IsSubstitution:
				status = "substitution"
			}
			table.Rows = append(table.Rows, []string{
				day.DayName,
				strconv.Itoa(l.PeriodNumber),
				l.StartTime + "-" + l.EndTime,
				l.Subject,
				l.Teacher,
				l.Room,
				status,
				l.Notes,
			})
		}
	}
	return table
}

// fetch pulls the timetable and the substitution feed concurrently. A
// failing substitution feed only loses the overlay.
func (s *TimetableService) fetch(ctx context.Context, _ string) (models.Week, error) {
	var body, subs []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := s.source.FetchTimetable(gctx)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	g.Go(func() error {
		b, err := s.source.FetchSubstitutions(gctx)
		if err != nil {
			s.logger.Warn("substitution feed unavailable", zap.Error(err))
			return nil
		}
		subs = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	week, adapter, err := s.interpret(body, subs)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("timetable interpreted", zap.String("adapter", adapter), zap.Int("lessons", week.LessonCount()))
	return week, nil
}

func (s *TimetableService) interpret(body, subs []byte) (models.Week, string, error) {
	outcome, err := s.chain.InterpretBytes(body)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrFormatUnrecognized.Code, appErrors.ErrFormatUnrecognized.Status, "timetable payload is not JSON")
	}
	if !outcome.Recognized {
		return nil, "", appErrors.ErrFormatUnrecognized
	}
	week := outcome.Week
	if len(subs) > 0 {
		records, err := ParseSubstitutionFeed(subs)
		if err != nil {
			s.logger.Warn("substitution feed ignored", zap.Error(err))
		} else {
			week = s.overlay.Apply(week, records)
		}
	}
	return week, outcome.Adapter, nil
}

