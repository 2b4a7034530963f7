package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/noah-isme/timetable-sync/internal/models"
	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
)

// FallbackProvider supplies the static sample week and classifies failures.
type FallbackProvider struct {
	sample models.Week
}

// NewFallbackProvider builds the sample week with times from periods.
func NewFallbackProvider(periods *PeriodTable) *FallbackProvider {
	n := NewLessonNormalizer(periods)
	return &FallbackProvider{sample: sampleWeek(n)}
}

// SampleWeek returns a copy of the static sample week.
func (p *FallbackProvider) SampleWeek() models.Week {
	return p.sample.Clone()
}

// Result wraps the sample week for err.
func (p *FallbackProvider) Result(err error) models.FallbackResult {
	return models.FallbackResult{
		Week:       p.SampleWeek(),
		IsFallback: true,
		Reason:     ClassifyFailure(err),
	}
}

// ClassifyFailure maps a fetch or ingestion error onto a fallback reason.
func ClassifyFailure(err error) models.FallbackReason {
	if err == nil {
		return models.FallbackReasonUnknown
	}
	if appErrors.HasCode(err, appErrors.ErrFetchTimeout.Code) ||
		errors.Is(err, context.DeadlineExceeded) {
		return models.FallbackReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.FallbackReasonTimeout
	}
	if status, ok := appErrors.UpstreamStatus(err); ok {
		return models.ClientStatusReason(status)
	}
	if appErrors.HasCode(err, appErrors.ErrFormatUnrecognized.Code) {
		return models.FallbackReasonParseError
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return models.FallbackReasonParseError
	}
	return models.FallbackReasonUnknown
}

// DescribeFallback turns a reason into user-facing text and says whether the
// problem is unlikely to resolve itself. The message names the cause only;
// see ServedMessage for what is shown instead.
func DescribeFallback(reason models.FallbackReason) models.FallbackStatus {
	status := models.FallbackStatus{Reason: reason}
	if code, ok := reason.StatusCode(); ok {
		switch code {
		case http.StatusUnauthorized, http.StatusForbidden:
			status.Message = fmt.Sprintf("The timetable source refused access (HTTP %d). Check the configured credentials.", code)
			status.IsPermanentFailure = true
		case http.StatusNotFound:
			status.Message = "The timetable source could not be found (HTTP 404). Check the configured address."
			status.IsPermanentFailure = true
		case http.StatusTooManyRequests:
			status.Message = "The timetable source is rate limiting requests."
		default:
			if code >= 500 {
				status.Message = fmt.Sprintf("The timetable source is temporarily unavailable (HTTP %d).", code)
			} else {
				status.Message = fmt.Sprintf("The timetable source rejected the request (HTTP %d).", code)
			}
		}
		return status
	}
	switch reason {
	case models.FallbackReasonTimeout:
		status.Message = "The timetable source did not answer in time."
	case models.FallbackReasonParseError:
		status.Message = "The timetable source returned data in an unknown format."
		status.IsPermanentFailure = true
	default:
		status.Message = "The timetable could not be loaded."
	}
	return status
}

// ServedMessage completes a status message with what is being displayed.
func ServedMessage(status models.FallbackStatus, isFallback bool) string {
	if isFallback {
		return status.Message + " Showing sample data."
	}
	return status.Message + " Showing the last saved timetable."
}

// NoticeTracker suppresses repeated notices for the same failure.
type NoticeTracker struct {
	mu   sync.Mutex
	last map[string]models.FallbackReason
}

// NewNoticeTracker constructs an empty tracker.
func NewNoticeTracker() *NoticeTracker {
	return &NoticeTracker{last: make(map[string]models.FallbackReason)}
}

// ShouldNotify reports whether reason is new for key since the last success.
func (t *NoticeTracker) ShouldNotify(key string, reason models.FallbackReason) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.last[key]; ok && prev == reason {
		return false
	}
	t.last[key] = reason
	return true
}

// Reset clears the remembered failure for key.
func (t *NoticeTracker) Reset(key string) {
	t.mu.Lock()
	delete(t.last, key)
	t.mu.Unlock()
}

func sampleWeek(n *LessonNormalizer) models.Week {
	plan := []struct {
		key, name string
		subjects  []string
	}{
		{"monday", "Monday", []string{"Mathematics", "Mathematics", "English", "Biology", "History", "Physical Education"}},
		{"tuesday", "Tuesday", []string{"German", "Chemistry", "Chemistry", "Mathematics", "Art", "Art"}},
		{"wednesday", "Wednesday", []string{"Physics", "English", "Geography", "German", "Music", "Computer Science"}},
		{"thursday", "Thursday", []string{"Biology", "Mathematics", "History", "English", "Physics", "Physics"}},
		{"friday", "Friday", []string{"German", "Geography", "Ethics", "Mathematics", "Chemistry"}},
	}
	rooms := []string{"101", "102", "201", "Lab 1", "Gym", "204"}

	week := make(models.Week, len(plan))
	for _, d := range plan {
		lessons := make([]models.Lesson, 0, len(d.subjects))
		for i, subject := range d.subjects {
			lessons = append(lessons, n.WithPeriod(models.Lesson{
				Subject: subject,
				Room:    rooms[i%len(rooms)],
				Teacher: "Sample",
			}, i+1))
		}
		week[d.key] = BuildDay(d.name, lessons)
	}
	return week
}
