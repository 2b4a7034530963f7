package service

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/noah-isme/timetable-sync/internal/models"
)

// UnknownSubject is shown when a record carries no usable subject.
const UnknownSubject = "Unknown subject"

var (
	subjectKeys = []string{"subject", "subjectName", "fach", "name"}
	periodKeys  = []string{"period", "periodNumber", "lesson", "stunde"}
	teacherKeys = []string{"teacher", "teacherName", "lehrer"}
	roomKeys    = []string{"room", "raum"}
	notesKeys   = []string{"notes", "note", "info", "comment"}
	labelKeys   = []string{"periodLabel", "label"}
	cancelKeys  = []string{"isCancelled", "cancelled", "canceled"}
	substKeys   = []string{"isSubstitution", "substitution"}
)

// LessonNormalizer turns loosely typed lesson records into complete lessons.
type LessonNormalizer struct {
	periods *PeriodTable
}

// NewLessonNormalizer builds a normalizer that resolves times from periods.
func NewLessonNormalizer(periods *PeriodTable) *LessonNormalizer {
	if periods == nil {
		periods = DefaultPeriodTable()
	}
	return &LessonNormalizer{periods: periods}
}

// Normalize converts raw into a lesson. position is the zero-based index of
// the record in its source list and doubles as the period when none is given.
func (n *LessonNormalizer) Normalize(raw map[string]any, position int) models.Lesson {
	period := coerceInt(firstValue(raw, periodKeys), 0)
	if period <= 0 {
		period = position + 1
	}

	subject := coerceString(firstValue(raw, subjectKeys))
	if subject == "" {
		subject = UnknownSubject
	}

	return n.WithPeriod(models.Lesson{
		Subject:        subject,
		Teacher:        coerceString(firstValue(raw, teacherKeys)),
		Room:           coerceString(firstValue(raw, roomKeys)),
		Notes:          coerceString(firstValue(raw, notesKeys)),
		PeriodLabel:    coerceString(firstValue(raw, labelKeys)),
		IsCancelled:    truthy(firstValue(raw, cancelKeys)),
		IsSubstitution: truthy(firstValue(raw, substKeys)),
	}, period)
}

// WithPeriod assigns period to lesson and derives its times from the table.
func (n *LessonNormalizer) WithPeriod(lesson models.Lesson, period int) models.Lesson {
	slot := n.periods.Resolve(period)
	lesson.PeriodNumber = period
	lesson.StartTime = slot.Start
	lesson.EndTime = slot.End
	return lesson
}

// BuildDay collects lessons into a day. Lessons sharing a period collapse to
// the last one seen and the result is sorted by period.
func BuildDay(name string, lessons []models.Lesson) models.Day {
	day := models.Day{DayName: name, Lessons: make([]models.Lesson, 0, len(lessons))}
	slot := make(map[int]int, len(lessons))
	for _, l := range lessons {
		if idx, ok := slot[l.PeriodNumber]; ok {
			day.Lessons[idx] = l
			continue
		}
		slot[l.PeriodNumber] = len(day.Lessons)
		day.Lessons = append(day.Lessons, l)
	}
	day.SortLessons()
	return day
}

func firstValue(raw map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func coerceString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return ""
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// coerceFloat parses numeric-looking values, returning def for anything that
// is missing, non-numeric, NaN or infinite.
func coerceFloat(v any, def float64) float64 {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return def
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(val, ",", ".")), 64)
		if err != nil {
			return def
		}
		f = parsed
	default:
		return def
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

func coerceInt(v any, def int) int {
	f := coerceFloat(v, math.NaN())
	if math.IsNaN(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return def
	}
	return int(f)
}

// truthy mirrors loose truthiness: zero values are false, everything else is
// true. Strings that spell a boolean are read as that boolean.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		s := strings.TrimSpace(val)
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		return s != ""
	case float64:
		return val != 0 && !math.IsNaN(val)
	case int:
		return val != 0
	case json.Number:
		f, err := val.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}
