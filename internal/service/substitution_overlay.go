package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-sync/internal/models"
)

const (
	cancelledNote = "Cancelled"
	noteSeparator = " | "
	emptyField    = "n/a"
)

// SubstitutionOverlay folds a cancellation/substitution feed into a week.
type SubstitutionOverlay struct {
	logger *zap.Logger
}

// NewSubstitutionOverlay constructs an overlay.
func NewSubstitutionOverlay(logger *zap.Logger) *SubstitutionOverlay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubstitutionOverlay{logger: logger}
}

type overlayIndex struct {
	specific map[string]models.SubstitutionRecord
	generic  map[string]models.SubstitutionRecord
}

func slotKey(day, period int) string {
	return fmt.Sprintf("%d:%d", day, period)
}

func subjectKey(day, period int, subject string) string {
	return fmt.Sprintf("%d:%d:%s", day, period, strings.ToLower(strings.TrimSpace(subject)))
}

// index registers each record under its most specific key. A record naming
// a subject is also reachable through its new subject, so a lesson it has
// already renamed still finds it, and through the bare slot unless a record
// without subject claims that slot.
func buildOverlayIndex(records []models.SubstitutionRecord) overlayIndex {
	idx := overlayIndex{
		specific: make(map[string]models.SubstitutionRecord),
		generic:  make(map[string]models.SubstitutionRecord),
	}
	claimed := make(map[string]bool)
	for _, r := range records {
		slot := slotKey(r.DayIndex, r.PeriodIndex)
		if strings.TrimSpace(r.Subject) == "" {
			idx.generic[slot] = r
			claimed[slot] = true
			continue
		}
		idx.specific[subjectKey(r.DayIndex, r.PeriodIndex, r.Subject)] = r
		if r.NewSubject != "" {
			idx.specific[subjectKey(r.DayIndex, r.PeriodIndex, r.NewSubject)] = r
		}
		if !claimed[slot] {
			idx.generic[slot] = r
		}
	}
	return idx
}

func (idx overlayIndex) lookup(day, period int, subject string) (models.SubstitutionRecord, bool) {
	if r, ok := idx.specific[subjectKey(day, period, subject)]; ok {
		return r, true
	}
	r, ok := idx.generic[slotKey(day, period)]
	return r, ok
}

// Apply returns a copy of week with records merged in. week is not modified.
// Applying the same records again yields the same week.
func (o *SubstitutionOverlay) Apply(week models.Week, records []models.SubstitutionRecord) models.Week {
	out := week.Clone()
	if len(records) == 0 || len(out) == 0 {
		return out
	}
	idx := buildOverlayIndex(records)
	applied := 0
	for key, day := range out {
		dayIdx := models.DayIndex(key)
		if dayIdx < 0 {
			continue
		}
		for i := range day.Lessons {
			lesson := &day.Lessons[i]
			record, ok := idx.lookup(dayIdx, lesson.PeriodNumber-1, lesson.Subject)
			if !ok {
				continue
			}
			mergeSubstitution(lesson, record)
			applied++
		}
		out[key] = day
	}
	o.logger.Debug("substitution overlay applied", zap.Int("records", len(records)), zap.Int("lessons", applied))
	return out
}

func mergeSubstitution(lesson *models.Lesson, r models.SubstitutionRecord) {
	if r.Cancelled {
		lesson.IsCancelled = true
		lesson.Notes = appendNote(lesson.Notes, cancelledNote)
	}
	if r.Substitution {
		lesson.IsSubstitution = true
		lesson.Notes = appendNote(lesson.Notes, replaceField("Teacher", &lesson.Teacher, r.NewTeacher))
		lesson.Notes = appendNote(lesson.Notes, replaceField("Room", &lesson.Room, r.NewRoom))
		lesson.Notes = appendNote(lesson.Notes, replaceField("Subject", &lesson.Subject, r.NewSubject))
	}
	if info := strings.TrimSpace(r.Info); info != "" && !strings.Contains(lesson.Notes, info) {
		if lesson.Notes == "" {
			lesson.Notes = info
		} else {
			lesson.Notes = info + noteSeparator + lesson.Notes
		}
	}
}

// replaceField overwrites *field when next differs and returns the diff note.
func replaceField(label string, field *string, next string) string {
	next = strings.TrimSpace(next)
	if next == "" || next == *field {
		return ""
	}
	prev := *field
	if prev == "" {
		prev = emptyField
	}
	*field = next
	return fmt.Sprintf("%s: %s → %s", label, prev, next)
}

func appendNote(notes, note string) string {
	if note == "" || strings.Contains(notes, note) {
		return notes
	}
	if notes == "" {
		return note
	}
	return notes + noteSeparator + note
}

// ParseSubstitutionFeed decodes either {"substitutions": [...]} or a bare list.
// Items that are not objects or point at negative slots are skipped.
func ParseSubstitutionFeed(body []byte) ([]models.SubstitutionRecord, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode substitution feed: %w", err)
	}
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		list, ok := v["substitutions"].([]any)
		if !ok {
			return nil, fmt.Errorf("substitution feed has no substitutions list")
		}
		items = list
	default:
		return nil, fmt.Errorf("substitution feed is %T", raw)
	}

	records := make([]models.SubstitutionRecord, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		r := models.SubstitutionRecord{
			DayIndex:     coerceInt(firstValue(m, []string{"dayIndex", "day"}), -1),
			PeriodIndex:  coerceInt(firstValue(m, []string{"periodIndex", "period"}), -1),
			Subject:      coerceString(m["subject"]),
			Cancelled:    truthy(firstValue(m, cancelKeys)),
			Substitution: truthy(firstValue(m, substKeys)),
			NewTeacher:   coerceString(m["newTeacher"]),
			NewRoom:      coerceString(m["newRoom"]),
			NewSubject:   coerceString(m["newSubject"]),
			Info:         coerceString(firstValue(m, []string{"info", "text"})),
		}
		if r.DayIndex < 0 || r.PeriodIndex < 0 {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}
