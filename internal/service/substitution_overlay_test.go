package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-sync/internal/models"
)

func structuredWeek(t *testing.T) models.Week {
	t.Helper()
	outcome, err := newTestChain().InterpretBytes([]byte(structuredPayload))
	require.NoError(t, err)
	require.True(t, outcome.Recognized)
	return outcome.Week
}

func TestOverlayCancellation(t *testing.T) {
	base := structuredWeek(t)
	week := NewSubstitutionOverlay(nil).Apply(base, []models.SubstitutionRecord{
		{DayIndex: 0, PeriodIndex: 0, Cancelled: true, Info: "Teacher ill"},
	})

	lesson := week["monday"].Lessons[0]
	assert.True(t, lesson.IsCancelled)
	assert.Contains(t, lesson.Notes, "Teacher ill")
	assert.Equal(t, "Teacher ill | Cancelled", lesson.Notes)
	assert.False(t, base["monday"].Lessons[0].IsCancelled, "base week untouched")
}

func TestOverlaySubstitutionDiffsAccumulate(t *testing.T) {
	base := models.Week{"tuesday": {DayName: "Dienstag", Lessons: []models.Lesson{
		{PeriodNumber: 2, Subject: "Mathe", Teacher: "Klein", Notes: "Bring calculator"},
	}}}
	week := NewSubstitutionOverlay(nil).Apply(base, []models.SubstitutionRecord{
		{DayIndex: 1, PeriodIndex: 1, Subject: "mathe", Substitution: true, NewTeacher: "Groß", NewRoom: "B12", NewSubject: "Physik"},
	})

	lesson := week["tuesday"].Lessons[0]
	assert.True(t, lesson.IsSubstitution)
	assert.False(t, lesson.IsCancelled)
	assert.Equal(t, "Groß", lesson.Teacher)
	assert.Equal(t, "B12", lesson.Room)
	assert.Equal(t, "Physik", lesson.Subject)
	assert.Equal(t, "Bring calculator | Teacher: Klein → Groß | Room: n/a → B12 | Subject: Mathe → Physik", lesson.Notes)
}

func TestOverlayIsIdempotent(t *testing.T) {
	overlay := NewSubstitutionOverlay(nil)
	base := structuredWeek(t)
	base["tuesday"] = models.Day{DayName: "Dienstag", Lessons: []models.Lesson{
		{PeriodNumber: 3, Subject: "Chemie", Teacher: "Roth"},
	}}
	records := []models.SubstitutionRecord{
		{DayIndex: 0, PeriodIndex: 0, Cancelled: true, Info: "Teacher ill"},
		{DayIndex: 1, PeriodIndex: 2, Subject: "Chemie", Substitution: true, NewTeacher: "Weiß", NewSubject: "Bio", Info: "Raumtausch"},
		{DayIndex: 1, PeriodIndex: 2, Substitution: true, NewRoom: "Lab"},
	}

	once := overlay.Apply(base, records)
	twice := overlay.Apply(once, records)
	assert.Equal(t, once, twice)

	lesson := once["tuesday"].Lessons[0]
	assert.Equal(t, "Bio", lesson.Subject)
	assert.Empty(t, lesson.Room, "subject-specific record wins over the slot record")
}

func TestOverlaySpecificKeyFallsBackToSlot(t *testing.T) {
	base := models.Week{"monday": {Lessons: []models.Lesson{{PeriodNumber: 1, Subject: "Deutsch"}}}}
	week := NewSubstitutionOverlay(nil).Apply(base, []models.SubstitutionRecord{
		{DayIndex: 0, PeriodIndex: 0, Subject: "Mathematik", Cancelled: true},
	})
	assert.True(t, week["monday"].Lessons[0].IsCancelled)

	week = NewSubstitutionOverlay(nil).Apply(base, []models.SubstitutionRecord{
		{DayIndex: 0, PeriodIndex: 1, Cancelled: true},
		{DayIndex: 4, PeriodIndex: 0, Cancelled: true},
	})
	assert.False(t, week["monday"].Lessons[0].IsCancelled)
}

func TestParseSubstitutionFeed(t *testing.T) {
	records, err := ParseSubstitutionFeed([]byte(`{"substitutions": [
		{"dayIndex": 0, "periodIndex": "1", "cancelled": true, "info": "Ausfall"},
		{"day": 2, "period": 3, "substitution": 1, "newTeacher": "Weiß"},
		{"dayIndex": -1, "periodIndex": 0},
		"junk"
	]}`))
	require.NoError(t, err)
	assert.Equal(t, []models.SubstitutionRecord{
		{DayIndex: 0, PeriodIndex: 1, Cancelled: true, Info: "Ausfall"},
		{DayIndex: 2, PeriodIndex: 3, Substitution: true, NewTeacher: "Weiß"},
	}, records)

	records, err = ParseSubstitutionFeed([]byte(`[{"dayIndex": 1, "periodIndex": 1}]`))
	require.NoError(t, err)
	assert.Len(t, records, 1)

	for _, bad := range []string{`{}`, `"text"`, `not json`} {
		_, err := ParseSubstitutionFeed([]byte(bad))
		assert.Error(t, err, bad)
	}
}
