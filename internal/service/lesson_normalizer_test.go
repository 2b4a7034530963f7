package service

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/timetable-sync/internal/models"
)

func TestLessonNormalizerFillsGaps(t *testing.T) {
	n := NewLessonNormalizer(nil)

	lesson := n.Normalize(map[string]any{}, 2)
	assert.Equal(t, models.Lesson{
		PeriodNumber: 3,
		StartTime:    "10:00",
		EndTime:      "10:45",
		Subject:      UnknownSubject,
	}, lesson)
}

func TestLessonNormalizerAliasesAndCoercion(t *testing.T) {
	n := NewLessonNormalizer(nil)

	lesson := n.Normalize(map[string]any{
		"stunde":       "2",
		"fach":         " Mathe ",
		"lehrer":       "Hr. Klein",
		"raum":         float64(101),
		"cancelled":    float64(1),
		"substitution": "",
		"startTime":    "07:00",
	}, 0)

	assert.Equal(t, 2, lesson.PeriodNumber)
	assert.Equal(t, "08:55", lesson.StartTime, "times come from the bell schedule")
	assert.Equal(t, "09:40", lesson.EndTime)
	assert.Equal(t, "Mathe", lesson.Subject)
	assert.Equal(t, "Hr. Klein", lesson.Teacher)
	assert.Equal(t, "101", lesson.Room)
	assert.True(t, lesson.IsCancelled)
	assert.False(t, lesson.IsSubstitution)
}

func TestLessonNormalizerInvalidPeriodFallsBackToPosition(t *testing.T) {
	n := NewLessonNormalizer(nil)

	for _, raw := range []any{"abc", float64(0), float64(-3), math.NaN(), map[string]any{}} {
		lesson := n.Normalize(map[string]any{"period": raw}, 4)
		assert.Equal(t, 5, lesson.PeriodNumber)
	}
}

func TestLessonNormalizerOutOfTablePeriod(t *testing.T) {
	lesson := NewLessonNormalizer(nil).Normalize(map[string]any{"period": float64(15)}, 0)
	assert.Equal(t, 15, lesson.PeriodNumber)
	assert.Equal(t, "00:00", lesson.StartTime)
	assert.Equal(t, "00:00", lesson.EndTime)
}

func TestBuildDayLastWriteWinsAndSorts(t *testing.T) {
	day := BuildDay("Montag", []models.Lesson{
		{PeriodNumber: 3, Subject: "Bio"},
		{PeriodNumber: 1, Subject: "Old"},
		{PeriodNumber: 1, Subject: "New"},
	})
	assert.Equal(t, "Montag", day.DayName)
	assert.Len(t, day.Lessons, 2)
	assert.Equal(t, "New", day.Lessons[0].Subject)
	assert.Equal(t, "Bio", day.Lessons[1].Subject)
}

func TestCoerceHelpers(t *testing.T) {
	assert.Equal(t, 2.5, coerceFloat("2,5", 0))
	assert.Equal(t, 7.0, coerceFloat(json.Number("7"), 0))
	assert.Equal(t, 1.0, coerceFloat(math.Inf(1), 1))
	assert.Equal(t, 9, coerceInt(nil, 9))
	assert.Equal(t, 4, coerceInt("4.0", 0))

	assert.True(t, truthy("yes"))
	assert.False(t, truthy("false"))
	assert.False(t, truthy(""))
	assert.True(t, truthy([]any{}))
	assert.False(t, truthy(float64(0)))
}
