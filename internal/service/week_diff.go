package service

import (
	"fmt"
	"strconv"

	"github.com/noah-isme/timetable-sync/internal/models"
)

// Change kinds reported by DiffWeeks.
const (
	ChangeAdded   = "added"
	ChangeRemoved = "removed"
	ChangeChanged = "changed"
)

// WeekChange is one lesson-level difference between two weeks.
type WeekChange struct {
	Day    string         `json:"day"`
	Period int            `json:"period"`
	Kind   string         `json:"kind"`
	Fields []string       `json:"fields,omitempty"`
	Before *models.Lesson `json:"before,omitempty"`
	After  *models.Lesson `json:"after,omitempty"`
}

func (c WeekChange) String() string {
	switch c.Kind {
	case ChangeAdded:
		return fmt.Sprintf("+ %s %d: %s", c.Day, c.Period, c.After.Subject)
	case ChangeRemoved:
		return fmt.Sprintf("- %s %d: %s", c.Day, c.Period, c.Before.Subject)
	}
	return fmt.Sprintf("~ %s %d: %v", c.Day, c.Period, c.Fields)
}

// DiffWeeks lists lesson differences from before to after, in day and
// period order. Lessons are matched by day key and period number.
func DiffWeeks(before, after models.Week) []WeekChange {
	union := make(models.Week, len(before)+len(after))
	for k := range before {
		union[k] = models.Day{}
	}
	for k := range after {
		union[k] = models.Day{}
	}

	var changes []WeekChange
	for _, day := range union.DayKeys() {
		old := lessonsByPeriod(before[day].Lessons)
		cur := lessonsByPeriod(after[day].Lessons)
		for _, period := range periodUnion(before[day].Lessons, after[day].Lessons) {
			a, hadA := old[period]
			b, hasB := cur[period]
			switch {
			case hadA && !hasB:
				changes = append(changes, WeekChange{Day: day, Period: period, Kind: ChangeRemoved, Before: &a})
			case !hadA && hasB:
				changes = append(changes, WeekChange{Day: day, Period: period, Kind: ChangeAdded, After: &b})
			default:
				if fields := lessonFieldDiff(a, b); len(fields) > 0 {
					changes = append(changes, WeekChange{Day: day, Period: period, Kind: ChangeChanged, Fields: fields, Before: &a, After: &b})
				}
			}
		}
	}
	return changes
}

func lessonsByPeriod(lessons []models.Lesson) map[int]models.Lesson {
	out := make(map[int]models.Lesson, len(lessons))
	for _, l := range lessons {
		out[l.PeriodNumber] = l
	}
	return out
}

func periodUnion(a, b []models.Lesson) []int {
	seen := make(map[int]bool, len(a)+len(b))
	var periods []int
	merged := models.Day{Lessons: append(append([]models.Lesson{}, a...), b...)}
	merged.SortLessons()
	for _, l := range merged.Lessons {
		if !seen[l.PeriodNumber] {
			seen[l.PeriodNumber] = true
			periods = append(periods, l.PeriodNumber)
		}
	}
	return periods
}

func lessonFieldDiff(a, b models.Lesson) []string {
	var fields []string
	check := func(name, x, y string) {
		if x != y {
			fields = append(fields, name)
		}
	}
	check("subject", a.Subject, b.Subject)
	check("teacher", a.Teacher, b.Teacher)
	check("room", a.Room, b.Room)
	check("startTime", a.StartTime, b.StartTime)
	check("endTime", a.EndTime, b.EndTime)
	check("isCancelled", strconv.FormatBool(a.IsCancelled), strconv.FormatBool(b.IsCancelled))
	check("isSubstitution", strconv.FormatBool(a.IsSubstitution), strconv.FormatBool(b.IsSubstitution))
	check("notes", a.Notes, b.Notes)
	return fields
}
