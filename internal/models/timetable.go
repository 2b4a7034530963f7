package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Lesson is one scheduled class in a single period of a single day.
// StartTime and EndTime always come from the bell schedule.
type Lesson struct {
	PeriodNumber   int    `json:"periodNumber"`
	StartTime      string `json:"startTime"`
	EndTime        string `json:"endTime"`
	Subject        string `json:"subject"`
	Teacher        string `json:"teacher,omitempty"`
	Room           string `json:"room,omitempty"`
	Notes          string `json:"notes,omitempty"`
	IsCancelled    bool   `json:"isCancelled"`
	IsSubstitution bool   `json:"isSubstitution"`
	PeriodLabel    string `json:"periodLabel,omitempty"`
}

// Day groups the lessons of one weekday, ordered by period.
type Day struct {
	DayName string   `json:"dayName"`
	Date    string   `json:"date,omitempty"`
	Lessons []Lesson `json:"lessons"`
}

// Week maps canonical day keys to days.
type Week map[string]Day

// CanonicalDayKeys lists the fixed day vocabulary in calendar order.
var CanonicalDayKeys = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// WeekdayCount is the number of school days lessons are bucketed into.
const WeekdayCount = 5

// DayKeyForIndex returns the canonical key for a zero-based day position.
func DayKeyForIndex(idx int) string {
	if idx >= 0 && idx < len(CanonicalDayKeys) {
		return CanonicalDayKeys[idx]
	}
	return PositionalDayKey(idx)
}

// PositionalDayKey is the key used for day labels outside the known vocabulary.
func PositionalDayKey(idx int) string {
	return fmt.Sprintf("day%d", idx+1)
}

// DayIndex reverses DayKeyForIndex and PositionalDayKey. Unknown keys yield -1.
func DayIndex(key string) int {
	for i, k := range CanonicalDayKeys {
		if k == key {
			return i
		}
	}
	if rest, ok := strings.CutPrefix(key, "day"); ok {
		if n, err := strconv.Atoi(rest); err == nil && n > 0 {
			return n - 1
		}
	}
	return -1
}

// SortLessons orders lessons by period number, keeping input order for ties.
func (d *Day) SortLessons() {
	sort.SliceStable(d.Lessons, func(i, j int) bool {
		return d.Lessons[i].PeriodNumber < d.Lessons[j].PeriodNumber
	})
}

// DayKeys returns the keys of w ordered by DayIndex, then lexically.
func (w Week) DayKeys() []string {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := DayIndex(keys[i]), DayIndex(keys[j])
		switch {
		case a >= 0 && b >= 0 && a != b:
			return a < b
		case a >= 0 && b < 0:
			return true
		case a < 0 && b >= 0:
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}

// LessonCount returns the total number of lessons across all days.
func (w Week) LessonCount() int {
	total := 0
	for _, d := range w {
		total += len(d.Lessons)
	}
	return total
}

// Clone returns a deep copy of w.
func (w Week) Clone() Week {
	if w == nil {
		return nil
	}
	out := make(Week, len(w))
	for k, d := range w {
		lessons := make([]Lesson, len(d.Lessons))
		copy(lessons, d.Lessons)
		d.Lessons = lessons
		out[k] = d
	}
	return out
}

// SubstitutionRecord is one entry of the cancellation/substitution feed.
// Records are folded into lessons and never stored on their own.
type SubstitutionRecord struct {
	DayIndex     int    `json:"dayIndex"`
	PeriodIndex  int    `json:"periodIndex"`
	Subject      string `json:"subject,omitempty"`
	Cancelled    bool   `json:"cancelled"`
	Substitution bool   `json:"substitution"`
	NewTeacher   string `json:"newTeacher,omitempty"`
	NewRoom      string `json:"newRoom,omitempty"`
	NewSubject   string `json:"newSubject,omitempty"`
	Info         string `json:"info,omitempty"`
}
