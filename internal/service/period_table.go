package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PeriodTime is the canonical start/end of one bell-schedule slot.
type PeriodTime struct {
	Period int    `json:"period"`
	Start  string `json:"start"`
	End    string `json:"end"`
}

const noPeriodTime = "00:00"

// PeriodTable is the immutable bell schedule. Period numbers are 1-based.
type PeriodTable struct {
	slots []PeriodTime
	// start/end in minutes after midnight, aligned with slots
	bounds [][2]int
}

var defaultPeriodSlots = [][2]string{
	{"08:10", "08:55"},
	{"08:55", "09:40"},
	{"10:00", "10:45"},
	{"10:45", "11:30"},
	{"11:45", "12:30"},
	{"12:30", "13:15"},
	{"14:00", "14:45"},
	{"14:45", "15:30"},
	{"15:40", "16:25"},
	{"16:25", "17:10"},
	{"17:15", "18:00"},
	{"18:00", "18:45"},
}

// DefaultPeriodTable returns the reference twelve-period schedule.
func DefaultPeriodTable() *PeriodTable {
	table, err := NewPeriodTable(defaultPeriodSlots)
	if err != nil {
		panic(err)
	}
	return table
}

// NewPeriodTable validates slots and builds a table. Slots must be well formed,
// non-empty and must not overlap or go backwards.
func NewPeriodTable(slots [][2]string) (*PeriodTable, error) {
	if len(slots) == 0 {
		return nil, fmt.Errorf("period table requires at least one slot")
	}
	table := &PeriodTable{
		slots:  make([]PeriodTime, 0, len(slots)),
		bounds: make([][2]int, 0, len(slots)),
	}
	prevEnd := -1
	for i, slot := range slots {
		start, err := parseClock(slot[0])
		if err != nil {
			return nil, fmt.Errorf("period %d start: %w", i+1, err)
		}
		end, err := parseClock(slot[1])
		if err != nil {
			return nil, fmt.Errorf("period %d end: %w", i+1, err)
		}
		if end <= start {
			return nil, fmt.Errorf("period %d ends before it starts", i+1)
		}
		if start < prevEnd {
			return nil, fmt.Errorf("period %d overlaps period %d", i+1, i)
		}
		prevEnd = end
		table.slots = append(table.slots, PeriodTime{Period: i + 1, Start: formatClock(start), End: formatClock(end)})
		table.bounds = append(table.bounds, [2]int{start, end})
	}
	return table, nil
}

// ParsePeriodTable reads a comma separated list of "HH:MM-HH:MM" slots.
func ParsePeriodTable(spec string) (*PeriodTable, error) {
	parts := strings.Split(spec, ",")
	slots := make([][2]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		start, end, ok := strings.Cut(part, "-")
		if !ok {
			return nil, fmt.Errorf("invalid period slot %q", part)
		}
		slots = append(slots, [2]string{strings.TrimSpace(start), strings.TrimSpace(end)})
	}
	return NewPeriodTable(slots)
}

// Len returns the number of periods.
func (t *PeriodTable) Len() int {
	return len(t.slots)
}

// Contains reports whether period is inside the table.
func (t *PeriodTable) Contains(period int) bool {
	return period >= 1 && period <= len(t.slots)
}

// Periods returns a copy of all slots in order.
func (t *PeriodTable) Periods() []PeriodTime {
	out := make([]PeriodTime, len(t.slots))
	copy(out, t.slots)
	return out
}

// Resolve returns the canonical times for period. Unknown periods resolve to
// 00:00-00:00 instead of failing.
func (t *PeriodTable) Resolve(period int) PeriodTime {
	if !t.Contains(period) {
		return PeriodTime{Period: period, Start: noPeriodTime, End: noPeriodTime}
	}
	return t.slots[period-1]
}

// IsDuringBreak reports whether at falls strictly between the end of one
// period and the start of the next.
func (t *PeriodTable) IsDuringBreak(at time.Time) bool {
	minute := at.Hour()*60 + at.Minute()
	for i := 0; i+1 < len(t.bounds); i++ {
		if minute >= t.bounds[i][1] && minute < t.bounds[i+1][0] {
			return true
		}
	}
	return false
}

// CurrentOrUpcomingPeriod returns the first period whose end is still ahead of
// now. After the last period the schedule rolls over to period 1.
func (t *PeriodTable) CurrentOrUpcomingPeriod(now time.Time) PeriodTime {
	minute := now.Hour()*60 + now.Minute()
	for i, b := range t.bounds {
		if b[1] > minute {
			return t.slots[i]
		}
	}
	return t.slots[0]
}

// ParseClock parses "H:MM" or "HH:MM" into a time on the zero date.
func ParseClock(value string) (time.Time, error) {
	minutes, err := parseClock(value)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(0, 1, 1, minutes/60, minutes%60, 0, 0, time.UTC), nil
}

func parseClock(value string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q", value)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 || len(h) > 2 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || len(m) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour*60 + minute, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
