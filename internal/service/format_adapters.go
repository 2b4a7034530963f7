package service

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-sync/internal/models"
)

// Adapter names, in default chain order.
const (
	AdapterWeek             = "week"
	AdapterDataWeek         = "data-week"
	AdapterStructured       = "structured"
	AdapterFlatList         = "flat-list"
	AdapterNestedStructured = "nested-structured"
)

const nestedSearchDepth = 3

var periodLabelPattern = regexp.MustCompile(`^\s*(\d+)\.\s*(\d{1,2}:\d{2})\s*[-–]\s*(\d{1,2}:\d{2})`)

var dayNameTable = map[string]string{
	"montag":     "monday",
	"dienstag":   "tuesday",
	"mittwoch":   "wednesday",
	"donnerstag": "thursday",
	"freitag":    "friday",
	"samstag":    "saturday",
	"sonnabend":  "saturday",
	"sonntag":    "sunday",
	"monday":     "monday",
	"tuesday":    "tuesday",
	"wednesday":  "wednesday",
	"thursday":   "thursday",
	"friday":     "friday",
	"saturday":   "saturday",
	"sunday":     "sunday",
}

// CanonicalDayKey maps a source day label onto the fixed day vocabulary.
func CanonicalDayKey(label string) (string, bool) {
	key, ok := dayNameTable[strings.ToLower(strings.TrimSpace(label))]
	return key, ok
}

// FormatAdapter recognises one payload shape and converts it into a week.
type FormatAdapter struct {
	Name      string
	Recognize func(raw any) bool
	Transform func(raw any) (models.Week, error)
}

// AdapterOutcome is the result of running a payload through the chain.
// Recognized is false when no adapter produced a week.
type AdapterOutcome struct {
	Adapter    string
	Week       models.Week
	Recognized bool
}

// FormatAdapterChain tries adapters in order; the first usable week wins.
type FormatAdapterChain struct {
	adapters []FormatAdapter
	logger   *zap.Logger
	metrics  *MetricsService
}

// NewFormatAdapterChain builds the default chain on top of normalizer.
func NewFormatAdapterChain(normalizer *LessonNormalizer, logger *zap.Logger, metrics *MetricsService) *FormatAdapterChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &weekBuilder{normalizer: normalizer, logger: logger}
	if b.normalizer == nil {
		b.normalizer = NewLessonNormalizer(nil)
	}
	return NewFormatAdapterChainWith(logger, metrics,
		FormatAdapter{Name: AdapterWeek, Recognize: isWeekShape, Transform: b.week},
		FormatAdapter{Name: AdapterDataWeek, Recognize: isDataWeekShape, Transform: b.dataWeek},
		FormatAdapter{Name: AdapterStructured, Recognize: isStructuredShape, Transform: b.structured},
		FormatAdapter{Name: AdapterFlatList, Recognize: isFlatListShape, Transform: b.flatList},
		FormatAdapter{Name: AdapterNestedStructured, Recognize: hasNestedStructured, Transform: b.nestedStructured},
	)
}

// NewFormatAdapterChainWith builds a chain from explicit adapters.
func NewFormatAdapterChainWith(logger *zap.Logger, metrics *MetricsService, adapters ...FormatAdapter) *FormatAdapterChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FormatAdapterChain{adapters: adapters, logger: logger, metrics: metrics}
}

// Adapters lists adapter names in the order they are tried.
func (c *FormatAdapterChain) Adapters() []string {
	names := make([]string, len(c.adapters))
	for i, a := range c.adapters {
		names[i] = a.Name
	}
	return names
}

// Interpret runs raw through the chain. It never panics.
func (c *FormatAdapterChain) Interpret(raw any) AdapterOutcome {
	for _, adapter := range c.adapters {
		week, ok := c.try(adapter, raw)
		if !ok {
			continue
		}
		c.metrics.RecordAdapter(adapter.Name)
		return AdapterOutcome{Adapter: adapter.Name, Week: week, Recognized: true}
	}
	c.metrics.RecordAdapter("")
	return AdapterOutcome{}
}

// InterpretBytes decodes body as JSON and interprets it. The error is only
// set when body is not valid JSON.
func (c *FormatAdapterChain) InterpretBytes(body []byte) (AdapterOutcome, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return AdapterOutcome{}, fmt.Errorf("decode timetable payload: %w", err)
	}
	return c.Interpret(raw), nil
}

func (c *FormatAdapterChain) try(adapter FormatAdapter, raw any) (week models.Week, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("format adapter panicked", zap.String("adapter", adapter.Name), zap.Any("panic", r))
			week, ok = nil, false
		}
	}()
	if adapter.Recognize != nil && !adapter.Recognize(raw) {
		return nil, false
	}
	week, err := adapter.Transform(raw)
	if err != nil {
		c.logger.Debug("format adapter rejected payload", zap.String("adapter", adapter.Name), zap.Error(err))
		return nil, false
	}
	if len(week) == 0 {
		return nil, false
	}
	return week, true
}

type weekBuilder struct {
	normalizer *LessonNormalizer
	logger     *zap.Logger
}

func isWeekShape(raw any) bool {
	obj, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	for key := range obj {
		if _, ok := CanonicalDayKey(key); ok {
			return true
		}
	}
	return false
}

func isDataWeekShape(raw any) bool {
	obj, ok := raw.(map[string]any)
	return ok && isWeekShape(obj["data"])
}

func isStructuredShape(raw any) bool {
	obj, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	for _, key := range []string{"days", "periods", "classes"} {
		if _, ok := obj[key].([]any); !ok {
			return false
		}
	}
	return true
}

func isFlatListShape(raw any) bool {
	list, ok := raw.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if _, ok := item.(map[string]any); ok {
			return true
		}
	}
	return false
}

func hasNestedStructured(raw any) bool {
	return findStructured(raw) != nil
}

func (b *weekBuilder) week(raw any) (models.Week, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("week payload is %T", raw)
	}
	keys := sortedKeys(obj)
	week := make(models.Week)
	for _, key := range keys {
		dayKey, ok := CanonicalDayKey(key)
		if !ok {
			continue
		}
		day, ok := b.dayFromValue(key, obj[key])
		if !ok {
			continue
		}
		week[dayKey] = day
	}
	return week, nil
}

func (b *weekBuilder) dataWeek(raw any) (models.Week, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("data-week payload is %T", raw)
	}
	return b.week(obj["data"])
}

// dayFromValue accepts either a day object or a bare lesson list.
func (b *weekBuilder) dayFromValue(label string, value any) (models.Day, bool) {
	var (
		items []any
		name  = label
		date  string
	)
	switch v := value.(type) {
	case []any:
		items = v
	case map[string]any:
		list, ok := v["lessons"].([]any)
		if !ok {
			return models.Day{}, false
		}
		items = list
		if n := coerceString(v["dayName"]); n != "" {
			name = n
		}
		date = coerceString(v["date"])
	default:
		return models.Day{}, false
	}

	lessons := make([]models.Lesson, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		lessons = append(lessons, b.normalizer.Normalize(rec, i))
	}
	day := BuildDay(name, lessons)
	day.Date = date
	return day, true
}

type structuredPeriod struct {
	number int
	label  string
}

func (b *weekBuilder) structured(raw any) (models.Week, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("structured payload is %T", raw)
	}
	days, _ := obj["days"].([]any)
	periods, _ := obj["periods"].([]any)
	classes, _ := obj["classes"].([]any)
	if len(days) == 0 {
		return nil, fmt.Errorf("structured payload has no days")
	}

	dayKeys := make([]string, len(days))
	dayLabels := make([]string, len(days))
	for i, d := range days {
		dayLabels[i] = coerceString(d)
		if key, ok := CanonicalDayKey(dayLabels[i]); ok {
			dayKeys[i] = key
		} else {
			dayKeys[i] = models.PositionalDayKey(i)
		}
	}

	slots := make([]structuredPeriod, len(periods))
	for i, p := range periods {
		slots[i] = parsePeriodLabel(p, i)
	}

	buckets := make([][]models.Lesson, len(days))
	for i, item := range classes {
		rec, ok := item.(map[string]any)
		if !ok {
			b.logger.Warn("structured class item dropped", zap.Int("index", i), zap.String("reason", "not an object"))
			continue
		}
		dayIdx := indexOf(rec["day"], dayLabels)
		periodIdx := indexOf(rec["period"], periodLabelsOf(slots))
		if dayIdx < 0 || dayIdx >= len(days) || periodIdx < 0 || periodIdx >= len(slots) {
			b.logger.Warn("structured class item dropped",
				zap.Int("index", i),
				zap.Any("day", rec["day"]),
				zap.Any("period", rec["period"]),
				zap.String("reason", "day or period out of range"))
			continue
		}
		slot := slots[periodIdx]
		lesson := b.normalizer.WithPeriod(b.normalizer.Normalize(rec, periodIdx), slot.number)
		lesson.PeriodLabel = slot.label
		buckets[dayIdx] = append(buckets[dayIdx], lesson)
	}

	week := make(models.Week, len(days))
	for i := range days {
		if _, dup := week[dayKeys[i]]; dup && len(buckets[i]) == 0 {
			continue
		}
		week[dayKeys[i]] = BuildDay(dayLabels[i], buckets[i])
	}
	return week, nil
}

// parsePeriodLabel reads "N.HH:MM - HH:MM". Only the number is kept; the
// displayed times always come from the bell schedule.
func parsePeriodLabel(value any, position int) structuredPeriod {
	label := coerceString(value)
	if m := periodLabelPattern.FindStringSubmatch(label); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return structuredPeriod{number: n, label: label}
		}
	}
	if n, err := strconv.Atoi(label); err == nil && n > 0 {
		return structuredPeriod{number: n, label: label}
	}
	return structuredPeriod{number: position + 1, label: label}
}

func periodLabelsOf(slots []structuredPeriod) []string {
	labels := make([]string, len(slots))
	for i, s := range slots {
		labels[i] = s.label
	}
	return labels
}

// indexOf resolves a class item reference: numbers are zero-based indexes,
// strings are matched against labels (case-insensitive) before being read as
// a number. Unresolvable references return -1.
func indexOf(ref any, labels []string) int {
	switch v := ref.(type) {
	case string:
		s := strings.TrimSpace(v)
		for i, l := range labels {
			if strings.EqualFold(l, s) {
				return i
			}
		}
		if key, ok := CanonicalDayKey(s); ok {
			for i, l := range labels {
				if k, ok := CanonicalDayKey(l); ok && k == key {
					return i
				}
			}
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		return -1
	case nil:
		return -1
	default:
		return coerceInt(v, -1)
	}
}

func (b *weekBuilder) flatList(raw any) (models.Week, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("flat-list payload is %T", raw)
	}

	buckets := make([][]models.Lesson, models.WeekdayCount)
	names := make([]string, models.WeekdayCount)
	placed := 0
	for i, item := range list {
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		dayIdx := flatDayIndex(rec["day"])
		if dayIdx < 0 || dayIdx >= models.WeekdayCount {
			b.logger.Warn("flat-list record dropped", zap.Int("index", i), zap.Any("day", rec["day"]))
			continue
		}
		if names[dayIdx] == "" {
			if label, ok := rec["day"].(string); ok {
				names[dayIdx] = strings.TrimSpace(label)
			}
		}
		buckets[dayIdx] = append(buckets[dayIdx], b.normalizer.Normalize(rec, len(buckets[dayIdx])))
		placed++
	}
	if placed == 0 {
		return nil, fmt.Errorf("flat-list payload has no placeable records")
	}

	week := make(models.Week, models.WeekdayCount)
	for i := 0; i < models.WeekdayCount; i++ {
		key := models.CanonicalDayKeys[i]
		name := names[i]
		if name == "" {
			name = strings.ToUpper(key[:1]) + key[1:]
		}
		week[key] = BuildDay(name, buckets[i])
	}
	return week, nil
}

func flatDayIndex(ref any) int {
	if s, ok := ref.(string); ok {
		if key, ok := CanonicalDayKey(s); ok {
			return models.DayIndex(key)
		}
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
		return -1
	}
	if ref == nil {
		return -1
	}
	return coerceInt(ref, -1)
}

func (b *weekBuilder) nestedStructured(raw any) (models.Week, error) {
	inner := findStructured(raw)
	if inner == nil {
		return nil, fmt.Errorf("no nested structured payload")
	}
	return b.structured(inner)
}

// findStructured looks for the structured shape below the top level:
// data.structured first, then structured, then a bounded search over
// object properties in key order.
func findStructured(raw any) map[string]any {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	if data, ok := obj["data"].(map[string]any); ok {
		if s, ok := data["structured"].(map[string]any); ok && isStructuredShape(s) {
			return s
		}
	}
	if s, ok := obj["structured"].(map[string]any); ok && isStructuredShape(s) {
		return s
	}
	return searchStructured(obj, nestedSearchDepth)
}

func searchStructured(obj map[string]any, depth int) map[string]any {
	if depth == 0 {
		return nil
	}
	for _, key := range sortedKeys(obj) {
		child, ok := obj[key].(map[string]any)
		if !ok {
			continue
		}
		if isStructuredShape(child) {
			return child
		}
		if found := searchStructured(child, depth-1); found != nil {
			return found
		}
	}
	return nil
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
