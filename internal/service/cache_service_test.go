package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheServiceExpiresEntries(t *testing.T) {
	svc := NewCacheService(20*time.Millisecond, NewMetricsService())
	svc.Set("timetableEntries", "week")

	v, ok := svc.Get("timetableEntries")
	require.True(t, ok)
	assert.Equal(t, "week", v)

	time.Sleep(40 * time.Millisecond)
	_, ok = svc.Get("timetableEntries")
	assert.False(t, ok)
}

func TestCacheServiceDeleteDropsOneKey(t *testing.T) {
	svc := NewCacheService(time.Minute, nil)
	svc.Set("gradeCalculator:u1", 1)
	svc.Set("gradeCalculator:u2", 2)

	svc.Delete("gradeCalculator:u1")
	_, ok := svc.Get("gradeCalculator:u1")
	assert.False(t, ok)
	v, ok := svc.Get("gradeCalculator:u2")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}
