package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDeliversToTopicSubscribers(t *testing.T) {
	bus := NewEventBus()
	timetable, stopTimetable := bus.Subscribe(UpdateTopic("timetableEntries"), 4)
	grades, stopGrades := bus.Subscribe(UpdateTopic("gradeCalculator"), 4)
	defer stopGrades()

	assert.Equal(t, 1, bus.Publish(UpdateEvent{Topic: "timetableEntriesUpdated", Key: "timetableEntries"}))

	evt := <-timetable
	assert.Equal(t, "timetableEntries", evt.Key)
	assert.Empty(t, grades)

	stopTimetable()
	stopTimetable()
	_, open := <-timetable
	assert.False(t, open)
	assert.Equal(t, 0, bus.Subscribers("timetableEntriesUpdated"))
}

func TestEventBusDropsOldestForSlowSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch, stop := bus.Subscribe("t", 2)
	defer stop()

	for _, key := range []string{"a", "b", "c"} {
		bus.Publish(UpdateEvent{Topic: "t", Key: key})
	}
	require.Len(t, ch, 2)
	assert.Equal(t, "b", (<-ch).Key)
	assert.Equal(t, "c", (<-ch).Key)
}
