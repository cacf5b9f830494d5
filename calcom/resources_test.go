package calcom

import (
	"encoding/json"
	"testing"

	"coachcal-sync/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailabilityFromWeekly_GroupsSharedIntervals(t *testing.T) {
	weekly := models.Weekly{
		"monday":    {{Start: "09:00", End: "17:00"}},
		"tuesday":   {{Start: "09:00", End: "17:00"}},
		"wednesday": {{Start: "09:00", End: "12:00"}, {Start: "13:00", End: "17:00"}},
	}

	availability := AvailabilityFromWeekly(weekly)
	require.Len(t, availability, 3)
	assert.Equal(t, []string{"Monday", "Tuesday"}, availability[0].Days)
	assert.Equal(t, "09:00", availability[0].StartTime)
	assert.Equal(t, []string{"Wednesday"}, availability[1].Days)
	assert.Equal(t, "12:00", availability[1].EndTime)

	back := WeeklyFromAvailability(availability)
	assert.Equal(t, weekly, back)
}

func TestWeeklyFromAvailability_SkipsUnknownDays(t *testing.T) {
	weekly := WeeklyFromAvailability([]ScheduleAvailability{{Days: []string{"Funday", "Friday"}, StartTime: "10:00", EndTime: "11:00"}})
	assert.Len(t, weekly, 1)
	assert.Contains(t, weekly, "friday")
}

func TestID_AcceptsNumbersAndStrings(t *testing.T) {
	var payload struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":123,"b":"wh_9","c":null}`), &payload))
	assert.Equal(t, int64(123), payload.A.Int64())
	assert.Equal(t, "wh_9", payload.B.String())
	assert.Equal(t, ID(""), payload.C)
}
