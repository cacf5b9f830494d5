package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Weekdays in provider order. Keys of Weekly use these lowercase names.
var Weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// TimeInterval is a same-day range in "HH:mm".
type TimeInterval struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Weekly maps a lowercase weekday name to its ordered intervals.
type Weekly map[string][]TimeInterval

func (w Weekly) Value() (driver.Value, error) {
	if w == nil {
		return "{}", nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (w *Weekly) Scan(src any) error {
	return scanJSON(src, w)
}

// AvailabilitySchedule is a weekly recurring availability pattern.
type AvailabilitySchedule struct {
	ID                    string    `db:"id" json:"id"`
	UserID                string    `db:"user_id" json:"user_id"`
	ExternalID            int64     `db:"external_id" json:"external_id"`
	Name                  string    `db:"name" json:"name"`
	Timezone              string    `db:"timezone" json:"timezone"`
	IsDefault             bool      `db:"is_default" json:"is_default"`
	IsActive              bool      `db:"is_active" json:"is_active"`
	Weekly                Weekly    `db:"weekly" json:"weekly"`
	MinSessionMinutes     int       `db:"min_session_minutes" json:"min_session_minutes"`
	DefaultSessionMinutes int       `db:"default_session_minutes" json:"default_session_minutes"`
	MaxSessionMinutes     int       `db:"max_session_minutes" json:"max_session_minutes"`
	BufferBefore          int       `db:"buffer_before" json:"buffer_before"`
	BufferAfter           int       `db:"buffer_after" json:"buffer_after"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// IntervalPolicy decides what happens to an interval whose end is not after its start.
type IntervalPolicy string

const (
	IntervalPolicyReject IntervalPolicy = "reject"
	IntervalPolicyBump   IntervalPolicy = "bump"
)

// BumpMinutes is how far the end of an invalid interval is moved past its start.
const BumpMinutes = 30

const minutesPerDay = 24 * 60

// ParseClock converts "HH:mm" to minutes since midnight.
func ParseClock(value string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: bad time %q", ErrInvalidInterval, value)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock converts minutes since midnight to "HH:mm".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// NormalizeIntervals validates one day's intervals and returns them sorted with
// overlaps merged. Every returned interval ends strictly after it starts.
func NormalizeIntervals(intervals []TimeInterval, policy IntervalPolicy) ([]TimeInterval, error) {
	type span struct{ start, end int }

	spans := make([]span, 0, len(intervals))
	for _, iv := range intervals {
		start, err := ParseClock(iv.Start)
		if err != nil {
			return nil, err
		}
		end, err := ParseClock(iv.End)
		if err != nil {
			return nil, err
		}
		if end <= start {
			if policy != IntervalPolicyBump || start+BumpMinutes >= minutesPerDay {
				return nil, fmt.Errorf("%w: %s-%s ends before it starts", ErrInvalidInterval, iv.Start, iv.End)
			}
			end = start + BumpMinutes
		}
		spans = append(spans, span{start: start, end: end})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := make([]span, 0, len(spans))
	for _, s := range spans {
		if n := len(merged); n > 0 && s.start <= merged[n-1].end {
			if s.end > merged[n-1].end {
				merged[n-1].end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}

	out := make([]TimeInterval, 0, len(merged))
	for _, s := range merged {
		out = append(out, TimeInterval{Start: FormatClock(s.start), End: FormatClock(s.end)})
	}
	return out, nil
}

// NormalizeWeekly applies NormalizeIntervals to every day and rejects unknown day names.
func NormalizeWeekly(weekly Weekly, policy IntervalPolicy) (Weekly, error) {
	out := make(Weekly, len(weekly))
	for day, intervals := range weekly {
		key := strings.ToLower(strings.TrimSpace(day))
		if !isWeekday(key) {
			return nil, fmt.Errorf("%w: unknown weekday %q", ErrInvalidInterval, day)
		}
		normalized, err := NormalizeIntervals(intervals, policy)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if len(normalized) > 0 {
			out[key] = normalized
		}
	}
	return out, nil
}

// DefaultWeekly is Monday to Friday, 09:00 to 17:00.
func DefaultWeekly() Weekly {
	weekly := make(Weekly, 5)
	for _, day := range Weekdays[:5] {
		weekly[day] = []TimeInterval{{Start: "09:00", End: "17:00"}}
	}
	return weekly
}

// ResolveTimezone picks the first loadable zone in precedence order:
// integration, schedule, browser. Falls back to UTC.
func ResolveTimezone(integrationTZ, scheduleTZ, browserTZ string) string {
	for _, candidate := range []string{integrationTZ, scheduleTZ, browserTZ} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, err := time.LoadLocation(candidate); err == nil {
			return candidate
		}
	}
	return "UTC"
}

func isWeekday(day string) bool {
	for _, d := range Weekdays {
		if d == day {
			return true
		}
	}
	return false
}
