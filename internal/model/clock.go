package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the ISO calendar date format used for every slot date.
const DateLayout = "2006-01-02"

// ClockTime is a wall-clock time of day expressed in minutes since midnight.
// It is read and written as "HH:MM".
type ClockTime int

// ParseClock parses an "HH:MM" string.  24:00 is accepted so that a business
// day or blackout window can run until midnight.
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" {
		return ClockTime(24 * 60), nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

// Hour returns the hour component.
func (c ClockTime) Hour() int { return int(c) / 60 }

// Minute returns the minute component.
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute()) }

func (c ClockTime) MarshalJSON() ([]byte, error) { return json.Marshal(c.String()) }

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Decode lets envconfig read ClockTime values straight from the environment.
func (c *ClockTime) Decode(value string) error {
	v, err := ParseClock(value)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// TimeLabel identifies one bookable slot by its start time.  Labels render
// in 12-hour form ("7am", "12pm", "10pm"); slots that do not start on the hour
// keep their minutes ("7:30am").
type TimeLabel int

// LabelAt converts a ClockTime into the label of a slot starting at it.
func LabelAt(c ClockTime) TimeLabel { return TimeLabel(c) }

// Start returns the slot start as a time of day.
func (l TimeLabel) Start() ClockTime { return ClockTime(l) }

func (l TimeLabel) String() string {
	h, m := (int(l)/60)%24, int(l)%60
	suffix := "am"
	if h >= 12 {
		suffix = "pm"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	if m == 0 {
		return strconv.Itoa(h12) + suffix
	}
	return fmt.Sprintf("%d:%02d%s", h12, m, suffix)
}

// ParseTimeLabel parses labels produced by TimeLabel.String.  Matching is case
// insensitive and tolerates surrounding spaces.
func ParseTimeLabel(s string) (TimeLabel, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	var pm bool
	switch {
	case strings.HasSuffix(raw, "am"):
	case strings.HasSuffix(raw, "pm"):
		pm = true
	default:
		return 0, fmt.Errorf("invalid time label %q", s)
	}
	raw = strings.TrimSpace(raw[:len(raw)-2])
	hourPart, minPart := raw, "0"
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		hourPart, minPart = raw[:i], raw[i+1:]
		if len(minPart) != 2 {
			return 0, fmt.Errorf("invalid time label %q", s)
		}
	}
	h, err := strconv.Atoi(hourPart)
	if err != nil || h < 1 || h > 12 {
		return 0, fmt.Errorf("invalid time label %q", s)
	}
	m, err := strconv.Atoi(minPart)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time label %q", s)
	}
	h %= 12
	if pm {
		h += 12
	}
	return TimeLabel(h*60 + m), nil
}

func (l TimeLabel) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *TimeLabel) UnmarshalText(b []byte) error {
	v, err := ParseTimeLabel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ParseDate parses an ISO date and returns midnight UTC of that day.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

// SlotStart returns the instant a slot begins on the given calendar date,
// interpreted in loc.
func SlotStart(day time.Time, label TimeLabel, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(day.Year(), day.Month(), day.Day(), int(label)/60, int(label)%60, 0, 0, loc)
}
