package model

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Court is a physical court.  Courts are numbered 1..CourtCount and carry no
// state of their own; they exist only through the schedule configuration.
type Court struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// CourtName returns the display name of a court.
func CourtName(id int) string { return "Court " + strconv.Itoa(id) }

// BlackoutRule is a recurring weekly window during which bookings are not
// accepted.  CourtID zero means the rule is global; any other value scopes
// the rule to that court.  The window is half-open: [Start, End).
type BlackoutRule struct {
	CourtID int          `json:"court_id,omitempty"`
	Weekday time.Weekday `json:"weekday"`
	Start   ClockTime    `json:"start"`
	End     ClockTime    `json:"end"`
}

// Global reports whether the rule applies to every court.
func (r BlackoutRule) Global() bool { return r.CourtID == 0 }

// Covers reports whether a slot starting at t falls inside the window.
func (r BlackoutRule) Covers(t ClockTime) bool { return t >= r.Start && t < r.End }

// PartialHoliday disables the hour slots of one date whose start hour falls
// in [Start, End).
type PartialHoliday struct {
	Date  string    `json:"date"`
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// Schedule is an immutable snapshot of the booking configuration.  Every
// evaluation receives a *Schedule explicitly; nothing reads ambient settings.
type Schedule struct {
	Version         uint64           `json:"version"`
	CourtCount      int              `json:"court_count"`
	Opening         ClockTime        `json:"opening_time"`
	Closing         ClockTime        `json:"closing_time"`
	SlotMinutes     int              `json:"slot_minutes"`
	PriceCents      int64            `json:"price_cents"`
	CurrencySymbol  string           `json:"currency_symbol"`
	Timezone        string           `json:"timezone"`
	Blackouts       []BlackoutRule   `json:"blackouts"`
	FullDayHolidays []string         `json:"full_day_holidays"`
	PartialHolidays []PartialHoliday `json:"partial_holidays"`

	loc *time.Location
}

// ErrInvalidSchedule wraps every schedule validation failure.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Validate checks the invariants of the configuration and resolves the
// timezone.  It must be called before the schedule is used.
func (s *Schedule) Validate() error {
	if s.CourtCount < 1 {
		return fmt.Errorf("%w: court count must be at least 1", ErrInvalidSchedule)
	}
	if s.SlotMinutes == 0 {
		s.SlotMinutes = 60
	}
	if s.SlotMinutes < 0 {
		return fmt.Errorf("%w: slot minutes must be positive", ErrInvalidSchedule)
	}
	if s.Opening < 0 || s.Closing > 24*60 || s.Opening >= s.Closing {
		return fmt.Errorf("%w: opening time %s must be before closing time %s", ErrInvalidSchedule, s.Opening, s.Closing)
	}
	if s.PriceCents < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidSchedule)
	}
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidSchedule, s.Timezone)
	}
	s.Timezone, s.loc = tz, loc
	for i, r := range s.Blackouts {
		if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
			return fmt.Errorf("%w: blackout %d has invalid weekday", ErrInvalidSchedule, i)
		}
		if r.Start >= r.End {
			return fmt.Errorf("%w: blackout %d start %s must be before end %s", ErrInvalidSchedule, i, r.Start, r.End)
		}
		if r.CourtID < 0 || r.CourtID > s.CourtCount {
			return fmt.Errorf("%w: blackout %d references unknown court %d", ErrInvalidSchedule, i, r.CourtID)
		}
	}
	for i, d := range s.FullDayHolidays {
		day, err := ParseDate(d)
		if err != nil {
			return fmt.Errorf("%w: holiday: %v", ErrInvalidSchedule, err)
		}
		s.FullDayHolidays[i] = day.Format(DateLayout)
	}
	for i, h := range s.PartialHolidays {
		day, err := ParseDate(h.Date)
		if err != nil {
			return fmt.Errorf("%w: partial holiday: %v", ErrInvalidSchedule, err)
		}
		h.Date = day.Format(DateLayout)
		s.PartialHolidays[i] = h
		if h.Start >= h.End {
			return fmt.Errorf("%w: partial holiday %s start %s must be before end %s", ErrInvalidSchedule, h.Date, h.Start, h.End)
		}
	}
	return nil
}

// Location returns the timezone slot instants are interpreted in.
func (s *Schedule) Location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

// Courts lists the configured courts in order.
func (s *Schedule) Courts() []Court {
	out := make([]Court, 0, s.CourtCount)
	for i := 1; i <= s.CourtCount; i++ {
		out = append(out, Court{ID: i, Name: CourtName(i)})
	}
	return out
}

// HasCourt reports whether id names a configured court.
func (s *Schedule) HasCourt(id int) bool { return id >= 1 && id <= s.CourtCount }

// FormatPrice renders the per-slot price as a decimal string ("25.00").
func (s *Schedule) FormatPrice() string {
	return fmt.Sprintf("%d.%02d", s.PriceCents/100, s.PriceCents%100)
}
