package availability

import (
	"time"

	"github.com/dominusnolan/court-booking/internal/model"
)

// Verdict is the outcome of the exclusion rules for one slot.
type Verdict int

const (
	// Unblocked means no rule excludes the slot; the ledger decides between
	// available and booked.
	Unblocked Verdict = iota
	Elapsed
	FullDayHoliday
	PartialHoliday
	CourtBlackout
	GlobalBlackout
)

var verdictNames = [...]string{
	Unblocked:      "unblocked",
	Elapsed:        "past_cutoff",
	FullDayHoliday: "holiday",
	PartialHoliday: "partial_holiday",
	CourtBlackout:  "court_blackout",
	GlobalBlackout: "weekly_blackout",
}

func (v Verdict) String() string {
	if int(v) < len(verdictNames) {
		return verdictNames[v]
	}
	return "unknown"
}

// Blocked reports whether any rule excludes the slot.
func (v Verdict) Blocked() bool { return v != Unblocked }

// StatusOf evaluates the exclusion rules for a slot in precedence order;
// the first matching rule wins.  day is the calendar date (see
// model.ParseDate).  It is a pure function of its arguments.
func StatusOf(day time.Time, courtID int, label model.TimeLabel, now time.Time, s *model.Schedule) Verdict {
	start := model.SlotStart(day, label, s.Location())
	if start.Before(now) {
		return Elapsed
	}

	date := day.Format(model.DateLayout)
	for _, d := range s.FullDayHolidays {
		if d == date {
			return FullDayHoliday
		}
	}

	// Partial holidays compare whole hours only.
	hour := label.Start().Hour()
	for _, h := range s.PartialHolidays {
		if h.Date == date && hour >= h.Start.Hour() && hour < h.End.Hour() {
			return PartialHoliday
		}
	}

	weekday := day.Weekday()
	for _, r := range s.Blackouts {
		if !r.Global() && r.CourtID == courtID && r.Weekday == weekday && r.Covers(label.Start()) {
			return CourtBlackout
		}
	}
	for _, r := range s.Blackouts {
		if r.Global() && r.Weekday == weekday && r.Covers(label.Start()) {
			return GlobalBlackout
		}
	}
	return Unblocked
}
