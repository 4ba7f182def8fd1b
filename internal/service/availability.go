package service

import (
	"context"
	"time"

	"github.com/dominusnolan/court-booking/internal/availability"
	"github.com/dominusnolan/court-booking/internal/model"
)

// AvailabilityService answers availability queries against the active
// schedule.
type AvailabilityService struct {
	builder  *availability.Builder
	schedule ScheduleSource
	now      func() time.Time
}

// NewAvailabilityService builds matrices from ledger.  includePending makes
// pending holds count as booked.
func NewAvailabilityService(ledger availability.SnapshotReader, schedule ScheduleSource, includePending bool, now func() time.Time) *AvailabilityService {
	if now == nil {
		now = time.Now
	}
	return &AvailabilityService{
		builder:  availability.NewBuilder(ledger, includePending),
		schedule: schedule,
		now:      now,
	}
}

// ForDate returns the matrix for date together with the schedule snapshot
// it was computed from.
func (a *AvailabilityService) ForDate(ctx context.Context, date string) (*availability.Matrix, *model.Schedule, error) {
	if date == "" {
		return nil, nil, invalidf("date is required")
	}
	if _, err := model.ParseDate(date); err != nil {
		return nil, nil, invalidf("%v", err)
	}
	sched := a.schedule.Current()
	m, err := a.builder.Build(ctx, date, sched, a.now())
	if err != nil {
		return nil, nil, upstream("availability", err)
	}
	return m, sched, nil
}

// Labels returns the time grid of the active schedule.
func (a *AvailabilityService) Labels() ([]model.TimeLabel, *model.Schedule) {
	sched := a.schedule.Current()
	return a.builder.Labels(sched), sched
}
