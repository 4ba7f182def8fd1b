package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/dominusnolan/court-booking/internal/model"
)

// SlotStatus is the customer-facing state of a slot.
type SlotStatus string

const (
	StatusAvailable   SlotStatus = "available"
	StatusBooked      SlotStatus = "booked"
	StatusUnavailable SlotStatus = "unavailable"
)

// SnapshotReader is the read side of the reservation ledger.
type SnapshotReader interface {
	SnapshotFor(ctx context.Context, date string, includePending bool) (model.LedgerSnapshot, error)
}

// Cell is the state of one (court, label) pair.
type Cell struct {
	Status SlotStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// CourtRow holds the cells of one court keyed by label.
type CourtRow struct {
	model.Court
	Slots map[model.TimeLabel]Cell `json:"slots"`
}

// Matrix is the availability of every court for one date.
type Matrix struct {
	Date   string            `json:"date"`
	Labels []model.TimeLabel `json:"time_headers"`
	Courts []CourtRow        `json:"courts"`
}

// Builder composes the time grid, the exclusion rules and the ledger.
type Builder struct {
	Ledger SnapshotReader
	// IncludePending makes pending holds render as booked, not only
	// confirmed ones.
	IncludePending bool

	labels LabelCache
}

// NewBuilder returns a Builder reading confirmed reservations from ledger.
func NewBuilder(ledger SnapshotReader, includePending bool) *Builder {
	return &Builder{Ledger: ledger, IncludePending: includePending}
}

// Labels returns the cached time grid of s.
func (b *Builder) Labels(s *model.Schedule) []model.TimeLabel { return b.labels.Labels(s) }

// Build computes the matrix for date.  The ledger is read once.
func (b *Builder) Build(ctx context.Context, date string, s *model.Schedule, now time.Time) (*Matrix, error) {
	day, err := model.ParseDate(date)
	if err != nil {
		return nil, err
	}
	snap, err := b.Ledger.SnapshotFor(ctx, date, b.IncludePending)
	if err != nil {
		return nil, fmt.Errorf("read ledger snapshot: %w", err)
	}
	labels := b.labels.Labels(s)
	m := &Matrix{Date: date, Labels: labels, Courts: make([]CourtRow, 0, s.CourtCount)}
	for _, court := range s.Courts() {
		row := CourtRow{Court: court, Slots: make(map[model.TimeLabel]Cell, len(labels))}
		for _, label := range labels {
			row.Slots[label] = resolve(day, court.ID, label, now, s, snap)
		}
		m.Courts = append(m.Courts, row)
	}
	return m, nil
}

func resolve(day time.Time, courtID int, label model.TimeLabel, now time.Time, s *model.Schedule, snap model.LedgerSnapshot) Cell {
	if v := StatusOf(day, courtID, label, now, s); v.Blocked() {
		return Cell{Status: StatusUnavailable, Reason: v.String()}
	}
	if _, held := snap.Holder(courtID, label); held {
		return Cell{Status: StatusBooked}
	}
	return Cell{Status: StatusAvailable}
}
