package repository

import (
	"context"
	"sort"
	"time"

	"github.com/dominusnolan/court-booking/internal/model"
)

// Ledger is the contract every reservation store implements.  All methods
// must be safe for concurrent use; Reserve is the linearization point that
// prevents double-booking and behaves as a compare-and-set on the key.
type Ledger interface {
	// Reserve creates a pending record iff no record exists for key.  The
	// holder is also recorded as the customer the slot is booked for.  It
	// returns ErrConflict otherwise and changes nothing.
	Reserve(ctx context.Context, key model.SlotKey, holderID string) error
	// Confirm promotes every pending record of holderID and returns how many
	// were promoted.  Confirming twice succeeds with zero promotions.  It
	// returns ErrNotFound when the holder owns no record at all.
	Confirm(ctx context.Context, holderID string) (int, error)
	// Release deletes the record at key iff holderID owns it.
	Release(ctx context.Context, key model.SlotKey, holderID string) error
	// ReleaseAll deletes every record owned by holderID.
	ReleaseAll(ctx context.Context, holderID string) (int, error)
	// Transfer hands the record at key from one holder to another without
	// changing its status or customer.  Transferring to the current holder
	// is a no-op.
	Transfer(ctx context.Context, key model.SlotKey, fromHolder, toHolder string) error
	// SnapshotFor returns court -> label -> holder for date.  Only confirmed
	// records are included unless includePending is set.
	SnapshotFor(ctx context.Context, date string, includePending bool) (model.LedgerSnapshot, error)
	// HeldBy lists the records owned by holderID ordered by key.
	HeldBy(ctx context.Context, holderID string) ([]model.ReservationRecord, error)
	// OwnedBy lists the records booked for customerID ordered by key,
	// whoever currently holds them.
	OwnedBy(ctx context.Context, customerID string) ([]model.ReservationRecord, error)
	// ExpiredPending lists pending records created before the cutoff.
	ExpiredPending(ctx context.Context, before time.Time) ([]model.ReservationRecord, error)
	// MarkVoided records that an order was voided.  Marking twice succeeds.
	MarkVoided(ctx context.Context, orderID string) error
	// Voided reports whether MarkVoided was called for orderID.
	Voided(ctx context.Context, orderID string) (bool, error)
}

// Clock returns the current time; ledgers stamp CreatedAt with it.
type Clock func() time.Time

func sortRecords(recs []model.ReservationRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Key.Date != b.Key.Date {
			return a.Key.Date < b.Key.Date
		}
		if a.Key.CourtID != b.Key.CourtID {
			return a.Key.CourtID < b.Key.CourtID
		}
		return a.Key.Label < b.Key.Label
	})
}
