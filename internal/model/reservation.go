package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReservationStatus is the state of a held slot.
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusConfirmed ReservationStatus = "confirmed"
)

// SlotKey identifies one bookable cell.  At most one reservation may exist
// per key at any time.
type SlotKey struct {
	Date    string    `json:"date"`
	CourtID int       `json:"court_id"`
	Label   TimeLabel `json:"time_label"`
}

// String renders the stable wire form "date|courtId|timeLabel".
func (k SlotKey) String() string {
	return k.Date + "|" + strconv.Itoa(k.CourtID) + "|" + k.Label.String()
}

// ParseSlotKey parses the form produced by SlotKey.String.
func ParseSlotKey(s string) (SlotKey, error) {
	parts := strings.Split(strings.TrimSpace(s), "|")
	if len(parts) != 3 {
		return SlotKey{}, fmt.Errorf("invalid slot key %q", s)
	}
	day, err := ParseDate(parts[0])
	if err != nil {
		return SlotKey{}, err
	}
	court, err := strconv.Atoi(parts[1])
	if err != nil || court < 1 {
		return SlotKey{}, fmt.Errorf("invalid court in slot key %q", s)
	}
	label, err := ParseTimeLabel(parts[2])
	if err != nil {
		return SlotKey{}, err
	}
	return SlotKey{Date: day.Format(DateLayout), CourtID: court, Label: label}, nil
}

// ReservationRecord is a single hold in the ledger.  HolderID changes when
// a cart hold is handed to an order; CustomerID is fixed at reservation
// time and names the customer the slot is booked for.
type ReservationRecord struct {
	Key        SlotKey           `json:"key"`
	Status     ReservationStatus `json:"status"`
	HolderID   string            `json:"holder_id"`
	CustomerID string            `json:"customer_id"`
	CreatedAt  time.Time         `json:"created_at"`
}

// CartHold reports whether the record is still held by its customer's cart
// rather than by an order.
func (r ReservationRecord) CartHold() bool { return r.HolderID == r.CustomerID }

// LedgerSnapshot maps court -> time label -> holder for a single date.
type LedgerSnapshot map[int]map[TimeLabel]string

// Holder returns the holder of a cell, if any.
func (s LedgerSnapshot) Holder(courtID int, label TimeLabel) (string, bool) {
	h, ok := s[courtID][label]
	return h, ok
}

// Put records a holder for a cell.
func (s LedgerSnapshot) Put(courtID int, label TimeLabel, holder string) {
	row, ok := s[courtID]
	if !ok {
		row = make(map[TimeLabel]string)
		s[courtID] = row
	}
	row[label] = holder
}
