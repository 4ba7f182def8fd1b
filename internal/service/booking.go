package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dominusnolan/court-booking/internal/availability"
	"github.com/dominusnolan/court-booking/internal/model"
	"github.com/dominusnolan/court-booking/internal/queue"
	"github.com/dominusnolan/court-booking/internal/repository"
)

// Publisher delivers events to the commerce side.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// ScheduleSource yields the active schedule snapshot.
type ScheduleSource interface {
	Current() *model.Schedule
}

// SelectRequest is a customer's attempt to hold one slot.
type SelectRequest struct {
	Date      string `json:"date" validate:"required,len=10"`
	CourtID   int    `json:"courtId" validate:"required,min=1"`
	CourtName string `json:"courtName" validate:"omitempty,max=64"`
	TimeLabel string `json:"timeLabel" validate:"required,max=8"`
}

// SelectResult describes a fresh pending hold.
type SelectResult struct {
	SlotKey   string    `json:"slotKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Hold is one of the caller's reservations.
type Hold struct {
	SlotKey   string                  `json:"slotKey"`
	Date      string                  `json:"date"`
	CourtID   int                     `json:"courtId"`
	CourtName string                  `json:"courtName"`
	TimeLabel string                  `json:"timeLabel"`
	Status    model.ReservationStatus `json:"status"`
	ExpiresAt *time.Time              `json:"expiresAt,omitempty"`
}

// MyHolds lists a customer's holds and the display spans they form.
type MyHolds struct {
	Holds []Hold `json:"holds"`
	Spans []Span `json:"spans"`
}

// OrderResult summarises how an order event was applied.
type OrderResult struct {
	OrderID    string   `json:"orderId"`
	Event      string   `json:"event"`
	Confirmed  int      `json:"confirmed"`
	Released   int      `json:"released"`
	Collisions []string `json:"collisions,omitempty"`
	Skipped    []string `json:"skipped,omitempty"`
}

// BookingService coordinates the slot lifecycle
// Unselected -> Pending -> Confirmed and back to Unselected.
type BookingService struct {
	ledger   repository.Ledger
	schedule ScheduleSource
	events   Publisher
	grid     *availability.Builder
	validate *validator.Validate
	holdTTL  time.Duration
	now      func() time.Time
}

// NewBookingService wires the coordinator.  A nil now means time.Now.
func NewBookingService(ledger repository.Ledger, schedule ScheduleSource, events Publisher, holdTTL time.Duration, now func() time.Time) *BookingService {
	if now == nil {
		now = time.Now
	}
	if events == nil {
		events = queue.LogPublisher{}
	}
	return &BookingService{
		ledger:   ledger,
		schedule: schedule,
		events:   events,
		grid:     availability.NewBuilder(ledger, false),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		holdTTL:  holdTTL,
		now:      now,
	}
}

// HoldTTL is how long a pending hold lives before the sweeper frees it.
func (s *BookingService) HoldTTL() time.Duration { return s.holdTTL }

// slotFor validates a requested cell against the active schedule and rules.
func (s *BookingService) slotFor(date string, courtID int, rawLabel string) (model.SlotKey, error) {
	sched := s.schedule.Current()
	day, err := model.ParseDate(date)
	if err != nil {
		return model.SlotKey{}, invalidf("%v", err)
	}
	label, err := model.ParseTimeLabel(rawLabel)
	if err != nil {
		return model.SlotKey{}, invalidf("%v", err)
	}
	if !sched.HasCourt(courtID) {
		return model.SlotKey{}, invalidf("unknown court %d", courtID)
	}
	if !availability.HasLabel(s.grid.Labels(sched), label) {
		return model.SlotKey{}, invalidf("%s is not a slot of the business day", label)
	}
	if v := availability.StatusOf(day, courtID, label, s.now(), sched); v.Blocked() {
		return model.SlotKey{}, fmt.Errorf("%w: %s", ErrSlotUnavailable, v)
	}
	return model.SlotKey{Date: day.Format(model.DateLayout), CourtID: courtID, Label: label}, nil
}

// Select places a pending hold for the customer and asks the cart to add a
// matching line.  A taken slot yields repository.ErrConflict; the caller
// must re-read availability rather than retry.
func (s *BookingService) Select(ctx context.Context, customerID string, req SelectRequest) (*SelectResult, error) {
	if customerID == "" {
		return nil, ErrUnauthenticated
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, invalidf("%v", err)
	}
	key, err := s.slotFor(req.Date, req.CourtID, req.TimeLabel)
	if err != nil {
		return nil, err
	}

	switch err := s.ledger.Reserve(ctx, key, customerID); {
	case errors.Is(err, repository.ErrConflict):
		log.Printf("booking: %s already held, customer=%s", key, customerID)
		return nil, repository.ErrConflict
	case err != nil:
		return nil, upstream("reserve", err)
	}

	sched := s.schedule.Current()
	courtName := strings.TrimSpace(req.CourtName)
	if courtName == "" {
		courtName = model.CourtName(key.CourtID)
	}
	ev := s.lineEvent(customerID, key)
	ev.CourtName = courtName
	ev.Price = sched.FormatPrice()
	ev.Currency = sched.CurrencySymbol
	if err := s.events.PublishJSON(ctx, queue.KeyLineAdded, ev); err != nil {
		// Without a cart line nobody will ever pay for the hold.
		if rerr := s.ledger.Release(context.WithoutCancel(ctx), key, customerID); rerr != nil {
			log.Printf("booking: rollback of %s failed: %v", key, rerr)
		}
		return nil, upstream("notify cart", err)
	}
	log.Printf("booking: %s held by customer=%s", key, customerID)
	return &SelectResult{SlotKey: key.String(), ExpiresAt: s.now().Add(s.holdTTL).UTC()}, nil
}

// Deselect frees the customer's hold and asks the cart to drop the line.
// A hold that no longer exists counts as freed.
func (s *BookingService) Deselect(ctx context.Context, customerID, slotKey string) error {
	if customerID == "" {
		return ErrUnauthenticated
	}
	key, err := model.ParseSlotKey(slotKey)
	if err != nil {
		return invalidf("%v", err)
	}
	switch err := s.ledger.Release(ctx, key, customerID); {
	case errors.Is(err, repository.ErrNotFound):
		log.Printf("booking: deselect of %s by customer=%s found no hold", key, customerID)
	case errors.Is(err, repository.ErrForbidden):
		return repository.ErrForbidden
	case err != nil:
		return upstream("release", err)
	}
	if err := s.events.PublishJSON(ctx, queue.KeyLineRemoved, s.lineEvent(customerID, key)); err != nil {
		return upstream("notify cart", err)
	}
	return nil
}

// Mine lists the customer's holds ordered by date, court and time, with
// the display spans they form.  Slots already handed to a paid order are
// included.
func (s *BookingService) Mine(ctx context.Context, customerID string) (*MyHolds, error) {
	if customerID == "" {
		return nil, ErrUnauthenticated
	}
	recs, err := s.ledger.OwnedBy(ctx, customerID)
	if err != nil {
		return nil, upstream("owned by", err)
	}
	out := &MyHolds{Holds: make([]Hold, 0, len(recs))}
	keys := make([]model.SlotKey, 0, len(recs))
	for _, r := range recs {
		h := Hold{
			SlotKey:   r.Key.String(),
			Date:      r.Key.Date,
			CourtID:   r.Key.CourtID,
			CourtName: model.CourtName(r.Key.CourtID),
			TimeLabel: r.Key.Label.String(),
			Status:    r.Status,
		}
		if r.Status == model.StatusPending && r.CartHold() {
			exp := r.CreatedAt.Add(s.holdTTL).UTC()
			h.ExpiresAt = &exp
		}
		out.Holds = append(out.Holds, h)
		keys = append(keys, r.Key)
	}
	out.Spans = GroupSpans(keys, s.schedule.Current().SlotMinutes)
	return out, nil
}

// HandleOrderEvent applies a commerce order event.  Redelivery of the same
// event is harmless.
func (s *BookingService) HandleOrderEvent(ctx context.Context, ev queue.OrderEvent) error {
	_, err := s.ApplyOrderEvent(ctx, ev)
	return err
}

// ApplyOrderEvent is HandleOrderEvent returning the per-order summary.
func (s *BookingService) ApplyOrderEvent(ctx context.Context, ev queue.OrderEvent) (*OrderResult, error) {
	if err := s.validate.Struct(ev); err != nil {
		return nil, invalidf("%v", err)
	}
	switch ev.Event {
	case queue.EventOrderPaid:
		return s.OrderPaid(ctx, ev)
	case queue.EventOrderVoided:
		return s.OrderVoided(ctx, ev)
	}
	return nil, invalidf("unsupported event %q", ev.Event)
}

// OrderPaid moves each booked line item from the customer's cart hold to the
// order and confirms the order's holds.  A slot meanwhile taken by someone
// else is reported as a collision and left alone; line items the schedule
// does not allow are reported as skipped.  A voided order is never booked.
func (s *BookingService) OrderPaid(ctx context.Context, ev queue.OrderEvent) (*OrderResult, error) {
	res := &OrderResult{OrderID: ev.OrderID, Event: queue.EventOrderPaid}
	voided, err := s.ledger.Voided(ctx, ev.OrderID)
	if err != nil {
		return nil, upstream("voided", err)
	}
	if voided {
		log.Printf("booking: order=%s paid after void, ignored", ev.OrderID)
		return res, nil
	}

	sched := s.schedule.Current()
	labels := s.grid.Labels(sched)
	want := make([]model.SlotKey, 0, len(ev.LineItems))
	for _, key := range s.orderKeys(ev, res) {
		if !sched.HasCourt(key.CourtID) || !availability.HasLabel(labels, key.Label) {
			log.Printf("booking: order=%s skips %s, not a slot of the schedule", ev.OrderID, key)
			res.Skipped = append(res.Skipped, key.String())
			continue
		}
		err := s.ledger.Transfer(ctx, key, ev.CustomerID, ev.OrderID)
		if errors.Is(err, repository.ErrNotFound) {
			// The cart hold expired; take the slot again if it is still
			// free and bookable.
			day, _ := model.ParseDate(key.Date)
			if v := availability.StatusOf(day, key.CourtID, key.Label, s.now(), sched); v.Blocked() {
				log.Printf("booking: order=%s skips %s, %s", ev.OrderID, key, v)
				res.Skipped = append(res.Skipped, key.String())
				continue
			}
			err = s.retake(ctx, key, ev)
		}
		switch {
		case errors.Is(err, repository.ErrForbidden):
			log.Printf("booking: order=%s collides on %s, held by another holder", ev.OrderID, key)
			res.Collisions = append(res.Collisions, key.String())
			continue
		case err != nil:
			return nil, upstream("transfer", err)
		}
		want = append(want, key)
	}

	n, err := s.ledger.Confirm(ctx, ev.OrderID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if len(want) > 0 {
			return nil, upstream("confirm", fmt.Errorf("order %s lost all %d hold(s)", ev.OrderID, len(want)))
		}
		log.Printf("booking: order=%s paid but holds nothing", ev.OrderID)
		return res, nil
	case err != nil:
		return nil, upstream("confirm", err)
	}

	// A void that raced the transfers above wins.
	if voided, err = s.ledger.Voided(ctx, ev.OrderID); err != nil {
		return nil, upstream("voided", err)
	}
	if voided {
		released, err := s.ledger.ReleaseAll(ctx, ev.OrderID)
		if err != nil {
			return nil, upstream("release all", err)
		}
		log.Printf("booking: order=%s voided while paying, released %d slot(s)", ev.OrderID, released)
		res.Released = released
		return res, nil
	}

	held, err := s.ledger.HeldBy(ctx, ev.OrderID)
	if err != nil {
		return nil, upstream("held by", err)
	}
	got := make(map[model.SlotKey]bool, len(held))
	for _, r := range held {
		got[r.Key] = true
	}
	for _, key := range want {
		if !got[key] {
			return nil, upstream("confirm", fmt.Errorf("order %s lost hold %s", ev.OrderID, key))
		}
	}
	res.Confirmed = n
	if n == 0 {
		return res, nil
	}

	keys := make([]model.SlotKey, 0, len(held))
	slotKeys := make([]string, 0, len(held))
	for _, r := range held {
		keys = append(keys, r.Key)
		slotKeys = append(slotKeys, r.Key.String())
	}
	spans := GroupSpans(keys, sched.SlotMinutes)
	spanLabels := make([]string, 0, len(spans))
	for _, sp := range spans {
		spanLabels = append(spanLabels, sp.Date+" "+sp.CourtName+" "+sp.Label)
	}
	confirmed := queue.BookingConfirmedEvent{
		EventID:     uuid.NewString(),
		OrderID:     ev.OrderID,
		CustomerID:  ev.CustomerID,
		SlotKeys:    slotKeys,
		Spans:       spanLabels,
		ConfirmedAt: s.now().UTC().Format(time.RFC3339),
	}
	if err := s.events.PublishJSON(ctx, queue.KeyBookingConfirmed, confirmed); err != nil {
		log.Printf("booking: order=%s confirmed, publish failed: %v", ev.OrderID, err)
	}
	log.Printf("booking: order=%s confirmed %d slot(s)", ev.OrderID, n)
	return res, nil
}

// retake reserves a free slot for the order's customer and hands it to the
// order, so the booking stays listed for the customer.  A slot held by
// someone else yields repository.ErrForbidden.
func (s *BookingService) retake(ctx context.Context, key model.SlotKey, ev queue.OrderEvent) error {
	holder := ev.CustomerID
	if holder == "" {
		holder = ev.OrderID
	}
	err := s.ledger.Reserve(ctx, key, holder)
	if errors.Is(err, repository.ErrConflict) {
		return repository.ErrForbidden
	}
	if err != nil || holder == ev.OrderID {
		return err
	}
	err = s.ledger.Transfer(ctx, key, holder, ev.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("retaken hold %s vanished before transfer", key)
	}
	return err
}

// OrderVoided frees everything held by the order and any cart holds the
// customer still has for the order's line items.  The order is remembered
// as voided first so a later or concurrent payment event cannot book it.
func (s *BookingService) OrderVoided(ctx context.Context, ev queue.OrderEvent) (*OrderResult, error) {
	res := &OrderResult{OrderID: ev.OrderID, Event: queue.EventOrderVoided}
	if err := s.ledger.MarkVoided(ctx, ev.OrderID); err != nil {
		return nil, upstream("mark voided", err)
	}
	n, err := s.ledger.ReleaseAll(ctx, ev.OrderID)
	if err != nil {
		return nil, upstream("release all", err)
	}
	res.Released = n
	if ev.CustomerID != "" {
		for _, key := range s.orderKeys(ev, res) {
			switch err := s.ledger.Release(ctx, key, ev.CustomerID); {
			case err == nil:
				res.Released++
			case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrForbidden):
			default:
				return nil, upstream("release", err)
			}
		}
	}
	if res.Released == 0 {
		log.Printf("booking: order=%s voided, nothing to release", ev.OrderID)
	} else {
		log.Printf("booking: order=%s voided, released %d slot(s)", ev.OrderID, res.Released)
	}
	return res, nil
}

// orderKeys extracts the slot keys of court_slot line items.  Malformed
// items are noted in res.Skipped.  Only syntax is checked here; OrderPaid
// also checks each key against the schedule.
func (s *BookingService) orderKeys(ev queue.OrderEvent, res *OrderResult) []model.SlotKey {
	keys := make([]model.SlotKey, 0, len(ev.LineItems))
	seen := make(map[model.SlotKey]bool, len(ev.LineItems))
	for _, item := range ev.LineItems {
		if item.ProductType != queue.ProductCourtSlot {
			continue
		}
		var day time.Time
		label, err := model.ParseTimeLabel(item.TimeLabel)
		if err == nil {
			day, err = model.ParseDate(item.Date)
		}
		if err != nil || item.CourtID < 1 {
			log.Printf("booking: order=%s skips malformed line item %+v", ev.OrderID, item)
			res.Skipped = append(res.Skipped, fmt.Sprintf("%s|%d|%s", item.Date, item.CourtID, item.TimeLabel))
			continue
		}
		key := model.SlotKey{Date: day.Format(model.DateLayout), CourtID: item.CourtID, Label: label}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

// ReleaseExpired frees pending cart holds older than the hold TTL and asks
// the cart to drop their lines.  Holds already handed to an order are left
// for the order's payment event.  It returns how many holds were freed.
func (s *BookingService) ReleaseExpired(ctx context.Context) (int, error) {
	expired, err := s.ledger.ExpiredPending(ctx, s.now().Add(-s.holdTTL))
	if err != nil {
		return 0, upstream("expired pending", err)
	}
	released := 0
	for _, r := range expired {
		if !r.CartHold() {
			continue
		}
		switch err := s.ledger.Release(ctx, r.Key, r.HolderID); {
		case err == nil:
			released++
			if perr := s.events.PublishJSON(ctx, queue.KeyLineRemoved, s.lineEvent(r.CustomerID, r.Key)); perr != nil {
				log.Printf("booking: expired %s released, cart notify failed: %v", r.Key, perr)
			}
		case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrForbidden):
			// Confirmed, transferred or released since the scan.
		default:
			return released, upstream("release expired", err)
		}
	}
	return released, nil
}

func (s *BookingService) lineEvent(customerID string, key model.SlotKey) queue.CartLineEvent {
	return queue.CartLineEvent{
		EventID:    uuid.NewString(),
		CustomerID: customerID,
		SlotKey:    key.String(),
		Date:       key.Date,
		CourtID:    key.CourtID,
		CourtName:  model.CourtName(key.CourtID),
		TimeLabel:  key.Label.String(),
		OccurredAt: s.now().UTC().Format(time.RFC3339),
	}
}
