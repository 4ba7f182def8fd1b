package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dominusnolan/court-booking/internal/model"
	"github.com/dominusnolan/court-booking/internal/queue"
	"github.com/dominusnolan/court-booking/internal/repository"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishJSON(ctx context.Context, key string, v any) error {
	return m.Called(ctx, key, v).Error(0)
}

type staticSchedule struct{ s *model.Schedule }

func (st staticSchedule) Current() *model.Schedule { return st.s }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testSchedule(t *testing.T) *model.Schedule {
	t.Helper()
	s := &model.Schedule{
		Version:         1,
		CourtCount:      3,
		Opening:         7 * 60,
		Closing:         23 * 60,
		PriceCents:      2500,
		CurrencySymbol:  "$",
		Timezone:        "UTC",
		FullDayHolidays: []string{"2025-12-25"},
	}
	require.NoError(t, s.Validate())
	return s
}

type fixture struct {
	svc    *BookingService
	ledger *repository.MemoryLedger
	pub    *mockPublisher
	clock  *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2025, 11, 19, 10, 0, 0, 0, time.UTC)}
	ledger := repository.NewMemoryLedger(c.Now)
	pub := &mockPublisher{}
	t.Cleanup(func() { pub.AssertExpectations(t) })
	svc := NewBookingService(ledger, staticSchedule{testSchedule(t)}, pub, 15*time.Minute, c.Now)
	return &fixture{svc: svc, ledger: ledger, pub: pub, clock: c}
}

func mustKey(t *testing.T, s string) model.SlotKey {
	t.Helper()
	k, err := model.ParseSlotKey(s)
	require.NoError(t, err)
	return k
}

var threePM = SelectRequest{Date: "2025-11-20", CourtID: 2, CourtName: "Court 2", TimeLabel: "3pm"}

func TestSelect_HoldsSlotAndNotifiesCart(t *testing.T) {
	f := newFixture(t)
	f.pub.On("PublishJSON", mock.Anything, queue.KeyLineAdded, mock.MatchedBy(func(ev queue.CartLineEvent) bool {
		return ev.SlotKey == "2025-11-20|2|3pm" && ev.CustomerID == "cust-1" && ev.Price == "25.00" && ev.Currency == "$"
	})).Return(nil).Once()

	res, err := f.svc.Select(context.Background(), "cust-1", threePM)
	require.NoError(t, err)
	assert.Equal(t, "2025-11-20|2|3pm", res.SlotKey)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), res.ExpiresAt)

	held, err := f.ledger.HeldBy(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, model.StatusPending, held[0].Status)
}

func TestSelect_ConcurrentCustomersOneWins(t *testing.T) {
	f := newFixture(t)
	f.pub.On("PublishJSON", mock.Anything, queue.KeyLineAdded, mock.Anything).Return(nil).Once()

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, cust := range []string{"cust-a", "cust-b"} {
		wg.Add(1)
		go func(i int, cust string) {
			defer wg.Done()
			_, errs[i] = f.svc.Select(context.Background(), cust, threePM)
		}(i, cust)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, repository.ErrConflict):
			conflict++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflict)

	snap, err := f.ledger.SnapshotFor(context.Background(), "2025-11-20", true)
	require.NoError(t, err)
	assert.Len(t, snap[2], 1)
}

func TestSelect_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Select(ctx, "", threePM)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	cases := []struct {
		name string
		req  SelectRequest
		want error
	}{
		{"bad date", SelectRequest{Date: "20/11/2025", CourtID: 1, TimeLabel: "3pm"}, ErrValidation},
		{"missing label", SelectRequest{Date: "2025-11-20", CourtID: 1}, ErrValidation},
		{"bad label", SelectRequest{Date: "2025-11-20", CourtID: 1, TimeLabel: "15h"}, ErrValidation},
		{"unknown court", SelectRequest{Date: "2025-11-20", CourtID: 9, TimeLabel: "3pm"}, ErrValidation},
		{"outside hours", SelectRequest{Date: "2025-11-20", CourtID: 1, TimeLabel: "11pm"}, ErrValidation},
		{"elapsed", SelectRequest{Date: "2025-11-19", CourtID: 1, TimeLabel: "9am"}, ErrSlotUnavailable},
		{"holiday", SelectRequest{Date: "2025-12-25", CourtID: 1, TimeLabel: "9am"}, ErrSlotUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Select(ctx, "cust-1", tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	held, err := f.ledger.HeldBy(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestSelect_CartFailureReleasesHold(t *testing.T) {
	f := newFixture(t)
	f.pub.On("PublishJSON", mock.Anything, queue.KeyLineAdded, mock.Anything).Return(errors.New("broker down")).Once()

	_, err := f.svc.Select(context.Background(), "cust-1", threePM)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.True(t, IsRetryable(err))

	snap, err := f.ledger.SnapshotFor(context.Background(), "2025-11-20", true)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestDeselect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pub.On("PublishJSON", mock.Anything, queue.KeyLineAdded, mock.Anything).Return(nil)
	f.pub.On("PublishJSON", mock.Anything, queue.KeyLineRemoved, mock.MatchedBy(func(ev queue.CartLineEvent) bool {
		return ev.SlotKey == "2025-11-20|2|3pm"
	})).Return(nil).Twice()

	_, err := f.svc.Select(ctx, "cust-1", threePM)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Deselect(ctx, "cust-2", "2025-11-20|2|3pm"), repository.ErrForbidden)
	require.NoError(t, f.svc.Deselect(ctx, "cust-1", "2025-11-20|2|3pm"))
	// Already gone: still a success.
	require.NoError(t, f.svc.Deselect(ctx, "cust-1", "2025-11-20|2|3pm"))

	assert.ErrorIs(t, f.svc.Deselect(ctx, "cust-1", "not-a-key"), ErrValidation)
	assert.ErrorIs(t, f.svc.Deselect(ctx, "", "2025-11-20|2|3pm"), ErrUnauthenticated)
}

func TestMine_GroupsContiguousHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, k := range []string{"2025-11-20|1|9am", "2025-11-20|1|10am", "2025-11-20|1|1pm"} {
		require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, k), "cust-1"))
	}

	mine, err := f.svc.Mine(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, mine.Holds, 3)
	require.NotNil(t, mine.Holds[0].ExpiresAt)
	require.Len(t, mine.Spans, 2)
	assert.Equal(t, "9am–11am", mine.Spans[0].Label)
	assert.Equal(t, "1pm–2pm", mine.Spans[1].Label)
}

func paidEvent(items ...string) queue.OrderEvent {
	ev := queue.OrderEvent{Event: queue.EventOrderPaid, OrderID: "order-1", CustomerID: "cust-1"}
	for _, s := range items {
		k, _ := model.ParseSlotKey(s)
		ev.LineItems = append(ev.LineItems, queue.OrderLineItem{
			ProductType: queue.ProductCourtSlot, Date: k.Date, CourtID: k.CourtID, TimeLabel: k.Label.String(),
		})
	}
	return ev
}

func TestOrderPaid_ConfirmsAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, "2025-11-20|2|3pm"), "cust-1"))
	require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, "2025-11-20|2|4pm"), "cust-1"))
	f.pub.On("PublishJSON", mock.Anything, queue.KeyBookingConfirmed, mock.MatchedBy(func(ev queue.BookingConfirmedEvent) bool {
		return ev.OrderID == "order-1" && len(ev.SlotKeys) == 2 && ev.Spans[0] == "2025-11-20 Court 2 3pm–5pm"
	})).Return(nil).Once()

	ev := paidEvent("2025-11-20|2|3pm", "2025-11-20|2|4pm")
	ev.LineItems = append(ev.LineItems, queue.OrderLineItem{ProductType: "racket_rental"})
	res, err := f.svc.ApplyOrderEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Confirmed)
	assert.Empty(t, res.Collisions)

	// Redelivery changes nothing and publishes nothing.
	res, err = f.svc.ApplyOrderEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Confirmed)

	snap, err := f.ledger.SnapshotFor(ctx, "2025-11-20", false)
	require.NoError(t, err)
	holder, ok := snap.Holder(2, mustKey(t, "2025-11-20|2|3pm").Label)
	assert.True(t, ok)
	assert.Equal(t, "order-1", holder)

	cart, err := f.ledger.HeldBy(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, cart)
}

func TestOrderPaid_ExpiredHoldIsRetakenButNeverStolen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, "2025-11-20|3|6pm"), "cust-2"))
	f.pub.On("PublishJSON", mock.Anything, queue.KeyBookingConfirmed, mock.Anything).Return(nil).Once()

	res, err := f.svc.OrderPaid(ctx, paidEvent("2025-11-20|3|5pm", "2025-11-20|3|6pm"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, []string{"2025-11-20|3|6pm"}, res.Collisions)

	held, err := f.ledger.HeldBy(ctx, "cust-2")
	require.NoError(t, err)
	assert.Len(t, held, 1)
}

func TestOrderPaid_NothingHeld(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Reserve(context.Background(), mustKey(t, "2025-11-20|3|6pm"), "cust-2"))

	res, err := f.svc.OrderPaid(context.Background(), paidEvent("2025-11-20|3|6pm"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Confirmed)
	assert.Len(t, res.Collisions, 1)
}

func TestOrderVoided_ReleasesOrderAndCartHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, "2025-11-20|1|9am"), "order-1"))
	_, err := f.ledger.Confirm(ctx, "order-1")
	require.NoError(t, err)
	require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, "2025-11-20|1|10am"), "cust-1"))

	ev := paidEvent("2025-11-20|1|9am", "2025-11-20|1|10am")
	ev.Event = queue.EventOrderVoided
	res, err := f.svc.ApplyOrderEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Released)

	res, err = f.svc.ApplyOrderEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Released)

	snap, err := f.ledger.SnapshotFor(ctx, "2025-11-20", true)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestOrderPaid_AfterVoidBooksNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, "2025-11-20|2|3pm"), "cust-1"))
	f.pub.On("PublishJSON", mock.Anything, queue.KeyBookingConfirmed, mock.Anything).Return(nil).Once()

	paid := paidEvent("2025-11-20|2|3pm")
	res, err := f.svc.ApplyOrderEvent(ctx, paid)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)

	voided := paid
	voided.Event = queue.EventOrderVoided
	res, err = f.svc.ApplyOrderEvent(ctx, voided)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Released)

	// A redelivered payment must not book the slot again.
	res, err = f.svc.ApplyOrderEvent(ctx, paid)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Confirmed)
	assert.Empty(t, res.Collisions)

	snap, err := f.ledger.SnapshotFor(ctx, "2025-11-20", true)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

// voidingLedger voids the order right before its holds are confirmed.
type voidingLedger struct {
	repository.Ledger
}

func (v voidingLedger) Confirm(ctx context.Context, holderID string) (int, error) {
	if err := v.MarkVoided(ctx, holderID); err != nil {
		return 0, err
	}
	return v.Ledger.Confirm(ctx, holderID)
}

func TestOrderPaid_ConcurrentVoidWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, "2025-11-20|2|3pm"), "cust-1"))
	svc := NewBookingService(voidingLedger{f.ledger}, staticSchedule{testSchedule(t)}, f.pub, 15*time.Minute, f.clock.Now)

	res, err := svc.OrderPaid(ctx, paidEvent("2025-11-20|2|3pm", "2025-11-20|2|4pm"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Confirmed)
	assert.Equal(t, 2, res.Released)

	snap, err := f.ledger.SnapshotFor(ctx, "2025-11-20", true)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestOrderPaid_SkipsItemsTheScheduleRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.OrderPaid(ctx, paidEvent(
		"2025-12-25|1|3pm",  // holiday
		"2025-11-20|99|3pm", // no such court
		"2025-11-20|1|3am",  // before opening
		"2025-11-19|1|9am",  // already started
	))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Confirmed)
	assert.ElementsMatch(t, []string{
		"2025-12-25|1|3pm", "2025-11-20|99|3pm", "2025-11-20|1|3am", "2025-11-19|1|9am",
	}, res.Skipped)
	assert.Empty(t, res.Collisions)

	for _, date := range []string{"2025-12-25", "2025-11-20", "2025-11-19"} {
		snap, err := f.ledger.SnapshotFor(ctx, date, true)
		require.NoError(t, err)
		assert.Empty(t, snap, date)
	}
}

func TestMine_KeepsPaidBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, "2025-11-20|2|3pm"), "cust-1"))
	require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, "2025-11-20|2|4pm"), "cust-1"))
	f.pub.On("PublishJSON", mock.Anything, queue.KeyBookingConfirmed, mock.Anything).Return(nil).Once()

	// 5pm's cart hold already expired, so the payment retakes it.
	res, err := f.svc.OrderPaid(ctx, paidEvent("2025-11-20|2|3pm", "2025-11-20|2|4pm", "2025-11-20|2|5pm"))
	require.NoError(t, err)
	require.Equal(t, 3, res.Confirmed)

	mine, err := f.svc.Mine(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, mine.Holds, 3)
	for _, h := range mine.Holds {
		assert.Equal(t, model.StatusConfirmed, h.Status)
		assert.Nil(t, h.ExpiresAt)
	}
	require.Len(t, mine.Spans, 1)
	assert.Equal(t, "3pm–6pm", mine.Spans[0].Label)
}

// losingLedger drops one of the order's holds the first time it is
// confirmed, as if it had been released underneath the payment.
type losingLedger struct {
	repository.Ledger
	lose model.SlotKey
	done *bool
}

func (l losingLedger) Confirm(ctx context.Context, holderID string) (int, error) {
	if !*l.done {
		*l.done = true
		if err := l.Release(ctx, l.lose, holderID); err != nil {
			return 0, err
		}
	}
	return l.Ledger.Confirm(ctx, holderID)
}

func TestOrderPaid_LostHoldIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, "2025-11-20|2|3pm"), "cust-1"))
	require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, "2025-11-20|2|4pm"), "cust-1"))
	done := false
	ledger := losingLedger{Ledger: f.ledger, lose: mustKey(t, "2025-11-20|2|4pm"), done: &done}
	svc := NewBookingService(ledger, staticSchedule{testSchedule(t)}, f.pub, 15*time.Minute, f.clock.Now)
	ev := paidEvent("2025-11-20|2|3pm", "2025-11-20|2|4pm")

	_, err := svc.OrderPaid(ctx, ev)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	// Redelivery takes the lost slot back and completes the booking.
	f.pub.On("PublishJSON", mock.Anything, queue.KeyBookingConfirmed, mock.MatchedBy(func(ev queue.BookingConfirmedEvent) bool {
		return len(ev.SlotKeys) == 2
	})).Return(nil).Once()
	res, err := svc.OrderPaid(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)

	held, err := f.ledger.HeldBy(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, held, 2)
}

func TestApplyOrderEvent_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ApplyOrderEvent(context.Background(), queue.OrderEvent{Event: "order.shipped", OrderID: "o"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.ApplyOrderEvent(context.Background(), queue.OrderEvent{Event: queue.EventOrderPaid})
	assert.ErrorIs(t, err, ErrValidation)

	err = f.svc.HandleOrderEvent(context.Background(), queue.OrderEvent{
		Event: queue.EventOrderPaid, OrderID: "o", LineItems: []queue.OrderLineItem{{}},
	})
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, IsRetryable(err))
}

func TestReleaseExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, "2025-11-20|1|9am"), "cust-1"))
	require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, "2025-11-20|1|11am"), "order-7"))
	_, err := f.ledger.Confirm(ctx, "order-7")
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.ledger.Reserve(ctx, mustKey(t, "2025-11-20|1|10am"), "cust-1"))
	f.clock.Advance(6 * time.Minute)

	f.pub.On("PublishJSON", mock.Anything, queue.KeyLineRemoved, mock.MatchedBy(func(ev queue.CartLineEvent) bool {
		return ev.SlotKey == "2025-11-20|1|9am"
	})).Return(nil).Once()

	n, err := f.svc.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	held, err := f.ledger.HeldBy(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, "2025-11-20|1|10am", held[0].Key.String())
}

func TestReleaseExpired_LeavesOrderHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := mustKey(t, "2025-11-20|2|3pm")
	require.NoError(t, f.ledger.Reserve(ctx, k, "cust-1"))
	require.NoError(t, f.ledger.Transfer(ctx, k, "cust-1", "order-1"))
	f.clock.Advance(20 * time.Minute)

	n, err := f.svc.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.pub.On("PublishJSON", mock.Anything, queue.KeyBookingConfirmed, mock.Anything).Return(nil).Once()
	res, err := f.svc.OrderPaid(ctx, paidEvent("2025-11-20|2|3pm"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
}

type brokenLedger struct {
	repository.Ledger
	err error
}

func (b brokenLedger) Reserve(context.Context, model.SlotKey, string) error { return b.err }

func (b brokenLedger) ExpiredPending(context.Context, time.Time) ([]model.ReservationRecord, error) {
	return nil, b.err
}

func TestLedgerFailuresAreRetryable(t *testing.T) {
	ledger := brokenLedger{Ledger: repository.NewMemoryLedger(nil), err: errors.New("dial tcp: refused")}
	svc := NewBookingService(ledger, staticSchedule{testSchedule(t)}, &mockPublisher{}, time.Minute,
		func() time.Time { return time.Date(2025, 11, 19, 10, 0, 0, 0, time.UTC) })

	_, err := svc.Select(context.Background(), "cust-1", threePM)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	_, err = svc.ReleaseExpired(context.Background())
	assert.True(t, IsRetryable(err))
}

func TestGroupSpans(t *testing.T) {
	keys := []model.SlotKey{
		mustKey(t, "2025-11-21|1|9pm"),
		mustKey(t, "2025-11-20|2|9am"),
		mustKey(t, "2025-11-20|1|10am"),
		mustKey(t, "2025-11-20|1|9am"),
		mustKey(t, "2025-11-21|1|10pm"),
	}
	spans := GroupSpans(keys, 60)
	require.Len(t, spans, 3)
	assert.Equal(t, "9am–11am", spans[0].Label)
	assert.Equal(t, []string{"2025-11-20|1|9am", "2025-11-20|1|10am"}, spans[0].SlotKeys)
	assert.Equal(t, "Court 2", spans[1].CourtName)
	assert.Equal(t, "9pm–11pm", spans[2].Label)

	assert.Empty(t, GroupSpans(nil, 60))
}
