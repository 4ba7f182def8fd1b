package repository

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dominusnolan/court-booking/internal/model"
)

const memoryShards = 64

type ledgerShard struct {
	mu      sync.Mutex
	records map[model.SlotKey]*model.ReservationRecord
}

// keyIndex maps an id to the set of keys it is associated with.
type keyIndex struct {
	mu   sync.Mutex
	keys map[string]map[model.SlotKey]struct{}
}

func (x *keyIndex) add(id string, key model.SlotKey) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.keys == nil {
		x.keys = make(map[string]map[model.SlotKey]struct{})
	}
	set, ok := x.keys[id]
	if !ok {
		set = make(map[model.SlotKey]struct{})
		x.keys[id] = set
	}
	set[key] = struct{}{}
}

func (x *keyIndex) remove(id string, key model.SlotKey) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if set, ok := x.keys[id]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(x.keys, id)
		}
	}
}

func (x *keyIndex) of(id string) []model.SlotKey {
	x.mu.Lock()
	defer x.mu.Unlock()
	set := x.keys[id]
	keys := make([]model.SlotKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}

// MemoryLedger keeps the ledger in process.  Records are spread over
// mutex-guarded shards by key so bookings on unrelated cells never contend;
// separate indexes map holders and customers to their keys.  Lock order is
// always shard before index.
type MemoryLedger struct {
	shards [memoryShards]ledgerShard
	now    Clock

	byHolder   keyIndex
	byCustomer keyIndex

	voidMu sync.Mutex
	voided map[string]struct{}
}

// NewMemoryLedger returns an empty in-process ledger.  A nil clock means
// time.Now.
func NewMemoryLedger(now Clock) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	l := &MemoryLedger{now: now, voided: make(map[string]struct{})}
	for i := range l.shards {
		l.shards[i].records = make(map[model.SlotKey]*model.ReservationRecord)
	}
	return l
}

func (l *MemoryLedger) shard(key model.SlotKey) *ledgerShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return &l.shards[h.Sum32()%memoryShards]
}

func (l *MemoryLedger) Reserve(ctx context.Context, key model.SlotKey, holderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := l.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, held := sh.records[key]; held {
		return ErrConflict
	}
	sh.records[key] = &model.ReservationRecord{
		Key:        key,
		Status:     model.StatusPending,
		HolderID:   holderID,
		CustomerID: holderID,
		CreatedAt:  l.now().UTC(),
	}
	l.byHolder.add(holderID, key)
	l.byCustomer.add(holderID, key)
	return nil
}

func (l *MemoryLedger) Confirm(ctx context.Context, holderID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	owned, promoted := 0, 0
	for _, key := range l.byHolder.of(holderID) {
		sh := l.shard(key)
		sh.mu.Lock()
		if rec, ok := sh.records[key]; ok && rec.HolderID == holderID {
			owned++
			if rec.Status == model.StatusPending {
				rec.Status = model.StatusConfirmed
				promoted++
			}
		}
		sh.mu.Unlock()
	}
	if owned == 0 {
		return 0, ErrNotFound
	}
	return promoted, nil
}

func (l *MemoryLedger) Release(ctx context.Context, key model.SlotKey, holderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := l.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[key]
	if !ok {
		return ErrNotFound
	}
	if rec.HolderID != holderID {
		return ErrForbidden
	}
	delete(sh.records, key)
	l.byHolder.remove(holderID, key)
	l.byCustomer.remove(rec.CustomerID, key)
	return nil
}

func (l *MemoryLedger) ReleaseAll(ctx context.Context, holderID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	released := 0
	for _, key := range l.byHolder.of(holderID) {
		err := l.Release(ctx, key, holderID)
		switch err {
		case nil:
			released++
		case ErrNotFound, ErrForbidden:
			// Gone or handed over since the index was read.
		default:
			return released, err
		}
	}
	return released, nil
}

func (l *MemoryLedger) Transfer(ctx context.Context, key model.SlotKey, fromHolder, toHolder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := l.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[key]
	if !ok {
		return ErrNotFound
	}
	if rec.HolderID == toHolder {
		return nil
	}
	if rec.HolderID != fromHolder {
		return ErrForbidden
	}
	rec.HolderID = toHolder
	l.byHolder.remove(fromHolder, key)
	l.byHolder.add(toHolder, key)
	return nil
}

func (l *MemoryLedger) SnapshotFor(ctx context.Context, date string, includePending bool) (model.LedgerSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := model.LedgerSnapshot{}
	l.each(func(rec *model.ReservationRecord) {
		if rec.Key.Date != date {
			return
		}
		if rec.Status == model.StatusConfirmed || includePending {
			snap.Put(rec.Key.CourtID, rec.Key.Label, rec.HolderID)
		}
	})
	return snap, nil
}

func (l *MemoryLedger) HeldBy(ctx context.Context, holderID string) ([]model.ReservationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.ReservationRecord, 0)
	for _, key := range l.byHolder.of(holderID) {
		sh := l.shard(key)
		sh.mu.Lock()
		if rec, ok := sh.records[key]; ok && rec.HolderID == holderID {
			out = append(out, *rec)
		}
		sh.mu.Unlock()
	}
	sortRecords(out)
	return out, nil
}

func (l *MemoryLedger) OwnedBy(ctx context.Context, customerID string) ([]model.ReservationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.ReservationRecord, 0)
	for _, key := range l.byCustomer.of(customerID) {
		sh := l.shard(key)
		sh.mu.Lock()
		if rec, ok := sh.records[key]; ok && rec.CustomerID == customerID {
			out = append(out, *rec)
		}
		sh.mu.Unlock()
	}
	sortRecords(out)
	return out, nil
}

func (l *MemoryLedger) ExpiredPending(ctx context.Context, before time.Time) ([]model.ReservationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.ReservationRecord, 0)
	l.each(func(rec *model.ReservationRecord) {
		if rec.Status == model.StatusPending && rec.CreatedAt.Before(before) {
			out = append(out, *rec)
		}
	})
	sortRecords(out)
	return out, nil
}

func (l *MemoryLedger) MarkVoided(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.voidMu.Lock()
	defer l.voidMu.Unlock()
	l.voided[orderID] = struct{}{}
	return nil
}

func (l *MemoryLedger) Voided(ctx context.Context, orderID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.voidMu.Lock()
	defer l.voidMu.Unlock()
	_, ok := l.voided[orderID]
	return ok, nil
}

// each visits every record, one shard at a time.
func (l *MemoryLedger) each(fn func(*model.ReservationRecord)) {
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		for _, rec := range sh.records {
			fn(rec)
		}
		sh.mu.Unlock()
	}
}
