package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dominusnolan/court-booking/internal/model"
)

// RedisLedger stores the ledger in Redis so several server instances can
// share it.  Layout, with P the configured prefix:
//
//	P:date:{date}     hash   "{court}|{label}" -> "{status}|{holder}|{createdMs}"
//	P:holder:{holder} set    slot keys owned by the holder
//	P:pending         zset   pending slot keys scored by createdMs
//	P:owner:{date}    hash   "{court}|{label}" -> customer the slot is booked for
//	P:booked:{cust}   set    slot keys booked for the customer
//	P:voided          set    voided order ids
//
// Every mutation runs as a Lua script, so each one is atomic on the server.
type RedisLedger struct {
	rdb    *redis.Client
	prefix string
	now    Clock
}

// NewRedisLedger returns a ledger backed by rdb.  An empty prefix defaults
// to "ledger".
func NewRedisLedger(rdb *redis.Client, prefix string, now Clock) *RedisLedger {
	if prefix == "" {
		prefix = "ledger"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLedger{rdb: rdb, prefix: prefix, now: now}
}

func (l *RedisLedger) dateKey(date string) string     { return l.prefix + ":date:" + date }
func (l *RedisLedger) holderKey(holder string) string { return l.prefix + ":holder:" + holder }
func (l *RedisLedger) pendingKey() string             { return l.prefix + ":pending" }
func (l *RedisLedger) ownerKey(date string) string    { return l.prefix + ":owner:" + date }
func (l *RedisLedger) bookedKey(cust string) string   { return l.prefix + ":booked:" + cust }
func (l *RedisLedger) voidedKey() string              { return l.prefix + ":voided" }

func cellField(key model.SlotKey) string {
	return strconv.Itoa(key.CourtID) + "|" + key.Label.String()
}

// Shared Lua helpers: a cell value is "status|holder|createdMs" where the
// holder may itself contain '|'.
const luaDecode = `
local function unbook(ownerKey, bookedPrefix, field, slot)
    local c = redis.call('HGET', ownerKey, field)
    if c then
        redis.call('HDEL', ownerKey, field)
        redis.call('SREM', bookedPrefix .. c, slot)
    end
end

local function decode(v)
    local status, rest = string.match(v, '^([^|]+)|(.*)$')
    local holder, ts = string.match(rest, '^(.*)|([^|]*)$')
    return status, holder, ts
end
`

var reserveScript = redis.NewScript(`
local dateKey, holderKey, pendingKey, ownerKey, bookedKey = KEYS[1], KEYS[2], KEYS[3], KEYS[4], KEYS[5]
local field, slot, holder, now = ARGV[1], ARGV[2], ARGV[3], ARGV[4]
if redis.call('HEXISTS', dateKey, field) == 1 then
    return 0
end
redis.call('HSET', dateKey, field, 'pending|' .. holder .. '|' .. now)
redis.call('SADD', holderKey, slot)
redis.call('ZADD', pendingKey, now, slot)
redis.call('HSET', ownerKey, field, holder)
redis.call('SADD', bookedKey, slot)
return 1
`)

var confirmScript = redis.NewScript(luaDecode + `
local holderKey, pendingKey = KEYS[1], KEYS[2]
local datePrefix, holder = ARGV[1], ARGV[2]
local slots = redis.call('SMEMBERS', holderKey)
local owned, promoted = 0, 0
for _, slot in ipairs(slots) do
    local date, field = string.match(slot, '^([^|]+)|(.+)$')
    local dk = datePrefix .. date
    local v = redis.call('HGET', dk, field)
    local status, h, ts
    if v then
        status, h, ts = decode(v)
    end
    if h == holder then
        owned = owned + 1
        if status == 'pending' then
            redis.call('HSET', dk, field, 'confirmed|' .. h .. '|' .. ts)
            redis.call('ZREM', pendingKey, slot)
            promoted = promoted + 1
        end
    else
        redis.call('SREM', holderKey, slot)
    end
end
if owned == 0 then
    return -1
end
return promoted
`)

var releaseScript = redis.NewScript(luaDecode + `
local dateKey, holderKey, pendingKey, ownerKey = KEYS[1], KEYS[2], KEYS[3], KEYS[4]
local field, slot, holder, bookedPrefix = ARGV[1], ARGV[2], ARGV[3], ARGV[4]
local v = redis.call('HGET', dateKey, field)
if not v then
    return 0
end
local _, h = decode(v)
if h ~= holder then
    return -1
end
redis.call('HDEL', dateKey, field)
redis.call('SREM', holderKey, slot)
redis.call('ZREM', pendingKey, slot)
unbook(ownerKey, bookedPrefix, field, slot)
return 1
`)

var releaseAllScript = redis.NewScript(luaDecode + `
local holderKey, pendingKey = KEYS[1], KEYS[2]
local datePrefix, holder, ownerPrefix, bookedPrefix = ARGV[1], ARGV[2], ARGV[3], ARGV[4]
local slots = redis.call('SMEMBERS', holderKey)
local released = 0
for _, slot in ipairs(slots) do
    local date, field = string.match(slot, '^([^|]+)|(.+)$')
    local dk = datePrefix .. date
    local v = redis.call('HGET', dk, field)
    if v then
        local _, h = decode(v)
        if h == holder then
            redis.call('HDEL', dk, field)
            redis.call('ZREM', pendingKey, slot)
            unbook(ownerPrefix .. date, bookedPrefix, field, slot)
            released = released + 1
        end
    end
end
redis.call('DEL', holderKey)
return released
`)

var transferScript = redis.NewScript(luaDecode + `
local dateKey, fromKey, toKey = KEYS[1], KEYS[2], KEYS[3]
local field, slot, from, to = ARGV[1], ARGV[2], ARGV[3], ARGV[4]
local v = redis.call('HGET', dateKey, field)
if not v then
    return 0
end
local status, h, ts = decode(v)
if h == to then
    return 1
end
if h ~= from then
    return -1
end
redis.call('HSET', dateKey, field, status .. '|' .. to .. '|' .. ts)
redis.call('SREM', fromKey, slot)
redis.call('SADD', toKey, slot)
return 1
`)

func (l *RedisLedger) Reserve(ctx context.Context, key model.SlotKey, holderID string) error {
	now := l.now().UTC().UnixMilli()
	n, err := reserveScript.Run(ctx, l.rdb,
		[]string{l.dateKey(key.Date), l.holderKey(holderID), l.pendingKey(), l.ownerKey(key.Date), l.bookedKey(holderID)},
		cellField(key), key.String(), holderID, now,
	).Int()
	if err != nil {
		return fmt.Errorf("redis reserve %s: %w", key, err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (l *RedisLedger) Confirm(ctx context.Context, holderID string) (int, error) {
	n, err := confirmScript.Run(ctx, l.rdb,
		[]string{l.holderKey(holderID), l.pendingKey()},
		l.dateKey(""), holderID,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis confirm %s: %w", holderID, err)
	}
	if n < 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

func (l *RedisLedger) Release(ctx context.Context, key model.SlotKey, holderID string) error {
	n, err := releaseScript.Run(ctx, l.rdb,
		[]string{l.dateKey(key.Date), l.holderKey(holderID), l.pendingKey(), l.ownerKey(key.Date)},
		cellField(key), key.String(), holderID, l.bookedKey(""),
	).Int()
	if err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	switch n {
	case 0:
		return ErrNotFound
	case -1:
		return ErrForbidden
	}
	return nil
}

func (l *RedisLedger) ReleaseAll(ctx context.Context, holderID string) (int, error) {
	n, err := releaseAllScript.Run(ctx, l.rdb,
		[]string{l.holderKey(holderID), l.pendingKey()},
		l.dateKey(""), holderID, l.ownerKey(""), l.bookedKey(""),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis release all %s: %w", holderID, err)
	}
	return n, nil
}

func (l *RedisLedger) Transfer(ctx context.Context, key model.SlotKey, fromHolder, toHolder string) error {
	n, err := transferScript.Run(ctx, l.rdb,
		[]string{l.dateKey(key.Date), l.holderKey(fromHolder), l.holderKey(toHolder)},
		cellField(key), key.String(), fromHolder, toHolder,
	).Int()
	if err != nil {
		return fmt.Errorf("redis transfer %s: %w", key, err)
	}
	switch n {
	case 0:
		return ErrNotFound
	case -1:
		return ErrForbidden
	}
	return nil
}

func (l *RedisLedger) SnapshotFor(ctx context.Context, date string, includePending bool) (model.LedgerSnapshot, error) {
	cells, err := l.rdb.HGetAll(ctx, l.dateKey(date)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis snapshot %s: %w", date, err)
	}
	snap := model.LedgerSnapshot{}
	for field, value := range cells {
		rec, err := decodeCell(date+"|"+field, value)
		if err != nil {
			return nil, err
		}
		if rec.Status == model.StatusConfirmed || includePending {
			snap.Put(rec.Key.CourtID, rec.Key.Label, rec.HolderID)
		}
	}
	return snap, nil
}

func (l *RedisLedger) HeldBy(ctx context.Context, holderID string) ([]model.ReservationRecord, error) {
	slots, err := l.rdb.SMembers(ctx, l.holderKey(holderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis held by %s: %w", holderID, err)
	}
	recs, err := l.load(ctx, slots)
	if err != nil {
		return nil, err
	}
	out := make([]model.ReservationRecord, 0, len(recs))
	for _, r := range recs {
		if r.HolderID == holderID {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (l *RedisLedger) OwnedBy(ctx context.Context, customerID string) ([]model.ReservationRecord, error) {
	slots, err := l.rdb.SMembers(ctx, l.bookedKey(customerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis owned by %s: %w", customerID, err)
	}
	recs, err := l.load(ctx, slots)
	if err != nil {
		return nil, err
	}
	out := make([]model.ReservationRecord, 0, len(recs))
	for _, r := range recs {
		if r.CustomerID == customerID {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (l *RedisLedger) ExpiredPending(ctx context.Context, before time.Time) ([]model.ReservationRecord, error) {
	slots, err := l.rdb.ZRangeByScore(ctx, l.pendingKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UTC().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis expired pending: %w", err)
	}
	recs, err := l.load(ctx, slots)
	if err != nil {
		return nil, err
	}
	out := make([]model.ReservationRecord, 0, len(recs))
	for _, r := range recs {
		if r.Status == model.StatusPending {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (l *RedisLedger) MarkVoided(ctx context.Context, orderID string) error {
	if err := l.rdb.SAdd(ctx, l.voidedKey(), orderID).Err(); err != nil {
		return fmt.Errorf("redis mark voided %s: %w", orderID, err)
	}
	return nil
}

func (l *RedisLedger) Voided(ctx context.Context, orderID string) (bool, error) {
	ok, err := l.rdb.SIsMember(ctx, l.voidedKey(), orderID).Result()
	if err != nil {
		return false, fmt.Errorf("redis voided %s: %w", orderID, err)
	}
	return ok, nil
}

// load fetches the cells behind a list of slot keys in one pipeline.
// Keys whose cell has disappeared are skipped.  A cell without an owner
// entry is treated as booked for its holder.
func (l *RedisLedger) load(ctx context.Context, slots []string) ([]model.ReservationRecord, error) {
	if len(slots) == 0 {
		return nil, nil
	}
	keys := make([]model.SlotKey, 0, len(slots))
	pipe := l.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(slots))
	owners := make([]*redis.StringCmd, 0, len(slots))
	for _, s := range slots {
		key, err := model.ParseSlotKey(s)
		if err != nil {
			continue
		}
		keys = append(keys, key)
		cmds = append(cmds, pipe.HGet(ctx, l.dateKey(key.Date), cellField(key)))
		owners = append(owners, pipe.HGet(ctx, l.ownerKey(key.Date), cellField(key)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis load cells: %w", err)
	}
	out := make([]model.ReservationRecord, 0, len(keys))
	for i, cmd := range cmds {
		v, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rec, err := decodeCell(keys[i].String(), v)
		if err != nil {
			return nil, err
		}
		rec.CustomerID = rec.HolderID
		if c, err := owners[i].Result(); err == nil {
			rec.CustomerID = c
		} else if !errors.Is(err, redis.Nil) {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeCell(slot, value string) (model.ReservationRecord, error) {
	key, err := model.ParseSlotKey(slot)
	if err != nil {
		return model.ReservationRecord{}, err
	}
	first := strings.IndexByte(value, '|')
	last := strings.LastIndexByte(value, '|')
	if first < 0 || last <= first {
		return model.ReservationRecord{}, fmt.Errorf("corrupt ledger cell %s: %q", slot, value)
	}
	ms, err := strconv.ParseInt(value[last+1:], 10, 64)
	if err != nil {
		return model.ReservationRecord{}, fmt.Errorf("corrupt ledger cell %s: %q", slot, value)
	}
	return model.ReservationRecord{
		Key:       key,
		Status:    model.ReservationStatus(value[:first]),
		HolderID:  value[first+1 : last],
		CreatedAt: time.UnixMilli(ms).UTC(),
	}, nil
}
