package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/dominusnolan/court-booking/internal/model"
)

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// MySQLLedger stores the ledger in the court_reservations table.  The unique
// key on (slot_date, court_id, time_label) makes Reserve a compare-and-set;
// release and transfer lock the row with SELECT ... FOR UPDATE.  All
// timestamps are stored in UTC.
type MySQLLedger struct {
	db  *sql.DB
	now Clock
}

// NewMySQLLedger returns a ledger bound to db.
func NewMySQLLedger(db *sql.DB, now Clock) *MySQLLedger {
	if now == nil {
		now = time.Now
	}
	return &MySQLLedger{db: db, now: now}
}

func (l *MySQLLedger) Reserve(ctx context.Context, key model.SlotKey, holderID string) error {
	const q = `INSERT INTO court_reservations (slot_date, court_id, time_label, status, holder_id, customer_id, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := l.db.ExecContext(ctx, q,
		key.Date, key.CourtID, key.Label.String(), string(model.StatusPending), holderID, holderID,
		l.now().UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return ErrConflict
		}
		return fmt.Errorf("insert reservation %s: %w", key, err)
	}
	return nil
}

func (l *MySQLLedger) Confirm(ctx context.Context, holderID string) (int, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx,
		`UPDATE court_reservations SET status = ? WHERE holder_id = ? AND status = ?`,
		string(model.StatusConfirmed), holderID, string(model.StatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("confirm holder %s: %w", holderID, err)
	}
	promoted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if promoted == 0 {
		var owned int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM court_reservations WHERE holder_id = ?`, holderID,
		).Scan(&owned); err != nil {
			return 0, err
		}
		if owned == 0 {
			return 0, ErrNotFound
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return int(promoted), nil
}

// lockHolderTx returns the holder of the row at key, locking it for the rest
// of the transaction.
func lockHolderTx(ctx context.Context, tx *sql.Tx, key model.SlotKey) (uint64, string, error) {
	const q = `SELECT id, holder_id FROM court_reservations
	           WHERE slot_date = ? AND court_id = ? AND time_label = ? FOR UPDATE`
	var (
		id     uint64
		holder string
	)
	err := tx.QueryRowContext(ctx, q, key.Date, key.CourtID, key.Label.String()).Scan(&id, &holder)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", ErrNotFound
	}
	return id, holder, err
}

func (l *MySQLLedger) Release(ctx context.Context, key model.SlotKey, holderID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	id, holder, err := lockHolderTx(ctx, tx, key)
	if err != nil {
		return err
	}
	if holder != holderID {
		return ErrForbidden
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM court_reservations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete reservation %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (l *MySQLLedger) ReleaseAll(ctx context.Context, holderID string) (int, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM court_reservations WHERE holder_id = ?`, holderID)
	if err != nil {
		return 0, fmt.Errorf("release holder %s: %w", holderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (l *MySQLLedger) Transfer(ctx context.Context, key model.SlotKey, fromHolder, toHolder string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	id, holder, err := lockHolderTx(ctx, tx, key)
	if err != nil {
		return err
	}
	if holder == toHolder {
		return nil
	}
	if holder != fromHolder {
		return ErrForbidden
	}
	if _, err := tx.ExecContext(ctx, `UPDATE court_reservations SET holder_id = ? WHERE id = ?`, toHolder, id); err != nil {
		return fmt.Errorf("transfer reservation %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (l *MySQLLedger) SnapshotFor(ctx context.Context, date string, includePending bool) (model.LedgerSnapshot, error) {
	q := `SELECT court_id, time_label, holder_id FROM court_reservations WHERE slot_date = ?`
	args := []interface{}{date}
	if !includePending {
		q += ` AND status = ?`
		args = append(args, string(model.StatusConfirmed))
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", date, err)
	}
	defer rows.Close()
	snap := model.LedgerSnapshot{}
	for rows.Next() {
		var (
			court  int
			raw    string
			holder string
		)
		if err := rows.Scan(&court, &raw, &holder); err != nil {
			return nil, err
		}
		label, err := model.ParseTimeLabel(raw)
		if err != nil {
			return nil, err
		}
		snap.Put(court, label, holder)
	}
	return snap, rows.Err()
}

const selectRecords = `SELECT slot_date, court_id, time_label, status, holder_id, customer_id, created_at FROM court_reservations`

func (l *MySQLLedger) HeldBy(ctx context.Context, holderID string) ([]model.ReservationRecord, error) {
	return l.queryRecords(ctx, selectRecords+` WHERE holder_id = ?`, holderID)
}

func (l *MySQLLedger) OwnedBy(ctx context.Context, customerID string) ([]model.ReservationRecord, error) {
	return l.queryRecords(ctx, selectRecords+` WHERE customer_id = ?`, customerID)
}

func (l *MySQLLedger) ExpiredPending(ctx context.Context, before time.Time) ([]model.ReservationRecord, error) {
	return l.queryRecords(ctx, selectRecords+` WHERE status = ? AND created_at < ?`,
		string(model.StatusPending), before.UTC().Format("2006-01-02 15:04:05"))
}

func (l *MySQLLedger) MarkVoided(ctx context.Context, orderID string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT IGNORE INTO court_voided_orders (order_id, voided_at) VALUES (?, ?)`,
		orderID, l.now().UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return fmt.Errorf("mark order %s voided: %w", orderID, err)
	}
	return nil
}

func (l *MySQLLedger) Voided(ctx context.Context, orderID string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM court_voided_orders WHERE order_id = ?`, orderID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("voided order %s: %w", orderID, err)
	}
	return n > 0, nil
}

func (l *MySQLLedger) queryRecords(ctx context.Context, q string, args ...interface{}) ([]model.ReservationRecord, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.ReservationRecord, 0)
	for rows.Next() {
		var (
			rec    model.ReservationRecord
			label  string
			status string
		)
		if err := rows.Scan(&rec.Key.Date, &rec.Key.CourtID, &label, &status, &rec.HolderID, &rec.CustomerID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if rec.Key.Label, err = model.ParseTimeLabel(label); err != nil {
			return nil, err
		}
		rec.Status = model.ReservationStatus(status)
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}
