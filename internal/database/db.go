package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Options describes the MySQL instance backing the reservation ledger.
type Options struct {
	User     string
	Pass     string
	Host     string
	Port     string
	Name     string
	MaxConns int
}

// DSN renders the driver connection string.  Times are parsed as UTC so
// created_at round-trips without a zone shift.
func (o Options) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = o.User
	cfg.Passwd = o.Pass
	cfg.Net = "tcp"
	cfg.Addr = o.Host + ":" + o.Port
	cfg.DBName = o.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open connects to MySQL and verifies the connection.
func Open(o Options) (*sql.DB, error) {
	db, err := sql.Open("mysql", o.DSN())
	if err != nil {
		return nil, err
	}

	conns := o.MaxConns
	if conns <= 0 {
		conns = 25
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql %s: %w", o.Host, err)
	}
	return db, nil
}

// reservationsTable holds one row per held slot.  uq_slot is what turns a
// plain INSERT into the ledger's compare-and-set.
const reservationsTable = `CREATE TABLE IF NOT EXISTS court_reservations (
  id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
  slot_date   CHAR(10)        NOT NULL,
  court_id    INT             NOT NULL,
  time_label  VARCHAR(8)      NOT NULL,
  status      ENUM('pending','confirmed') NOT NULL,
  holder_id   VARCHAR(128)    NOT NULL,
  customer_id VARCHAR(128)    NOT NULL,
  created_at  DATETIME        NOT NULL,
  PRIMARY KEY (id),
  UNIQUE KEY uq_slot (slot_date, court_id, time_label),
  KEY idx_holder (holder_id),
  KEY idx_customer (customer_id),
  KEY idx_status_created (status, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// voidedOrdersTable remembers voided orders so a late payment event cannot
// book their slots again.
const voidedOrdersTable = `CREATE TABLE IF NOT EXISTS court_voided_orders (
  order_id    VARCHAR(128)    NOT NULL,
  voided_at   DATETIME        NOT NULL,
  PRIMARY KEY (order_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// EnsureSchema creates the ledger tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, reservationsTable); err != nil {
		return fmt.Errorf("create court_reservations: %w", err)
	}
	if _, err := db.ExecContext(ctx, voidedOrdersTable); err != nil {
		return fmt.Errorf("create court_voided_orders: %w", err)
	}
	return nil
}
