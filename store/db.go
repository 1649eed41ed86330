// Package store provides the local entity cache backed by embedded SQLite.
//
// The store is the offline half of the sync engine: remote pages and log
// batches are normalized into entity rows here, and readers observe those
// rows through live, invalidation-notifying queries. All multi-entity
// writes go through the Saver, which commits one batch per transaction.
//
// The database runs in WAL mode so readers are never blocked by the
// writer. Write transactions are additionally serialized in-process; two
// committed batches are always explainable as one fully before the other.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection with invalidation tracking.
type DB struct {
	conn *sql.DB
	path string

	// writeMu serializes write transactions. SQLite WAL allows one writer
	// at a time; taking the lock in-process avoids SQLITE_BUSY churn.
	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[*Invalidation]struct{}
}

// Open creates a database connection at path, creating parent directories
// as needed. The caller must Close it.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout and foreign_keys are per-connection settings; carrying
	// them in the DSN applies them to every connection the pool opens,
	// not just the one that would serve a PRAGMA exec.
	dsn := "file:" + path +
		"?_pragma=journal_mode(wal)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{
		conn: conn,
		path: path,
		subs: make(map[*Invalidation]struct{}),
	}, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// Invalidation is one subscriber to table-change notifications. C carries
// a signal per notification burst; slow consumers coalesce.
type Invalidation struct {
	C      <-chan struct{}
	ch     chan struct{}
	tables map[string]struct{}
	cancel func()
	once   sync.Once
}

// Cancel deregisters the subscription and closes C.
func (inv *Invalidation) Cancel() {
	inv.once.Do(inv.cancel)
}

// SubscribeInvalidations registers interest in changes to any of the given
// tables. With no tables, every change notifies.
func (db *DB) SubscribeInvalidations(tables ...string) *Invalidation {
	db.subMu.Lock()
	defer db.subMu.Unlock()

	ch := make(chan struct{}, 1)
	inv := &Invalidation{C: ch, ch: ch}
	if len(tables) > 0 {
		inv.tables = make(map[string]struct{}, len(tables))
		for _, table := range tables {
			inv.tables[table] = struct{}{}
		}
	}
	inv.cancel = func() {
		db.subMu.Lock()
		delete(db.subs, inv)
		db.subMu.Unlock()
		close(ch)
	}
	db.subs[inv] = struct{}{}
	return inv
}

// notifyInvalidations wakes subscribers watching any of the changed
// tables. Called after a write transaction commits, never inside one.
func (db *DB) notifyInvalidations(tables map[string]struct{}) {
	db.subMu.Lock()
	defer db.subMu.Unlock()

	for sub := range db.subs {
		if !sub.matches(tables) {
			continue
		}
		select {
		case sub.ch <- struct{}{}:
		default:
			// Already signalled; the pending wake covers this change too.
		}
	}
}

func (inv *Invalidation) matches(tables map[string]struct{}) bool {
	if inv.tables == nil {
		return true
	}
	for table := range tables {
		if _, ok := inv.tables[table]; ok {
			return true
		}
	}
	return false
}

// begin starts a serialized write transaction.
func (db *DB) begin(ctx context.Context) (*sql.Tx, func(), error) {
	db.writeMu.Lock()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		db.writeMu.Unlock()
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, db.writeMu.Unlock, nil
}
