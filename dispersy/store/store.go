/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"context"
	"database/sql"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/util"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DefaultBootstrapCandidates are inserted at community 0 when a database is
// created.
var DefaultBootstrapCandidates = []common.Address{
	{Host: "130.161.211.245", Port: 6429},
	{Host: "131.180.27.155", Port: 6422},
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB is the message store handle. It wraps a single sqlite connection and
// is owned by the event loop; it must not be used from other goroutines.
//
// Rows returned by Query must be closed before the next statement is
// issued, otherwise the single connection is never released.
type DB struct {
	db     *sql.DB
	tx     *sql.Tx
	owner  func() bool
	logger util.Logger
}

// Open opens (creating and migrating when needed) the database at path.
// bootstrap is only used when the database is created.
func Open(path string, bootstrap []common.Address) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed opening database %s", path)
	}
	// ":memory:" databases exist per connection
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	d := &DB{
		db:     sqlDB,
		logger: util.GetLogger(util.StoreLogger, ""),
	}
	if err := d.init(bootstrap); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) init(bootstrap []common.Address) error {
	return d.Update(func() error {
		var exists int
		err := d.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'option'`).Scan(&exists)
		if err != nil {
			return errors.Wrap(err, "failed inspecting schema")
		}
		if exists == 0 {
			if err := d.create(bootstrap); err != nil {
				return err
			}
		}
		return d.migrate()
	})
}

func (d *DB) create(bootstrap []common.Address) error {
	d.logger.Infof("Creating database schema version 1")
	for _, stmt := range schema {
		if _, err := d.Exec(stmt); err != nil {
			return errors.Wrap(err, "failed creating schema")
		}
	}
	if _, err := d.Exec(`INSERT INTO option(key, value) VALUES('database_version', '1')`); err != nil {
		return errors.Wrap(err, "failed setting database version")
	}
	for _, addr := range bootstrap {
		_, err := d.Exec(`INSERT OR IGNORE INTO candidate(community, host, port) VALUES(0, ?, ?)`, addr.Host, addr.Port)
		if err != nil {
			return errors.Wrap(err, "failed inserting bootstrap candidate")
		}
	}
	return nil
}

func (d *DB) migrate() error {
	version, err := d.Version()
	if err != nil {
		return err
	}
	if version > LatestVersion {
		return errors.Errorf("database version %d is newer than supported version %d", version, LatestVersion)
	}
	for ; version < LatestVersion; version++ {
		d.logger.Infof("Upgrading database from version %d to %d", version, version+1)
		for _, stmt := range migrations[version] {
			if _, err := d.Exec(stmt); err != nil {
				return errors.Wrapf(err, "failed migrating database to version %d", version+1)
			}
		}
		_, err := d.Exec(`UPDATE option SET value = ? WHERE key = 'database_version'`, strconv.Itoa(version+1))
		if err != nil {
			return errors.Wrap(err, "failed updating database version")
		}
	}
	return nil
}

// Version returns option.database_version.
func (d *DB) Version() (int, error) {
	var value string
	if err := d.QueryRow(`SELECT value FROM option WHERE key = 'database_version'`).Scan(&value); err != nil {
		return 0, errors.Wrap(err, "failed reading database version")
	}
	version, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid database version '%s'", value)
	}
	return version, nil
}

// SetOwner binds the handle to an event loop. owner reports whether the
// caller runs on it; statements issued elsewhere panic.
func (d *DB) SetOwner(owner func() bool) {
	d.owner = owner
}

func (d *DB) checkOwner() {
	if d.owner != nil && !d.owner() {
		panic("database used outside its owning event loop")
	}
}

func (d *DB) conn() executor {
	d.checkOwner()
	if d.tx != nil {
		return d.tx
	}
	return d.db
}

func (d *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return d.conn().ExecContext(context.Background(), query, args...)
}

func (d *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.conn().QueryContext(context.Background(), query, args...)
}

func (d *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return d.conn().QueryRowContext(context.Background(), query, args...)
}

// Update runs fn inside a transaction that commits when fn returns nil and
// rolls back when it returns an error or panics. Nested calls join the
// outer transaction.
func (d *DB) Update(fn func() error) (err error) {
	if d.tx != nil {
		return fn()
	}

	d.checkOwner()
	tx, err := d.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed starting transaction")
	}
	d.tx = tx

	defer func() {
		d.tx = nil
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				d.logger.Errorf("Failed rolling back transaction: %+v", rbErr)
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = errors.Wrap(cErr, "failed committing transaction")
		}
	}()

	return fn()
}

// InTransaction reports whether an Update scope is active.
func (d *DB) InTransaction() bool {
	return d.tx != nil
}

func (d *DB) Close() error {
	return d.db.Close()
}
