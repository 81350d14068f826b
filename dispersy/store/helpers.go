/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"database/sql"

	"github.com/pkg/errors"
)

// NameID returns the id of value in the name table, inserting it when
// missing.
func (d *DB) NameID(value string) (int64, error) {
	var id int64
	err := d.QueryRow(`SELECT id FROM name WHERE value = ?`, value).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, errors.Wrapf(err, "failed looking up name %s", value)
	}
	res, err := d.Exec(`INSERT INTO name(value) VALUES(?)`, value)
	if err != nil {
		return 0, errors.Wrapf(err, "failed inserting name %s", value)
	}
	return res.LastInsertId()
}

// Option returns the value of key in the option table and whether it exists.
func (d *DB) Option(key string) (string, bool, error) {
	var value string
	err := d.QueryRow(`SELECT value FROM option WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed reading option %s", key)
	}
	return value, true, nil
}

func (d *DB) SetOption(key, value string) error {
	_, err := d.Exec(`INSERT OR REPLACE INTO option(key, value) VALUES(?, ?)`, key, value)
	return errors.Wrapf(err, "failed writing option %s", key)
}

// Int64s runs a query selecting a single integer column and returns all
// values.
func (d *DB) Int64s(query string, args ...interface{}) ([]int64, error) {
	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var values []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, errors.WithStack(err)
		}
		values = append(values, v)
	}
	return values, errors.WithStack(rows.Err())
}

// Blobs runs a query selecting a single BLOB column and returns all values.
func (d *DB) Blobs(query string, args ...interface{}) ([][]byte, error) {
	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var values [][]byte
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, errors.WithStack(err)
		}
		values = append(values, v)
	}
	return values, errors.WithStack(rows.Err())
}
