/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

// LatestVersion is the database_version a freshly migrated database has.
const LatestVersion = 3

// The base schema is created as version 1. Later versions only add columns
// or indexes.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS user(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mid BLOB,
		public_key BLOB,
		host TEXT DEFAULT '',
		port INTEGER DEFAULT -1,
		tags TEXT DEFAULT '',
		UNIQUE(public_key))`,
	`CREATE INDEX IF NOT EXISTS user_mid_index ON user(mid)`,

	`CREATE TABLE IF NOT EXISTS community(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user INTEGER REFERENCES user(id),
		classification TEXT,
		cid BLOB,
		public_key BLOB DEFAULT '',
		auto_load BOOLEAN DEFAULT 1,
		UNIQUE(user, cid, public_key))`,

	`CREATE TABLE IF NOT EXISTS key(
		public_key BLOB,
		private_key BLOB,
		UNIQUE(public_key, private_key))`,

	`CREATE TABLE IF NOT EXISTS candidate(
		community INTEGER REFERENCES community(id),
		host TEXT,
		port INTEGER,
		incoming_time INTEGER DEFAULT 0,
		outgoing_time INTEGER DEFAULT 0,
		external_time INTEGER DEFAULT 0,
		UNIQUE(community, host, port))`,

	`CREATE TABLE IF NOT EXISTS name(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		value TEXT,
		UNIQUE(value))`,

	`CREATE TABLE IF NOT EXISTS sync(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		community INTEGER REFERENCES community(id),
		name INTEGER REFERENCES name(id),
		user INTEGER REFERENCES user(id),
		global_time INTEGER,
		synchronization_direction INTEGER,
		distribution_sequence INTEGER DEFAULT 0,
		destination_cluster INTEGER DEFAULT 0,
		packet BLOB,
		UNIQUE(community, user, global_time))`,
	`CREATE INDEX IF NOT EXISTS sync_meta_index ON sync(community, name, user, global_time)`,

	`CREATE TABLE IF NOT EXISTS reference_user_sync(
		user INTEGER REFERENCES user(id),
		sync INTEGER REFERENCES sync(id),
		UNIQUE(user, sync))`,

	`CREATE TABLE IF NOT EXISTS malicious_proof(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		community INTEGER REFERENCES community(id),
		user INTEGER REFERENCES user(id),
		packet BLOB)`,

	`CREATE TABLE IF NOT EXISTS option(
		key TEXT PRIMARY KEY,
		value BLOB)`,
}

// migrations[v] upgrades a version v database to version v+1.
var migrations = map[int][]string{
	1: {`ALTER TABLE sync ADD COLUMN priority INTEGER DEFAULT 128`},
	2: {
		`ALTER TABLE sync ADD COLUMN undone INTEGER DEFAULT 0`,
		`CREATE INDEX IF NOT EXISTS sync_global_time_index ON sync(community, global_time)`,
	},
}
