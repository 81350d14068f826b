/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/util"
)

func init() {
	util.SetupTestLogging()
}

func openMemory(t *testing.T) *DB {
	db, err := Open(MemoryPath, DefaultBootstrapCandidates)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesLatestSchema(t *testing.T) {
	db := openMemory(t)

	version, err := db.Version()
	require.NoError(t, err)
	assert.Equal(t, LatestVersion, version)

	_, err = db.Exec(`INSERT INTO sync(community, name, user, global_time, packet) VALUES(1, 1, 1, 1, x'00')`)
	require.NoError(t, err)
	var priority, undone int
	require.NoError(t, db.QueryRow(`SELECT priority, undone FROM sync`).Scan(&priority, &undone))
	assert.Equal(t, 128, priority)
	assert.Equal(t, 0, undone)
}

func TestBootstrapCandidates(t *testing.T) {
	db := openMemory(t)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM candidate WHERE community = 0`).Scan(&count))
	assert.Equal(t, len(DefaultBootstrapCandidates), count)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispersy.db")
	db, err := Open(path, []common.Address{{Host: "1.2.3.4", Port: 1}})
	require.NoError(t, err)
	_, err = db.NameID("dispersy-identity")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path, []common.Address{{Host: "5.6.7.8", Port: 1}})
	require.NoError(t, err)
	defer db.Close()

	hosts, err := db.Blobs(`SELECT host FROM candidate WHERE community = 0`)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "1.2.3.4", string(hosts[0]))

	ids, err := db.Int64s(`SELECT id FROM name`)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestMigrationFromVersionOne(t *testing.T) {
	db, err := Open(MemoryPath, nil)
	require.NoError(t, err)
	defer db.Close()

	// rebuild a version 1 sync table by hand
	require.NoError(t, db.Update(func() error {
		if _, err := db.Exec(`DROP TABLE sync`); err != nil {
			return err
		}
		if _, err := db.Exec(schema[6]); err != nil {
			return err
		}
		return db.SetOption("database_version", "1")
	}))

	require.NoError(t, db.Update(db.migrate))
	version, err := db.Version()
	require.NoError(t, err)
	assert.Equal(t, LatestVersion, version)

	_, err = db.Exec(`INSERT INTO sync(community, name, user, global_time, packet) VALUES(1, 1, 1, 1, x'00')`)
	require.NoError(t, err)
	var priority, undone int
	require.NoError(t, db.QueryRow(`SELECT priority, undone FROM sync`).Scan(&priority, &undone))
	assert.Equal(t, 128, priority)
	assert.Equal(t, 0, undone)

	// undone compares as an integer in sync queries
	count, err := db.Int64s(`SELECT COUNT(*) FROM sync WHERE undone = 0`)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, count)
}

func TestUpdateRollsBack(t *testing.T) {
	db := openMemory(t)

	err := db.Update(func() error {
		if _, err := db.NameID("rolled-back"); err != nil {
			return err
		}
		assert.True(t, db.InTransaction())
		return errors.New("abort")
	})
	assert.EqualError(t, err, "abort")
	assert.False(t, db.InTransaction())

	ids, err := db.Int64s(`SELECT id FROM name WHERE value = ?`, "rolled-back")
	require.NoError(t, err)
	assert.Empty(t, ids)

	assert.Panics(t, func() {
		db.Update(func() error {
			db.NameID("panicked")
			panic("boom")
		})
	})
	ids, err = db.Int64s(`SELECT id FROM name WHERE value = ?`, "panicked")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUpdateNestedJoinsOuter(t *testing.T) {
	db := openMemory(t)

	err := db.Update(func() error {
		if err := db.Update(func() error {
			_, err := db.NameID("inner")
			return err
		}); err != nil {
			return err
		}
		return errors.New("outer fails")
	})
	assert.Error(t, err)

	ids, err := db.Int64s(`SELECT id FROM name WHERE value = ?`, "inner")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNameIDAndOptions(t *testing.T) {
	db := openMemory(t)

	a, err := db.NameID("a")
	require.NoError(t, err)
	again, err := db.NameID("a")
	require.NoError(t, err)
	b, err := db.NameID("b")
	require.NoError(t, err)
	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)

	_, ok, err := db.Option("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, db.SetOption("k", "v"))
	v, ok, err := db.Option("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestOwnerIsAsserted(t *testing.T) {
	db := openMemory(t)
	owned := true
	db.SetOwner(func() bool { return owned })

	_, err := db.NameID("inside")
	require.NoError(t, err)

	owned = false
	assert.Panics(t, func() { db.Exec(`DELETE FROM name`) })
	assert.Panics(t, func() { db.Update(func() error { return nil }) })
	assert.Panics(t, func() { db.QueryRow(`SELECT COUNT(*) FROM name`) })

	owned = true
	ids, err := db.Int64s(`SELECT id FROM name WHERE value = ?`, "inside")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}
