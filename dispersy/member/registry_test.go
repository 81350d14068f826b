/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package member

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/crypto"
	"github.com/tribler/dispersy/dispersy/store"
	"github.com/tribler/dispersy/dispersy/util"
)

func init() {
	util.SetupTestLogging()
}

func newRegistry(t *testing.T, cacheSize int) (*Registry, *store.DB) {
	db, err := store.Open(store.MemoryPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	r, err := NewRegistry(db, cacheSize)
	require.NoError(t, err)
	return r, db
}

func publicBin(t *testing.T) []byte {
	key, err := crypto.GenerateKey(crypto.VeryLow)
	require.NoError(t, err)
	bin, err := crypto.PublicKeyToBin(&key.PublicKey)
	require.NoError(t, err)
	return bin
}

func TestGetOrCreateIsStable(t *testing.T) {
	r, _ := newRegistry(t, 0)
	key := publicBin(t)

	a, err := r.GetOrCreate(key)
	require.NoError(t, err)
	b, err := r.GetOrCreate(key)
	require.NoError(t, err)
	assert.True(t, a == b)
	assert.Equal(t, crypto.Mid(key), a.Mid())
	assert.False(t, a.IsPrivate())
	assert.Equal(t, 56, a.SignatureLength())

	byID, err := r.GetByID(a.DatabaseID())
	require.NoError(t, err)
	assert.True(t, Equal(a, byID))

	_, err = r.GetOrCreate([]byte("not a key"))
	assert.Error(t, err)
	_, err = r.GetByID(12345)
	assert.Error(t, err)
}

func TestPrivateMemberSurvivesEviction(t *testing.T) {
	r, _ := newRegistry(t, 1)

	m, err := r.Generate(crypto.Low)
	require.NoError(t, err)
	assert.True(t, m.IsPrivate())

	// push m out of the single entry cache
	_, err = r.GetOrCreate(publicBin(t))
	require.NoError(t, err)

	again, err := r.GetOrCreate(m.PublicKey())
	require.NoError(t, err)
	assert.True(t, again.IsPrivate())
	assert.Equal(t, m.DatabaseID(), again.DatabaseID())

	sig, err := again.Sign([]byte("data"))
	require.NoError(t, err)
	assert.True(t, m.Verify([]byte("data"), sig))
}

func TestSignWithoutPrivateKey(t *testing.T) {
	r, _ := newRegistry(t, 0)
	m, err := r.GetOrCreate(publicBin(t))
	require.NoError(t, err)
	_, err = m.Sign([]byte("x"))
	assert.Error(t, err)
}

func TestGetByMid(t *testing.T) {
	r, db := newRegistry(t, 0)
	key := publicBin(t)
	m, err := r.GetOrCreate(key)
	require.NoError(t, err)

	members, err := r.GetByMid(m.Mid())
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.True(t, members[0] == m)

	var unknown common.Mid
	members, err = r.GetByMid(unknown)
	require.NoError(t, err)
	assert.Empty(t, members)

	// a second key sharing the mid is allowed
	other := publicBin(t)
	_, err = db.Exec(`INSERT INTO user(mid, public_key) VALUES(?, ?)`, m.Mid().Bytes(), other)
	require.NoError(t, err)
	members, err = r.GetByMid(m.Mid())
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestAddressAndTagsPersist(t *testing.T) {
	r, db := newRegistry(t, 1)
	m, err := r.GetOrCreate(publicBin(t))
	require.NoError(t, err)

	require.NoError(t, r.SetAddress(m, common.Address{Host: "1.2.3.4", Port: 5000}))
	require.NoError(t, r.SetTag(m, TagBlacklist, true))
	require.NoError(t, r.SetTag(m, TagStore, true))
	require.NoError(t, r.SetTag(m, TagStore, false))
	assert.True(t, m.MustBlacklist())
	assert.False(t, m.MustStore())

	var tags string
	require.NoError(t, db.QueryRow(`SELECT tags FROM user WHERE id = ?`, m.DatabaseID()).Scan(&tags))
	assert.Equal(t, "blacklist", tags)

	_, err = r.GetOrCreate(publicBin(t))
	require.NoError(t, err)
	reloaded, err := r.GetByID(m.DatabaseID())
	require.NoError(t, err)
	assert.Equal(t, common.Address{Host: "1.2.3.4", Port: 5000}, reloaded.Address())
	assert.True(t, reloaded.MustBlacklist())
	assert.False(t, reloaded.MustIgnore())
}
