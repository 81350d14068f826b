/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/crypto"
	"github.com/tribler/dispersy/dispersy/member"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/payload"
	"github.com/tribler/dispersy/dispersy/store"
	"github.com/tribler/dispersy/dispersy/util"
)

func init() {
	util.SetupTestLogging()
}

var testCID, _ = common.CIDFromHex("ea31500ac3fe9979c8137f12f3ab237cb763533c")

var (
	linearMeta = &message.Meta{
		Name:           "protected",
		CID:            testCID,
		Authentication: message.MemberAuthentication{Encoding: message.EncodingSHA1},
		Resolution:     message.LinearResolution{},
		Distribution:   message.FullSyncDistribution{SynchronizationDirection: message.InOrder},
		Destination:    message.CommunityDestination{NodeCount: 10},
	}
	publicMeta = &message.Meta{
		Name:           "open",
		CID:            testCID,
		Authentication: message.MemberAuthentication{Encoding: message.EncodingSHA1},
		Resolution:     message.PublicResolution{},
		Distribution:   message.FullSyncDistribution{SynchronizationDirection: message.InOrder},
		Destination:    message.CommunityDestination{NodeCount: 10},
	}
	authorizeMeta = &message.Meta{
		Name:           message.AuthorizeName,
		CID:            testCID,
		Authentication: message.MemberAuthentication{Encoding: message.EncodingSHA1},
		Resolution:     message.PublicResolution{},
		Distribution:   message.FullSyncDistribution{EnableSequenceNumber: true, SynchronizationDirection: message.InOrder},
		Destination:    message.CommunityDestination{NodeCount: 10},
	}
)

func members(t *testing.T, n int) []*member.Member {
	db, err := store.Open(store.MemoryPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	r, err := member.NewRegistry(db, 0)
	require.NoError(t, err)
	result := make([]*member.Member, n)
	for i := range result {
		result[i], err = r.Generate(crypto.VeryLow)
		require.NoError(t, err)
	}
	return result
}

func newTimeline(master *member.Member) *Timeline {
	return New(master, util.GetLogger(util.TimelineLogger, ""))
}

func create(t *testing.T, meta *message.Meta, creator *member.Member, gt uint64, seq uint32, p interface{}) *message.Message {
	auth, err := meta.Authentication.(message.MemberAuthentication).Implement(creator, nil)
	require.NoError(t, err)
	dist, err := meta.Distribution.(message.FullSyncDistribution).Implement(gt, seq)
	require.NoError(t, err)
	msg, err := meta.Impl(auth, dist, meta.Destination.(message.CommunityDestination).Implement(), p)
	require.NoError(t, err)
	return msg
}

func TestPublicResolutionAlwaysAllowed(t *testing.T) {
	m := members(t, 2)
	tl := newTimeline(m[0])
	assert.True(t, tl.Check(create(t, publicMeta, m[1], 5, 0, nil)))
}

func TestMasterIsAllowed(t *testing.T) {
	m := members(t, 1)
	tl := newTimeline(m[0])
	assert.True(t, tl.Check(create(t, linearMeta, m[0], 1, 0, nil)))
}

func TestAuthorizeThenRevoke(t *testing.T) {
	m := members(t, 2)
	master, alice := m[0], m[1]
	tl := newTimeline(master)

	assert.False(t, tl.Check(create(t, linearMeta, alice, 5, 0, nil)))

	permit := []message.Triplet{{Member: alice, Meta: linearMeta, Permission: message.Permit}}
	require.NoError(t, tl.Authorize(master, 10, permit, []byte("authorize")))
	assert.False(t, tl.Check(create(t, linearMeta, alice, 9, 0, nil)))
	assert.True(t, tl.Check(create(t, linearMeta, alice, 10, 0, nil)))
	assert.True(t, tl.Check(create(t, linearMeta, alice, 19, 0, nil)))

	require.NoError(t, tl.Revoke(master, 20, permit, []byte("revoke")))
	assert.True(t, tl.Check(create(t, linearMeta, alice, 19, 0, nil)))
	assert.False(t, tl.Check(create(t, linearMeta, alice, 20, 0, nil)))
	assert.False(t, tl.Check(create(t, linearMeta, alice, 30, 0, nil)))
}

func TestOrderIndependentReplay(t *testing.T) {
	m := members(t, 2)
	master, alice := m[0], m[1]
	permit := []message.Triplet{{Member: alice, Meta: linearMeta, Permission: message.Permit}}

	first := newTimeline(master)
	require.NoError(t, first.Authorize(master, 10, permit, []byte("a")))
	require.NoError(t, first.Revoke(master, 20, permit, []byte("r")))

	second := newTimeline(master)
	require.NoError(t, second.Revoke(master, 20, permit, []byte("r")))
	require.NoError(t, second.Authorize(master, 10, permit, []byte("a")))

	for _, gt := range []uint64{5, 10, 15, 20, 25} {
		msg := create(t, linearMeta, alice, gt, 0, nil)
		assert.Equal(t, first.Check(msg), second.Check(msg), "global time %d", gt)
	}
}

func TestSameGlobalTimeTieBreak(t *testing.T) {
	m := members(t, 2)
	master, alice := m[0], m[1]
	permit := []message.Triplet{{Member: alice, Meta: linearMeta, Permission: message.Permit}}

	tl := newTimeline(master)
	require.NoError(t, tl.Revoke(master, 10, permit, []byte{0x02}))
	require.NoError(t, tl.Authorize(master, 10, permit, []byte{0x01}))
	// the revoke has the larger packet and therefore wins
	assert.False(t, tl.Check(create(t, linearMeta, alice, 10, 0, nil)))
}

func TestAuthorizeRequiresAuthorizePermission(t *testing.T) {
	m := members(t, 3)
	master, alice, bob := m[0], m[1], m[2]
	tl := newTimeline(master)

	grant := []message.Triplet{{Member: bob, Meta: linearMeta, Permission: message.Permit}}
	assert.Error(t, tl.Authorize(alice, 5, grant, []byte("x")))
	assert.False(t, tl.Check(create(t, authorizeMeta, alice, 5, 1, &payload.Authorize{Permissions: grant})))

	delegate := []message.Triplet{{Member: alice, Meta: linearMeta, Permission: message.Authorize}}
	require.NoError(t, tl.Authorize(master, 2, delegate, []byte("d")))
	assert.True(t, tl.Check(create(t, authorizeMeta, alice, 5, 1, &payload.Authorize{Permissions: grant})))
	require.NoError(t, tl.Authorize(alice, 5, grant, []byte("x")))
	assert.True(t, tl.Check(create(t, linearMeta, bob, 6, 0, nil)))
	assert.True(t, tl.Allowed(bob, 6, linearMeta, message.Permit))
	assert.False(t, tl.Allowed(bob, 6, linearMeta, message.Authorize))
}

func TestForget(t *testing.T) {
	m := members(t, 2)
	master, alice := m[0], m[1]
	permit := []message.Triplet{{Member: alice, Meta: linearMeta, Permission: message.Permit}}
	tl := newTimeline(master)

	require.NoError(t, tl.Authorize(master, 10, permit, []byte("a")))
	require.NoError(t, tl.Revoke(master, 20, permit, []byte("r")))
	assert.False(t, tl.Allowed(alice, 25, linearMeta, message.Permit))

	tl.Forget(20, permit, []byte("r"))
	assert.True(t, tl.Allowed(alice, 25, linearMeta, message.Permit))

	// unknown packets leave the log alone
	tl.Forget(10, permit, []byte("other"))
	assert.True(t, tl.Allowed(alice, 10, linearMeta, message.Permit))

	tl.Forget(10, permit, []byte("a"))
	assert.False(t, tl.Allowed(alice, 10, linearMeta, message.Permit))
	assert.Empty(t, tl.events)
}

func TestClaimGlobalTime(t *testing.T) {
	m := members(t, 1)
	tl := newTimeline(m[0])

	last := uint64(0)
	for i := 0; i < 10; i++ {
		gt, err := tl.ClaimGlobalTime()
		require.NoError(t, err)
		assert.Greater(t, gt, last)
		last = gt
	}

	tl.UpdateGlobalTime(100)
	tl.UpdateGlobalTime(50)
	assert.Equal(t, uint64(100), tl.GlobalTime())
	gt, err := tl.ClaimGlobalTime()
	require.NoError(t, err)
	assert.Equal(t, uint64(101), gt)

	tl.Freeze(101)
	_, err = tl.ClaimGlobalTime()
	assert.Equal(t, ErrFrozen, err)
	at, frozen := tl.Frozen()
	assert.True(t, frozen)
	assert.Equal(t, uint64(101), at)
}
