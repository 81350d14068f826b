/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispersy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribler/dispersy/common/metrics/disabled"
	"github.com/tribler/dispersy/dispersy/comm/mock"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/conversion"
	"github.com/tribler/dispersy/dispersy/crypto"
	"github.com/tribler/dispersy/dispersy/member"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/payload"
	"github.com/tribler/dispersy/dispersy/scheduler"
	"github.com/tribler/dispersy/dispersy/store"
	"github.com/tribler/dispersy/dispersy/util"
)

func init() {
	util.SetupTestLogging()
}

const (
	testClassification = "test"

	textName       = "text"
	sequenceName   = "sequence"
	lastName       = "last"
	doubleName     = "double"
	protectedName  = "protected"
	subjectiveName = "subjective"
)

var (
	addrA = common.Address{Host: "1.2.3.4", Port: 5000}
	addrB = common.Address{Host: "5.6.7.8", Port: 6000}
	addrC = common.Address{Host: "9.9.9.9", Port: 7000}
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testOverlay struct {
	allowSignature bool
}

func (o *testOverlay) MetaMessages(c *Community) []*message.Meta {
	sha1 := message.MemberAuthentication{Encoding: message.EncodingSHA1}
	public := message.PublicResolution{}
	community := message.CommunityDestination{NodeCount: 10}
	return []*message.Meta{
		{
			Name:           textName,
			Authentication: sha1,
			Resolution:     public,
			Distribution:   message.FullSyncDistribution{SynchronizationDirection: message.InOrder},
			Destination:    community,
		},
		{
			Name:           sequenceName,
			Authentication: sha1,
			Resolution:     public,
			Distribution:   message.FullSyncDistribution{EnableSequenceNumber: true, SynchronizationDirection: message.InOrder},
			Destination:    community,
		},
		{
			Name:           lastName,
			Authentication: sha1,
			Resolution:     public,
			Distribution:   message.LastSyncDistribution{SynchronizationDirection: message.OutOrder, HistorySize: 1},
			Destination:    community,
		},
		{
			Name: doubleName,
			Authentication: message.MultiMemberAuthentication{
				Count:          2,
				AllowSignature: func(*message.Message) bool { return o.allowSignature },
			},
			Resolution:   public,
			Distribution: message.FullSyncDistribution{SynchronizationDirection: message.RandomOrder},
			Destination:  community,
		},
		{
			Name:           protectedName,
			Authentication: sha1,
			Resolution:     message.LinearResolution{},
			Distribution:   message.FullSyncDistribution{SynchronizationDirection: message.InOrder},
			Destination:    community,
		},
		{
			Name:           subjectiveName,
			Authentication: sha1,
			Resolution:     public,
			Distribution:   message.FullSyncDistribution{SynchronizationDirection: message.InOrder},
			Destination:    message.SubjectiveDestination{Cluster: 1, NodeCount: 10},
		},
	}
}

func (o *testOverlay) Codecs() map[string]conversion.Codec {
	codecs := map[string]conversion.Codec{}
	for _, name := range []string{textName, sequenceName, lastName, doubleName, protectedName, subjectiveName} {
		codecs[name] = conversion.TextCodec
	}
	return codecs
}

type testNetwork struct {
	t       *testing.T
	network *mock.Network
	clock   *clock
	nodes   []*node
}

func newTestNetwork(t *testing.T) *testNetwork {
	return &testNetwork{t: t, network: mock.NewNetwork(), clock: &clock{now: time.Unix(1500000000, 0)}}
}

type node struct {
	t       *testing.T
	d       *Dispersy
	db      *store.DB
	sched   *scheduler.Scheduler
	my      *member.Member
	overlay *testOverlay
	c       *Community
}

func (tn *testNetwork) newNode(addr common.Address, tune ...func(*Config)) *node {
	t := tn.t
	db, err := store.Open(store.MemoryPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	endpoint, err := tn.network.NewEndpoint(addr, nil)
	require.NoError(t, err)
	sched := scheduler.New(util.GetLogger(util.SchedulerLogger, addr.String()), scheduler.WithClock(tn.clock.Now))

	conf := DefaultConfig()
	conf.MasterKeyStrength = crypto.VeryLow
	for _, fn := range tune {
		fn(&conf)
	}
	d, err := New(conf, db, endpoint, sched, &disabled.Provider{})
	require.NoError(t, err)
	endpoint.SetHandler(d.OnIncomingPackets)

	n := &node{t: t, d: d, db: db, sched: sched, overlay: &testOverlay{allowSignature: true}}
	require.NoError(t, d.RegisterClassification(testClassification, func() Overlay { return n.overlay }))
	n.my, err = d.Members().Generate(crypto.VeryLow)
	require.NoError(t, err)
	tn.nodes = append(tn.nodes, n)
	return n
}

// flush delivers packets and runs posted tasks until the network is quiet.
func (tn *testNetwork) flush() {
	for round := 0; round < 100; round++ {
		delivered := tn.network.Flush()
		ran := 0
		for _, n := range tn.nodes {
			ran += n.sched.RunDue()
		}
		if delivered == 0 && ran == 0 {
			return
		}
	}
	tn.t.Fatal("network did not quiesce")
}

func (n *node) create() *Community {
	c, err := n.d.CreateCommunity(testClassification, n.my)
	require.NoError(n.t, err)
	n.c = c
	return c
}

func (n *node) join(master *member.Member) *Community {
	c, err := n.d.LoadCommunity(testClassification, master.PublicKey(), n.my)
	require.NoError(n.t, err)
	n.c = c
	return c
}

// syncFrom makes n send its sync ranges to peer and delivers everything.
func (tn *testNetwork) syncFrom(n, peer *node) {
	require.NoError(tn.t, n.c.AddCandidate(peer.d.LANAddress()))
	n.c.periodicSync()
	tn.flush()
}

func (n *node) inject(from common.Address, packets ...[]byte) {
	in := make([]common.PacketIn, len(packets))
	for i, p := range packets {
		in[i] = common.PacketIn{Source: from, Data: p}
	}
	n.d.OnIncomingPackets(in)
}

func (n *node) count(query string, args ...interface{}) int {
	var count int
	require.NoError(n.t, n.db.QueryRow(query, args...).Scan(&count))
	return count
}

func (n *node) stored(name string) int {
	return n.count(`SELECT COUNT(*) FROM sync WHERE community = ? AND name = ?`, n.c.id, n.c.nameIDs[name])
}

func (n *node) text(name, text string, opts ...CreateOption) *message.Message {
	msg, err := n.c.CreateMessage(n.c.mustMeta(name), &payload.Text{Text: text}, opts...)
	require.NoError(n.t, err)
	return msg
}

// peer returns the member of other as known to n.
func (n *node) peer(other *node) *member.Member {
	m, err := n.d.Members().GetOrCreate(other.my.PublicKey())
	require.NoError(n.t, err)
	return m
}

func TestCreateCommunity(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	c := a.create()

	assert.Equal(t, common.CID(c.MasterMember().Mid()), c.CID())
	assert.Equal(t, Running, c.State())
	assert.Equal(t, 1, a.stored(message.IdentityName))
	assert.Equal(t, 1, a.stored(message.AuthorizeName))
	assert.EqualValues(t, 2, c.GlobalTime())

	protected := c.mustMeta(protectedName)
	destroy := c.mustMeta(message.DestroyCommunityName)
	for _, p := range message.Permissions {
		assert.True(t, c.Timeline().Allowed(a.my, 3, protected, p))
		assert.True(t, c.Timeline().Allowed(a.my, 3, destroy, p))
	}
	same, ok := a.d.Community(c.CID())
	require.True(t, ok)
	assert.Equal(t, c, same)

	_, err := a.d.CreateCommunity("unknown", a.my)
	assert.Error(t, err)
}

func TestOverlayMetaValidation(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	require.NoError(t, a.d.RegisterClassification("shadow", func() Overlay { return shadowOverlay{} }))
	_, err := a.d.CreateCommunity("shadow", a.my)
	assert.Error(t, err)
	assert.Error(t, a.d.RegisterClassification(testClassification, nil))
}

type shadowOverlay struct{}

func (shadowOverlay) MetaMessages(*Community) []*message.Meta {
	return []*message.Meta{{
		Name:           message.IdentityName,
		Authentication: message.NoAuthentication{},
		Resolution:     message.PublicResolution{},
		Distribution:   message.DirectDistribution{},
		Destination:    message.AddressDestination{},
	}}
}

func (shadowOverlay) Codecs() map[string]conversion.Codec { return nil }

func TestIdentityPropagation(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	b := tn.newNode(addrB)
	a.create()
	b.join(a.c.MasterMember())

	tn.syncFrom(b, a)

	var host string
	var port int
	require.NoError(t, b.db.QueryRow(`SELECT host, port FROM user WHERE public_key = ?`, a.my.PublicKey()).Scan(&host, &port))
	assert.Equal(t, "1.2.3.4", host)
	assert.Equal(t, 5000, port)

	mA := b.peer(a)
	assert.Equal(t, addrA, mA.Address())
	assert.Equal(t, 1, b.count(`SELECT COUNT(*) FROM sync WHERE community = ? AND name = ? AND user = ? AND global_time = 1`,
		b.c.id, b.c.nameIDs[message.IdentityName], mA.DatabaseID()))
	assert.Equal(t, 1, b.count(`SELECT COUNT(*) FROM sync WHERE community = ? AND name = ? AND user = ?`,
		b.c.id, b.c.nameIDs[message.IdentityName], mA.DatabaseID()))
	// the master's authorization of A came along
	assert.True(t, b.c.Timeline().Allowed(mA, 3, b.c.mustMeta(protectedName), message.Permit))
}

func TestMissingSequenceRepair(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	b := tn.newNode(addrB)
	a.create()
	b.join(a.c.MasterMember())

	var msgs []*message.Message
	for _, text := range []string{"one", "two", "three"} {
		msgs = append(msgs, a.text(sequenceName, text, WithoutForward()))
	}
	for i, msg := range msgs {
		assert.EqualValues(t, i+1, msg.SequenceNumber())
	}

	b.inject(addrA, msgs[2].Packet)
	tn.flush()

	assert.Equal(t, 3, b.stored(sequenceName))
	seqs, err := b.db.Int64s(`SELECT distribution_sequence FROM sync WHERE community = ? AND name = ? ORDER BY distribution_sequence`,
		b.c.id, b.c.nameIDs[sequenceName])
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, seqs)
	assert.Equal(t, 0, b.d.PendingTriggers())
}

func TestSequenceDuplicateDropped(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	b := tn.newNode(addrB)
	a.create()
	b.join(a.c.MasterMember())
	tn.syncFrom(b, a)

	msg := a.text(sequenceName, "one", WithoutForward())
	b.inject(addrA, msg.Packet)
	tn.flush()
	b.inject(addrA, msg.Packet)

	assert.Equal(t, 1, b.stored(sequenceName))
	assert.EqualValues(t, 1, b.d.Statistics().Drop[dropSequence])
}

func TestLastSyncEviction(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	b := tn.newNode(addrB)
	a.create()
	b.join(a.c.MasterMember())

	first := a.text(lastName, "five", WithGlobalTime(5), WithoutForward())
	second := a.text(lastName, "seven", WithGlobalTime(7), WithoutForward())
	assert.Equal(t, 1, a.stored(lastName))

	b.inject(addrA, first.Packet, second.Packet)
	tn.flush()

	mA := b.peer(a)
	times, err := b.db.Int64s(`SELECT global_time FROM sync WHERE community = ? AND name = ? AND user = ?`,
		b.c.id, b.c.nameIDs[lastName], mA.DatabaseID())
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, times)
	assert.Equal(t, 0, b.count(`SELECT COUNT(*) FROM reference_user_sync WHERE sync NOT IN (SELECT id FROM sync)`))

	// an older message no longer fits
	b.inject(addrA, first.Packet)
	assert.Equal(t, []int64{7}, mustInt64s(t, b, `SELECT global_time FROM sync WHERE community = ? AND name = ?`, b.c.id, b.c.nameIDs[lastName]))
	assert.EqualValues(t, 1, b.d.Statistics().Drop[dropOld])
}

func TestDelayedSequenceKeepsLaterOnesWaiting(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	b := tn.newNode(addrB)
	a.create()
	b.join(a.c.MasterMember())
	tn.syncFrom(b, a)

	// B never sees the master delegating text to A
	_, err := a.c.CreateAuthorize([]message.Triplet{{Member: a.my, Meta: a.c.mustMeta(textName), Permission: message.Authorize}},
		WithMember(a.c.MasterMember()), WithoutForward())
	require.NoError(t, err)
	first, err := a.c.CreateAuthorize([]message.Triplet{{Member: a.peer(b), Meta: a.c.mustMeta(textName), Permission: message.Permit}},
		WithoutForward())
	require.NoError(t, err)
	second, err := a.c.CreateAuthorize([]message.Triplet{{Member: a.peer(b), Meta: a.c.mustMeta(protectedName), Permission: message.Permit}},
		WithoutForward())
	require.NoError(t, err)
	require.EqualValues(t, 1, first.SequenceNumber())
	require.EqualValues(t, 2, second.SequenceNumber())

	mA := b.peer(a)
	sequences := func() []int64 {
		return mustInt64s(t, b, `SELECT distribution_sequence FROM sync WHERE community = ? AND name = ? AND user = ? ORDER BY distribution_sequence`,
			b.c.id, b.c.nameIDs[message.AuthorizeName], mA.DatabaseID())
	}

	delayed := b.d.Statistics().Delay[delayMessage]
	pending := b.d.PendingTriggers()
	b.inject(addrA, first.Packet, second.Packet)
	// the first waits for its proof, the second for the first
	assert.Empty(t, sequences())
	assert.Equal(t, delayed+2, b.d.Statistics().Delay[delayMessage])
	assert.Equal(t, pending+2, b.d.PendingTriggers())

	tn.flush()
	assert.Equal(t, []int64{1, 2}, sequences())
	assert.True(t, b.c.Timeline().Allowed(b.my, b.c.GlobalTime(), b.c.mustMeta(protectedName), message.Permit))
	assert.Equal(t, 0, b.d.PendingTriggers())
}

func TestRejectedMessagesLeaveTheRestOfTheCall(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	b := tn.newNode(addrB, func(conf *Config) { conf.AcceptableGlobalTimeRange = 100 })
	a.create()
	b.join(a.c.MasterMember())
	tn.syncFrom(b, a)

	far := forge(t, a, textName, b.c.GlobalTime()+101, "far")
	assert.NotPanics(t, func() { b.inject(addrA, far) })

	near := a.text(textName, "near", WithoutForward())
	assert.NotPanics(t, func() { b.inject(addrA, far, near.Packet) })
	assert.Equal(t, 1, b.stored(textName))
	assert.EqualValues(t, 2, b.d.Statistics().Drop[dropGlobalTime])

	// every message of the batch is rejected before the distribution checks
	require.NoError(t, b.d.Members().SetTag(b.peer(a), member.TagBlacklist, true))
	spam := a.text(textName, "spam", WithoutForward())
	other := a.text(sequenceName, "spam", WithoutForward())
	assert.NotPanics(t, func() { b.inject(addrA, spam.Packet, other.Packet) })
	assert.Equal(t, 1, b.stored(textName))
	assert.Equal(t, 0, b.stored(sequenceName))
	assert.EqualValues(t, 2, b.d.Statistics().Drop[dropBlacklisted])
}

func TestRangesCoverStoreAfterEviction(t *testing.T) {
	tn := newTestNetwork(t)
	small := func(conf *Config) { conf.BloomCapacity = 3 }
	a := tn.newNode(addrA, small)
	b := tn.newNode(addrB, small)
	a.create()
	b.join(a.c.MasterMember())

	for i := 0; i < 4; i++ {
		a.text(lastName, "latest", WithoutForward())
		a.text(textName, "kept", WithoutForward())
	}
	assert.Equal(t, 1, a.stored(lastName))
	assert.Greater(t, len(a.c.ranges), 2)
	requireRangesCoverStore(t, a)

	tn.syncFrom(b, a)
	require.Equal(t, 1, b.stored(lastName))

	// B replaces its last-sync message once the newer one arrives
	for i := 0; i < 3; i++ {
		a.text(textName, "more", WithoutForward())
	}
	newest := a.text(lastName, "newest", WithoutForward())
	tn.syncFrom(b, a)
	assert.Equal(t, []int64{int64(newest.GlobalTime())},
		mustInt64s(t, b, `SELECT global_time FROM sync WHERE community = ? AND name = ?`, b.c.id, b.c.nameIDs[lastName]))
	assert.Greater(t, len(b.c.ranges), 1)
	requireRangesCoverStore(t, b)

	require.NoError(t, b.c.rebuildRanges())
	requireRangesCoverStore(t, b)
}

func mustInt64s(t *testing.T, n *node, query string, args ...interface{}) []int64 {
	values, err := n.db.Int64s(query, args...)
	require.NoError(t, err)
	return values
}

func TestDuplicatePacketsInOneBatch(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	b := tn.newNode(addrB)
	a.create()
	b.join(a.c.MasterMember())
	tn.syncFrom(b, a)

	msg := a.text(textName, "once", WithoutForward())
	b.inject(addrA, msg.Packet, msg.Packet)
	tn.flush()
	assert.Equal(t, 1, b.stored(textName))
	assert.EqualValues(t, 1, b.d.Statistics().Drop[dropDuplicatePacket])

	single := tn.newNode(addrC)
	single.join(a.c.MasterMember())
	tn.syncFrom(single, a)
	single.inject(addrA, msg.Packet)
	tn.flush()
	assert.Equal(t, single.stored(textName), b.stored(textName))
}

func TestMaliciousProof(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	b := tn.newNode(addrB)
	a.create()
	b.join(a.c.MasterMember())
	tn.syncFrom(b, a)

	honest := a.text(textName, "honest", WithoutForward())
	forged := forge(t, a, textName, honest.GlobalTime(), "forged")

	b.inject(addrA, honest.Packet)
	b.inject(addrA, forged)

	assert.Equal(t, 1, b.stored(textName))
	assert.Equal(t, 1, b.count(`SELECT COUNT(*) FROM malicious_proof WHERE community = ?`, b.c.id))
	assert.EqualValues(t, 1, b.d.Statistics().Drop[dropMalicious])
}

// forge encodes a message of name at globalTime without storing it.
func forge(t *testing.T, n *node, name string, globalTime uint64, text string) []byte {
	meta := n.c.mustMeta(name)
	auth, err := meta.Authentication.(message.MemberAuthentication).Implement(n.my, nil)
	require.NoError(t, err)
	dist, err := meta.Distribution.(message.FullSyncDistribution).Implement(globalTime, 0)
	require.NoError(t, err)
	msg, err := meta.Impl(auth, dist, meta.Destination.(message.CommunityDestination).Implement(), &payload.Text{Text: text})
	require.NoError(t, err)
	packet, err := n.c.Conversion().Encode(msg, true)
	require.NoError(t, err)
	return packet
}

func TestGlobalTimeRange(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	b := tn.newNode(addrB, func(conf *Config) { conf.AcceptableGlobalTimeRange = 100 })
	a.create()
	b.join(a.c.MasterMember())
	tn.syncFrom(b, a)

	far := forge(t, a, textName, b.c.GlobalTime()+101, "far")
	b.inject(addrA, far)
	assert.Equal(t, 0, b.stored(textName))
	assert.EqualValues(t, 1, b.d.Statistics().Drop[dropGlobalTime])

	near := forge(t, a, textName, b.c.GlobalTime()+100, "near")
	b.inject(addrA, near)
	assert.Equal(t, 1, b.stored(textName))
}

func TestClaimGlobalTimeIsMonotone(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	a.create()

	last := a.c.GlobalTime()
	for i := 0; i < 20; i++ {
		msg := a.text(textName, "tick", WithoutForward())
		assert.Greater(t, msg.GlobalTime(), last)
		last = msg.GlobalTime()
	}
	_, err := a.c.claimGlobalTime(last)
	assert.NoError(t, err)
}

func TestInvalidSources(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	a.create()
	msg := a.text(textName, "mine", WithoutForward())

	a.inject(addrA, msg.Packet)
	a.inject(common.ZeroAddress, msg.Packet)
	a.inject(addrB, []byte("short"))
	assert.EqualValues(t, 2, a.d.Statistics().Drop[dropInvalidSource])
	assert.EqualValues(t, 1, a.d.Statistics().Drop[dropPacket])

	unknown := append([]byte(nil), msg.Packet...)
	unknown[0] ^= 0xff
	a.inject(addrB, unknown)
	assert.EqualValues(t, 1, a.d.Statistics().Drop[dropUnknownCommunity])
}

func TestBlacklistedCreator(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	b := tn.newNode(addrB)
	a.create()
	b.join(a.c.MasterMember())
	tn.syncFrom(b, a)

	require.NoError(t, b.d.Members().SetTag(b.peer(a), member.TagBlacklist, true))
	b.inject(addrA, a.text(textName, "spam", WithoutForward()).Packet)
	assert.Equal(t, 0, b.stored(textName))
	assert.EqualValues(t, 1, b.d.Statistics().Drop[dropBlacklisted])
}

func TestReloadRestoresState(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	c := a.create()
	a.text(textName, "kept", WithoutForward())
	gt := c.GlobalTime()

	require.NoError(t, a.d.DetachCommunity(c.CID()))
	_, ok := a.d.Community(c.CID())
	assert.False(t, ok)

	reloaded, err := a.d.AttachCommunity(c.CID())
	require.NoError(t, err)
	assert.Equal(t, gt, reloaded.GlobalTime())
	assert.True(t, reloaded.Timeline().Allowed(a.my, gt+1, reloaded.mustMeta(protectedName), message.Permit))
	assert.NotSame(t, c, reloaded)

	require.NoError(t, a.d.SetAutoLoad(c.CID(), false))
	require.NoError(t, a.d.DetachCommunity(c.CID()))
	_, err = a.d.communityFor(c.CID())
	assert.IsType(t, &UnknownCommunityError{}, err)
	require.NoError(t, a.d.SetAutoLoad(c.CID(), true))
	_, err = a.d.communityFor(c.CID())
	assert.NoError(t, err)
}

func TestStopDetachesCommunities(t *testing.T) {
	tn := newTestNetwork(t)
	a := tn.newNode(addrA)
	a.d.Start()
	a.create()
	assert.Len(t, a.d.Communities(), 1)

	a.d.Stop()
	assert.Empty(t, a.d.Communities())
	assert.True(t, a.d.toDie())
	assert.Equal(t, 0, a.sched.Len())
}
