/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package conversion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribler/dispersy/dispersy/bloom"
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

type testCommunity struct {
	registry   *member.Registry
	subjective bool
}

func (c *testCommunity) CID() common.CID           { return testCID }
func (c *testCommunity) Members() *member.Registry { return c.registry }

func (c *testCommunity) IsSubjectivelyValid(uint8, *member.Member) bool { return c.subjective }

func (c *testCommunity) IsSimilar(*message.Meta, *member.Member, interface{}) bool { return false }

type peer struct {
	community *testCommunity
	conv      *Conversion
	metas     map[string]*message.Meta
}

func testMetas() []*message.Meta {
	return []*message.Meta{
		{
			Name:           "text",
			CID:            testCID,
			Priority:       message.DefaultPriority,
			Authentication: message.MemberAuthentication{Encoding: message.EncodingSHA1},
			Resolution:     message.PublicResolution{},
			Distribution:   message.FullSyncDistribution{EnableSequenceNumber: true, SynchronizationDirection: message.InOrder},
			Destination:    message.CommunityDestination{NodeCount: 10},
		},
		{
			Name:           "double",
			CID:            testCID,
			Priority:       message.DefaultPriority,
			Authentication: message.MultiMemberAuthentication{Count: 2},
			Resolution:     message.PublicResolution{},
			Distribution:   message.LastSyncDistribution{SynchronizationDirection: message.OutOrder, HistorySize: 1},
			Destination:    message.CommunityDestination{NodeCount: 10},
		},
		{
			Name:           "subjective",
			CID:            testCID,
			Priority:       message.DefaultPriority,
			Authentication: message.MemberAuthentication{Encoding: message.EncodingBin},
			Resolution:     message.PublicResolution{},
			Distribution:   message.FullSyncDistribution{SynchronizationDirection: message.RandomOrder},
			Destination:    message.SubjectiveDestination{Cluster: 1, NodeCount: 10},
		},
	}
}

func builtinMeta(name string, auth message.Authentication, dist message.Distribution, dest message.Destination) *message.Meta {
	return &message.Meta{
		Name:           name,
		CID:            testCID,
		Priority:       message.DefaultPriority,
		Authentication: auth,
		Resolution:     message.PublicResolution{},
		Distribution:   dist,
		Destination:    dest,
	}
}

func newPeer(t *testing.T) *peer {
	db, err := store.Open(store.MemoryPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	registry, err := member.NewRegistry(db, 0)
	require.NoError(t, err)

	p := &peer{community: &testCommunity{registry: registry, subjective: true}, metas: map[string]*message.Meta{}}
	p.conv = New(p.community, DefaultVersion)

	sha1 := message.MemberAuthentication{Encoding: message.EncodingSHA1}
	full := message.FullSyncDistribution{SynchronizationDirection: message.InOrder}
	builtins := []*message.Meta{
		builtinMeta(message.IdentityName, message.MemberAuthentication{Encoding: message.EncodingBin},
			message.LastSyncDistribution{SynchronizationDirection: message.InOrder, HistorySize: 1}, message.CommunityDestination{NodeCount: 0}),
		builtinMeta(message.AuthorizeName, sha1, full, message.CommunityDestination{NodeCount: 10}),
		builtinMeta(message.MissingSequenceName, message.NoAuthentication{}, message.DirectDistribution{}, message.AddressDestination{}),
		builtinMeta(message.SignatureRequestName, message.NoAuthentication{}, message.DirectDistribution{}, message.AddressDestination{}),
		builtinMeta(message.SyncName, message.MemberAuthentication{Encoding: message.EncodingBin}, message.DirectDistribution{}, message.AddressDestination{}),
		builtinMeta(message.CandidateResponseName, message.MemberAuthentication{Encoding: message.EncodingBin}, message.DirectDistribution{}, message.AddressDestination{}),
		builtinMeta(message.DestroyCommunityName, sha1, full, message.CommunityDestination{NodeCount: 10}),
	}
	for _, meta := range builtins {
		require.NoError(t, p.conv.DefineBuiltin(meta))
		p.metas[meta.Name] = meta
	}
	community := testMetas()
	require.NoError(t, p.conv.DefineCommunity(community, map[string]Codec{"text": TextCodec}))
	for _, meta := range community {
		p.metas[meta.Name] = meta
	}
	return p
}

func (p *peer) generate(t *testing.T) *member.Member {
	m, err := p.community.registry.Generate(crypto.VeryLow)
	require.NoError(t, err)
	return m
}

// learn makes other's public key known to p.
func (p *peer) learn(t *testing.T, other *member.Member) *member.Member {
	m, err := p.community.registry.GetOrCreate(other.PublicKey())
	require.NoError(t, err)
	return m
}

func textMessage(t *testing.T, meta *message.Meta, creator *member.Member, gt uint64, seq uint32, text string) *message.Message {
	auth, err := meta.Authentication.(message.MemberAuthentication).Implement(creator, nil)
	require.NoError(t, err)
	dist, err := meta.Distribution.(message.FullSyncDistribution).Implement(gt, seq)
	require.NoError(t, err)
	msg, err := meta.Impl(auth, dist, meta.Destination.(message.CommunityDestination).Implement(), &payload.Text{Text: text})
	require.NoError(t, err)
	return msg
}

func TestHeader(t *testing.T) {
	p := newPeer(t)
	alice := p.generate(t)
	msg := textMessage(t, p.metas["text"], alice, 10, 1, "hello")
	packet, err := p.conv.Encode(msg, true)
	require.NoError(t, err)

	assert.Equal(t, testCID[:], packet[:20])
	assert.Equal(t, DefaultVersion[:], packet[20:22])
	assert.Equal(t, byte(1), packet[22])
	assert.True(t, p.conv.CanDecode(packet))

	meta, err := p.conv.DecodeMetaMessage(packet)
	require.NoError(t, err)
	assert.Equal(t, "text", meta.Name)
}

func TestRoundTripMemberAuthentication(t *testing.T) {
	alice, bob := newPeer(t), newPeer(t)
	creator := alice.generate(t)
	msg := textMessage(t, alice.metas["text"], creator, 10, 1, "hello")
	packet, err := alice.conv.Encode(msg, true)
	require.NoError(t, err)
	assert.Len(t, packet, HeaderSize+20+8+4+len("hello")+creator.SignatureLength())

	// the sha1 encoding needs the identity first
	_, err = bob.conv.DecodeMessage(common.ZeroAddress, packet, DecodeOptions{})
	delay, ok := err.(*message.DelayPacket)
	require.True(t, ok, "expected DelayPacket, got %v", err)
	assert.Equal(t, &message.IdentityRequest{Mid: creator.Mid()}, delay.Request)

	bob.learn(t, creator)
	source := common.Address{Host: "1.2.3.4", Port: 5}
	decoded, err := bob.conv.DecodeMessage(source, packet, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), decoded.GlobalTime())
	assert.Equal(t, uint32(1), decoded.SequenceNumber())
	assert.Equal(t, "hello", decoded.Payload.(*payload.Text).Text)
	assert.Equal(t, creator.Mid(), decoded.Creator().Mid())
	assert.Equal(t, source, decoded.Source)
	assert.Equal(t, packet, decoded.Packet)
	assert.Equal(t, msg.Footprint(), decoded.Footprint())
}

func TestTamperedPacketIsDropped(t *testing.T) {
	p := newPeer(t)
	creator := p.generate(t)
	packet, err := p.conv.Encode(textMessage(t, p.metas["text"], creator, 10, 1, "hello"), true)
	require.NoError(t, err)

	tampered := append([]byte(nil), packet...)
	tampered[HeaderSize+20+8+4] ^= 0xff
	_, err = p.conv.DecodeMessage(common.ZeroAddress, tampered, DecodeOptions{})
	assert.IsType(t, &message.DropPacket{}, err)

	_, err = p.conv.DecodeMessage(common.ZeroAddress, packet[:HeaderSize+10], DecodeOptions{})
	assert.IsType(t, &message.DropPacket{}, err)

	unknown := append([]byte(nil), packet...)
	unknown[PrefixSize] = 200
	_, err = p.conv.DecodeMessage(common.ZeroAddress, unknown, DecodeOptions{})
	assert.IsType(t, &message.DropPacket{}, err)
}

func TestUnsignedPacket(t *testing.T) {
	p := newPeer(t)
	creator := p.generate(t)
	packet, err := p.conv.Encode(textMessage(t, p.metas["text"], creator, 10, 1, "hello"), false)
	require.NoError(t, err)

	_, err = p.conv.DecodeMessage(common.ZeroAddress, packet, DecodeOptions{})
	assert.IsType(t, &message.DropPacket{}, err)

	msg, err := p.conv.DecodeMessage(common.ZeroAddress, packet, DecodeOptions{AllowUnsigned: true})
	require.NoError(t, err)
	assert.False(t, msg.Authentication.IsSigned())
}

func TestMultiMemberSignatureRequest(t *testing.T) {
	alice, bob := newPeer(t), newPeer(t)
	a := alice.generate(t)
	b := bob.generate(t)
	bAtAlice := alice.learn(t, b)
	aAtBob := bob.learn(t, a)

	meta := alice.metas["double"]
	auth, err := meta.Authentication.(message.MultiMemberAuthentication).Implement([]*member.Member{a, bAtAlice}, nil)
	require.NoError(t, err)
	dist, err := meta.Distribution.(message.LastSyncDistribution).Implement(5, 0)
	require.NoError(t, err)
	double, err := meta.Impl(auth, dist, meta.Destination.(message.CommunityDestination).Implement(), &payload.Raw{Data: []byte("xy")})
	require.NoError(t, err)
	_, err = alice.conv.Encode(double, true)
	require.NoError(t, err)
	assert.False(t, double.Authentication.IsSigned())

	reqMeta := alice.metas[message.SignatureRequestName]
	req, err := reqMeta.Impl(reqMeta.Authentication.(message.NoAuthentication).Implement(),
		reqMeta.Distribution.(message.DirectDistribution).Implement(6),
		reqMeta.Destination.(message.AddressDestination).Implement(),
		&payload.SignatureRequest{Message: double})
	require.NoError(t, err)
	packet, err := alice.conv.Encode(req, false)
	require.NoError(t, err)

	decoded, err := bob.conv.DecodeMessage(common.ZeroAddress, packet, DecodeOptions{})
	require.NoError(t, err)
	embedded := decoded.Payload.(*payload.SignatureRequest).Message
	members := embedded.Members()
	require.Len(t, members, 2)
	assert.Equal(t, aAtBob.Mid(), members[0].Mid())
	assert.True(t, members[1].IsPrivate())

	// bob adds his signature and the fully signed message decodes strictly
	_, err = bob.conv.Encode(embedded, true)
	require.NoError(t, err)
	bobSig := embedded.Authentication.(*message.MultiMemberAuthenticationImpl).Signatures()[1]
	require.NoError(t, double.Authentication.(*message.MultiMemberAuthenticationImpl).SetSignature(1, bobSig))
	signed, err := alice.conv.Encode(double, false)
	require.NoError(t, err)
	assert.True(t, double.Authentication.IsSigned())

	final, err := bob.conv.DecodeMessage(common.ZeroAddress, signed, DecodeOptions{})
	require.NoError(t, err)
	assert.True(t, final.Authentication.IsSigned())
	assert.Equal(t, []byte("xy"), final.Payload.(*payload.Raw).Data)
}

func TestAuthorizeRoundTrip(t *testing.T) {
	p := newPeer(t)
	master := p.generate(t)
	grantee := p.generate(t)
	text := p.metas["text"]
	meta := p.metas[message.AuthorizeName]

	triplets := []message.Triplet{
		{Member: grantee, Meta: text, Permission: message.Permit},
		{Member: grantee, Meta: text, Permission: message.Authorize},
		{Member: grantee, Meta: p.metas["double"], Permission: message.Revoke},
	}
	auth, err := meta.Authentication.(message.MemberAuthentication).Implement(master, nil)
	require.NoError(t, err)
	dist, err := meta.Distribution.(message.FullSyncDistribution).Implement(3, 0)
	require.NoError(t, err)
	msg, err := meta.Impl(auth, dist, meta.Destination.(message.CommunityDestination).Implement(), &payload.Authorize{Permissions: triplets})
	require.NoError(t, err)
	packet, err := p.conv.Encode(msg, true)
	require.NoError(t, err)

	decoded, err := p.conv.DecodeMessage(common.ZeroAddress, packet, DecodeOptions{})
	require.NoError(t, err)
	got := decoded.Payload.(*payload.Authorize).Permissions
	require.Len(t, got, 3)
	for idx := range triplets {
		assert.Equal(t, triplets[idx].Meta.Name, got[idx].Meta.Name)
		assert.Equal(t, triplets[idx].Permission, got[idx].Permission)
		assert.Equal(t, grantee.Mid(), got[idx].Member.Mid())
	}
}

func TestSyncAndCandidateResponse(t *testing.T) {
	p := newPeer(t)
	me := p.generate(t)

	filter, err := bloom.New(850, 0.01)
	require.NoError(t, err)
	filter.Add([]byte("packet"))
	meta := p.metas[message.SyncName]
	auth, err := meta.Authentication.(message.MemberAuthentication).Implement(me, nil)
	require.NoError(t, err)
	msg, err := meta.Impl(auth, meta.Distribution.(message.DirectDistribution).Implement(7),
		meta.Destination.(message.AddressDestination).Implement(), &payload.Sync{TimeLow: 1, TimeHigh: 0, Bloom: filter})
	require.NoError(t, err)
	packet, err := p.conv.Encode(msg, true)
	require.NoError(t, err)
	decoded, err := p.conv.DecodeMessage(common.ZeroAddress, packet, DecodeOptions{})
	require.NoError(t, err)
	sync := decoded.Payload.(*payload.Sync)
	assert.True(t, sync.Bloom.Contains([]byte("packet")))
	assert.True(t, sync.InRange(1000))

	meta = p.metas[message.CandidateResponseName]
	auth, err = meta.Authentication.(message.MemberAuthentication).Implement(me, nil)
	require.NoError(t, err)
	resp := &payload.CandidateResponse{
		RequestIdentifier:  payload.Identifier{1, 2, 3},
		SourceAddress:      common.Address{Host: "10.0.0.1", Port: 6421},
		DestinationAddress: common.Address{Host: "10.0.0.2", Port: 6422},
		ConversionVersion:  DefaultVersion,
		Routes:             []payload.Route{{Address: common.Address{Host: "10.0.0.3", Port: 1}, Age: 12}},
	}
	msg, err = meta.Impl(auth, meta.Distribution.(message.DirectDistribution).Implement(7),
		meta.Destination.(message.AddressDestination).Implement(), resp)
	require.NoError(t, err)
	packet, err = p.conv.Encode(msg, true)
	require.NoError(t, err)
	decoded, err = p.conv.DecodeMessage(common.ZeroAddress, packet, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, resp, decoded.Payload)
}

func TestMissingSequenceAndDestroy(t *testing.T) {
	p := newPeer(t)
	me := p.generate(t)

	meta := p.metas[message.MissingSequenceName]
	req := &payload.MissingSequence{Mid: me.Mid(), Meta: p.metas["text"], Low: 2, High: 4}
	msg, err := meta.Impl(meta.Authentication.(message.NoAuthentication).Implement(),
		meta.Distribution.(message.DirectDistribution).Implement(1), meta.Destination.(message.AddressDestination).Implement(), req)
	require.NoError(t, err)
	packet, err := p.conv.Encode(msg, true)
	require.NoError(t, err)
	decoded, err := p.conv.DecodeMessage(common.ZeroAddress, packet, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, req, decoded.Payload)

	meta = p.metas[message.DestroyCommunityName]
	auth, err := meta.Authentication.(message.MemberAuthentication).Implement(me, nil)
	require.NoError(t, err)
	dist, err := meta.Distribution.(message.FullSyncDistribution).Implement(9, 0)
	require.NoError(t, err)
	msg, err = meta.Impl(auth, dist, meta.Destination.(message.CommunityDestination).Implement(), &payload.DestroyCommunity{Degree: payload.HardKill})
	require.NoError(t, err)
	packet, err = p.conv.Encode(msg, true)
	require.NoError(t, err)
	decoded, err = p.conv.DecodeMessage(common.ZeroAddress, packet, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, payload.HardKill, decoded.Payload.(*payload.DestroyCommunity).Degree)
}

func TestSubjectiveDestination(t *testing.T) {
	p := newPeer(t)
	me := p.generate(t)
	meta := p.metas["subjective"]
	auth, err := meta.Authentication.(message.MemberAuthentication).Implement(me, nil)
	require.NoError(t, err)
	dist, err := meta.Distribution.(message.FullSyncDistribution).Implement(4, 0)
	require.NoError(t, err)
	msg, err := meta.Impl(auth, dist, meta.Destination.(message.SubjectiveDestination).Implement(true), &payload.Raw{Data: []byte{1}})
	require.NoError(t, err)
	packet, err := p.conv.Encode(msg, true)
	require.NoError(t, err)

	p.community.subjective = false
	decoded, err := p.conv.DecodeMessage(common.ZeroAddress, packet, DecodeOptions{})
	require.NoError(t, err)
	assert.False(t, decoded.Destination.(*message.SubjectiveDestinationImpl).IsValid)
}

func TestDefineConflicts(t *testing.T) {
	p := newPeer(t)
	assert.Error(t, p.conv.DefineBuiltin(p.metas[message.SyncName]))
	assert.Error(t, p.conv.Define(builtinMeta("other", message.NoAuthentication{}, message.DirectDistribution{}, message.AddressDestination{}), 1, RawCodec))
	assert.Error(t, p.conv.DefineBuiltin(p.metas["text"]))
}
