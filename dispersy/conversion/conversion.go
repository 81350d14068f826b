/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package conversion

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/member"
	"github.com/tribler/dispersy/dispersy/message"
)

// DefaultVersion is the dispersy version byte followed by the community
// version byte.
var DefaultVersion = [2]byte{0x00, 0x01}

const (
	// PrefixSize is the community id plus the version.
	PrefixSize = common.IDLength + 2
	// HeaderSize adds the meta message byte.
	HeaderSize = PrefixSize + 1

	maxCandidateCombinations = 16
)

// Community is what a conversion needs to know about the community it
// encodes for.
type Community interface {
	CID() common.CID
	Members() *member.Registry
	// IsSubjectivelyValid reports whether creator is in our own subjective
	// set for cluster.
	IsSubjectivelyValid(cluster uint8, creator *member.Member) bool
	// IsSimilar is the similarity predicate for SimilarityDestination.
	IsSimilar(meta *message.Meta, creator *member.Member, payload interface{}) bool
}

// Codec encodes and decodes the payload of one meta message.
type Codec struct {
	Encode func(c *Conversion, payload interface{}) ([]byte, error)
	Decode func(c *Conversion, data []byte) (interface{}, error)
}

// DecodeOptions tune DecodeMessage.
type DecodeOptions struct {
	// AllowUnsigned accepts missing (all zero) signatures. Used for
	// messages embedded in signature requests.
	AllowUnsigned bool
}

// Conversion encodes and decodes the messages of one community for one
// wire version.
type Conversion struct {
	community Community
	version   [2]byte
	prefix    []byte
	byByte    map[byte]*message.Meta
	byName    map[string]byte
	codecs    map[string]Codec
}

// New creates a conversion without any meta messages.
func New(community Community, version [2]byte) *Conversion {
	cid := community.CID()
	prefix := make([]byte, 0, PrefixSize)
	prefix = append(prefix, cid[:]...)
	prefix = append(prefix, version[:]...)
	return &Conversion{
		community: community,
		version:   version,
		prefix:    prefix,
		byByte:    map[byte]*message.Meta{},
		byName:    map[string]byte{},
		codecs:    map[string]Codec{},
	}
}

func (c *Conversion) Version() [2]byte { return c.version }

// Prefix returns the community id followed by the version.
func (c *Conversion) Prefix() []byte { return c.prefix }

// Define assigns b to meta and registers its payload codec.
func (c *Conversion) Define(meta *message.Meta, b byte, codec Codec) error {
	if codec.Encode == nil || codec.Decode == nil {
		return errors.Errorf("incomplete codec for %s", meta.Name)
	}
	if other, exists := c.byByte[b]; exists {
		return errors.Errorf("byte %d is already assigned to %s", b, other.Name)
	}
	if _, exists := c.byName[meta.Name]; exists {
		return errors.Errorf("meta message %s is already defined", meta.Name)
	}
	c.byByte[b] = meta
	c.byName[meta.Name] = b
	c.codecs[meta.Name] = codec
	return nil
}

// MetaByte returns the discriminator of meta.
func (c *Conversion) MetaByte(meta *message.Meta) (byte, bool) {
	b, ok := c.byName[meta.Name]
	return b, ok
}

// MetaForByte returns the meta assigned to b.
func (c *Conversion) MetaForByte(b byte) (*message.Meta, bool) {
	meta, ok := c.byByte[b]
	return meta, ok
}

// CanDecode reports whether packet starts with this conversion's prefix.
func (c *Conversion) CanDecode(packet []byte) bool {
	return len(packet) >= HeaderSize && bytes.Equal(packet[:PrefixSize], c.prefix)
}

// DecodeMetaMessage reads the meta message a packet belongs to without
// decoding the rest.
func (c *Conversion) DecodeMetaMessage(packet []byte) (*message.Meta, error) {
	if len(packet) < HeaderSize {
		return nil, message.NewDropPacket("packet too short (%d bytes)", len(packet))
	}
	if !bytes.Equal(packet[:PrefixSize], c.prefix) {
		return nil, message.NewDropPacket("packet prefix does not match conversion")
	}
	meta, ok := c.byByte[packet[PrefixSize]]
	if !ok {
		return nil, message.NewDropPacket("unknown meta message byte %d", packet[PrefixSize])
	}
	return meta, nil
}

// Encode builds msg.Packet. With sign set, every signature slot of a
// private member that is still empty is signed; other empty slots are zero
// filled.
func (c *Conversion) Encode(msg *message.Message, sign bool) ([]byte, error) {
	b, ok := c.byName[msg.Meta.Name]
	if !ok {
		return nil, errors.Errorf("meta message %s is not defined in this conversion", msg.Meta.Name)
	}

	buf := bytes.NewBuffer(make([]byte, 0, 256))
	buf.Write(c.prefix)
	buf.WriteByte(b)

	signers, err := encodeAuthentication(buf, msg)
	if err != nil {
		return nil, err
	}
	encodeDistribution(buf, msg)

	payload, err := c.codecs[msg.Meta.Name].Encode(c, msg.Payload)
	if err != nil {
		return nil, errors.WithMessage(err, "failed encoding "+msg.Meta.Name+" payload")
	}
	buf.Write(payload)

	body := buf.Bytes()
	packet := append([]byte(nil), body...)
	for _, s := range signers {
		sig := s.signature()
		if !isSigned(sig) && sign && s.member.IsPrivate() {
			sig, err = s.member.Sign(body)
			if err != nil {
				return nil, err
			}
			s.set(sig)
		}
		if !isSigned(sig) {
			sig = make([]byte, s.member.SignatureLength())
		}
		packet = append(packet, sig...)
	}

	msg.Packet = packet
	return packet, nil
}

type signer struct {
	member    *member.Member
	signature func() []byte
	set       func([]byte)
}

func encodeAuthentication(buf *bytes.Buffer, msg *message.Message) ([]signer, error) {
	switch auth := msg.Authentication.(type) {
	case *message.NoAuthenticationImpl:
		return nil, nil

	case *message.MemberAuthenticationImpl:
		m := auth.Member()
		switch auth.Meta().(message.MemberAuthentication).Encoding {
		case message.EncodingBin:
			key := m.PublicKey()
			writeUint16(buf, uint16(len(key)))
			buf.Write(key)
		default:
			mid := m.Mid()
			buf.Write(mid[:])
		}
		return []signer{{member: m, signature: auth.Signature, set: auth.SetSignature}}, nil

	case *message.MultiMemberAuthenticationImpl:
		signers := make([]signer, len(auth.Members()))
		for idx, m := range auth.Members() {
			idx := idx
			mid := m.Mid()
			buf.Write(mid[:])
			signers[idx] = signer{
				member:    m,
				signature: func() []byte { return auth.Signatures()[idx] },
				set:       func(sig []byte) { _ = auth.SetSignature(idx, sig) },
			}
		}
		return signers, nil
	}
	return nil, errors.Errorf("unknown authentication %T", msg.Authentication)
}

func encodeDistribution(buf *bytes.Buffer, msg *message.Message) {
	writeUint64(buf, msg.GlobalTime())
	if d, ok := msg.Meta.SyncDistribution(); ok && d.SequenceEnabled() {
		writeUint32(buf, msg.SequenceNumber())
	}
}

// DecodeMessage fully decodes and verifies packet. Failures are returned as
// *message.DropPacket or *message.DelayPacket.
func (c *Conversion) DecodeMessage(source common.Address, packet []byte, opts DecodeOptions) (*message.Message, error) {
	meta, err := c.DecodeMetaMessage(packet)
	if err != nil {
		return nil, err
	}
	r := &reader{data: packet, offset: HeaderSize}

	var auth message.AuthenticationImpl
	var sigSize int
	switch policy := meta.Authentication.(type) {
	case message.NoAuthentication:
		auth = policy.Implement()

	case message.MemberAuthentication:
		var candidates []*member.Member
		if policy.Encoding == message.EncodingBin {
			keyLen, err := r.uint16()
			if err != nil {
				return nil, err
			}
			key, err := r.bytes(int(keyLen))
			if err != nil {
				return nil, err
			}
			m, err := c.community.Members().GetOrCreate(key)
			if err != nil {
				return nil, message.NewDropPacket("invalid public key: %v", err)
			}
			candidates = []*member.Member{m}
		} else {
			mid, err := r.mid()
			if err != nil {
				return nil, err
			}
			candidates, err = c.membersByMid(mid)
			if err != nil {
				return nil, err
			}
		}
		chosen, sig, err := c.verifySingle(packet, candidates, opts)
		if err != nil {
			return nil, err
		}
		impl, err := policy.Implement(chosen, sig)
		if err != nil {
			return nil, message.NewDropPacket("%v", err)
		}
		auth, sigSize = impl, chosen.SignatureLength()

	case message.MultiMemberAuthentication:
		candidates := make([][]*member.Member, policy.Count)
		for idx := range candidates {
			mid, err := r.mid()
			if err != nil {
				return nil, err
			}
			if candidates[idx], err = c.membersByMid(mid); err != nil {
				return nil, err
			}
		}
		members, signatures, err := c.verifyMulti(packet, candidates, opts)
		if err != nil {
			return nil, err
		}
		impl, err := policy.Implement(members, signatures)
		if err != nil {
			return nil, message.NewDropPacket("%v", err)
		}
		auth = impl
		for _, m := range members {
			sigSize += m.SignatureLength()
		}

	default:
		return nil, message.NewDropPacket("unknown authentication %T", meta.Authentication)
	}

	if len(packet)-sigSize < r.offset {
		return nil, message.NewDropPacket("packet too short for signatures")
	}
	r.data = packet[:len(packet)-sigSize]

	dist, err := decodeDistribution(meta, r)
	if err != nil {
		return nil, err
	}

	payload, err := c.codecs[meta.Name].Decode(c, r.rest())
	if err != nil {
		if _, ok := err.(*message.DelayPacket); ok {
			return nil, err
		}
		if _, ok := err.(*message.DropPacket); ok {
			return nil, err
		}
		return nil, message.NewDropPacket("invalid %s payload: %v", meta.Name, err)
	}

	var dest message.DestinationImpl
	switch policy := meta.Destination.(type) {
	case message.AddressDestination:
		dest = policy.Implement()
	case message.MemberDestination:
		dest = policy.Implement()
	case message.CommunityDestination:
		dest = policy.Implement()
	case message.SubjectiveDestination:
		dest = policy.Implement(c.community.IsSubjectivelyValid(policy.Cluster, auth.Creator()))
	case message.SimilarityDestination:
		dest = policy.Implement(c.community.IsSimilar(meta, auth.Creator(), payload))
	default:
		return nil, message.NewDropPacket("unknown destination %T", meta.Destination)
	}

	msg, err := meta.Impl(auth, dist, dest, payload)
	if err != nil {
		return nil, message.NewDropPacket("%v", err)
	}
	msg.Packet = packet
	msg.Source = source
	return msg, nil
}

func (c *Conversion) membersByMid(mid common.Mid) ([]*member.Member, error) {
	members, err := c.community.Members().GetByMid(mid)
	if err != nil {
		return nil, message.NewDropPacket("member lookup failed: %v", err)
	}
	if len(members) == 0 {
		return nil, message.DelayPacketByMissingMember(c.community.CID(), mid)
	}
	return members, nil
}

// verifySingle picks the candidate whose signature verifies.
func (c *Conversion) verifySingle(packet []byte, candidates []*member.Member, opts DecodeOptions) (*member.Member, []byte, error) {
	for _, m := range candidates {
		size := m.SignatureLength()
		if len(packet) < HeaderSize+size {
			continue
		}
		body, sig := packet[:len(packet)-size], packet[len(packet)-size:]
		if !isSigned(sig) {
			if opts.AllowUnsigned {
				return m, nil, nil
			}
			continue
		}
		if m.Verify(body, sig) {
			return m, sig, nil
		}
	}
	return nil, nil, message.NewDropPacket("invalid signature")
}

// verifyMulti tries the member combinations until every present signature
// verifies. Missing signatures are only accepted with AllowUnsigned.
func (c *Conversion) verifyMulti(packet []byte, candidates [][]*member.Member, opts DecodeOptions) ([]*member.Member, [][]byte, error) {
	chosen := make([]*member.Member, len(candidates))
	tried := 0

	var try func(idx int) ([][]byte, bool)
	try = func(idx int) ([][]byte, bool) {
		if idx < len(candidates) {
			for _, m := range candidates[idx] {
				chosen[idx] = m
				if sigs, ok := try(idx + 1); ok {
					return sigs, true
				}
				if tried >= maxCandidateCombinations {
					return nil, false
				}
			}
			return nil, false
		}

		tried++
		total := 0
		for _, m := range chosen {
			total += m.SignatureLength()
		}
		if len(packet) < HeaderSize+total {
			return nil, false
		}
		body := packet[:len(packet)-total]
		offset := len(body)
		sigs := make([][]byte, len(chosen))
		for i, m := range chosen {
			sig := packet[offset : offset+m.SignatureLength()]
			offset += m.SignatureLength()
			if !isSigned(sig) {
				if !opts.AllowUnsigned {
					return nil, false
				}
				continue
			}
			if !m.Verify(body, sig) {
				return nil, false
			}
			sigs[i] = sig
		}
		return sigs, true
	}

	sigs, ok := try(0)
	if !ok {
		return nil, nil, message.NewDropPacket("invalid signature")
	}
	return append([]*member.Member(nil), chosen...), sigs, nil
}

func decodeDistribution(meta *message.Meta, r *reader) (message.DistributionImpl, error) {
	globalTime, err := r.uint64()
	if err != nil {
		return nil, err
	}
	if globalTime == 0 {
		return nil, message.NewDropPacket("global time must be positive")
	}

	var seq uint32
	if d, ok := meta.SyncDistribution(); ok && d.SequenceEnabled() {
		if seq, err = r.uint32(); err != nil {
			return nil, err
		}
	}

	switch policy := meta.Distribution.(type) {
	case message.DirectDistribution:
		return policy.Implement(globalTime), nil
	case message.FullSyncDistribution:
		impl, err := policy.Implement(globalTime, seq)
		if err != nil {
			return nil, message.NewDropPacket("%v", err)
		}
		return impl, nil
	case message.LastSyncDistribution:
		impl, err := policy.Implement(globalTime, seq)
		if err != nil {
			return nil, message.NewDropPacket("%v", err)
		}
		return impl, nil
	}
	return nil, message.NewDropPacket("unknown distribution %T", meta.Distribution)
}

// BodyEnd returns the offset where the signatures of msg start.
func BodyEnd(msg *message.Message) int {
	total := 0
	for _, m := range msg.Members() {
		total += m.SignatureLength()
	}
	return len(msg.Packet) - total
}

func isSigned(sig []byte) bool {
	for _, b := range sig {
		if b != 0 {
			return true
		}
	}
	return false
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
