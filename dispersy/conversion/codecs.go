/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package conversion

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/bloom"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/member"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/payload"
)

// Meta message bytes of the built-in messages. Community messages are
// numbered upwards from 1.
var builtinBytes = map[string]byte{
	message.CandidateRequestName:     255,
	message.CandidateResponseName:    254,
	message.IdentityName:             253,
	message.IdentityRequestName:      252,
	message.SyncName:                 251,
	message.SignatureRequestName:     250,
	message.SignatureResponseName:    249,
	message.AuthorizeName:            248,
	message.RevokeName:               247,
	message.MissingSequenceName:      246,
	message.DestroyCommunityName:     245,
	message.SubjectiveSetName:        244,
	message.SubjectiveSetRequestName: 243,
	message.MissingProofName:         242,
}

var builtinCodecs = map[string]Codec{
	message.CandidateRequestName:     {encodeCandidateRequest, decodeCandidateRequest},
	message.CandidateResponseName:    {encodeCandidateResponse, decodeCandidateResponse},
	message.IdentityName:             {encodeIdentity, decodeIdentity},
	message.IdentityRequestName:      {encodeIdentityRequest, decodeIdentityRequest},
	message.SyncName:                 {encodeSync, decodeSync},
	message.SignatureRequestName:     {encodeSignatureRequest, decodeSignatureRequest},
	message.SignatureResponseName:    {encodeSignatureResponse, decodeSignatureResponse},
	message.AuthorizeName:            {encodeAuthorize, decodeAuthorize},
	message.RevokeName:               {encodeRevoke, decodeRevoke},
	message.MissingSequenceName:      {encodeMissingSequence, decodeMissingSequence},
	message.DestroyCommunityName:     {encodeDestroyCommunity, decodeDestroyCommunity},
	message.SubjectiveSetName:        {encodeSubjectiveSet, decodeSubjectiveSet},
	message.SubjectiveSetRequestName: {encodeSubjectiveSetRequest, decodeSubjectiveSetRequest},
	message.MissingProofName:         {encodeMissingProof, decodeMissingProof},
}

// TextCodec encodes payload.Text as raw UTF-8.
var TextCodec = Codec{
	Encode: func(_ *Conversion, p interface{}) ([]byte, error) {
		text, ok := p.(*payload.Text)
		if !ok {
			return nil, unexpected(p)
		}
		return []byte(text.Text), nil
	},
	Decode: func(_ *Conversion, data []byte) (interface{}, error) {
		return &payload.Text{Text: string(data)}, nil
	},
}

// RawCodec encodes payload.Raw as is.
var RawCodec = Codec{
	Encode: func(_ *Conversion, p interface{}) ([]byte, error) {
		raw, ok := p.(*payload.Raw)
		if !ok {
			return nil, unexpected(p)
		}
		return raw.Data, nil
	},
	Decode: func(_ *Conversion, data []byte) (interface{}, error) {
		return &payload.Raw{Data: append([]byte(nil), data...)}, nil
	},
}

// IsBuiltin reports whether name is one of the built-in messages.
func IsBuiltin(name string) bool {
	_, ok := builtinBytes[name]
	return ok
}

// DefineBuiltin registers a built-in meta with its fixed byte and codec.
func (c *Conversion) DefineBuiltin(meta *message.Meta) error {
	b, ok := builtinBytes[meta.Name]
	if !ok {
		return errors.Errorf("%s is not a built-in message", meta.Name)
	}
	return c.Define(meta, b, builtinCodecs[meta.Name])
}

// DefineCommunity numbers the community metas from 1 in the given order.
// Metas without a codec get RawCodec.
func (c *Conversion) DefineCommunity(metas []*message.Meta, codecs map[string]Codec) error {
	if len(metas) > int(builtinBytes[message.MissingProofName])-1 {
		return errors.Errorf("too many community messages (%d)", len(metas))
	}
	for idx, meta := range metas {
		codec, ok := codecs[meta.Name]
		if !ok {
			codec = RawCodec
		}
		if err := c.Define(meta, byte(idx+1), codec); err != nil {
			return err
		}
	}
	return nil
}

func unexpected(p interface{}) error {
	return errors.Errorf("unexpected payload type %T", p)
}

func encodeIdentity(_ *Conversion, p interface{}) ([]byte, error) {
	identity, ok := p.(*payload.Identity)
	if !ok {
		return nil, unexpected(p)
	}
	return appendAddress(nil, identity.Address), nil
}

func decodeIdentity(_ *Conversion, data []byte) (interface{}, error) {
	r := &reader{data: data}
	addr, err := r.address()
	if err != nil {
		return nil, err
	}
	return &payload.Identity{Address: addr}, nil
}

func encodeIdentityRequest(_ *Conversion, p interface{}) ([]byte, error) {
	req, ok := p.(*payload.IdentityRequest)
	if !ok {
		return nil, unexpected(p)
	}
	return req.Mid.Bytes(), nil
}

func decodeIdentityRequest(_ *Conversion, data []byte) (interface{}, error) {
	r := &reader{data: data}
	mid, err := r.mid()
	if err != nil {
		return nil, err
	}
	return &payload.IdentityRequest{Mid: mid}, nil
}

func appendIntroduction(dst []byte, src, dest common.Address, version [2]byte, routes []payload.Route) ([]byte, error) {
	if len(routes) > 255 {
		return nil, errors.Errorf("too many routes (%d)", len(routes))
	}
	dst = appendAddress(dst, src)
	dst = appendAddress(dst, dest)
	dst = append(dst, version[:]...)
	dst = append(dst, byte(len(routes)))
	for _, route := range routes {
		dst = appendAddress(dst, route.Address)
		dst = binary.BigEndian.AppendUint16(dst, route.Age)
	}
	return dst, nil
}

func readIntroduction(r *reader) (src, dest common.Address, version [2]byte, routes []payload.Route, err error) {
	if src, err = r.address(); err != nil {
		return
	}
	if dest, err = r.address(); err != nil {
		return
	}
	var v []byte
	if v, err = r.bytes(2); err != nil {
		return
	}
	copy(version[:], v)
	var count byte
	if count, err = r.byte(); err != nil {
		return
	}
	routes = make([]payload.Route, 0, count)
	for i := 0; i < int(count); i++ {
		var route payload.Route
		if route.Address, err = r.address(); err != nil {
			return
		}
		if route.Age, err = r.uint16(); err != nil {
			return
		}
		routes = append(routes, route)
	}
	if r.remaining() != 0 {
		err = message.NewDropPacket("trailing bytes after routes")
	}
	return
}

func encodeCandidateRequest(_ *Conversion, p interface{}) ([]byte, error) {
	req, ok := p.(*payload.CandidateRequest)
	if !ok {
		return nil, unexpected(p)
	}
	return appendIntroduction(nil, req.SourceAddress, req.DestinationAddress, req.ConversionVersion, req.Routes)
}

func decodeCandidateRequest(_ *Conversion, data []byte) (interface{}, error) {
	src, dest, version, routes, err := readIntroduction(&reader{data: data})
	if err != nil {
		return nil, err
	}
	return &payload.CandidateRequest{
		SourceAddress:      src,
		DestinationAddress: dest,
		ConversionVersion:  version,
		Routes:             routes,
	}, nil
}

func encodeCandidateResponse(_ *Conversion, p interface{}) ([]byte, error) {
	resp, ok := p.(*payload.CandidateResponse)
	if !ok {
		return nil, unexpected(p)
	}
	return appendIntroduction(resp.RequestIdentifier[:], resp.SourceAddress, resp.DestinationAddress, resp.ConversionVersion, resp.Routes)
}

func decodeCandidateResponse(_ *Conversion, data []byte) (interface{}, error) {
	r := &reader{data: data}
	id, err := r.bytes(len(payload.Identifier{}))
	if err != nil {
		return nil, err
	}
	src, dest, version, routes, err := readIntroduction(r)
	if err != nil {
		return nil, err
	}
	resp := &payload.CandidateResponse{
		SourceAddress:      src,
		DestinationAddress: dest,
		ConversionVersion:  version,
		Routes:             routes,
	}
	copy(resp.RequestIdentifier[:], id)
	return resp, nil
}

func encodeSync(_ *Conversion, p interface{}) ([]byte, error) {
	sync, ok := p.(*payload.Sync)
	if !ok {
		return nil, unexpected(p)
	}
	if sync.TimeHigh != 0 && sync.TimeHigh < sync.TimeLow {
		return nil, errors.Errorf("invalid sync range [%d, %d]", sync.TimeLow, sync.TimeHigh)
	}
	filter, err := sync.Bloom.Bytes()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 16+len(filter))
	buf = binary.BigEndian.AppendUint64(buf, sync.TimeLow)
	buf = binary.BigEndian.AppendUint64(buf, sync.TimeHigh)
	return append(buf, filter...), nil
}

func decodeSync(_ *Conversion, data []byte) (interface{}, error) {
	r := &reader{data: data}
	low, err := r.uint64()
	if err != nil {
		return nil, err
	}
	high, err := r.uint64()
	if err != nil {
		return nil, err
	}
	if low == 0 || (high != 0 && high < low) {
		return nil, message.NewDropPacket("invalid sync range [%d, %d]", low, high)
	}
	filter, err := bloom.FromBytes(r.rest())
	if err != nil {
		return nil, message.NewDropPacket("invalid bloom filter: %v", err)
	}
	return &payload.Sync{TimeLow: low, TimeHigh: high, Bloom: filter}, nil
}

func encodeSignatureRequest(c *Conversion, p interface{}) ([]byte, error) {
	req, ok := p.(*payload.SignatureRequest)
	if !ok {
		return nil, unexpected(p)
	}
	if req.Message.Packet != nil {
		return req.Message.Packet, nil
	}
	return c.Encode(req.Message, false)
}

func decodeSignatureRequest(c *Conversion, data []byte) (interface{}, error) {
	embedded, err := c.DecodeMessage(common.ZeroAddress, data, DecodeOptions{AllowUnsigned: true})
	if err != nil {
		return nil, err
	}
	if _, ok := embedded.Meta.Authentication.(message.MultiMemberAuthentication); !ok {
		return nil, message.NewDropPacket("signature request for %s, which is not multi member", embedded.Name())
	}
	return &payload.SignatureRequest{Message: embedded}, nil
}

func encodeSignatureResponse(_ *Conversion, p interface{}) ([]byte, error) {
	resp, ok := p.(*payload.SignatureResponse)
	if !ok {
		return nil, unexpected(p)
	}
	return append(resp.Identifier[:], resp.Signature...), nil
}

func decodeSignatureResponse(_ *Conversion, data []byte) (interface{}, error) {
	r := &reader{data: data}
	id, err := r.bytes(len(payload.Identifier{}))
	if err != nil {
		return nil, err
	}
	resp := &payload.SignatureResponse{Signature: append([]byte(nil), r.rest()...)}
	copy(resp.Identifier[:], id)
	return resp, nil
}

// Permission triplets are grouped per member: key length, key, the number
// of metas, then one (meta byte, permission bits) pair per meta.
func encodeTriplets(c *Conversion, triplets []message.Triplet) ([]byte, error) {
	type grant struct {
		member *member.Member
		metas  []byte
		bits   map[byte]message.Permission
	}
	var grants []*grant
	index := map[common.Mid]*grant{}
	for _, t := range triplets {
		b, ok := c.MetaByte(t.Meta)
		if !ok {
			return nil, errors.Errorf("meta message %s is not defined in this conversion", t.Meta.Name)
		}
		g, ok := index[t.Member.Mid()]
		if !ok {
			g = &grant{member: t.Member, bits: map[byte]message.Permission{}}
			index[t.Member.Mid()] = g
			grants = append(grants, g)
		}
		if _, ok := g.bits[b]; !ok {
			g.metas = append(g.metas, b)
		}
		g.bits[b] |= t.Permission
	}

	var buf []byte
	for _, g := range grants {
		key := g.member.PublicKey()
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(key)))
		buf = append(buf, key...)
		buf = append(buf, byte(len(g.metas)))
		for _, b := range g.metas {
			buf = append(buf, b, byte(g.bits[b]))
		}
	}
	return buf, nil
}

func decodeTriplets(c *Conversion, data []byte) ([]message.Triplet, error) {
	r := &reader{data: data}
	var triplets []message.Triplet
	for r.remaining() > 0 {
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
			return nil, message.NewDropPacket("invalid public key in permission: %v", err)
		}
		count, err := r.byte()
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(count); i++ {
			pair, err := r.bytes(2)
			if err != nil {
				return nil, err
			}
			meta, ok := c.MetaForByte(pair[0])
			if !ok {
				return nil, message.NewDropPacket("permission for unknown meta byte %d", pair[0])
			}
			bits := message.Permission(pair[1])
			if bits == 0 || bits&^(message.Permit|message.Authorize|message.Revoke) != 0 {
				return nil, message.NewDropPacket("invalid permission bits %#x", pair[1])
			}
			for _, p := range message.Permissions {
				if bits&p != 0 {
					triplets = append(triplets, message.Triplet{Member: m, Meta: meta, Permission: p})
				}
			}
		}
	}
	if len(triplets) == 0 {
		return nil, message.NewDropPacket("no permissions")
	}
	return triplets, nil
}

func encodeAuthorize(c *Conversion, p interface{}) ([]byte, error) {
	auth, ok := p.(*payload.Authorize)
	if !ok {
		return nil, unexpected(p)
	}
	return encodeTriplets(c, auth.Permissions)
}

func decodeAuthorize(c *Conversion, data []byte) (interface{}, error) {
	triplets, err := decodeTriplets(c, data)
	if err != nil {
		return nil, err
	}
	return &payload.Authorize{Permissions: triplets}, nil
}

func encodeRevoke(c *Conversion, p interface{}) ([]byte, error) {
	revoke, ok := p.(*payload.Revoke)
	if !ok {
		return nil, unexpected(p)
	}
	return encodeTriplets(c, revoke.Permissions)
}

func decodeRevoke(c *Conversion, data []byte) (interface{}, error) {
	triplets, err := decodeTriplets(c, data)
	if err != nil {
		return nil, err
	}
	return &payload.Revoke{Permissions: triplets}, nil
}

func encodeMissingSequence(c *Conversion, p interface{}) ([]byte, error) {
	req, ok := p.(*payload.MissingSequence)
	if !ok {
		return nil, unexpected(p)
	}
	b, ok := c.MetaByte(req.Meta)
	if !ok {
		return nil, errors.Errorf("meta message %s is not defined in this conversion", req.Meta.Name)
	}
	buf := append(req.Mid.Bytes(), b)
	buf = binary.BigEndian.AppendUint32(buf, req.Low)
	return binary.BigEndian.AppendUint32(buf, req.High), nil
}

func decodeMissingSequence(c *Conversion, data []byte) (interface{}, error) {
	r := &reader{data: data}
	mid, err := r.mid()
	if err != nil {
		return nil, err
	}
	b, err := r.byte()
	if err != nil {
		return nil, err
	}
	meta, ok := c.MetaForByte(b)
	if !ok {
		return nil, message.NewDropPacket("missing sequence for unknown meta byte %d", b)
	}
	low, err := r.uint32()
	if err != nil {
		return nil, err
	}
	high, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if low == 0 || high < low {
		return nil, message.NewDropPacket("invalid missing sequence range [%d, %d]", low, high)
	}
	return &payload.MissingSequence{Mid: mid, Meta: meta, Low: low, High: high}, nil
}

func encodeMissingProof(_ *Conversion, p interface{}) ([]byte, error) {
	req, ok := p.(*payload.MissingProof)
	if !ok {
		return nil, unexpected(p)
	}
	return binary.BigEndian.AppendUint64(req.Mid.Bytes(), req.GlobalTime), nil
}

func decodeMissingProof(_ *Conversion, data []byte) (interface{}, error) {
	r := &reader{data: data}
	mid, err := r.mid()
	if err != nil {
		return nil, err
	}
	gt, err := r.uint64()
	if err != nil {
		return nil, err
	}
	return &payload.MissingProof{Mid: mid, GlobalTime: gt}, nil
}

func encodeDestroyCommunity(_ *Conversion, p interface{}) ([]byte, error) {
	destroy, ok := p.(*payload.DestroyCommunity)
	if !ok {
		return nil, unexpected(p)
	}
	return []byte{byte(destroy.Degree)}, nil
}

func decodeDestroyCommunity(_ *Conversion, data []byte) (interface{}, error) {
	if len(data) != 1 {
		return nil, message.NewDropPacket("invalid destroy community payload length %d", len(data))
	}
	degree := payload.Degree(data[0])
	if degree != payload.SoftKill && degree != payload.HardKill {
		return nil, message.NewDropPacket("invalid destroy degree %q", data[0])
	}
	return &payload.DestroyCommunity{Degree: degree}, nil
}

func encodeSubjectiveSet(_ *Conversion, p interface{}) ([]byte, error) {
	set, ok := p.(*payload.SubjectiveSet)
	if !ok {
		return nil, unexpected(p)
	}
	filter, err := set.Members.Bytes()
	if err != nil {
		return nil, err
	}
	return append([]byte{set.Cluster}, filter...), nil
}

func decodeSubjectiveSet(_ *Conversion, data []byte) (interface{}, error) {
	r := &reader{data: data}
	cluster, err := r.byte()
	if err != nil {
		return nil, err
	}
	filter, err := bloom.FromBytes(r.rest())
	if err != nil {
		return nil, message.NewDropPacket("invalid bloom filter: %v", err)
	}
	return &payload.SubjectiveSet{Cluster: cluster, Members: filter}, nil
}

func encodeSubjectiveSetRequest(_ *Conversion, p interface{}) ([]byte, error) {
	req, ok := p.(*payload.SubjectiveSetRequest)
	if !ok {
		return nil, unexpected(p)
	}
	buf := []byte{req.Cluster}
	for _, mid := range req.Mids {
		buf = append(buf, mid[:]...)
	}
	return buf, nil
}

func decodeSubjectiveSetRequest(_ *Conversion, data []byte) (interface{}, error) {
	r := &reader{data: data}
	cluster, err := r.byte()
	if err != nil {
		return nil, err
	}
	if r.remaining() == 0 || r.remaining()%common.IDLength != 0 {
		return nil, message.NewDropPacket("invalid subjective set request length %d", len(data))
	}
	req := &payload.SubjectiveSetRequest{Cluster: cluster}
	for r.remaining() > 0 {
		mid, _ := r.mid()
		req.Mids = append(req.Mids, mid)
	}
	return req, nil
}
