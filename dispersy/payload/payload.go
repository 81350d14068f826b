/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package payload defines the payloads of the built-in dispersy messages.
package payload

import (
	"encoding/hex"
	"fmt"

	"github.com/tribler/dispersy/dispersy/bloom"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/member"
)

// Identifier is the SHA1 digest of a request packet, used to correlate
// responses.
type Identifier [20]byte

func (i Identifier) String() string { return hex.EncodeToString(i[:]) }

// Identity announces the creator's external address.
type Identity struct {
	Address common.Address
}

// IdentityRequest asks for the identities of every member with Mid.
type IdentityRequest struct {
	Mid common.Mid
}

func (p *IdentityRequest) Footprint() string { return "IdentityRequest:" + p.Mid.String() }

// Route is a candidate address with the seconds since we last heard from it.
type Route struct {
	Address common.Address
	Age     uint16
}

// CandidateRequest introduces the sender to a peer.
type CandidateRequest struct {
	SourceAddress      common.Address
	DestinationAddress common.Address
	ConversionVersion  [2]byte
	Routes             []Route
}

// CandidateResponse answers a CandidateRequest.
type CandidateResponse struct {
	RequestIdentifier  Identifier
	SourceAddress      common.Address
	DestinationAddress common.Address
	ConversionVersion  [2]byte
	Routes             []Route
}

func (p *CandidateResponse) Footprint() string {
	return "CandidateResponse:" + p.RequestIdentifier.String()
}

// Sync advertises which stored packets in [TimeLow, TimeHigh] the sender
// has. TimeHigh 0 means no upper bound.
type Sync struct {
	TimeLow  uint64
	TimeHigh uint64
	Bloom    *bloom.Filter
}

// InRange reports whether globalTime falls in the advertised window.
func (p *Sync) InRange(globalTime uint64) bool {
	return globalTime >= p.TimeLow && (p.TimeHigh == 0 || globalTime <= p.TimeHigh)
}

// SignatureRequest asks the other members of a multi member message to
// sign it.
type SignatureRequest struct {
	Message *message.Message
}

// SignatureResponse carries one signature for the request identified by
// Identifier.
type SignatureResponse struct {
	Identifier Identifier
	Signature  []byte
}

func (p *SignatureResponse) Footprint() string { return "SignatureResponse:" + p.Identifier.String() }

// Authorize grants the permissions in Permissions.
type Authorize struct {
	Permissions []message.Triplet
}

func (p *Authorize) Triplets() []message.Triplet { return p.Permissions }

// Revoke withdraws the permissions in Permissions.
type Revoke struct {
	Permissions []message.Triplet
}

func (p *Revoke) Triplets() []message.Triplet { return p.Permissions }

// MissingSequence asks for the messages of Meta by members with Mid with
// sequence numbers Low..High.
type MissingSequence struct {
	Mid  common.Mid
	Meta *message.Meta
	Low  uint32
	High uint32
}

func (p *MissingSequence) Footprint() string {
	return fmt.Sprintf("MissingSequence:%s,%s,%d,%d", p.Mid, p.Meta.Name, p.Low, p.High)
}

// MissingProof asks for the permission history of members with Mid up to
// GlobalTime.
type MissingProof struct {
	Mid        common.Mid
	GlobalTime uint64
}

// Degree of a community destruction.
type Degree byte

const (
	SoftKill Degree = 's'
	HardKill Degree = 'h'
)

func (d Degree) String() string {
	switch d {
	case SoftKill:
		return "soft-kill"
	case HardKill:
		return "hard-kill"
	}
	return "unknown"
}

// DestroyCommunity ends a community.
type DestroyCommunity struct {
	Degree Degree
}

// SubjectiveSet is the Bloom filter over the public keys of the members the
// creator keeps for Cluster.
type SubjectiveSet struct {
	Cluster uint8
	Members *bloom.Filter
}

func (p *SubjectiveSet) Footprint() string { return fmt.Sprintf("SubjectiveSet:Cluster%d", p.Cluster) }

// Contains reports whether m is in the set.
func (p *SubjectiveSet) Contains(m *member.Member) bool {
	return p.Members.Contains(m.PublicKey())
}

// SubjectiveSetRequest asks for the subjective sets of Mids for Cluster.
type SubjectiveSetRequest struct {
	Cluster uint8
	Mids    []common.Mid
}

// Text is a free form payload for application messages.
type Text struct {
	Text string
}

// Raw is an opaque payload for application messages.
type Raw struct {
	Data []byte
}
