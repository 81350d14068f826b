/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package message

import (
	"fmt"

	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/member"
)

// DropPacket rejects a packet permanently while decoding.
type DropPacket struct {
	Reason string
}

func (e *DropPacket) Error() string { return "drop packet: " + e.Reason }

// NewDropPacket creates a DropPacket with a formatted reason.
func NewDropPacket(format string, args ...interface{}) *DropPacket {
	return &DropPacket{Reason: fmt.Sprintf(format, args...)}
}

// DelayPacket postpones a packet until a message matching Pattern arrives.
// The packet is decoded again from scratch on match.
type DelayPacket struct {
	Reason  string
	Pattern string
	// Request asks the source for what is missing.
	Request Request
}

func (e *DelayPacket) Error() string { return "delay packet: " + e.Reason }

// DelayPacketByMissingMember waits for the identity of mid.
func DelayPacketByMissingMember(cid common.CID, mid common.Mid) *DelayPacket {
	return &DelayPacket{
		Reason:  "unknown member " + mid.String(),
		Pattern: IdentityPattern(cid, mid),
		Request: &IdentityRequest{Mid: mid},
	}
}

// DropMessage rejects a decoded message permanently.
type DropMessage struct {
	Dropped *Message
	Reason  string
}

func (e *DropMessage) Error() string { return "drop message: " + e.Reason }

func NewDropMessage(dropped *Message, format string, args ...interface{}) *DropMessage {
	return &DropMessage{Dropped: dropped, Reason: fmt.Sprintf(format, args...)}
}

// DelayMessage postpones a decoded message until a message matching
// Pattern arrives. Delayed re-enters the batch pipeline on match.
type DelayMessage struct {
	Reason  string
	Pattern string
	Delayed *Message
	Request Request
}

func (e *DelayMessage) Error() string { return "delay message: " + e.Reason }

// DelayMessageBySequence waits for the sequence numbers low..high of the
// delayed message's creator.
func DelayMessageBySequence(delayed *Message, low, high uint32) *DelayMessage {
	creator := delayed.Creator()
	return &DelayMessage{
		Reason:  fmt.Sprintf("missing sequence numbers %d-%d", low, high),
		Pattern: SequencePattern(delayed.Meta, creator.Mid(), high),
		Delayed: delayed,
		Request: &MissingSequenceRequest{Member: creator, Meta: delayed.Meta, Low: low, High: high},
	}
}

// DelayMessageBySubjectiveSet waits for the subjective set of member for
// cluster.
func DelayMessageBySubjectiveSet(delayed *Message, m *member.Member, cluster uint8) *DelayMessage {
	return &DelayMessage{
		Reason:  fmt.Sprintf("missing subjective set for cluster %d", cluster),
		Pattern: SubjectiveSetPattern(delayed.Meta.CID, m.Mid(), cluster),
		Delayed: delayed,
		Request: &SubjectiveSetRequest{Member: m, Cluster: cluster},
	}
}

// DelayMessageByProof waits for an authorize message that may grant the
// creator the permission the timeline denied.
func DelayMessageByProof(delayed *Message) *DelayMessage {
	return &DelayMessage{
		Reason:  "missing proof",
		Pattern: ProofPattern(delayed.Meta.CID),
		Delayed: delayed,
		Request: &MissingProofRequest{Member: delayed.Creator(), GlobalTime: delayed.GlobalTime()},
	}
}

// Request describes what a delayed packet or message waits for. The
// overlay turns it into the matching control message.
type Request interface {
	request()
}

// IdentityRequest asks for the identity of Mid.
type IdentityRequest struct {
	Mid common.Mid
}

// MissingSequenceRequest asks for Member's messages of Meta with sequence
// numbers Low..High.
type MissingSequenceRequest struct {
	Member *member.Member
	Meta   *Meta
	Low    uint32
	High   uint32
}

// SubjectiveSetRequest asks for Member's subjective set of Cluster.
type SubjectiveSetRequest struct {
	Member  *member.Member
	Cluster uint8
}

// MissingProofRequest asks for the permission history that allows Member
// to create messages at GlobalTime.
type MissingProofRequest struct {
	Member     *member.Member
	GlobalTime uint64
}

func (*IdentityRequest) request()        {}
func (*MissingSequenceRequest) request() {}
func (*SubjectiveSetRequest) request()   {}
func (*MissingProofRequest) request()    {}
