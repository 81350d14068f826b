/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package message

import (
	"strings"

	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/member"
)

// Footprinter is implemented by payloads that contribute to the message
// footprint.
type Footprinter interface {
	Footprint() string
}

// Message is one concrete message: a meta together with the implementation
// of each of its policies, a payload and the encoded packet.
type Message struct {
	Meta           *Meta
	Authentication AuthenticationImpl
	Resolution     ResolutionImpl
	Distribution   DistributionImpl
	Destination    DestinationImpl
	Payload        interface{}

	// Packet is set once the message is encoded or when it was decoded
	// from the network.
	Packet []byte
	// PacketID is the sync row id after the message was stored.
	PacketID int64
	// Source is the address the packet was received from. It is the zero
	// address for messages created locally.
	Source common.Address
}

func (m *Message) Name() string { return m.Meta.Name }

func (m *Message) GlobalTime() uint64 { return m.Distribution.GlobalTime() }

// SequenceNumber returns 0 when the distribution has no sequence number.
func (m *Message) SequenceNumber() uint32 {
	if s, ok := m.Distribution.(SequencedImpl); ok {
		return s.SequenceNumber()
	}
	return 0
}

// Creator returns the first signer or nil for unsigned messages.
func (m *Message) Creator() *member.Member { return m.Authentication.Creator() }

// Members returns every signer of the message.
func (m *Message) Members() []*member.Member {
	switch auth := m.Authentication.(type) {
	case *MemberAuthenticationImpl:
		return []*member.Member{auth.Member()}
	case *MultiMemberAuthenticationImpl:
		return auth.Members()
	}
	return nil
}

// Footprint summarizes the message for trigger matching:
//
//	<name> Community:<cid> <authentication> <resolution> <distribution> <destination> <payload>
func (m *Message) Footprint() string {
	parts := []string{
		m.Meta.Name,
		"Community:" + m.Meta.CID.String(),
		m.Authentication.Footprint(),
		m.Resolution.Footprint(),
		m.Distribution.Footprint(),
		m.Destination.Footprint(),
	}
	if f, ok := m.Payload.(Footprinter); ok {
		parts = append(parts, f.Footprint())
	} else {
		parts = append(parts, "Payload")
	}
	return strings.Join(parts, " ")
}

func (m *Message) String() string {
	return m.Footprint()
}
