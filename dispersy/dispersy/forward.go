/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispersy

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/member"
	"github.com/tribler/dispersy/dispersy/message"
)

// forward sends messages to their destinations. Messages that go to
// community candidates share one candidate selection, which never
// includes the peers the messages came from.
func (c *Community) forward(msgs []*message.Message) {
	var (
		broadcast [][]byte
		nodeCount int
	)
	exclude := mapset.NewThreadUnsafeSet[common.Address]()

	for _, msg := range msgs {
		if msg.Packet == nil {
			continue
		}
		if msg.Source != (common.Address{}) {
			exclude.Add(msg.Source)
		}
		switch dest := msg.Destination.(type) {
		case *message.AddressDestinationImpl:
			c.d.sendPackets(c, dest.Addresses, [][]byte{msg.Packet})
		case *message.MemberDestinationImpl:
			c.d.sendPackets(c, c.memberAddresses(dest.Members), [][]byte{msg.Packet})
		case *message.CommunityDestinationImpl:
			broadcast = append(broadcast, msg.Packet)
			nodeCount = max(nodeCount, dest.NodeCount())
		case *message.SubjectiveDestinationImpl:
			broadcast = append(broadcast, msg.Packet)
			nodeCount = max(nodeCount, dest.NodeCount())
		case *message.SimilarityDestinationImpl:
			broadcast = append(broadcast, msg.Packet)
			nodeCount = max(nodeCount, dest.NodeCount())
		default:
			c.logger.Warningf("cannot forward %s with destination %T", msg.Name(), msg.Destination)
		}
	}

	if len(broadcast) > 0 {
		addrs := c.selectCandidates(nodeCount, exclude)
		if len(addrs) == 0 {
			c.d.candidateLogger.Debugf("no candidates to forward %d packets to", len(broadcast))
			return
		}
		c.d.sendPackets(c, addrs, broadcast)
	}
}

func (c *Community) memberAddresses(members []*member.Member) []common.Address {
	var addrs []common.Address
	for _, m := range members {
		if member.Equal(m, c.my) || m.MustBlacklist() {
			continue
		}
		addr := m.Address()
		if !addr.IsValid() {
			c.logger.Debugf("%s has no valid address", m)
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}
