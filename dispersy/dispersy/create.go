/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispersy

import (
	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/bloom"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/member"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/payload"
	"github.com/tribler/dispersy/dispersy/timeline"
)

const (
	subjectiveSetCapacity  = 100
	subjectiveSetErrorRate = 0.01
)

type createOptions struct {
	members            []*member.Member
	addresses          []common.Address
	destinationMembers []*member.Member
	globalTime         uint64
	forward            bool
}

// CreateOption tunes CreateMessage.
type CreateOption func(*createOptions)

// WithMember signs the message as m instead of the community's own member.
func WithMember(m *member.Member) CreateOption {
	return func(o *createOptions) { o.members = []*member.Member{m} }
}

// WithMembers lists the signers of a multi member message.
func WithMembers(members ...*member.Member) CreateOption {
	return func(o *createOptions) { o.members = members }
}

// WithAddresses sets the addresses of an AddressDestination.
func WithAddresses(addrs ...common.Address) CreateOption {
	return func(o *createOptions) { o.addresses = addrs }
}

// WithDestinationMembers sets the members of a MemberDestination.
func WithDestinationMembers(members ...*member.Member) CreateOption {
	return func(o *createOptions) { o.destinationMembers = members }
}

// WithGlobalTime uses globalTime instead of claiming the next global time.
func WithGlobalTime(globalTime uint64) CreateOption {
	return func(o *createOptions) { o.globalTime = globalTime }
}

// WithoutForward stores the message without sending it.
func WithoutForward() CreateOption {
	return func(o *createOptions) { o.forward = false }
}

// CreateMessage creates, signs, stores and forwards a message of meta. A
// multi member message that still lacks signatures of members without a
// private key is returned without being stored; see CreateSignatureRequest.
func (c *Community) CreateMessage(meta *message.Meta, p interface{}, opts ...CreateOption) (*message.Message, error) {
	o := &createOptions{members: []*member.Member{c.my}, forward: true}
	for _, opt := range opts {
		opt(o)
	}
	if c.metas[meta.Name] != meta {
		return nil, errors.Errorf("meta message %s does not belong to %s", meta.Name, c)
	}
	if c.state == HardKilled && meta.Name != message.DestroyCommunityName {
		return nil, errors.Errorf("%s is destroyed", c)
	}

	msg, err := c.implement(meta, p, o)
	if err != nil {
		return nil, err
	}
	if _, err := c.conv.Encode(msg, true); err != nil {
		return nil, err
	}
	if !msg.Authentication.IsSigned() {
		return msg, nil
	}
	if err := c.acceptLocal(msg, o.forward); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *Community) implement(meta *message.Meta, p interface{}, o *createOptions) (*message.Message, error) {
	var auth message.AuthenticationImpl
	var err error
	switch policy := meta.Authentication.(type) {
	case message.NoAuthentication:
		auth = policy.Implement()
	case message.MemberAuthentication:
		if len(o.members) != 1 {
			return nil, errors.Errorf("%s requires one member, got %d", meta.Name, len(o.members))
		}
		auth, err = policy.Implement(o.members[0], nil)
	case message.MultiMemberAuthentication:
		auth, err = policy.Implement(o.members, nil)
	default:
		err = errors.Errorf("unknown authentication %T", meta.Authentication)
	}
	if err != nil {
		return nil, err
	}

	var dist message.DistributionImpl
	switch policy := meta.Distribution.(type) {
	case message.DirectDistribution:
		globalTime := o.globalTime
		if globalTime == 0 {
			globalTime = max(c.timeline.GlobalTime(), 1)
		}
		dist = policy.Implement(globalTime)
	case message.FullSyncDistribution, message.LastSyncDistribution:
		globalTime, err := c.claimGlobalTime(o.globalTime)
		if err != nil {
			return nil, err
		}
		var seq uint32
		if sd := policy.(message.SyncDistribution); sd.SequenceEnabled() {
			if auth.Creator() == nil {
				return nil, errors.Errorf("%s has sequence numbers but no creator", meta.Name)
			}
			last, err := c.lastSequence(meta, auth.Creator().DatabaseID())
			if err != nil {
				return nil, err
			}
			seq = last + 1
		}
		if full, ok := policy.(message.FullSyncDistribution); ok {
			dist, err = full.Implement(globalTime, seq)
		} else {
			dist, err = policy.(message.LastSyncDistribution).Implement(globalTime, seq)
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("unknown distribution %T", meta.Distribution)
	}

	var dest message.DestinationImpl
	switch policy := meta.Destination.(type) {
	case message.AddressDestination:
		dest = policy.Implement(o.addresses...)
	case message.MemberDestination:
		dest = policy.Implement(o.destinationMembers...)
	case message.CommunityDestination:
		dest = policy.Implement()
	case message.SubjectiveDestination:
		dest = policy.Implement(true)
	case message.SimilarityDestination:
		dest = policy.Implement(true)
	default:
		return nil, errors.Errorf("unknown destination %T", meta.Destination)
	}
	return meta.Impl(auth, dist, dest, p)
}

// claimGlobalTime claims the next global time, or reserves requested when
// it is set.
func (c *Community) claimGlobalTime(requested uint64) (uint64, error) {
	if requested == 0 {
		return c.timeline.ClaimGlobalTime()
	}
	if freezeAt, frozen := c.timeline.Frozen(); frozen && requested > freezeAt {
		return 0, errors.WithMessagef(timeline.ErrFrozen, "global time %d", requested)
	}
	c.timeline.UpdateGlobalTime(requested)
	return requested, nil
}

// acceptLocal checks a message we created against the timeline and
// accepts it.
func (c *Community) acceptLocal(msg *message.Message, forward bool) error {
	if !c.timeline.Check(msg) {
		return errors.Errorf("%s is not permitted to create %s at global time %d", msg.Creator(), msg.Name(), msg.GlobalTime())
	}
	if err := c.applyPermission(msg); err != nil {
		return err
	}
	c.d.stats.outgoing(msg.Name())
	if err := c.accept([]*message.Message{msg}, forward); err != nil {
		c.retractPermission(msg)
		return err
	}
	return nil
}

// CreateIdentity publishes our external address.
func (c *Community) CreateIdentity(opts ...CreateOption) (*message.Message, error) {
	return c.CreateMessage(c.mustMeta(message.IdentityName), &payload.Identity{Address: c.d.wanAddress}, opts...)
}

// CreateAuthorize grants the permissions in triplets.
func (c *Community) CreateAuthorize(triplets []message.Triplet, opts ...CreateOption) (*message.Message, error) {
	return c.CreateMessage(c.mustMeta(message.AuthorizeName), &payload.Authorize{Permissions: triplets}, opts...)
}

// CreateRevoke withdraws the permissions in triplets.
func (c *Community) CreateRevoke(triplets []message.Triplet, opts ...CreateOption) (*message.Message, error) {
	return c.CreateMessage(c.mustMeta(message.RevokeName), &payload.Revoke{Permissions: triplets}, opts...)
}

// CreateDestroyCommunity ends the community for everyone.
func (c *Community) CreateDestroyCommunity(degree payload.Degree, opts ...CreateOption) (*message.Message, error) {
	if degree != payload.SoftKill && degree != payload.HardKill {
		return nil, errors.Errorf("invalid degree %d", degree)
	}
	return c.CreateMessage(c.mustMeta(message.DestroyCommunityName), &payload.DestroyCommunity{Degree: degree}, opts...)
}

// CreateSubjectiveSet publishes the members we accept SubjectiveDestination
// messages of cluster from.
func (c *Community) CreateSubjectiveSet(cluster uint8, members []*member.Member, opts ...CreateOption) (*message.Message, error) {
	filter, err := bloom.New(max(len(members), subjectiveSetCapacity), subjectiveSetErrorRate)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		filter.Add(m.PublicKey())
	}
	return c.CreateMessage(c.mustMeta(message.SubjectiveSetName), &payload.SubjectiveSet{Cluster: cluster, Members: filter}, opts...)
}

// sendRequest asks addr for what a delayed packet or message is missing.
func (c *Community) sendRequest(req message.Request, addr common.Address) {
	if req == nil || !addr.IsValid() {
		return
	}
	var (
		meta *message.Meta
		p    interface{}
	)
	switch r := req.(type) {
	case *message.IdentityRequest:
		meta, p = c.mustMeta(message.IdentityRequestName), &payload.IdentityRequest{Mid: r.Mid}
	case *message.MissingSequenceRequest:
		meta = c.mustMeta(message.MissingSequenceName)
		p = &payload.MissingSequence{Mid: r.Member.Mid(), Meta: r.Meta, Low: r.Low, High: r.High}
	case *message.SubjectiveSetRequest:
		meta = c.mustMeta(message.SubjectiveSetRequestName)
		p = &payload.SubjectiveSetRequest{Cluster: r.Cluster, Mids: []common.Mid{r.Member.Mid()}}
	case *message.MissingProofRequest:
		meta = c.mustMeta(message.MissingProofName)
		p = &payload.MissingProof{Mid: r.Member.Mid(), GlobalTime: r.GlobalTime}
	default:
		c.logger.Warningf("unknown request %T", req)
		return
	}
	if _, err := c.CreateMessage(meta, p, WithAddresses(addr)); err != nil {
		c.logger.Errorf("failed creating %s: %+v", meta.Name, err)
	}
}
