/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispersy

import (
	"github.com/tribler/dispersy/dispersy/message"
)

const (
	identityPriority   = 224
	permissionPriority = 192
	destroyPriority    = 192
)

// builtinMetas returns the meta messages every community carries.
func (c *Community) builtinMetas() []*message.Meta {
	bin := message.MemberAuthentication{Encoding: message.EncodingBin}
	sha1 := message.MemberAuthentication{Encoding: message.EncodingSHA1}
	public := message.PublicResolution{}
	direct := message.DirectDistribution{}
	address := message.AddressDestination{}

	return []*message.Meta{
		{
			Name:           message.CandidateRequestName,
			Priority:       message.DefaultPriority,
			Authentication: bin,
			Resolution:     public,
			Distribution:   direct,
			Destination:    address,
			Handle:         c.onCandidateRequest,
		},
		{
			Name:           message.CandidateResponseName,
			Priority:       message.DefaultPriority,
			Authentication: bin,
			Resolution:     public,
			Distribution:   direct,
			Destination:    address,
			Handle:         c.onCandidateResponse,
		},
		{
			Name:           message.IdentityName,
			Priority:       identityPriority,
			Authentication: bin,
			Resolution:     public,
			Distribution:   message.LastSyncDistribution{SynchronizationDirection: message.InOrder, HistorySize: 1},
			Destination:    message.CommunityDestination{NodeCount: 10},
			Handle:         c.onIdentity,
		},
		{
			Name:           message.IdentityRequestName,
			Priority:       message.DefaultPriority,
			Authentication: message.NoAuthentication{},
			Resolution:     public,
			Distribution:   direct,
			Destination:    address,
			Handle:         c.onIdentityRequest,
		},
		{
			Name:           message.SyncName,
			Priority:       message.DefaultPriority,
			Authentication: bin,
			Resolution:     public,
			Distribution:   direct,
			Destination:    message.CommunityDestination{NodeCount: 1},
			Check:          c.checkSync,
			Handle:         c.onSync,
		},
		{
			Name:           message.SignatureRequestName,
			Priority:       message.DefaultPriority,
			Authentication: message.NoAuthentication{},
			Resolution:     public,
			Distribution:   direct,
			Destination:    message.MemberDestination{},
			Handle:         c.onSignatureRequest,
		},
		{
			Name:           message.SignatureResponseName,
			Priority:       message.DefaultPriority,
			Authentication: message.NoAuthentication{},
			Resolution:     public,
			Distribution:   direct,
			Destination:    address,
		},
		{
			Name:           message.AuthorizeName,
			Priority:       permissionPriority,
			Authentication: sha1,
			Resolution:     public,
			Distribution:   message.FullSyncDistribution{EnableSequenceNumber: true, SynchronizationDirection: message.InOrder},
			Destination:    message.CommunityDestination{NodeCount: 10},
		},
		{
			Name:           message.RevokeName,
			Priority:       permissionPriority,
			Authentication: sha1,
			Resolution:     public,
			Distribution:   message.FullSyncDistribution{EnableSequenceNumber: true, SynchronizationDirection: message.InOrder},
			Destination:    message.CommunityDestination{NodeCount: 10},
		},
		{
			Name:           message.MissingSequenceName,
			Priority:       message.DefaultPriority,
			Authentication: message.NoAuthentication{},
			Resolution:     public,
			Distribution:   direct,
			Destination:    address,
			Handle:         c.onMissingSequence,
		},
		{
			Name:           message.MissingProofName,
			Priority:       message.DefaultPriority,
			Authentication: message.NoAuthentication{},
			Resolution:     public,
			Distribution:   direct,
			Destination:    address,
			Handle:         c.onMissingProof,
		},
		{
			Name:           message.DestroyCommunityName,
			Priority:       destroyPriority,
			Authentication: sha1,
			Resolution:     message.LinearResolution{},
			Distribution:   message.FullSyncDistribution{SynchronizationDirection: message.InOrder},
			Destination:    message.CommunityDestination{NodeCount: 50},
			Handle:         c.onDestroyCommunity,
		},
		{
			Name:           message.SubjectiveSetName,
			Priority:       message.DefaultPriority,
			Authentication: sha1,
			Resolution:     public,
			Distribution:   message.FullSyncDistribution{SynchronizationDirection: message.OutOrder},
			Destination:    message.CommunityDestination{NodeCount: 10},
			Handle:         c.onSubjectiveSet,
		},
		{
			Name:           message.SubjectiveSetRequestName,
			Priority:       message.DefaultPriority,
			Authentication: message.NoAuthentication{},
			Resolution:     public,
			Distribution:   direct,
			Destination:    address,
			Handle:         c.onSubjectiveSetRequest,
		},
	}
}
