/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package message

import (
	"strconv"

	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/member"
)

// Destination is the meta form of a destination policy.
type Destination interface {
	destination()
	String() string
}

type DestinationImpl interface {
	Meta() Destination
	Footprint() string
}

// AddressDestination sends to explicit addresses.
type AddressDestination struct{}

func (AddressDestination) destination()   {}
func (AddressDestination) String() string { return "AddressDestination" }

func (d AddressDestination) Implement(addresses ...common.Address) *AddressDestinationImpl {
	return &AddressDestinationImpl{meta: d, Addresses: addresses}
}

type AddressDestinationImpl struct {
	meta      AddressDestination
	Addresses []common.Address
}

func (i *AddressDestinationImpl) Meta() Destination { return i.meta }
func (i *AddressDestinationImpl) Footprint() string { return "AddressDestination" }

// MemberDestination sends to the last known address of each member.
type MemberDestination struct{}

func (MemberDestination) destination()   {}
func (MemberDestination) String() string { return "MemberDestination" }

func (d MemberDestination) Implement(members ...*member.Member) *MemberDestinationImpl {
	return &MemberDestinationImpl{meta: d, Members: members}
}

type MemberDestinationImpl struct {
	meta    MemberDestination
	Members []*member.Member
}

func (i *MemberDestinationImpl) Meta() Destination { return i.meta }
func (i *MemberDestinationImpl) Footprint() string { return "MemberDestination" }

// CommunityDestination sends to NodeCount candidates of the community.
type CommunityDestination struct {
	NodeCount int
}

func (CommunityDestination) destination()   {}
func (CommunityDestination) String() string { return "CommunityDestination" }

func (d CommunityDestination) Implement() *CommunityDestinationImpl {
	return &CommunityDestinationImpl{meta: d}
}

type CommunityDestinationImpl struct {
	meta CommunityDestination
}

func (i *CommunityDestinationImpl) Meta() Destination { return i.meta }
func (i *CommunityDestinationImpl) NodeCount() int    { return i.meta.NodeCount }
func (i *CommunityDestinationImpl) Footprint() string { return "CommunityDestination" }

// SubjectiveDestination messages are only kept by members whose subjective
// set for Cluster contains the creator.
type SubjectiveDestination struct {
	Cluster   uint8
	NodeCount int
}

func (SubjectiveDestination) destination()   {}
func (SubjectiveDestination) String() string { return "SubjectiveDestination" }

// Implement records whether the creator is in our subjective set.
func (d SubjectiveDestination) Implement(isValid bool) *SubjectiveDestinationImpl {
	return &SubjectiveDestinationImpl{meta: d, IsValid: isValid}
}

type SubjectiveDestinationImpl struct {
	meta    SubjectiveDestination
	IsValid bool
}

func (i *SubjectiveDestinationImpl) Meta() Destination { return i.meta }
func (i *SubjectiveDestinationImpl) Cluster() uint8    { return i.meta.Cluster }
func (i *SubjectiveDestinationImpl) NodeCount() int    { return i.meta.NodeCount }
func (i *SubjectiveDestinationImpl) Footprint() string {
	return "SubjectiveDestination:Cluster" + strconv.Itoa(int(i.meta.Cluster))
}

// SimilarityDestination messages are only kept when the community's
// similarity predicate accepts them.
type SimilarityDestination struct {
	Cluster   uint8
	Threshold int
	NodeCount int
}

func (SimilarityDestination) destination()   {}
func (SimilarityDestination) String() string { return "SimilarityDestination" }

func (d SimilarityDestination) Implement(isSimilar bool) *SimilarityDestinationImpl {
	return &SimilarityDestinationImpl{meta: d, IsSimilar: isSimilar}
}

type SimilarityDestinationImpl struct {
	meta      SimilarityDestination
	IsSimilar bool
}

func (i *SimilarityDestinationImpl) Meta() Destination { return i.meta }
func (i *SimilarityDestinationImpl) Cluster() uint8    { return i.meta.Cluster }
func (i *SimilarityDestinationImpl) NodeCount() int    { return i.meta.NodeCount }
func (i *SimilarityDestinationImpl) Footprint() string {
	return "SimilarityDestination:Cluster" + strconv.Itoa(int(i.meta.Cluster))
}
