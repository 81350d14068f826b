/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package message

import (
	"reflect"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/common"
)

// DefaultPriority is used for metas that do not set one. Batches of higher
// priority are processed first and their packets are offered first in sync
// responses.
const DefaultPriority = 128

// Meta is the immutable template every message of one kind is created
// from. Names are unique within a community.
type Meta struct {
	Name     string
	CID      common.CID
	Priority int

	Authentication Authentication
	Resolution     Resolution
	Distribution   Distribution
	Destination    Destination

	// Check is called for every decoded message that passed the
	// distribution and timeline checks. Returning a *DropMessage or a
	// *DelayMessage rejects or postpones it; nil accepts it.
	Check func(*Message) error

	// Handle is called with accepted messages after they are stored.
	Handle func([]*Message)
}

// Validate checks that the policies are complete and consistent.
func (m *Meta) Validate() error {
	if m.Name == "" {
		return errors.New("meta message requires a name")
	}
	if m.Authentication == nil || m.Resolution == nil || m.Distribution == nil || m.Destination == nil {
		return errors.Errorf("meta message %s is missing a policy", m.Name)
	}
	if m.Priority < 0 || m.Priority > 255 {
		return errors.Errorf("meta message %s has priority %d outside [0, 255]", m.Name, m.Priority)
	}
	if err := validateDistribution(m.Distribution); err != nil {
		return errors.WithMessage(err, m.Name)
	}
	if _, ok := m.Authentication.(NoAuthentication); ok {
		if _, ok := m.Resolution.(LinearResolution); ok {
			return errors.Errorf("meta message %s cannot combine NoAuthentication with LinearResolution", m.Name)
		}
	}
	if mm, ok := m.Authentication.(MultiMemberAuthentication); ok && mm.Count < 1 {
		return errors.Errorf("meta message %s requires at least one member", m.Name)
	}
	return nil
}

// SyncDistribution returns the distribution when messages of this meta are
// stored and gossipped.
func (m *Meta) SyncDistribution() (SyncDistribution, bool) {
	d, ok := m.Distribution.(SyncDistribution)
	return d, ok
}

// IsDirect reports whether messages of this meta bypass the store.
func (m *Meta) IsDirect() bool {
	_, ok := m.Distribution.(DirectDistribution)
	return ok
}

// Impl creates a message from policy implementations. The implementations
// must belong to the meta's policies. The resolution implementation is
// derived from the meta.
func (m *Meta) Impl(auth AuthenticationImpl, dist DistributionImpl, dest DestinationImpl, payload interface{}) (*Message, error) {
	if auth == nil || dist == nil || dest == nil {
		return nil, errors.Errorf("meta message %s requires all policy implementations", m.Name)
	}
	if !sameKind(auth.Meta(), m.Authentication) {
		return nil, errors.Errorf("meta message %s: authentication %s does not implement %s", m.Name, auth.Meta(), m.Authentication)
	}
	if !sameKind(dist.Meta(), m.Distribution) {
		return nil, errors.Errorf("meta message %s: distribution %s does not implement %s", m.Name, dist.Meta(), m.Distribution)
	}
	if !sameKind(dest.Meta(), m.Destination) {
		return nil, errors.Errorf("meta message %s: destination %s does not implement %s", m.Name, dest.Meta(), m.Destination)
	}
	return &Message{
		Meta:           m,
		Authentication: auth,
		Resolution:     ImplementResolution(m.Resolution),
		Distribution:   dist,
		Destination:    dest,
		Payload:        payload,
	}, nil
}

func sameKind(a, b interface{}) bool {
	return reflect.TypeOf(a) == reflect.TypeOf(b)
}

func (m *Meta) String() string {
	return m.Name
}
