/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package timeline keeps the permission log of a community and decides
// whether a member may create a message at a given global time.
package timeline

import (
	"bytes"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/member"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/util"
)

// ErrFrozen is returned by ClaimGlobalTime after the community was
// soft-killed.
var ErrFrozen = errors.New("global time is frozen")

type grantKey struct {
	member     int64
	meta       string
	permission message.Permission
}

type event struct {
	globalTime uint64
	packet     []byte
	grant      bool
}

func (e event) before(o event) bool {
	if e.globalTime != o.globalTime {
		return e.globalTime < o.globalTime
	}
	return bytes.Compare(e.packet, o.packet) < 0
}

// Timeline is the permission log of one community plus its global time.
type Timeline struct {
	lock       sync.RWMutex
	master     *member.Member
	globalTime uint64
	frozen     bool
	freezeAt   uint64
	events     map[grantKey][]event
	logger     util.Logger
}

// New creates an empty timeline. The master holds every permission.
func New(master *member.Member, logger util.Logger) *Timeline {
	return &Timeline{
		master: master,
		events: map[grantKey][]event{},
		logger: logger,
	}
}

func (t *Timeline) isMaster(m *member.Member) bool {
	return member.Equal(m, t.master)
}

// allowed replays the events of (m, meta, permission) up to globalTime.
func (t *Timeline) allowed(m *member.Member, globalTime uint64, meta *message.Meta, permission message.Permission) bool {
	if t.isMaster(m) {
		return true
	}
	events := t.events[grantKey{member: m.DatabaseID(), meta: meta.Name, permission: permission}]
	idx := sort.Search(len(events), func(i int) bool { return events[i].globalTime > globalTime })
	if idx == 0 {
		return false
	}
	return events[idx-1].grant
}

// Check reports whether msg is permitted at its global time. Authorize and
// revoke messages require the authorize or revoke permission for every
// triplet they carry. LinearResolution requires permit for every signer.
func (t *Timeline) Check(msg *message.Message) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()

	globalTime := msg.GlobalTime()
	creator := msg.Creator()

	if p, ok := msg.Payload.(message.PermissionPayload); ok && creator != nil &&
		(msg.Name() == message.AuthorizeName || msg.Name() == message.RevokeName) {
		required := message.Authorize
		if msg.Name() == message.RevokeName {
			required = message.Revoke
		}
		for _, triplet := range p.Triplets() {
			if !t.allowed(creator, globalTime, triplet.Meta, required) {
				t.logger.Debugf("%s lacks %s on %s at %d", creator, required, triplet.Meta.Name, globalTime)
				return false
			}
		}
		return true
	}

	if _, linear := msg.Meta.Resolution.(message.LinearResolution); !linear {
		return true
	}
	for _, m := range msg.Members() {
		if !t.allowed(m, globalTime, msg.Meta, message.Permit) {
			t.logger.Debugf("%s lacks permit on %s at %d", m, msg.Meta.Name, globalTime)
			return false
		}
	}
	return true
}

// Allowed reports whether m holds permission on meta at globalTime.
func (t *Timeline) Allowed(m *member.Member, globalTime uint64, meta *message.Meta, permission message.Permission) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.allowed(m, globalTime, meta, permission)
}

// Authorize records that author granted triplets at globalTime. It fails
// when author itself lacks the authorize permission.
func (t *Timeline) Authorize(author *member.Member, globalTime uint64, triplets []message.Triplet, packet []byte) error {
	return t.record(author, globalTime, triplets, packet, message.Authorize, true)
}

// Revoke records that author withdrew triplets at globalTime.
func (t *Timeline) Revoke(author *member.Member, globalTime uint64, triplets []message.Triplet, packet []byte) error {
	return t.record(author, globalTime, triplets, packet, message.Revoke, false)
}

func (t *Timeline) record(author *member.Member, globalTime uint64, triplets []message.Triplet, packet []byte, required message.Permission, grant bool) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	for _, triplet := range triplets {
		if !t.allowed(author, globalTime, triplet.Meta, required) {
			return errors.Errorf("%s lacks %s on %s at %d", author, required, triplet.Meta.Name, globalTime)
		}
	}
	for _, triplet := range triplets {
		key := grantKey{member: triplet.Member.DatabaseID(), meta: triplet.Meta.Name, permission: triplet.Permission}
		e := event{globalTime: globalTime, packet: packet, grant: grant}
		events := t.events[key]
		idx := sort.Search(len(events), func(i int) bool { return e.before(events[i]) })
		if idx > 0 && events[idx-1].globalTime == globalTime && bytes.Equal(events[idx-1].packet, packet) {
			continue
		}
		events = append(events, event{})
		copy(events[idx+1:], events[idx:])
		events[idx] = e
		t.events[key] = events
		verb := "revokes"
		if grant {
			verb = "grants"
		}
		t.logger.Debugf("%s %s %s on %s at %d", author, verb, triplet.Permission, triplet.Meta.Name, globalTime)
	}
	return nil
}

// Forget removes the events recorded at globalTime by packet for
// triplets, undoing an Authorize or Revoke whose message was not stored.
func (t *Timeline) Forget(globalTime uint64, triplets []message.Triplet, packet []byte) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for _, triplet := range triplets {
		key := grantKey{member: triplet.Member.DatabaseID(), meta: triplet.Meta.Name, permission: triplet.Permission}
		events := t.events[key]
		for idx, e := range events {
			if e.globalTime == globalTime && bytes.Equal(e.packet, packet) {
				events = append(events[:idx], events[idx+1:]...)
				break
			}
		}
		if len(events) == 0 {
			delete(t.events, key)
			continue
		}
		t.events[key] = events
	}
}

// GlobalTime returns the highest global time seen or claimed.
func (t *Timeline) GlobalTime() uint64 {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.globalTime
}

// UpdateGlobalTime raises the global time to globalTime.
func (t *Timeline) UpdateGlobalTime(globalTime uint64) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if globalTime > t.globalTime {
		t.globalTime = globalTime
	}
}

// ClaimGlobalTime reserves and returns the next global time.
func (t *Timeline) ClaimGlobalTime() (uint64, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.frozen {
		return 0, ErrFrozen
	}
	t.globalTime++
	return t.globalTime, nil
}

// Freeze stops claiming global times. Messages after globalTime are no
// longer accepted.
func (t *Timeline) Freeze(globalTime uint64) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.frozen || globalTime < t.freezeAt {
		t.frozen, t.freezeAt = true, globalTime
	}
}

// Frozen returns the freeze global time, if any.
func (t *Timeline) Frozen() (uint64, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.freezeAt, t.frozen
}
