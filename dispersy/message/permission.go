/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package message

import (
	"github.com/tribler/dispersy/dispersy/member"
)

// Permission is a right a member can hold over a meta message. The values
// are bit flags on the wire.
type Permission uint8

const (
	Permit    Permission = 1
	Authorize Permission = 2
	Revoke    Permission = 4
)

// Permissions lists every permission in wire order.
var Permissions = []Permission{Permit, Authorize, Revoke}

func (p Permission) String() string {
	switch p {
	case Permit:
		return "permit"
	case Authorize:
		return "authorize"
	case Revoke:
		return "revoke"
	}
	return "unknown"
}

// Triplet grants or revokes Permission on Meta to Member.
type Triplet struct {
	Member     *member.Member
	Meta       *Meta
	Permission Permission
}

// PermissionPayload is implemented by the payloads of authorize and revoke
// messages.
type PermissionPayload interface {
	Triplets() []Triplet
}
