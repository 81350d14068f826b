/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package member

import (
	"crypto/ecdsa"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/crypto"
)

// Tag is a local flag on a member.
type Tag string

const (
	// TagStore forces messages from the member to be stored even when the
	// destination policy would skip them.
	TagStore Tag = "store"
	// TagIgnore drops the member's messages without processing.
	TagIgnore Tag = "ignore"
	// TagBlacklist drops the member's messages and never forwards to it.
	TagBlacklist Tag = "blacklist"
)

// Member is a public key together with what we derived and learned about
// it. Members are shared by every community and are never deleted.
type Member struct {
	id        int64
	mid       common.Mid
	publicKey []byte
	public    *ecdsa.PublicKey
	private   *ecdsa.PrivateKey
	address   common.Address
	tags      map[Tag]bool
	sigLength int
}

func newMember(id int64, publicKey []byte, pub *ecdsa.PublicKey) *Member {
	return &Member{
		id:        id,
		mid:       crypto.Mid(publicKey),
		publicKey: publicKey,
		public:    pub,
		tags:      map[Tag]bool{},
		sigLength: crypto.SignatureLength(pub),
	}
}

// DatabaseID is the local user.id of the member.
func (m *Member) DatabaseID() int64 { return m.id }

func (m *Member) Mid() common.Mid { return m.mid }

func (m *Member) PublicKey() []byte { return m.publicKey }

// IsPrivate reports whether we hold the private key.
func (m *Member) IsPrivate() bool { return m.private != nil }

func (m *Member) PrivateKey() *ecdsa.PrivateKey { return m.private }

// SignatureLength is the number of bytes every signature by this member
// occupies on the wire.
func (m *Member) SignatureLength() int { return m.sigLength }

// Address is where the member was last seen. The zero value means unknown.
func (m *Member) Address() common.Address { return m.address }

func (m *Member) HasTag(tag Tag) bool { return m.tags[tag] }

func (m *Member) MustStore() bool     { return m.tags[TagStore] }
func (m *Member) MustIgnore() bool    { return m.tags[TagIgnore] }
func (m *Member) MustBlacklist() bool { return m.tags[TagBlacklist] }

// Sign signs data with the member's private key.
func (m *Member) Sign(data []byte) ([]byte, error) {
	if m.private == nil {
		return nil, errors.Errorf("member %d has no private key", m.id)
	}
	return crypto.Sign(m.private, data)
}

func (m *Member) Verify(data, signature []byte) bool {
	return crypto.Verify(m.public, data, signature)
}

func (m *Member) String() string {
	return "member:" + m.mid.String()[:10]
}

func (m *Member) tagString() string {
	var tags []string
	for tag, on := range m.tags {
		if on {
			tags = append(tags, string(tag))
		}
	}
	sort.Strings(tags)
	return strings.Join(tags, ",")
}

func (m *Member) setTagString(s string) {
	m.tags = map[Tag]bool{}
	for _, tag := range strings.Split(s, ",") {
		if tag != "" {
			m.tags[Tag(tag)] = true
		}
	}
}
