/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package message

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/member"
)

// Encoding selects how MemberAuthentication puts the signer on the wire.
type Encoding string

const (
	// EncodingSHA1 writes the 20 byte mid. Receivers must already know the
	// member's public key.
	EncodingSHA1 Encoding = "sha1"
	// EncodingBin writes the length prefixed public key.
	EncodingBin Encoding = "bin"
)

// Authentication is the meta form of an authentication policy.
type Authentication interface {
	authentication()
	String() string
}

// AuthenticationImpl carries the signer(s) and signature(s) of one message.
type AuthenticationImpl interface {
	Meta() Authentication
	// Creator is the first signer, nil for unsigned messages.
	Creator() *member.Member
	// IsSigned reports whether every required signature is present.
	IsSigned() bool
	Footprint() string
}

// NoAuthentication marks unsigned messages.
type NoAuthentication struct{}

func (NoAuthentication) authentication() {}
func (NoAuthentication) String() string  { return "NoAuthentication" }

func (a NoAuthentication) Implement() *NoAuthenticationImpl {
	return &NoAuthenticationImpl{meta: a}
}

type NoAuthenticationImpl struct {
	meta NoAuthentication
}

func (i *NoAuthenticationImpl) Meta() Authentication    { return i.meta }
func (i *NoAuthenticationImpl) Creator() *member.Member { return nil }
func (i *NoAuthenticationImpl) IsSigned() bool          { return true }
func (i *NoAuthenticationImpl) Footprint() string       { return "NoAuthentication" }

// MemberAuthentication requires a single signature by the creator.
type MemberAuthentication struct {
	Encoding Encoding
}

func (MemberAuthentication) authentication() {}

func (a MemberAuthentication) String() string {
	return "MemberAuthentication(" + string(a.Encoding) + ")"
}

// Implement binds the creator. A nil signature leaves the message unsigned
// until it is encoded with signing enabled.
func (a MemberAuthentication) Implement(creator *member.Member, signature []byte) (*MemberAuthenticationImpl, error) {
	if creator == nil {
		return nil, errors.New("member authentication requires a member")
	}
	if signature != nil && len(signature) != creator.SignatureLength() {
		return nil, errors.Errorf("signature length %d does not match member signature length %d",
			len(signature), creator.SignatureLength())
	}
	return &MemberAuthenticationImpl{meta: a, member: creator, signature: signature}, nil
}

type MemberAuthenticationImpl struct {
	meta      MemberAuthentication
	member    *member.Member
	signature []byte
}

func (i *MemberAuthenticationImpl) Meta() Authentication    { return i.meta }
func (i *MemberAuthenticationImpl) Creator() *member.Member { return i.member }
func (i *MemberAuthenticationImpl) Member() *member.Member  { return i.member }
func (i *MemberAuthenticationImpl) Signature() []byte       { return i.signature }
func (i *MemberAuthenticationImpl) IsSigned() bool          { return isSignature(i.signature) }

func (i *MemberAuthenticationImpl) SetSignature(signature []byte) {
	i.signature = signature
}

func (i *MemberAuthenticationImpl) Footprint() string {
	return "MemberAuthentication:" + i.member.Mid().String()
}

// MultiMemberAuthentication requires Count signatures, one per listed
// member. Messages circulate partially signed until every member signed.
type MultiMemberAuthentication struct {
	Count int
	// AllowSignature is consulted before we add our signature to a message
	// someone else created. Nil refuses.
	AllowSignature func(*Message) bool
}

func (MultiMemberAuthentication) authentication() {}

func (a MultiMemberAuthentication) String() string { return "MultiMemberAuthentication" }

// Implement binds the members. signatures may be nil, otherwise it must have
// one (possibly empty) entry per member.
func (a MultiMemberAuthentication) Implement(members []*member.Member, signatures [][]byte) (*MultiMemberAuthenticationImpl, error) {
	if len(members) != a.Count {
		return nil, errors.Errorf("expected %d members, got %d", a.Count, len(members))
	}
	if signatures == nil {
		signatures = make([][]byte, len(members))
	}
	if len(signatures) != len(members) {
		return nil, errors.Errorf("expected %d signatures, got %d", len(members), len(signatures))
	}
	for idx, m := range members {
		if m == nil {
			return nil, errors.Errorf("member %d is nil", idx)
		}
		if isSignature(signatures[idx]) && len(signatures[idx]) != m.SignatureLength() {
			return nil, errors.Errorf("signature %d has invalid length %d", idx, len(signatures[idx]))
		}
	}
	return &MultiMemberAuthenticationImpl{meta: a, members: members, signatures: signatures}, nil
}

type MultiMemberAuthenticationImpl struct {
	meta       MultiMemberAuthentication
	members    []*member.Member
	signatures [][]byte
}

func (i *MultiMemberAuthenticationImpl) Meta() Authentication      { return i.meta }
func (i *MultiMemberAuthenticationImpl) Members() []*member.Member { return i.members }
func (i *MultiMemberAuthenticationImpl) Signatures() [][]byte      { return i.signatures }

func (i *MultiMemberAuthenticationImpl) Creator() *member.Member { return i.members[0] }

func (i *MultiMemberAuthenticationImpl) IsSigned() bool {
	for _, sig := range i.signatures {
		if !isSignature(sig) {
			return false
		}
	}
	return true
}

// SetSignature fills the slot of the member at index idx.
func (i *MultiMemberAuthenticationImpl) SetSignature(idx int, signature []byte) error {
	if idx < 0 || idx >= len(i.members) {
		return errors.Errorf("signature index %d out of range", idx)
	}
	if len(signature) != i.members[idx].SignatureLength() {
		return errors.Errorf("signature has invalid length %d", len(signature))
	}
	i.signatures[idx] = signature
	return nil
}

func (i *MultiMemberAuthenticationImpl) Footprint() string {
	mids := make([]string, len(i.members))
	for idx, m := range i.members {
		mids[idx] = m.Mid().String()
	}
	return "MultiMemberAuthentication:" + strings.Join(mids, ",")
}

// isSignature treats nil and all-zero slices as missing signatures.
func isSignature(sig []byte) bool {
	for _, b := range sig {
		if b != 0 {
			return true
		}
	}
	return false
}
