/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package message

import (
	"fmt"
	"regexp"
)

// Names of the built-in messages.
const (
	CandidateRequestName     = "dispersy-candidate-request"
	CandidateResponseName    = "dispersy-candidate-response"
	IdentityName             = "dispersy-identity"
	IdentityRequestName      = "dispersy-identity-request"
	SyncName                 = "dispersy-sync"
	SignatureRequestName     = "dispersy-signature-request"
	SignatureResponseName    = "dispersy-signature-response"
	AuthorizeName            = "dispersy-authorize"
	RevokeName               = "dispersy-revoke"
	MissingSequenceName      = "dispersy-missing-sequence"
	MissingProofName         = "dispersy-missing-proof"
	DestroyCommunityName     = "dispersy-destroy-community"
	SubjectiveSetName        = "dispersy-subjective-set"
	SubjectiveSetRequestName = "dispersy-subjective-set-request"
)

// The patterns below are anchored regular expressions over Footprint().

func prefix(name string, cid fmt.Stringer) string {
	return "^" + regexp.QuoteMeta(name) + " Community:" + cid.String() + " "
}

// IdentityPattern matches the identity message of mid.
func IdentityPattern(cid fmt.Stringer, mid fmt.Stringer) string {
	return prefix(IdentityName, cid) + "MemberAuthentication:" + mid.String() + " "
}

// SequencePattern matches the message of meta by mid carrying sequence
// number seq.
func SequencePattern(meta *Meta, mid fmt.Stringer, seq uint32) string {
	return fmt.Sprintf("%sMemberAuthentication:%s \\S+ \\S+SyncDistribution:\\d+,%d ", prefix(meta.Name, meta.CID), mid, seq)
}

// SubjectiveSetPattern matches the subjective set of mid for cluster.
func SubjectiveSetPattern(cid fmt.Stringer, mid fmt.Stringer, cluster uint8) string {
	return fmt.Sprintf("%sMemberAuthentication:%s .* SubjectiveSet:Cluster%d$", prefix(SubjectiveSetName, cid), mid, cluster)
}

// ProofPattern matches any authorize message in the community.
func ProofPattern(cid fmt.Stringer) string {
	return prefix(AuthorizeName, cid)
}

// SignatureResponsePattern matches the response to the signature request
// whose packet hashes to identifier.
func SignatureResponsePattern(cid fmt.Stringer, identifier fmt.Stringer) string {
	return prefix(SignatureResponseName, cid) + ".* SignatureResponse:" + identifier.String() + "$"
}

// MetaPattern matches every message of meta.
func MetaPattern(meta *Meta) string {
	return prefix(meta.Name, meta.CID)
}
