/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispersy

import (
	"fmt"

	"github.com/tribler/dispersy/dispersy/common"
)

// UnknownCommunityError is reported for packets of a community that is
// neither loaded nor auto-loadable.
type UnknownCommunityError struct {
	CID common.CID
}

func (e *UnknownCommunityError) Error() string {
	return fmt.Sprintf("unknown community %s", e.CID)
}

// UnknownConversionError is reported for packets whose version no
// conversion of the community understands.
type UnknownConversionError struct {
	CID     common.CID
	Version [2]byte
}

func (e *UnknownConversionError) Error() string {
	return fmt.Sprintf("unknown conversion %x for community %s", e.Version, e.CID)
}

// SaveError is a failure to persist accepted messages or permissions. The
// transaction was rolled back; the operation may be retried.
type SaveError struct {
	Err error
}

func (e *SaveError) Error() string { return "failed saving: " + e.Err.Error() }

func (e *SaveError) Cause() error { return e.Err }

func (e *SaveError) Unwrap() error { return e.Err }
