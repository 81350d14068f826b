/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package message

import (
	"strconv"

	"github.com/pkg/errors"
)

// SyncDirection is the order in which stored packets are offered in sync
// responses. The numeric values are persisted and sent on the wire.
type SyncDirection uint8

const (
	InOrder     SyncDirection = 1
	OutOrder    SyncDirection = 2
	RandomOrder SyncDirection = 3
)

func (d SyncDirection) String() string {
	switch d {
	case InOrder:
		return "in-order"
	case OutOrder:
		return "out-order"
	case RandomOrder:
		return "random-order"
	}
	return "unknown(" + strconv.Itoa(int(d)) + ")"
}

func (d SyncDirection) valid() bool {
	return d >= InOrder && d <= RandomOrder
}

// Distribution is the meta form of a distribution policy.
type Distribution interface {
	distribution()
	String() string
}

// SyncDistribution is implemented by the distributions whose messages are
// stored and gossipped.
type SyncDistribution interface {
	Distribution
	SequenceEnabled() bool
	Direction() SyncDirection
}

type DistributionImpl interface {
	Meta() Distribution
	GlobalTime() uint64
	Footprint() string
}

// SequencedImpl is implemented by implementations that may carry a
// sequence number; SequenceNumber is 0 when the meta disables them.
type SequencedImpl interface {
	DistributionImpl
	SequenceNumber() uint32
}

// DirectDistribution messages are neither stored nor gossipped.
type DirectDistribution struct{}

func (DirectDistribution) distribution()  {}
func (DirectDistribution) String() string { return "DirectDistribution" }

func (d DirectDistribution) Implement(globalTime uint64) *DirectDistributionImpl {
	return &DirectDistributionImpl{meta: d, globalTime: globalTime}
}

type DirectDistributionImpl struct {
	meta       DirectDistribution
	globalTime uint64
}

func (i *DirectDistributionImpl) Meta() Distribution { return i.meta }
func (i *DirectDistributionImpl) GlobalTime() uint64 { return i.globalTime }
func (i *DirectDistributionImpl) Footprint() string {
	return "DirectDistribution:" + strconv.FormatUint(i.globalTime, 10)
}

// FullSyncDistribution messages are stored forever and gossipped.
type FullSyncDistribution struct {
	EnableSequenceNumber     bool
	SynchronizationDirection SyncDirection
}

func (FullSyncDistribution) distribution()  {}
func (FullSyncDistribution) String() string { return "FullSyncDistribution" }

func (d FullSyncDistribution) SequenceEnabled() bool    { return d.EnableSequenceNumber }
func (d FullSyncDistribution) Direction() SyncDirection { return d.SynchronizationDirection }

func (d FullSyncDistribution) Implement(globalTime uint64, sequenceNumber uint32) (*FullSyncDistributionImpl, error) {
	if err := checkSequence(d, sequenceNumber); err != nil {
		return nil, err
	}
	return &FullSyncDistributionImpl{meta: d, globalTime: globalTime, sequenceNumber: sequenceNumber}, nil
}

type FullSyncDistributionImpl struct {
	meta           FullSyncDistribution
	globalTime     uint64
	sequenceNumber uint32
}

func (i *FullSyncDistributionImpl) Meta() Distribution     { return i.meta }
func (i *FullSyncDistributionImpl) GlobalTime() uint64     { return i.globalTime }
func (i *FullSyncDistributionImpl) SequenceNumber() uint32 { return i.sequenceNumber }
func (i *FullSyncDistributionImpl) Footprint() string {
	return "FullSyncDistribution:" + strconv.FormatUint(i.globalTime, 10) + "," + strconv.FormatUint(uint64(i.sequenceNumber), 10)
}

// LastSyncDistribution messages are stored and gossipped, but only the
// HistorySize newest per creator are kept.
type LastSyncDistribution struct {
	EnableSequenceNumber     bool
	SynchronizationDirection SyncDirection
	HistorySize              int
}

func (LastSyncDistribution) distribution()  {}
func (LastSyncDistribution) String() string { return "LastSyncDistribution" }

func (d LastSyncDistribution) SequenceEnabled() bool    { return d.EnableSequenceNumber }
func (d LastSyncDistribution) Direction() SyncDirection { return d.SynchronizationDirection }

func (d LastSyncDistribution) Implement(globalTime uint64, sequenceNumber uint32) (*LastSyncDistributionImpl, error) {
	if err := checkSequence(d, sequenceNumber); err != nil {
		return nil, err
	}
	return &LastSyncDistributionImpl{meta: d, globalTime: globalTime, sequenceNumber: sequenceNumber}, nil
}

type LastSyncDistributionImpl struct {
	meta           LastSyncDistribution
	globalTime     uint64
	sequenceNumber uint32
}

func (i *LastSyncDistributionImpl) Meta() Distribution     { return i.meta }
func (i *LastSyncDistributionImpl) GlobalTime() uint64     { return i.globalTime }
func (i *LastSyncDistributionImpl) SequenceNumber() uint32 { return i.sequenceNumber }
func (i *LastSyncDistributionImpl) Footprint() string {
	return "LastSyncDistribution:" + strconv.FormatUint(i.globalTime, 10) + "," + strconv.FormatUint(uint64(i.sequenceNumber), 10)
}

func checkSequence(d SyncDistribution, sequenceNumber uint32) error {
	if d.SequenceEnabled() && sequenceNumber == 0 {
		return errors.New("sequence numbers start at 1")
	}
	if !d.SequenceEnabled() && sequenceNumber != 0 {
		return errors.New("sequence numbers are disabled for this distribution")
	}
	return nil
}

func validateDistribution(d Distribution) error {
	switch d := d.(type) {
	case DirectDistribution:
		return nil
	case FullSyncDistribution:
		if !d.SynchronizationDirection.valid() {
			return errors.Errorf("invalid synchronization direction %d", d.SynchronizationDirection)
		}
		return nil
	case LastSyncDistribution:
		if !d.SynchronizationDirection.valid() {
			return errors.Errorf("invalid synchronization direction %d", d.SynchronizationDirection)
		}
		if d.HistorySize <= 0 {
			return errors.Errorf("history size must be positive, got %d", d.HistorySize)
		}
		return nil
	}
	return errors.Errorf("unknown distribution %T", d)
}
