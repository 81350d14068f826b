/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispersy

import (
	"math"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/payload"
)

// accept stores, handles and forwards messages that passed every check and
// then offers them to the pending triggers.
func (c *Community) accept(msgs []*message.Message, forward bool) error {
	d := c.d
	meta := msgs[0].Meta

	var stored []*message.Message
	err := d.db.Update(func() error {
		stored = stored[:0]
		for _, msg := range msgs {
			ok, err := c.store(msg)
			if err != nil {
				return err
			}
			if ok {
				stored = append(stored, msg)
			}
		}
		return nil
	})
	if err != nil {
		return &SaveError{Err: err}
	}
	for _, msg := range stored {
		c.addToRanges(msg.GlobalTime(), msg.Packet)
	}
	for _, msg := range msgs {
		c.timeline.UpdateGlobalTime(msg.GlobalTime())
	}
	if len(stored) > 0 {
		d.metrics.Stored.Add(float64(len(stored)))
		d.storeLogger.Debugf("stored %d %s messages", len(stored), meta.Name)
	}

	// Direct messages we created are requests for others to handle.
	local := msgs[0].Source == (common.Address{})
	if meta.Handle != nil && !(local && meta.IsDirect()) {
		meta.Handle(msgs)
	}
	if forward {
		c.forward(msgs)
	}

	d.triggers.Offer(msgs)
	d.metrics.Triggers.Set(float64(d.triggers.Len()))
	for _, msg := range msgs {
		d.stats.success(msg.Name())
	}
	d.metrics.Accepted.With("meta", meta.Name).Add(float64(len(msgs)))
	return nil
}

// store persists a sync-distributed message. It reports false for
// messages that are not kept.
func (c *Community) store(msg *message.Message) (bool, error) {
	dist, ok := msg.Meta.SyncDistribution()
	if !ok {
		return false, nil
	}

	var cluster uint8
	switch dest := msg.Destination.(type) {
	case *message.SubjectiveDestinationImpl:
		if !dest.IsValid && !mustStore(msg) {
			c.d.storeLogger.Debugf("not storing %s: creator is outside our subjective set", msg.Name())
			return false, nil
		}
		cluster = dest.Cluster()
	case *message.SimilarityDestinationImpl:
		if !dest.IsSimilar && !mustStore(msg) {
			c.d.storeLogger.Debugf("not storing %s: payload is not similar", msg.Name())
			return false, nil
		}
		cluster = dest.Cluster()
	}
	if set, ok := msg.Payload.(*payload.SubjectiveSet); ok {
		cluster = set.Cluster
	}

	nameID, err := c.nameID(msg.Meta)
	if err != nil {
		return false, err
	}
	res, err := c.d.db.Exec(`INSERT INTO sync(community, name, user, global_time, synchronization_direction, distribution_sequence, destination_cluster, packet, priority)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.id, nameID, creatorID(msg), int64(msg.GlobalTime()), int(dist.Direction()), int64(msg.SequenceNumber()),
		int(cluster), msg.Packet, msg.Meta.Priority)
	if err != nil {
		return false, errors.Wrapf(err, "failed storing %s", msg.Name())
	}
	if msg.PacketID, err = res.LastInsertId(); err != nil {
		return false, errors.WithStack(err)
	}

	if _, multi := msg.Authentication.(*message.MultiMemberAuthenticationImpl); multi {
		for _, m := range msg.Members() {
			_, err := c.d.db.Exec(`INSERT OR IGNORE INTO reference_user_sync(user, sync) VALUES(?, ?)`, m.DatabaseID(), msg.PacketID)
			if err != nil {
				return false, errors.Wrap(err, "failed storing member reference")
			}
		}
	}

	if last, ok := dist.(message.LastSyncDistribution); ok {
		if err := c.evict(msg, nameID, last.HistorySize); err != nil {
			return false, err
		}
	}
	return true, nil
}

// evict removes the packets of the creator of msg beyond the newest
// historySize.
func (c *Community) evict(msg *message.Message, nameID int64, historySize int) error {
	ids, err := c.d.db.Int64s(`SELECT id FROM sync WHERE community = ? AND name = ? AND user = ? ORDER BY global_time DESC LIMIT -1 OFFSET ?`,
		c.id, nameID, creatorID(msg), historySize)
	if err != nil {
		return errors.WithMessage(err, "failed selecting old packets")
	}
	for _, id := range ids {
		if _, err := c.d.db.Exec(`DELETE FROM reference_user_sync WHERE sync = ?`, id); err != nil {
			return errors.Wrap(err, "failed deleting member references")
		}
		if _, err := c.d.db.Exec(`DELETE FROM sync WHERE id = ?`, id); err != nil {
			return errors.Wrap(err, "failed deleting old packet")
		}
	}
	if len(ids) > 0 {
		c.d.storeLogger.Debugf("evicted %d old %s packets of %s", len(ids), msg.Name(), msg.Creator())
	}
	return nil
}

func mustStore(msg *message.Message) bool {
	creator := msg.Creator()
	return creator != nil && creator.MustStore()
}

// gtArg converts a global time for use as a query argument.
func gtArg(globalTime uint64) int64 {
	if globalTime > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(globalTime)
}
