/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispersy

import (
	"database/sql"
	"math"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/bloom"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/member"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/payload"
	"github.com/tribler/dispersy/dispersy/util"
)

// syncRange is a global time window together with the Bloom filter over
// the packets we store in it. timeHigh 0 marks the open, newest range.
type syncRange struct {
	timeLow  uint64
	timeHigh uint64
	bloom    *bloom.Filter
	count    int
	maxTime  uint64
}

func (r *syncRange) contains(globalTime uint64) bool {
	return globalTime >= r.timeLow && (r.timeHigh == 0 || globalTime <= r.timeHigh)
}

func (r *syncRange) add(globalTime uint64, packet []byte) {
	r.bloom.Add(packet)
	r.count++
	if globalTime > r.maxTime {
		r.maxTime = globalTime
	}
}

func (c *Community) newRange(timeLow uint64) (*syncRange, error) {
	filter, err := bloom.New(c.d.conf.BloomCapacity, c.d.conf.BloomErrorRate)
	if err != nil {
		return nil, errors.WithMessage(err, "failed creating sync range")
	}
	return &syncRange{timeLow: timeLow, bloom: filter}, nil
}

// addToRanges records a stored packet. Once the open range holds
// BloomCapacity packets it is closed at its newest global time and a new
// open range starts right after it.
func (c *Community) addToRanges(globalTime uint64, packet []byte) {
	if len(c.ranges) == 0 {
		r, err := c.newRange(1)
		if err != nil {
			c.d.syncLogger.Errorf("%+v", err)
			return
		}
		c.ranges = append(c.ranges, r)
	}
	last := c.ranges[len(c.ranges)-1]
	if last.count >= c.d.conf.BloomCapacity && globalTime > last.maxTime {
		next, err := c.newRange(last.maxTime + 1)
		if err != nil {
			c.d.syncLogger.Errorf("%+v", err)
		} else {
			last.timeHigh = last.maxTime
			c.ranges = append(c.ranges, next)
			c.d.syncLogger.Debugf("%s closed sync range [%d, %d]", c, last.timeLow, last.timeHigh)
		}
	}
	for i := len(c.ranges) - 1; i >= 0; i-- {
		if r := c.ranges[i]; r.contains(globalTime) {
			r.add(globalTime, packet)
			return
		}
	}
}

// rebuildRanges recreates the sync ranges from the store.
func (c *Community) rebuildRanges() error {
	first, err := c.newRange(1)
	if err != nil {
		return err
	}
	c.ranges = []*syncRange{first}

	rows, err := c.d.db.Query(`SELECT global_time, packet FROM sync WHERE community = ? ORDER BY global_time`, c.id)
	if err != nil {
		return errors.Wrap(err, "failed reading stored packets")
	}
	type stored struct {
		globalTime uint64
		packet     []byte
	}
	var packets []stored
	for rows.Next() {
		var (
			globalTime int64
			packet     []byte
		)
		if err := rows.Scan(&globalTime, &packet); err != nil {
			rows.Close()
			return errors.Wrap(err, "failed reading stored packet")
		}
		packets = append(packets, stored{globalTime: uint64(globalTime), packet: packet})
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return errors.Wrap(err, "failed reading stored packets")
	}

	for _, p := range packets {
		c.addToRanges(p.globalTime, p.packet)
	}
	c.d.syncLogger.Debugf("%s rebuilt %d sync ranges over %d packets", c, len(c.ranges), len(packets))
	return nil
}

// syncRanges picks the ranges advertised this round: the open range and up
// to BloomCount-1 random closed ones.
func (c *Community) syncRanges() []*syncRange {
	if len(c.ranges) == 0 {
		return nil
	}
	picked := []*syncRange{c.ranges[len(c.ranges)-1]}
	closed := c.ranges[:len(c.ranges)-1]
	n := min(c.d.conf.BloomCount-1, len(closed))
	if n <= 0 {
		return picked
	}
	for _, idx := range util.GetRandomIndices(n, len(closed)-1) {
		picked = append(picked, closed[idx])
	}
	return picked
}

// periodicSync advertises our sync ranges to random candidates.
func (c *Community) periodicSync() {
	if c.state == HardKilled {
		return
	}
	meta := c.mustMeta(message.SyncName)
	for _, r := range c.syncRanges() {
		p := &payload.Sync{TimeLow: r.timeLow, TimeHigh: r.timeHigh, Bloom: r.bloom.Clone()}
		if _, err := c.CreateMessage(meta, p); err != nil {
			c.d.syncLogger.Errorf("failed creating sync: %+v", err)
			return
		}
	}
}

func syncBounds(p *payload.Sync) (int64, int64) {
	high := int64(math.MaxInt64)
	if p.TimeHigh != 0 {
		high = gtArg(p.TimeHigh)
	}
	return gtArg(p.TimeLow), high
}

// checkSync delays a sync request until we know the requester's subjective
// set for every cluster that has packets in the requested range.
func (c *Community) checkSync(msg *message.Message) error {
	requester := msg.Creator()
	low, high := syncBounds(msg.Payload.(*payload.Sync))
	for _, meta := range c.orderedMetas() {
		dest, ok := meta.Destination.(message.SubjectiveDestination)
		if !ok {
			continue
		}
		if _, known := c.SubjectiveSet(requester, dest.Cluster); known {
			continue
		}
		var one int
		err := c.d.db.QueryRow(`SELECT 1 FROM sync WHERE community = ? AND name = ? AND global_time BETWEEN ? AND ? LIMIT 1`,
			c.id, c.nameIDs[meta.Name], low, high).Scan(&one)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "failed looking up subjective packets")
		}
		return message.DelayMessageBySubjectiveSet(msg, requester, dest.Cluster)
	}
	return nil
}

type syncRow struct {
	id       int64
	priority int
	name     int64
	user     int64
	cluster  uint8
}

// syncRowOrders are the per direction orders of a sync response.
var syncRowOrders = []struct {
	direction message.SyncDirection
	order     string
}{
	{message.InOrder, "global_time ASC"},
	{message.OutOrder, "global_time DESC"},
	{message.RandomOrder, "RANDOM()"},
}

func (c *Community) syncRows(direction message.SyncDirection, order string, low, high int64) ([]syncRow, error) {
	rows, err := c.d.db.Query(`SELECT id, priority, name, user, destination_cluster FROM sync
		WHERE community = ? AND synchronization_direction = ? AND undone = 0 AND global_time BETWEEN ? AND ?
		ORDER BY priority DESC, `+order, c.id, int(direction), low, high)
	if err != nil {
		return nil, errors.Wrap(err, "failed selecting sync rows")
	}
	defer rows.Close()
	var result []syncRow
	for rows.Next() {
		var r syncRow
		if err := rows.Scan(&r.id, &r.priority, &r.name, &r.user, &r.cluster); err != nil {
			return nil, errors.Wrap(err, "failed reading sync row")
		}
		result = append(result, r)
	}
	return result, errors.Wrap(rows.Err(), "failed selecting sync rows")
}

// syncResponse selects the packets in the requested range that are not in
// the requester's Bloom filter, highest priority first, within
// SyncResponseLimit bytes.
func (c *Community) syncResponse(requester *member.Member, p *payload.Sync) ([][]byte, error) {
	low, high := syncBounds(p)
	cursors := make([][]syncRow, len(syncRowOrders))
	for i, o := range syncRowOrders {
		rows, err := c.syncRows(o.direction, o.order, low, high)
		if err != nil {
			return nil, err
		}
		cursors[i] = rows
	}

	var (
		packets [][]byte
		total   int
	)
	limit := c.d.conf.SyncResponseLimit
	for {
		next := -1
		for i, rows := range cursors {
			if len(rows) > 0 && (next < 0 || rows[0].priority > cursors[next][0].priority) {
				next = i
			}
		}
		if next < 0 {
			break
		}
		row := cursors[next][0]
		cursors[next] = cursors[next][1:]

		var packet []byte
		if err := c.d.db.QueryRow(`SELECT packet FROM sync WHERE id = ?`, row.id).Scan(&packet); err != nil {
			return nil, errors.Wrap(err, "failed reading packet")
		}
		if p.Bloom.Contains(packet) {
			continue
		}
		if !c.subjectivelyAllowed(requester, row) {
			continue
		}
		if total+len(packet) > limit {
			break
		}
		total += len(packet)
		packets = append(packets, packet)
	}
	return packets, nil
}

// subjectivelyAllowed reports whether the requester wants the packet in
// row, which only matters for SubjectiveDestination messages.
func (c *Community) subjectivelyAllowed(requester *member.Member, row syncRow) bool {
	meta, ok := c.namesByID[row.name]
	if !ok {
		return true
	}
	if _, subjective := meta.Destination.(message.SubjectiveDestination); !subjective {
		return true
	}
	set, ok := c.SubjectiveSet(requester, row.cluster)
	if !ok {
		return false
	}
	creator, err := c.d.registry.GetByID(row.user)
	if err != nil {
		c.d.syncLogger.Warningf("unknown creator %d of packet %d: %v", row.user, row.id, err)
		return false
	}
	return set.Contains(creator.PublicKey())
}

func (c *Community) onSync(msgs []*message.Message) {
	for _, msg := range msgs {
		packets, err := c.syncResponse(msg.Creator(), msg.Payload.(*payload.Sync))
		if err != nil {
			c.d.syncLogger.Errorf("failed answering sync from %s: %+v", msg.Source, err)
			continue
		}
		if len(packets) == 0 {
			continue
		}
		c.d.syncLogger.Debugf("sending %d packets to %s", len(packets), msg.Source)
		c.d.sendPackets(c, []common.Address{msg.Source}, packets)
	}
}

// budget keeps the packets that fit in limit bytes, in order.
func budget(packets [][]byte, limit int) [][]byte {
	total := 0
	for i, packet := range packets {
		if total+len(packet) > limit {
			return packets[:i]
		}
		total += len(packet)
	}
	return packets
}

func (c *Community) onMissingSequence(msgs []*message.Message) {
	limit := c.d.conf.MissingSequenceResponseLimit
	for _, msg := range msgs {
		p := msg.Payload.(*payload.MissingSequence)
		members, err := c.d.registry.GetByMid(p.Mid)
		if err != nil {
			c.d.syncLogger.Errorf("failed looking up %s: %+v", p.Mid, err)
			continue
		}
		var packets [][]byte
		for _, m := range members {
			found, err := c.d.db.Blobs(`SELECT packet FROM sync WHERE community = ? AND name = ? AND user = ? AND distribution_sequence BETWEEN ? AND ?
				ORDER BY distribution_sequence`,
				c.id, c.nameIDs[p.Meta.Name], m.DatabaseID(), int64(p.Low), int64(p.High))
			if err != nil {
				c.d.syncLogger.Errorf("failed reading missing sequence: %+v", err)
				continue
			}
			packets = append(packets, found...)
		}
		if packets = budget(packets, limit); len(packets) > 0 {
			c.d.sendPackets(c, []common.Address{msg.Source}, packets)
		}
	}
}

func (c *Community) onMissingProof(msgs []*message.Message) {
	limit := c.d.conf.MissingProofResponseLimit
	for _, msg := range msgs {
		p := msg.Payload.(*payload.MissingProof)
		packets, err := c.d.db.Blobs(`SELECT packet FROM sync WHERE community = ? AND name IN (?, ?) AND global_time <= ?
			ORDER BY global_time, distribution_sequence`,
			c.id, c.nameIDs[message.AuthorizeName], c.nameIDs[message.RevokeName], gtArg(p.GlobalTime))
		if err != nil {
			c.d.syncLogger.Errorf("failed reading proofs: %+v", err)
			continue
		}
		if packets = budget(packets, limit); len(packets) > 0 {
			c.d.sendPackets(c, []common.Address{msg.Source}, packets)
		}
	}
}

func (c *Community) onIdentityRequest(msgs []*message.Message) {
	for _, msg := range msgs {
		p := msg.Payload.(*payload.IdentityRequest)
		packets, err := c.d.db.Blobs(`SELECT sync.packet FROM sync JOIN user ON user.id = sync.user
			WHERE sync.community = ? AND sync.name = ? AND user.mid = ? ORDER BY sync.global_time DESC LIMIT ?`,
			c.id, c.nameIDs[message.IdentityName], p.Mid.Bytes(), c.d.conf.IdentityResponseLimit)
		if err != nil {
			c.d.syncLogger.Errorf("failed reading identity of %s: %+v", p.Mid, err)
			continue
		}
		if len(packets) > 0 {
			c.d.sendPackets(c, []common.Address{msg.Source}, packets)
		}
	}
}

func (c *Community) onSubjectiveSetRequest(msgs []*message.Message) {
	for _, msg := range msgs {
		p := msg.Payload.(*payload.SubjectiveSetRequest)
		var packets [][]byte
		for _, mid := range p.Mids {
			found, err := c.d.db.Blobs(`SELECT sync.packet FROM sync JOIN user ON user.id = sync.user
				WHERE sync.community = ? AND sync.name = ? AND sync.destination_cluster = ? AND user.mid = ?`,
				c.id, c.nameIDs[message.SubjectiveSetName], int(p.Cluster), mid.Bytes())
			if err != nil {
				c.d.syncLogger.Errorf("failed reading subjective set of %s: %+v", mid, err)
				continue
			}
			packets = append(packets, found...)
		}
		if len(packets) > 0 {
			c.d.sendPackets(c, []common.Address{msg.Source}, packets)
		}
	}
}
