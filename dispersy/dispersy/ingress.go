/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispersy

import (
	"bytes"
	"database/sql"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/conversion"
	"github.com/tribler/dispersy/dispersy/message"
)

// Statistic keys of the ingress pipeline. Drop reasons double as the
// statistic key, so they never carry formatted values.
const (
	dropDuplicatePacket   = "duplicate packet"
	dropInvalidSource     = "invalid source"
	dropUnknownCommunity  = "unknown community"
	dropUnknownConversion = "unknown conversion"
	dropPacket            = "invalid packet"
	dropBlacklisted       = "blacklisted member"
	dropFrozen            = "community frozen"
	dropDestroyed         = "community destroyed"
	dropGlobalTime        = "global time out of range"
	dropBatchDuplicate    = "duplicate in batch"
	dropSequence          = "duplicate by sequence"
	dropDuplicate         = "duplicate"
	dropMalicious         = "malicious"
	dropOld               = "old by global time"
	dropNotPermitted      = "not permitted"
	delayPacket           = "delay packet"
	delayMessage          = "delay message"
)

type packetBatch struct {
	community *Community
	meta      *message.Meta
	packets   []common.PacketIn
}

// OnIncomingPackets runs datagrams through the ingress pipeline. Packets
// are grouped per community and meta message and the groups are processed
// in order of descending meta message priority.
func (d *Dispersy) OnIncomingPackets(packets []common.PacketIn) {
	d.stats.receive(len(packets))
	d.metrics.Received.Add(float64(len(packets)))

	seen := mapset.NewThreadUnsafeSet[string]()
	var order []*packetBatch
	index := map[*message.Meta]*packetBatch{}

	for _, p := range packets {
		if !seen.Add(string(p.Data)) {
			d.dropped(dropDuplicatePacket, "duplicate packet from %s", p.Source)
			continue
		}
		if !d.isValidSource(p.Source) {
			d.dropped(dropInvalidSource, "packet from invalid source %s", p.Source)
			continue
		}
		if len(p.Data) < conversion.HeaderSize {
			d.dropped(dropPacket, "packet of %d bytes from %s is too short", len(p.Data), p.Source)
			continue
		}
		cid, _ := common.CIDFromBytes(p.Data[:common.IDLength])
		c, err := d.communityFor(cid)
		if err != nil {
			d.ingressLogger.Warningf("dropping packet from %s: %v", p.Source, err)
			d.dropped(dropUnknownCommunity, "%v", err)
			continue
		}
		if !c.conv.CanDecode(p.Data) {
			var version [2]byte
			copy(version[:], p.Data[common.IDLength:conversion.PrefixSize])
			err := &UnknownConversionError{CID: cid, Version: version}
			d.ingressLogger.Warningf("dropping packet from %s: %v", p.Source, err)
			d.dropped(dropUnknownConversion, "%v", err)
			continue
		}
		meta, err := c.conv.DecodeMetaMessage(p.Data)
		if err != nil {
			d.dropped(dropPacket, "%v", err)
			continue
		}
		b, ok := index[meta]
		if !ok {
			b = &packetBatch{community: c, meta: meta}
			index[meta] = b
			order = append(order, b)
		}
		b.packets = append(b.packets, p)
	}

	for _, b := range order {
		if b.community.state == HardKilled {
			continue
		}
		for _, p := range b.packets {
			if err := b.community.touchCandidate(p.Source, incoming); err != nil {
				d.candidateLogger.Errorf("failed updating candidate %s: %+v", p.Source, err)
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].meta.Priority > order[j].meta.Priority
	})
	for _, b := range order {
		d.onPacketBatch(b.community, b.packets)
	}
}

// onPacketBatch decodes packets that share a community and meta message.
func (d *Dispersy) onPacketBatch(c *Community, packets []common.PacketIn) {
	var msgs []*message.Message
	for _, p := range packets {
		msg, err := c.conv.DecodeMessage(p.Source, p.Data, conversion.DecodeOptions{})
		if err != nil {
			d.onPacketError(c, p, err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) > 0 {
		d.onMessageBatch(c, msgs)
	}
}

func (d *Dispersy) onPacketError(c *Community, p common.PacketIn, err error) {
	switch e := err.(type) {
	case *message.DelayPacket:
		d.stats.delay(delayPacket)
		d.metrics.Delayed.With("kind", "packet").Add(1)
		d.ingressLogger.Debugf("delaying packet from %s: %s", p.Source, e.Reason)
		retry := func(*message.Message) {
			if d.communities[c.cid] == c {
				d.OnIncomingPackets([]common.PacketIn{p})
			}
		}
		if aerr := d.AwaitMessage(e.Pattern, retry, nil, d.conf.TriggerTimeout, 1); aerr != nil {
			d.ingressLogger.Errorf("failed delaying packet: %+v", aerr)
			return
		}
		c.sendRequest(e.Request, p.Source)
	case *message.DropPacket:
		d.dropped(dropPacket, "packet from %s: %s", p.Source, e.Reason)
	default:
		d.ingressLogger.Errorf("failed decoding packet from %s: %+v", p.Source, err)
		d.dropped(dropPacket, "%v", err)
	}
}

// onMessageBatch runs decoded messages of one meta message through the
// acceptance checks, then stores, handles and forwards the survivors.
func (d *Dispersy) onMessageBatch(c *Community, msgs []*message.Message) {
	if len(msgs) == 0 {
		return
	}
	start := time.Now()
	defer func() {
		d.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}()

	meta := msgs[0].Meta
	sortMessages(msgs)
	batch := c.newBatchCheck(meta)
	accepted := make([]*message.Message, 0, len(msgs))
	for _, msg := range msgs {
		if err := batch.check(msg); err != nil {
			d.reject(c, msg, err)
			continue
		}
		accepted = append(accepted, msg)
	}
	if len(accepted) == 0 {
		return
	}

	forward := false
	if _, ok := meta.SyncDistribution(); ok && d.conf.ForwardIncoming {
		forward = true
	}
	if err := c.accept(accepted, forward); err != nil {
		for _, msg := range accepted {
			c.retractPermission(msg)
		}
		d.ingressLogger.Errorf("failed accepting %d %s messages: %+v", len(accepted), meta.Name, err)
	}
}

func (d *Dispersy) reject(c *Community, msg *message.Message, err error) {
	switch e := err.(type) {
	case *message.DropMessage:
		d.dropped(e.Reason, "%s from %s at global time %d", msg.Name(), msg.Source, msg.GlobalTime())
	case *message.DelayMessage:
		d.delayMessage(c, e)
	default:
		d.ingressLogger.Warningf("dropping %s from %s: %+v", msg.Name(), msg.Source, err)
		d.dropped(dropPacket, "%v", err)
	}
}

// delayMessage parks the delayed message until a message matching the
// delay pattern is accepted and asks the source for it.
func (d *Dispersy) delayMessage(c *Community, delay *message.DelayMessage) {
	d.stats.delay(delayMessage)
	d.metrics.Delayed.With("kind", "message").Add(1)
	delayed := delay.Delayed
	d.ingressLogger.Debugf("delaying %s from %s: %s", delayed.Name(), delayed.Source, delay.Reason)

	retry := func(*message.Message) {
		if d.communities[c.cid] == c {
			d.onMessageBatch(c, []*message.Message{delayed})
		}
	}
	if err := d.AwaitMessage(delay.Pattern, retry, nil, d.conf.TriggerTimeout, 1); err != nil {
		d.ingressLogger.Errorf("failed delaying message: %+v", err)
		return
	}
	c.sendRequest(delay.Request, delayed.Source)
}

func (d *Dispersy) dropped(reason string, format string, args ...interface{}) {
	d.stats.drop(reason)
	d.metrics.Dropped.With("kind", reason).Add(1)
	d.ingressLogger.Debugf("%s: "+format, append([]interface{}{reason}, args...)...)
}

func (d *Dispersy) checkCreator(msg *message.Message) error {
	for _, m := range msg.Members() {
		if m.MustBlacklist() || m.MustIgnore() {
			return message.NewDropMessage(msg, dropBlacklisted)
		}
	}
	return nil
}

func (c *Community) checkState(msg *message.Message) error {
	switch c.state {
	case HardKilled:
		if msg.Name() != message.DestroyCommunityName && msg.Name() != message.IdentityName {
			return message.NewDropMessage(msg, dropDestroyed)
		}
	case SoftKilled:
		if _, ok := msg.Meta.SyncDistribution(); !ok || msg.Name() == message.DestroyCommunityName {
			return nil
		}
		if freezeAt, frozen := c.timeline.Frozen(); frozen && msg.GlobalTime() > freezeAt {
			return message.NewDropMessage(msg, dropFrozen)
		}
	}
	return nil
}

func (c *Community) checkGlobalTimeRange(msg *message.Message) error {
	if msg.GlobalTime() > c.timeline.GlobalTime()+c.d.conf.AcceptableGlobalTimeRange {
		return message.NewDropMessage(msg, dropGlobalTime)
	}
	return nil
}

// checkTimeline delays messages the timeline does not permit until a proof
// arrives.
func (c *Community) checkTimeline(msg *message.Message) error {
	if c.timeline.Check(msg) {
		return nil
	}
	if msg.Creator() == nil {
		return message.NewDropMessage(msg, dropNotPermitted)
	}
	return message.DelayMessageByProof(msg)
}

type batchKey struct {
	creator    int64
	globalTime uint64
}

// batchCheck carries the per-creator state of one batch through the
// acceptance checks. Sequence numbers and last-sync history only advance
// for messages that passed every check, so a message rejected late delays
// the later sequence numbers of its creator.
type batchCheck struct {
	c         *Community
	meta      *message.Meta
	dist      message.SyncDistribution
	seen      map[batchKey]bool
	sequences map[int64]uint32
	lastSync  *lastSyncTimes
}

func (c *Community) newBatchCheck(meta *message.Meta) *batchCheck {
	b := &batchCheck{
		c:         c,
		meta:      meta,
		seen:      map[batchKey]bool{},
		sequences: map[int64]uint32{},
	}
	if dist, ok := meta.SyncDistribution(); ok {
		b.dist = dist
		if ls, ok := dist.(message.LastSyncDistribution); ok {
			b.lastSync = newLastSyncTimes(c, meta, ls.HistorySize)
		}
	}
	return b
}

// check runs every acceptance check on msg. Accepted permission messages
// are applied to the timeline right away so later messages in the batch
// see them.
func (b *batchCheck) check(msg *message.Message) error {
	c := b.c
	checks := []func(*message.Message) error{
		c.d.checkCreator,
		c.checkState,
		c.checkGlobalTimeRange,
		b.checkDistribution,
		c.checkTimeline,
	}
	if b.meta.Check != nil {
		checks = append(checks, b.meta.Check)
	}
	for _, check := range checks {
		if err := check(msg); err != nil {
			return err
		}
	}
	if err := c.applyPermission(msg); err != nil {
		c.logger.Debugf("rejecting %s: %v", msg.Name(), err)
		return message.NewDropMessage(msg, dropNotPermitted)
	}
	b.commit(msg)
	return nil
}

// checkDistribution rejects in-batch and stored duplicates, messages too
// old for their last-sync history and sequence numbers out of order.
func (b *batchCheck) checkDistribution(msg *message.Message) error {
	if b.dist == nil {
		return nil
	}
	k := batchKey{creator: creatorID(msg), globalTime: msg.GlobalTime()}
	if b.seen[k] {
		return message.NewDropMessage(msg, dropBatchDuplicate)
	}
	b.seen[k] = true

	if b.lastSync != nil {
		if err := b.lastSync.check(msg); err != nil {
			return err
		}
	}
	if b.dist.SequenceEnabled() {
		seqDB, err := b.sequence(k.creator)
		if err != nil {
			return err
		}
		seq := msg.SequenceNumber()
		switch {
		case seq <= seqDB:
			return message.NewDropMessage(msg, dropSequence)
		case seq > seqDB+1:
			return message.DelayMessageBySequence(msg, seqDB+1, seq-1)
		}
	}
	return b.c.checkStored(msg)
}

func (b *batchCheck) sequence(creator int64) (uint32, error) {
	if seq, ok := b.sequences[creator]; ok {
		return seq, nil
	}
	seq, err := b.c.lastSequence(b.meta, creator)
	if err != nil {
		return 0, err
	}
	b.sequences[creator] = seq
	return seq, nil
}

func (b *batchCheck) commit(msg *message.Message) {
	if b.dist == nil {
		return
	}
	if b.dist.SequenceEnabled() {
		b.sequences[creatorID(msg)] = msg.SequenceNumber()
	}
	if b.lastSync != nil {
		b.lastSync.add(msg)
	}
}

// checkStored rejects msg when (community, creator, global time) is
// already taken. A different packet under the same key is proof of a
// malicious creator and is recorded.
func (c *Community) checkStored(msg *message.Message) error {
	var packet []byte
	err := c.d.db.QueryRow(`SELECT packet FROM sync WHERE community = ? AND user = ? AND global_time = ?`,
		c.id, creatorID(msg), int64(msg.GlobalTime())).Scan(&packet)
	switch {
	case err == nil:
	case err == sql.ErrNoRows:
		return nil
	default:
		return errors.Wrap(err, "failed looking up stored packet")
	}
	if bytes.Equal(packet, msg.Packet) {
		return message.NewDropMessage(msg, dropDuplicate)
	}
	_, err = c.d.db.Exec(`INSERT INTO malicious_proof(community, user, packet) VALUES(?, ?, ?)`, c.id, creatorID(msg), msg.Packet)
	if err != nil {
		c.logger.Errorf("failed storing malicious proof: %+v", err)
	}
	c.logger.Warningf("%s created two packets at global time %d", msg.Creator(), msg.GlobalTime())
	return message.NewDropMessage(msg, dropMalicious)
}

func (c *Community) lastSequence(meta *message.Meta, creator int64) (uint32, error) {
	var seq int64
	err := c.d.db.QueryRow(`SELECT COALESCE(MAX(distribution_sequence), 0) FROM sync WHERE community = ? AND name = ? AND user = ?`,
		c.id, c.nameIDs[meta.Name], creator).Scan(&seq)
	if err != nil {
		return 0, errors.Wrap(err, "failed reading sequence number")
	}
	return uint32(seq), nil
}

// lastSyncTimes tracks the global times stored per creator for a meta
// message with a LastSyncDistribution.
type lastSyncTimes struct {
	c           *Community
	meta        *message.Meta
	historySize int
	times       map[int64][]uint64
}

func newLastSyncTimes(c *Community, meta *message.Meta, historySize int) *lastSyncTimes {
	return &lastSyncTimes{c: c, meta: meta, historySize: historySize, times: map[int64][]uint64{}}
}

func (l *lastSyncTimes) load(creator int64) ([]uint64, error) {
	if times, ok := l.times[creator]; ok {
		return times, nil
	}
	stored, err := l.c.d.db.Int64s(`SELECT global_time FROM sync WHERE community = ? AND name = ? AND user = ? ORDER BY global_time DESC LIMIT ?`,
		l.c.id, l.c.nameIDs[l.meta.Name], creator, l.historySize)
	if err != nil {
		return nil, err
	}
	times := make([]uint64, len(stored))
	for idx, gt := range stored {
		times[len(stored)-1-idx] = uint64(gt)
	}
	l.times[creator] = times
	return times, nil
}

func (l *lastSyncTimes) check(msg *message.Message) error {
	times, err := l.load(creatorID(msg))
	if err != nil {
		return err
	}
	if len(times) >= l.historySize && msg.GlobalTime() < times[0] {
		return message.NewDropMessage(msg, dropOld)
	}
	return nil
}

func (l *lastSyncTimes) add(msg *message.Message) {
	id := creatorID(msg)
	times := append(l.times[id], msg.GlobalTime())
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	if len(times) > l.historySize {
		times = times[len(times)-l.historySize:]
	}
	l.times[id] = times
}

func creatorID(msg *message.Message) int64 {
	if creator := msg.Creator(); creator != nil {
		return creator.DatabaseID()
	}
	return 0
}

// sortMessages orders messages by global time, then packet bytes.
func sortMessages(msgs []*message.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].GlobalTime() != msgs[j].GlobalTime() {
			return msgs[i].GlobalTime() < msgs[j].GlobalTime()
		}
		return bytes.Compare(msgs[i].Packet, msgs[j].Packet) < 0
	})
}
