/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispersy

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/bloom"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/conversion"
	"github.com/tribler/dispersy/dispersy/member"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/payload"
	"github.com/tribler/dispersy/dispersy/timeline"
	"github.com/tribler/dispersy/dispersy/util"
)

// State is the lifecycle state of a community.
type State int

const (
	Running State = iota
	SoftKilled
	HardKilled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case SoftKilled:
		return "soft-killed"
	case HardKilled:
		return "hard-killed"
	}
	return "unknown"
}

type subjectiveKey struct {
	member  int64
	cluster uint8
}

type subjectiveSet struct {
	globalTime uint64
	members    *bloom.Filter
}

// SimilarityFunc decides whether a message with a SimilarityDestination is
// kept.
type SimilarityFunc func(meta *message.Meta, creator *member.Member, payload interface{}) bool

// Community is one overlay instance: a set of meta messages, the
// conversion that puts them on the wire, a permission timeline and the
// sync state of the stored packets.
type Community struct {
	d              *Dispersy
	id             int64
	cid            common.CID
	classification string
	master         *member.Member
	my             *member.Member
	overlay        Overlay
	metas          map[string]*message.Meta
	conv           *conversion.Conversion
	timeline       *timeline.Timeline
	ranges         []*syncRange
	state          State
	subjective     map[subjectiveKey]*subjectiveSet
	similar        SimilarityFunc
	nameIDs        map[string]int64
	namesByID      map[int64]*message.Meta
	logger         util.Logger
}

// CID implements conversion.Community.
func (c *Community) CID() common.CID { return c.cid }

// Members implements conversion.Community.
func (c *Community) Members() *member.Registry { return c.d.registry }

func (c *Community) DatabaseID() int64                  { return c.id }
func (c *Community) Classification() string             { return c.classification }
func (c *Community) MasterMember() *member.Member       { return c.master }
func (c *Community) MyMember() *member.Member           { return c.my }
func (c *Community) Overlay() Overlay                   { return c.overlay }
func (c *Community) Conversion() *conversion.Conversion { return c.conv }
func (c *Community) Timeline() *timeline.Timeline       { return c.timeline }
func (c *Community) State() State                       { return c.state }
func (c *Community) IsHardKilled() bool                 { return c.state == HardKilled }
func (c *Community) GlobalTime() uint64                 { return c.timeline.GlobalTime() }

// Meta returns the meta message called name.
func (c *Community) Meta(name string) (*message.Meta, error) {
	meta, ok := c.metas[name]
	if !ok {
		return nil, errors.Errorf("community %s has no meta message %s", c.cid, name)
	}
	return meta, nil
}

func (c *Community) mustMeta(name string) *message.Meta {
	meta, err := c.Meta(name)
	if err != nil {
		panic(err)
	}
	return meta
}

// IsSubjectivelyValid implements conversion.Community. Our own messages are
// always valid; others must be in the subjective set we published.
func (c *Community) IsSubjectivelyValid(cluster uint8, creator *member.Member) bool {
	if creator == nil {
		return false
	}
	if member.Equal(creator, c.my) {
		return true
	}
	set, ok := c.subjective[subjectiveKey{member: c.my.DatabaseID(), cluster: cluster}]
	return ok && set.members.Contains(creator.PublicKey())
}

// IsSimilar implements conversion.Community.
func (c *Community) IsSimilar(meta *message.Meta, creator *member.Member, p interface{}) bool {
	return c.similar != nil && c.similar(meta, creator, p)
}

// SetSimilarityFunc installs the predicate for SimilarityDestination
// messages.
func (c *Community) SetSimilarityFunc(fn SimilarityFunc) {
	c.similar = fn
}

// SubjectiveSet returns the stored subjective set of m for cluster.
func (c *Community) SubjectiveSet(m *member.Member, cluster uint8) (*bloom.Filter, bool) {
	set, ok := c.subjective[subjectiveKey{member: m.DatabaseID(), cluster: cluster}]
	if !ok {
		return nil, false
	}
	return set.members, true
}

func (c *Community) String() string {
	return fmt.Sprintf("community:%s(%s)", c.cid.String()[:10], c.classification)
}

func (c *Community) nameID(meta *message.Meta) (int64, error) {
	if id, ok := c.nameIDs[meta.Name]; ok {
		return id, nil
	}
	id, err := c.d.db.NameID(meta.Name)
	if err != nil {
		return 0, err
	}
	c.nameIDs[meta.Name] = id
	c.namesByID[id] = meta
	return id, nil
}

func (c *Community) taskID(kind string) string {
	return "id:" + kind + "-" + c.cid.String()
}

// CreateCommunity creates a new community with a fresh master member. my
// is authorized by the master for every permission on every meta message
// with a LinearResolution.
func (d *Dispersy) CreateCommunity(classification string, my *member.Member) (*Community, error) {
	if !my.IsPrivate() {
		return nil, errors.Errorf("%s has no private key", my)
	}
	if _, ok := d.classifications[classification]; !ok {
		return nil, errors.Errorf("unknown classification %s", classification)
	}
	master, err := d.registry.Generate(d.conf.MasterKeyStrength)
	if err != nil {
		return nil, errors.WithMessage(err, "failed generating master member")
	}
	c, err := d.LoadCommunity(classification, master.PublicKey(), my)
	if err != nil {
		return nil, err
	}

	var triplets []message.Triplet
	for _, meta := range c.orderedMetas() {
		if _, linear := meta.Resolution.(message.LinearResolution); !linear {
			continue
		}
		for _, p := range message.Permissions {
			triplets = append(triplets, message.Triplet{Member: my, Meta: meta, Permission: p})
		}
	}
	if len(triplets) > 0 {
		if _, err := c.CreateAuthorize(triplets, WithMember(master)); err != nil {
			return nil, errors.WithMessage(err, "failed authorizing community creator")
		}
	}
	d.logger.Infof("created %s", c)
	return c, nil
}

// LoadCommunity joins the community whose master has masterPublicKey. The
// community row is created when missing and my publishes its identity
// unless one is already stored.
func (d *Dispersy) LoadCommunity(classification string, masterPublicKey []byte, my *member.Member) (*Community, error) {
	if _, ok := d.classifications[classification]; !ok {
		return nil, errors.Errorf("unknown classification %s", classification)
	}
	master, err := d.registry.GetOrCreate(masterPublicKey)
	if err != nil {
		return nil, errors.WithMessage(err, "invalid master member")
	}
	cid := common.CID(master.Mid())
	if c, ok := d.communities[cid]; ok {
		return c, nil
	}

	_, err = d.db.Exec(`INSERT OR IGNORE INTO community(user, classification, cid, public_key, auto_load) VALUES(?, ?, ?, ?, 1)`,
		my.DatabaseID(), classification, cid[:], masterPublicKey)
	if err != nil {
		return nil, &SaveError{Err: errors.Wrap(err, "failed inserting community")}
	}
	c, err := d.AttachCommunity(cid)
	if err != nil {
		return nil, err
	}

	var stored int
	err = d.db.QueryRow(`SELECT COUNT(*) FROM sync WHERE community = ? AND user = ? AND name = ?`,
		c.id, my.DatabaseID(), c.nameIDs[message.IdentityName]).Scan(&stored)
	if err != nil {
		return nil, errors.Wrap(err, "failed looking up identity")
	}
	if stored == 0 && c.state != HardKilled {
		if _, err := c.CreateIdentity(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AttachCommunity loads the stored community cid.
func (d *Dispersy) AttachCommunity(cid common.CID) (*Community, error) {
	if c, ok := d.communities[cid]; ok {
		return c, nil
	}
	var (
		id             int64
		userID         int64
		classification string
		masterKey      []byte
	)
	err := d.db.QueryRow(`SELECT id, user, classification, public_key FROM community WHERE cid = ? ORDER BY id LIMIT 1`, cid[:]).
		Scan(&id, &userID, &classification, &masterKey)
	if err == sql.ErrNoRows {
		return nil, &UnknownCommunityError{CID: cid}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed reading community")
	}
	factory, ok := d.classifications[classification]
	if !ok {
		return nil, errors.Errorf("community %s has unknown classification %s", cid, classification)
	}
	my, err := d.registry.GetByID(userID)
	if err != nil {
		return nil, err
	}
	master, err := d.registry.GetOrCreate(masterKey)
	if err != nil {
		return nil, err
	}

	c := &Community{
		d:              d,
		id:             id,
		cid:            cid,
		classification: classification,
		master:         master,
		my:             my,
		overlay:        factory(),
		metas:          map[string]*message.Meta{},
		subjective:     map[subjectiveKey]*subjectiveSet{},
		nameIDs:        map[string]int64{},
		namesByID:      map[int64]*message.Meta{},
		logger:         d.logger,
	}
	c.timeline = timeline.New(master, util.GetLogger(util.TimelineLogger, d.lanAddress.String()))
	c.conv = conversion.New(c, conversion.DefaultVersion)
	if err := c.defineMetas(); err != nil {
		return nil, err
	}
	if err := c.load(); err != nil {
		return nil, err
	}

	d.communities[cid] = c
	d.metrics.Communities.Set(float64(len(d.communities)))
	if c.state != HardKilled {
		c.startTasks()
	}
	d.logger.Infof("attached %s at global time %d", c, c.GlobalTime())
	return c, nil
}

// DetachCommunity stops the periodic tasks of cid and forgets it. The
// stored state is kept.
func (d *Dispersy) DetachCommunity(cid common.CID) error {
	c, ok := d.communities[cid]
	if !ok {
		return &UnknownCommunityError{CID: cid}
	}
	d.detach(c)
	return nil
}

func (d *Dispersy) detach(c *Community) {
	c.stopTasks()
	delete(d.communities, c.cid)
	d.metrics.Communities.Set(float64(len(d.communities)))
	d.logger.Infof("detached %s", c)
}

// ReclassifyCommunity changes the classification of cid and reloads it.
func (d *Dispersy) ReclassifyCommunity(cid common.CID, classification string) (*Community, error) {
	if _, ok := d.classifications[classification]; !ok {
		return nil, errors.Errorf("unknown classification %s", classification)
	}
	if c, ok := d.communities[cid]; ok {
		d.detach(c)
	}
	res, err := d.db.Exec(`UPDATE community SET classification = ? WHERE cid = ?`, classification, cid[:])
	if err != nil {
		return nil, &SaveError{Err: errors.Wrap(err, "failed reclassifying community")}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &UnknownCommunityError{CID: cid}
	}
	return d.AttachCommunity(cid)
}

// SetAutoLoad sets whether packets for cid load the community when it is
// not attached.
func (d *Dispersy) SetAutoLoad(cid common.CID, autoLoad bool) error {
	_, err := d.db.Exec(`UPDATE community SET auto_load = ? WHERE cid = ?`, autoLoad, cid[:])
	return errors.Wrap(err, "failed updating auto load")
}

// communityFor returns the attached community cid, loading it when it
// is stored with auto_load set.
func (d *Dispersy) communityFor(cid common.CID) (*Community, error) {
	if c, ok := d.communities[cid]; ok {
		return c, nil
	}
	var autoLoad bool
	err := d.db.QueryRow(`SELECT auto_load FROM community WHERE cid = ? ORDER BY id LIMIT 1`, cid[:]).Scan(&autoLoad)
	if err == sql.ErrNoRows || (err == nil && !autoLoad) {
		return nil, &UnknownCommunityError{CID: cid}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed reading community")
	}
	return d.AttachCommunity(cid)
}

func (c *Community) defineMetas() error {
	for _, meta := range c.builtinMetas() {
		meta.CID = c.cid
		if err := meta.Validate(); err != nil {
			return err
		}
		if err := c.conv.DefineBuiltin(meta); err != nil {
			return err
		}
		c.metas[meta.Name] = meta
	}

	own := c.overlay.MetaMessages(c)
	for _, meta := range own {
		meta.CID = c.cid
		if meta.Priority == 0 {
			meta.Priority = message.DefaultPriority
		}
		if err := meta.Validate(); err != nil {
			return err
		}
		if conversion.IsBuiltin(meta.Name) {
			return errors.Errorf("meta message %s shadows a built-in message", meta.Name)
		}
		if _, exists := c.metas[meta.Name]; exists {
			return errors.Errorf("meta message %s is defined twice", meta.Name)
		}
		c.metas[meta.Name] = meta
	}
	if err := c.conv.DefineCommunity(own, c.overlay.Codecs()); err != nil {
		return err
	}

	for _, meta := range c.metas {
		if _, err := c.nameID(meta); err != nil {
			return err
		}
	}
	return nil
}

// orderedMetas returns the meta messages in wire byte order.
func (c *Community) orderedMetas() []*message.Meta {
	var metas []*message.Meta
	for b := 1; b < 256; b++ {
		if meta, ok := c.conv.MetaForByte(byte(b)); ok {
			metas = append(metas, meta)
		}
	}
	return metas
}

// load rebuilds the in-memory state from the store: the global time, the
// permission timeline, the destroy state, the subjective sets and the
// sync ranges.
func (c *Community) load() error {
	var globalTime int64
	if err := c.d.db.QueryRow(`SELECT COALESCE(MAX(global_time), 0) FROM sync WHERE community = ?`, c.id).Scan(&globalTime); err != nil {
		return errors.Wrap(err, "failed reading global time")
	}
	c.timeline.UpdateGlobalTime(uint64(globalTime))

	permissions, err := c.storedMessages(message.AuthorizeName, message.RevokeName)
	if err != nil {
		return err
	}
	for _, msg := range permissions {
		if err := c.applyPermission(msg); err != nil {
			c.logger.Warningf("ignoring stored %s: %v", msg.Name(), err)
		}
	}

	destroys, err := c.storedMessages(message.DestroyCommunityName)
	if err != nil {
		return err
	}
	for _, msg := range destroys {
		c.applyDestroy(msg, false)
	}

	sets, err := c.storedMessages(message.SubjectiveSetName)
	if err != nil {
		return err
	}
	for _, msg := range sets {
		c.updateSubjectiveSet(msg)
	}

	return c.rebuildRanges()
}

// storedMessages decodes the stored packets of the named metas in global
// time order.
func (c *Community) storedMessages(names ...string) ([]*message.Message, error) {
	var result []*message.Message
	for _, name := range names {
		meta := c.mustMeta(name)
		packets, err := c.d.db.Blobs(`SELECT packet FROM sync WHERE community = ? AND name = ? ORDER BY global_time, packet`,
			c.id, c.nameIDs[meta.Name])
		if err != nil {
			return nil, errors.WithMessage(err, "failed reading stored "+name)
		}
		for _, packet := range packets {
			msg, err := c.conv.DecodeMessage(common.ZeroAddress, packet, conversion.DecodeOptions{})
			if err != nil {
				c.logger.Warningf("ignoring undecodable stored %s: %v", name, err)
				continue
			}
			result = append(result, msg)
		}
	}
	sortMessages(result)
	return result, nil
}

// applyPermission records an authorize or revoke message in the timeline.
func (c *Community) applyPermission(msg *message.Message) error {
	p, ok := msg.Payload.(message.PermissionPayload)
	if !ok {
		return nil
	}
	switch msg.Name() {
	case message.AuthorizeName:
		return c.timeline.Authorize(msg.Creator(), msg.GlobalTime(), p.Triplets(), msg.Packet)
	case message.RevokeName:
		return c.timeline.Revoke(msg.Creator(), msg.GlobalTime(), p.Triplets(), msg.Packet)
	}
	return nil
}

// retractPermission removes what applyPermission recorded for msg.
func (c *Community) retractPermission(msg *message.Message) {
	p, ok := msg.Payload.(message.PermissionPayload)
	if !ok || (msg.Name() != message.AuthorizeName && msg.Name() != message.RevokeName) {
		return
	}
	c.timeline.Forget(msg.GlobalTime(), p.Triplets(), msg.Packet)
}

func (c *Community) updateSubjectiveSet(msg *message.Message) {
	p, ok := msg.Payload.(*payload.SubjectiveSet)
	if !ok || msg.Creator() == nil {
		return
	}
	key := subjectiveKey{member: msg.Creator().DatabaseID(), cluster: p.Cluster}
	if current, ok := c.subjective[key]; ok && current.globalTime >= msg.GlobalTime() {
		return
	}
	c.subjective[key] = &subjectiveSet{globalTime: msg.GlobalTime(), members: p.Members}
}

// AddCandidate tells the community about a peer, as if a third party had
// introduced it just now.
func (c *Community) AddCandidate(addr common.Address) error {
	if c.state == HardKilled {
		return errors.Errorf("%s is destroyed", c)
	}
	return c.touchCandidate(addr, external)
}

func (c *Community) startTasks() {
	conf := c.d.conf
	sched := c.d.scheduler
	sched.AddPeriodicTask(c.periodicSync, conf.SyncInterval, conf.SyncInterval, c.taskID("sync"))
	sched.AddPeriodicTask(c.periodicCandidateRequest, conf.CandidateRequestInterval, conf.CandidateRequestInterval, c.taskID("candidate"))
	sched.AddPeriodicTask(c.periodicCleanup, conf.CandidateCleanupInterval, conf.CandidateCleanupInterval, c.taskID("cleanup"))
}

func (c *Community) stopTasks() {
	for _, kind := range []string{"sync", "candidate", "cleanup"} {
		c.d.scheduler.KillTasks(c.taskID(kind))
	}
}
