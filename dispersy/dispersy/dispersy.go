/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package dispersy is the overlay: it loads communities, runs incoming
// packets through the batch pipeline, stores and forwards messages, keeps
// peers in sync and walks the candidate table.
package dispersy

import (
	"sort"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/tribler/dispersy/common/metrics"
	"github.com/tribler/dispersy/dispersy/comm"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/conversion"
	"github.com/tribler/dispersy/dispersy/member"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/scheduler"
	"github.com/tribler/dispersy/dispersy/store"
	"github.com/tribler/dispersy/dispersy/trigger"
	"github.com/tribler/dispersy/dispersy/util"
)

const triggerExpiryInterval = time.Second

// Overlay is the application specific part of a community.
type Overlay interface {
	// MetaMessages returns the community's own meta messages in wire
	// order. The CID of every meta is set by the community.
	MetaMessages(c *Community) []*message.Meta

	// Codecs returns the payload codecs by meta message name. Metas without
	// a codec carry payload.Raw.
	Codecs() map[string]conversion.Codec
}

// OverlayFactory creates the overlay of a community being loaded.
type OverlayFactory func() Overlay

// Dispersy owns the message store, the endpoint and every attached
// community. All methods must be called from the scheduler's event loop.
type Dispersy struct {
	conf            Config
	db              *store.DB
	registry        *member.Registry
	endpoint        comm.Endpoint
	scheduler       *scheduler.Scheduler
	triggers        *trigger.List
	communities     map[common.CID]*Community
	classifications map[string]OverlayFactory
	lanAddress      common.Address
	wanAddress      common.Address
	wanVotes        map[common.Address]mapset.Set[common.Address]
	stats           *statistics
	metrics         *Metrics
	stopFlag        int32

	logger          util.Logger
	ingressLogger   util.Logger
	storeLogger     util.Logger
	syncLogger      util.Logger
	candidateLogger util.Logger
}

// New creates an overlay on top of an opened store, an endpoint and the
// event loop that will run it.
func New(conf Config, db *store.DB, endpoint comm.Endpoint, sched *scheduler.Scheduler, provider metrics.Provider) (*Dispersy, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	registry, err := member.NewRegistry(db, conf.MemberCacheSize)
	if err != nil {
		return nil, err
	}
	db.SetOwner(sched.OnLoop)

	lan := endpoint.Address()
	peerID := lan.String()
	d := &Dispersy{
		conf:            conf,
		db:              db,
		registry:        registry,
		endpoint:        endpoint,
		scheduler:       sched,
		triggers:        trigger.NewList(util.GetLogger(util.TriggerLogger, peerID)),
		communities:     map[common.CID]*Community{},
		classifications: map[string]OverlayFactory{},
		lanAddress:      lan,
		wanAddress:      lan,
		wanVotes:        map[common.Address]mapset.Set[common.Address]{},
		stats:           newStatistics(),
		metrics:         NewMetrics(provider),
		logger:          util.GetLogger(util.CommunityLogger, peerID),
		ingressLogger:   util.GetLogger(util.IngressLogger, peerID),
		storeLogger:     util.GetLogger(util.StoreLogger, peerID),
		syncLogger:      util.GetLogger(util.SyncLogger, peerID),
		candidateLogger: util.GetLogger(util.CandidateLogger, peerID),
	}
	return d, nil
}

// Start schedules the trigger expiry task.
func (d *Dispersy) Start() {
	d.scheduler.AddPeriodicTask(d.expireTriggers, triggerExpiryInterval, triggerExpiryInterval, "id:triggers")
	d.logger.Infof("dispersy started on %s", d.lanAddress)
}

// Stop detaches every community and stops the periodic tasks.
func (d *Dispersy) Stop() {
	if !atomic.CompareAndSwapInt32(&d.stopFlag, 0, 1) {
		return
	}
	for _, c := range d.Communities() {
		d.detach(c)
	}
	d.scheduler.KillTasks("id:triggers")
	d.logger.Info("dispersy stopped")
}

func (d *Dispersy) toDie() bool {
	return atomic.LoadInt32(&d.stopFlag) == 1
}

func (d *Dispersy) expireTriggers() {
	d.triggers.Expire(d.now())
	d.metrics.Triggers.Set(float64(d.triggers.Len()))
}

func (d *Dispersy) now() time.Time { return d.scheduler.Now() }

func (d *Dispersy) Config() Config                  { return d.conf }
func (d *Dispersy) DB() *store.DB                   { return d.db }
func (d *Dispersy) Members() *member.Registry       { return d.registry }
func (d *Dispersy) Endpoint() comm.Endpoint         { return d.endpoint }
func (d *Dispersy) Scheduler() *scheduler.Scheduler { return d.scheduler }
func (d *Dispersy) LANAddress() common.Address      { return d.lanAddress }
func (d *Dispersy) WANAddress() common.Address      { return d.wanAddress }

// Statistics returns a snapshot of the counters.
func (d *Dispersy) Statistics() Statistics { return d.stats.snapshot() }

// PendingTriggers returns the number of delayed packets, delayed messages
// and awaited messages.
func (d *Dispersy) PendingTriggers() int { return d.triggers.Len() }

// RegisterClassification makes communities of classification loadable.
func (d *Dispersy) RegisterClassification(classification string, factory OverlayFactory) error {
	if _, exists := d.classifications[classification]; exists {
		return errors.Errorf("classification %s is already registered", classification)
	}
	d.classifications[classification] = factory
	return nil
}

// Community returns the attached community cid.
func (d *Dispersy) Community(cid common.CID) (*Community, bool) {
	c, ok := d.communities[cid]
	return c, ok
}

// Communities returns the attached communities ordered by cid.
func (d *Dispersy) Communities() []*Community {
	result := make([]*Community, 0, len(d.communities))
	for _, c := range d.communities {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return string(result[i].cid[:]) < string(result[j].cid[:])
	})
	return result
}

// AwaitMessage calls onMatch for up to maxResponses accepted messages whose
// footprint matches pattern, or onTimeout when none arrived in time.
func (d *Dispersy) AwaitMessage(pattern string, onMatch func(*message.Message), onTimeout func(), timeout time.Duration, maxResponses int) error {
	_, err := d.triggers.Add(pattern, onMatch, onTimeout, maxResponses, d.now().Add(timeout))
	d.metrics.Triggers.Set(float64(d.triggers.Len()))
	return err
}

func (d *Dispersy) isOwnAddress(addr common.Address) bool {
	return addr == d.lanAddress || addr == d.wanAddress
}

// isValidSource rejects packets we could not answer and our own packets.
func (d *Dispersy) isValidSource(addr common.Address) bool {
	return addr.IsValid() && !d.isOwnAddress(addr)
}

// sendPackets sends every packet to every address and records the
// outgoing time of the candidates of c.
func (d *Dispersy) sendPackets(c *Community, addrs []common.Address, packets [][]byte) int {
	sent := 0
	for _, addr := range addrs {
		if !addr.IsValid() || d.isOwnAddress(addr) {
			d.logger.Debugf("not sending to invalid address %s", addr)
			continue
		}
		for _, packet := range packets {
			if err := d.endpoint.Send(addr, packet); err != nil {
				d.logger.Warningf("failed sending to %s: %+v", addr, err)
				continue
			}
			sent++
		}
		if c != nil && !c.IsHardKilled() {
			if err := c.touchCandidate(addr, outgoing); err != nil {
				d.candidateLogger.Errorf("failed updating candidate %s: %+v", addr, err)
			}
		}
	}
	d.stats.send(sent)
	d.metrics.Sent.Add(float64(sent))
	return sent
}
