/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispersy

import (
	"crypto/sha1"
	"math"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/payload"
	"github.com/tribler/dispersy/dispersy/util"
)

type touchKind int

const (
	incoming touchKind = iota
	outgoing
	external
)

var touchColumns = map[touchKind]string{
	incoming: "incoming_time",
	outgoing: "outgoing_time",
	external: "external_time",
}

// Candidate is a row of the candidate table.
type Candidate struct {
	Address  common.Address
	Incoming time.Time
	Outgoing time.Time
	External time.Time
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// touchCandidate records that we heard from, sent to or were told about
// addr.
func (c *Community) touchCandidate(addr common.Address, kind touchKind) error {
	return c.touchCandidateAt(addr, kind, c.d.now())
}

func (c *Community) touchCandidateAt(addr common.Address, kind touchKind, at time.Time) error {
	if !addr.IsValid() || c.d.isOwnAddress(addr) {
		return nil
	}
	db := c.d.db
	return db.Update(func() error {
		_, err := db.Exec(`INSERT OR IGNORE INTO candidate(community, host, port) VALUES(?, ?, ?)`, c.id, addr.Host, addr.Port)
		if err != nil {
			return errors.Wrap(err, "failed inserting candidate")
		}
		column := touchColumns[kind]
		_, err = db.Exec(`UPDATE candidate SET `+column+` = MAX(`+column+`, ?) WHERE community = ? AND host = ? AND port = ?`,
			at.UnixNano(), c.id, addr.Host, addr.Port)
		return errors.Wrap(err, "failed updating candidate")
	})
}

// Candidates returns the candidate table of the community.
func (c *Community) Candidates() ([]Candidate, error) {
	return c.candidates(c.id)
}

func (c *Community) candidates(community int64) ([]Candidate, error) {
	rows, err := c.d.db.Query(`SELECT host, port, incoming_time, outgoing_time, external_time FROM candidate WHERE community = ?`, community)
	if err != nil {
		return nil, errors.Wrap(err, "failed reading candidates")
	}
	defer rows.Close()
	var result []Candidate
	for rows.Next() {
		var (
			cand         Candidate
			in, out, ext int64
		)
		if err := rows.Scan(&cand.Address.Host, &cand.Address.Port, &in, &out, &ext); err != nil {
			return nil, errors.Wrap(err, "failed reading candidate")
		}
		cand.Incoming, cand.Outgoing, cand.External = fromNanos(in), fromNanos(out), fromNanos(ext)
		result = append(result, cand)
	}
	return result, errors.Wrap(rows.Err(), "failed reading candidates")
}

// selectCandidates returns up to n addresses, preferring peers we
// recently exchanged packets with in both directions, then peers others
// told us about, then bootstrap peers and finally any known peer.
func (c *Community) selectCandidates(n int, exclude mapset.Set[common.Address]) []common.Address {
	if n <= 0 {
		return nil
	}
	conf := c.d.conf
	now := c.d.now()
	own, err := c.candidates(c.id)
	if err != nil {
		c.d.candidateLogger.Errorf("failed selecting candidates: %+v", err)
		return nil
	}
	bootstrap, err := c.candidates(0)
	if err != nil {
		c.d.candidateLogger.Errorf("failed selecting bootstrap candidates: %+v", err)
	}

	twoWay := func(cand Candidate) bool {
		if cand.Incoming.IsZero() || cand.Outgoing.IsZero() {
			return false
		}
		diff := cand.Outgoing.Sub(cand.Incoming)
		if diff < 0 {
			diff = -diff
		}
		return now.Sub(cand.Incoming) < conf.CandidateLiveAge &&
			diff < conf.CandidateTwoWayDiff &&
			now.Sub(cand.Outgoing) >= conf.CandidateMinInterval
	}
	introduced := func(cand Candidate) bool {
		return !cand.External.IsZero() && now.Sub(cand.External) < conf.ExternalCandidateAge
	}
	known := func(Candidate) bool { return true }

	chosen := mapset.NewThreadUnsafeSet[common.Address]()
	var result []common.Address
	take := func(pool []Candidate, accept func(Candidate) bool) {
		pool = append([]Candidate(nil), pool...)
		util.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		for _, cand := range pool {
			if len(result) >= n {
				return
			}
			addr := cand.Address
			if !accept(cand) || !addr.IsValid() || c.d.isOwnAddress(addr) {
				continue
			}
			if exclude != nil && exclude.Contains(addr) {
				continue
			}
			if chosen.Add(addr) {
				result = append(result, addr)
			}
		}
	}
	take(own, twoWay)
	take(own, introduced)
	take(bootstrap, known)
	take(own, known)
	return result
}

// routes returns up to RoutesLimit peers we heard from within the live
// age, for introduction to dest.
func (c *Community) routes(dest common.Address) []payload.Route {
	cands, err := c.candidates(c.id)
	if err != nil {
		c.d.candidateLogger.Errorf("failed reading routes: %+v", err)
		return nil
	}
	now := c.d.now()
	var routes []payload.Route
	for _, cand := range cands {
		if len(routes) >= c.d.conf.RoutesLimit {
			break
		}
		if cand.Address == dest || cand.Incoming.IsZero() {
			continue
		}
		age := now.Sub(cand.Incoming)
		if age >= c.d.conf.CandidateLiveAge {
			continue
		}
		seconds := age / time.Second
		if seconds > math.MaxUint16 {
			seconds = math.MaxUint16
		}
		routes = append(routes, payload.Route{Address: cand.Address, Age: uint16(seconds)})
	}
	return routes
}

// periodicCandidateRequest introduces us to a few candidates.
func (c *Community) periodicCandidateRequest() {
	if c.state == HardKilled {
		return
	}
	meta := c.mustMeta(message.CandidateRequestName)
	for _, addr := range c.selectCandidates(c.d.conf.CandidateRequestCount, nil) {
		p := &payload.CandidateRequest{
			SourceAddress:      c.d.wanAddress,
			DestinationAddress: addr,
			ConversionVersion:  c.conv.Version(),
			Routes:             c.routes(addr),
		}
		if _, err := c.CreateMessage(meta, p, WithAddresses(addr)); err != nil {
			c.d.candidateLogger.Errorf("failed creating candidate request: %+v", err)
		}
	}
}

// periodicCleanup removes candidates we have not heard of for too long.
func (c *Community) periodicCleanup() {
	threshold := c.d.now().Add(-c.d.conf.CandidateCleanupAge).UnixNano()
	res, err := c.d.db.Exec(`DELETE FROM candidate WHERE community = ? AND MAX(incoming_time, outgoing_time, external_time) < ?`, c.id, threshold)
	if err != nil {
		c.d.candidateLogger.Errorf("failed cleaning candidates: %+v", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		c.d.candidateLogger.Debugf("removed %d stale candidates of %s", n, c)
	}
}

func (c *Community) onCandidateRequest(msgs []*message.Message) {
	meta := c.mustMeta(message.CandidateResponseName)
	for _, msg := range msgs {
		req := msg.Payload.(*payload.CandidateRequest)
		c.d.voteWANAddress(req.DestinationAddress, msg.Source)
		c.addRoutes(req.Routes)

		p := &payload.CandidateResponse{
			RequestIdentifier:  sha1.Sum(msg.Packet),
			SourceAddress:      c.d.wanAddress,
			DestinationAddress: msg.Source,
			ConversionVersion:  c.conv.Version(),
			Routes:             c.routes(msg.Source),
		}
		if _, err := c.CreateMessage(meta, p, WithAddresses(msg.Source)); err != nil {
			c.d.candidateLogger.Errorf("failed creating candidate response: %+v", err)
		}
	}
}

func (c *Community) onCandidateResponse(msgs []*message.Message) {
	for _, msg := range msgs {
		resp := msg.Payload.(*payload.CandidateResponse)
		c.d.voteWANAddress(resp.DestinationAddress, msg.Source)
		c.addRoutes(resp.Routes)
	}
}

func (c *Community) addRoutes(routes []payload.Route) {
	now := c.d.now()
	for _, route := range routes {
		at := now.Add(-time.Duration(route.Age) * time.Second)
		if err := c.touchCandidateAt(route.Address, external, at); err != nil {
			c.d.candidateLogger.Errorf("failed adding route %s: %+v", route.Address, err)
		}
	}
}

// voteWANAddress counts voter's opinion of our external address. When an
// address collects more votes than the current one it becomes our external
// address and every community publishes a new identity.
func (d *Dispersy) voteWANAddress(addr, voter common.Address) {
	if !addr.IsValid() {
		return
	}
	votes, ok := d.wanVotes[addr]
	if !ok {
		votes = mapset.NewThreadUnsafeSet[common.Address]()
		d.wanVotes[addr] = votes
	}
	votes.Add(voter)
	if addr == d.wanAddress {
		return
	}
	current := 0
	if v, ok := d.wanVotes[d.wanAddress]; ok {
		current = v.Cardinality()
	}
	if votes.Cardinality() <= current {
		return
	}
	d.candidateLogger.Infof("external address changed from %s to %s", d.wanAddress, addr)
	d.wanAddress = addr
	for _, c := range d.Communities() {
		if c.state != Running {
			continue
		}
		if _, err := c.CreateIdentity(); err != nil {
			d.logger.Errorf("failed publishing identity in %s: %+v", c, err)
		}
	}
}
