/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispersy

import "sync"

// Statistics is a snapshot of the overlay counters.
type Statistics struct {
	TotalSend     uint64
	TotalReceived uint64
	// Success counts accepted messages per meta message name.
	Success map[string]uint64
	// Drop counts dropped packets and messages per reason.
	Drop map[string]uint64
	// Delay counts delayed packets and messages per reason.
	Delay map[string]uint64
	// Outgoing counts created messages per meta message name.
	Outgoing map[string]uint64
}

type statistics struct {
	lock sync.Mutex
	s    Statistics
}

func newStatistics() *statistics {
	return &statistics{s: Statistics{
		Success:  map[string]uint64{},
		Drop:     map[string]uint64{},
		Delay:    map[string]uint64{},
		Outgoing: map[string]uint64{},
	}}
}

func (st *statistics) send(n int) {
	st.lock.Lock()
	st.s.TotalSend += uint64(n)
	st.lock.Unlock()
}

func (st *statistics) receive(n int) {
	st.lock.Lock()
	st.s.TotalReceived += uint64(n)
	st.lock.Unlock()
}

func (st *statistics) count(m map[string]uint64, key string) {
	st.lock.Lock()
	m[key]++
	st.lock.Unlock()
}

func (st *statistics) success(name string)  { st.count(st.s.Success, name) }
func (st *statistics) drop(reason string)   { st.count(st.s.Drop, reason) }
func (st *statistics) delay(reason string)  { st.count(st.s.Delay, reason) }
func (st *statistics) outgoing(name string) { st.count(st.s.Outgoing, name) }

func (st *statistics) snapshot() Statistics {
	st.lock.Lock()
	defer st.lock.Unlock()
	cp := func(m map[string]uint64) map[string]uint64 {
		out := make(map[string]uint64, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return Statistics{
		TotalSend:     st.s.TotalSend,
		TotalReceived: st.s.TotalReceived,
		Success:       cp(st.s.Success),
		Drop:          cp(st.s.Drop),
		Delay:         cp(st.s.Delay),
		Outgoing:      cp(st.s.Outgoing),
	}
}
