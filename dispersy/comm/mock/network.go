/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mock provides an in-memory datagram network for tests.
package mock

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/comm"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/util"
)

var logger = util.GetLogger(util.CommMockLogger, "")

// maxFlushRounds bounds Flush when nodes keep answering each other.
const maxFlushRounds = 1000

// Packet is a datagram in flight.
type Packet struct {
	Source      common.Address
	Destination common.Address
	Data        []byte
}

// Network connects mock endpoints. Sent packets are queued and only
// delivered by Flush or Deliver.
type Network struct {
	lock      sync.Mutex
	endpoints map[common.Address]*Endpoint
	queue     []Packet
	sent      []Packet

	// Drop, when set, discards the packets it returns true for.
	Drop func(Packet) bool
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{endpoints: map[common.Address]*Endpoint{}}
}

// Endpoint is a node's view of the network.
type Endpoint struct {
	network *Network
	address common.Address
	handler comm.Handler
	closed  bool
}

// NewEndpoint attaches a node at addr. handler may be set later with
// SetHandler.
func (n *Network) NewEndpoint(addr common.Address, handler comm.Handler) (*Endpoint, error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if _, exists := n.endpoints[addr]; exists {
		return nil, errors.Errorf("address %s is in use", addr)
	}
	e := &Endpoint{network: n, address: addr, handler: handler}
	n.endpoints[addr] = e
	return e, nil
}

// SetHandler sets the receiver of delivered batches.
func (e *Endpoint) SetHandler(handler comm.Handler) {
	e.network.lock.Lock()
	defer e.network.lock.Unlock()
	e.handler = handler
}

// Send queues data for addr.
func (e *Endpoint) Send(addr common.Address, data []byte) error {
	n := e.network
	n.lock.Lock()
	defer n.lock.Unlock()
	if e.closed {
		return errors.New("endpoint is closed")
	}
	p := Packet{Source: e.address, Destination: addr, Data: append([]byte(nil), data...)}
	n.sent = append(n.sent, p)
	n.queue = append(n.queue, p)
	return nil
}

func (e *Endpoint) Address() common.Address { return e.address }

// Close detaches the endpoint. Packets for it are discarded.
func (e *Endpoint) Close() error {
	n := e.network
	n.lock.Lock()
	defer n.lock.Unlock()
	e.closed = true
	delete(n.endpoints, e.address)
	return nil
}

// Deliver hands every queued packet to its destination, one batch per
// destination, and returns the number delivered. Packets sent while
// delivering stay queued.
func (n *Network) Deliver() int {
	n.lock.Lock()
	queue := n.queue
	n.queue = nil
	type batch struct {
		handler comm.Handler
		packets []common.PacketIn
	}
	var order []common.Address
	batches := map[common.Address]*batch{}
	for _, p := range queue {
		if n.Drop != nil && n.Drop(p) {
			logger.Debugf("dropping %d bytes %s -> %s", len(p.Data), p.Source, p.Destination)
			continue
		}
		e, ok := n.endpoints[p.Destination]
		if !ok || e.handler == nil {
			logger.Debugf("no endpoint at %s", p.Destination)
			continue
		}
		b, ok := batches[p.Destination]
		if !ok {
			b = &batch{handler: e.handler}
			batches[p.Destination] = b
			order = append(order, p.Destination)
		}
		b.packets = append(b.packets, common.PacketIn{Source: p.Source, Data: p.Data})
	}
	n.lock.Unlock()

	delivered := 0
	for _, addr := range order {
		b := batches[addr]
		b.handler(b.packets)
		delivered += len(b.packets)
	}
	return delivered
}

// Flush delivers until no packets are queued. It returns the number of
// packets delivered.
func (n *Network) Flush() int {
	total := 0
	for round := 0; round < maxFlushRounds; round++ {
		if n.Pending() == 0 {
			return total
		}
		total += n.Deliver()
	}
	logger.Warningf("network did not quiesce after %d rounds", maxFlushRounds)
	return total
}

// Pending returns the number of queued packets.
func (n *Network) Pending() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return len(n.queue)
}

// Sent returns every packet sent so far, including dropped ones.
func (n *Network) Sent() []Packet {
	n.lock.Lock()
	defer n.lock.Unlock()
	return append([]Packet(nil), n.sent...)
}

// ResetSent clears the record returned by Sent.
func (n *Network) ResetSent() {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.sent = nil
}

// Discard empties the queue without delivering.
func (n *Network) Discard() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	count := len(n.queue)
	n.queue = nil
	return count
}
