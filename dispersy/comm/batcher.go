/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/common"
)

// batchingEmitter collects received packets and hands them to the overlay
// in batches, either when burstSize packets are pending or every latency.
type batchingEmitter interface {
	// Add adds a packet to be batched
	Add(common.PacketIn)

	// Stop stops the component
	Stop()

	// Size returns the amount of pending packets to be emitted
	Size() int
}

func newBatchingEmitter(burstSize int, latency time.Duration, cb Handler) batchingEmitter {
	if burstSize < 1 || latency <= 0 {
		panic(errors.Errorf("invalid batching parameters: burst size %d, latency %s", burstSize, latency))
	}

	p := &batchingEmitterImpl{
		cb:        cb,
		delay:     latency,
		burstSize: burstSize,
		lock:      &sync.Mutex{},
		buff:      make([]common.PacketIn, 0, burstSize),
		stopFlag:  int32(0),
	}

	go p.periodicEmit()

	return p
}

func (p *batchingEmitterImpl) periodicEmit() {
	for !p.toDie() {
		time.Sleep(p.delay)
		p.lock.Lock()
		p.emit()
		p.lock.Unlock()
	}
}

func (p *batchingEmitterImpl) emit() {
	if p.toDie() {
		return
	}
	if len(p.buff) == 0 {
		return
	}
	packets := p.buff
	p.buff = make([]common.PacketIn, 0, p.burstSize)
	p.cb(packets)
}

func (p *batchingEmitterImpl) toDie() bool {
	return atomic.LoadInt32(&(p.stopFlag)) == int32(1)
}

type batchingEmitterImpl struct {
	burstSize int
	delay     time.Duration
	cb        Handler
	lock      *sync.Mutex
	buff      []common.PacketIn
	stopFlag  int32
}

func (p *batchingEmitterImpl) Stop() {
	atomic.StoreInt32(&(p.stopFlag), int32(1))
}

func (p *batchingEmitterImpl) Size() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.buff)
}

func (p *batchingEmitterImpl) Add(packet common.PacketIn) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.buff = append(p.buff, packet)

	if len(p.buff) >= p.burstSize {
		p.emit()
	}
}
