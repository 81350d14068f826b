/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package util

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"
)

var r *rand.Rand
var rLock sync.Mutex

func init() {
	r = rand.New(rand.NewSource(time.Now().UnixNano()))
}

// RandomInt returns a random int in [0, n). It panics when n <= 0.
func RandomInt(n int) int {
	rLock.Lock()
	defer rLock.Unlock()
	return r.Intn(n)
}

// RandomUInt64 returns a random uint64 from a cryptographic source, falling
// back to math/rand if the system source fails.
func RandomUInt64() uint64 {
	b := make([]byte, 8)
	if _, err := cryptorand.Read(b); err == nil {
		return binary.BigEndian.Uint64(b)
	}
	rLock.Lock()
	defer rLock.Unlock()
	return r.Uint64()
}

// GetRandomIndices returns indiceCount distinct random indices from
// [0, highestIndex]. Returns nil if highestIndex+1 < indiceCount.
func GetRandomIndices(indiceCount, highestIndex int) []int {
	if highestIndex+1 < indiceCount {
		return nil
	}

	rLock.Lock()
	perm := r.Perm(highestIndex + 1)
	rLock.Unlock()
	return perm[:indiceCount]
}

// Shuffle permutes n elements in place through swap.
func Shuffle(n int, swap func(i, j int)) {
	rLock.Lock()
	defer rLock.Unlock()
	r.Shuffle(n, swap)
}
