/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribler/dispersy/common/metrics/disabled"
	"github.com/tribler/dispersy/dispersy/common"
)

func TestUDPEndpointsExchangePackets(t *testing.T) {
	received := make(chan []common.PacketIn, 10)
	conf := Config{ListenAddress: "127.0.0.1:0", BurstSize: 10, BurstLatency: 5 * time.Millisecond}
	m := NewMetrics(&disabled.Provider{})

	a, err := NewUDPEndpoint(conf, func([]common.PacketIn) {}, m)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewUDPEndpoint(conf, func(p []common.PacketIn) { received <- p }, m)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send(b.Address(), []byte("hello")))

	select {
	case batch := <-received:
		require.Len(t, batch, 1)
		assert.Equal(t, []byte("hello"), batch[0].Data)
		assert.Equal(t, a.Address(), batch[0].Source)
	case <-time.After(5 * time.Second):
		t.Fatal("no packet received")
	}

	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}

func TestSendToInvalidAddress(t *testing.T) {
	e, err := NewUDPEndpoint(Config{ListenAddress: "127.0.0.1:0", BurstSize: 1, BurstLatency: time.Millisecond},
		func([]common.PacketIn) {}, NewMetrics(&disabled.Provider{}))
	require.NoError(t, err)
	defer e.Close()
	assert.Error(t, e.Send(common.Address{Host: "not-an-ip", Port: 1}, []byte("x")))
}
