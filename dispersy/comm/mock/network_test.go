/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/util"
)

func init() {
	util.SetupTestLogging()
}

var (
	addrA = common.Address{Host: "10.0.0.1", Port: 1}
	addrB = common.Address{Host: "10.0.0.2", Port: 2}
)

func TestFlushDeliversUntilQuiet(t *testing.T) {
	n := NewNetwork()
	var a, b *Endpoint
	var gotA, gotB [][]common.PacketIn
	var err error
	a, err = n.NewEndpoint(addrA, func(p []common.PacketIn) { gotA = append(gotA, p) })
	require.NoError(t, err)
	b, err = n.NewEndpoint(addrB, func(p []common.PacketIn) {
		gotB = append(gotB, p)
		// answer every batch once
		require.NoError(t, b.Send(p[0].Source, []byte("pong")))
	})
	require.NoError(t, err)

	require.NoError(t, a.Send(addrB, []byte("ping1")))
	require.NoError(t, a.Send(addrB, []byte("ping2")))
	assert.Equal(t, 2, n.Pending())

	assert.Equal(t, 3, n.Flush())
	require.Len(t, gotB, 1)
	assert.Len(t, gotB[0], 2)
	assert.Equal(t, addrA, gotB[0][0].Source)
	require.Len(t, gotA, 1)
	assert.Equal(t, []byte("pong"), gotA[0][0].Data)
	assert.Len(t, n.Sent(), 3)
}

func TestDropFilter(t *testing.T) {
	n := NewNetwork()
	var got []common.PacketIn
	a, err := n.NewEndpoint(addrA, nil)
	require.NoError(t, err)
	_, err = n.NewEndpoint(addrB, func(p []common.PacketIn) { got = append(got, p...) })
	require.NoError(t, err)

	n.Drop = func(p Packet) bool { return string(p.Data) == "lost" }
	require.NoError(t, a.Send(addrB, []byte("lost")))
	require.NoError(t, a.Send(addrB, []byte("kept")))
	n.Flush()
	require.Len(t, got, 1)
	assert.Equal(t, []byte("kept"), got[0].Data)
}

func TestAddressInUseAndClose(t *testing.T) {
	n := NewNetwork()
	a, err := n.NewEndpoint(addrA, nil)
	require.NoError(t, err)
	_, err = n.NewEndpoint(addrA, nil)
	assert.Error(t, err)

	require.NoError(t, a.Close())
	assert.Error(t, a.Send(addrB, []byte("x")))
	_, err = n.NewEndpoint(addrA, nil)
	assert.NoError(t, err)
}
