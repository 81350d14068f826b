/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import "github.com/tribler/dispersy/common/metrics"

var (
	packetsSentOpts = metrics.CounterOpts{
		Namespace: "dispersy",
		Subsystem: "comm",
		Name:      "packets_sent",
		Help:      "The number of datagrams sent.",
	}
	bytesSentOpts = metrics.CounterOpts{
		Namespace: "dispersy",
		Subsystem: "comm",
		Name:      "bytes_sent",
		Help:      "The number of bytes sent.",
	}
	packetsReceivedOpts = metrics.CounterOpts{
		Namespace: "dispersy",
		Subsystem: "comm",
		Name:      "packets_received",
		Help:      "The number of datagrams received.",
	}
	bytesReceivedOpts = metrics.CounterOpts{
		Namespace: "dispersy",
		Subsystem: "comm",
		Name:      "bytes_received",
		Help:      "The number of bytes received.",
	}
	sendErrorsOpts = metrics.CounterOpts{
		Namespace: "dispersy",
		Subsystem: "comm",
		Name:      "send_errors",
		Help:      "The number of datagrams that could not be sent.",
	}
)

// Metrics counts endpoint traffic.
type Metrics struct {
	PacketsSent     metrics.Counter
	BytesSent       metrics.Counter
	PacketsReceived metrics.Counter
	BytesReceived   metrics.Counter
	SendErrors      metrics.Counter
}

func NewMetrics(p metrics.Provider) *Metrics {
	return &Metrics{
		PacketsSent:     p.NewCounter(packetsSentOpts),
		BytesSent:       p.NewCounter(bytesSentOpts),
		PacketsReceived: p.NewCounter(packetsReceivedOpts),
		BytesReceived:   p.NewCounter(bytesReceivedOpts),
		SendErrors:      p.NewCounter(sendErrorsOpts),
	}
}
