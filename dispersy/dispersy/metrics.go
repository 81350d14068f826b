/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispersy

import "github.com/tribler/dispersy/common/metrics"

var (
	receivedOpts = metrics.CounterOpts{
		Namespace: "dispersy",
		Subsystem: "ingress",
		Name:      "packets_received",
		Help:      "The number of packets handed to the overlay.",
	}
	sentOpts = metrics.CounterOpts{
		Namespace: "dispersy",
		Subsystem: "egress",
		Name:      "packets_sent",
		Help:      "The number of packets sent by the overlay.",
	}
	acceptedOpts = metrics.CounterOpts{
		Namespace:  "dispersy",
		Subsystem:  "ingress",
		Name:       "messages_accepted",
		Help:       "The number of messages accepted, by meta message.",
		LabelNames: []string{"meta"},
	}
	droppedOpts = metrics.CounterOpts{
		Namespace:  "dispersy",
		Subsystem:  "ingress",
		Name:       "dropped",
		Help:       "The number of packets and messages dropped, by kind.",
		LabelNames: []string{"kind"},
	}
	delayedOpts = metrics.CounterOpts{
		Namespace:  "dispersy",
		Subsystem:  "ingress",
		Name:       "delayed",
		Help:       "The number of packets and messages delayed, by kind.",
		LabelNames: []string{"kind"},
	}
	storedOpts = metrics.CounterOpts{
		Namespace: "dispersy",
		Subsystem: "store",
		Name:      "packets_stored",
		Help:      "The number of packets written to the message store.",
	}
	batchDurationOpts = metrics.HistogramOpts{
		Namespace: "dispersy",
		Subsystem: "ingress",
		Name:      "batch_duration",
		Help:      "The time to process one batch of incoming packets in seconds.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}
	communitiesOpts = metrics.GaugeOpts{
		Namespace: "dispersy",
		Subsystem: "community",
		Name:      "attached",
		Help:      "The number of attached communities.",
	}
	triggersOpts = metrics.GaugeOpts{
		Namespace: "dispersy",
		Subsystem: "trigger",
		Name:      "pending",
		Help:      "The number of pending triggers.",
	}
)

// Metrics are the overlay level meters.
type Metrics struct {
	Received      metrics.Counter
	Sent          metrics.Counter
	Accepted      metrics.Counter
	Dropped       metrics.Counter
	Delayed       metrics.Counter
	Stored        metrics.Counter
	BatchDuration metrics.Histogram
	Communities   metrics.Gauge
	Triggers      metrics.Gauge
}

func NewMetrics(p metrics.Provider) *Metrics {
	return &Metrics{
		Received:      p.NewCounter(receivedOpts),
		Sent:          p.NewCounter(sentOpts),
		Accepted:      p.NewCounter(acceptedOpts),
		Dropped:       p.NewCounter(droppedOpts),
		Delayed:       p.NewCounter(delayedOpts),
		Stored:        p.NewCounter(storedOpts),
		BatchDuration: p.NewHistogram(batchDurationOpts),
		Communities:   p.NewGauge(communitiesOpts),
		Triggers:      p.NewGauge(triggersOpts),
	}
}
