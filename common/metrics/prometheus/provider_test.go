/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package prometheus_test

import (
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribler/dispersy/common/metrics"
	"github.com/tribler/dispersy/common/metrics/prometheus"
)

func gather(t *testing.T, registry *prom.Registry, name string) *dto.MetricFamily {
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func TestCounter(t *testing.T) {
	registry := prom.NewRegistry()
	p := &prometheus.Provider{Registerer: registry}

	counter := p.NewCounter(metrics.CounterOpts{
		Namespace:  "dispersy",
		Subsystem:  "ingress",
		Name:       "packets_dropped",
		Help:       "dropped packets",
		LabelNames: []string{"reason"},
	})
	counter.With("reason", "duplicate").Add(2)
	counter.With("reason", "duplicate").Add(1)
	counter.With("reason", "blacklisted").Add(1)

	family := gather(t, registry, "dispersy_ingress_packets_dropped")
	require.Len(t, family.GetMetric(), 2)
	for _, m := range family.GetMetric() {
		switch m.GetLabel()[0].GetValue() {
		case "duplicate":
			assert.Equal(t, 3.0, m.GetCounter().GetValue())
		case "blacklisted":
			assert.Equal(t, 1.0, m.GetCounter().GetValue())
		}
	}
}

func TestGaugeAndHistogram(t *testing.T) {
	registry := prom.NewRegistry()
	p := &prometheus.Provider{Registerer: registry}

	gauge := p.NewGauge(metrics.GaugeOpts{Namespace: "dispersy", Name: "candidates", Help: "candidates"})
	gauge.Set(5)
	gauge.Set(3)
	assert.Equal(t, 3.0, gather(t, registry, "dispersy_candidates").GetMetric()[0].GetGauge().GetValue())

	hist := p.NewHistogram(metrics.HistogramOpts{
		Namespace: "dispersy",
		Name:      "batch_size",
		Help:      "batch size",
		Buckets:   []float64{1, 10, 100},
	})
	hist.Observe(4)
	hist.Observe(40)
	h := gather(t, registry, "dispersy_batch_size").GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), h.GetSampleCount())
	assert.Equal(t, 44.0, h.GetSampleSum())
}
