/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package disabled_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tribler/dispersy/common/metrics"
	"github.com/tribler/dispersy/common/metrics/disabled"
)

func TestDisabledProvider(t *testing.T) {
	var p metrics.Provider = &disabled.Provider{}

	c := p.NewCounter(metrics.CounterOpts{})
	assert.NotPanics(t, func() { c.With("a", "b").Add(1) })
	g := p.NewGauge(metrics.GaugeOpts{})
	assert.NotPanics(t, func() { g.Set(1) })
	h := p.NewHistogram(metrics.HistogramOpts{})
	assert.NotPanics(t, func() { h.Observe(1) })
}
