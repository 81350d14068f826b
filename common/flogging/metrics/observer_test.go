/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tribler/dispersy/common/flogging/metrics"
	commonmetrics "github.com/tribler/dispersy/common/metrics"
	"go.uber.org/zap/zapcore"
)

type fakeCounter struct {
	labels []string
	total  float64
}

func (c *fakeCounter) With(labelValues ...string) commonmetrics.Counter {
	c.labels = labelValues
	return c
}

func (c *fakeCounter) Add(delta float64) { c.total += delta }

type fakeProvider struct {
	counters map[string]*fakeCounter
}

func (p *fakeProvider) NewCounter(o commonmetrics.CounterOpts) commonmetrics.Counter {
	c := &fakeCounter{}
	p.counters[o.Name] = c
	return c
}
func (p *fakeProvider) NewGauge(commonmetrics.GaugeOpts) commonmetrics.Gauge { return nil }
func (p *fakeProvider) NewHistogram(commonmetrics.HistogramOpts) commonmetrics.Histogram {
	return nil
}

func TestObserver(t *testing.T) {
	provider := &fakeProvider{counters: map[string]*fakeCounter{}}
	observer := metrics.NewObserver(provider)

	entry := zapcore.Entry{LoggerName: "dispersy.ingress", Level: zapcore.WarnLevel}
	observer.Check(entry, nil)
	observer.Check(entry, nil)
	observer.WriteEntry(entry, nil)

	checked := provider.counters["entries_checked"]
	written := provider.counters["entries_written"]
	assert.Equal(t, 2.0, checked.total)
	assert.Equal(t, []string{"logger", "dispersy.ingress", "level", "warn"}, checked.labels)
	assert.Equal(t, 1.0, written.total)
}

func TestObserverNamesUnnamedLoggerRoot(t *testing.T) {
	provider := &fakeProvider{counters: map[string]*fakeCounter{}}
	observer := metrics.NewObserver(provider)

	observer.WriteEntry(zapcore.Entry{Level: zapcore.ErrorLevel}, nil)
	assert.Equal(t, []string{"logger", "root", "level", "error"}, provider.counters["entries_written"].labels)
}
