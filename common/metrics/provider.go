/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics is the meter surface the overlay, the endpoints and the
// logging layer record into. The prometheus subpackage backs it for the
// operations server; disabled discards everything.
package metrics

// Provider hands out meters. Every call registers a new metric family, so
// each Opts value is used once per process.
type Provider interface {
	NewCounter(CounterOpts) Counter
	NewGauge(GaugeOpts) Gauge
	NewHistogram(HistogramOpts) Histogram
}

// Counter is a running total such as packets sent or messages dropped.
// With binds label values in the order of CounterOpts.LabelNames.
type Counter interface {
	With(labelValues ...string) Counter
	Add(delta float64)
}

// Gauge is a level that is replaced on every update, such as the number of
// attached communities or pending triggers.
type Gauge interface {
	Set(value float64)
}

// Histogram buckets observed durations.
type Histogram interface {
	Observe(value float64)
}

// CounterOpts names a counter as namespace_subsystem_name.
type CounterOpts struct {
	Namespace  string
	Subsystem  string
	Name       string
	Help       string
	LabelNames []string
}

type GaugeOpts struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
}

// HistogramOpts takes the bucket upper bounds. Nil falls back to the
// Prometheus defaults.
type HistogramOpts struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	Buckets   []float64
}
