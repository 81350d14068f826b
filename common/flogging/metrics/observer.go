/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics counts log entries per logger and level, so a noisy
// component shows up on the operations endpoint.
package metrics

import (
	"github.com/tribler/dispersy/common/metrics"
	"go.uber.org/zap/zapcore"
)

var (
	checkedOpts = metrics.CounterOpts{
		Namespace:  "dispersy",
		Subsystem:  "logging",
		Name:       "entries_checked",
		Help:       "Log entries checked against the active logging spec, by logger and level.",
		LabelNames: []string{"logger", "level"},
	}
	writtenOpts = metrics.CounterOpts{
		Namespace:  "dispersy",
		Subsystem:  "logging",
		Name:       "entries_written",
		Help:       "Log entries that passed the logging spec and were written, by logger and level.",
		LabelNames: []string{"logger", "level"},
	}
)

// Observer satisfies flogging.Observer.
type Observer struct {
	checked metrics.Counter
	written metrics.Counter
}

func NewObserver(p metrics.Provider) *Observer {
	return &Observer{
		checked: p.NewCounter(checkedOpts),
		written: p.NewCounter(writtenOpts),
	}
}

func (o *Observer) Check(e zapcore.Entry, _ *zapcore.CheckedEntry) {
	o.checked.With(labels(e)...).Add(1)
}

func (o *Observer) WriteEntry(e zapcore.Entry, _ []zapcore.Field) {
	o.written.With(labels(e)...).Add(1)
}

func labels(e zapcore.Entry) []string {
	logger := e.LoggerName
	if logger == "" {
		logger = "root"
	}
	return []string{"logger", logger, "level", e.Level.String()}
}
