/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package flogging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogger creates a zap logger around a new zap.Core. The core will use
// the provided encoder and sinks and a level enabler that is associated with
// the provided logger name. The logger that is returned will be named the same
// as the logger.
func NewZapLogger(core zapcore.Core, options ...zap.Option) *zap.Logger {
	return zap.New(
		core,
		append([]zap.Option{
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		}, options...)...,
	)
}

// NewDispersyLogger creates a logger that delegates to the zap.SugaredLogger.
func NewDispersyLogger(l *zap.Logger, options ...zap.Option) *DispersyLogger {
	return &DispersyLogger{
		s: l.WithOptions(append(options, zap.AddCallerSkip(1))...).Sugar(),
	}
}

// A DispersyLogger is an adapter around a zap.SugaredLogger that provides
// printf style helpers alongside the structured w variants.
type DispersyLogger struct{ s *zap.SugaredLogger }

func (f *DispersyLogger) Debug(args ...interface{})                     { f.s.Debugf(formatArgs(args)) }
func (f *DispersyLogger) Debugf(template string, args ...interface{})   { f.s.Debugf(template, args...) }
func (f *DispersyLogger) Debugw(msg string, kvPairs ...interface{})     { f.s.Debugw(msg, kvPairs...) }
func (f *DispersyLogger) Info(args ...interface{})                      { f.s.Infof(formatArgs(args)) }
func (f *DispersyLogger) Infof(template string, args ...interface{})    { f.s.Infof(template, args...) }
func (f *DispersyLogger) Infow(msg string, kvPairs ...interface{})      { f.s.Infow(msg, kvPairs...) }
func (f *DispersyLogger) Warning(args ...interface{})                   { f.s.Warnf(formatArgs(args)) }
func (f *DispersyLogger) Warningf(template string, args ...interface{}) { f.s.Warnf(template, args...) }
func (f *DispersyLogger) Warnw(msg string, kvPairs ...interface{})      { f.s.Warnw(msg, kvPairs...) }
func (f *DispersyLogger) Error(args ...interface{})                     { f.s.Errorf(formatArgs(args)) }
func (f *DispersyLogger) Errorf(template string, args ...interface{})   { f.s.Errorf(template, args...) }
func (f *DispersyLogger) Errorw(msg string, kvPairs ...interface{})     { f.s.Errorw(msg, kvPairs...) }
func (f *DispersyLogger) Fatal(args ...interface{})                     { f.s.Fatalf(formatArgs(args)) }
func (f *DispersyLogger) Fatalf(template string, args ...interface{})   { f.s.Fatalf(template, args...) }
func (f *DispersyLogger) Panic(args ...interface{})                     { f.s.Panicf(formatArgs(args)) }
func (f *DispersyLogger) Panicf(template string, args ...interface{})   { f.s.Panicf(template, args...) }

func (f *DispersyLogger) Named(name string) *DispersyLogger { return &DispersyLogger{s: f.s.Named(name)} }
func (f *DispersyLogger) Sync() error                       { return f.s.Sync() }
func (f *DispersyLogger) Zap() *zap.Logger                  { return f.s.Desugar() }

func (f *DispersyLogger) IsEnabledFor(level zapcore.Level) bool {
	return f.s.Desugar().Core().Enabled(level)
}

func (f *DispersyLogger) With(args ...interface{}) *DispersyLogger {
	return &DispersyLogger{s: f.s.With(args...)}
}

func formatArgs(args []interface{}) string { return strings.TrimSuffix(fmt.Sprintln(args...), "\n") }
