/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package floggingtest provides loggers that record their entries for
// assertions in tests.
package floggingtest

import (
	"bytes"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/tribler/dispersy/common/flogging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Recorder holds the encoded entries and the raw messages written to a test
// logger.
type Recorder struct {
	mutex    sync.RWMutex
	entries  []string
	messages []string
}

func (r *Recorder) add(e zapcore.Entry, line string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.entries = append(r.entries, strings.TrimRight(line, "\n"))
	r.messages = append(r.messages, e.Message)
}

func (r *Recorder) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.entries = nil
	r.messages = nil
}

func (r *Recorder) Entries() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]string{}, r.entries...)
}

func (r *Recorder) Messages() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]string{}, r.messages...)
}

func (r *Recorder) EntriesContaining(sub string) []string {
	return filter(r.Entries(), func(s string) bool { return strings.Contains(s, sub) })
}

func (r *Recorder) EntriesMatching(regex string) []string {
	re := regexp.MustCompile(regex)
	return filter(r.Entries(), re.MatchString)
}

func (r *Recorder) MessagesContaining(sub string) []string {
	return filter(r.Messages(), func(s string) bool { return strings.Contains(s, sub) })
}

func (r *Recorder) MessagesMatching(regex string) []string {
	re := regexp.MustCompile(regex)
	return filter(r.Messages(), re.MatchString)
}

func filter(in []string, keep func(string) bool) []string {
	matches := []string{}
	for _, s := range in {
		if keep(s) {
			matches = append(matches, s)
		}
	}
	return matches
}

// RecordingCore is a zapcore.Core that encodes entries to the test log and
// the recorder.
type RecordingCore struct {
	zapcore.LevelEnabler
	encoder  zapcore.Encoder
	recorder *Recorder
	writer   zapcore.WriteSyncer
}

func (r *RecordingCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	buf, err := r.encoder.EncodeEntry(e, fields)
	if err != nil {
		return err
	}
	defer buf.Free()

	r.writer.Write(buf.Bytes())
	r.recorder.add(e, buf.String())
	return nil
}

func (r *RecordingCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if r.Enabled(e.Level) {
		ce = ce.AddCore(e, r)
	}
	return ce
}

func (r *RecordingCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &RecordingCore{
		LevelEnabler: r.LevelEnabler,
		encoder:      r.encoder.Clone(),
		recorder:     r.recorder,
		writer:       r.writer,
	}
	for _, f := range fields {
		f.AddTo(clone.encoder)
	}
	return clone
}

func (r *RecordingCore) Sync() error {
	return r.writer.Sync()
}

// TestingWriter sends log output to testing.TB.Logf.
type TestingWriter struct{ testing.TB }

func (t *TestingWriter) Write(buf []byte) (int, error) {
	t.Logf("%s", bytes.TrimRight(buf, "\n"))
	return len(buf), nil
}

func (t *TestingWriter) Sync() error { return nil }

type Option func(r *RecordingCore, l *zap.Logger) *zap.Logger

func Named(loggerName string) Option {
	return func(r *RecordingCore, l *zap.Logger) *zap.Logger {
		return l.Named(loggerName)
	}
}

func AtLevel(level zapcore.Level) Option {
	return func(r *RecordingCore, l *zap.Logger) *zap.Logger {
		r.LevelEnabler = level
		return l
	}
}

// NewTestLogger returns a debug level logger writing "[name] LEVEL message"
// lines to tb and to the returned recorder.
func NewTestLogger(tb testing.TB, options ...Option) (*flogging.DispersyLogger, *Recorder) {
	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:       "msg",
		LevelKey:         "level",
		NameKey:          "name",
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeName:       func(name string, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString("[" + name + "]") },
		ConsoleSeparator: " ",
	})

	recorder := &Recorder{}
	core := &RecordingCore{
		LevelEnabler: zapcore.DebugLevel,
		encoder:      encoder,
		recorder:     recorder,
		writer:       &TestingWriter{TB: tb},
	}

	zl := zap.New(core)
	for _, o := range options {
		zl = o(core, zl)
	}
	return flogging.NewDispersyLogger(zl), recorder
}
