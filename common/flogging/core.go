/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package flogging

import (
	"go.uber.org/zap/zapcore"
)

// Encoding is the output format of log records.
type Encoding int8

const (
	ConsoleEncoding Encoding = iota
	JSONEncoding
)

// Observer is notified of every entry that is checked and of every entry
// that is written.
type Observer interface {
	Check(e zapcore.Entry, ce *zapcore.CheckedEntry)
	WriteEntry(e zapcore.Entry, fields []zapcore.Field)
}

// Sink receives the encoded entries of a Core. It also decides the current
// encoding and forwards to the observer. Logging is the only Sink outside
// of tests.
type Sink interface {
	zapcore.WriteSyncer
	Observer
	Encoding() Encoding
}

// Core backs every logger handed out by Logging. Level and encoding are
// looked up per entry, so ActivateSpec and SetFormat reach loggers that
// already exist.
type Core struct {
	Name    string
	Levels  *LoggerLevels
	Console zapcore.Encoder
	JSON    zapcore.Encoder
	Sink    Sink
}

func (c *Core) Enabled(l zapcore.Level) bool {
	return c.Levels.Level(c.Name).Enabled(l)
}

func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	console, json := c.Console.Clone(), c.JSON.Clone()
	for i := range fields {
		fields[i].AddTo(console)
		fields[i].AddTo(json)
	}
	return &Core{Name: c.Name, Levels: c.Levels, Console: console, JSON: json, Sink: c.Sink}
}

func (c *Core) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	c.Sink.Check(e, ce)
	// Named children keep the parent's Core, so the entry's name decides.
	if c.Levels.Level(e.LoggerName).Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *Core) Write(e zapcore.Entry, fields []zapcore.Field) error {
	enc := c.Console
	if c.Sink.Encoding() == JSONEncoding {
		enc = c.JSON
	}
	buf, err := enc.EncodeEntry(e, fields)
	if err != nil {
		return err
	}
	_, err = c.Sink.Write(buf.Bytes())
	buf.Free()
	if err != nil {
		return err
	}
	if e.Level >= zapcore.PanicLevel {
		c.Sync()
	}
	c.Sink.WriteEntry(e, fields)
	return nil
}

func (c *Core) Sync() error {
	return c.Sink.Sync()
}
