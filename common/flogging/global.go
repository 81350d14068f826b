/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package flogging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
)

const defaultLevel = zapcore.InfoLevel

// Global is the process wide logging system; every named logger in the
// daemon is derived from it.
var Global *Logging

func init() {
	logging, err := New(Config{})
	if err != nil {
		panic(err)
	}
	Global = logging
}

// Init applies the configuration to the global logging system and panics
// on an invalid spec or format.
func Init(config Config) {
	if err := Global.Apply(config); err != nil {
		panic(err)
	}
}

// Reset restores the defaults: console output on stderr at INFO.
func Reset() {
	Global.Apply(Config{})
}

func GetLoggerLevel(loggerName string) string {
	return strings.ToUpper(Global.Level(loggerName).String())
}

func DefaultLevel() string {
	return strings.ToUpper(Global.DefaultLevel().String())
}

func MustGetLogger(loggerName string) *DispersyLogger {
	return Global.Logger(loggerName)
}

// ActivateSpec panics when spec cannot be parsed.
func ActivateSpec(spec string) {
	if err := Global.ActivateSpec(spec); err != nil {
		panic(err)
	}
}

// InitFromSpec activates spec and reports the resulting default level.
// Parse failures are written to stderr and leave the previous spec active.
func InitFromSpec(spec string) string {
	if err := Global.ActivateSpec(spec); err != nil {
		fmt.Fprintf(os.Stderr, "failed to activate logging spec: %s", err)
	}
	return DefaultLevel()
}
