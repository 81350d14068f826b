/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package util

import (
	"sync"

	"github.com/tribler/dispersy/common/flogging"
	"go.uber.org/zap/zapcore"
)

// Use these constants instead of literal strings when creating loggers.
const (
	CandidateLogger = "dispersy.candidate"
	CommLogger      = "dispersy.comm"
	CommMockLogger  = "dispersy.comm.mock"
	CommunityLogger = "dispersy.community"
	IngressLogger   = "dispersy.ingress"
	MemberLogger    = "dispersy.member"
	SchedulerLogger = "dispersy.scheduler"
	StoreLogger     = "dispersy.store"
	SyncLogger      = "dispersy.sync"
	TimelineLogger  = "dispersy.timeline"
	TriggerLogger   = "dispersy.trigger"
)

var loggers = make(map[string]Logger)
var lock = sync.Mutex{}
var testMode bool

// defaultTestSpec is the default logging level for dispersy tests
var defaultTestSpec = "WARNING"

// Logger defines the logging surface used by the overlay.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Panic(args ...interface{})
	Panicf(format string, args ...interface{})
	Warning(args ...interface{})
	Warningf(format string, args ...interface{})
	IsEnabledFor(l zapcore.Level) bool
}

// GetLogger returns a logger for given dispersy logger name and peerID.
// In test mode the peerID is appended to the name so that the output of
// several in-process nodes can be told apart.
func GetLogger(name string, peerID string) Logger {
	if peerID != "" && testMode {
		name = name + "#" + peerID
	}

	lock.Lock()
	defer lock.Unlock()

	if lgr, ok := loggers[name]; ok {
		return lgr
	}

	// Logger doesn't exist, create a new one
	lgr := flogging.MustGetLogger(name)
	loggers[name] = lgr
	return lgr
}

// SetupTestLogging sets the default log levels for dispersy unit tests
func SetupTestLogging() {
	testMode = true
	flogging.InitFromSpec(defaultTestSpec)
}
