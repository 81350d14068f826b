/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package floggingtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestLoggerRecorder(t *testing.T) {
	tl, recorder := NewTestLogger(t, Named("test-logging"), AtLevel(zapcore.InfoLevel))
	tl.Error("this", "is", "an", "error")
	tl.Debug("filtered")

	assert.Equal(t, []string{"ERROR [test-logging] this is an error"}, recorder.Entries())
	assert.Equal(t, []string{"this is an error"}, recorder.Messages())
}

func TestLoggerRecorderRegex(t *testing.T) {
	tl, recorder := NewTestLogger(t, Named("test-logging"))
	tl.Debug("message one")
	tl.Debug("message two")
	tl.Debug("message three")

	assert.Len(t, recorder.EntriesContaining("message"), 3)
	assert.Len(t, recorder.EntriesMatching("test-logging.*message t"), 2)
	assert.Len(t, recorder.MessagesContaining("message"), 3)
	assert.Len(t, recorder.MessagesMatching("^message t"), 2)
	assert.Len(t, recorder.EntriesContaining("one"), 1)
	assert.Len(t, recorder.MessagesContaining(""), 3)
	assert.Empty(t, recorder.EntriesContaining("mismatch"))
	assert.Empty(t, recorder.MessagesContaining("mismatch"))
}

func TestRecorderReset(t *testing.T) {
	tl, recorder := NewTestLogger(t)
	tl.Infof("message %d", 1)
	assert.Len(t, recorder.Entries(), 1)

	recorder.Reset()
	assert.Empty(t, recorder.Entries())
	assert.Empty(t, recorder.Messages())
}
