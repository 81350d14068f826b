/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package flogging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tribler/dispersy/common/flogging"
	"go.uber.org/zap/zapcore"
)

func TestLoggerLevelsActivateSpec(t *testing.T) {
	var tests = []struct {
		spec                 string
		expectedLevels       map[string]zapcore.Level
		expectedDefaultLevel zapcore.Level
	}{
		{
			spec:                 "DEBUG",
			expectedLevels:       map[string]zapcore.Level{},
			expectedDefaultLevel: zapcore.DebugLevel,
		},
		{
			spec: "dispersy.sync=debug:warning",
			expectedLevels: map[string]zapcore.Level{
				"dispersy.sync":       zapcore.DebugLevel,
				"dispersy.sync.bloom": zapcore.DebugLevel,
				"dispersy.ingress":    zapcore.WarnLevel,
			},
			expectedDefaultLevel: zapcore.WarnLevel,
		},
		{
			spec: "dispersy.store.=error:dispersy.candidate,dispersy.comm=debug:info",
			expectedLevels: map[string]zapcore.Level{
				"dispersy.store":       zapcore.ErrorLevel,
				"dispersy.store.child": zapcore.InfoLevel,
				"dispersy.candidate":   zapcore.DebugLevel,
				"dispersy.comm":        zapcore.DebugLevel,
			},
			expectedDefaultLevel: zapcore.InfoLevel,
		},
	}

	for _, tc := range tests {
		t.Run(tc.spec, func(t *testing.T) {
			ll := &flogging.LoggerLevels{}

			err := ll.ActivateSpec(tc.spec)
			require.NoError(t, err)
			assert.Equal(t, tc.expectedDefaultLevel, ll.DefaultLevel())
			for name, lvl := range tc.expectedLevels {
				assert.Equal(t, lvl, ll.Level(name), "logger %s", name)
			}
		})
	}
}

func TestLoggerLevelsActivateSpecErrors(t *testing.T) {
	for _, spec := range []string{
		"=INFO",
		"dispersy.sync=BOGUS",
		"a=b=c",
		"bad name=debug",
		"NOTALEVEL",
	} {
		ll := &flogging.LoggerLevels{}
		err := ll.ActivateSpec(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}

func TestSpecRoundTrip(t *testing.T) {
	ll := &flogging.LoggerLevels{}
	require.NoError(t, ll.ActivateSpec("b=warn:a=debug:error"))
	assert.Equal(t, "a=debug:b=warn:error", ll.Spec())
}

func TestNameToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, flogging.NameToLevel("WARNING"))
	assert.Equal(t, zapcore.ErrorLevel, flogging.NameToLevel("critical"))
	assert.Equal(t, zapcore.InfoLevel, flogging.NameToLevel("bogus"))
	assert.True(t, flogging.IsValidLevel("debug"))
	assert.False(t, flogging.IsValidLevel("bogus"))
}
