/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package util

import (
	"sync"
	"time"

	"github.com/spf13/viper"
)

var viperLock sync.RWMutex

// GetIntOrDefault returns the int value from config if present otherwise default value
func GetIntOrDefault(key string, defVal int) int {
	viperLock.RLock()
	defer viperLock.RUnlock()

	if val := viper.GetInt(key); val != 0 {
		return val
	}
	return defVal
}

// GetFloat64OrDefault returns the float64 value from config if present otherwise default value
func GetFloat64OrDefault(key string, defVal float64) float64 {
	viperLock.RLock()
	defer viperLock.RUnlock()

	if val := viper.GetFloat64(key); val != 0 {
		return val
	}
	return defVal
}

// GetDurationOrDefault returns the Duration value from config if present otherwise default value
func GetDurationOrDefault(key string, defVal time.Duration) time.Duration {
	viperLock.RLock()
	defer viperLock.RUnlock()

	if val := viper.GetDuration(key); val != 0 {
		return val
	}
	return defVal
}

// GetStringOrDefault returns the string value from config if present otherwise default value
func GetStringOrDefault(key string, defVal string) string {
	viperLock.RLock()
	defer viperLock.RUnlock()

	if val := viper.GetString(key); val != "" {
		return val
	}
	return defVal
}

// GetStringSliceOrDefault returns the string slice from config if present otherwise default value
func GetStringSliceOrDefault(key string, defVal []string) []string {
	viperLock.RLock()
	defer viperLock.RUnlock()

	if val := viper.GetStringSlice(key); len(val) != 0 {
		return val
	}
	return defVal
}

// GetBoolOrDefault returns the bool value from config if the key is set otherwise default value
func GetBoolOrDefault(key string, defVal bool) bool {
	viperLock.RLock()
	defer viperLock.RUnlock()

	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	return defVal
}

// SetVal stores key value to viper
func SetVal(key string, val interface{}) {
	viperLock.Lock()
	defer viperLock.Unlock()
	viper.Set(key, val)
}
