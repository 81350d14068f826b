/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package trigger holds callbacks that wait for a message whose footprint
// matches a pattern, or for their deadline to pass.
package trigger

import (
	"regexp"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/util"
)

const patternCacheSize = 256

// Trigger is one pending callback.
type Trigger struct {
	pattern   *regexp.Regexp
	onMatch   func(*message.Message)
	onTimeout func()
	remaining int
	deadline  time.Time
}

// Pattern returns the footprint expression the trigger waits for.
func (t *Trigger) Pattern() string { return t.pattern.String() }

// List is the set of pending triggers. Callbacks are invoked without the
// list lock held, so they may add new triggers.
type List struct {
	lock     sync.Mutex
	triggers []*Trigger
	patterns *lru.Cache
	logger   util.Logger
}

// NewList creates an empty list.
func NewList(logger util.Logger) *List {
	patterns, _ := lru.New(patternCacheSize)
	return &List{patterns: patterns, logger: logger}
}

func (l *List) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := l.patterns.Get(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid trigger pattern %q", pattern)
	}
	l.patterns.Add(pattern, re)
	return re, nil
}

// Add registers a trigger that calls onMatch for up to maxResponses
// matching messages, and onTimeout if the deadline passes first. Either
// callback may be nil.
func (l *List) Add(pattern string, onMatch func(*message.Message), onTimeout func(), maxResponses int, deadline time.Time) (*Trigger, error) {
	if maxResponses < 1 {
		return nil, errors.Errorf("max responses must be positive, got %d", maxResponses)
	}
	re, err := l.compile(pattern)
	if err != nil {
		return nil, err
	}
	t := &Trigger{
		pattern:   re,
		onMatch:   onMatch,
		onTimeout: onTimeout,
		remaining: maxResponses,
		deadline:  deadline,
	}

	l.lock.Lock()
	l.triggers = append(l.triggers, t)
	l.lock.Unlock()

	l.logger.Debugf("added trigger %s", pattern)
	return t, nil
}

// Offer matches msgs against the pending triggers and fires those that
// match. Triggers whose budget is spent are removed. It returns the number
// of callbacks invoked.
func (l *List) Offer(msgs []*message.Message) int {
	type firing struct {
		fn  func(*message.Message)
		msg *message.Message
	}
	var fire []firing

	l.lock.Lock()
	for _, msg := range msgs {
		if len(l.triggers) == 0 {
			break
		}
		footprint := msg.Footprint()
		kept := l.triggers[:0]
		for _, t := range l.triggers {
			if t.remaining > 0 && t.pattern.MatchString(footprint) {
				t.remaining--
				fire = append(fire, firing{fn: t.onMatch, msg: msg})
			}
			if t.remaining > 0 {
				kept = append(kept, t)
			}
		}
		for i := len(kept); i < len(l.triggers); i++ {
			l.triggers[i] = nil
		}
		l.triggers = kept
	}
	l.lock.Unlock()

	for _, f := range fire {
		if f.fn != nil {
			f.fn(f.msg)
		}
	}
	return len(fire)
}

// Expire removes the triggers whose deadline is before now and runs their
// timeout callbacks.
func (l *List) Expire(now time.Time) int {
	var expired []*Trigger

	l.lock.Lock()
	kept := l.triggers[:0]
	for _, t := range l.triggers {
		if now.After(t.deadline) {
			expired = append(expired, t)
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(l.triggers); i++ {
		l.triggers[i] = nil
	}
	l.triggers = kept
	l.lock.Unlock()

	for _, t := range expired {
		l.logger.Debugf("trigger %s timed out", t.pattern)
		if t.onTimeout != nil {
			t.onTimeout()
		}
	}
	return len(expired)
}

// Remove drops t without calling any callback.
func (l *List) Remove(t *Trigger) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for i, other := range l.triggers {
		if other == t {
			l.triggers = append(l.triggers[:i], l.triggers[i+1:]...)
			return
		}
	}
}

// Len returns the number of pending triggers.
func (l *List) Len() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.triggers)
}
