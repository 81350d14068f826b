/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package node

import (
	"github.com/tribler/dispersy/dispersy/conversion"
	"github.com/tribler/dispersy/dispersy/dispersy"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/payload"
)

const (
	// TextClassification is the classification of the communities the
	// daemon runs.
	TextClassification = "dispersyd-text"

	textMessage = "text"
)

// textOverlay is a community whose members exchange short text messages
// that every member keeps.
type textOverlay struct {
	received func(*message.Message)
}

func (o *textOverlay) MetaMessages(c *dispersy.Community) []*message.Meta {
	return []*message.Meta{
		{
			Name:           textMessage,
			Authentication: message.MemberAuthentication{Encoding: message.EncodingSHA1},
			Resolution:     message.PublicResolution{},
			Distribution:   message.FullSyncDistribution{SynchronizationDirection: message.InOrder},
			Destination:    message.CommunityDestination{NodeCount: 10},
			Handle:         o.handle,
		},
	}
}

func (o *textOverlay) Codecs() map[string]conversion.Codec {
	return map[string]conversion.Codec{textMessage: conversion.TextCodec}
}

func (o *textOverlay) handle(msgs []*message.Message) {
	for _, msg := range msgs {
		if text, ok := msg.Payload.(*payload.Text); ok {
			logger.Infof("%s from %s at %d: %s", msg.Name(), msg.Creator(), msg.GlobalTime(), text.Text)
		}
		if o.received != nil {
			o.received(msg)
		}
	}
}
