/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispersy

import (
	"crypto/sha1"
	"time"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/conversion"
	"github.com/tribler/dispersy/dispersy/member"
	"github.com/tribler/dispersy/dispersy/message"
	"github.com/tribler/dispersy/dispersy/payload"
)

func (c *Community) onIdentity(msgs []*message.Message) {
	for _, msg := range msgs {
		p := msg.Payload.(*payload.Identity)
		if err := c.d.registry.SetAddress(msg.Creator(), p.Address); err != nil {
			c.logger.Errorf("failed updating address of %s: %+v", msg.Creator(), err)
		}
	}
}

func (c *Community) onSubjectiveSet(msgs []*message.Message) {
	for _, msg := range msgs {
		c.updateSubjectiveSet(msg)
	}
}

func hasSignature(sig []byte) bool {
	for _, b := range sig {
		if b != 0 {
			return true
		}
	}
	return false
}

// onSignatureRequest adds our signatures to messages others created, when
// the meta allows it. The master member never signs.
func (c *Community) onSignatureRequest(msgs []*message.Message) {
	respMeta := c.mustMeta(message.SignatureResponseName)
	for _, msg := range msgs {
		embedded := msg.Payload.(*payload.SignatureRequest).Message
		auth, ok := embedded.Authentication.(*message.MultiMemberAuthenticationImpl)
		if !ok {
			continue
		}
		policy := embedded.Meta.Authentication.(message.MultiMemberAuthentication)
		body := embedded.Packet[:conversion.BodyEnd(embedded)]
		identifier := payload.Identifier(sha1.Sum(msg.Packet))

		for idx, m := range auth.Members() {
			if !m.IsPrivate() || hasSignature(auth.Signatures()[idx]) {
				continue
			}
			if member.Equal(m, c.master) {
				c.logger.Warningf("refusing to sign %s with the master member", embedded.Name())
				continue
			}
			if policy.AllowSignature == nil || !policy.AllowSignature(embedded) {
				c.logger.Debugf("not signing %s for %s", embedded.Name(), msg.Source)
				continue
			}
			sig, err := m.Sign(body)
			if err != nil {
				c.logger.Errorf("failed signing %s: %+v", embedded.Name(), err)
				continue
			}
			resp := &payload.SignatureResponse{Identifier: identifier, Signature: sig}
			if _, err := c.CreateMessage(respMeta, resp, WithAddresses(msg.Source)); err != nil {
				c.logger.Errorf("failed creating signature response: %+v", err)
			}
		}
	}
}

// CreateSignatureRequest asks the members that did not sign msg yet for
// their signatures. Once every signature arrived msg is stored and
// forwarded and onDone is called with it; when timeout passes first onDone
// is called with nil.
func (c *Community) CreateSignatureRequest(msg *message.Message, onDone func(*message.Message), timeout time.Duration) (*message.Message, error) {
	auth, ok := msg.Authentication.(*message.MultiMemberAuthenticationImpl)
	if !ok {
		return nil, errors.Errorf("%s is not a multi member message", msg.Name())
	}
	var missing []*member.Member
	for idx, m := range auth.Members() {
		if !hasSignature(auth.Signatures()[idx]) {
			missing = append(missing, m)
		}
	}
	if len(missing) == 0 {
		return nil, errors.Errorf("%s is already signed", msg.Name())
	}
	if timeout <= 0 {
		timeout = c.d.conf.SignatureRequestTimeout
	}

	request, err := c.CreateMessage(c.mustMeta(message.SignatureRequestName), &payload.SignatureRequest{Message: msg},
		WithDestinationMembers(missing...), WithoutForward())
	if err != nil {
		return nil, err
	}
	identifier := payload.Identifier(sha1.Sum(request.Packet))
	body := append([]byte(nil), msg.Packet[:conversion.BodyEnd(msg)]...)

	done := false
	onMatch := func(resp *message.Message) {
		if done {
			return
		}
		sig := resp.Payload.(*payload.SignatureResponse).Signature
		for idx, m := range auth.Members() {
			if hasSignature(auth.Signatures()[idx]) || len(sig) != m.SignatureLength() || !m.Verify(body, sig) {
				continue
			}
			if err := auth.SetSignature(idx, sig); err != nil {
				c.logger.Errorf("failed setting signature: %+v", err)
				return
			}
			break
		}
		if !auth.IsSigned() {
			return
		}
		done = true
		if _, err := c.conv.Encode(msg, false); err != nil {
			c.logger.Errorf("failed encoding signed %s: %+v", msg.Name(), err)
			return
		}
		if err := c.acceptLocal(msg, true); err != nil {
			c.logger.Errorf("failed storing signed %s: %+v", msg.Name(), err)
		}
		if onDone != nil {
			onDone(msg)
		}
	}
	onTimeout := func() {
		if !done && onDone != nil {
			onDone(nil)
		}
	}
	pattern := message.SignatureResponsePattern(c.cid, identifier)
	if err := c.d.AwaitMessage(pattern, onMatch, onTimeout, timeout, len(missing)); err != nil {
		return nil, err
	}
	c.forward([]*message.Message{request})
	return request, nil
}

func (c *Community) onDestroyCommunity(msgs []*message.Message) {
	for _, msg := range msgs {
		c.applyDestroy(msg, true)
	}
}

// applyDestroy freezes the community at the global time of msg. A hard kill
// also stops the periodic tasks and, when purge is set, deletes everything
// but the destroy and identity packets together with the candidates.
func (c *Community) applyDestroy(msg *message.Message, purge bool) {
	p := msg.Payload.(*payload.DestroyCommunity)
	c.timeline.Freeze(msg.GlobalTime())
	if c.state == Running {
		c.state = SoftKilled
	}
	c.logger.Infof("%s %s at global time %d", c, p.Degree, msg.GlobalTime())
	if p.Degree != payload.HardKill || c.state == HardKilled {
		return
	}

	c.state = HardKilled
	c.stopTasks()
	if !purge {
		return
	}
	if err := c.purge(); err != nil {
		c.logger.Errorf("failed purging %s: %+v", c, err)
	}
	// The destroy message is forwarded after its handler, so the
	// candidates go once that is done.
	c.d.scheduler.Post(func() {
		if _, err := c.d.db.Exec(`DELETE FROM candidate WHERE community = ?`, c.id); err != nil {
			c.logger.Errorf("failed purging candidates of %s: %+v", c, err)
		}
	})
}

func (c *Community) purge() error {
	db := c.d.db
	err := db.Update(func() error {
		_, err := db.Exec(`DELETE FROM sync WHERE community = ? AND name NOT IN (?, ?)`,
			c.id, c.nameIDs[message.DestroyCommunityName], c.nameIDs[message.IdentityName])
		if err != nil {
			return errors.Wrap(err, "failed deleting packets")
		}
		_, err = db.Exec(`DELETE FROM reference_user_sync WHERE sync NOT IN (SELECT id FROM sync)`)
		return errors.Wrap(err, "failed deleting member references")
	})
	if err != nil {
		return err
	}
	return c.rebuildRanges()
}
