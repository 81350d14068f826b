/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispersy

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/crypto"
	"github.com/tribler/dispersy/dispersy/util"
)

// Config is the configuration of a Dispersy instance.
type Config struct {
	Address      string // Address the UDP endpoint binds to
	DatabasePath string // Path of the sqlite message store

	SyncInterval             time.Duration // How often sync messages are sent
	CandidateRequestInterval time.Duration // How often candidate requests are sent
	CandidateCleanupInterval time.Duration // How often stale candidates are removed
	CandidateCleanupAge      time.Duration // Candidates idle for longer are removed
	CandidateMinInterval     time.Duration // Minimal time between two walks to the same candidate
	CandidateLiveAge         time.Duration // Candidates heard from within this age count as live
	CandidateTwoWayDiff      time.Duration // Maximal |outgoing - incoming| of a two-way candidate
	ExternalCandidateAge     time.Duration // Third party reports younger than this are used
	CandidateRequestCount    int           // Candidates contacted per walk
	RoutesLimit              int           // Routes carried in a candidate request or response

	BloomCount     int     // Sync messages sent per sync interval
	BloomCapacity  int     // Packets per sync range
	BloomErrorRate float64 // False positive rate of a full sync range

	SyncResponseLimit            int // Bytes sent in reply to one sync message
	MissingSequenceResponseLimit int // Bytes sent in reply to one missing-sequence message
	MissingProofResponseLimit    int // Bytes sent in reply to one missing-proof message
	IdentityResponseLimit        int // Identity packets sent in reply to one identity request

	TriggerTimeout            time.Duration // Lifetime of a delayed packet or message
	SignatureRequestTimeout   time.Duration // Lifetime of a signature request
	AcceptableGlobalTimeRange uint64        // Messages further ahead of our global time are dropped

	BootstrapAddresses []common.Address // Inserted at community 0 on database creation
	ForwardIncoming    bool             // Forward sync-distributed messages received from others

	ReceiveBurstSize    int           // Packets that trigger immediate batch processing
	ReceiveBurstLatency time.Duration // Maximal time a received packet waits for its batch

	MasterKeyStrength crypto.Strength // Curve of generated master members
	MemberCacheSize   int             // Members kept in the registry cache
}

// DefaultConfig returns the configuration with every default applied.
func DefaultConfig() Config {
	return Config{
		Address:                      "0.0.0.0:6421",
		DatabasePath:                 "dispersy.db",
		SyncInterval:                 5 * time.Second,
		CandidateRequestInterval:     5 * time.Second,
		CandidateCleanupInterval:     60 * time.Second,
		CandidateCleanupAge:          30 * time.Minute,
		CandidateMinInterval:         5 * time.Second,
		CandidateLiveAge:             5 * time.Minute,
		CandidateTwoWayDiff:          10 * time.Second,
		ExternalCandidateAge:         10 * time.Minute,
		CandidateRequestCount:        3,
		RoutesLimit:                  30,
		BloomCount:                   2,
		BloomCapacity:                850,
		BloomErrorRate:               0.01,
		SyncResponseLimit:            5 * 1024,
		MissingSequenceResponseLimit: 10 * 1024,
		MissingProofResponseLimit:    10 * 1024,
		IdentityResponseLimit:        10,
		TriggerTimeout:               10 * time.Second,
		SignatureRequestTimeout:      10 * time.Second,
		AcceptableGlobalTimeRange:    10000,
		ForwardIncoming:              true,
		ReceiveBurstSize:             100,
		ReceiveBurstLatency:          10 * time.Millisecond,
		MasterKeyStrength:            crypto.High,
		MemberCacheSize:              1024,
	}
}

// GlobalConfig reads the dispersy.* keys from viper, falling back to the
// defaults.
func GlobalConfig() (Config, error) {
	def := DefaultConfig()
	conf := Config{
		Address:                      util.GetStringOrDefault("dispersy.address", def.Address),
		DatabasePath:                 util.GetStringOrDefault("dispersy.databasePath", def.DatabasePath),
		SyncInterval:                 util.GetDurationOrDefault("dispersy.syncInterval", def.SyncInterval),
		CandidateRequestInterval:     util.GetDurationOrDefault("dispersy.candidate.requestInterval", def.CandidateRequestInterval),
		CandidateCleanupInterval:     util.GetDurationOrDefault("dispersy.candidate.cleanupInterval", def.CandidateCleanupInterval),
		CandidateCleanupAge:          util.GetDurationOrDefault("dispersy.candidate.cleanupAge", def.CandidateCleanupAge),
		CandidateMinInterval:         util.GetDurationOrDefault("dispersy.candidate.minInterval", def.CandidateMinInterval),
		CandidateLiveAge:             util.GetDurationOrDefault("dispersy.candidate.liveAge", def.CandidateLiveAge),
		CandidateTwoWayDiff:          util.GetDurationOrDefault("dispersy.candidate.twoWayDiff", def.CandidateTwoWayDiff),
		ExternalCandidateAge:         util.GetDurationOrDefault("dispersy.candidate.externalAge", def.ExternalCandidateAge),
		CandidateRequestCount:        util.GetIntOrDefault("dispersy.candidate.requestCount", def.CandidateRequestCount),
		RoutesLimit:                  util.GetIntOrDefault("dispersy.candidate.routesLimit", def.RoutesLimit),
		BloomCount:                   util.GetIntOrDefault("dispersy.bloom.count", def.BloomCount),
		BloomCapacity:                util.GetIntOrDefault("dispersy.bloom.capacity", def.BloomCapacity),
		BloomErrorRate:               util.GetFloat64OrDefault("dispersy.bloom.errorRate", def.BloomErrorRate),
		SyncResponseLimit:            util.GetIntOrDefault("dispersy.limits.syncResponse", def.SyncResponseLimit),
		MissingSequenceResponseLimit: util.GetIntOrDefault("dispersy.limits.missingSequenceResponse", def.MissingSequenceResponseLimit),
		MissingProofResponseLimit:    util.GetIntOrDefault("dispersy.limits.missingProofResponse", def.MissingProofResponseLimit),
		IdentityResponseLimit:        util.GetIntOrDefault("dispersy.limits.identityResponse", def.IdentityResponseLimit),
		TriggerTimeout:               util.GetDurationOrDefault("dispersy.triggerTimeout", def.TriggerTimeout),
		SignatureRequestTimeout:      util.GetDurationOrDefault("dispersy.signatureRequestTimeout", def.SignatureRequestTimeout),
		AcceptableGlobalTimeRange:    uint64(util.GetIntOrDefault("dispersy.acceptableGlobalTimeRange", int(def.AcceptableGlobalTimeRange))),
		ForwardIncoming:              util.GetBoolOrDefault("dispersy.forwardIncoming", def.ForwardIncoming),
		ReceiveBurstSize:             util.GetIntOrDefault("dispersy.receive.burstSize", def.ReceiveBurstSize),
		ReceiveBurstLatency:          util.GetDurationOrDefault("dispersy.receive.burstLatency", def.ReceiveBurstLatency),
		MasterKeyStrength:            crypto.Strength(util.GetStringOrDefault("dispersy.masterKeyStrength", string(def.MasterKeyStrength))),
		MemberCacheSize:              util.GetIntOrDefault("dispersy.memberCacheSize", def.MemberCacheSize),
	}

	for _, s := range util.GetStringSliceOrDefault("dispersy.bootstrap", nil) {
		addr, err := common.ParseAddress(s)
		if err != nil {
			return Config{}, errors.WithMessage(err, "invalid bootstrap address")
		}
		conf.BootstrapAddresses = append(conf.BootstrapAddresses, addr)
	}
	if err := conf.Validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}

// Validate checks the values that would break the overlay.
func (c Config) Validate() error {
	switch {
	case c.BloomCapacity <= 0:
		return errors.Errorf("bloom capacity must be positive, got %d", c.BloomCapacity)
	case c.BloomErrorRate <= 0 || c.BloomErrorRate >= 1:
		return errors.Errorf("bloom error rate must be in (0, 1), got %f", c.BloomErrorRate)
	case c.BloomCount < 1:
		return errors.Errorf("bloom count must be positive, got %d", c.BloomCount)
	case c.SyncInterval <= 0 || c.CandidateRequestInterval <= 0 || c.CandidateCleanupInterval <= 0:
		return errors.New("task intervals must be positive")
	case c.TriggerTimeout <= 0 || c.SignatureRequestTimeout <= 0:
		return errors.New("timeouts must be positive")
	case c.RoutesLimit < 0 || c.RoutesLimit > 255:
		return errors.Errorf("routes limit must be in [0, 255], got %d", c.RoutesLimit)
	}
	return nil
}
