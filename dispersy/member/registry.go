/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package member

import (
	"bytes"
	"crypto/ecdsa"
	"database/sql"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/crypto"
	"github.com/tribler/dispersy/dispersy/store"
	"github.com/tribler/dispersy/dispersy/util"
)

// MaxMembersPerMid bounds GetByMid.
const MaxMembersPerMid = 10

const defaultCacheSize = 1024

// Registry resolves public keys, mids and database ids to Members. Every
// public key maps to exactly one Member for the lifetime of the registry.
type Registry struct {
	db     *store.DB
	byKey  *lru.Cache
	byID   *lru.Cache
	logger util.Logger
}

// NewRegistry creates a registry backed by db. cacheSize <= 0 selects the
// default.
func NewRegistry(db *store.DB, cacheSize int) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	byKey, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	byID, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Registry{
		db:     db,
		byKey:  byKey,
		byID:   byID,
		logger: util.GetLogger(util.MemberLogger, ""),
	}, nil
}

func (r *Registry) cache(m *Member) {
	r.byKey.Add(string(m.publicKey), m)
	r.byID.Add(m.id, m)
}

// GetOrCreate returns the member owning publicKey, creating its user row on
// first observation.
func (r *Registry) GetOrCreate(publicKey []byte) (*Member, error) {
	if m, ok := r.byKey.Get(string(publicKey)); ok {
		return m.(*Member), nil
	}

	pub, err := crypto.PublicKeyFromBin(publicKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid member public key")
	}
	mid := crypto.Mid(publicKey)

	var m *Member
	err = r.db.Update(func() error {
		if _, err := r.db.Exec(`INSERT OR IGNORE INTO user(mid, public_key) VALUES(?, ?)`, mid[:], publicKey); err != nil {
			return errors.Wrap(err, "failed inserting user")
		}
		var (
			id   int64
			host string
			port int
			tags string
		)
		err := r.db.QueryRow(`SELECT id, host, port, tags FROM user WHERE public_key = ?`, publicKey).Scan(&id, &host, &port, &tags)
		if err != nil {
			return errors.Wrap(err, "failed reading user")
		}
		m = newMember(id, append([]byte(nil), publicKey...), pub)
		if port > 0 {
			m.address = common.Address{Host: host, Port: port}
		}
		m.setTagString(tags)

		var privateKey []byte
		err = r.db.QueryRow(`SELECT private_key FROM key WHERE public_key = ? LIMIT 1`, publicKey).Scan(&privateKey)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return errors.Wrap(err, "failed reading private key")
		default:
			priv, err := crypto.PrivateKeyFromBin(privateKey)
			if err != nil {
				return err
			}
			m.private = priv
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cache(m)
	return m, nil
}

// GetOrCreatePrivate returns the member for priv's public key and records
// the private key so that the member is private from now on.
func (r *Registry) GetOrCreatePrivate(priv *ecdsa.PrivateKey) (*Member, error) {
	publicKey, err := crypto.PublicKeyToBin(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	privateKey, err := crypto.PrivateKeyToBin(priv)
	if err != nil {
		return nil, err
	}

	m, err := r.GetOrCreate(publicKey)
	if err != nil {
		return nil, err
	}
	if m.private != nil {
		return m, nil
	}
	_, err = r.db.Exec(`INSERT OR IGNORE INTO key(public_key, private_key) VALUES(?, ?)`, publicKey, privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed storing private key")
	}
	m.private = priv
	return m, nil
}

// Generate creates a new private member.
func (r *Registry) Generate(strength crypto.Strength) (*Member, error) {
	priv, err := crypto.GenerateKey(strength)
	if err != nil {
		return nil, err
	}
	return r.GetOrCreatePrivate(priv)
}

// GetByID returns the member with database id id.
func (r *Registry) GetByID(id int64) (*Member, error) {
	if m, ok := r.byID.Get(id); ok {
		return m.(*Member), nil
	}
	var publicKey []byte
	if err := r.db.QueryRow(`SELECT public_key FROM user WHERE id = ?`, id).Scan(&publicKey); err != nil {
		return nil, errors.Wrapf(err, "unknown member id %d", id)
	}
	return r.GetOrCreate(publicKey)
}

// GetByMid returns up to MaxMembersPerMid members whose public key hashes
// to mid. An empty result means the member is unknown.
func (r *Registry) GetByMid(mid common.Mid) ([]*Member, error) {
	keys, err := r.db.Blobs(`SELECT public_key FROM user WHERE mid = ? ORDER BY id LIMIT ?`, mid[:], MaxMembersPerMid)
	if err != nil {
		return nil, errors.Wrap(err, "failed looking up mid")
	}
	members := make([]*Member, 0, len(keys))
	for _, key := range keys {
		m, err := r.GetOrCreate(key)
		if err != nil {
			r.logger.Warningf("Ignoring stored member with invalid key: %v", err)
			continue
		}
		members = append(members, m)
	}
	return members, nil
}

// SetAddress records where m was last seen.
func (r *Registry) SetAddress(m *Member, addr common.Address) error {
	if m.address == addr {
		return nil
	}
	if _, err := r.db.Exec(`UPDATE user SET host = ?, port = ? WHERE id = ?`, addr.Host, addr.Port, m.id); err != nil {
		return errors.Wrap(err, "failed updating member address")
	}
	m.address = addr
	return nil
}

// SetTag turns tag on or off for m.
func (r *Registry) SetTag(m *Member, tag Tag, on bool) error {
	if m.tags[tag] == on {
		return nil
	}
	m.tags[tag] = on
	if _, err := r.db.Exec(`UPDATE user SET tags = ? WHERE id = ?`, m.tagString(), m.id); err != nil {
		m.tags[tag] = !on
		return errors.Wrap(err, "failed updating member tags")
	}
	return nil
}

// Equal reports whether a and b are the same member.
func Equal(a, b *Member) bool {
	if a == nil || b == nil {
		return a == b
	}
	return bytes.Equal(a.publicKey, b.publicKey)
}
