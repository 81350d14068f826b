/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"math/big"

	"github.com/pkg/errors"
	"github.com/tribler/dispersy/dispersy/common"
)

// Strength selects the curve of a generated key.
type Strength string

const (
	VeryLow Strength = "very-low"
	Low     Strength = "low"
	Medium  Strength = "medium"
	High    Strength = "high"
)

func curveFor(strength Strength) (elliptic.Curve, error) {
	switch strength {
	case VeryLow:
		return elliptic.P224(), nil
	case Low:
		return elliptic.P256(), nil
	case Medium:
		return elliptic.P384(), nil
	case High:
		return elliptic.P521(), nil
	}
	return nil, errors.Errorf("unknown key strength '%s'", strength)
}

// GenerateKey returns a new key pair on the curve selected by strength.
func GenerateKey(strength Strength) (*ecdsa.PrivateKey, error) {
	curve, err := curveFor(strength)
	if err != nil {
		return nil, err
	}
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed generating ECDSA key")
	}
	return key, nil
}

// PublicKeyToBin encodes the public key as PKIX DER. This is the canonical
// form that member identifiers are derived from.
func PublicKeyToBin(pub *ecdsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, errors.New("invalid ecdsa public key, it must be different from nil")
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, errors.Wrap(err, "failed marshalling public key")
	}
	return der, nil
}

// PrivateKeyToBin encodes the private key as SEC 1 DER.
func PrivateKeyToBin(priv *ecdsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("invalid ecdsa private key, it must be different from nil")
	}
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, errors.Wrap(err, "failed marshalling private key")
	}
	return der, nil
}

func PublicKeyFromBin(der []byte) (*ecdsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errors.Wrap(err, "failed parsing public key")
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an ECDSA key")
	}
	return pub, nil
}

func PrivateKeyFromBin(der []byte) (*ecdsa.PrivateKey, error) {
	priv, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, errors.Wrap(err, "failed parsing private key")
	}
	return priv, nil
}

// IsValidPublicBin reports whether der parses as an ECDSA public key.
func IsValidPublicBin(der []byte) bool {
	_, err := PublicKeyFromBin(der)
	return err == nil
}

// PrivateKeyToPEM wraps the SEC 1 encoding in an "EC PRIVATE KEY" block.
func PrivateKeyToPEM(priv *ecdsa.PrivateKey) ([]byte, error) {
	der, err := PrivateKeyToBin(priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

func PEMToPrivateKey(raw []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("failed decoding PEM, block must be different from nil")
	}
	return PrivateKeyFromBin(block.Bytes)
}

// Mid returns SHA1(publicKeyBin).
func Mid(publicKeyBin []byte) common.Mid {
	return common.Mid(sha1.Sum(publicKeyBin))
}

// SignatureLength is the fixed size of a signature made with a key on the
// same curve as pub: r and s, each padded to the curve's byte size.
func SignatureLength(pub *ecdsa.PublicKey) int {
	return 2 * curveBytes(pub.Curve)
}

func curveBytes(curve elliptic.Curve) int {
	return (curve.Params().BitSize + 7) / 8
}

// Sign signs the SHA1 digest of data and returns r||s padded to
// SignatureLength.
func Sign(priv *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha1.Sum(data)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, errors.Wrap(err, "failed signing")
	}
	size := curveBytes(priv.Curve)
	sig := make([]byte, 2*size)
	r.FillBytes(sig[:size])
	s.FillBytes(sig[size:])
	return sig, nil
}

// Verify checks a signature produced by Sign.
func Verify(pub *ecdsa.PublicKey, data, sig []byte) bool {
	size := curveBytes(pub.Curve)
	if len(sig) != 2*size {
		return false
	}
	r := new(big.Int).SetBytes(sig[:size])
	s := new(big.Int).SetBytes(sig[size:])
	digest := sha1.Sum(data)
	return ecdsa.Verify(pub, digest[:], r, s)
}
