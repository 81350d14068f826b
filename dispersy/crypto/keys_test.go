/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyStrengths(t *testing.T) {
	for strength, sigLen := range map[Strength]int{
		VeryLow: 56,
		Low:     64,
		Medium:  96,
		High:    132,
	} {
		key, err := GenerateKey(strength)
		require.NoError(t, err)
		assert.Equal(t, sigLen, SignatureLength(&key.PublicKey), "strength %s", strength)
	}

	_, err := GenerateKey("extreme")
	assert.Error(t, err)
}

func TestKeySerialization(t *testing.T) {
	key, err := GenerateKey(Low)
	require.NoError(t, err)

	pubBin, err := PublicKeyToBin(&key.PublicKey)
	require.NoError(t, err)
	privBin, err := PrivateKeyToBin(key)
	require.NoError(t, err)

	pub, err := PublicKeyFromBin(pubBin)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))

	priv, err := PrivateKeyFromBin(privBin)
	require.NoError(t, err)
	assert.True(t, priv.Equal(key))

	assert.True(t, IsValidPublicBin(pubBin))
	assert.False(t, IsValidPublicBin([]byte("garbage")))

	_, err = PublicKeyToBin(nil)
	assert.Error(t, err)
	_, err = PrivateKeyToBin(nil)
	assert.Error(t, err)
}

func TestPEM(t *testing.T) {
	key, err := GenerateKey(Medium)
	require.NoError(t, err)
	raw, err := PrivateKeyToPEM(key)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "EC PRIVATE KEY")

	back, err := PEMToPrivateKey(raw)
	require.NoError(t, err)
	assert.True(t, back.Equal(key))

	_, err = PEMToPrivateKey([]byte("not pem"))
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	key, err := GenerateKey(Low)
	require.NoError(t, err)
	other, err := GenerateKey(Low)
	require.NoError(t, err)

	data := []byte("dispersy-identity")
	sig, err := Sign(key, data)
	require.NoError(t, err)
	assert.Len(t, sig, SignatureLength(&key.PublicKey))

	assert.True(t, Verify(&key.PublicKey, data, sig))
	assert.False(t, Verify(&other.PublicKey, data, sig))
	assert.False(t, Verify(&key.PublicKey, []byte("tampered"), sig))
	assert.False(t, Verify(&key.PublicKey, data, sig[1:]))
}

func TestMid(t *testing.T) {
	key, err := GenerateKey(VeryLow)
	require.NoError(t, err)
	bin, err := PublicKeyToBin(&key.PublicKey)
	require.NoError(t, err)

	expected := sha1.Sum(bin)
	mid := Mid(bin)
	assert.Equal(t, expected[:], mid[:])
}
