/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package bloom implements the sliced Bloom filter exchanged in sync
// messages. A filter of k slices sets exactly one bit per slice for every
// element, with the k indices derived from a SHA1 digest by double hashing.
package bloom

import (
	"crypto/sha1"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"github.com/willf/bitset"
)

const (
	// MaxSlices and MaxBitsPerSlice bound what the two size fields of the
	// wire encoding can carry.
	MaxSlices       = math.MaxUint8
	MaxBitsPerSlice = math.MaxUint16

	headerSize = 3
)

// Filter is a sliced Bloom filter. It is not safe for concurrent use.
type Filter struct {
	numSlices    uint
	bitsPerSlice uint
	bits         *bitset.BitSet
}

// New sizes a filter for capacity elements at the given false positive
// rate.
func New(capacity int, errorRate float64) (*Filter, error) {
	if capacity <= 0 {
		return nil, errors.Errorf("capacity must be positive, got %d", capacity)
	}
	if errorRate <= 0 || errorRate >= 1 {
		return nil, errors.Errorf("error rate must be in (0, 1), got %f", errorRate)
	}
	numSlices := int(math.Ceil(math.Log2(1 / errorRate)))
	bitsPerSlice := int(math.Ceil(float64(capacity) * math.Abs(math.Log(errorRate)) /
		(float64(numSlices) * math.Ln2 * math.Ln2)))
	return NewWithSize(numSlices, bitsPerSlice)
}

// NewWithSize creates a filter with explicit dimensions.
func NewWithSize(numSlices, bitsPerSlice int) (*Filter, error) {
	if numSlices <= 0 || numSlices > MaxSlices {
		return nil, errors.Errorf("number of slices must be in [1, %d], got %d", MaxSlices, numSlices)
	}
	if bitsPerSlice <= 0 || bitsPerSlice > MaxBitsPerSlice {
		return nil, errors.Errorf("bits per slice must be in [1, %d], got %d", MaxBitsPerSlice, bitsPerSlice)
	}
	return &Filter{
		numSlices:    uint(numSlices),
		bitsPerSlice: uint(bitsPerSlice),
		bits:         bitset.New(uint(numSlices * bitsPerSlice)),
	}, nil
}

func (f *Filter) NumSlices() int    { return int(f.numSlices) }
func (f *Filter) BitsPerSlice() int { return int(f.bitsPerSlice) }

// Size is the total number of bits.
func (f *Filter) Size() int { return int(f.numSlices * f.bitsPerSlice) }

// Count returns how many bits are set.
func (f *Filter) Count() int { return int(f.bits.Count()) }

func (f *Filter) indices(data []byte) []uint {
	digest := sha1.Sum(data)
	h1 := uint64(binary.BigEndian.Uint32(digest[0:4]))
	h2 := uint64(binary.BigEndian.Uint32(digest[4:8])) | 1
	indices := make([]uint, f.numSlices)
	for i := uint(0); i < f.numSlices; i++ {
		offset := (h1 + uint64(i)*h2) % uint64(f.bitsPerSlice)
		indices[i] = i*f.bitsPerSlice + uint(offset)
	}
	return indices
}

func (f *Filter) Add(data []byte) {
	for _, i := range f.indices(data) {
		f.bits.Set(i)
	}
}

// Contains may return a false positive but never a false negative.
func (f *Filter) Contains(data []byte) bool {
	for _, i := range f.indices(data) {
		if !f.bits.Test(i) {
			return false
		}
	}
	return true
}

func (f *Filter) Clear() {
	f.bits.ClearAll()
}

// Union sets every bit that is set in other. Both filters must have the
// same dimensions.
func (f *Filter) Union(other *Filter) error {
	if f.numSlices != other.numSlices || f.bitsPerSlice != other.bitsPerSlice {
		return errors.Errorf("cannot union filters of size %dx%d and %dx%d",
			f.numSlices, f.bitsPerSlice, other.numSlices, other.bitsPerSlice)
	}
	f.bits.InPlaceUnion(other.bits)
	return nil
}

func (f *Filter) Clone() *Filter {
	return &Filter{
		numSlices:    f.numSlices,
		bitsPerSlice: f.bitsPerSlice,
		bits:         f.bits.Clone(),
	}
}

// Bytes encodes the filter as numSlices (1 byte), bitsPerSlice (2 bytes,
// big endian) followed by the bit array.
func (f *Filter) Bytes() ([]byte, error) {
	raw, err := f.bits.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed marshalling bloom filter bits")
	}
	buf := make([]byte, headerSize, headerSize+len(raw))
	buf[0] = byte(f.numSlices)
	binary.BigEndian.PutUint16(buf[1:3], uint16(f.bitsPerSlice))
	return append(buf, raw...), nil
}

// EncodedSize is len(f.Bytes()).
func (f *Filter) EncodedSize() int {
	return headerSize + f.bits.BinaryStorageSize()
}

// FromBytes decodes a filter produced by Bytes.
func FromBytes(buf []byte) (*Filter, error) {
	if len(buf) < headerSize {
		return nil, errors.New("bloom filter encoding is too short")
	}
	f, err := NewWithSize(int(buf[0]), int(binary.BigEndian.Uint16(buf[1:3])))
	if err != nil {
		return nil, err
	}
	bits := &bitset.BitSet{}
	if err := bits.UnmarshalBinary(buf[headerSize:]); err != nil {
		return nil, errors.Wrap(err, "failed unmarshalling bloom filter bits")
	}
	if bits.Len() != uint(f.Size()) {
		return nil, errors.Errorf("bloom filter carries %d bits, header says %d", bits.Len(), f.Size())
	}
	f.bits = bits
	return f, nil
}
