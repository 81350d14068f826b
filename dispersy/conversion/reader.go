/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package conversion

import (
	"encoding/binary"
	"net"

	"github.com/tribler/dispersy/dispersy/common"
	"github.com/tribler/dispersy/dispersy/message"
)

// reader walks a packet. Every short read is reported as a DropPacket.
type reader struct {
	data   []byte
	offset int
}

func (r *reader) need(n int) error {
	if n < 0 || r.offset+n > len(r.data) {
		return message.NewDropPacket("insufficient packet size at offset %d (need %d, have %d)",
			r.offset, n, len(r.data)-r.offset)
	}
	return nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) mid() (common.Mid, error) {
	var mid common.Mid
	b, err := r.bytes(common.IDLength)
	if err != nil {
		return mid, err
	}
	copy(mid[:], b)
	return mid, nil
}

func (r *reader) address() (common.Address, error) {
	b, err := r.bytes(addressSize)
	if err != nil {
		return common.Address{}, err
	}
	ip := net.IPv4(b[0], b[1], b[2], b[3])
	return common.Address{Host: ip.String(), Port: int(binary.BigEndian.Uint16(b[4:]))}, nil
}

func (r *reader) remaining() int { return len(r.data) - r.offset }

func (r *reader) rest() []byte {
	b := r.data[r.offset:]
	r.offset = len(r.data)
	return b
}

// addressSize is four IPv4 bytes plus a two byte port.
const addressSize = 6

func appendAddress(dst []byte, addr common.Address) []byte {
	ip := net.ParseIP(addr.Host).To4()
	if ip == nil {
		ip = net.IPv4zero.To4()
	}
	dst = append(dst, ip...)
	return binary.BigEndian.AppendUint16(dst, uint16(addr.Port))
}
