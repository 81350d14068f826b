/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// IDLength is the size of community and member identifiers.
const IDLength = 20

// CID identifies a community. It is the SHA1 digest of the community's master
// public key.
type CID [IDLength]byte

// Mid is the SHA1 digest of a member's public key. Two members may share a
// mid, so it is only ever used as a lookup hint.
type Mid [IDLength]byte

// String returns the lowercase hex form of the community identifier
func (c CID) String() string { return hex.EncodeToString(c[:]) }

// Bytes returns a copy of the identifier
func (c CID) Bytes() []byte { return append([]byte(nil), c[:]...) }

// IsZero returns whether the identifier is all zeroes. The zero CID is used
// for bootstrap candidates that are not bound to a community.
func (c CID) IsZero() bool { return c == CID{} }

func (m Mid) String() string { return hex.EncodeToString(m[:]) }

func (m Mid) Bytes() []byte { return append([]byte(nil), m[:]...) }

// CIDFromBytes copies b into a CID.
func CIDFromBytes(b []byte) (CID, error) {
	var c CID
	if len(b) != IDLength {
		return c, errors.Errorf("invalid community id length %d", len(b))
	}
	copy(c[:], b)
	return c, nil
}

// MidFromBytes copies b into a Mid.
func MidFromBytes(b []byte) (Mid, error) {
	var m Mid
	if len(b) != IDLength {
		return m, errors.Errorf("invalid mid length %d", len(b))
	}
	copy(m[:], b)
	return m, nil
}

// CIDFromHex parses a 40 character hex string.
func CIDFromHex(s string) (CID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return CID{}, errors.Wrapf(err, "invalid community id %s", s)
	}
	return CIDFromBytes(b)
}

// Address is a UDP endpoint as (host, port).
type Address struct {
	Host string
	Port int
}

// ZeroAddress is used where the wire format needs an address but none is
// known.
var ZeroAddress = Address{Host: "0.0.0.0", Port: 0}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsValid reports whether a is a routable IPv4 host with a non-zero port.
func (a Address) IsValid() bool {
	ip := net.ParseIP(a.Host)
	if ip == nil || ip.To4() == nil {
		return false
	}
	if ip.IsUnspecified() || ip.Equal(net.IPv4bcast) {
		return false
	}
	return a.Port > 0 && a.Port < 65536
}

// Less orders addresses by host bytes then port.
func (a Address) Less(b Address) bool {
	if c := bytes.Compare([]byte(a.Host), []byte(b.Host)); c != 0 {
		return c < 0
	}
	return a.Port < b.Port
}

// ParseAddress parses "host:port".
func ParseAddress(s string) (Address, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, errors.Wrapf(err, "invalid address %s", s)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Address{}, errors.Wrapf(err, "invalid port in %s", s)
	}
	return Address{Host: host, Port: p}, nil
}

// AddressFromUDP converts a net.UDPAddr.
func AddressFromUDP(a *net.UDPAddr) Address {
	return Address{Host: a.IP.String(), Port: a.Port}
}

// UDPAddr converts the address for use with a net.UDPConn.
func (a Address) UDPAddr() (*net.UDPAddr, error) {
	ip := net.ParseIP(a.Host)
	if ip == nil {
		return nil, errors.Errorf("invalid host %s", a.Host)
	}
	return &net.UDPAddr{IP: ip, Port: a.Port}, nil
}

// PacketIn is a datagram together with the address it was received from.
type PacketIn struct {
	Source Address
	Data   []byte
}

func (p PacketIn) String() string {
	return fmt.Sprintf("%d bytes from %s", len(p.Data), p.Source)
}
