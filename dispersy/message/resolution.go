/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package message

// Resolution decides who may create a message.
type Resolution interface {
	resolution()
	String() string
}

type ResolutionImpl interface {
	Meta() Resolution
	Footprint() string
}

// PublicResolution lets anyone create the message.
type PublicResolution struct{}

func (PublicResolution) resolution()    {}
func (PublicResolution) String() string { return "PublicResolution" }

func (r PublicResolution) Implement() *PublicResolutionImpl { return &PublicResolutionImpl{meta: r} }

type PublicResolutionImpl struct{ meta PublicResolution }

func (i *PublicResolutionImpl) Meta() Resolution  { return i.meta }
func (i *PublicResolutionImpl) Footprint() string { return "PublicResolution" }

// LinearResolution requires the creator to hold the permit permission in
// the community timeline at the message's global time.
type LinearResolution struct{}

func (LinearResolution) resolution()    {}
func (LinearResolution) String() string { return "LinearResolution" }

func (r LinearResolution) Implement() *LinearResolutionImpl { return &LinearResolutionImpl{meta: r} }

type LinearResolutionImpl struct{ meta LinearResolution }

func (i *LinearResolutionImpl) Meta() Resolution  { return i.meta }
func (i *LinearResolutionImpl) Footprint() string { return "LinearResolution" }

// ImplementResolution returns the implementation for any resolution meta.
func ImplementResolution(r Resolution) ResolutionImpl {
	switch r := r.(type) {
	case LinearResolution:
		return r.Implement()
	default:
		return PublicResolution{}.Implement()
	}
}
