// Copyright (c) 2016 Intel Corporation
// Copyright (c) 2019 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package persistapi

import (
	"fmt"
	"strings"
)

// Every arm records only what cannot be rediscovered from the live host.
// Queue sizing and the device manager are never persisted. HardAddr is the
// guest mac; when empty the restore path reads it back from the host link.

type VtapEndpoint struct {
	IfName   string
	HardAddr string `json:",omitempty"`
}

type TapEndpoint struct {
	IfName   string
	HardAddr string `json:",omitempty"`
}

type MacvtapEndpoint struct {
	// IfName is the parent macvlan or physical interface.
	IfName   string
	TapName  string
	HardAddr string `json:",omitempty"`
}

type IPVtapEndpoint struct {
	// IfName is the parent ipvlan interface.
	IfName   string
	TapName  string
	HardAddr string `json:",omitempty"`
}

type PhysicalEndpoint struct {
	IfName         string
	BDF            string
	Driver         string
	VendorDeviceID string
	HardAddr       string `json:",omitempty"`
}

// NetworkPairEndpoint is shared by the endpoints that pair a virtual
// interface with a tap: veth, ipvlan, vlan and macvlan.
type NetworkPairEndpoint struct {
	IfName     string
	HardAddr   string `json:",omitempty"`
	Index      uint32 `json:",omitempty"`
	Model      string `json:",omitempty"`
	NetworkQoS bool   `json:",omitempty"`
}

type VethEndpoint NetworkPairEndpoint

type IPVlanEndpoint NetworkPairEndpoint

type VlanEndpoint NetworkPairEndpoint

type MacvlanEndpoint NetworkPairEndpoint

type VhostUserEndpoint struct {
	IfName     string
	SocketPath string
	HardAddr   string `json:",omitempty"`
}

// EndpointState is the persisted form of one endpoint.
//
// New arms may be added, existing ones are never renamed or removed:
// snapshots written by an older runtime have to keep decoding.
type EndpointState struct {
	Type string

	// One and only one of these below are not nil according to Type.
	Physical  *PhysicalEndpoint  `json:",omitempty"`
	Veth      *VethEndpoint      `json:",omitempty"`
	VhostUser *VhostUserEndpoint `json:",omitempty"`
	Macvlan   *MacvlanEndpoint   `json:",omitempty"`
	Macvtap   *MacvtapEndpoint   `json:",omitempty"`
	Tap       *TapEndpoint       `json:",omitempty"`
	IPVlan    *IPVlanEndpoint    `json:",omitempty"`
	Vtap      *VtapEndpoint      `json:",omitempty"`
	IPVtap    *IPVtapEndpoint    `json:",omitempty"`
	Vlan      *VlanEndpoint      `json:",omitempty"`
}

// Arms returns the names of the populated arms.
func (s *EndpointState) Arms() []string {
	var arms []string

	for _, arm := range []struct {
		name string
		set  bool
	}{
		{"Physical", s.Physical != nil},
		{"Veth", s.Veth != nil},
		{"VhostUser", s.VhostUser != nil},
		{"Macvlan", s.Macvlan != nil},
		{"Macvtap", s.Macvtap != nil},
		{"Tap", s.Tap != nil},
		{"IPVlan", s.IPVlan != nil},
		{"Vtap", s.Vtap != nil},
		{"IPVtap", s.IPVtap != nil},
		{"Vlan", s.Vlan != nil},
	} {
		if arm.set {
			arms = append(arms, arm.name)
		}
	}

	return arms
}

// Empty reports a state that carries nothing to restore, which is the case
// for arms this runtime does not know about.
func (s *EndpointState) Empty() bool {
	return s == nil || len(s.Arms()) == 0
}

// Validate fails when more than one arm is populated.
func (s *EndpointState) Validate() error {
	if s == nil {
		return nil
	}
	if arms := s.Arms(); len(arms) > 1 {
		return fmt.Errorf("endpoint state %q has several arms set: %s", s.Type, strings.Join(arms, ", "))
	}
	return nil
}

// NetworkInfo contains network information of sandbox
type NetworkInfo struct {
	NetworkID string
	NetNsPath string `json:",omitempty"`
	Endpoints []EndpointState
}
