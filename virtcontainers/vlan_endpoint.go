//go:build linux

// Copyright (c) 2025 contributors to the VirtContainers for Go project
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"

	"github.com/vishvananda/netlink"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/api"
	persistapi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/api"
)

// VlanEndpoint represents a vlan endpoint that is bridged to the VM
type VlanEndpoint struct {
	*networkPairEndpoint
}

// NewVlanEndpoint pairs the vlan name with a new tap tap<idx>_kata.
func NewVlanEndpoint(dm api.DeviceManager, handle NetlinkHandle, name string, hwAddr []byte, queues, idx uint32, model NetInterworkingModel) (*VlanEndpoint, error) {
	endpoint, err := newNetworkPairEndpoint(dm, handle, VlanEndpointType, &netlink.Vlan{}, name, hwAddr, queues, idx, model)
	if err != nil {
		return nil, err
	}

	return &VlanEndpoint{endpoint}, nil
}

// Type identifies the endpoint as a vlan endpoint.
func (endpoint *VlanEndpoint) Type() EndpointType {
	return VlanEndpointType
}

// Attach connects the pair with the configured interworking model and
// hotplugs the tap into the guest.
func (endpoint *VlanEndpoint) Attach(ctx context.Context) error {
	return endpoint.attach(ctx, endpoint)
}

// Detach unplugs the tap, disconnects the pair and deletes the tap.
func (endpoint *VlanEndpoint) Detach(ctx context.Context, h Hypervisor) error {
	return endpoint.detach(ctx, endpoint, h)
}

// Save records the vlan pair for restore.
func (endpoint *VlanEndpoint) Save() *persistapi.EndpointState {
	s := persistapi.VlanEndpoint(endpoint.state())

	return &persistapi.EndpointState{
		Type: string(endpoint.Type()),
		Vlan: &s,
	}
}
