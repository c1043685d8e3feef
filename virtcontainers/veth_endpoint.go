//go:build linux

// Copyright (c) 2018 Intel Corporation
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

// VethEndpoint gathers a network pair and its properties.
type VethEndpoint struct {
	*networkPairEndpoint
}

// NewVethEndpoint pairs the veth name with a new tap tap<idx>_kata.
func NewVethEndpoint(dm api.DeviceManager, handle NetlinkHandle, name string, hwAddr []byte, queues, idx uint32, model NetInterworkingModel) (*VethEndpoint, error) {
	endpoint, err := newNetworkPairEndpoint(dm, handle, VethEndpointType, &netlink.Veth{}, name, hwAddr, queues, idx, model)
	if err != nil {
		return nil, err
	}

	return &VethEndpoint{endpoint}, nil
}

// Type identifies the endpoint as a veth endpoint.
func (endpoint *VethEndpoint) Type() EndpointType {
	return VethEndpointType
}

// Attach connects the pair with the configured interworking model and
// hotplugs the tap into the guest.
func (endpoint *VethEndpoint) Attach(ctx context.Context) error {
	return endpoint.attach(ctx, endpoint)
}

// Detach unplugs the tap, disconnects the pair and deletes the tap.
func (endpoint *VethEndpoint) Detach(ctx context.Context, h Hypervisor) error {
	return endpoint.detach(ctx, endpoint, h)
}

// Save records the veth pair for restore.
func (endpoint *VethEndpoint) Save() *persistapi.EndpointState {
	s := persistapi.VethEndpoint(endpoint.state())

	return &persistapi.EndpointState{
		Type: string(endpoint.Type()),
		Veth: &s,
	}
}
