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

// IPVlanEndpoint represents a ipvlan endpoint that is bridged to the VM
type IPVlanEndpoint struct {
	*networkPairEndpoint
}

// NewIPVlanEndpoint pairs the ipvlan name with a new tap tap<idx>_kata.
func NewIPVlanEndpoint(dm api.DeviceManager, handle NetlinkHandle, name string, hwAddr []byte, queues, idx uint32, model NetInterworkingModel) (*IPVlanEndpoint, error) {
	endpoint, err := newNetworkPairEndpoint(dm, handle, IPVlanEndpointType, &netlink.IPVlan{}, name, hwAddr, queues, idx, model)
	if err != nil {
		return nil, err
	}

	return &IPVlanEndpoint{endpoint}, nil
}

// Type identifies the endpoint as a ipvlan endpoint.
func (endpoint *IPVlanEndpoint) Type() EndpointType {
	return IPVlanEndpointType
}

// Attach connects the pair with the configured interworking model and
// hotplugs the tap into the guest.
func (endpoint *IPVlanEndpoint) Attach(ctx context.Context) error {
	return endpoint.attach(ctx, endpoint)
}

// Detach unplugs the tap, disconnects the pair and deletes the tap.
func (endpoint *IPVlanEndpoint) Detach(ctx context.Context, h Hypervisor) error {
	return endpoint.detach(ctx, endpoint, h)
}

// Save records the ipvlan pair for restore.
func (endpoint *IPVlanEndpoint) Save() *persistapi.EndpointState {
	s := persistapi.IPVlanEndpoint(endpoint.state())

	return &persistapi.EndpointState{
		Type:   string(endpoint.Type()),
		IPVlan: &s,
	}
}
