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

// MacvlanEndpoint represents a macvlan endpoint that is bridged to the VM
type MacvlanEndpoint struct {
	*networkPairEndpoint
}

// NewMacvlanEndpoint pairs the macvlan name with a new tap tap<idx>_kata.
func NewMacvlanEndpoint(dm api.DeviceManager, handle NetlinkHandle, name string, hwAddr []byte, queues, idx uint32, model NetInterworkingModel) (*MacvlanEndpoint, error) {
	endpoint, err := newNetworkPairEndpoint(dm, handle, MacvlanEndpointType, &netlink.Macvlan{}, name, hwAddr, queues, idx, model)
	if err != nil {
		return nil, err
	}

	return &MacvlanEndpoint{endpoint}, nil
}

// Type identifies the endpoint as a macvlan endpoint.
func (endpoint *MacvlanEndpoint) Type() EndpointType {
	return MacvlanEndpointType
}

// Attach connects the pair with the configured interworking model and
// hotplugs the tap into the guest.
func (endpoint *MacvlanEndpoint) Attach(ctx context.Context) error {
	return endpoint.attach(ctx, endpoint)
}

// Detach unplugs the tap, disconnects the pair and deletes the tap.
func (endpoint *MacvlanEndpoint) Detach(ctx context.Context, h Hypervisor) error {
	return endpoint.detach(ctx, endpoint, h)
}

// Save records the macvlan pair for restore.
func (endpoint *MacvlanEndpoint) Save() *persistapi.EndpointState {
	s := persistapi.MacvlanEndpoint(endpoint.state())

	return &persistapi.EndpointState{
		Type:    string(endpoint.Type()),
		Macvlan: &s,
	}
}
