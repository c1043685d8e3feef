//go:build linux

// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"fmt"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/api"
)

// EndpointInfo is what the caller decided about one host interface: the
// kind of endpoint to build on it and the mac the guest sees.
type EndpointInfo struct {
	Type     EndpointType
	Name     string
	HardAddr []byte

	// Index numbers the tap of network pair endpoints.
	Index      uint32
	NetworkQoS bool
}

// NewEndpoint builds the endpoint described by info with the sandbox wide
// settings of netConfig.
func NewEndpoint(dm api.DeviceManager, handle NetlinkHandle, netConfig *NetworkConfig, info EndpointInfo) (Endpoint, error) {
	if netConfig == nil {
		netConfig = &NetworkConfig{}
	}

	var endpoint Endpoint
	var err error

	queues := netConfig.Queues
	model := netConfig.InterworkingModel

	switch info.Type {
	case VtapEndpointType:
		endpoint, err = NewVtapEndpoint(dm, handle, info.Name, info.HardAddr, queues)
	case TapEndpointType:
		endpoint, err = NewTapEndpoint(dm, handle, info.Name, info.HardAddr, queues)
	case MacvtapEndpointType:
		endpoint, err = NewMacvtapEndpoint(dm, handle, info.Name, info.HardAddr, queues)
	case IPVtapEndpointType:
		endpoint, err = NewIPVtapEndpoint(dm, handle, info.Name, info.HardAddr, queues)
	case PhysicalEndpointType:
		endpoint, err = NewPhysicalEndpoint(dm, handle, info.Name, info.HardAddr, queues)
	case VhostUserEndpointType:
		endpoint, err = NewVhostUserEndpoint(dm, handle, info.Name, info.HardAddr, queues, netConfig.VhostUserStorePath)
	case VethEndpointType:
		var veth *VethEndpoint
		if veth, err = NewVethEndpoint(dm, handle, info.Name, info.HardAddr, queues, info.Index, model); err == nil {
			veth.NetworkQoS = info.NetworkQoS
			endpoint = veth
		}
	case IPVlanEndpointType:
		endpoint, err = NewIPVlanEndpoint(dm, handle, info.Name, info.HardAddr, queues, info.Index, model)
	case VlanEndpointType:
		endpoint, err = NewVlanEndpoint(dm, handle, info.Name, info.HardAddr, queues, info.Index, model)
	case MacvlanEndpointType:
		endpoint, err = NewMacvlanEndpoint(dm, handle, info.Name, info.HardAddr, queues, info.Index, model)
	default:
		return nil, fmt.Errorf("Unknown endpoint type %q for interface %s", info.Type, info.Name)
	}

	if err != nil {
		return nil, err
	}

	if qs, ok := endpoint.(queueSizer); ok {
		qs.setQueueSize(netConfig.queueSize())
	}

	networkLogger().WithField("endpoint-type", endpoint.Type()).WithField("endpoint", endpoint.Name()).Info("Endpoint created")

	return endpoint, nil
}
