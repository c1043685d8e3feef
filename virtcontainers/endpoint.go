// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"fmt"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	persistapi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/api"
)

// Endpoint represents a physical or virtual network interface handed to
// the guest as a hotplugged device.
//
// An endpoint goes from constructed to attached to detached. The order is
// not tracked here: a second Attach is rejected by the device manager
// because the device already exists, and a Detach without a prior Attach
// fails because the device is not found.
type Endpoint interface {
	Name() string
	HardwareAddr() string
	Type() EndpointType

	Attach(ctx context.Context) error
	Detach(ctx context.Context, h Hypervisor) error

	// Save returns nil when there is nothing to persist.
	Save() *persistapi.EndpointState
}

// Hypervisor is what an endpoint needs to unplug its device. Both the
// device manager and the QEMU backend implement it. The QEMU backend does
// not update a device manager's registry, EndpointSet.DetachAll routes the
// devices the registry holds through the device manager.
type Hypervisor interface {
	RemoveDevice(ctx context.Context, dev config.DeviceType) error
}

// EndpointType identifies the type of the network endpoint.
type EndpointType string

const (
	// TapEndpointType is a tap interface created for the guest.
	TapEndpointType EndpointType = "tap"

	// VtapEndpointType is an existing tap interface wrapped as is.
	VtapEndpointType EndpointType = "vtap"

	// MacvtapEndpointType is macvtap network interface.
	MacvtapEndpointType EndpointType = "macvtap"

	// IPVtapEndpointType is ipvtap network interface.
	IPVtapEndpointType EndpointType = "ipvtap"

	// IPVlanEndpointType is ipvlan network interface.
	IPVlanEndpointType EndpointType = "ipvlan"

	// PhysicalEndpointType is the physical network interface.
	PhysicalEndpointType EndpointType = "physical"

	// VethEndpointType is the virtual network interface.
	VethEndpointType EndpointType = "veth"

	// VlanEndpointType is vlan network interface.
	VlanEndpointType EndpointType = "vlan"

	// MacvlanEndpointType is macvlan network interface.
	MacvlanEndpointType EndpointType = "macvlan"

	// VhostUserEndpointType is the vhostuser network interface.
	VhostUserEndpointType EndpointType = "vhost-user"
)

var endpointTypes = []EndpointType{
	TapEndpointType,
	VtapEndpointType,
	MacvtapEndpointType,
	IPVtapEndpointType,
	IPVlanEndpointType,
	PhysicalEndpointType,
	VethEndpointType,
	VlanEndpointType,
	MacvlanEndpointType,
	VhostUserEndpointType,
}

// Set sets an endpoint type based on the input string.
func (endpointType *EndpointType) Set(value string) error {
	for _, t := range endpointTypes {
		if string(t) == value {
			*endpointType = t
			return nil
		}
	}

	return fmt.Errorf("Unknown endpoint type %s", value)
}

// String converts an endpoint type to a string.
func (endpointType *EndpointType) String() string {
	for _, t := range endpointTypes {
		if *endpointType == t {
			return string(t)
		}
	}

	return ""
}
