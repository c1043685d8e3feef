//go:build linux

// Copyright (c) 2019 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"

	"github.com/vishvananda/netlink"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
	persistapi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/utils"
)

var ipvtapTrace = getNetworkTrace(IPVtapEndpointType)

// IPVtapEndpoint represents an ipvtap in L2 mode stacked on an ipvlan.
type IPVtapEndpoint struct {
	dm     api.DeviceManager
	handle NetlinkHandle

	// parent interface name
	IfName string
	dev    netDevice
}

// NewIPVtapEndpoint creates an ipvtap on top of name.
func NewIPVtapEndpoint(dm api.DeviceManager, handle NetlinkHandle, name string, hwAddr []byte, queues uint32) (*IPVtapEndpoint, error) {
	mac, err := utils.GetMacAddr(hwAddr)
	if err != nil {
		return nil, vcerrors.Construction(err, "new ipvtap endpoint %s", name)
	}

	tapName := utils.MakeHashedNameID("ivt", name, maxLinkNameLen)
	if err := createChildTap(handle, name, tapName, &netlink.IPVtap{}); err != nil {
		return nil, vcerrors.Construction(err, "create link %s", tapName)
	}

	return newIPVtapEndpoint(dm, handle, name, tapName, mac, queues), nil
}

func newIPVtapEndpoint(dm api.DeviceManager, handle NetlinkHandle, name, tapName, mac string, queues uint32) *IPVtapEndpoint {
	return &IPVtapEndpoint{
		dm:     dm,
		handle: handle,
		IfName: name,
		dev: netDevice{
			hostDevName: tapName,
			guestMAC:    mac,
			netdevType:  netdevMacvtap,
			queues:      queues,
			queueSize:   config.DefaultQueueSize,
		},
	}
}

// Name returns name of the parent interface.
func (endpoint *IPVtapEndpoint) Name() string {
	return endpoint.IfName
}

// HardwareAddr returns the guest mac address.
func (endpoint *IPVtapEndpoint) HardwareAddr() string {
	return endpoint.dev.guestMAC
}

// Type identifies the endpoint as an ipvtap endpoint.
func (endpoint *IPVtapEndpoint) Type() EndpointType {
	return IPVtapEndpointType
}

func (endpoint *IPVtapEndpoint) setQueueSize(size uint32) {
	endpoint.dev.queueSize = size
}

func (endpoint *IPVtapEndpoint) Attach(ctx context.Context) error {
	span, ctx := ipvtapTrace(ctx, "Attach", endpoint)
	defer span.End()

	networkLogger().WithField("endpoint-type", "ipvtap").Info("Attaching endpoint")

	return attachNetDevice(ctx, endpoint.dm, &endpoint.dev)
}

func (endpoint *IPVtapEndpoint) Detach(ctx context.Context, h Hypervisor) error {
	span, ctx := ipvtapTrace(ctx, "Detach", endpoint)
	defer span.End()

	networkLogger().WithField("endpoint-type", "ipvtap").Info("Detaching endpoint")

	err := detachNetDevice(ctx, h, &endpoint.dev)
	return releaseOwnedLink(err, endpoint.dev.hostDevName, func() error {
		return deleteChildTap(endpoint.handle, endpoint.dev.hostDevName, &netlink.IPVtap{})
	})
}

// Save returns the parent and ipvtap names with the guest mac.
func (endpoint *IPVtapEndpoint) Save() *persistapi.EndpointState {
	return &persistapi.EndpointState{
		Type: string(endpoint.Type()),
		IPVtap: &persistapi.IPVtapEndpoint{
			IfName:   endpoint.IfName,
			TapName:  endpoint.dev.hostDevName,
			HardAddr: endpoint.dev.guestMAC,
		},
	}
}
