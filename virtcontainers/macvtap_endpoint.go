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
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
	persistapi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/utils"
)

// maximum length of a link name, IFNAMSIZ minus the terminating byte
const maxLinkNameLen = 15

// netdevMacvtap marks devices the hypervisor opens through /dev/tapN
// instead of by name.
const netdevMacvtap = "macvtap"

var macvtapTrace = getNetworkTrace(MacvtapEndpointType)

// MacvtapEndpoint represents a macvtap endpoint stacked on an existing
// macvlan or physical interface.
type MacvtapEndpoint struct {
	dm     api.DeviceManager
	handle NetlinkHandle

	// parent interface name
	IfName string
	dev    netDevice
}

// createChildTap creates the tap kind of expected on top of the link named
// parentName. expected carries the parent attributes to copy.
func createChildTap(handle NetlinkHandle, parentName, tapName string, expected netlink.Link) error {
	parent, err := getLinkByName(handle, parentName, &netlink.Device{})
	if err != nil {
		return err
	}

	attrs := expected.Attrs()
	attrs.ParentIndex = parent.Attrs().Index
	attrs.TxQLen = parent.Attrs().TxQLen

	tapLink, _, err := createLink(handle, tapName, expected, 0)
	if err != nil {
		return err
	}

	if err := handle.LinkSetUp(tapLink); err != nil {
		if delErr := deleteLink(handle, tapLink); delErr != nil {
			networkLogger().WithError(delErr).WithField("link", tapName).Warn("Could not remove tap")
		}
		return err
	}

	return nil
}

// deleteChildTap removes the tap created by createChildTap.
func deleteChildTap(handle NetlinkHandle, tapName string, expected netlink.Link) (err error) {
	defer vcerrors.ErrorContext(&err, "delete link")

	tapLink, err := getLinkByName(handle, tapName, expected)
	if err != nil {
		return err
	}

	return deleteLink(handle, tapLink)
}

// NewMacvtapEndpoint creates a macvtap in bridge mode on top of name.
func NewMacvtapEndpoint(dm api.DeviceManager, handle NetlinkHandle, name string, hwAddr []byte, queues uint32) (*MacvtapEndpoint, error) {
	mac, err := utils.GetMacAddr(hwAddr)
	if err != nil {
		return nil, vcerrors.Construction(err, "new macvtap endpoint %s", name)
	}

	tapName := utils.MakeHashedNameID("mvt", name, maxLinkNameLen)
	if err := createChildTap(handle, name, tapName, &netlink.Macvtap{}); err != nil {
		return nil, vcerrors.Construction(err, "create link %s", tapName)
	}

	return newMacvtapEndpoint(dm, handle, name, tapName, mac, queues), nil
}

func newMacvtapEndpoint(dm api.DeviceManager, handle NetlinkHandle, name, tapName, mac string, queues uint32) *MacvtapEndpoint {
	return &MacvtapEndpoint{
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
func (endpoint *MacvtapEndpoint) Name() string {
	return endpoint.IfName
}

// HardwareAddr returns the mac address of the macvtap network interface.
func (endpoint *MacvtapEndpoint) HardwareAddr() string {
	return endpoint.dev.guestMAC
}

// Type indentifies the endpoint as a macvtap endpoint.
func (endpoint *MacvtapEndpoint) Type() EndpointType {
	return MacvtapEndpointType
}

func (endpoint *MacvtapEndpoint) setQueueSize(size uint32) {
	endpoint.dev.queueSize = size
}

// Attach for macvtap endpoint passes macvtap device to the hypervisor.
func (endpoint *MacvtapEndpoint) Attach(ctx context.Context) error {
	span, ctx := macvtapTrace(ctx, "Attach", endpoint)
	defer span.End()

	networkLogger().WithField("endpoint-type", "macvtap").Info("Attaching endpoint")

	return attachNetDevice(ctx, endpoint.dm, &endpoint.dev)
}

// Detach for macvtap endpoint unplugs the device and removes the macvtap.
func (endpoint *MacvtapEndpoint) Detach(ctx context.Context, h Hypervisor) error {
	span, ctx := macvtapTrace(ctx, "Detach", endpoint)
	defer span.End()

	networkLogger().WithField("endpoint-type", "macvtap").Info("Detaching endpoint")

	err := detachNetDevice(ctx, h, &endpoint.dev)
	return releaseOwnedLink(err, endpoint.dev.hostDevName, func() error {
		return deleteChildTap(endpoint.handle, endpoint.dev.hostDevName, &netlink.Macvtap{})
	})
}

// Save returns the parent and macvtap names with the guest mac.
func (endpoint *MacvtapEndpoint) Save() *persistapi.EndpointState {
	return &persistapi.EndpointState{
		Type: string(endpoint.Type()),
		Macvtap: &persistapi.MacvtapEndpoint{
			IfName:   endpoint.IfName,
			TapName:  endpoint.dev.hostDevName,
			HardAddr: endpoint.dev.guestMAC,
		},
	}
}
