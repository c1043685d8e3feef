//go:build linux

// Copyright (c) 2018 Huawei Corporation
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

var tapTrace = getNetworkTrace(TapEndpointType)

// TapEndpoint represents a tap interface the runtime creates for the guest
// and deletes again on Detach.
type TapEndpoint struct {
	dm     api.DeviceManager
	handle NetlinkHandle
	dev    netDevice
}

// NewTapEndpoint creates a multiqueue tap named name.
func NewTapEndpoint(dm api.DeviceManager, handle NetlinkHandle, name string, hwAddr []byte, queues uint32) (*TapEndpoint, error) {
	mac, err := utils.GetMacAddr(hwAddr)
	if err != nil {
		return nil, vcerrors.Construction(err, "new tap endpoint %s", name)
	}

	tapLink, fds, err := createLink(handle, name, &netlink.Tuntap{}, int(queues))
	if err != nil {
		return nil, vcerrors.Construction(err, "create link %s", name)
	}
	// The hypervisor opens the tap by name.
	utils.CleanupFds(fds, len(fds))

	if err := handle.LinkSetUp(tapLink); err != nil {
		if delErr := deleteLink(handle, tapLink); delErr != nil {
			networkLogger().WithError(delErr).WithField("endpoint", name).Warn("Could not remove tap")
		}
		return nil, vcerrors.Construction(err, "enable tap %s", name)
	}

	return newTapEndpoint(dm, handle, name, mac, queues), nil
}

func newTapEndpoint(dm api.DeviceManager, handle NetlinkHandle, name, mac string, queues uint32) *TapEndpoint {
	return &TapEndpoint{
		dm:     dm,
		handle: handle,
		dev: netDevice{
			hostDevName: name,
			guestMAC:    mac,
			netdevType:  config.NetdevTap,
			queues:      queues,
			queueSize:   config.DefaultQueueSize,
		},
	}
}

// Name returns name of the tap interface.
func (endpoint *TapEndpoint) Name() string {
	return endpoint.dev.hostDevName
}

// HardwareAddr returns the mac address that is assigned to the guest side
func (endpoint *TapEndpoint) HardwareAddr() string {
	return endpoint.dev.guestMAC
}

// Type identifies the endpoint as a tap endpoint.
func (endpoint *TapEndpoint) Type() EndpointType {
	return TapEndpointType
}

func (endpoint *TapEndpoint) setQueueSize(size uint32) {
	endpoint.dev.queueSize = size
}

// Attach for tap endpoint adds the tap interface to the hypervisor.
func (endpoint *TapEndpoint) Attach(ctx context.Context) error {
	span, ctx := tapTrace(ctx, "Attach", endpoint)
	defer span.End()

	networkLogger().WithField("endpoint-type", TapEndpointType).Info("Attaching endpoint")

	return attachNetDevice(ctx, endpoint.dm, &endpoint.dev)
}

// Detach for the tap endpoint unplugs the device and tears down the tap.
func (endpoint *TapEndpoint) Detach(ctx context.Context, h Hypervisor) error {
	span, ctx := tapTrace(ctx, "Detach", endpoint)
	defer span.End()

	networkLogger().WithField("endpoint-type", TapEndpointType).Info("Detaching endpoint")

	err := detachNetDevice(ctx, h, &endpoint.dev)
	return releaseOwnedLink(err, endpoint.dev.hostDevName, endpoint.unTap)
}

func (endpoint *TapEndpoint) unTap() (err error) {
	defer vcerrors.ErrorContext(&err, "delete link")

	tapLink, err := getLinkByName(endpoint.handle, endpoint.dev.hostDevName, &netlink.Tuntap{})
	if err != nil {
		return err
	}

	if err := endpoint.handle.LinkSetDown(tapLink); err != nil {
		networkLogger().WithError(err).WithField("endpoint", endpoint.Name()).Warn("Could not disable tap")
	}

	return deleteLink(endpoint.handle, tapLink)
}

// Save returns the tap name and guest mac.
func (endpoint *TapEndpoint) Save() *persistapi.EndpointState {
	return &persistapi.EndpointState{
		Type: string(endpoint.Type()),
		Tap: &persistapi.TapEndpoint{
			IfName:   endpoint.dev.hostDevName,
			HardAddr: endpoint.dev.guestMAC,
		},
	}
}
