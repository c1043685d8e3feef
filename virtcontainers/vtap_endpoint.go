// Copyright (c) 2019 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
	persistapi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/utils"
)

var vtapTrace = getNetworkTrace(VtapEndpointType)

// VtapEndpoint hands an already existing host tap interface to the guest.
// It neither creates nor deletes anything on the host.
type VtapEndpoint struct {
	dm  api.DeviceManager
	dev netDevice
}

// NewVtapEndpoint wraps the tap named name. The netlink handle is accepted
// for symmetry with the other constructors and is not used.
func NewVtapEndpoint(dm api.DeviceManager, handle NetlinkHandle, name string, hwAddr []byte, queues uint32) (*VtapEndpoint, error) {
	mac, err := utils.GetMacAddr(hwAddr)
	if err != nil {
		return nil, vcerrors.Construction(err, "new vtap endpoint %s", name)
	}

	return newVtapEndpoint(dm, name, mac, queues), nil
}

func newVtapEndpoint(dm api.DeviceManager, name, mac string, queues uint32) *VtapEndpoint {
	return &VtapEndpoint{
		dm: dm,
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
func (endpoint *VtapEndpoint) Name() string {
	return endpoint.dev.hostDevName
}

// HardwareAddr returns the guest mac address.
func (endpoint *VtapEndpoint) HardwareAddr() string {
	return endpoint.dev.guestMAC
}

// Type identifies the endpoint as a vtap endpoint.
func (endpoint *VtapEndpoint) Type() EndpointType {
	return VtapEndpointType
}

func (endpoint *VtapEndpoint) setQueueSize(size uint32) {
	endpoint.dev.queueSize = size
}

// Attach hotplugs the tap into the guest.
func (endpoint *VtapEndpoint) Attach(ctx context.Context) error {
	span, ctx := vtapTrace(ctx, "Attach", endpoint)
	defer span.End()

	networkLogger().WithField("endpoint", endpoint.Name()).Info("Attaching vtap endpoint")

	return attachNetDevice(ctx, endpoint.dm, &endpoint.dev)
}

// Detach unplugs the tap from the guest, the host interface stays.
func (endpoint *VtapEndpoint) Detach(ctx context.Context, h Hypervisor) error {
	span, ctx := vtapTrace(ctx, "Detach", endpoint)
	defer span.End()

	networkLogger().WithField("endpoint", endpoint.Name()).Info("Detaching vtap endpoint")

	return detachNetDevice(ctx, h, &endpoint.dev)
}

// Save returns the tap name and guest mac.
func (endpoint *VtapEndpoint) Save() *persistapi.EndpointState {
	return &persistapi.EndpointState{
		Type: string(endpoint.Type()),
		Vtap: &persistapi.VtapEndpoint{
			IfName:   endpoint.dev.hostDevName,
			HardAddr: endpoint.dev.guestMAC,
		},
	}
}
