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
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/drivers"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
	persistapi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/utils"
)

// restoreMAC returns the saved guest mac, or the current mac of the host
// link linkName for snapshots that did not record one.
func restoreMAC(handle NetlinkHandle, saved, linkName string) (string, error) {
	if saved != "" {
		if _, err := utils.ParseMAC(saved); err != nil {
			return "", err
		}
		return saved, nil
	}

	if handle == nil {
		return "", vcerrors.Errorf("no saved mac for %s and no netlink handle to read it", linkName)
	}

	link, err := handle.LinkByName(linkName)
	if err != nil {
		return "", err
	}
	return utils.GetMacAddr(link.Attrs().HardwareAddr)
}

// RestoreEndpoint rebuilds a live endpoint from its saved state. Host links
// the endpoint created are looked up again, never recreated. Queue settings
// come from netConfig. A state with no known arm yields no endpoint and no
// error.
func RestoreEndpoint(ctx context.Context, dm api.DeviceManager, handle NetlinkHandle, state *persistapi.EndpointState, netConfig *NetworkConfig) (Endpoint, error) {
	if state.Empty() {
		return nil, nil
	}
	if err := state.Validate(); err != nil {
		return nil, vcerrors.Config(err, "restore endpoint")
	}
	if netConfig == nil {
		netConfig = &NetworkConfig{}
	}

	span, _ := networkTrace(ctx, "RestoreEndpoint", nil)
	defer span.End()

	endpoint, err := restoreEndpoint(dm, handle, state, netConfig)
	if err != nil {
		return nil, vcerrors.Construction(err, "restore %s endpoint", state.Type)
	}

	if qs, ok := endpoint.(queueSizer); ok {
		qs.setQueueSize(netConfig.queueSize())
	}

	networkLogger().WithField("endpoint-type", endpoint.Type()).WithField("endpoint", endpoint.Name()).Info("Endpoint restored")

	return endpoint, nil
}

func restoreEndpoint(dm api.DeviceManager, handle NetlinkHandle, state *persistapi.EndpointState, netConfig *NetworkConfig) (Endpoint, error) {
	queues := netConfig.Queues

	switch {
	case state.Vtap != nil:
		s := state.Vtap
		mac, err := restoreMAC(handle, s.HardAddr, s.IfName)
		if err != nil {
			return nil, err
		}
		return newVtapEndpoint(dm, s.IfName, mac, queues), nil

	case state.Tap != nil:
		s := state.Tap
		if _, err := getLinkByName(handle, s.IfName, &netlink.Tuntap{}); err != nil {
			return nil, err
		}
		mac, err := restoreMAC(handle, s.HardAddr, s.IfName)
		if err != nil {
			return nil, err
		}
		return newTapEndpoint(dm, handle, s.IfName, mac, queues), nil

	case state.Macvtap != nil:
		s := state.Macvtap
		if _, err := getLinkByName(handle, s.TapName, &netlink.Macvtap{}); err != nil {
			return nil, err
		}
		mac, err := restoreMAC(handle, s.HardAddr, s.TapName)
		if err != nil {
			return nil, err
		}
		return newMacvtapEndpoint(dm, handle, s.IfName, s.TapName, mac, queues), nil

	case state.IPVtap != nil:
		s := state.IPVtap
		if _, err := getLinkByName(handle, s.TapName, &netlink.IPVtap{}); err != nil {
			return nil, err
		}
		mac, err := restoreMAC(handle, s.HardAddr, s.TapName)
		if err != nil {
			return nil, err
		}
		return newIPVtapEndpoint(dm, handle, s.IfName, s.TapName, mac, queues), nil

	case state.Physical != nil:
		return restorePhysicalEndpoint(dm, state.Physical)

	case state.VhostUser != nil:
		s := state.VhostUser
		if s.HardAddr == "" {
			return nil, vcerrors.Errorf("no saved mac for vhost-user interface %s", s.IfName)
		}
		if _, err := utils.ParseMAC(s.HardAddr); err != nil {
			return nil, err
		}
		return newVhostUserEndpoint(dm, s.IfName, s.HardAddr, queues, s.SocketPath)

	case state.Veth != nil:
		pair, err := restorePairEndpoint(dm, handle, VethEndpointType, &netlink.Veth{}, persistapi.NetworkPairEndpoint(*state.Veth), queues)
		if err != nil {
			return nil, err
		}
		return &VethEndpoint{pair}, nil

	case state.IPVlan != nil:
		pair, err := restorePairEndpoint(dm, handle, IPVlanEndpointType, &netlink.IPVlan{}, persistapi.NetworkPairEndpoint(*state.IPVlan), queues)
		if err != nil {
			return nil, err
		}
		return &IPVlanEndpoint{pair}, nil

	case state.Vlan != nil:
		pair, err := restorePairEndpoint(dm, handle, VlanEndpointType, &netlink.Vlan{}, persistapi.NetworkPairEndpoint(*state.Vlan), queues)
		if err != nil {
			return nil, err
		}
		return &VlanEndpoint{pair}, nil

	case state.Macvlan != nil:
		pair, err := restorePairEndpoint(dm, handle, MacvlanEndpointType, &netlink.Macvlan{}, persistapi.NetworkPairEndpoint(*state.Macvlan), queues)
		if err != nil {
			return nil, err
		}
		return &MacvlanEndpoint{pair}, nil
	}

	return nil, vcerrors.Errorf("unhandled endpoint state %q", state.Type)
}

// restorePhysicalEndpoint checks the function is still there. The driver is
// taken from the snapshot, sysfs reports vfio-pci while it is attached.
func restorePhysicalEndpoint(dm api.DeviceManager, s *persistapi.PhysicalEndpoint) (Endpoint, error) {
	if s.HardAddr == "" {
		return nil, vcerrors.Errorf("no saved mac for physical interface %s", s.IfName)
	}
	if _, err := utils.ParseMAC(s.HardAddr); err != nil {
		return nil, err
	}

	info, err := drivers.GetPCIDeviceInfo(s.BDF)
	if err != nil {
		return nil, err
	}

	return &PhysicalEndpoint{
		dm:             dm,
		IfaceName:      s.IfName,
		HardAddr:       s.HardAddr,
		BDF:            s.BDF,
		Driver:         s.Driver,
		VendorDeviceID: info.VendorDeviceID(),
	}, nil
}

func restorePairEndpoint(dm api.DeviceManager, handle NetlinkHandle, endpointType EndpointType, virtLink netlink.Link, s persistapi.NetworkPairEndpoint, queues uint32) (*networkPairEndpoint, error) {
	var model NetInterworkingModel
	if s.Model != "" {
		if err := model.SetModel(s.Model); err != nil {
			return nil, err
		}
	}

	pair := NetworkInterfacePair{
		TapName:              tapNameForIndex(s.Index),
		VirtIfName:           s.IfName,
		Index:                s.Index,
		NetInterworkingModel: model.resolve(),
		virtLink:             virtLink,
	}

	if _, _, err := pair.links(handle); err != nil {
		return nil, err
	}

	mac, err := restoreMAC(handle, s.HardAddr, s.IfName)
	if err != nil {
		return nil, err
	}

	endpoint := newNetworkPairEndpointFromPair(dm, handle, endpointType, pair, mac, queues)
	endpoint.NetworkQoS = s.NetworkQoS

	return endpoint, nil
}

// Restore replaces the endpoints of the set with the ones saved in info.
// States with no known arm are skipped.
func (s *EndpointSet) Restore(ctx context.Context, handle NetlinkHandle, info persistapi.NetworkInfo, netConfig *NetworkConfig) error {
	span, ctx := networkTrace(ctx, "Restore", nil)
	defer span.End()

	var endpoints []Endpoint
	for i := range info.Endpoints {
		endpoint, err := RestoreEndpoint(ctx, s.dm, handle, &info.Endpoints[i], netConfig)
		if err != nil {
			return err
		}
		if endpoint == nil {
			networkLogger().WithField("endpoint-type", info.Endpoints[i].Type).Warn("Skipping endpoint without restorable state")
			continue
		}
		endpoints = append(endpoints, endpoint)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.networkID = info.NetworkID
	s.netNsPath = info.NetNsPath
	s.endpoints = endpoints

	return nil
}
