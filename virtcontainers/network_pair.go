//go:build linux

// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"fmt"
	"net"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
	persistapi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/utils"
)

// NetworkInterfacePair defines a pair between VM and virtual network interfaces.
type NetworkInterfacePair struct {
	TapName              string
	VirtIfName           string
	Index                uint32
	NetInterworkingModel NetInterworkingModel

	// virtLink is the link type expected for VirtIfName.
	virtLink netlink.Link
}

func tapNameForIndex(idx uint32) string {
	return fmt.Sprintf("tap%d_kata", idx)
}

// newNetworkInterfacePair creates the tap half of a pair whose virtual
// half, name, already exists with the link type of virtLink.
func newNetworkInterfacePair(handle NetlinkHandle, idx uint32, name string, virtLink netlink.Link, model NetInterworkingModel, queues int) (*NetworkInterfacePair, error) {
	if !model.IsValid() {
		return nil, fmt.Errorf("Invalid network interworking model %d", model)
	}

	virt, err := getLinkByName(handle, name, virtLink)
	if err != nil {
		return nil, err
	}

	pair := &NetworkInterfacePair{
		TapName:              tapNameForIndex(idx),
		VirtIfName:           name,
		Index:                idx,
		NetInterworkingModel: model.resolve(),
		virtLink:             virtLink,
	}

	tapLink, fds, err := createLink(handle, pair.TapName, &netlink.Tuntap{}, queues)
	if err != nil {
		return nil, fmt.Errorf("Could not create TAP interface: %s", err)
	}
	// The hypervisor opens the tap by name.
	utils.CleanupFds(fds, len(fds))

	if err := pair.setupTap(handle, tapLink, virt.Attrs().MTU); err != nil {
		if delErr := deleteLink(handle, tapLink); delErr != nil {
			networkLogger().WithError(delErr).WithField("link", pair.TapName).Warn("Could not remove tap")
		}
		return nil, err
	}

	return pair, nil
}

// setupTap copies the virtual interface MTU onto the tap and gives the tap
// a random private mac, the guest keeps the mac of the endpoint.
func (pair *NetworkInterfacePair) setupTap(handle NetlinkHandle, tapLink netlink.Link, mtu int) error {
	if err := handle.LinkSetMTU(tapLink, mtu); err != nil {
		return fmt.Errorf("Could not set TAP MTU %d: %s", mtu, err)
	}

	tapMAC, err := utils.GenerateRandomPrivateMacAddr()
	if err != nil {
		return err
	}
	hwAddr, err := net.ParseMAC(tapMAC)
	if err != nil {
		return err
	}
	if err := handle.LinkSetHardwareAddr(tapLink, hwAddr); err != nil {
		return fmt.Errorf("Could not set MAC address %s for TAP %s: %s", tapMAC, pair.TapName, err)
	}

	if err := handle.LinkSetUp(tapLink); err != nil {
		return fmt.Errorf("Could not enable TAP %s: %s", pair.TapName, err)
	}

	return nil
}

func (pair *NetworkInterfacePair) links(handle NetlinkHandle) (tapLink, virtLink netlink.Link, err error) {
	tapLink, err = getLinkByName(handle, pair.TapName, &netlink.Tuntap{})
	if err != nil {
		return nil, nil, err
	}

	virtLink, err = getLinkByName(handle, pair.VirtIfName, pair.virtLink)
	if err != nil {
		return nil, nil, err
	}

	return tapLink, virtLink, nil
}

// addModel wires the tap and the virtual interface together. The returned
// undo removes exactly what this call added, and a failed call leaves
// nothing behind.
func (pair *NetworkInterfacePair) addModel(handle NetlinkHandle) (undo func(), err error) {
	var added []func() error

	rollback := func() {
		for i := len(added) - 1; i >= 0; i-- {
			if rmErr := added[i](); rmErr != nil {
				networkLogger().WithError(rmErr).WithField("link", pair.TapName).Warn("Could not clean up tc filtering")
			}
		}
	}

	if pair.NetInterworkingModel != NetXConnectTCFilterModel {
		return rollback, nil
	}

	tapLink, virtLink, err := pair.links(handle)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			rollback()
		}
	}()

	tapIndex := tapLink.Attrs().Index
	virtIndex := virtLink.Attrs().Index

	for _, index := range []int{tapIndex, virtIndex} {
		qdisc, err := addQdiscIngress(handle, index)
		if err != nil {
			return nil, err
		}
		added = append(added, func() error { return handle.QdiscDel(qdisc) })
	}

	for _, route := range [][2]int{{virtIndex, tapIndex}, {tapIndex, virtIndex}} {
		filter, err := addRedirectTCFilter(handle, route[0], route[1])
		if err != nil {
			return nil, err
		}
		added = append(added, func() error { return handle.FilterDel(filter) })
	}

	return rollback, nil
}

// removeModel undoes addModel. Every step is attempted.
func (pair *NetworkInterfacePair) removeModel(handle NetlinkHandle) error {
	if pair.NetInterworkingModel != NetXConnectTCFilterModel {
		return nil
	}

	tapLink, virtLink, err := pair.links(handle)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, link := range []netlink.Link{virtLink, tapLink} {
		if err := removeRedirectTCFilter(handle, link); err != nil {
			result = multierror.Append(result, err)
		}
		if err := removeQdiscIngress(handle, link); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func (pair *NetworkInterfacePair) deleteTap(handle NetlinkHandle) error {
	tapLink, err := getLinkByName(handle, pair.TapName, &netlink.Tuntap{})
	if err != nil {
		return err
	}

	if err := handle.LinkSetDown(tapLink); err != nil {
		return fmt.Errorf("Could not disable TAP %s: %s", pair.TapName, err)
	}

	return deleteLink(handle, tapLink)
}

// networkPairEndpoint is the part shared by the veth, ipvlan, vlan and
// macvlan endpoints.
type networkPairEndpoint struct {
	dm     api.DeviceManager
	handle NetlinkHandle
	trace  func(ctx context.Context, name string, endpoint Endpoint) (otelTrace.Span, context.Context)

	NetPair    NetworkInterfacePair
	NetworkQoS bool

	dev netDevice
}

func newNetworkPairEndpoint(dm api.DeviceManager, handle NetlinkHandle, endpointType EndpointType, virtLink netlink.Link, name string, hwAddr []byte, queues, idx uint32, model NetInterworkingModel) (*networkPairEndpoint, error) {
	mac, err := utils.GetMacAddr(hwAddr)
	if err != nil {
		return nil, vcerrors.Construction(err, "new %s endpoint %s", endpointType, name)
	}

	pair, err := newNetworkInterfacePair(handle, idx, name, virtLink, model, int(queues))
	if err != nil {
		return nil, vcerrors.Construction(err, "create link %s", tapNameForIndex(idx))
	}

	return newNetworkPairEndpointFromPair(dm, handle, endpointType, *pair, mac, queues), nil
}

func newNetworkPairEndpointFromPair(dm api.DeviceManager, handle NetlinkHandle, endpointType EndpointType, pair NetworkInterfacePair, mac string, queues uint32) *networkPairEndpoint {
	return &networkPairEndpoint{
		dm:      dm,
		handle:  handle,
		trace:   getNetworkTrace(endpointType),
		NetPair: pair,
		dev: netDevice{
			hostDevName: pair.TapName,
			guestMAC:    mac,
			netdevType:  config.NetdevTap,
			queues:      queues,
			queueSize:   config.DefaultQueueSize,
		},
	}
}

// Name returns name of the virtual interface of the pair.
func (endpoint *networkPairEndpoint) Name() string {
	return endpoint.NetPair.VirtIfName
}

// HardwareAddr returns the guest mac address.
func (endpoint *networkPairEndpoint) HardwareAddr() string {
	return endpoint.dev.guestMAC
}

// NetworkPair returns the network pair of the endpoint.
func (endpoint *networkPairEndpoint) NetworkPair() *NetworkInterfacePair {
	return &endpoint.NetPair
}

func (endpoint *networkPairEndpoint) setQueueSize(size uint32) {
	endpoint.dev.queueSize = size
}

func (endpoint *networkPairEndpoint) attach(ctx context.Context, self Endpoint) error {
	span, ctx := endpoint.trace(ctx, "Attach", self)
	defer span.End()

	networkLogger().WithFields(logrus.Fields{
		"endpoint-type": self.Type(),
		"model":         endpoint.NetPair.NetInterworkingModel.GetModel(),
	}).Info("Attaching endpoint")

	cfg, err := endpoint.dev.networkConfig()
	if err != nil {
		return vcerrors.Wrap(err, "get network config")
	}
	devCfg := config.DeviceConfig{Network: &cfg}

	// The tc filters of an attached pair are live, leave them alone.
	if err := checkNotAttached(endpoint.dm, devCfg); err != nil {
		return err
	}

	undo, err := endpoint.NetPair.addModel(endpoint.handle)
	if err != nil {
		return vcerrors.DeviceOperation(err, "connect %s to %s", endpoint.NetPair.VirtIfName, endpoint.NetPair.TapName)
	}

	if err := handleDevice(ctx, endpoint.dm, devCfg); err != nil {
		undo()
		return err
	}

	return nil
}

func (endpoint *networkPairEndpoint) detach(ctx context.Context, self Endpoint, h Hypervisor) error {
	span, ctx := endpoint.trace(ctx, "Detach", self)
	defer span.End()

	networkLogger().WithField("endpoint-type", self.Type()).Info("Detaching endpoint")

	err := detachNetDevice(ctx, h, &endpoint.dev)
	if vcerrors.Is(err, vcerrors.ErrDeviceNotFound) {
		// Never attached, so no model to undo, but the tap is ours.
		return releaseOwnedLink(err, endpoint.NetPair.TapName, func() error {
			return endpoint.NetPair.deleteTap(endpoint.handle)
		})
	}
	if err != nil {
		return err
	}

	var result *multierror.Error
	if err := endpoint.NetPair.removeModel(endpoint.handle); err != nil {
		result = multierror.Append(result, vcerrors.Wrapf(err, "disconnect %s", endpoint.NetPair.VirtIfName))
	}
	if err := endpoint.NetPair.deleteTap(endpoint.handle); err != nil {
		result = multierror.Append(result, vcerrors.Wrap(err, "delete link"))
	}

	return result.ErrorOrNil()
}

func (endpoint *networkPairEndpoint) state() persistapi.NetworkPairEndpoint {
	return persistapi.NetworkPairEndpoint{
		IfName:     endpoint.NetPair.VirtIfName,
		HardAddr:   endpoint.dev.guestMAC,
		Index:      endpoint.NetPair.Index,
		Model:      endpoint.NetPair.NetInterworkingModel.GetModel(),
		NetworkQoS: endpoint.NetworkQoS,
	}
}
