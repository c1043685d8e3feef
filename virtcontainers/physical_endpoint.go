//go:build linux

// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"

	"github.com/safchain/ethtool"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/drivers"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
	persistapi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/utils"
)

var physicalTrace = getNetworkTrace(PhysicalEndpointType)

// ethtoolBusInfo returns the bus address of ifaceName. We use ethtool here
// to not rely on device sysfs inside the network namespace.
var ethtoolBusInfo = func(ifaceName string) (string, error) {
	ethHandle, err := ethtool.NewEthtool()
	if err != nil {
		return "", err
	}
	defer ethHandle.Close()

	return ethHandle.BusInfo(ifaceName)
}

// PhysicalEndpoint gathers a physical network interface and its properties
type PhysicalEndpoint struct {
	dm api.DeviceManager

	IfaceName      string
	HardAddr       string
	BDF            string
	Driver         string
	VendorDeviceID string
}

// NewPhysicalEndpoint looks the PCI function behind name up. Nothing is
// changed on the host until Attach.
func NewPhysicalEndpoint(dm api.DeviceManager, handle NetlinkHandle, name string, hwAddr []byte, queues uint32) (*PhysicalEndpoint, error) {
	mac, err := utils.GetMacAddr(hwAddr)
	if err != nil {
		return nil, vcerrors.Construction(err, "new physical endpoint %s", name)
	}

	// Get BDF
	bdf, err := ethtoolBusInfo(name)
	if err != nil {
		return nil, vcerrors.Construction(err, "bus info of %s", name)
	}

	info, err := drivers.GetPCIDeviceInfo(bdf)
	if err != nil {
		return nil, vcerrors.Construction(err, "pci device %s of %s", bdf, name)
	}

	return &PhysicalEndpoint{
		dm:             dm,
		IfaceName:      name,
		HardAddr:       mac,
		BDF:            bdf,
		Driver:         info.Driver,
		VendorDeviceID: info.VendorDeviceID(),
	}, nil
}

// HardwareAddr returns the mac address of the physical network interface.
func (endpoint *PhysicalEndpoint) HardwareAddr() string {
	return endpoint.HardAddr
}

// Name returns name of the physical interface.
func (endpoint *PhysicalEndpoint) Name() string {
	return endpoint.IfaceName
}

// Type indentifies the endpoint as a physical endpoint.
func (endpoint *PhysicalEndpoint) Type() EndpointType {
	return PhysicalEndpointType
}

func (endpoint *PhysicalEndpoint) deviceConfig() (config.VFIOConfig, error) {
	mac, err := utils.ParseMAC(endpoint.HardAddr)
	if err != nil {
		return config.VFIOConfig{}, vcerrors.Config(err, "guest mac of %s", endpoint.IfaceName)
	}

	return config.VFIOConfig{
		BDF:            endpoint.BDF,
		HostDevName:    endpoint.IfaceName,
		VendorDeviceID: endpoint.VendorDeviceID,
		Driver:         endpoint.Driver,
		GuestMAC:       mac,
	}, nil
}

// Attach for physical endpoint binds the physical network interface to
// vfio-pci and adds device to the hypervisor with vfio-passthrough.
func (endpoint *PhysicalEndpoint) Attach(ctx context.Context) error {
	span, ctx := physicalTrace(ctx, "Attach", endpoint)
	defer span.End()

	cfg, err := endpoint.deviceConfig()
	if err != nil {
		return vcerrors.Wrap(err, "get network config")
	}

	devCfg := config.DeviceConfig{VFIO: &cfg}

	// An attached function belongs to the guest, do not rebind it.
	if err := checkNotAttached(endpoint.dm, devCfg); err != nil {
		return err
	}

	// Unbind physical interface from host driver and bind to vfio
	// so that it can be passed to the hypervisor.
	if _, err := drivers.BindDevicetoVFIO(endpoint.BDF, endpoint.Driver); err != nil {
		return vcerrors.DeviceOperation(err, "bind %s to vfio", endpoint.BDF)
	}

	if err := handleDevice(ctx, endpoint.dm, devCfg); err != nil {
		// Lost a race with another Attach of the same function.
		if vcerrors.Is(err, vcerrors.ErrDeviceExists) {
			return err
		}
		if bindErr := drivers.BindDevicetoHost(endpoint.BDF, endpoint.Driver); bindErr != nil {
			networkLogger().WithError(bindErr).WithField("endpoint", endpoint.Name()).Warn("Could not bind device back to host")
		}
		return err
	}

	return nil
}

// Detach for physical endpoint unplugs the function, then unbinds it from
// vfio-pci and binds it back to the saved host driver.
func (endpoint *PhysicalEndpoint) Detach(ctx context.Context, h Hypervisor) error {
	span, ctx := physicalTrace(ctx, "Detach", endpoint)
	defer span.End()

	cfg, err := endpoint.deviceConfig()
	if err != nil {
		return vcerrors.Wrap(err, "get network config")
	}

	if err := removeDevice(ctx, h, config.VFIODevice(cfg)); err != nil {
		return err
	}

	// We do not need to enter the network namespace to bind back the
	// physical interface to host driver.
	if err := drivers.BindDevicetoHost(endpoint.BDF, endpoint.Driver); err != nil {
		return vcerrors.DeviceOperation(err, "bind %s to %s", endpoint.BDF, endpoint.Driver)
	}

	return nil
}

// Save keeps the host driver so Detach can rebind after a restart.
func (endpoint *PhysicalEndpoint) Save() *persistapi.EndpointState {
	return &persistapi.EndpointState{
		Type: string(endpoint.Type()),
		Physical: &persistapi.PhysicalEndpoint{
			IfName:         endpoint.IfaceName,
			BDF:            endpoint.BDF,
			Driver:         endpoint.Driver,
			VendorDeviceID: endpoint.VendorDeviceID,
			HardAddr:       endpoint.HardAddr,
		},
	}
}
