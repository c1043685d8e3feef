// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package config

import (
	"net"
	"path/filepath"
	"regexp"

	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
)

// DeviceKind indicates which class of device a DeviceConfig describes.
type DeviceKind string

const (
	// DeviceNetwork is a virtio-net device backed by a host tap-like interface
	DeviceNetwork DeviceKind = "network"

	// DeviceVFIO is a PCI function passed through with vfio-pci
	DeviceVFIO DeviceKind = "vfio"

	// DeviceVhostUser is a virtio-net device served by a vhost-user backend
	DeviceVhostUser DeviceKind = "vhost-user"
)

const (
	// DefaultQueueNum is the number of virtqueue pairs used when the
	// caller does not ask for multiqueue.
	DefaultQueueNum uint32 = 1

	// DefaultQueueSize is the virtqueue depth used when none is configured.
	DefaultQueueSize uint32 = 256

	// MaxQueueSize is the largest virtqueue depth QEMU accepts for virtio-net.
	MaxQueueSize uint32 = 1024

	// NetdevTap is the netdev backend for tap, vtap and macvtap devices
	NetdevTap = "tap"

	// VhostUserNet - net based vhost-user type
	VhostUserNet = "virtio-net-pci"

	// VfioPCIDriver is the host driver a physical function is bound to for
	// passthrough.
	VfioPCIDriver = "vfio-pci"
)

// SysBusPciDevicesPath is static string of /sys/bus/pci/devices
var SysBusPciDevicesPath = "/sys/bus/pci/devices"

// SysIOMMUGroupPath is static string of /sys/kernel/iommu_groups
var SysIOMMUGroupPath = "/sys/kernel/iommu_groups"

var bdfRegexp = regexp.MustCompile(`^[0-9a-f]{4}:[0-9a-f]{2}:[0-1][0-9a-f]\.[0-7]$`)

// NetworkConfig describes a virtio-net device attached to a host interface.
type NetworkConfig struct {
	// HostDevName is the host interface backing the guest NIC. It is the
	// key the device manager tracks the device by.
	HostDevName string

	GuestMAC net.HardwareAddr

	// NetdevType is the hypervisor netdev backend, "tap" when empty.
	NetdevType string

	QueueNum  uint32
	QueueSize uint32

	// Offloads enables vnet header checksum/TSO offloads in the guest.
	Offloads bool
}

// VFIOConfig describes a physical network function passed through to the guest.
type VFIOConfig struct {
	// BDF is the full PCI address, e.g. 0000:3b:00.1
	BDF string

	// HostDevName is the kernel interface name before the function was
	// unbound from its host driver.
	HostDevName string

	// VendorDeviceID is "<vendor> <device>" as read from sysfs
	VendorDeviceID string

	// Driver is the host driver the function is restored to on removal.
	Driver string

	GuestMAC net.HardwareAddr
}

// VhostUserConfig describes a vhost-user-net device.
type VhostUserConfig struct {
	SocketPath string
	DevID      string
	GuestMAC   net.HardwareAddr
	QueueNum   uint32
}

// DeviceConfig is the hypervisor neutral description of a device. Exactly
// one arm is set.
type DeviceConfig struct {
	Network   *NetworkConfig
	VFIO      *VFIOConfig
	VhostUser *VhostUserConfig
}

// Kind reports which arm is populated, empty when none or several are.
func (c DeviceConfig) Kind() DeviceKind {
	var kind DeviceKind
	n := 0

	if c.Network != nil {
		kind = DeviceNetwork
		n++
	}
	if c.VFIO != nil {
		kind = DeviceVFIO
		n++
	}
	if c.VhostUser != nil {
		kind = DeviceVhostUser
		n++
	}

	if n != 1 {
		return ""
	}
	return kind
}

// Key is the identity the device manager registers the device under.
func (c DeviceConfig) Key() string {
	switch c.Kind() {
	case DeviceNetwork:
		return c.Network.HostDevName
	case DeviceVFIO:
		return c.VFIO.BDF
	case DeviceVhostUser:
		return c.VhostUser.SocketPath
	}
	return ""
}

// Validate checks that exactly one arm is set and that it is usable.
func (c DeviceConfig) Validate() error {
	switch c.Kind() {
	case DeviceNetwork:
		return c.Network.validate()
	case DeviceVFIO:
		return c.VFIO.validate()
	case DeviceVhostUser:
		return c.VhostUser.validate()
	}

	return vcerrors.Config(nil, "device config must have exactly one of network, vfio or vhost-user set")
}

func validMAC(mac net.HardwareAddr) bool {
	return len(mac) == 6
}

func (n *NetworkConfig) validate() error {
	if n.HostDevName == "" {
		return vcerrors.Config(nil, "network device has no host device name")
	}
	if !validMAC(n.GuestMAC) {
		return vcerrors.Config(nil, "network device %s: guest mac %q is not 6 bytes", n.HostDevName, n.GuestMAC)
	}
	if n.QueueSize > MaxQueueSize {
		return vcerrors.Config(nil, "network device %s: queue size %d exceeds %d", n.HostDevName, n.QueueSize, MaxQueueSize)
	}
	if n.QueueSize != 0 && n.QueueSize&(n.QueueSize-1) != 0 {
		return vcerrors.Config(nil, "network device %s: queue size %d is not a power of 2", n.HostDevName, n.QueueSize)
	}
	return nil
}

func (v *VFIOConfig) validate() error {
	if !bdfRegexp.MatchString(v.BDF) {
		return vcerrors.Config(nil, "vfio device: %q is not a PCI address", v.BDF)
	}
	if v.GuestMAC != nil && !validMAC(v.GuestMAC) {
		return vcerrors.Config(nil, "vfio device %s: guest mac %q is not 6 bytes", v.BDF, v.GuestMAC)
	}
	return nil
}

func (v *VhostUserConfig) validate() error {
	if !filepath.IsAbs(v.SocketPath) {
		return vcerrors.Config(nil, "vhost-user device: socket path %q is not absolute", v.SocketPath)
	}
	if !validMAC(v.GuestMAC) {
		return vcerrors.Config(nil, "vhost-user device %s: guest mac %q is not 6 bytes", v.SocketPath, v.GuestMAC)
	}
	return nil
}

// DeviceType is what a hypervisor receives for hotplug: the configuration,
// its discriminator, and the identifier the device manager assigned.
type DeviceType struct {
	Kind   DeviceKind
	ID     string
	Config DeviceConfig
}

// Key is the registry identity of the wrapped configuration.
func (d DeviceType) Key() string {
	return d.Config.Key()
}

// NetworkDevice wraps a network configuration for removal or hotplug.
func NetworkDevice(cfg NetworkConfig) DeviceType {
	return DeviceType{Kind: DeviceNetwork, Config: DeviceConfig{Network: &cfg}}
}

// VFIODevice wraps a vfio configuration.
func VFIODevice(cfg VFIOConfig) DeviceType {
	return DeviceType{Kind: DeviceVFIO, Config: DeviceConfig{VFIO: &cfg}}
}

// VhostUserDevice wraps a vhost-user configuration.
func VhostUserDevice(cfg VhostUserConfig) DeviceType {
	return DeviceType{Kind: DeviceVhostUser, Config: DeviceConfig{VhostUser: &cfg}}
}
