// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018-2019 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package drivers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/utils"
)

// SysBusPciPath holds drivers_probe. Tests point it, together with
// config.SysBusPciDevicesPath, at a fake sysfs tree.
var SysBusPciPath = "/sys/bus/pci"

// VfioDevPath is the directory holding the vfio group device nodes.
var VfioDevPath = "/dev/vfio"

func deviceLogger() *logrus.Entry {
	return api.DeviceLogger()
}

func pciDevicePath(bdf string, elem ...string) string {
	return filepath.Join(append([]string{config.SysBusPciDevicesPath, bdf}, elem...)...)
}

// PCIDeviceInfo is what sysfs tells about a PCI function.
type PCIDeviceInfo struct {
	BDF      string
	Driver   string
	VendorID string
	DeviceID string
}

// VendorDeviceID returns "<vendor> <device>" without the 0x prefixes.
func (i PCIDeviceInfo) VendorDeviceID() string {
	return fmt.Sprintf("%s %s", strings.TrimPrefix(i.VendorID, "0x"), strings.TrimPrefix(i.DeviceID, "0x"))
}

// read from /sys/bus/pci/devices/xxx/property
func readPCIProperty(bdf, property string) (string, error) {
	path := pciDevicePath(bdf, property)
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read pci sysfs %v, error:%v", path, err)
	}
	return strings.TrimSpace(strings.Split(string(buf), "\n")[0]), nil
}

// GetPCIDeviceInfo reads the bound driver and the vendor/device ids of bdf.
// A function with no driver bound has an empty Driver.
func GetPCIDeviceInfo(bdf string) (PCIDeviceInfo, error) {
	info := PCIDeviceInfo{BDF: bdf}

	driverPath, err := os.Readlink(pciDevicePath(bdf, "driver"))
	switch {
	case err == nil:
		info.Driver = filepath.Base(driverPath)
	case os.IsNotExist(err):
	default:
		return PCIDeviceInfo{}, err
	}

	if info.VendorID, err = readPCIProperty(bdf, "vendor"); err != nil {
		return PCIDeviceInfo{}, err
	}
	if info.DeviceID, err = readPCIProperty(bdf, "device"); err != nil {
		return PCIDeviceInfo{}, err
	}

	return info, nil
}

// GetVFIODevPath returns the vfio group device node of bdf.
func GetVFIODevPath(bdf string) (string, error) {
	// Determine the iommu group that the device belongs to.
	groupPath, err := os.Readlink(pciDevicePath(bdf, "iommu_group"))
	if err != nil {
		return "", err
	}

	return filepath.Join(VfioDevPath, filepath.Base(groupPath)), nil
}

// BindDevicetoVFIO binds the device to vfio driver after unbinding from host
// driver if present.
func BindDevicetoVFIO(bdf, hostDriver string) (string, error) {
	overrideDriverPath := pciDevicePath(bdf, "driver_override")
	deviceLogger().WithFields(logrus.Fields{
		"device-bdf":           bdf,
		"driver-override-path": overrideDriverPath,
	}).Info("Write vfio-pci to driver_override")

	// Write vfio-pci to driver_override file to allow the device to bind to vfio-pci
	// Reference: https://www.kernel.org/doc/Documentation/ABI/testing/sysfs-bus-platform
	if err := utils.WriteToFile(overrideDriverPath, []byte(config.VfioPCIDriver)); err != nil {
		return "", err
	}

	unbindDriverPath := pciDevicePath(bdf, "driver", "unbind")
	deviceLogger().WithFields(logrus.Fields{
		"device-bdf":  bdf,
		"driver-path": unbindDriverPath,
		"host-driver": hostDriver,
	}).Info("Unbinding device from driver")

	// A driver may not be bound to the device, in which case this step
	// fails. Hence ignore error for this step.
	_ = utils.WriteToFile(unbindDriverPath, []byte(bdf))

	probePath := filepath.Join(SysBusPciPath, "drivers_probe")
	deviceLogger().WithFields(logrus.Fields{
		"device-bdf":         bdf,
		"drivers-probe-path": probePath,
	}).Info("Writing bdf to drivers-probe-path")

	// Invoke drivers_probe so that the driver matching driver_override, in our case
	// the vfio-pci driver will probe the device.
	if err := utils.WriteToFile(probePath, []byte(bdf)); err != nil {
		return "", err
	}

	return GetVFIODevPath(bdf)
}

// BindDevicetoHost unbinds the device from vfio-pci driver and binds it to the
// previously bound driver.
func BindDevicetoHost(bdf, hostDriver string) error {
	overrideDriverPath := pciDevicePath(bdf, "driver_override")
	deviceLogger().WithFields(logrus.Fields{
		"device-bdf":           bdf,
		"driver-override-path": overrideDriverPath,
	}).Infof("Write %s to driver_override", hostDriver)

	// write previously bound host driver to driver_override to allow the
	// device to bind to it. This could be empty which means the device will not be
	// bound to any driver later on.
	if err := utils.WriteToFile(overrideDriverPath, []byte(hostDriver)); err != nil {
		return err
	}

	// Unbind device from vfio-pci driver.
	unbindDriverPath := pciDevicePath(bdf, "driver", "unbind")
	deviceLogger().WithFields(logrus.Fields{
		"device-bdf":  bdf,
		"driver-path": unbindDriverPath,
	}).Info("Unbinding device from driver")

	if err := utils.WriteToFile(unbindDriverPath, []byte(bdf)); err != nil {
		return err
	}

	// Invoke drivers_probe so that the driver matching driver_override, in this case
	// the previous host driver will probe the device.
	return utils.WriteToFile(filepath.Join(SysBusPciPath, "drivers_probe"), []byte(bdf))
}
