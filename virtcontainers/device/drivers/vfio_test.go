// Copyright (c) 2017-2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package drivers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
)

const testBDF = "0000:3b:00.1"

// fakeSysfs lays out the pieces of /sys/bus/pci the vfio helpers touch and
// redirects the package paths to it.
func fakeSysfs(t *testing.T, driver string) string {
	root := t.TempDir()

	savedDevices, savedBus, savedVfio := config.SysBusPciDevicesPath, SysBusPciPath, VfioDevPath
	t.Cleanup(func() {
		config.SysBusPciDevicesPath, SysBusPciPath, VfioDevPath = savedDevices, savedBus, savedVfio
	})

	SysBusPciPath = filepath.Join(root, "bus", "pci")
	config.SysBusPciDevicesPath = filepath.Join(SysBusPciPath, "devices")
	VfioDevPath = "/dev/vfio"

	dev := filepath.Join(config.SysBusPciDevicesPath, testBDF)
	require.NoError(t, os.MkdirAll(dev, 0700))

	for name, content := range map[string]string{
		"vendor":          "0x8086\n",
		"device":          "0x154c\n",
		"driver_override": "",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dev, name), []byte(content), 0600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(SysBusPciPath, "drivers_probe"), nil, 0600))

	group := filepath.Join(root, "kernel", "iommu_groups", "42")
	require.NoError(t, os.MkdirAll(group, 0700))
	require.NoError(t, os.Symlink(group, filepath.Join(dev, "iommu_group")))

	if driver != "" {
		drv := filepath.Join(SysBusPciPath, "drivers", driver)
		require.NoError(t, os.MkdirAll(drv, 0700))
		require.NoError(t, os.WriteFile(filepath.Join(drv, "unbind"), nil, 0600))
		require.NoError(t, os.Symlink(drv, filepath.Join(dev, "driver")))
	}

	return dev
}

func TestGetPCIDeviceInfo(t *testing.T) {
	assert := assert.New(t)
	fakeSysfs(t, "iavf")

	info, err := GetPCIDeviceInfo(testBDF)
	assert.NoError(err)
	assert.Equal("iavf", info.Driver)
	assert.Equal("0x8086", info.VendorID)
	assert.Equal("0x154c", info.DeviceID)
	assert.Equal("8086 154c", info.VendorDeviceID())

	_, err = GetPCIDeviceInfo("0000:00:00.0")
	assert.Error(err)
}

func TestGetPCIDeviceInfoNoDriver(t *testing.T) {
	assert := assert.New(t)
	fakeSysfs(t, "")

	info, err := GetPCIDeviceInfo(testBDF)
	assert.NoError(err)
	assert.Empty(info.Driver)
}

func TestBindDevicetoVFIO(t *testing.T) {
	assert := assert.New(t)
	dev := fakeSysfs(t, "iavf")

	path, err := BindDevicetoVFIO(testBDF, "iavf")
	assert.NoError(err)
	assert.Equal("/dev/vfio/42", path)

	content, err := os.ReadFile(filepath.Join(dev, "driver_override"))
	assert.NoError(err)
	assert.Equal(config.VfioPCIDriver, string(content))

	content, err = os.ReadFile(filepath.Join(dev, "driver", "unbind"))
	assert.NoError(err)
	assert.Equal(testBDF, string(content))

	content, err = os.ReadFile(filepath.Join(SysBusPciPath, "drivers_probe"))
	assert.NoError(err)
	assert.Equal(testBDF, string(content))
}

func TestBindDevicetoHost(t *testing.T) {
	assert := assert.New(t)
	dev := fakeSysfs(t, "vfio-pci")

	assert.NoError(BindDevicetoHost(testBDF, "iavf"))

	content, err := os.ReadFile(filepath.Join(dev, "driver_override"))
	assert.NoError(err)
	assert.Equal("iavf", string(content))
}

func TestBindDevicetoHostWithoutDriver(t *testing.T) {
	assert := assert.New(t)
	fakeSysfs(t, "")

	// nothing bound, unbind cannot be written
	assert.Error(BindDevicetoHost(testBDF, "iavf"))
}
