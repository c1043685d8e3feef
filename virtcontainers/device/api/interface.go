// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package api

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
)

var devLogger = logrus.WithField("subsystem", "device")

// SetLogger sets the logger for device api package.
func SetLogger(logger *logrus.Entry) {
	fields := devLogger.Data
	devLogger = logger.WithFields(fields)
}

// DeviceLogger returns logger for device management
func DeviceLogger() *logrus.Entry {
	return devLogger
}

// DeviceReceiver is an interface used for accepting devices
// a device should be attached/added/plugged to a DeviceReceiver
type DeviceReceiver interface {
	// these are for hotplug/hot-unplug devices to/from hypervisor
	HotplugAddDevice(context.Context, config.DeviceType) error
	HotplugRemoveDevice(context.Context, config.DeviceType) error
}

// DeviceManager is the registry shared by every endpoint of a sandbox.
// Implementations are safe for concurrent use and never hold their
// internal lock across hypervisor I/O.
type DeviceManager interface {
	// HandleDevice hotplugs the device described by cfg and registers it.
	// A device with the same key that is already registered is rejected
	// with ErrDeviceExists.
	HandleDevice(ctx context.Context, cfg config.DeviceConfig) (config.DeviceType, error)

	// RemoveDevice unplugs a registered device. Unknown devices are
	// reported with ErrDeviceNotFound.
	RemoveDevice(ctx context.Context, dev config.DeviceType) error

	// FindDevice returns the registered device with the given key.
	FindDevice(key string) (config.DeviceType, bool)

	// Devices returns every registered device.
	Devices() []config.DeviceType
}

// DoHandleDevice runs cfg through the shared device manager and returns the
// registered device.
func DoHandleDevice(ctx context.Context, dm DeviceManager, cfg config.DeviceConfig) (config.DeviceType, error) {
	dev, err := dm.HandleDevice(ctx, cfg)
	if err != nil {
		return config.DeviceType{}, err
	}

	DeviceLogger().WithFields(logrus.Fields{
		"device-id": dev.ID,
		"kind":      dev.Kind,
		"key":       dev.Key(),
	}).Debug("device handled")

	return dev, nil
}
