// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package manager

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kata-containers/kata-containers/src/netendpoint/pkg/katautils/katatrace"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
)

type deviceState int

const (
	// the hotplug is in flight, the key is reserved
	statePending deviceState = iota
	stateAttached
	stateRemoving
)

type deviceEntry struct {
	dev   config.DeviceType
	state deviceState
}

type deviceManager struct {
	receiver api.DeviceReceiver
	devices  map[string]*deviceEntry

	sync.RWMutex
}

func deviceLogger() *logrus.Entry {
	return api.DeviceLogger().WithField("subsystem", "device-manager")
}

func trace(ctx context.Context, name string, dev config.DeviceType) (func(), context.Context) {
	span, ctx := katatrace.Trace(ctx, deviceLogger(), name, map[string]string{
		"subsystem": "device-manager",
		"kind":      string(dev.Kind),
		"key":       dev.Key(),
	})
	return func() { span.End() }, ctx
}

// NewDeviceManager creates a deviceManager object behaved as api.DeviceManager.
// Every hotplug is forwarded to receiver.
func NewDeviceManager(receiver api.DeviceReceiver) api.DeviceManager {
	return &deviceManager{
		receiver: receiver,
		devices:  make(map[string]*deviceEntry),
	}
}

// reserve claims key for a new device. It fails if the key is taken,
// whatever state the existing device is in.
func (dm *deviceManager) reserve(dev config.DeviceType) error {
	dm.Lock()
	defer dm.Unlock()

	if _, ok := dm.devices[dev.Key()]; ok {
		return vcerrors.DeviceOperation(vcerrors.ErrDeviceExists, "%s device %s", dev.Kind, dev.Key())
	}
	dm.devices[dev.Key()] = &deviceEntry{dev: dev, state: statePending}
	return nil
}

func (dm *deviceManager) HandleDevice(ctx context.Context, cfg config.DeviceConfig) (config.DeviceType, error) {
	if err := cfg.Validate(); err != nil {
		return config.DeviceType{}, err
	}

	dev := config.DeviceType{
		Kind:   cfg.Kind(),
		ID:     uuid.New().String(),
		Config: cfg,
	}

	end, ctx := trace(ctx, "HandleDevice", dev)
	defer end()

	if err := dm.reserve(dev); err != nil {
		observe(opAdd, string(dev.Kind), err)
		return config.DeviceType{}, err
	}

	err := dm.receiver.HotplugAddDevice(ctx, dev)
	observe(opAdd, string(dev.Kind), err)

	dm.Lock()
	defer dm.Unlock()

	if err != nil {
		delete(dm.devices, dev.Key())
		return config.DeviceType{}, vcerrors.DeviceOperation(err, "hotplug %s device %s", dev.Kind, dev.Key())
	}

	dm.devices[dev.Key()].state = stateAttached
	registeredDevices.WithLabelValues(string(dev.Kind)).Inc()

	deviceLogger().WithFields(logrus.Fields{
		"device-id": dev.ID,
		"key":       dev.Key(),
	}).Info("device attached")

	return dev, nil
}

// RemoveDevice unplugs the device registered under dev's key. The caller's
// DeviceType does not need to carry the identifier, the registered one is
// handed to the receiver.
func (dm *deviceManager) RemoveDevice(ctx context.Context, dev config.DeviceType) error {
	end, ctx := trace(ctx, "RemoveDevice", dev)
	defer end()

	key := dev.Key()

	dm.Lock()
	entry, ok := dm.devices[key]
	if !ok {
		dm.Unlock()
		err := vcerrors.DeviceOperation(vcerrors.ErrDeviceNotFound, "%s device %s", dev.Kind, key)
		observe(opRemove, string(dev.Kind), err)
		return err
	}
	if entry.state != stateAttached {
		dm.Unlock()
		err := vcerrors.DeviceOperation(nil, "%s device %s has a hotplug operation in flight", dev.Kind, key)
		observe(opRemove, string(dev.Kind), err)
		return err
	}
	entry.state = stateRemoving
	registered := entry.dev
	dm.Unlock()

	err := dm.receiver.HotplugRemoveDevice(ctx, registered)
	observe(opRemove, string(registered.Kind), err)

	dm.Lock()
	defer dm.Unlock()

	if err != nil {
		entry.state = stateAttached
		return vcerrors.DeviceOperation(err, "unplug %s device %s", registered.Kind, key)
	}

	delete(dm.devices, key)
	registeredDevices.WithLabelValues(string(registered.Kind)).Dec()

	deviceLogger().WithFields(logrus.Fields{
		"device-id": registered.ID,
		"key":       key,
	}).Info("device removed")

	return nil
}

// FindDevice returns an attached device. Devices with a hotplug in flight
// are not reported.
func (dm *deviceManager) FindDevice(key string) (config.DeviceType, bool) {
	dm.RLock()
	defer dm.RUnlock()

	entry, ok := dm.devices[key]
	if !ok || entry.state != stateAttached {
		return config.DeviceType{}, false
	}
	return entry.dev, true
}

// Devices returns the attached devices ordered by key.
func (dm *deviceManager) Devices() []config.DeviceType {
	dm.RLock()
	defer dm.RUnlock()

	var devices []config.DeviceType
	for _, entry := range dm.devices {
		if entry.state == stateAttached {
			devices = append(devices, entry.dev)
		}
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Key() < devices[j].Key()
	})

	return devices
}
