// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package api

import (
	"context"
	"sync"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
)

// MockDeviceReceiver is a fake DeviceReceiver API implementation only used for test.
// It records what was plugged and can be told to fail.
type MockDeviceReceiver struct {
	sync.Mutex

	AddErr    error
	RemoveErr error

	Added   []config.DeviceType
	Removed []config.DeviceType
}

// HotplugAddDevice adds a new device
func (mockDC *MockDeviceReceiver) HotplugAddDevice(ctx context.Context, dev config.DeviceType) error {
	mockDC.Lock()
	defer mockDC.Unlock()

	if mockDC.AddErr != nil {
		return mockDC.AddErr
	}
	mockDC.Added = append(mockDC.Added, dev)
	return nil
}

// HotplugRemoveDevice removes a device
func (mockDC *MockDeviceReceiver) HotplugRemoveDevice(ctx context.Context, dev config.DeviceType) error {
	mockDC.Lock()
	defer mockDC.Unlock()

	if mockDC.RemoveErr != nil {
		return mockDC.RemoveErr
	}
	mockDC.Removed = append(mockDC.Removed, dev)
	return nil
}

// AddedDevices returns a copy of the devices plugged so far.
func (mockDC *MockDeviceReceiver) AddedDevices() []config.DeviceType {
	mockDC.Lock()
	defer mockDC.Unlock()

	return append([]config.DeviceType(nil), mockDC.Added...)
}
