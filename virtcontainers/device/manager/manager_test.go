// Copyright (c) 2017 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package manager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
)

func netConfig(name string, last byte) config.DeviceConfig {
	return config.DeviceConfig{
		Network: &config.NetworkConfig{
			HostDevName: name,
			GuestMAC:    net.HardwareAddr{0x02, 0x00, 0xca, 0xfe, 0x00, last},
			QueueNum:    2,
			QueueSize:   config.DefaultQueueSize,
		},
	}
}

func TestHandleDevice(t *testing.T) {
	assert := assert.New(t)
	receiver := &api.MockDeviceReceiver{}
	dm := NewDeviceManager(receiver)

	dev, err := dm.HandleDevice(context.Background(), netConfig("eth0", 1))
	assert.NoError(err)
	assert.Equal(config.DeviceNetwork, dev.Kind)
	assert.NotEmpty(dev.ID)

	added := receiver.AddedDevices()
	require.Len(t, added, 1)
	assert.Equal(dev, added[0])

	found, ok := dm.FindDevice("eth0")
	assert.True(ok)
	assert.Equal(dev.ID, found.ID)
}

func TestHandleDeviceDuplicate(t *testing.T) {
	assert := assert.New(t)
	dm := NewDeviceManager(&api.MockDeviceReceiver{})

	_, err := dm.HandleDevice(context.Background(), netConfig("eth0", 1))
	assert.NoError(err)

	_, err = dm.HandleDevice(context.Background(), netConfig("eth0", 1))
	assert.True(vcerrors.Is(err, vcerrors.ErrDeviceExists), "%v", err)
	assert.True(vcerrors.Is(err, vcerrors.ErrDeviceOperation))
	assert.Len(dm.Devices(), 1)
}

func TestHandleDeviceInvalidConfig(t *testing.T) {
	assert := assert.New(t)
	receiver := &api.MockDeviceReceiver{}
	dm := NewDeviceManager(receiver)

	_, err := dm.HandleDevice(context.Background(), config.DeviceConfig{})
	assert.True(vcerrors.Is(err, vcerrors.ErrConfig))
	assert.Empty(receiver.AddedDevices())
}

func TestHandleDeviceHotplugFailure(t *testing.T) {
	assert := assert.New(t)
	receiver := &api.MockDeviceReceiver{AddErr: errors.New("hypervisor not ready")}
	dm := NewDeviceManager(receiver)

	_, err := dm.HandleDevice(context.Background(), netConfig("eth0", 1))
	assert.True(vcerrors.Is(err, vcerrors.ErrDeviceOperation))
	assert.Contains(err.Error(), "hypervisor not ready")

	// the key is released again
	_, ok := dm.FindDevice("eth0")
	assert.False(ok)

	receiver.AddErr = nil
	_, err = dm.HandleDevice(context.Background(), netConfig("eth0", 1))
	assert.NoError(err)
}

func TestRemoveDevice(t *testing.T) {
	assert := assert.New(t)
	receiver := &api.MockDeviceReceiver{}
	dm := NewDeviceManager(receiver)

	dev, err := dm.HandleDevice(context.Background(), netConfig("eth0", 1))
	assert.NoError(err)

	// the caller only knows the configuration, not the assigned id
	err = dm.RemoveDevice(context.Background(), config.NetworkDevice(*netConfig("eth0", 1).Network))
	assert.NoError(err)

	require.Len(t, receiver.Removed, 1)
	assert.Equal(dev.ID, receiver.Removed[0].ID)
	assert.Empty(dm.Devices())
}

func TestRemoveDeviceNotFound(t *testing.T) {
	assert := assert.New(t)
	dm := NewDeviceManager(&api.MockDeviceReceiver{})

	err := dm.RemoveDevice(context.Background(), config.NetworkDevice(*netConfig("eth0", 1).Network))
	assert.True(vcerrors.Is(err, vcerrors.ErrDeviceNotFound), "%v", err)
	assert.True(vcerrors.Is(err, vcerrors.ErrDeviceOperation))
}

func TestRemoveDeviceFailureKeepsDevice(t *testing.T) {
	assert := assert.New(t)
	receiver := &api.MockDeviceReceiver{}
	dm := NewDeviceManager(receiver)

	_, err := dm.HandleDevice(context.Background(), netConfig("eth0", 1))
	assert.NoError(err)

	receiver.RemoveErr = errors.New("device_del timed out")
	err = dm.RemoveDevice(context.Background(), config.NetworkDevice(*netConfig("eth0", 1).Network))
	assert.True(vcerrors.Is(err, vcerrors.ErrDeviceOperation))
	assert.False(vcerrors.Is(err, vcerrors.ErrDeviceNotFound))

	_, ok := dm.FindDevice("eth0")
	assert.True(ok)

	receiver.RemoveErr = nil
	assert.NoError(dm.RemoveDevice(context.Background(), config.NetworkDevice(*netConfig("eth0", 1).Network)))
}

func TestConcurrentHandleDevice(t *testing.T) {
	assert := assert.New(t)
	receiver := &api.MockDeviceReceiver{}
	dm := NewDeviceManager(receiver)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = dm.HandleDevice(context.Background(), netConfig(fmt.Sprintf("eth%d", i), byte(i)))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(err)
	}

	devices := dm.Devices()
	assert.Len(devices, n)
	for _, dev := range devices {
		var idx int
		_, err := fmt.Sscanf(dev.Key(), "eth%d", &idx)
		assert.NoError(err)
		assert.Equal(byte(idx), dev.Config.Network.GuestMAC[5])
	}
}

func TestConcurrentHandleSameDevice(t *testing.T) {
	assert := assert.New(t)
	dm := NewDeviceManager(&api.MockDeviceReceiver{})

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = dm.HandleDevice(context.Background(), netConfig("eth0", 1))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(vcerrors.Is(err, vcerrors.ErrDeviceExists))
	}
	assert.Equal(1, succeeded)
}

func TestDeviceMetrics(t *testing.T) {
	assert := assert.New(t)

	reg := prometheus.NewRegistry()
	assert.NoError(RegisterMetrics(reg))
	assert.NoError(RegisterMetrics(reg))

	dm := NewDeviceManager(&api.MockDeviceReceiver{})

	before := testutil.ToFloat64(deviceOperations.WithLabelValues(opAdd, string(config.DeviceVFIO), resultOK))
	_, err := dm.HandleDevice(context.Background(), config.DeviceConfig{VFIO: &config.VFIOConfig{BDF: "0000:3b:00.1"}})
	assert.NoError(err)

	after := testutil.ToFloat64(deviceOperations.WithLabelValues(opAdd, string(config.DeviceVFIO), resultOK))
	assert.Equal(before+1, after)
}

func findMetricFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestDeviceMetricsGather(t *testing.T) {
	assert := assert.New(t)

	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))

	dm := NewDeviceManager(&api.MockDeviceReceiver{})
	dev, err := dm.HandleDevice(context.Background(), config.DeviceConfig{VFIO: &config.VFIOConfig{BDF: "0000:3b:00.2"}})
	require.NoError(t, err)
	require.NoError(t, dm.RemoveDevice(context.Background(), dev))

	families, err := reg.Gather()
	require.NoError(t, err)

	ops := findMetricFamily(families, "kata_netendpoint_device_operations_total")
	require.NotNil(t, ops)
	assert.Equal(dto.MetricType_COUNTER, ops.GetType())

	seen := make(map[string]bool)
	for _, m := range ops.GetMetric() {
		labels := make(map[string]string)
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["kind"] == string(config.DeviceVFIO) && labels["result"] == resultOK {
			assert.GreaterOrEqual(m.GetCounter().GetValue(), float64(1))
			seen[labels["op"]] = true
		}
	}
	assert.True(seen[opAdd])
	assert.True(seen[opRemove])

	devices := findMetricFamily(families, "kata_netendpoint_devices")
	require.NotNil(t, devices)
	assert.Equal(dto.MetricType_GAUGE, devices.GetType())
}
