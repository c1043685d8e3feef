// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
)

func TestNetInterworkingModelIsValid(t *testing.T) {
	tests := []struct {
		name string
		n    NetInterworkingModel
		want bool
	}{
		{"Invalid Model", NetXConnectInvalidModel, false},
		{"Default Model", NetXConnectDefaultModel, true},
		{"TC Filter Model", NetXConnectTCFilterModel, true},
		{"None Model", NetXConnectNoneModel, true},
		{"Negative Model", NetInterworkingModel(-1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.n.IsValid())
		})
	}
}

func TestNetInterworkingModelSetModel(t *testing.T) {
	tests := []struct {
		name      string
		modelName string
		want      NetInterworkingModel
		wantErr   bool
	}{
		{"default", "default", NetXConnectDefaultModel, false},
		{"tcfilter", "tcfilter", NetXConnectTCFilterModel, false},
		{"none", "none", NetXConnectNoneModel, false},
		{"macvtap", "macvtap", NetXConnectDefaultModel, true},
		{"invalid", "invalid", NetXConnectDefaultModel, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n NetInterworkingModel
			err := n.SetModel(tt.modelName)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, n)
			assert.Equal(t, tt.modelName, n.GetModel())
		})
	}
}

func TestNetInterworkingModelResolve(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(DefaultNetInterworkingModel, NetXConnectDefaultModel.resolve())
	assert.Equal(NetXConnectNoneModel, NetXConnectNoneModel.resolve())
	assert.Equal(NetXConnectTCFilterModel, NetXConnectTCFilterModel.resolve())

	unknown := NetXConnectInvalidModel
	assert.Equal("unknown", unknown.GetModel())
}

func TestNetworkConfigQueueSize(t *testing.T) {
	assert := assert.New(t)

	var nilConfig *NetworkConfig
	assert.Equal(config.DefaultQueueSize, nilConfig.queueSize())
	assert.Equal(config.DefaultQueueSize, (&NetworkConfig{}).queueSize())
	assert.Equal(uint32(1024), (&NetworkConfig{QueueSize: 1024}).queueSize())
}

func TestNetDeviceNetworkConfig(t *testing.T) {
	assert := assert.New(t)

	dev := netDevice{hostDevName: "tap0", guestMAC: testMAC, netdevType: config.NetdevTap}
	cfg, err := dev.networkConfig()
	assert.NoError(err)
	assert.Equal("tap0", cfg.HostDevName)
	assert.Equal(testMAC, cfg.GuestMAC.String())
	assert.Equal(config.DefaultQueueNum, cfg.QueueNum)
	assert.Equal(config.DefaultQueueSize, cfg.QueueSize)
	assert.NoError(config.DeviceConfig{Network: &cfg}.Validate())

	dev.guestMAC = "02:00:ca:fe:00"
	_, err = dev.networkConfig()
	assert.True(vcerrors.Is(err, vcerrors.ErrConfig))
	assert.True(vcerrors.Is(err, vcerrors.ErrInvalidAddress))
}
