// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"encoding/hex"
	"os"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
	persistapi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/utils"
)

// DefaultVhostUserStorePath is where the vhost-user plugins create their
// sockets, one directory per interface.
const DefaultVhostUserStorePath = "/var/run/kata-containers/vhost-user"

const vhostUserSocketName = "vhu.sock"

var vhostUserTrace = getNetworkTrace(VhostUserEndpointType)

// VhostUserEndpoint represents a vhost-user socket based network interface
type VhostUserEndpoint struct {
	dm api.DeviceManager

	// Path to the vhost-user socket on the host system
	SocketPath string
	// MAC address of the interface
	HardAddr  string
	IfaceName string
	Queues    uint32
}

// vhostUserSocketPath returns the socket the plugins create for ifName
// under storePath.
func vhostUserSocketPath(storePath, ifName string) (string, error) {
	if storePath == "" {
		storePath = DefaultVhostUserStorePath
	}
	return utils.BuildSocketPath(storePath, "net", ifName, vhostUserSocketName)
}

// NewVhostUserEndpoint wraps the vhost-user socket created for name under
// storePath. The socket has to exist already.
func NewVhostUserEndpoint(dm api.DeviceManager, handle NetlinkHandle, name string, hwAddr []byte, queues uint32, storePath string) (*VhostUserEndpoint, error) {
	mac, err := utils.GetMacAddr(hwAddr)
	if err != nil {
		return nil, vcerrors.Construction(err, "new vhost-user endpoint %s", name)
	}

	socket, err := vhostUserSocketPath(storePath, name)
	if err != nil {
		return nil, vcerrors.Construction(err, "new vhost-user endpoint %s", name)
	}

	return newVhostUserEndpoint(dm, name, mac, queues, socket)
}

func newVhostUserEndpoint(dm api.DeviceManager, name, mac string, queues uint32, socket string) (*VhostUserEndpoint, error) {
	if _, err := os.Stat(socket); err != nil {
		return nil, vcerrors.Construction(err, "vhost-user socket for %s", name)
	}

	return &VhostUserEndpoint{
		dm:         dm,
		SocketPath: socket,
		HardAddr:   mac,
		IfaceName:  name,
		Queues:     queues,
	}, nil
}

// Name returns name of the interface.
func (endpoint *VhostUserEndpoint) Name() string {
	return endpoint.IfaceName
}

// HardwareAddr returns the mac address of the vhostuser network interface
func (endpoint *VhostUserEndpoint) HardwareAddr() string {
	return endpoint.HardAddr
}

// Type indentifies the endpoint as a vhostuser endpoint.
func (endpoint *VhostUserEndpoint) Type() EndpointType {
	return VhostUserEndpointType
}

func (endpoint *VhostUserEndpoint) deviceConfig() (config.VhostUserConfig, error) {
	mac, err := utils.ParseMAC(endpoint.HardAddr)
	if err != nil {
		return config.VhostUserConfig{}, vcerrors.Config(err, "guest mac of %s", endpoint.IfaceName)
	}

	queues := endpoint.Queues
	if queues == 0 {
		queues = config.DefaultQueueNum
	}

	return config.VhostUserConfig{
		SocketPath: endpoint.SocketPath,
		GuestMAC:   mac,
		QueueNum:   queues,
	}, nil
}

// Attach for vhostuser endpoint
func (endpoint *VhostUserEndpoint) Attach(ctx context.Context) error {
	span, ctx := vhostUserTrace(ctx, "Attach", endpoint)
	defer span.End()

	networkLogger().WithField("endpoint-type", "vhostuser").Info("Attaching endpoint")

	cfg, err := endpoint.deviceConfig()
	if err != nil {
		return vcerrors.Wrap(err, "get network config")
	}

	// Generate a unique ID to be used for hypervisor commandline fields
	randBytes, err := utils.GenerateRandomBytes(8)
	if err != nil {
		return err
	}
	cfg.DevID = hex.EncodeToString(randBytes)

	return handleDevice(ctx, endpoint.dm, config.DeviceConfig{VhostUser: &cfg})
}

// Detach for vhostuser endpoint
func (endpoint *VhostUserEndpoint) Detach(ctx context.Context, h Hypervisor) error {
	span, ctx := vhostUserTrace(ctx, "Detach", endpoint)
	defer span.End()

	networkLogger().WithField("endpoint-type", "vhostuser").Info("Detaching endpoint")

	cfg, err := endpoint.deviceConfig()
	if err != nil {
		return vcerrors.Wrap(err, "get network config")
	}

	return removeDevice(ctx, h, config.VhostUserDevice(cfg))
}

// Save returns the socket path and guest mac.
func (endpoint *VhostUserEndpoint) Save() *persistapi.EndpointState {
	return &persistapi.EndpointState{
		Type: string(endpoint.Type()),
		VhostUser: &persistapi.VhostUserEndpoint{
			IfName:     endpoint.IfaceName,
			SocketPath: endpoint.SocketPath,
			HardAddr:   endpoint.HardAddr,
		},
	}
}
