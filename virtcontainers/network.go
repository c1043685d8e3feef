// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/kata-containers/kata-containers/src/netendpoint/pkg/katautils/katatrace"
	deviceApi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/utils"
)

// virtLog is the virtcontainers logger.
var virtLog = logrus.WithField("source", "virtcontainers")

// networkTracingTags defines tags for the trace span
var networkTracingTags = map[string]string{
	"source":    "runtime",
	"package":   "virtcontainers",
	"subsystem": "network",
}

// SetLogger sets the logger for the virtcontainers package and the device
// packages below it.
func SetLogger(ctx context.Context, logger *logrus.Entry) {
	fields := virtLog.Data
	virtLog = logger.WithFields(fields)
	deviceApi.SetLogger(virtLog)
}

func networkLogger() *logrus.Entry {
	return virtLog.WithField("subsystem", "network")
}

var networkTrace = getNetworkTrace("")

func getNetworkTrace(networkType EndpointType) func(ctx context.Context, name string, endpoint Endpoint) (otelTrace.Span, context.Context) {
	return func(ctx context.Context, name string, endpoint Endpoint) (otelTrace.Span, context.Context) {
		span, ctx := katatrace.Trace(ctx, networkLogger(), name, networkTracingTags)
		if networkType != "" {
			katatrace.AddTags(span, "type", string(networkType))
		}
		if endpoint != nil {
			katatrace.AddTags(span, "endpoint", endpoint.Name())
		}
		return span, ctx
	}
}

// NetInterworkingModel defines the network model connecting
// the network interface to the virtual machine.
type NetInterworkingModel int

const (
	// NetXConnectDefaultModel Ask to use DefaultNetInterworkingModel
	NetXConnectDefaultModel NetInterworkingModel = iota

	// NetXConnectTCFilterModel redirects traffic from the network interface
	// provided by the network plugin to a tap interface.
	// This works for ipvlan and macvlan as well.
	NetXConnectTCFilterModel

	// NetXConnectNoneModel can be used when the VM is in the host network namespace
	NetXConnectNoneModel

	// NetXConnectInvalidModel is the last item to Check valid values by IsValid()
	NetXConnectInvalidModel
)

// IsValid checks if a model is valid
func (n NetInterworkingModel) IsValid() bool {
	return 0 <= int(n) && int(n) < int(NetXConnectInvalidModel)
}

const (
	defaultNetModelStr = "default"

	tcFilterNetModelStr = "tcfilter"

	noneNetModelStr = "none"
)

// GetModel returns the string value of a NetInterworkingModel
func (n *NetInterworkingModel) GetModel() string {
	switch *n {
	case NetXConnectDefaultModel:
		return defaultNetModelStr
	case NetXConnectTCFilterModel:
		return tcFilterNetModelStr
	case NetXConnectNoneModel:
		return noneNetModelStr
	}
	return "unknown"
}

// SetModel change the model string value
func (n *NetInterworkingModel) SetModel(modelName string) error {
	switch modelName {
	case defaultNetModelStr:
		*n = NetXConnectDefaultModel
		return nil
	case tcFilterNetModelStr:
		*n = NetXConnectTCFilterModel
		return nil
	case noneNetModelStr:
		*n = NetXConnectNoneModel
		return nil
	}
	return fmt.Errorf("Unknown type %s", modelName)
}

// resolve maps the default model onto DefaultNetInterworkingModel.
func (n NetInterworkingModel) resolve() NetInterworkingModel {
	if n == NetXConnectDefaultModel {
		return DefaultNetInterworkingModel
	}
	return n
}

// DefaultNetInterworkingModel is a package level default
// that determines how the VM should be connected to the
// the container network interface
var DefaultNetInterworkingModel = NetXConnectTCFilterModel

// NetlinkHandle is the part of a netlink handle the endpoints use to
// create, look up and wire host links. *netlink.Handle implements it.
type NetlinkHandle interface {
	LinkByName(name string) (netlink.Link, error)
	LinkAdd(link netlink.Link) error
	LinkDel(link netlink.Link) error
	LinkSetUp(link netlink.Link) error
	LinkSetDown(link netlink.Link) error
	LinkSetMTU(link netlink.Link, mtu int) error
	LinkSetHardwareAddr(link netlink.Link, hwaddr net.HardwareAddr) error

	QdiscList(link netlink.Link) ([]netlink.Qdisc, error)
	QdiscAdd(qdisc netlink.Qdisc) error
	QdiscDel(qdisc netlink.Qdisc) error

	FilterList(link netlink.Link, parent uint32) ([]netlink.Filter, error)
	FilterAdd(filter netlink.Filter) error
	FilterDel(filter netlink.Filter) error
}

// NetworkConfig is the sandbox wide network configuration applied to every
// endpoint built by NewEndpoint or RestoreEndpoint.
type NetworkConfig struct {
	NetNsPath          string
	VhostUserStorePath string
	InterworkingModel  NetInterworkingModel
	Queues             uint32
	QueueSize          uint32
}

func (c *NetworkConfig) queueSize() uint32 {
	if c == nil || c.QueueSize == 0 {
		return config.DefaultQueueSize
	}
	return c.QueueSize
}

// netDevice carries what every tap backed endpoint needs to describe its
// guest device: the host device name, the stored guest mac and queues.
type netDevice struct {
	hostDevName string
	guestMAC    string
	netdevType  string
	queues      uint32
	queueSize   uint32
}

// networkConfig re-parses the stored mac on every call.
func (d *netDevice) networkConfig() (config.NetworkConfig, error) {
	mac, err := utils.ParseMAC(d.guestMAC)
	if err != nil {
		return config.NetworkConfig{}, vcerrors.Config(err, "guest mac of %s", d.hostDevName)
	}

	queueSize := d.queueSize
	if queueSize == 0 {
		queueSize = config.DefaultQueueSize
	}
	queues := d.queues
	if queues == 0 {
		queues = config.DefaultQueueNum
	}

	return config.NetworkConfig{
		HostDevName: d.hostDevName,
		GuestMAC:    mac,
		NetdevType:  d.netdevType,
		QueueNum:    queues,
		QueueSize:   queueSize,
	}, nil
}

// queueSizer is implemented by endpoints whose queue size comes from the
// sandbox configuration rather than their constructor.
type queueSizer interface {
	setQueueSize(size uint32)
}

func handleDevice(ctx context.Context, dm deviceApi.DeviceManager, cfg config.DeviceConfig) (err error) {
	defer vcerrors.ErrorContext(&err, "handle device")

	_, err = deviceApi.DoHandleDevice(ctx, dm, cfg)
	return err
}

func removeDevice(ctx context.Context, h Hypervisor, dev config.DeviceType) (err error) {
	defer vcerrors.ErrorContext(&err, "remove device")

	if h == nil {
		return vcerrors.DeviceOperation(nil, "no hypervisor to remove %s device %s", dev.Kind, dev.Key())
	}
	return h.RemoveDevice(ctx, dev)
}

// attachNetDevice is Attach for every endpoint backed by a network device.
func attachNetDevice(ctx context.Context, dm deviceApi.DeviceManager, d *netDevice) error {
	cfg, err := d.networkConfig()
	if err != nil {
		return vcerrors.Wrap(err, "get network config")
	}

	return handleDevice(ctx, dm, config.DeviceConfig{Network: &cfg})
}

// detachNetDevice is Detach for every endpoint backed by a network device.
func detachNetDevice(ctx context.Context, h Hypervisor, d *netDevice) error {
	cfg, err := d.networkConfig()
	if err != nil {
		return vcerrors.Wrap(err, "get network config")
	}

	return removeDevice(ctx, h, config.NetworkDevice(cfg))
}

// checkNotAttached rejects cfg with ErrDeviceExists when the device manager
// already holds an attached device with the same key. Endpoints call it
// before changing anything on the host.
func checkNotAttached(dm deviceApi.DeviceManager, cfg config.DeviceConfig) (err error) {
	defer vcerrors.ErrorContext(&err, "handle device")

	if dev, ok := dm.FindDevice(cfg.Key()); ok {
		return vcerrors.DeviceOperation(vcerrors.ErrDeviceExists, "%s device %s", dev.Kind, dev.Key())
	}
	return nil
}

// releaseOwnedLink finishes Detach for endpoints that created a host link.
// The link is deleted whether or not its device was ever attached. For a
// device that was not found, detachErr is still what the caller gets back
// and a link that is already gone is only logged.
func releaseOwnedLink(detachErr error, linkName string, release func() error) error {
	if detachErr != nil && !vcerrors.Is(detachErr, vcerrors.ErrDeviceNotFound) {
		return detachErr
	}

	if err := release(); err != nil {
		if detachErr == nil {
			return err
		}
		networkLogger().WithError(err).WithField("link", linkName).Warn("Could not remove link of unattached endpoint")
	}

	return detachErr
}
