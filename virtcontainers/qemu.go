//go:build linux

// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	semver "github.com/blang/semver/v4"
	govmmQemu "github.com/kata-containers/govmm/qemu"
	"github.com/sirupsen/logrus"

	deviceApi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/utils"
)

const (
	// QEMU limits device and netdev IDs; keep well under it.
	maxQMPIDLen = 31

	netdevMacvtapByFds = "tap"
	netdevVhostUser    = "vhost-user"
)

// qmpClient is the subset of the QMP API the hotplug paths use.
type qmpClient interface {
	ExecuteNetdevAdd(ctx context.Context, netdevType, netdevID, ifname, downscript, script string, queues int) error
	ExecuteNetdevAddByFds(ctx context.Context, netdevType, netdevID string, fdNames, vhostFdNames []string) error
	ExecuteNetdevChardevAdd(ctx context.Context, netdevType, netdevID, chardev string, queues int) error
	ExecuteNetdevDel(ctx context.Context, netdevID string) error
	ExecuteGetFD(ctx context.Context, fdname string, fd *os.File) error
	ExecuteCharDevUnixSocketAdd(ctx context.Context, id, path string, wait, server bool) error
	ExecuteChardevDel(ctx context.Context, chardevID string) error
	ExecuteNetPCIDeviceAdd(ctx context.Context, netdevID, devID, macAddr, addr, bus, romfile string, queues int, disableModern bool) error
	ExecutePCIVFIODeviceAdd(ctx context.Context, devID, bdf, addr, bus, romfile string) error
	ExecuteDeviceDel(ctx context.Context, devID string) error
	Shutdown()
}

var _ qmpClient = (*govmmQemu.QMP)(nil)

// qmpLogger is a helper used to log QMP messages.
type qmpLogger struct {
	logger *logrus.Entry
}

func newQMPLogger() qmpLogger {
	return qmpLogger{
		logger: networkLogger().WithField("subsystem", "qmp"),
	}
}

func (l qmpLogger) V(level int32) bool {
	return level != 0
}

func (l qmpLogger) Infof(format string, v ...interface{}) {
	l.logger.Infof(format, v...)
}

func (l qmpLogger) Warningf(format string, v ...interface{}) {
	l.logger.Warnf(format, v...)
}

func (l qmpLogger) Errorf(format string, v ...interface{}) {
	l.logger.Errorf(format, v...)
}

// Qemu hotplugs network devices into a running QEMU through its QMP socket.
// It is the receiver of a device manager and can also be handed directly to
// Endpoint.Detach.
type Qemu struct {
	qmp          qmpClient
	disconnectCh chan struct{}

	// netNsPath is where macvtap character devices are opened. Empty means
	// the current namespace.
	netNsPath string

	// QMP commands of one hotplug must not interleave with another's,
	// fd names are only unique per sequence.
	sync.Mutex
}

var _ deviceApi.DeviceReceiver = (*Qemu)(nil)
var _ Hypervisor = (*Qemu)(nil)

// NewQemu connects to the QMP socket of a running QEMU and negotiates
// capabilities.
func NewQemu(ctx context.Context, qmpSocket, netNsPath string) (*Qemu, error) {
	disconnectCh := make(chan struct{})

	cfg := govmmQemu.QMPConfig{Logger: newQMPLogger()}

	qmp, ver, err := govmmQemu.QMPStart(ctx, qmpSocket, cfg, disconnectCh)
	if err != nil {
		return nil, vcerrors.DeviceOperation(err, "connect to QMP socket %s", qmpSocket)
	}

	if err := qmp.ExecuteQMPCapabilities(ctx); err != nil {
		qmp.Shutdown()
		return nil, vcerrors.DeviceOperation(err, "QMP capabilities")
	}

	if err := checkQMPVersion(ver); err != nil {
		qmp.Shutdown()
		return nil, vcerrors.DeviceOperation(err, "QMP version")
	}

	networkLogger().WithFields(logrus.Fields{
		"qmp-socket":       qmpSocket,
		"qmp-version":      qmpSemver(ver).String(),
		"qmp-capabilities": strings.Join(ver.Capabilities, ","),
	}).Info("QMP connected")

	return newQemu(qmp, disconnectCh, netNsPath), nil
}

// minQemuVersion is the oldest QEMU the hotplug sequences are issued to.
var minQemuVersion = semver.MustParse("4.2.0")

func qmpSemver(ver *govmmQemu.QMPVersion) semver.Version {
	return semver.Version{
		Major: uint64(ver.Major),
		Minor: uint64(ver.Minor),
		Patch: uint64(ver.Micro),
	}
}

func checkQMPVersion(ver *govmmQemu.QMPVersion) error {
	if ver == nil {
		return fmt.Errorf("QEMU did not report a version")
	}

	if v := qmpSemver(ver); v.LT(minQemuVersion) {
		return fmt.Errorf("QEMU %s is older than %s", v, minQemuVersion)
	}

	return nil
}

func newQemu(qmp qmpClient, disconnectCh chan struct{}, netNsPath string) *Qemu {
	return &Qemu{
		qmp:          qmp,
		disconnectCh: disconnectCh,
		netNsPath:    netNsPath,
	}
}

// Close shuts the QMP connection down and waits for it to be released.
func (q *Qemu) Close() {
	q.Lock()
	defer q.Unlock()

	if q.qmp == nil {
		return
	}

	q.qmp.Shutdown()
	if q.disconnectCh != nil {
		<-q.disconnectCh
	}
	q.qmp = nil
}

// qmpID derives a stable identifier from the registry key, so removal works
// with a DeviceType that never went through the device manager.
func qmpID(prefix, key string) string {
	if len(prefix)+1+len(key) <= maxQMPIDLen {
		return utils.MakeQMPID(prefix, key, maxQMPIDLen)
	}

	return utils.MakeHashedNameID(prefix, key, maxQMPIDLen)
}

func qmpQueues(queues uint32) int {
	if queues > 1 {
		return int(queues)
	}
	return 0
}

// HotplugAddDevice plugs dev into the guest.
func (q *Qemu) HotplugAddDevice(ctx context.Context, dev config.DeviceType) error {
	span, ctx := networkTrace(ctx, "HotplugAddDevice", nil)
	defer span.End()

	q.Lock()
	defer q.Unlock()

	if q.qmp == nil {
		return vcerrors.DeviceOperation(nil, "QMP connection is closed")
	}

	var err error
	switch dev.Kind {
	case config.DeviceNetwork:
		err = q.hotAddNetDevice(ctx, dev.Config.Network)
	case config.DeviceVFIO:
		err = q.hotAddVFIODevice(ctx, dev.Config.VFIO)
	case config.DeviceVhostUser:
		err = q.hotAddVhostUserDevice(ctx, dev.Config.VhostUser)
	default:
		return vcerrors.DeviceOperation(nil, "cannot hotplug device: unsupported device kind %q", dev.Kind)
	}

	if err != nil {
		return vcerrors.DeviceOperation(err, "hotplug %s device %s", dev.Kind, dev.Key())
	}
	return nil
}

// HotplugRemoveDevice unplugs dev from the guest and releases its backend.
func (q *Qemu) HotplugRemoveDevice(ctx context.Context, dev config.DeviceType) error {
	span, ctx := networkTrace(ctx, "HotplugRemoveDevice", nil)
	defer span.End()

	q.Lock()
	defer q.Unlock()

	if q.qmp == nil {
		return vcerrors.DeviceOperation(nil, "QMP connection is closed")
	}

	key := dev.Key()

	var err error
	switch dev.Kind {
	case config.DeviceNetwork:
		err = q.hotDelNetDevice(ctx, key)
	case config.DeviceVFIO:
		err = q.qmp.ExecuteDeviceDel(ctx, qmpID("vfio", key))
	case config.DeviceVhostUser:
		err = q.hotDelVhostUserDevice(ctx, key)
	default:
		return vcerrors.DeviceOperation(nil, "cannot unplug device: unsupported device kind %q", dev.Kind)
	}

	if qmpDeviceNotFound(err) {
		return vcerrors.DeviceOperation(vcerrors.ErrDeviceNotFound, "unplug %s device %s: %v", dev.Kind, key, err)
	}
	if err != nil {
		return vcerrors.DeviceOperation(err, "unplug %s device %s", dev.Kind, key)
	}
	return nil
}

// qmpDeviceNotFound reports whether QEMU rejected a command because it does
// not know the device id.
func qmpDeviceNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}

// RemoveDevice lets Qemu stand in for the hypervisor on Detach.
func (q *Qemu) RemoveDevice(ctx context.Context, dev config.DeviceType) error {
	return q.HotplugRemoveDevice(ctx, dev)
}

func (q *Qemu) hotAddNetDevice(ctx context.Context, cfg *config.NetworkConfig) error {
	netdevID := qmpID("net", cfg.HostDevName)
	devID := "virtio-" + netdevID
	queues := qmpQueues(cfg.QueueNum)

	var err error
	if cfg.NetdevType == netdevMacvtap {
		err = q.hotAddMacvtapNetdev(ctx, netdevID, cfg.HostDevName, cfg.QueueNum)
	} else {
		err = q.qmp.ExecuteNetdevAdd(ctx, config.NetdevTap, netdevID, cfg.HostDevName, "no", "no", queues)
	}
	if err != nil {
		return err
	}

	if err := q.qmp.ExecuteNetPCIDeviceAdd(ctx, netdevID, devID, cfg.GuestMAC.String(), "", "", "", queues, false); err != nil {
		if delErr := q.qmp.ExecuteNetdevDel(ctx, netdevID); delErr != nil {
			networkLogger().WithError(delErr).WithField("netdev", netdevID).Warn("Could not remove netdev")
		}
		return err
	}

	return nil
}

// hotAddMacvtapNetdev passes the macvtap character device to QEMU by fd,
// QEMU cannot open it by interface name.
func (q *Qemu) hotAddMacvtapNetdev(ctx context.Context, netdevID, ifName string, queues uint32) error {
	if queues == 0 {
		queues = config.DefaultQueueNum
	}

	var vmFds, vhostFds []*os.File
	open := func() error {
		iface, err := net.InterfaceByName(ifName)
		if err != nil {
			return err
		}
		if vmFds, err = createMacvtapFds(iface.Index, int(queues)); err != nil {
			return err
		}
		if vhostFds, err = createVhostFds(int(queues)); err != nil {
			utils.CleanupFds(vmFds, len(vmFds))
			return err
		}
		return nil
	}

	var err error
	if q.netNsPath != "" {
		err = EnterNetNS(q.netNsPath, open)
	} else {
		err = open()
	}
	if err != nil {
		return err
	}
	// QEMU holds its own copies once getfd returns.
	defer utils.CleanupFds(vmFds, len(vmFds))
	defer utils.CleanupFds(vhostFds, len(vhostFds))

	var vmFdNames, vhostFdNames []string
	for i, fd := range vmFds {
		name := fmt.Sprintf("fd%d", i)
		if err := q.qmp.ExecuteGetFD(ctx, name, fd); err != nil {
			return err
		}
		vmFdNames = append(vmFdNames, name)
	}
	for i, fd := range vhostFds {
		name := fmt.Sprintf("vhostfd%d", i)
		if err := q.qmp.ExecuteGetFD(ctx, name, fd); err != nil {
			return err
		}
		vhostFdNames = append(vhostFdNames, name)
	}

	return q.qmp.ExecuteNetdevAddByFds(ctx, netdevMacvtapByFds, netdevID, vmFdNames, vhostFdNames)
}

func (q *Qemu) hotDelNetDevice(ctx context.Context, key string) error {
	netdevID := qmpID("net", key)

	if err := q.qmp.ExecuteDeviceDel(ctx, "virtio-"+netdevID); err != nil {
		return err
	}

	return q.qmp.ExecuteNetdevDel(ctx, netdevID)
}

func (q *Qemu) hotAddVFIODevice(ctx context.Context, cfg *config.VFIOConfig) error {
	return q.qmp.ExecutePCIVFIODeviceAdd(ctx, qmpID("vfio", cfg.BDF), cfg.BDF, "", "", "")
}

func (q *Qemu) hotAddVhostUserDevice(ctx context.Context, cfg *config.VhostUserConfig) error {
	charID := qmpID("char", cfg.SocketPath)
	netdevID := qmpID("vhu", cfg.SocketPath)
	devID := "virtio-" + netdevID
	queues := qmpQueues(cfg.QueueNum)

	// The backend owns the socket, QEMU connects as a client.
	if err := q.qmp.ExecuteCharDevUnixSocketAdd(ctx, charID, cfg.SocketPath, false, false); err != nil {
		return err
	}

	if err := q.qmp.ExecuteNetdevChardevAdd(ctx, netdevVhostUser, netdevID, charID, queues); err != nil {
		q.cleanupVhostUser(ctx, "", charID)
		return err
	}

	if err := q.qmp.ExecuteNetPCIDeviceAdd(ctx, netdevID, devID, cfg.GuestMAC.String(), "", "", "", queues, false); err != nil {
		q.cleanupVhostUser(ctx, netdevID, charID)
		return err
	}

	return nil
}

func (q *Qemu) cleanupVhostUser(ctx context.Context, netdevID, charID string) {
	if netdevID != "" {
		if err := q.qmp.ExecuteNetdevDel(ctx, netdevID); err != nil {
			networkLogger().WithError(err).WithField("netdev", netdevID).Warn("Could not remove netdev")
		}
	}
	if err := q.qmp.ExecuteChardevDel(ctx, charID); err != nil {
		networkLogger().WithError(err).WithField("chardev", charID).Warn("Could not remove chardev")
	}
}

func (q *Qemu) hotDelVhostUserDevice(ctx context.Context, key string) error {
	charID := qmpID("char", key)
	netdevID := qmpID("vhu", key)

	if err := q.qmp.ExecuteDeviceDel(ctx, "virtio-"+netdevID); err != nil {
		return err
	}
	if err := q.qmp.ExecuteNetdevDel(ctx, netdevID); err != nil {
		return err
	}

	return q.qmp.ExecuteChardevDel(ctx, charID)
}
