//go:build linux

// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"fmt"
	"os"
	"runtime"

	"github.com/containernetworking/plugins/pkg/ns"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/utils"
)

const (
	defaultFilePerms = 0600
	defaultQlen      = 1500
)

var _ NetlinkHandle = (*netlink.Handle)(nil)

// NewNetlinkHandleAt returns a netlink handle bound to the network namespace
// at netNsPath, or to the current one when netNsPath is empty.
func NewNetlinkHandleAt(netNsPath string) (*netlink.Handle, error) {
	if netNsPath == "" {
		return netlink.NewHandle()
	}

	nsHandle, err := netns.GetFromPath(netNsPath)
	if err != nil {
		return nil, fmt.Errorf("Could not open network namespace %s: %s", netNsPath, err)
	}
	defer nsHandle.Close()

	return netlink.NewHandleAt(nsHandle)
}

func createLink(netHandle NetlinkHandle, name string, expectedLink netlink.Link, queues int) (netlink.Link, []*os.File, error) {
	var newLink netlink.Link
	var fds []*os.File

	switch expectedLink.Type() {
	case (&netlink.Tuntap{}).Type():
		flags := netlink.TUNTAP_VNET_HDR | netlink.TUNTAP_NO_PI
		if queues > 0 {
			flags |= netlink.TUNTAP_MULTI_QUEUE_DEFAULTS
		} else {
			// LinkAdd only hands back the tuntap file descriptors
			// when the queues are set to non zero.
			queues = 1
		}
		newLink = &netlink.Tuntap{
			LinkAttrs: netlink.LinkAttrs{Name: name},
			Mode:      netlink.TUNTAP_MODE_TAP,
			Queues:    queues,
			Flags:     flags,
		}
	case (&netlink.Macvtap{}).Type():
		qlen := expectedLink.Attrs().TxQLen
		if qlen <= 0 {
			qlen = defaultQlen
		}
		newLink = &netlink.Macvtap{
			Macvlan: netlink.Macvlan{
				Mode: netlink.MACVLAN_MODE_BRIDGE,
				LinkAttrs: netlink.LinkAttrs{
					Name:        name,
					TxQLen:      qlen,
					ParentIndex: expectedLink.Attrs().ParentIndex,
				},
			},
		}
	case (&netlink.IPVtap{}).Type():
		newLink = &netlink.IPVtap{
			IPVlan: netlink.IPVlan{
				Mode: netlink.IPVLAN_MODE_L2,
				LinkAttrs: netlink.LinkAttrs{
					Name:        name,
					ParentIndex: expectedLink.Attrs().ParentIndex,
				},
			},
		}
	default:
		return nil, fds, fmt.Errorf("Unsupported link type %s", expectedLink.Type())
	}

	if err := netHandle.LinkAdd(newLink); err != nil {
		return nil, fds, fmt.Errorf("LinkAdd() failed for %s name %s: %s", expectedLink.Type(), name, err)
	}

	tuntapLink, ok := newLink.(*netlink.Tuntap)
	if ok {
		fds = tuntapLink.Fds
	}

	link, err := getLinkByName(netHandle, name, expectedLink)
	if err != nil {
		utils.CleanupFds(fds, len(fds))
		if delErr := deleteLink(netHandle, newLink); delErr != nil {
			networkLogger().WithError(delErr).WithField("link", name).Warn("Could not remove link")
		}
		return nil, nil, err
	}
	return link, fds, nil
}

func getLinkByName(netHandle NetlinkHandle, name string, expectedLink netlink.Link) (netlink.Link, error) {
	link, err := netHandle.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("LinkByName() failed for %s name %s: %s", expectedLink.Type(), name, err)
	}

	switch expectedLink.Type() {
	case (&netlink.Tuntap{}).Type():
		if l, ok := link.(*netlink.Tuntap); ok {
			return l, nil
		}
	case (&netlink.Veth{}).Type():
		if l, ok := link.(*netlink.Veth); ok {
			return l, nil
		}
	case (&netlink.Macvtap{}).Type():
		if l, ok := link.(*netlink.Macvtap); ok {
			return l, nil
		}
	case (&netlink.Macvlan{}).Type():
		if l, ok := link.(*netlink.Macvlan); ok {
			return l, nil
		}
	case (&netlink.IPVlan{}).Type():
		if l, ok := link.(*netlink.IPVlan); ok {
			return l, nil
		}
	case (&netlink.IPVtap{}).Type():
		if l, ok := link.(*netlink.IPVtap); ok {
			return l, nil
		}
	case (&netlink.Vlan{}).Type():
		if l, ok := link.(*netlink.Vlan); ok {
			return l, nil
		}
	case (&netlink.Device{}).Type():
		// a parent for macvtap can be any link
		return link, nil
	default:
		return nil, fmt.Errorf("Unsupported link type %s", expectedLink.Type())
	}

	return nil, fmt.Errorf("Incorrect link type %s, expecting %s", link.Type(), expectedLink.Type())
}

// deleteLink removes a link created by an endpoint. A link already gone is
// not an error.
func deleteLink(netHandle NetlinkHandle, link netlink.Link) error {
	if link == nil {
		return nil
	}

	if err := netHandle.LinkDel(link); err != nil {
		if _, lookupErr := netHandle.LinkByName(link.Attrs().Name); lookupErr != nil {
			return nil
		}
		return fmt.Errorf("Could not remove %s %s: %s", link.Type(), link.Attrs().Name, err)
	}
	return nil
}

func createMacvtapFds(linkIndex int, queues int) ([]*os.File, error) {
	tapDev := fmt.Sprintf("/dev/tap%d", linkIndex)
	return createFds(tapDev, queues)
}

func createVhostFds(numFds int) ([]*os.File, error) {
	vhostDev := "/dev/vhost-net"
	return createFds(vhostDev, numFds)
}

func createFds(device string, numFds int) ([]*os.File, error) {
	fds := make([]*os.File, numFds)

	for i := 0; i < numFds; i++ {
		f, err := os.OpenFile(device, os.O_RDWR, defaultFilePerms)
		if err != nil {
			utils.CleanupFds(fds, i)
			return nil, err
		}
		fds[i] = f
	}
	return fds, nil
}

func addQdiscIngress(netHandle NetlinkHandle, index int) (netlink.Qdisc, error) {
	qdisc := &netlink.Ingress{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: index,
			Parent:    netlink.HANDLE_INGRESS,
		},
	}

	err := netHandle.QdiscAdd(qdisc)
	if err != nil {
		return nil, fmt.Errorf("Failed to add qdisc for network index %d : %s", index, err)
	}

	return qdisc, nil
}

// addRedirectTCFilter adds a tc filter for device with index myIndex.
// The filter redirects all the traffic from the ingress qdisc of myIndex
// to the egress of destIndex.
func addRedirectTCFilter(netHandle NetlinkHandle, sourceIndex, destIndex int) (netlink.Filter, error) {
	filter := &netlink.U32{
		FilterAttrs: netlink.FilterAttrs{
			LinkIndex: sourceIndex,
			Parent:    netlink.MakeHandle(0xffff, 0),
			Protocol:  unix.ETH_P_ALL,
		},
		Actions: []netlink.Action{
			&netlink.MirredAction{
				ActionAttrs: netlink.ActionAttrs{
					Action: netlink.TC_ACT_STOLEN,
				},
				MirredAction: netlink.TCA_EGRESS_REDIR,
				Ifindex:      destIndex,
			},
		},
	}

	if err := netHandle.FilterAdd(filter); err != nil {
		return nil, fmt.Errorf("Failed to add filter for index %d : %s", sourceIndex, err)
	}

	return filter, nil
}

// removeRedirectTCFilter removes all tc u32 filters on the ingress qdisc of link.
func removeRedirectTCFilter(netHandle NetlinkHandle, link netlink.Link) error {
	if link == nil {
		return nil
	}

	// Handle 0xffff is used for ingress
	filters, err := netHandle.FilterList(link, netlink.MakeHandle(0xffff, 0))
	if err != nil {
		return err
	}

	for _, f := range filters {
		u32, ok := f.(*netlink.U32)

		if !ok {
			continue
		}

		if err := netHandle.FilterDel(u32); err != nil {
			return err
		}
	}
	return nil
}

// removeQdiscIngress removes the ingress qdisc previously created on link.
func removeQdiscIngress(netHandle NetlinkHandle, link netlink.Link) error {
	if link == nil {
		return nil
	}

	qdiscs, err := netHandle.QdiscList(link)
	if err != nil {
		return err
	}

	for _, qdisc := range qdiscs {
		ingress, ok := qdisc.(*netlink.Ingress)
		if !ok {
			continue
		}

		if err := netHandle.QdiscDel(ingress); err != nil {
			return err
		}
	}
	return nil
}

// doNetNS is free from any call to a go routine, and it calls
// into runtime.LockOSThread(), meaning it won't be executed in a
// different thread than the one expected by the caller.
func doNetNS(netNSPath string, cb func(ns.NetNS) error) error {
	// if netNSPath is empty, the callback function will be run in the current network namespace.
	// So skip the whole function, just call cb(). cb() needs a NetNS as arg but ignored, give it a fake one.
	if netNSPath == "" {
		var netNs ns.NetNS
		return cb(netNs)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	currentNS, err := ns.GetCurrentNS()
	if err != nil {
		return err
	}
	defer currentNS.Close()

	targetNS, err := ns.GetNS(netNSPath)
	if err != nil {
		return err
	}
	defer targetNS.Close()

	if err := targetNS.Set(); err != nil {
		return err
	}
	defer currentNS.Set()

	return cb(targetNS)
}

// EnterNetNS runs cb inside the network namespace at netNSPath.
func EnterNetNS(netNSPath string, cb func() error) error {
	return doNetNS(netNSPath, func(nn ns.NetNS) error {
		return cb()
	})
}
