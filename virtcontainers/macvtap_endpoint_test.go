//go:build linux

// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
)

func TestMacvtapEndpoint(t *testing.T) {
	assert := assert.New(t)
	dm, receiver := newTestDeviceManager()
	handle := newMockNetlinkHandle()

	parent := handle.addLink(&netlink.Macvlan{LinkAttrs: netlink.LinkAttrs{Name: "eth0", TxQLen: 500}})

	endpoint, err := NewMacvtapEndpoint(dm, handle, "eth0", testHwAddr, 2)
	require.NoError(t, err)

	link := handle.link("mvt-eth0")
	require.NotNil(t, link)
	macvtap, ok := link.(*netlink.Macvtap)
	require.True(t, ok)
	assert.Equal(netlink.MACVLAN_MODE_BRIDGE, macvtap.Mode)
	assert.Equal(parent.Attrs().Index, macvtap.Attrs().ParentIndex)
	assert.Equal(500, macvtap.Attrs().TxQLen)

	assert.Equal("eth0", endpoint.Name())
	assert.Equal(MacvtapEndpointType, endpoint.Type())
	assert.Equal(testMAC, endpoint.HardwareAddr())

	require.NoError(t, endpoint.Attach(context.Background()))
	added := receiver.AddedDevices()
	require.Len(t, added, 1)
	assert.Equal("mvt-eth0", added[0].Config.Network.HostDevName)
	assert.Equal(netdevMacvtap, added[0].Config.Network.NetdevType)

	state := endpoint.Save()
	require.NotNil(t, state.Macvtap)
	assert.Equal("eth0", state.Macvtap.IfName)
	assert.Equal("mvt-eth0", state.Macvtap.TapName)

	require.NoError(t, endpoint.Detach(context.Background(), dm))
	assert.False(handle.hasLink("mvt-eth0"))
	assert.True(handle.hasLink("eth0"), "the parent is not ours to delete")
}

func TestMacvtapEndpointLongName(t *testing.T) {
	dm, _ := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	handle.addLink(&netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "enp175s0f1np1"}})

	endpoint, err := NewMacvtapEndpoint(dm, handle, "enp175s0f1np1", testHwAddr, 1)
	require.NoError(t, err)

	tapName := endpoint.Save().Macvtap.TapName
	assert.Len(t, tapName, maxLinkNameLen)
	assert.True(t, handle.hasLink(tapName))
}

func TestMacvtapEndpointNoParent(t *testing.T) {
	dm, _ := newTestDeviceManager()
	handle := newMockNetlinkHandle()

	_, err := NewMacvtapEndpoint(dm, handle, "eth0", testHwAddr, 1)
	assert.True(t, vcerrors.Is(err, vcerrors.ErrConstruction))
	assert.False(t, handle.hasLink("mvt-eth0"))
}

func TestMacvtapEndpointSetUpFailure(t *testing.T) {
	dm, _ := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	handle.addLink(&netlink.Macvlan{LinkAttrs: netlink.LinkAttrs{Name: "eth0"}})
	handle.failOn["LinkSetUp"] = errors.New("no carrier")

	_, err := NewMacvtapEndpoint(dm, handle, "eth0", testHwAddr, 1)
	assert.True(t, vcerrors.Is(err, vcerrors.ErrConstruction))
	assert.False(t, handle.hasLink("mvt-eth0"))
}

func TestMacvtapEndpointInvalidMAC(t *testing.T) {
	dm, _ := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	handle.addLink(&netlink.Macvlan{LinkAttrs: netlink.LinkAttrs{Name: "eth0"}})

	_, err := NewMacvtapEndpoint(dm, handle, "eth0", nil, 1)
	assert.True(t, vcerrors.Is(err, vcerrors.ErrInvalidAddress))
	assert.False(t, handle.hasLink("mvt-eth0"))
}

func TestIPVtapEndpoint(t *testing.T) {
	assert := assert.New(t)
	dm, receiver := newTestDeviceManager()
	handle := newMockNetlinkHandle()

	parent := handle.addLink(&netlink.IPVlan{LinkAttrs: netlink.LinkAttrs{Name: "eth0"}})

	endpoint, err := NewIPVtapEndpoint(dm, handle, "eth0", testHwAddr, 1)
	require.NoError(t, err)

	link := handle.link("ivt-eth0")
	require.NotNil(t, link)
	ipvtap, ok := link.(*netlink.IPVtap)
	require.True(t, ok)
	assert.Equal(netlink.IPVLAN_MODE_L2, ipvtap.Mode)
	assert.Equal(parent.Attrs().Index, ipvtap.Attrs().ParentIndex)

	assert.Equal(IPVtapEndpointType, endpoint.Type())
	assert.Equal("eth0", endpoint.Name())

	require.NoError(t, endpoint.Attach(context.Background()))
	assert.Equal("ivt-eth0", receiver.AddedDevices()[0].Config.Network.HostDevName)

	state := endpoint.Save()
	require.NotNil(t, state.IPVtap)
	assert.Equal("ivt-eth0", state.IPVtap.TapName)
	assert.Equal(testMAC, state.IPVtap.HardAddr)

	require.NoError(t, endpoint.Detach(context.Background(), dm))
	assert.False(handle.hasLink("ivt-eth0"))
}

func TestMacvtapEndpointSimilarParents(t *testing.T) {
	assert := assert.New(t)
	dm, _ := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	handle.addLink(&netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "enp59s0f1np1"}})
	handle.addLink(&netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "enp59s0f1np2"}})

	first, err := NewMacvtapEndpoint(dm, handle, "enp59s0f1np1", testHwAddr, 1)
	require.NoError(t, err)
	second, err := NewMacvtapEndpoint(dm, handle, "enp59s0f1np2", testHwAddr, 1)
	require.NoError(t, err)

	firstTap := first.Save().Macvtap.TapName
	secondTap := second.Save().Macvtap.TapName
	assert.NotEqual(firstTap, secondTap)
	assert.LessOrEqual(len(firstTap), maxLinkNameLen)
	assert.LessOrEqual(len(secondTap), maxLinkNameLen)
	assert.True(handle.hasLink(firstTap))
	assert.True(handle.hasLink(secondTap))
}

func TestMacvtapEndpointDetachUnattached(t *testing.T) {
	dm, _ := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	handle.addLink(&netlink.Macvlan{LinkAttrs: netlink.LinkAttrs{Name: "eth0"}})

	endpoint, err := NewMacvtapEndpoint(dm, handle, "eth0", testHwAddr, 1)
	require.NoError(t, err)

	err = endpoint.Detach(context.Background(), dm)
	assert.True(t, vcerrors.Is(err, vcerrors.ErrDeviceNotFound))
	assert.False(t, handle.hasLink("mvt-eth0"))
	assert.True(t, handle.hasLink("eth0"))
}

func TestIPVtapEndpointDetachUnattached(t *testing.T) {
	dm, _ := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	handle.addLink(&netlink.IPVlan{LinkAttrs: netlink.LinkAttrs{Name: "enp59s0f1np1"}})

	endpoint, err := NewIPVtapEndpoint(dm, handle, "enp59s0f1np1", testHwAddr, 1)
	require.NoError(t, err)
	tapName := endpoint.Save().IPVtap.TapName
	require.True(t, handle.hasLink(tapName))

	err = endpoint.Detach(context.Background(), dm)
	assert.True(t, vcerrors.Is(err, vcerrors.ErrDeviceNotFound))
	assert.False(t, handle.hasLink(tapName))
}
