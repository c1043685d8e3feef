//go:build linux

// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/api"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
)

func addTestVeth(handle *mockNetlinkHandle, name string) netlink.Link {
	return handle.addLink(&netlink.Veth{LinkAttrs: netlink.LinkAttrs{Name: name, MTU: 1450}})
}

func TestVethEndpoint(t *testing.T) {
	assert := assert.New(t)
	dm, receiver := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	veth := addTestVeth(handle, "eth0")

	endpoint, err := NewVethEndpoint(dm, handle, "eth0", testHwAddr, 2, 3, NetXConnectDefaultModel)
	require.NoError(t, err)

	assert.Equal("eth0", endpoint.Name())
	assert.Equal(VethEndpointType, endpoint.Type())
	assert.Equal(testMAC, endpoint.HardwareAddr())

	pair := endpoint.NetworkPair()
	assert.Equal("tap3_kata", pair.TapName)
	assert.Equal("eth0", pair.VirtIfName)
	assert.Equal(NetXConnectTCFilterModel, pair.NetInterworkingModel)

	tap := handle.link("tap3_kata")
	require.NotNil(t, tap)
	assert.Equal(1450, tap.Attrs().MTU)
	assert.NotZero(tap.Attrs().Flags & net.FlagUp)
	require.Len(t, tap.Attrs().HardwareAddr, 6)
	assert.NotEqual(testMAC, tap.Attrs().HardwareAddr.String(), "the guest mac stays off the host tap")
	assert.Equal(byte(0x02), tap.Attrs().HardwareAddr[0]&0x03)

	require.NoError(t, endpoint.Attach(context.Background()))

	tapIndex := tap.Attrs().Index
	vethIndex := veth.Attrs().Index
	assert.Equal(1, handle.qdiscCount(tapIndex))
	assert.Equal(1, handle.qdiscCount(vethIndex))
	assert.Equal(1, handle.filterCount(tapIndex))
	assert.Equal(1, handle.filterCount(vethIndex))

	filters, err := handle.FilterList(veth, netlink.MakeHandle(0xffff, 0))
	require.NoError(t, err)
	require.Len(t, filters, 1)
	mirred, ok := filters[0].(*netlink.U32).Actions[0].(*netlink.MirredAction)
	require.True(t, ok)
	assert.Equal(tapIndex, mirred.Ifindex)

	added := receiver.AddedDevices()
	require.Len(t, added, 1)
	assert.Equal("tap3_kata", added[0].Config.Network.HostDevName)
	assert.Equal(testMAC, added[0].Config.Network.GuestMAC.String())
	assert.Equal(uint32(2), added[0].Config.Network.QueueNum)

	state := endpoint.Save()
	require.NotNil(t, state.Veth)
	assert.Equal(string(VethEndpointType), state.Type)
	assert.Equal("eth0", state.Veth.IfName)
	assert.Equal(uint32(3), state.Veth.Index)
	assert.Equal("tcfilter", state.Veth.Model)
	assert.Equal(testMAC, state.Veth.HardAddr)

	require.NoError(t, endpoint.Detach(context.Background(), dm))
	assert.False(handle.hasLink("tap3_kata"))
	assert.True(handle.hasLink("eth0"))
	assert.Zero(handle.qdiscCount(vethIndex))
	assert.Zero(handle.filterCount(vethIndex))
	assert.Empty(dm.Devices())
}

func TestVethEndpointNoneModel(t *testing.T) {
	assert := assert.New(t)
	dm, _ := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	veth := addTestVeth(handle, "eth0")

	endpoint, err := NewVethEndpoint(dm, handle, "eth0", testHwAddr, 1, 0, NetXConnectNoneModel)
	require.NoError(t, err)

	require.NoError(t, endpoint.Attach(context.Background()))
	assert.Zero(handle.qdiscCount(veth.Attrs().Index))
	assert.Zero(handle.filterCount(veth.Attrs().Index))
	assert.Equal("none", endpoint.Save().Veth.Model)

	require.NoError(t, endpoint.Detach(context.Background(), dm))
	assert.False(handle.hasLink("tap0_kata"))
}

func TestVethEndpointInvalidModel(t *testing.T) {
	dm, _ := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	addTestVeth(handle, "eth0")

	_, err := NewVethEndpoint(dm, handle, "eth0", testHwAddr, 1, 0, NetXConnectInvalidModel)
	assert.True(t, vcerrors.Is(err, vcerrors.ErrConstruction))
	assert.False(t, handle.hasLink("tap0_kata"))
}

func TestVethEndpointInvalidMAC(t *testing.T) {
	dm, _ := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	addTestVeth(handle, "eth0")

	_, err := NewVethEndpoint(dm, handle, "eth0", []byte{0xde, 0xad}, 1, 0, NetXConnectTCFilterModel)
	assert.True(t, vcerrors.Is(err, vcerrors.ErrInvalidAddress))
	assert.False(t, handle.hasLink("tap0_kata"))
}

func TestVethEndpointWrongLinkType(t *testing.T) {
	dm, _ := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	handle.addLink(&netlink.Macvlan{LinkAttrs: netlink.LinkAttrs{Name: "eth0"}})

	_, err := NewVethEndpoint(dm, handle, "eth0", testHwAddr, 1, 0, NetXConnectTCFilterModel)
	assert.True(t, vcerrors.Is(err, vcerrors.ErrConstruction))
	assert.False(t, handle.hasLink("tap0_kata"))
}

func TestVethEndpointTapSetupFailure(t *testing.T) {
	for _, op := range []string{"LinkSetMTU", "LinkSetHardwareAddr", "LinkSetUp"} {
		dm, _ := newTestDeviceManager()
		handle := newMockNetlinkHandle()
		addTestVeth(handle, "eth0")
		handle.failOn[op] = errors.New("netlink failure")

		_, err := NewVethEndpoint(dm, handle, "eth0", testHwAddr, 1, 0, NetXConnectTCFilterModel)
		assert.True(t, vcerrors.Is(err, vcerrors.ErrConstruction), op)
		assert.False(t, handle.hasLink("tap0_kata"), op)
	}
}

func TestVethEndpointFilterFailure(t *testing.T) {
	assert := assert.New(t)
	dm, receiver := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	veth := addTestVeth(handle, "eth0")

	endpoint, err := NewVethEndpoint(dm, handle, "eth0", testHwAddr, 1, 0, NetXConnectTCFilterModel)
	require.NoError(t, err)

	handle.failOn["FilterAdd"] = errors.New("no space")
	err = endpoint.Attach(context.Background())
	assert.True(vcerrors.Is(err, vcerrors.ErrDeviceOperation))

	assert.Zero(handle.qdiscCount(veth.Attrs().Index))
	assert.Zero(handle.qdiscCount(handle.link("tap0_kata").Attrs().Index))
	assert.Empty(receiver.AddedDevices())
}

func TestVethEndpointHotplugFailure(t *testing.T) {
	assert := assert.New(t)
	dm, receiver := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	veth := addTestVeth(handle, "eth0")
	receiver.AddErr = errors.New("device_add failed")

	endpoint, err := NewVethEndpoint(dm, handle, "eth0", testHwAddr, 1, 0, NetXConnectTCFilterModel)
	require.NoError(t, err)

	err = endpoint.Attach(context.Background())
	assert.True(vcerrors.Is(err, vcerrors.ErrDeviceOperation))
	assert.Zero(handle.qdiscCount(veth.Attrs().Index))
	assert.Zero(handle.filterCount(veth.Attrs().Index))
	assert.True(handle.hasLink("tap0_kata"), "the tap lives until Detach")
}

func TestNetworkPairEndpoints(t *testing.T) {
	type newFunc func(dm api.DeviceManager, handle NetlinkHandle) (Endpoint, error)

	for _, tc := range []struct {
		endpointType EndpointType
		virtLink     netlink.Link
		newEndpoint  newFunc
		arm          string
	}{
		{
			IPVlanEndpointType,
			&netlink.IPVlan{LinkAttrs: netlink.LinkAttrs{Name: "eth0"}},
			func(dm api.DeviceManager, handle NetlinkHandle) (Endpoint, error) {
				return NewIPVlanEndpoint(dm, handle, "eth0", testHwAddr, 1, 1, NetXConnectTCFilterModel)
			},
			"IPVlan",
		},
		{
			VlanEndpointType,
			&netlink.Vlan{LinkAttrs: netlink.LinkAttrs{Name: "eth0"}, VlanId: 100},
			func(dm api.DeviceManager, handle NetlinkHandle) (Endpoint, error) {
				return NewVlanEndpoint(dm, handle, "eth0", testHwAddr, 1, 1, NetXConnectTCFilterModel)
			},
			"Vlan",
		},
		{
			MacvlanEndpointType,
			&netlink.Macvlan{LinkAttrs: netlink.LinkAttrs{Name: "eth0"}},
			func(dm api.DeviceManager, handle NetlinkHandle) (Endpoint, error) {
				return NewMacvlanEndpoint(dm, handle, "eth0", testHwAddr, 1, 1, NetXConnectTCFilterModel)
			},
			"Macvlan",
		},
	} {
		t.Run(string(tc.endpointType), func(t *testing.T) {
			assert := assert.New(t)
			dm, receiver := newTestDeviceManager()
			handle := newMockNetlinkHandle()
			virt := handle.addLink(tc.virtLink)

			endpoint, err := tc.newEndpoint(dm, handle)
			require.NoError(t, err)
			assert.Equal(tc.endpointType, endpoint.Type())
			assert.Equal("eth0", endpoint.Name())
			assert.True(handle.hasLink("tap1_kata"))

			require.NoError(t, endpoint.Attach(context.Background()))
			assert.Equal(1, handle.qdiscCount(virt.Attrs().Index))
			assert.Equal("tap1_kata", receiver.AddedDevices()[0].Config.Network.HostDevName)

			state := endpoint.Save()
			assert.Equal(string(tc.endpointType), state.Type)
			assert.Equal([]string{tc.arm}, state.Arms())

			require.NoError(t, endpoint.Detach(context.Background(), dm))
			assert.False(handle.hasLink("tap1_kata"))
			assert.Zero(handle.qdiscCount(virt.Attrs().Index))
		})
	}
}

func TestVethEndpointAttachTwiceKeepsFilters(t *testing.T) {
	assert := assert.New(t)
	dm, receiver := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	veth := addTestVeth(handle, "eth0")

	endpoint, err := NewVethEndpoint(dm, handle, "eth0", testHwAddr, 1, 0, NetXConnectTCFilterModel)
	require.NoError(t, err)
	require.NoError(t, endpoint.Attach(context.Background()))

	tapIndex := handle.link("tap0_kata").Attrs().Index
	vethIndex := veth.Attrs().Index

	err = endpoint.Attach(context.Background())
	assert.True(vcerrors.Is(err, vcerrors.ErrDeviceExists), "%v", err)

	assert.Equal(1, handle.qdiscCount(tapIndex))
	assert.Equal(1, handle.qdiscCount(vethIndex))
	assert.Equal(1, handle.filterCount(tapIndex))
	assert.Equal(1, handle.filterCount(vethIndex))
	assert.Len(receiver.AddedDevices(), 1)
}

func TestVethEndpointQdiscFailureKeepsOthers(t *testing.T) {
	assert := assert.New(t)
	dm, _ := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	veth := addTestVeth(handle, "eth0")

	// an ingress qdisc somebody else put on the veth
	foreign := &netlink.Ingress{QdiscAttrs: netlink.QdiscAttrs{LinkIndex: veth.Attrs().Index, Parent: netlink.HANDLE_INGRESS}}
	require.NoError(t, handle.QdiscAdd(foreign))

	endpoint, err := NewVethEndpoint(dm, handle, "eth0", testHwAddr, 1, 0, NetXConnectTCFilterModel)
	require.NoError(t, err)

	handle.failOn["FilterAdd"] = errors.New("no space")
	assert.Error(endpoint.Attach(context.Background()))

	qdiscs, err := handle.QdiscList(veth)
	require.NoError(t, err)
	require.Len(t, qdiscs, 1)
	assert.Equal(netlink.Qdisc(foreign), qdiscs[0])
}

func TestVethEndpointDetachUnattachedDeletesTap(t *testing.T) {
	dm, _ := newTestDeviceManager()
	handle := newMockNetlinkHandle()
	addTestVeth(handle, "eth0")

	endpoint, err := NewVethEndpoint(dm, handle, "eth0", testHwAddr, 1, 0, NetXConnectTCFilterModel)
	require.NoError(t, err)

	err = endpoint.Detach(context.Background(), dm)
	assert.True(t, vcerrors.Is(err, vcerrors.ErrDeviceNotFound))
	assert.False(t, handle.hasLink("tap0_kata"))
	assert.True(t, handle.hasLink("eth0"))

	// the tap is gone already, the second call only reports the device
	err = endpoint.Detach(context.Background(), dm)
	assert.True(t, vcerrors.Is(err, vcerrors.ErrDeviceNotFound))
}
