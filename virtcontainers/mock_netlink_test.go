//go:build linux

// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/vishvananda/netlink"
)

var errLinkNotFound = errors.New("Link not found")

// mockNetlinkHandle keeps links, qdiscs and filters in memory. Setting an
// entry in failOn makes the named method fail with that error.
type mockNetlinkHandle struct {
	sync.Mutex

	links     map[string]netlink.Link
	qdiscs    map[int][]netlink.Qdisc
	filters   map[int][]netlink.Filter
	nextIndex int

	failOn map[string]error
}

var _ NetlinkHandle = (*mockNetlinkHandle)(nil)

func newMockNetlinkHandle() *mockNetlinkHandle {
	return &mockNetlinkHandle{
		links:     make(map[string]netlink.Link),
		qdiscs:    make(map[int][]netlink.Qdisc),
		filters:   make(map[int][]netlink.Filter),
		nextIndex: 10,
		failOn:    make(map[string]error),
	}
}

// addLink registers a link as if something else had created it.
func (h *mockNetlinkHandle) addLink(link netlink.Link) netlink.Link {
	h.Lock()
	defer h.Unlock()

	h.nextIndex++
	link.Attrs().Index = h.nextIndex
	if link.Attrs().MTU == 0 {
		link.Attrs().MTU = 1500
	}
	h.links[link.Attrs().Name] = link
	return link
}

func (h *mockNetlinkHandle) hasLink(name string) bool {
	h.Lock()
	defer h.Unlock()

	_, ok := h.links[name]
	return ok
}

func (h *mockNetlinkHandle) link(name string) netlink.Link {
	h.Lock()
	defer h.Unlock()

	return h.links[name]
}

func (h *mockNetlinkHandle) qdiscCount(index int) int {
	h.Lock()
	defer h.Unlock()

	return len(h.qdiscs[index])
}

func (h *mockNetlinkHandle) filterCount(index int) int {
	h.Lock()
	defer h.Unlock()

	return len(h.filters[index])
}

func (h *mockNetlinkHandle) fail(op string) error {
	return h.failOn[op]
}

func (h *mockNetlinkHandle) LinkByName(name string) (netlink.Link, error) {
	h.Lock()
	defer h.Unlock()

	if err := h.fail("LinkByName"); err != nil {
		return nil, err
	}
	link, ok := h.links[name]
	if !ok {
		return nil, errLinkNotFound
	}
	return link, nil
}

func (h *mockNetlinkHandle) LinkAdd(link netlink.Link) error {
	h.Lock()
	defer h.Unlock()

	if err := h.fail("LinkAdd"); err != nil {
		return err
	}
	name := link.Attrs().Name
	if _, ok := h.links[name]; ok {
		return fmt.Errorf("link %s already exists", name)
	}
	h.nextIndex++
	link.Attrs().Index = h.nextIndex
	h.links[name] = link
	return nil
}

func (h *mockNetlinkHandle) LinkDel(link netlink.Link) error {
	h.Lock()
	defer h.Unlock()

	if err := h.fail("LinkDel"); err != nil {
		return err
	}
	name := link.Attrs().Name
	if _, ok := h.links[name]; !ok {
		return errLinkNotFound
	}
	delete(h.links, name)
	delete(h.qdiscs, link.Attrs().Index)
	delete(h.filters, link.Attrs().Index)
	return nil
}

func (h *mockNetlinkHandle) LinkSetUp(link netlink.Link) error {
	h.Lock()
	defer h.Unlock()

	if err := h.fail("LinkSetUp"); err != nil {
		return err
	}
	link.Attrs().Flags |= net.FlagUp
	return nil
}

func (h *mockNetlinkHandle) LinkSetDown(link netlink.Link) error {
	h.Lock()
	defer h.Unlock()

	if err := h.fail("LinkSetDown"); err != nil {
		return err
	}
	link.Attrs().Flags &^= net.FlagUp
	return nil
}

func (h *mockNetlinkHandle) LinkSetMTU(link netlink.Link, mtu int) error {
	h.Lock()
	defer h.Unlock()

	if err := h.fail("LinkSetMTU"); err != nil {
		return err
	}
	link.Attrs().MTU = mtu
	return nil
}

func (h *mockNetlinkHandle) LinkSetHardwareAddr(link netlink.Link, hwaddr net.HardwareAddr) error {
	h.Lock()
	defer h.Unlock()

	if err := h.fail("LinkSetHardwareAddr"); err != nil {
		return err
	}
	link.Attrs().HardwareAddr = hwaddr
	return nil
}

func (h *mockNetlinkHandle) QdiscList(link netlink.Link) ([]netlink.Qdisc, error) {
	h.Lock()
	defer h.Unlock()

	return append([]netlink.Qdisc(nil), h.qdiscs[link.Attrs().Index]...), nil
}

func (h *mockNetlinkHandle) QdiscAdd(qdisc netlink.Qdisc) error {
	h.Lock()
	defer h.Unlock()

	if err := h.fail("QdiscAdd"); err != nil {
		return err
	}
	index := qdisc.Attrs().LinkIndex
	h.qdiscs[index] = append(h.qdiscs[index], qdisc)
	return nil
}

func (h *mockNetlinkHandle) QdiscDel(qdisc netlink.Qdisc) error {
	h.Lock()
	defer h.Unlock()

	index := qdisc.Attrs().LinkIndex
	for i, q := range h.qdiscs[index] {
		if q == qdisc {
			h.qdiscs[index] = append(h.qdiscs[index][:i], h.qdiscs[index][i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no such qdisc on link %d", index)
}

func (h *mockNetlinkHandle) FilterList(link netlink.Link, parent uint32) ([]netlink.Filter, error) {
	h.Lock()
	defer h.Unlock()

	var filters []netlink.Filter
	for _, f := range h.filters[link.Attrs().Index] {
		if f.Attrs().Parent == parent {
			filters = append(filters, f)
		}
	}
	return filters, nil
}

func (h *mockNetlinkHandle) FilterAdd(filter netlink.Filter) error {
	h.Lock()
	defer h.Unlock()

	if err := h.fail("FilterAdd"); err != nil {
		return err
	}
	index := filter.Attrs().LinkIndex
	h.filters[index] = append(h.filters[index], filter)
	return nil
}

func (h *mockNetlinkHandle) FilterDel(filter netlink.Filter) error {
	h.Lock()
	defer h.Unlock()

	index := filter.Attrs().LinkIndex
	for i, f := range h.filters[index] {
		if f == filter {
			h.filters[index] = append(h.filters[index][:i], h.filters[index][i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no such filter on link %d", index)
}
