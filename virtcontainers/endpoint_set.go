// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
	persistapi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/api"
)

// EndpointSet holds the endpoints of one sandbox and the device manager
// they share.
type EndpointSet struct {
	dm        api.DeviceManager
	networkID string
	netNsPath string

	endpoints []Endpoint
	mu        sync.RWMutex
}

// NewEndpointSet returns an empty set for the sandbox network networkID.
func NewEndpointSet(networkID, netNsPath string, dm api.DeviceManager) *EndpointSet {
	return &EndpointSet{
		dm:        dm,
		networkID: networkID,
		netNsPath: netNsPath,
	}
}

// NetworkID returns the ID of the sandbox network.
func (s *EndpointSet) NetworkID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.networkID
}

// NetNsPath returns the network namespace the endpoints live in.
func (s *EndpointSet) NetNsPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.netNsPath
}

// DeviceManager returns the device manager shared by the endpoints.
func (s *EndpointSet) DeviceManager() api.DeviceManager {
	return s.dm
}

// Add appends endpoints to the set.
func (s *EndpointSet) Add(endpoints ...Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.endpoints = append(s.endpoints, endpoints...)
}

// Endpoints returns a copy of the endpoints in insertion order.
func (s *EndpointSet) Endpoints() []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Endpoint(nil), s.endpoints...)
}

// AttachAll attaches every endpoint concurrently. The guest may see the
// devices in any order. All attaches run to completion, the first error is
// returned.
func (s *EndpointSet) AttachAll(ctx context.Context) error {
	span, ctx := networkTrace(ctx, "AttachAll", nil)
	defer span.End()

	var g errgroup.Group
	for _, endpoint := range s.Endpoints() {
		endpoint := endpoint
		g.Go(func() error {
			if err := endpoint.Attach(ctx); err != nil {
				return vcerrors.Wrapf(err, "attach %s endpoint %s", endpoint.Type(), endpoint.Name())
			}
			return nil
		})
	}

	return g.Wait()
}

// registryHypervisor unplugs devices the device manager holds through the
// device manager, so the registry forgets them, and anything else, such as
// devices restored after a restart, through h.
type registryHypervisor struct {
	dm api.DeviceManager
	h  Hypervisor
}

func (r registryHypervisor) RemoveDevice(ctx context.Context, dev config.DeviceType) error {
	if _, ok := r.dm.FindDevice(dev.Key()); ok {
		return r.dm.RemoveDevice(ctx, dev)
	}
	return r.h.RemoveDevice(ctx, dev)
}

// DetachAll detaches every endpoint, last added first. Endpoints whose
// device is not found were never attached and are skipped, every other
// failure is collected. A nil h detaches through the device manager only.
func (s *EndpointSet) DetachAll(ctx context.Context, h Hypervisor) error {
	span, ctx := networkTrace(ctx, "DetachAll", nil)
	defer span.End()

	if h == nil {
		h = s.dm
	} else if h != Hypervisor(s.dm) {
		h = registryHypervisor{dm: s.dm, h: h}
	}

	endpoints := s.Endpoints()

	var result *multierror.Error
	for i := len(endpoints) - 1; i >= 0; i-- {
		endpoint := endpoints[i]

		err := endpoint.Detach(ctx, h)
		if err == nil {
			continue
		}
		if vcerrors.Is(err, vcerrors.ErrDeviceNotFound) {
			networkLogger().WithFields(logrus.Fields{
				"endpoint":      endpoint.Name(),
				"endpoint-type": endpoint.Type(),
			}).Debug("endpoint was not attached")
			continue
		}
		result = multierror.Append(result, vcerrors.Wrapf(err, "detach %s endpoint %s", endpoint.Type(), endpoint.Name()))
	}

	return result.ErrorOrNil()
}

// Save returns the persisted form of the set. Endpoints without state are
// left out.
func (s *EndpointSet) Save() persistapi.NetworkInfo {
	info := persistapi.NetworkInfo{
		NetworkID: s.NetworkID(),
		NetNsPath: s.NetNsPath(),
	}

	for _, endpoint := range s.Endpoints() {
		if state := endpoint.Save(); state != nil {
			info.Endpoints = append(info.Endpoints, *state)
		}
	}

	return info
}
