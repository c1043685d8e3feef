// Copyright (c) 2019 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package persist

import (
	"fmt"

	persistapi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/api"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/bolt"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/fs"
)

type initFunc (func(rootPath string) (persistapi.PersistDriver, error))

var (
	// DefaultDriver is the driver used when none is configured
	DefaultDriver = fs.Name()

	supportedDrivers = map[string]initFunc{
		fs.Name():   fs.Init,
		bolt.Name(): bolt.Init,
	}
)

// GetDriver returns new PersistDriver according to driver name, storing
// under rootPath. An empty name selects DefaultDriver.
func GetDriver(name, rootPath string) (persistapi.PersistDriver, error) {
	if name == "" {
		name = DefaultDriver
	}

	if f, ok := supportedDrivers[name]; ok {
		return f(rootPath)
	}

	return nil, fmt.Errorf("failed to get storage driver %q", name)
}

// SupportedDriver reports whether name is a known persist driver.
func SupportedDriver(name string) bool {
	_, ok := supportedDrivers[name]
	return ok
}
