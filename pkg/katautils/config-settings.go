// Copyright (c) 2018 Intel Corporation
// Copyright (c) 2018 HyperHQ Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Note that some variables are "var" to allow them to be modified
// by the tests.

package katautils

import (
	vc "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist"
)

var defaultQMPSocket = "/run/vc/vm/qmp.sock"
var defaultPersistRootPath = "/run/vc/sbs"
var defaultVhostUserStorePath = vc.DefaultVhostUserStorePath

const defaultInterNetworkingModel = "tcfilter"
const defaultEnableDebug bool = false
const defaultEnableTracing bool = false

var defaultQueues = config.DefaultQueueNum
var defaultQueueSize = config.DefaultQueueSize
var defaultPersistDriver = persist.DefaultDriver

// Default config file used by stateless systems.
var defaultRuntimeConfiguration = "/usr/share/defaults/kata-containers/configuration.toml"

// Alternate config file that takes precedence over
// defaultRuntimeConfiguration.
var defaultSysConfRuntimeConfiguration = "/etc/kata-containers/configuration.toml"
