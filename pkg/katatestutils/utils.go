// Copyright (c) 2018-2019 Intel Corporation
// Copyright (c) 2018 HyperHQ Inc.
//
// SPDX-License-Identifier: Apache-2.0
//

package katatestutils

import "strconv"

// RuntimeConfigOptions holds the values written into a test
// configuration.toml by MakeRuntimeConfigFileData.
type RuntimeConfigOptions struct {
	Hypervisor         string
	QMPSocket          string
	InterworkingModel  string
	VhostUserStorePath string
	PersistDriver      string
	PersistRootPath    string
	JaegerEndpoint     string
	JaegerUser         string
	JaegerPassword     string
	Queues             uint32
	QueueSize          uint32
	RuntimeDebug       bool
	RuntimeTrace       bool
}

func MakeRuntimeConfigFileData(config RuntimeConfigOptions) string {
	return `
	# Runtime configuration file

	[hypervisor.` + config.Hypervisor + `]
	qmp_socket = "` + config.QMPSocket + `"

	[network]
	queues = ` + strconv.FormatUint(uint64(config.Queues), 10) + `
	queue_size = ` + strconv.FormatUint(uint64(config.QueueSize), 10) + `
	interworking_model = "` + config.InterworkingModel + `"
	vhost_user_store_path = "` + config.VhostUserStorePath + `"

	[persist]
	driver = "` + config.PersistDriver + `"
	root_path = "` + config.PersistRootPath + `"

	[runtime]
	enable_debug = ` + strconv.FormatBool(config.RuntimeDebug) + `
	enable_tracing = ` + strconv.FormatBool(config.RuntimeTrace) + `
	jaeger_endpoint = "` + config.JaegerEndpoint + `"
	jaeger_user = "` + config.JaegerUser + `"
	jaeger_password = "` + config.JaegerPassword + `"`
}
