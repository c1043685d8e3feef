// Copyright (c) 2018 Intel Corporation
// Copyright (c) 2018 HyperHQ Inc.
//
// SPDX-License-Identifier: Apache-2.0
//

package katautils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/kata-containers/kata-containers/src/netendpoint/pkg/katautils/katatrace"
	"github.com/kata-containers/kata-containers/src/netendpoint/pkg/rootless"
	vc "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/device/config"
	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
	"github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist"
	persistapi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/api"
)

// The TOML configuration file contains a number of sections (or
// tables). Hypervisor tables are in dotted ("nested table") form:
//
//	[hypervisor.<type>]
//
// The currently supported types are listed below:
const (
	// supported hypervisor component types
	qemuHypervisorTableType = "qemu"
)

type tomlConfig struct {
	Hypervisor map[string]hypervisor
	Network    network
	Persist    persistence
	Runtime    runtime
}

type hypervisor struct {
	QMPSocket string `toml:"qmp_socket"`
}

type network struct {
	Queues             uint32 `toml:"queues"`
	QueueSize          uint32 `toml:"queue_size"`
	InterworkingModel  string `toml:"interworking_model"`
	VhostUserStorePath string `toml:"vhost_user_store_path"`
}

type persistence struct {
	Driver   string `toml:"driver"`
	RootPath string `toml:"root_path"`
}

type runtime struct {
	Debug          bool   `toml:"enable_debug"`
	Tracing        bool   `toml:"enable_tracing"`
	JaegerEndpoint string `toml:"jaeger_endpoint"`
	JaegerUser     string `toml:"jaeger_user"`
	JaegerPassword string `toml:"jaeger_password"`
}

// RuntimeConfig is the resolved configuration of the network endpoint
// layer: how endpoints are built, where the QMP socket lives and how
// endpoint state is persisted.
type RuntimeConfig struct {
	NetworkConfig vc.NetworkConfig

	QMPSocket string

	PersistDriver   string
	PersistRootPath string

	JaegerEndpoint string
	JaegerUser     string
	JaegerPassword string

	Debug bool
	Trace bool
}

func (n network) queues() uint32 {
	if n.Queues == 0 {
		return defaultQueues
	}
	return n.Queues
}

func (n network) queueSize() uint32 {
	if n.QueueSize == 0 {
		return defaultQueueSize
	}
	return n.QueueSize
}

func (n network) vhostUserStorePath() string {
	if n.VhostUserStorePath == "" {
		return rootless.StatePath(defaultVhostUserStorePath)
	}
	return n.VhostUserStorePath
}

func (p persistence) driver() string {
	if p.Driver == "" {
		return defaultPersistDriver
	}
	return p.Driver
}

func (p persistence) rootPath() string {
	if p.RootPath == "" {
		return rootless.StatePath(defaultPersistRootPath)
	}
	return p.RootPath
}

func (h hypervisor) qmpSocket() string {
	if h.QMPSocket == "" {
		return defaultQMPSocket
	}
	return h.QMPSocket
}

func initConfig() (config RuntimeConfig, err error) {
	config = RuntimeConfig{
		NetworkConfig: vc.NetworkConfig{
			VhostUserStorePath: rootless.StatePath(defaultVhostUserStorePath),
			Queues:             defaultQueues,
			QueueSize:          defaultQueueSize,
		},
		QMPSocket:       defaultQMPSocket,
		PersistDriver:   defaultPersistDriver,
		PersistRootPath: rootless.StatePath(defaultPersistRootPath),
		Debug:           defaultEnableDebug,
		Trace:           defaultEnableTracing,
	}

	if err = config.NetworkConfig.InterworkingModel.SetModel(defaultInterNetworkingModel); err != nil {
		return RuntimeConfig{}, err
	}

	return config, nil
}

func updateRuntimeConfigHypervisor(tomlConf tomlConfig, config *RuntimeConfig) error {
	for k, h := range tomlConf.Hypervisor {
		switch k {
		case qemuHypervisorTableType:
			config.QMPSocket = h.qmpSocket()
		default:
			return vcerrors.Config(nil, "%s: unsupported hypervisor", k)
		}
	}

	return nil
}

func updateRuntimeConfigNetwork(tomlConf tomlConfig, config *RuntimeConfig) error {
	n := tomlConf.Network

	if n.InterworkingModel != "" {
		if err := config.NetworkConfig.InterworkingModel.SetModel(n.InterworkingModel); err != nil {
			return vcerrors.Config(err, "invalid interworking_model")
		}
	}

	config.NetworkConfig.Queues = n.queues()
	config.NetworkConfig.QueueSize = n.queueSize()
	config.NetworkConfig.VhostUserStorePath = n.vhostUserStorePath()

	return nil
}

func updateRuntimeConfig(tomlConf tomlConfig, config *RuntimeConfig) error {
	if err := updateRuntimeConfigHypervisor(tomlConf, config); err != nil {
		return err
	}

	if err := updateRuntimeConfigNetwork(tomlConf, config); err != nil {
		return err
	}

	config.PersistDriver = tomlConf.Persist.driver()
	config.PersistRootPath = tomlConf.Persist.rootPath()

	config.Debug = tomlConf.Runtime.Debug
	config.Trace = tomlConf.Runtime.Tracing
	config.JaegerEndpoint = tomlConf.Runtime.JaegerEndpoint
	config.JaegerUser = tomlConf.Runtime.JaegerUser
	config.JaegerPassword = tomlConf.Runtime.JaegerPassword

	return nil
}

// decodeConfig parses configPath. Keys the file sets that no field
// consumes are returned so the caller can report them.
func decodeConfig(configPath string) (tomlConfig, []string, error) {
	var tomlConf tomlConfig

	configData, err := os.ReadFile(configPath)
	if err != nil {
		return tomlConf, nil, err
	}

	md, err := toml.Decode(string(configData), &tomlConf)
	if err != nil {
		return tomlConf, nil, vcerrors.Config(err, "decode %s", configPath)
	}

	var unknown []string
	for _, k := range md.Undecoded() {
		unknown = append(unknown, k.String())
	}

	return tomlConf, unknown, nil
}

// LoadConfiguration loads the configuration file and converts it into a
// runtime configuration. An empty configPath searches the default
// locations.
//
// If ignoreLogging is true, the system logger will not be initialised nor
// will this function make any log calls.
func LoadConfiguration(configPath string, ignoreLogging bool) (resolvedConfigPath string, config RuntimeConfig, err error) {
	var resolved string

	config, err = initConfig()
	if err != nil {
		return "", RuntimeConfig{}, err
	}

	if configPath == "" {
		resolved, err = getDefaultConfigFile()
	} else {
		resolved, err = ResolvePath(configPath)
	}

	if err != nil {
		return "", config, fmt.Errorf("Cannot find usable config file (%v)", err)
	}

	tomlConf, unknown, err := decodeConfig(resolved)
	if err != nil {
		return "", config, err
	}

	if !tomlConf.Runtime.Debug {
		// If debug is not required, switch back to the original
		// default log priority, otherwise continue in debug mode.
		kataUtilsLogger.Logger.Level = originalLoggerLevel
	}

	if !ignoreLogging {
		if err := handleSystemLog("", ""); err != nil {
			return "", config, err
		}

		kataUtilsLogger.WithFields(
			logrus.Fields{
				"format": "TOML",
				"file":   resolved,
			}).Info("loaded configuration")

		if len(unknown) > 0 {
			kataUtilsLogger.WithField("keys", strings.Join(unknown, ",")).Warn("ignoring unknown configuration keys")
		}
	}

	if err := updateRuntimeConfig(tomlConf, &config); err != nil {
		return "", config, err
	}

	if err := checkConfig(config); err != nil {
		return "", config, err
	}

	katatrace.SetTracing(config.Trace)

	return resolved, config, nil
}

// checkConfig checks the validity of the specified config.
func checkConfig(config RuntimeConfig) error {
	if err := checkNetworkConfig(config.NetworkConfig); err != nil {
		return err
	}

	if !persist.SupportedDriver(config.PersistDriver) {
		return vcerrors.Config(nil, "unsupported persist driver %q", config.PersistDriver)
	}

	if config.PersistRootPath == "" {
		return vcerrors.Config(nil, "persist root_path must be specified")
	}

	return nil
}

// checkNetworkConfig checks the queue settings are ones virtio-net can
// honour.
func checkNetworkConfig(netConfig vc.NetworkConfig) error {
	if !netConfig.InterworkingModel.IsValid() {
		return vcerrors.Config(nil, "invalid interworking model %d", netConfig.InterworkingModel)
	}

	size := netConfig.QueueSize
	if size > config.MaxQueueSize {
		return vcerrors.Config(nil, "queue_size %d exceeds %d", size, config.MaxQueueSize)
	}

	if size&(size-1) != 0 {
		return vcerrors.Config(nil, "queue_size %d is not a power of 2", size)
	}

	return nil
}

// PersistStorage opens the configured persist driver.
func (c *RuntimeConfig) PersistStorage() (persistapi.PersistDriver, error) {
	return persist.GetDriver(c.PersistDriver, c.PersistRootPath)
}

// JaegerConfig returns the trace exporter settings.
func (c *RuntimeConfig) JaegerConfig() *katatrace.JaegerConfig {
	return &katatrace.JaegerConfig{
		JaegerEndpoint: c.JaegerEndpoint,
		JaegerUser:     c.JaegerUser,
		JaegerPassword: c.JaegerPassword,
	}
}

// SetupTracing turns tracing on or off according to the configuration and
// creates the tracer. The returned function ends the span carried by ctx,
// then flushes and stops the tracer.
func (c *RuntimeConfig) SetupTracing(ctx context.Context, name string) (func(), error) {
	katatrace.SetTracing(c.Trace)
	if _, err := katatrace.CreateTracer(name, c.JaegerConfig()); err != nil {
		return nil, err
	}
	return func() { katatrace.StopTracing(ctx) }, nil
}

// GetDefaultConfigFilePaths returns a list of paths that will be
// considered as configuration files in priority order.
func GetDefaultConfigFilePaths() []string {
	return []string{
		// normally below "/etc"
		defaultSysConfRuntimeConfiguration,

		// normally below "/usr/share"
		defaultRuntimeConfiguration,
	}
}

// getDefaultConfigFile looks in multiple default locations for a
// configuration file and returns the resolved path for the first file
// found, or an error if no config files can be found.
func getDefaultConfigFile() (string, error) {
	var errs []string

	for _, file := range GetDefaultConfigFilePaths() {
		resolved, err := ResolvePath(file)
		if err == nil {
			return resolved, nil
		}
		s := fmt.Sprintf("config file %q unresolvable: %v", file, err)
		errs = append(errs, s)
	}

	return "", errors.New(strings.Join(errs, ", "))
}

// SetConfigOptions will override some of the defaults settings.
func SetConfigOptions(runtimeConfig, sysRuntimeConfig string) {
	if runtimeConfig != "" {
		defaultRuntimeConfiguration = runtimeConfig
	}

	if sysRuntimeConfig != "" {
		defaultSysConfRuntimeConfiguration = sysRuntimeConfig
	}
}
