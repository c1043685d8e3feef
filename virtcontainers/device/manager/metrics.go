// Copyright (c) 2020 Ant Financial
//
// SPDX-License-Identifier: Apache-2.0
//

package manager

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespaceKata = "kata"

const (
	opAdd    = "add"
	opRemove = "remove"

	resultOK    = "ok"
	resultError = "error"
)

var (
	deviceOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceKata,
		Subsystem: "netendpoint",
		Name:      "device_operations_total",
		Help:      "Hotplug operations issued by the device manager.",
	},
		[]string{"op", "kind", "result"},
	)

	registeredDevices = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespaceKata,
		Subsystem: "netendpoint",
		Name:      "devices",
		Help:      "Devices currently registered with a device manager.",
	},
		[]string{"kind"},
	)
)

// RegisterMetrics registers the device manager collectors with reg.
// Registering twice with the same registerer is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{deviceOperations, registeredDevices} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func observe(op, kind string, err error) {
	result := resultOK
	if err != nil {
		result = resultError
	}
	deviceOperations.WithLabelValues(op, kind, result).Inc()
}
