// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fdstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTotalOperationsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vfskit",
		Subsystem: "fdstream",
		Name:      "operations_total",
		Help:      "Total number of stream operations",
	}, []string{"operation"})
	metricTotalBytesCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vfskit",
		Subsystem: "fdstream",
		Name:      "operation_bytes_total",
		Help:      "Total number of bytes moved by stream operations",
	}, []string{"operation"})
)

func account(op string, bytes int) {
	metricTotalOperationsCount.WithLabelValues(op).Inc()
	if bytes >= 0 {
		metricTotalBytesCount.WithLabelValues(op).Add(float64(bytes))
	}
}
