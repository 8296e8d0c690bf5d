// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fsmon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTotalRawEventsCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vfskit",
		Subsystem: "fsmon",
		Name:      "raw_events_total",
		Help:      "Total number of raw kernel events received",
	})
	metricTotalEventsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vfskit",
		Subsystem: "fsmon",
		Name:      "events_total",
		Help:      "Total number of domain events emitted",
	}, []string{"kind"})
	metricTotalWatchFailuresCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vfskit",
		Subsystem: "fsmon",
		Name:      "watch_start_failures_total",
		Help:      "Total number of failed attempts to start a kernel watch",
	})
	metricTotalMissingScansCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vfskit",
		Subsystem: "fsmon",
		Name:      "missing_scans_total",
		Help:      "Total number of scans over subscriptions awaiting their path",
	})
	metricCurrentSubscriptionsCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vfskit",
		Subsystem: "fsmon",
		Name:      "subscriptions",
		Help:      "Current number of subscriptions",
	}, []string{"state"})
)
