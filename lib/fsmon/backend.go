// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fsmon

// A RawEventFunc receives raw kernel events from a watch backend. It is
// called from the backend's own goroutines and serializes itself on the
// registry lock.
type RawEventFunc func(ev RawEvent, sub *Subscription)

// A WatchAdapter starts and stops kernel watches for subscriptions. It
// owns the watch table and whatever coalescing of duplicate watches the
// underlying mechanism needs; the registry only sees per-subscription
// start/stop.
//
// Startup, StartWatching, StopWatching and Shutdown are all invoked with
// the registry lock held, so implementations need no locking of their own
// around the watch table. They must not block on in-flight event delivery:
// delivery re-enters the registry through the RawEventFunc, which takes
// the same lock.
type WatchAdapter interface {
	// Startup initializes the backend and fixes the delivery callback.
	// Called exactly once; a failure is fatal for the whole subsystem.
	Startup(deliver RawEventFunc) error

	// StartWatching attempts to start a live kernel watch for the
	// subscription's directory. False means the path cannot be watched
	// right now (it does not exist, or watch resources are exhausted)
	// and the caller should fall back to missing-path tracking.
	StartWatching(sub *Subscription) bool

	// StopWatching removes the subscription's watch, if one is live.
	// Events already picked up by the backend may still be handed to the
	// RawEventFunc afterwards; the registry discards them based on the
	// subscription's cancelled flag.
	StopWatching(sub *Subscription)

	// Shutdown stops all remaining watches.
	Shutdown()
}
