// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package fsmon converts kernel filesystem-change notifications into a
// small set of normalized domain events, delivered to subscriptions under
// a single shared lock.
//
// The Registry owns that lock. Subscription membership changes, raw event
// processing and missing-path scans all acquire it, so they are totally
// ordered with respect to each other; in particular no event is delivered
// to a subscription once Unsubscribe for it has returned. The lock is held
// across emission to the monitor targets, which therefore must not call
// back into the registry.
package fsmon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vfskit/vfskit/lib/svcutil"
	"github.com/vfskit/vfskit/lib/sync"
)

// How often subscriptions whose path was unavailable are retried.
// Not meant to be changed, but must be changeable for tests
var scanInterval = 4 * time.Second

var errStopped = errors.New("monitoring has been shut down")

// A Registry holds the active subscriptions and bridges between the watch
// backend and the monitor targets. Its Serve loop retries watches for
// paths that did not exist at subscription time.
type Registry struct {
	mut     sync.Mutex // the global lock; everything below is guarded by it
	backend WatchAdapter

	started    bool
	startupErr error
	stopped    bool

	subs    map[*Subscription]struct{}
	missing []*Subscription
}

// New returns a Registry dispatching through the given watch backend.
func New(backend WatchAdapter) *Registry {
	return &Registry{
		mut:     sync.NewMutex(),
		backend: backend,
		subs:    make(map[*Subscription]struct{}),
	}
}

// NewDefault returns a Registry on the platform's notify backend.
func NewDefault() *Registry {
	return New(newNotifyBackend())
}

// Startup initializes the watch backend and the diagnostics hook, exactly
// once. The outcome is latched: every later call returns the same result
// without touching the backend again, so a failure is reported once. A
// failed startup leaves the subsystem permanently inoperative; no event
// delivery is possible.
func (r *Registry) Startup() error {
	r.mut.Lock()
	defer r.mut.Unlock()
	return r.startupLocked()
}

func (r *Registry) startupLocked() error {
	if r.started {
		return r.startupErr
	}
	r.started = true
	if err := r.backend.Startup(r.processRawEvent); err != nil {
		r.startupErr = fmt.Errorf("initializing watch backend: %w", err)
		l.Warnln("Filesystem monitoring is unavailable:", err)
		return r.startupErr
	}
	registerDiagnostics(r)
	l.Debugln("Started filesystem monitoring")
	return nil
}

// Subscribe registers interest in changes under dir, narrowed to the
// single entry filename when that is non-empty. If the path cannot be
// watched yet (it does not exist, or watch resources are exhausted) the
// subscription is tracked as missing and retried by the Serve loop; both
// outcomes are equally successful from the caller's point of view. The
// returned handle is given back to Unsubscribe.
func (r *Registry) Subscribe(dir, filename string, target Target) (*Subscription, error) {
	if target.file == nil && target.dir == nil {
		panic("bug: Subscribe with an empty target")
	}

	r.mut.Lock()
	defer r.mut.Unlock()

	if err := r.startupLocked(); err != nil {
		return nil, err
	}
	if r.stopped {
		return nil, errStopped
	}

	sub := &Subscription{
		dir:      filepath.Clean(dir),
		filename: filename,
		target:   target,
	}
	r.subs[sub] = struct{}{}
	if r.backend.StartWatching(sub) {
		sub.live = true
		l.Debugln("Added live", sub)
	} else {
		r.missing = append(r.missing, sub)
		l.Debugln("Added missing", sub)
	}
	r.updateGaugesLocked()
	return sub, nil
}

// Unsubscribe cancels the subscription and removes it everywhere. It is
// idempotent, and safe against in-flight delivery: the cancelled flag is
// flipped before the watch is stopped, and the event path re-checks the
// flag under the same lock, so no event reaches the target once
// Unsubscribe has returned.
func (r *Registry) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mut.Lock()
	defer r.mut.Unlock()
	if sub.cancelled {
		return
	}
	l.Debugln("Cancelling", sub)
	sub.cancelled = true
	r.missingRemoveLocked(sub)
	r.backend.StopWatching(sub)
	sub.live = false
	delete(r.subs, sub)
	r.updateGaugesLocked()
}

// Serve runs the missing-path scan until ctx ends, then shuts the backend
// down. It implements suture.Service.
func (r *Registry) Serve(ctx context.Context) error {
	if err := r.Startup(); err != nil {
		return svcutil.NoRestartErr(err)
	}

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.ScanMissing()
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		}
	}
}

func (r *Registry) shutdown() {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.stopped = true
	r.backend.Shutdown()
	l.Debugln("Stopped filesystem monitoring")
}

// ScanMissing retries the kernel watch for every subscription whose path
// was unavailable. A subscription whose path has appeared transitions to
// live and receives a single synthesized creation event. Transition and
// emission happen under one lock hold and kernel events from the fresh
// watch are serialized after it, so a single real-world creation never
// yields two Created emissions.
func (r *Registry) ScanMissing() {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.scanMissingLocked()
}

func (r *Registry) scanMissingLocked() {
	if len(r.missing) == 0 || r.stopped {
		return
	}
	metricTotalMissingScansCount.Inc()
	var still []*Subscription
	for _, sub := range r.missing {
		if !r.backend.StartWatching(sub) {
			still = append(still, sub)
			continue
		}
		sub.live = true
		l.Debugln("Path appeared for", sub)
		r.resolveMissingLocked(sub)
	}
	r.missing = still
	r.updateGaugesLocked()
}

// resolveMissingLocked synthesizes the creation event for a subscription
// whose path has appeared. For an entry-filtered subscription the entry
// is checked first: the directory may have appeared without it, or it may
// be gone again already, and such a stale resolution is discarded
// silently. Without a filter the directory itself came into being, so the
// synthesized event carries the directory flag.
func (r *Registry) resolveMissingLocked(sub *Subscription) {
	ev := RawEvent{Mask: MaskCreate | MaskIsDir}
	if sub.filename != "" {
		if _, err := os.Lstat(filepath.Join(sub.dir, sub.filename)); err != nil {
			l.Debugf("Discarding stale resolution for %v: %v", sub, err)
			return
		}
		ev = RawEvent{Mask: MaskCreate, Name: sub.filename}
	}
	r.dispatchLocked(ev, sub)
}

// processRawEvent is the RawEventFunc handed to the backend.
func (r *Registry) processRawEvent(ev RawEvent, sub *Subscription) {
	r.mut.Lock()
	defer r.mut.Unlock()
	metricTotalRawEventsCount.Inc()
	if r.stopped || sub.cancelled {
		l.Debugf("Dropping %v for cancelled %v", ev, sub)
		return
	}
	r.dispatchLocked(ev, sub)
}

// dispatchLocked translates one raw event and emits it to the
// subscription's target. The lock stays held across the emission; see the
// package comment for the re-entrancy consequences.
func (r *Registry) dispatchLocked(ev RawEvent, sub *Subscription) {
	kind := kindOf(ev.Mask)
	if kind == KindNone {
		l.Debugf("No domain event for %v on %v", ev, sub)
		return
	}
	changed := entityFor(sub.dir, ev.Name)
	l.Debugf("Emitting %v for %v to %s monitor", kind, changed, sub.target.kind())
	metricTotalEventsCount.WithLabelValues(kind.String()).Inc()
	sub.target.emit(changed, "", kind)
}

// Snapshot returns a point-in-time listing of all subscriptions, sorted
// by path, for diagnostics.
func (r *Registry) Snapshot() []SubscriptionInfo {
	r.mut.Lock()
	defer r.mut.Unlock()
	infos := make([]SubscriptionInfo, 0, len(r.subs))
	for sub := range r.subs {
		state := "missing"
		if sub.live {
			state = "live"
		}
		infos = append(infos, SubscriptionInfo{
			Path:     sub.dir,
			Filename: sub.filename,
			Target:   sub.target.kind(),
			State:    state,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Path != infos[j].Path {
			return infos[i].Path < infos[j].Path
		}
		return infos[i].Filename < infos[j].Filename
	})
	return infos
}

func (r *Registry) missingRemoveLocked(sub *Subscription) {
	for i, cand := range r.missing {
		if cand == sub {
			r.missing = append(r.missing[:i], r.missing[i+1:]...)
			return
		}
	}
}

func (r *Registry) updateGaugesLocked() {
	live, missing := 0, 0
	for sub := range r.subs {
		if sub.live {
			live++
		} else {
			missing++
		}
	}
	metricCurrentSubscriptionsCount.WithLabelValues("live").Set(float64(live))
	metricCurrentSubscriptionsCount.WithLabelValues("missing").Set(float64(missing))
}
