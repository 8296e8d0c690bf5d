// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fsmon

import (
	"path/filepath"
	"time"

	"github.com/syncthing/notify"
	"golang.org/x/time/rate"
)

// Notify does not block on sending to channel, so the channel must be buffered.
// The actual number is magic.
// Not meant to be changed, but must be changeable for tests
var backendBuffer = 500

// notifyBackend adapts the notify library to the WatchAdapter contract.
// The library owns the kernel watch table and coalesces duplicate watches
// on the same path; this backend only keeps the per-subscription channel
// plumbing. The watch map is guarded by the registry lock, per the
// WatchAdapter contract.
type notifyBackend struct {
	deliver     RawEventFunc
	watches     map[*Subscription]*notifyWatch
	warnLimiter *rate.Limiter
}

type notifyWatch struct {
	events chan notify.EventInfo
	stop   chan struct{}
	root   string // the symlink-resolved path actually watched
}

func newNotifyBackend() *notifyBackend {
	return &notifyBackend{
		watches: make(map[*Subscription]*notifyWatch),
		// Start failures recur on every missing-path scan; one warning
		// a minute is plenty.
		warnLimiter: rate.NewLimiter(rate.Every(time.Minute), 1),
	}
}

func (b *notifyBackend) Startup(deliver RawEventFunc) error {
	if err := probeWatchBackend(); err != nil {
		return err
	}
	b.deliver = deliver
	return nil
}

func (b *notifyBackend) StartWatching(sub *Subscription) bool {
	// notify resolves symlinks internally and reports events under the
	// resolved path; resolve here too so entry names can be split off
	// against the right root.
	root, err := filepath.EvalSymlinks(sub.dir)
	if err != nil {
		b.logStartFailure(sub, err)
		return false
	}

	events := make(chan notify.EventInfo, backendBuffer)
	if err := notify.Watch(root, events, watchEvents); err != nil {
		notify.Stop(events)
		b.logStartFailure(sub, err)
		return false
	}

	w := &notifyWatch{
		events: events,
		stop:   make(chan struct{}),
		root:   root,
	}
	b.watches[sub] = w
	go b.watchLoop(sub, w)
	l.Debugf("Watching %s for %v", root, sub)
	return true
}

func (b *notifyBackend) logStartFailure(sub *Subscription, err error) {
	metricTotalWatchFailuresCount.Inc()
	if reachedMaxUserWatches(err) {
		if b.warnLimiter.Allow() {
			l.Warnln("Exhausted kernel watch resources, falling back to periodic rechecks; consider raising the inotify limits:", err)
		}
		return
	}
	l.Debugf("Cannot watch for %v yet: %v", sub, err)
}

func (b *notifyBackend) StopWatching(sub *Subscription) {
	w, ok := b.watches[sub]
	if !ok {
		return
	}
	delete(b.watches, sub)
	b.stopWatch(w)
}

func (b *notifyBackend) Shutdown() {
	for _, w := range b.watches {
		b.stopWatch(w)
	}
	b.watches = make(map[*Subscription]*notifyWatch)
}

// stopWatch tears the watch down without waiting for the delivery
// goroutine, which may right now be blocked on the registry lock our
// caller holds. An event it has already picked up is discarded by the
// registry's cancelled re-check.
func (b *notifyBackend) stopWatch(w *notifyWatch) {
	notify.Stop(w.events)
	close(w.stop)
}

func (b *notifyBackend) watchLoop(sub *Subscription, w *notifyWatch) {
	for {
		// Detect channel overflow
		if len(w.events) == backendBuffer {
		outer:
			for {
				select {
				case <-w.events:
				default:
					break outer
				}
			}
			// Events were lost. Report that the way the kernel reports
			// its own queue overflowing; the translator ignores it, but
			// it shows up in the raw event counts.
			l.Debugln("Watch: event overflow on", w.root)
			b.deliver(RawEvent{Mask: MaskQOverflow}, sub)
		}

		select {
		case ev := <-w.events:
			raw := rawEventFor(ev, w.root)
			if sub.filename != "" && raw.Name != "" && raw.Name != sub.filename {
				// An entry-filtered subscription only cares about its
				// own entry; events on the directory itself still pass.
				continue
			}
			l.Debugf("Watch: %v on %s", raw, w.root)
			b.deliver(raw, sub)
		case <-w.stop:
			return
		}
	}
}
