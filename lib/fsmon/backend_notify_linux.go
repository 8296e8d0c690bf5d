// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build linux

package fsmon

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/syncthing/notify"
	"golang.org/x/sys/unix"
)

// watchEvents is what we ask the kernel for: everything the translator
// maps to a domain event, at native granularity. No need to wake up for
// accesses, opens and closes that map to nothing anyway.
const watchEvents = notify.InModify | notify.InAttrib | notify.InMovedFrom |
	notify.InMovedTo | notify.InCreate | notify.InDelete |
	notify.InDeleteSelf | notify.InMoveSelf

// probeWatchBackend verifies that inotify is available at all, so that a
// kernel without it fails startup once instead of failing every watch.
func probeWatchBackend() error {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return fmt.Errorf("inotify unavailable: %w", err)
	}
	unix.Close(fd)
	return nil
}

// rawEventFor recovers the native inotify mask from a notify event. The
// entry name is split off against the watched root; events on the root
// itself (delete-self, move-self, attribute changes) carry no name.
func rawEventFor(ev notify.EventInfo, root string) RawEvent {
	var raw RawEvent
	if sys, ok := ev.Sys().(*unix.InotifyEvent); ok {
		raw.Mask = Mask(sys.Mask)
	}
	if p := ev.Path(); p != root {
		raw.Name = filepath.Base(p)
	}
	return raw
}

func reachedMaxUserWatches(err error) bool {
	// EMFILE when out of inotify instances, ENOSPC when out of watches.
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENOSPC)
}
