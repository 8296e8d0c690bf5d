// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build !linux

package fsmon

import (
	"path/filepath"

	"github.com/syncthing/notify"
)

// Without inotify the event vocabulary is reduced to the portable four:
// attribute changes and unmounts are not distinguishable.
const watchEvents = notify.All

func probeWatchBackend() error {
	return nil
}

// rawEventFor translates a portable notify event into the local mask
// vocabulary. The entry name is split off against the watched root.
func rawEventFor(ev notify.EventInfo, root string) RawEvent {
	var raw RawEvent
	switch {
	case ev.Event()&notify.Create != 0:
		raw.Mask = MaskCreate
	case ev.Event()&notify.Remove != 0:
		raw.Mask = MaskDelete
	case ev.Event()&notify.Rename != 0:
		// A rename is observed as the entry going away.
		raw.Mask = MaskMovedFrom
	case ev.Event()&notify.Write != 0:
		raw.Mask = MaskModify
	}
	if p := ev.Path(); p != root {
		raw.Name = filepath.Base(p)
	}
	return raw
}

func reachedMaxUserWatches(_ error) bool {
	return false
}
