// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fsmon

// A FileMonitor receives normalized change events for a single directory
// entry. The other entity is reserved for event kinds that concern a pair
// of files and is currently always empty.
//
// Emission happens with the registry lock held: implementations must not
// call back into Subscribe or Unsubscribe, or the process deadlocks.
type FileMonitor interface {
	EmitFileEvent(changed, other Entity, kind EventKind)
}

// A DirectoryMonitor receives normalized change events for the entries of
// a watched directory and for the directory itself. The same locking
// caveat as for FileMonitor applies.
type DirectoryMonitor interface {
	EmitDirectoryEvent(changed, other Entity, kind EventKind)
}

// A Target carries exactly one of the two monitor capabilities and selects
// the emission entry point at dispatch. The zero Target is invalid;
// dispatching to it is a programming error.
type Target struct {
	file FileMonitor
	dir  DirectoryMonitor
}

func FileTarget(m FileMonitor) Target {
	return Target{file: m}
}

func DirectoryTarget(m DirectoryMonitor) Target {
	return Target{dir: m}
}

func (t Target) emit(changed, other Entity, kind EventKind) {
	switch {
	case t.dir != nil:
		t.dir.EmitDirectoryEvent(changed, other, kind)
	case t.file != nil:
		t.file.EmitFileEvent(changed, other, kind)
	default:
		panic("bug: subscription target carries no monitor")
	}
}

func (t Target) kind() string {
	switch {
	case t.dir != nil:
		return "directory"
	case t.file != nil:
		return "file"
	default:
		return "none"
	}
}
