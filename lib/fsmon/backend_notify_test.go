// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build linux

package fsmon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const eventTimeout = 5 * time.Second

type chanFileMonitor struct {
	events chan recordedEvent
}

func (m *chanFileMonitor) EmitFileEvent(changed, other Entity, kind EventKind) {
	m.events <- recordedEvent{changed, other, kind}
}

// tempDir returns a fresh test directory with symlinks resolved, so that
// entities built from it match what the backend reports.
func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func startRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewDefault()
	if err := r.Startup(); err != nil {
		t.Fatal(err)
	}
	return r
}

func expectEvent(t *testing.T, events <-chan recordedEvent, changed Entity, kind EventKind) {
	t.Helper()
	select {
	case ev := <-events:
		if ev.Changed != changed || ev.Kind != kind {
			t.Fatalf("got %v for %v, expected %v for %v", ev.Kind, ev.Changed, kind, changed)
		}
	case <-time.After(eventTimeout):
		t.Fatalf("timed out waiting for %v for %v", kind, changed)
	}
}

func TestNotifyBackendDeliversEvents(t *testing.T) {
	dir := tempDir(t)

	r := startRegistry(t)
	mon := &chanDirMonitor{events: make(chan recordedEvent, 16)}
	sub, err := r.Subscribe(dir, "", DirectoryTarget(mon))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe(sub)
	if !sub.live {
		t.Fatal("expected a live watch on an existing directory")
	}

	name := filepath.Join(dir, "created.txt")
	if err := os.WriteFile(name, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, mon.events, Entity(name), KindCreated)
	expectEvent(t, mon.events, Entity(name), KindChanged)

	if err := os.Remove(name); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, mon.events, Entity(name), KindDeleted)
}

func TestNotifyBackendEntryFilter(t *testing.T) {
	dir := tempDir(t)

	r := startRegistry(t)
	mon := &chanFileMonitor{events: make(chan recordedEvent, 16)}
	sub, err := r.Subscribe(dir, "wanted.txt", FileTarget(mon))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe(sub)

	// A sibling entry first; if the filter leaked it, it would arrive
	// ahead of the event we wait for below.
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	wanted := filepath.Join(dir, "wanted.txt")
	if err := os.WriteFile(wanted, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	expectEvent(t, mon.events, Entity(wanted), KindCreated)
}

func TestNotifyBackendMissingPath(t *testing.T) {
	parent := tempDir(t)
	watched := filepath.Join(parent, "appears")

	r := startRegistry(t)
	mon := &chanDirMonitor{events: make(chan recordedEvent, 16)}
	sub, err := r.Subscribe(watched, "", DirectoryTarget(mon))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Unsubscribe(sub)
	if sub.live {
		t.Fatal("expected a missing subscription for an absent directory")
	}

	if err := os.Mkdir(watched, 0o755); err != nil {
		t.Fatal(err)
	}
	r.ScanMissing()

	// Exactly one synthesized creation for the directory itself...
	expectEvent(t, mon.events, Entity(watched+"/"), KindCreated)

	// ...and the watch is live from here: kernel events flow. A second
	// creation for the directory would show up here instead and fail.
	name := filepath.Join(watched, "file.txt")
	if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, mon.events, Entity(name), KindCreated)
}

func TestNotifyBackendStopWatching(t *testing.T) {
	dir := tempDir(t)

	r := startRegistry(t)
	mon := &chanDirMonitor{events: make(chan recordedEvent, 16)}
	sub, err := r.Subscribe(dir, "", DirectoryTarget(mon))
	if err != nil {
		t.Fatal(err)
	}

	r.Unsubscribe(sub)

	if err := os.WriteFile(filepath.Join(dir, "late.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-mon.events:
		t.Fatalf("event %v delivered after unsubscribe", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
