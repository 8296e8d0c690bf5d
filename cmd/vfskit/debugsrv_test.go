// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/d4l3k/messagediff"
	"github.com/thejerf/suture/v4"

	"github.com/vfskit/vfskit/lib/build"
	"github.com/vfskit/vfskit/lib/fsmon"
	"github.com/vfskit/vfskit/lib/svcutil"
)

// stubBackend accepts every watch without talking to the kernel.
type stubBackend struct{}

func (*stubBackend) Startup(fsmon.RawEventFunc) error       { return nil }
func (*stubBackend) StartWatching(*fsmon.Subscription) bool { return true }
func (*stubBackend) StopWatching(*fsmon.Subscription)       {}
func (*stubBackend) Shutdown()                              {}

func TestDebugVersion(t *testing.T) {
	rec := httptest.NewRecorder()
	getVersion(rec, nil)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type is %q", ct)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if resp["version"] != build.Version {
		t.Errorf("version is %v, expected %v", resp["version"], build.Version)
	}
	if resp["longVersion"] != build.LongVersion {
		t.Errorf("longVersion is %v, expected %v", resp["longVersion"], build.LongVersion)
	}
	for _, key := range []string{"codename", "os", "arch", "isBeta", "isCandidate", "isRelease", "date", "tags", "stamp", "user"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("Response lacks the %q field", key)
		}
	}
}

func TestDebugSubscriptions(t *testing.T) {
	registry := fsmon.New(&stubBackend{})
	printer, err := newEventPrinter(nil)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := registry.Subscribe("/watched/dir", "", fsmon.DirectoryTarget(printer))
	if err != nil {
		t.Fatal(err)
	}
	defer registry.Unsubscribe(sub)

	srv := newDebugService("127.0.0.1:0", registry)
	rec := httptest.NewRecorder()
	srv.getSubscriptions(rec, nil)

	var infos []fsmon.SubscriptionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	want := []fsmon.SubscriptionInfo{
		{Path: "/watched/dir", Target: "directory", State: "live"},
	}
	if diff, equal := messagediff.PrettyDiff(want, infos); !equal {
		t.Errorf("unexpected subscription dump:\n%s", diff)
	}
}

func TestDebugServiceFatalOnBadListen(t *testing.T) {
	srv := newDebugService("127.0.0.1:-1", nil)

	err := srv.Serve(context.Background())
	if err == nil {
		t.Fatal("Expected an error for an unusable listen address")
	}
	var fatalErr *svcutil.FatalErr
	if !errors.As(err, &fatalErr) {
		t.Fatalf("Expected a fatal error, got %v", err)
	}
	if fatalErr.Status != svcutil.ExitError {
		t.Errorf("Status is %d, expected %d", fatalErr.Status.AsInt(), svcutil.ExitError.AsInt())
	}
	if !errors.Is(err, suture.ErrTerminateSupervisorTree) {
		t.Error("A fatal listen error must take down the supervisor tree")
	}
	if got := srv.Error(); !errors.Is(got, suture.ErrTerminateSupervisorTree) {
		t.Errorf("Error() returned %v, expected the fatal error", got)
	}
}
