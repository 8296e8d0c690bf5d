// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fsmon

import "fmt"

// A Subscription is one caller's registered interest in changes under a
// directory, optionally narrowed to a single entry of it. It is created by
// Registry.Subscribe and stays opaque to the caller; all mutable state is
// guarded by the registry lock.
type Subscription struct {
	dir      string
	filename string // empty means the whole directory
	target   Target

	// Guarded by the registry lock. cancelled is monotonic: it flips to
	// true exactly once, and the event path re-checks it so that nothing
	// is delivered after Unsubscribe returns.
	cancelled bool
	live      bool
}

func (s *Subscription) String() string {
	if s.filename != "" {
		return fmt.Sprintf("subscription on %q (entry %q)", s.dir, s.filename)
	}
	return fmt.Sprintf("subscription on %q", s.dir)
}

// SubscriptionInfo is the diagnostics view of one subscription, as exposed
// by Registry.Snapshot and the debug endpoints.
type SubscriptionInfo struct {
	Path     string `json:"path"`
	Filename string `json:"filename,omitempty"`
	Target   string `json:"target"`
	State    string `json:"state"`
}
