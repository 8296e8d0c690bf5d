// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package reactor schedules callbacks on file descriptor readiness and on
// idle turns of a single-threaded event loop.
package reactor

import (
	"golang.org/x/sys/unix"

	"github.com/vfskit/vfskit/lib/cancel"
)

// Events is the readiness mask for a descriptor registration.
type Events int16

const (
	Readable Events = 1 << iota
	Writable
)

func (e Events) pollEvents() int16 {
	var pe int16
	if e&Readable != 0 {
		pe |= unix.POLLIN
	}
	if e&Writable != 0 {
		pe |= unix.POLLOUT
	}
	return pe
}

// A Reactor runs callbacks on its own goroutine, one at a time.
//
// Register is single-shot: fn runs at most once, after the registration
// has already been dropped, when the descriptor becomes ready for the
// given events, when the cancellation handle fires, or when readiness
// reporting degenerates (error or hangup on the descriptor count as
// ready). There is no way to re-arm from inside fn other than calling
// Register again.
//
// ScheduleIdle runs fn once on the next turn of the loop, in submission
// order.
type Reactor interface {
	Register(fd int, events Events, c *cancel.Cancellable, fn func())
	ScheduleIdle(fn func())
}
