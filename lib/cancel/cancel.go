// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package cancel implements a cooperative cancellation handle with an
// optional waitable descriptor, so cancellation can be multiplexed into
// poll(2) style waits alongside ordinary file descriptors.
//
// Cancellation is cooperative: cancelling never interrupts a syscall
// already in flight, it only makes the next readiness check or wait phase
// observe the cancellation and fail fast.
package cancel

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/vfskit/vfskit/lib/sync"
)

// ErrCanceled is returned by operations that observed cancellation before
// or during their wait phase. Callers should treat the operation as if it
// never started.
var ErrCanceled = errors.New("operation canceled")

// A Cancellable is a one-way cancellation latch. A nil *Cancellable is
// valid everywhere and means "not cancellable". Must be created by New or
// WithContext.
type Cancellable struct {
	mut      sync.Mutex
	done     chan struct{}
	canceled bool
	pipe     [2]int // read, write ends; only valid while havePipe
	havePipe bool
	released bool
}

// New returns a fresh, uncancelled Cancellable.
func New() *Cancellable {
	return &Cancellable{
		mut:  sync.NewMutex(),
		done: make(chan struct{}),
		pipe: [2]int{-1, -1},
	}
}

// WithContext returns a Cancellable that fires when ctx does. The
// association is one-way: cancelling the returned handle does not affect
// the context.
func WithContext(ctx context.Context) *Cancellable {
	c := New()
	go func() {
		select {
		case <-ctx.Done():
			c.Cancel()
		case <-c.done:
		}
	}()
	return c
}

// Cancel fires the handle. Idempotent; the transition is monotonic and
// never reverts.
func (c *Cancellable) Cancel() {
	if c == nil {
		return
	}
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.canceled {
		return
	}
	c.canceled = true
	close(c.done)
	if c.havePipe {
		c.signalLocked()
	}
}

// Canceled reports whether the handle has fired.
func (c *Cancellable) Canceled() bool {
	if c == nil {
		return false
	}
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.canceled
}

// Err returns ErrCanceled once the handle has fired, nil before.
func (c *Cancellable) Err() error {
	if c.Canceled() {
		return ErrCanceled
	}
	return nil
}

// Done returns a channel that is closed when the handle fires. For a nil
// receiver it returns nil, a channel that never becomes ready.
func (c *Cancellable) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.done
}

// Fd returns a descriptor that becomes readable when the handle fires,
// materializing it on first use. It returns -1 when the receiver is nil,
// after Release, or if the descriptor cannot be created; callers then skip
// the multiplexed wait and rely on Canceled checks alone.
func (c *Cancellable) Fd() int {
	if c == nil {
		return -1
	}
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.released {
		return -1
	}
	if !c.havePipe {
		var p [2]int
		if err := unix.Pipe(p[:]); err != nil {
			return -1
		}
		unix.SetNonblock(p[0], true)
		unix.SetNonblock(p[1], true)
		unix.CloseOnExec(p[0])
		unix.CloseOnExec(p[1])
		c.pipe = p
		c.havePipe = true
		if c.canceled {
			c.signalLocked()
		}
	}
	return c.pipe[0]
}

// signalLocked makes the read end readable. The byte is never drained, so
// the descriptor stays readable from here on. Must be called with mut held
// and havePipe true.
func (c *Cancellable) signalLocked() {
	unix.Write(c.pipe[1], []byte{1})
}

// Release closes the waitable descriptor, if one was materialized. Fd
// returns -1 afterwards. Call only once no wait is using the descriptor.
func (c *Cancellable) Release() {
	if c == nil {
		return
	}
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.havePipe {
		unix.Close(c.pipe[0])
		unix.Close(c.pipe[1])
		c.pipe = [2]int{-1, -1}
		c.havePipe = false
	}
	c.released = true
}
