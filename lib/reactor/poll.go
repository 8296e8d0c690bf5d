// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package reactor

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/vfskit/vfskit/lib/cancel"
	"github.com/vfskit/vfskit/lib/sync"
)

// Poll is a Reactor built on poll(2). All callbacks run on the goroutine
// executing Serve. Registration and idle scheduling are safe from any
// goroutine; a wakeup pipe interrupts a poll in progress so changes take
// effect immediately.
type Poll struct {
	mut     sync.Mutex
	wakeR   int
	wakeW   int
	pending []registration
	idle    []func()
}

type registration struct {
	fd     int
	events Events
	c      *cancel.Cancellable
	fn     func()
}

// NewPoll returns a Poll ready for registrations. The wakeup pipe lives
// for the lifetime of the process, like the reactor itself.
func NewPoll() (*Poll, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("creating reactor wakeup pipe: %w", err)
	}
	unix.SetNonblock(p[0], true)
	unix.SetNonblock(p[1], true)
	unix.CloseOnExec(p[0])
	unix.CloseOnExec(p[1])
	return &Poll{
		mut:   sync.NewMutex(),
		wakeR: p[0],
		wakeW: p[1],
	}, nil
}

func (p *Poll) Register(fd int, events Events, c *cancel.Cancellable, fn func()) {
	p.mut.Lock()
	p.pending = append(p.pending, registration{fd: fd, events: events, c: c, fn: fn})
	p.mut.Unlock()
	p.wake()
}

func (p *Poll) ScheduleIdle(fn func()) {
	p.mut.Lock()
	p.idle = append(p.idle, fn)
	p.mut.Unlock()
	p.wake()
}

func (p *Poll) wake() {
	// Nonblocking; a full pipe already guarantees a pending wakeup.
	unix.Write(p.wakeW, []byte{1})
}

func (p *Poll) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Serve runs the loop until ctx ends. Registrations still pending at that
// point are dropped without firing.
func (p *Poll) Serve(ctx context.Context) error {
	// Poke the loop out of poll(2) when the context ends.
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			p.wake()
		case <-stopped:
		}
	}()

	defer p.dropPending()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p.runIdle()

		if err := ctx.Err(); err != nil {
			return err
		}

		p.mut.Lock()
		regs := p.pending
		p.pending = nil
		p.mut.Unlock()

		fds := make([]unix.PollFd, 1, 1+2*len(regs))
		fds[0] = unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN}
		// For registration i, fds[fdIdx[i]] is its descriptor and
		// fds[cancelIdx[i]] its cancellation descriptor (-1 when the
		// handle is nil or has no descriptor).
		fdIdx := make([]int, len(regs))
		cancelIdx := make([]int, len(regs))
		for i, reg := range regs {
			fdIdx[i] = len(fds)
			fds = append(fds, unix.PollFd{Fd: int32(reg.fd), Events: reg.events.pollEvents()})
			cancelIdx[i] = -1
			if cfd := reg.c.Fd(); cfd >= 0 {
				cancelIdx[i] = len(fds)
				fds = append(fds, unix.PollFd{Fd: int32(cfd), Events: unix.POLLIN})
			}
		}

		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				p.requeue(regs)
				continue
			}
			p.requeue(regs)
			return fmt.Errorf("reactor poll: %w", err)
		}

		if fds[0].Revents != 0 {
			p.drainWake()
		}

		// Split ready registrations from waiting ones. Error, hangup
		// and invalid-descriptor conditions count as ready: the
		// callback's own syscall surfaces the real problem.
		var fire, keep []registration
		for i, reg := range regs {
			switch {
			case fds[fdIdx[i]].Revents != 0:
				fire = append(fire, reg)
			case cancelIdx[i] >= 0 && fds[cancelIdx[i]].Revents != 0:
				fire = append(fire, reg)
			case reg.c.Canceled():
				// The handle could not materialize a descriptor;
				// its state is checked once per turn instead.
				fire = append(fire, reg)
			default:
				keep = append(keep, reg)
			}
		}
		p.requeue(keep)

		// Dispatch after deregistration, without the lock, so callbacks
		// may register anew.
		for _, reg := range fire {
			l.Debugf("Dispatching fd %d", reg.fd)
			reg.fn()
		}
	}
}

func (p *Poll) runIdle() {
	p.mut.Lock()
	fns := p.idle
	p.idle = nil
	p.mut.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *Poll) requeue(regs []registration) {
	if len(regs) == 0 {
		return
	}
	p.mut.Lock()
	p.pending = append(regs, p.pending...)
	p.mut.Unlock()
}

func (p *Poll) dropPending() {
	p.mut.Lock()
	dropped := len(p.pending)
	p.pending = nil
	p.idle = nil
	p.mut.Unlock()
	if dropped > 0 {
		l.Debugf("Dropped %d pending registrations at shutdown", dropped)
	}
}
