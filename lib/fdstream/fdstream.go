// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package fdstream implements a cancellable byte stream over a raw file
// descriptor, with blocking reads and closes plus reactor-driven
// asynchronous variants of both.
package fdstream

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/vfskit/vfskit/lib/async"
	"github.com/vfskit/vfskit/lib/cancel"
	"github.com/vfskit/vfskit/lib/reactor"
)

// ErrUnimplemented is returned by the skip operations. Callers that need
// to discard bytes should read into a scratch buffer instead.
var ErrUnimplemented = errors.New("skip is not implemented")

var (
	readOp  = async.NewOp("fdstream.ReadAsync")
	closeOp = async.NewOp("fdstream.CloseAsync")
	skipOp  = async.NewOp("fdstream.SkipAsync")
)

// A Stream owns one open descriptor, for example a connected socket or a
// pipe end. It is not internally synchronized: at most one read and one
// close may be outstanding at a time, and exclusive ownership of the
// descriptor is the caller's responsibility. After a successful Close no
// further operations may be issued.
type Stream struct {
	fd             int
	closeFdOnClose bool
	reactor        reactor.Reactor
}

// New wraps an already-open descriptor. When closeFdOnClose is false the
// close operations never touch the descriptor. The reactor may be nil if
// only the blocking operations are used.
func New(fd int, closeFdOnClose bool, r reactor.Reactor) *Stream {
	return &Stream{
		fd:             fd,
		closeFdOnClose: closeFdOnClose,
		reactor:        r,
	}
}

func (s *Stream) Fd() int {
	return s.fd
}

// Read blocks until up to len(buf) bytes are available, c fires, or the
// stream fails. It returns the byte count, 0 at end of stream, or
// cancel.ErrCanceled if c fired first. When c carries a waitable
// descriptor the wait multiplexes it with the stream so a cancellation
// wakes the call even if no data ever arrives; a read syscall already in
// progress still runs to completion.
func (s *Stream) Read(buf []byte, c *cancel.Cancellable) (int, error) {
	if cfd := c.Fd(); cfd >= 0 {
		fds := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLIN},
			{Fd: int32(cfd), Events: unix.POLLIN},
		}
		for {
			_, err := unix.Poll(fds, -1)
			if err == nil {
				break
			}
			if err != unix.EINTR {
				return 0, fmt.Errorf("reading from stream: %w", err)
			}
		}
	}
	return s.readOnce(buf, c)
}

// readOnce performs the cancellation-check-then-read sequence, retrying
// only on EINTR. Both the blocking path (after its wait phase) and the
// reactor callback (which enters with readiness confirmed) funnel through
// here.
func (s *Stream) readOnce(buf []byte, c *cancel.Cancellable) (int, error) {
	for {
		if err := c.Err(); err != nil {
			return 0, err
		}
		n, err := unix.Read(s.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("reading from stream: %w", err)
		}
		account("read", n)
		return n, nil
	}
}

// Close closes the descriptor, or does nothing at all if the stream does
// not own it. Close may block; there is no way to avoid that here.
func (s *Stream) Close() error {
	if !s.closeFdOnClose {
		return nil
	}
	account("close", -1)
	if err := unix.Close(s.fd); err != nil {
		return fmt.Errorf("closing stream: %w", err)
	}
	return nil
}

// ReadAsync starts an asynchronous read. The completion callback runs on
// the reactor goroutine once the descriptor is readable or c has fired;
// pass its result to ReadFinish. The buffer must stay untouched until
// then.
func (s *Stream) ReadAsync(buf []byte, c *cancel.Cancellable, cb func(*async.Result)) {
	s.reactor.Register(s.fd, reactor.Readable, c, func() {
		// Readiness or cancellation is established by now, so the read
		// will not block.
		res := async.NewResult(readOp)
		n, err := s.readOnce(buf, c)
		if err != nil {
			res.SetError(err)
		} else {
			res.SetSize(n)
		}
		// Complete immediately: we are already inside a reactor callout,
		// deferring to a later turn would only add latency.
		res.Complete(cb)
	})
}

// ReadFinish extracts the outcome of the ReadAsync invocation that
// produced res. It performs no I/O.
func (s *Stream) ReadFinish(res *async.Result) (int, error) {
	res.MustMatch(readOp)
	return res.Size(), res.Err()
}

// CloseAsync schedules the close on the next idle turn of the loop; close
// is not gated on descriptor readiness, so there is nothing to wait for.
// The cancellation handle is accepted for call-shape symmetry with
// ReadAsync but does not stop the close.
func (s *Stream) CloseAsync(c *cancel.Cancellable, cb func(*async.Result)) {
	s.reactor.ScheduleIdle(func() {
		res := async.NewResult(closeOp)
		if err := s.Close(); err != nil {
			res.SetError(err)
		}
		res.Complete(cb)
	})
}

// CloseFinish extracts the real outcome of the CloseAsync invocation that
// produced res.
func (s *Stream) CloseFinish(res *async.Result) error {
	res.MustMatch(closeOp)
	return res.Err()
}

// SkipAsync is not implemented; the result completes on the next idle
// turn carrying ErrUnimplemented.
func (s *Stream) SkipAsync(count int, c *cancel.Cancellable, cb func(*async.Result)) {
	s.reactor.ScheduleIdle(func() {
		res := async.NewResult(skipOp)
		res.SetError(ErrUnimplemented)
		res.Complete(cb)
	})
}

func (s *Stream) SkipFinish(res *async.Result) (int, error) {
	res.MustMatch(skipOp)
	return res.Size(), res.Err()
}

// Reader adapts the blocking read path to io.Reader, translating the
// zero-count end of stream into io.EOF. The same outstanding-operation
// rules apply.
func (s *Stream) Reader(c *cancel.Cancellable) io.Reader {
	return &streamReader{s: s, c: c}
}

type streamReader struct {
	s *Stream
	c *cancel.Cancellable
}

func (r *streamReader) Read(p []byte) (int, error) {
	n, err := r.s.Read(p, r.c)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}
