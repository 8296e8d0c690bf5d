// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fdstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vfskit/vfskit/lib/async"
	"github.com/vfskit/vfskit/lib/cancel"
	"github.com/vfskit/vfskit/lib/reactor"
)

const timeout = 5 * time.Second

func startPoll(t *testing.T) *reactor.Poll {
	t.Helper()
	p, err := reactor.NewPoll()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancelCtx()
		select {
		case <-done:
		case <-time.After(timeout):
			t.Error("reactor did not stop")
		}
	})
	return p
}

// socketpair returns two connected stream sockets, closed on cleanup
// unless the test takes ownership away.
func socketpair(t *testing.T) (int, int, func(int)) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	closed := make(map[int]bool)
	t.Cleanup(func() {
		for _, fd := range fds {
			if !closed[fd] {
				unix.Close(fd)
			}
		}
	})
	disown := func(fd int) { closed[fd] = true }
	return fds[0], fds[1], disown
}

func waitResult(t *testing.T, ch chan *async.Result) *async.Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(timeout):
		t.Fatal("timed out waiting for completion")
		return nil
	}
}

func fdValid(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

func TestReadReturnsPreloadedBytes(t *testing.T) {
	for _, n := range []int{0, 1, 4, 1024} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			r, w, err := os.Pipe()
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			data := make([]byte, n)
			for i := range data {
				data[i] = byte(i)
			}
			if _, err := w.Write(data); err != nil {
				t.Fatal(err)
			}
			w.Close()

			s := New(int(r.Fd()), false, nil)
			buf := make([]byte, n+16)
			got, err := s.Read(buf, nil)
			if err != nil {
				t.Fatal(err)
			}
			if got != n {
				t.Errorf("read %d bytes, expected %d", got, n)
			}
			if !bytes.Equal(buf[:got], data) {
				t.Error("read bytes differ from what was written")
			}

			// Nothing left; end of stream is byte count zero, not an error.
			got, err = s.Read(buf, nil)
			if err != nil {
				t.Fatal(err)
			}
			if got != 0 {
				t.Errorf("read %d bytes at end of stream", got)
			}
		})
	}
}

func TestReadCancelledWhilePending(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	c := cancel.New()
	defer c.Release()

	s := New(int(r.Fd()), false, nil)

	errs := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		n, err := s.Read(buf, c)
		if n != 0 {
			errs <- fmt.Errorf("cancelled read returned %d bytes", n)
			return
		}
		errs <- err
	}()

	// Give the read time to enter its wait, then fire.
	time.Sleep(50 * time.Millisecond)
	c.Cancel()

	select {
	case err := <-errs:
		if !errors.Is(err, cancel.ErrCanceled) {
			t.Errorf("expected ErrCanceled, got %v", err)
		}
	case <-time.After(timeout):
		t.Fatal("read did not return after cancellation")
	}
}

func TestReadCancelledBeforeStart(t *testing.T) {
	// Cancellation wins even when data is already waiting: the fired
	// handle is checked before the read syscall is attempted.
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	if _, err := w.Write([]byte("data")); err != nil {
		t.Fatal(err)
	}

	c := cancel.New()
	defer c.Release()
	c.Cancel()

	s := New(int(r.Fd()), false, nil)
	n, err := s.Read(make([]byte, 16), c)
	if !errors.Is(err, cancel.ErrCanceled) {
		t.Errorf("expected ErrCanceled, got %v", err)
	}
	if n != 0 {
		t.Errorf("cancelled read returned %d bytes", n)
	}
}

func TestReadErrorPreservesErrno(t *testing.T) {
	s := New(-1, false, nil)
	_, err := s.Read(make([]byte, 16), nil)
	if err == nil {
		t.Fatal("read from invalid descriptor succeeded")
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		t.Fatalf("error does not carry an errno: %v", err)
	}
	if errno != unix.EBADF {
		t.Errorf("errno: %v, expected EBADF", errno)
	}
}

func TestCloseWithoutOwnershipIsNoop(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	s := New(int(r.Fd()), false, nil)
	if err := s.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if !fdValid(int(r.Fd())) {
		t.Error("descriptor was touched by a non-owning close")
	}
}

func TestCloseWithOwnership(t *testing.T) {
	a, _, disown := socketpair(t)

	s := New(a, true, nil)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	disown(a)
	if fdValid(a) {
		t.Error("descriptor still open after owning close")
	}
}

func TestReadAsyncDrainsSocketInChunks(t *testing.T) {
	p := startPoll(t)
	a, b, _ := socketpair(t)

	if _, err := unix.Write(b, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}

	s := New(a, false, p)
	buf := make([]byte, 4)
	results := make(chan *async.Result, 1)
	cb := func(res *async.Result) { results <- res }

	var got []byte
	for _, want := range []int{4, 4, 2} {
		s.ReadAsync(buf, nil, cb)
		n, err := s.ReadFinish(waitResult(t, results))
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Fatalf("read %d bytes, expected %d", n, want)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "0123456789" {
		t.Errorf("assembled %q", got)
	}

	// Peer shutdown surfaces as a zero-byte read on the next invocation.
	unix.Close(b)
	s.ReadAsync(buf, nil, cb)
	n, err := s.ReadFinish(waitResult(t, results))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("read %d bytes after peer close", n)
	}
}

func TestReadAsyncCancelled(t *testing.T) {
	p := startPoll(t)
	a, _, _ := socketpair(t)

	c := cancel.New()
	defer c.Release()

	s := New(a, false, p)
	results := make(chan *async.Result, 1)
	s.ReadAsync(make([]byte, 4), c, func(res *async.Result) { results <- res })

	c.Cancel()

	_, err := s.ReadFinish(waitResult(t, results))
	if !errors.Is(err, cancel.ErrCanceled) {
		t.Errorf("expected ErrCanceled, got %v", err)
	}
}

func TestCloseAsyncReportsOutcome(t *testing.T) {
	p := startPoll(t)
	a, _, disown := socketpair(t)

	s := New(a, true, p)
	results := make(chan *async.Result, 1)
	s.CloseAsync(nil, func(res *async.Result) { results <- res })
	if err := s.CloseFinish(waitResult(t, results)); err != nil {
		t.Fatal(err)
	}
	disown(a)
	if fdValid(a) {
		t.Error("descriptor still open after asynchronous close")
	}
}

func TestCloseAsyncSurfacesFailure(t *testing.T) {
	p := startPoll(t)

	s := New(-1, true, p)
	results := make(chan *async.Result, 1)
	s.CloseAsync(nil, func(res *async.Result) { results <- res })

	err := s.CloseFinish(waitResult(t, results))
	var errno unix.Errno
	if !errors.As(err, &errno) || errno != unix.EBADF {
		t.Errorf("expected an EBADF close failure, got %v", err)
	}
}

func TestSkipAsyncIsUnimplemented(t *testing.T) {
	p := startPoll(t)
	a, _, _ := socketpair(t)

	s := New(a, false, p)
	results := make(chan *async.Result, 1)
	s.SkipAsync(128, nil, func(res *async.Result) { results <- res })

	_, err := s.SkipFinish(waitResult(t, results))
	if !errors.Is(err, ErrUnimplemented) {
		t.Errorf("expected ErrUnimplemented, got %v", err)
	}
}

func TestFinishRejectsForeignResult(t *testing.T) {
	s := New(-1, false, nil)
	res := async.NewResult(closeOp)

	defer func() {
		if recover() == nil {
			t.Fatal("ReadFinish accepted a result from CloseAsync")
		}
	}()
	s.ReadFinish(res)
}

func TestReaderAdapter(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := w.Write([]byte("hello stream")); err != nil {
		t.Fatal(err)
	}
	w.Close()

	s := New(int(r.Fd()), false, nil)
	got, err := io.ReadAll(s.Reader(nil))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello stream" {
		t.Errorf("read %q", got)
	}
}
