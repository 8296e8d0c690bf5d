// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/thejerf/suture/v4"
	"golang.org/x/sys/unix"

	"github.com/vfskit/vfskit/lib/async"
	"github.com/vfskit/vfskit/lib/cancel"
	"github.com/vfskit/vfskit/lib/fdstream"
	"github.com/vfskit/vfskit/lib/reactor"
	"github.com/vfskit/vfskit/lib/svcutil"
)

type catCommand struct {
	File    string        `arg:"" optional:"" help:"File to stream (default: standard input)" type:"path"`
	Timeout time.Duration `help:"Cancel the stream after this duration"`
	BufSize int           `default:"65536" help:"Read buffer size in bytes"`
}

func (c *catCommand) Run() error {
	poll, err := reactor.NewPoll()
	if err != nil {
		return fmt.Errorf("starting reactor: %w", err)
	}

	var stream *fdstream.Stream
	if c.File == "" || c.File == "-" {
		stream = fdstream.New(int(os.Stdin.Fd()), false, poll)
	} else {
		fd, err := unix.Open(c.File, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			return fmt.Errorf("opening %s: %w", c.File, err)
		}
		stream = fdstream.New(fd, true, poll)
	}

	cbl := cancel.New()
	defer cbl.Release()
	if c.Timeout > 0 {
		timer := time.AfterFunc(c.Timeout, cbl.Cancel)
		defer timer.Stop()
	}

	main := suture.New("main", svcutil.SpecWithDebugLogger(l))
	main.Add(poll)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	errChan := main.ServeBackground(ctx)

	// The callback chain runs on the reactor goroutine: each completed
	// read writes its chunk to stdout and schedules the next one, until
	// EOF hands over to the async close.
	buf := make([]byte, c.BufSize)
	done := make(chan error, 1)
	var onRead func(res *async.Result)
	onRead = func(res *async.Result) {
		n, err := stream.ReadFinish(res)
		if err != nil {
			stream.Close()
			done <- err
			return
		}
		if n == 0 {
			stream.CloseAsync(cbl, func(res *async.Result) {
				done <- stream.CloseFinish(res)
			})
			return
		}
		if _, err := os.Stdout.Write(buf[:n]); err != nil {
			stream.Close()
			done <- err
			return
		}
		stream.ReadAsync(buf, cbl, onRead)
	}
	stream.ReadAsync(buf, cbl, onRead)

	var streamErr error
	select {
	case streamErr = <-done:
	case err := <-errChan:
		return err
	}
	stop()
	<-errChan

	if errors.Is(streamErr, cancel.ErrCanceled) {
		return fmt.Errorf("stream canceled after %v", c.Timeout)
	}
	return streamErr
}
