// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gobwas/glob"
	"github.com/thejerf/suture/v4"

	"github.com/vfskit/vfskit/lib/fsmon"
	"github.com/vfskit/vfskit/lib/svcutil"
)

type watchCommand struct {
	Paths       []string `arg:"" help:"Files or directories to watch" type:"path"`
	Ignore      []string `placeholder:"PATTERN" help:"Glob patterns for entry names to ignore"`
	DebugListen string   `placeholder:"ADDR" help:"Listen address for metrics and debug endpoints"`
}

func (c *watchCommand) Run() error {
	registry := fsmon.NewDefault()
	if err := registry.Startup(); err != nil {
		return err
	}

	printer, err := newEventPrinter(c.Ignore)
	if err != nil {
		return err
	}

	var subs []*fsmon.Subscription
	for _, path := range c.Paths {
		sub, err := subscribePath(registry, path, printer)
		if err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		subs = append(subs, sub)
	}

	main := suture.New("main", svcutil.SpecWithInfoLogger(l))
	main.Add(registry)
	if c.DebugListen != "" {
		main.Add(newDebugService(c.DebugListen, registry))
	}
	svcutil.OnSupervisorDone(main, func() {
		for _, sub := range subs {
			registry.Unsubscribe(sub)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errChan := main.ServeBackground(ctx)

	stopSign := make(chan os.Signal, 1)
	sigTerm := syscall.Signal(15)
	signal.Notify(stopSign, os.Interrupt, sigTerm)

	select {
	case sig := <-stopSign:
		l.Infoln("Signal", sig, "received; exiting")
	case err := <-errChan:
		return err
	}

	cancel()
	<-errChan
	return nil
}

// subscribePath registers path with the registry. Directories are watched
// whole; anything else is watched through its parent directory, filtered to
// the entry name. A path that does not exist yet is assumed to be a
// directory and picked up once it appears.
func subscribePath(registry *fsmon.Registry, path string, printer *eventPrinter) (*fsmon.Subscription, error) {
	path = filepath.Clean(path)
	fi, err := os.Lstat(path)
	if err == nil && !fi.IsDir() {
		return registry.Subscribe(filepath.Dir(path), filepath.Base(path), fsmon.FileTarget(printer))
	}
	return registry.Subscribe(path, "", fsmon.DirectoryTarget(printer))
}

// eventPrinter writes one line per event to standard output. It is driven
// from the registry's dispatch path and must not call back into the
// registry.
type eventPrinter struct {
	ignore []glob.Glob
}

func newEventPrinter(patterns []string) (*eventPrinter, error) {
	p := &eventPrinter{}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		p.ignore = append(p.ignore, g)
	}
	return p, nil
}

func (p *eventPrinter) EmitFileEvent(changed, other fsmon.Entity, kind fsmon.EventKind) {
	p.print(changed, other, kind)
}

func (p *eventPrinter) EmitDirectoryEvent(changed, other fsmon.Entity, kind fsmon.EventKind) {
	p.print(changed, other, kind)
}

func (p *eventPrinter) print(changed, other fsmon.Entity, kind fsmon.EventKind) {
	if p.ignored(changed) {
		return
	}
	now := time.Now().Format("15:04:05.000")
	if other != "" {
		fmt.Printf("%s %-16s %s -> %s\n", now, kind, changed, other)
		return
	}
	fmt.Printf("%s %-16s %s\n", now, kind, changed)
}

func (p *eventPrinter) ignored(entity fsmon.Entity) bool {
	name := filepath.Base(strings.TrimSuffix(entity.String(), string(filepath.Separator)))
	for _, g := range p.ignore {
		if g.Match(name) {
			return true
		}
	}
	return false
}
