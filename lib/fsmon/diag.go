// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fsmon

import (
	"os"
	"os/signal"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/vfskit/vfskit/lib/sync"
)

// Diagnostics are process-global: the first registry to start installs a
// single SIGUSR2 handler that dumps the subscription table of every
// registry started since.
var (
	diagMut       = sync.NewMutex()
	diagRegs      []*Registry
	diagInstalled bool
)

// registerDiagnostics adds r to the set of registries dumped on SIGUSR2,
// installing the signal handler on first use. Called with r.mut held; the
// dump path never holds diagMut while taking a registry lock, so the
// opposite acquisition orders cannot deadlock.
func registerDiagnostics(r *Registry) {
	diagMut.Lock()
	defer diagMut.Unlock()
	diagRegs = append(diagRegs, r)
	if diagInstalled {
		return
	}
	diagInstalled = true

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGUSR2)
	go func() {
		for range sigs {
			dumpAllSubscriptions()
		}
	}()
}

func dumpAllSubscriptions() {
	diagMut.Lock()
	regs := append([]*Registry(nil), diagRegs...)
	diagMut.Unlock()
	for _, r := range regs {
		dumpSubscriptions(r)
	}
}

func dumpSubscriptions(r *Registry) {
	snap := r.Snapshot()
	l.Infof("%d active subscriptions:", len(snap))
	for _, info := range snap {
		name := info.Path
		if info.Filename != "" {
			name = filepath.Join(info.Path, info.Filename)
		}
		l.Infof("  %s (%s monitor, %s)", name, info.Target, info.State)
	}
}
