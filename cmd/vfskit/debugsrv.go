// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vfskit/vfskit/lib/build"
	"github.com/vfskit/vfskit/lib/fsmon"
	"github.com/vfskit/vfskit/lib/svcutil"
)

// debugService serves Prometheus metrics, version information and a JSON
// dump of the current subscriptions, for poking at a running watcher.
type debugService struct {
	svcutil.ServiceWithError
	listen   string
	registry *fsmon.Registry
}

func newDebugService(listen string, registry *fsmon.Registry) *debugService {
	s := &debugService{
		listen:   listen,
		registry: registry,
	}
	s.ServiceWithError = svcutil.AsService(s.serve, s.String())
	return s
}

func (s *debugService) serve(ctx context.Context) error {
	router := httprouter.New()
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	router.HandlerFunc(http.MethodGet, "/debug/version", getVersion)
	router.HandlerFunc(http.MethodGet, "/debug/subscriptions", s.getSubscriptions)

	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		// The listen address was given explicitly; not being able to
		// serve on it should take the whole command down.
		return svcutil.AsFatalErr(err, svcutil.ExitError)
	}

	srv := http.Server{
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Prevent the HTTP server from logging stuff on its own. The
		// things we care about we log ourselves from the handlers.
		ErrorLog: log.New(io.Discard, "", 0),
	}

	l.Infoln("Debug API listening on", listener.Addr())

	serveError := make(chan error, 1)
	go func() {
		select {
		case serveError <- srv.Serve(listener):
		case <-ctx.Done():
		}
	}()

	err = nil
	select {
	case <-ctx.Done():
	case err = <-serveError:
	}

	timeout, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(timeout); err == timeout.Err() {
		srv.Close()
	}

	return err
}

func getVersion(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, map[string]interface{}{
		"version":     build.Version,
		"codename":    build.Codename,
		"longVersion": build.LongVersion,
		"os":          runtime.GOOS,
		"arch":        runtime.GOARCH,
		"isBeta":      build.IsBeta,
		"isCandidate": build.IsCandidate,
		"isRelease":   build.IsRelease,
		"date":        build.Date,
		"tags":        build.Tags,
		"stamp":       build.Stamp,
		"user":        build.User,
	})
}

func (s *debugService) getSubscriptions(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, s.registry.Snapshot())
}

func sendJSON(w http.ResponseWriter, jsonObject interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	// Marshalling might fail, in which case we should return a 500 with
	// the actual error.
	bs, err := json.MarshalIndent(jsonObject, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "%s\n", bs)
}

func (s *debugService) String() string {
	return fmt.Sprintf("debugService@%p", s)
}
