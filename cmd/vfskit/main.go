// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command vfskit exercises the vfskit libraries from the command line:
// it can watch paths for filesystem changes and stream file descriptors
// to standard output.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/vfskit/vfskit/lib/build"
	"github.com/vfskit/vfskit/lib/logger"
	"github.com/vfskit/vfskit/lib/svcutil"

	_ "github.com/vfskit/vfskit/lib/automaxprocs"
)

var l = logger.DefaultLogger.NewFacility("main", "Main package")

type CLI struct {
	Watch   watchCommand   `cmd:"" help:"Watch files or directories for changes"`
	Cat     catCommand     `cmd:"" help:"Stream a file or standard input to standard output"`
	Version versionCommand `cmd:"" help:"Show version information"`
}

func main() {
	var cli CLI
	kongCtx := kong.Parse(&cli,
		kong.Description("vfskit filesystem monitoring and streaming tool"),
		kong.UsageOnError(),
	)
	err := kongCtx.Run()
	var fatalErr *svcutil.FatalErr
	if errors.As(err, &fatalErr) {
		l.Warnln("Exiting:", fatalErr.Err)
		os.Exit(fatalErr.Status.AsInt())
	}
	kongCtx.FatalIfErrorf(err)
}

type versionCommand struct{}

func (versionCommand) Run() error {
	fmt.Println(build.LongVersion)
	return nil
}
