// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package automaxprocs sets GOMAXPROCS to match the Linux container CPU
// quota, if any. Import for side effect.
package automaxprocs

import (
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/vfskit/vfskit/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("automaxprocs", "Automatic CPU quota detection")

func init() {
	maxprocs.Set(maxprocs.Logger(l.Debugf))
}
