// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package async provides tagged operation results for start/finish style
// asynchronous call pairs. A start function performs its work, stores the
// outcome in a Result tagged with the operation's identity, and hands the
// result to the caller's completion callback; the matching finish function
// asserts the tag and extracts the outcome.
package async

import "fmt"

// An Op identifies one asynchronous entry point. Comparison is by
// identity; each entry point declares exactly one package-level Op.
type Op struct {
	name string
}

func NewOp(name string) *Op {
	return &Op{name: name}
}

func (o *Op) String() string {
	return o.name
}

// A Result carries the outcome of one asynchronous operation: a size, an
// error, or both, plus the Op that produced it.
type Result struct {
	op   *Op
	size int
	err  error
}

func NewResult(op *Op) *Result {
	return &Result{op: op}
}

func (r *Result) Op() *Op {
	return r.op
}

func (r *Result) SetSize(size int) {
	r.size = size
}

func (r *Result) Size() int {
	return r.size
}

func (r *Result) SetError(err error) {
	r.err = err
}

func (r *Result) Err() error {
	return r.err
}

// Complete invokes cb synchronously with the result. There is
// intentionally no deferred variant: completions here always run inside a
// reactor callout already, and bouncing them to a later loop turn would
// only add latency.
func (r *Result) Complete(cb func(*Result)) {
	if cb == nil {
		return
	}
	cb(r)
}

// MustMatch panics if the result was produced by a different operation
// than op. Handing a result to the wrong finish function is a programming
// error, not a recoverable condition.
func (r *Result) MustMatch(op *Op) {
	if r.op != op {
		panic(fmt.Sprintf("bug: result from %v passed to finisher for %v", r.op, op))
	}
}
