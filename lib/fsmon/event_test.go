// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fsmon

import "testing"

func TestKindOf(t *testing.T) {
	cases := []struct {
		mask Mask
		kind EventKind
	}{
		{MaskModify, KindChanged},
		{MaskAttrib, KindAttributeChanged},
		{MaskMoveSelf, KindDeleted},
		{MaskMovedFrom, KindDeleted},
		{MaskDelete, KindDeleted},
		{MaskDeleteSelf, KindDeleted},
		{MaskCreate, KindCreated},
		{MaskMovedTo, KindCreated},
		{MaskUnmount, KindUnmounted},

		// The ignored set maps to the no-op sentinel.
		{MaskQOverflow, KindNone},
		{MaskOpen, KindNone},
		{MaskCloseWrite, KindNone},
		{MaskCloseNowrite, KindNone},
		{MaskAccess, KindNone},
		{MaskIgnored, KindNone},
		{0, KindNone},

		// The directory flag is stripped before matching.
		{MaskCreate | MaskIsDir, KindCreated},
		{MaskDeleteSelf | MaskIsDir, KindDeleted},
		{MaskUnmount | MaskIsDir, KindUnmounted},

		// Combined change bits are not a recognized event.
		{MaskModify | MaskAttrib, KindNone},
	}

	for _, tc := range cases {
		if kind := kindOf(tc.mask); kind != tc.kind {
			t.Errorf("kindOf(%v) == %v, expected %v", tc.mask, kind, tc.kind)
		}
	}
}

func TestEntityFor(t *testing.T) {
	cases := []struct {
		dir, name string
		want      Entity
	}{
		{"/watch/dir", "file.txt", "/watch/dir/file.txt"},
		// No name means the directory itself; the trailing separator
		// sets it apart from an entry with an empty name.
		{"/watch/dir", "", "/watch/dir/"},
	}

	for _, tc := range cases {
		if got := entityFor(tc.dir, tc.name); got != tc.want {
			t.Errorf("entityFor(%q, %q) == %q, expected %q", tc.dir, tc.name, got, tc.want)
		}
	}
}

func TestMaskString(t *testing.T) {
	if s := (MaskCreate | MaskIsDir).String(); s != "create|isdir" {
		t.Errorf("got %q", s)
	}
	if s := Mask(0).String(); s != "(empty)" {
		t.Errorf("got %q", s)
	}
}
