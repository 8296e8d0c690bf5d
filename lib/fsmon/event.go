// Copyright (C) 2024 The VFSKit Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fsmon

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Mask is the raw change bitset attached to a kernel notification. The
// values are inotify's, carried locally so that raw events have one shape
// on every platform; backends for other notification mechanisms translate
// into these.
type Mask uint32

const (
	MaskAccess       Mask = 0x00000001
	MaskModify       Mask = 0x00000002
	MaskAttrib       Mask = 0x00000004
	MaskCloseWrite   Mask = 0x00000008
	MaskCloseNowrite Mask = 0x00000010
	MaskOpen         Mask = 0x00000020
	MaskMovedFrom    Mask = 0x00000040
	MaskMovedTo      Mask = 0x00000080
	MaskCreate       Mask = 0x00000100
	MaskDelete       Mask = 0x00000200
	MaskDeleteSelf   Mask = 0x00000400
	MaskMoveSelf     Mask = 0x00000800
	MaskUnmount      Mask = 0x00002000
	MaskQOverflow    Mask = 0x00004000
	MaskIgnored      Mask = 0x00008000
	MaskIsDir        Mask = 0x40000000
)

var maskNames = map[Mask]string{
	MaskAccess:       "access",
	MaskModify:       "modify",
	MaskAttrib:       "attrib",
	MaskCloseWrite:   "close-write",
	MaskCloseNowrite: "close-nowrite",
	MaskOpen:         "open",
	MaskMovedFrom:    "moved-from",
	MaskMovedTo:      "moved-to",
	MaskCreate:       "create",
	MaskDelete:       "delete",
	MaskDeleteSelf:   "delete-self",
	MaskMoveSelf:     "move-self",
	MaskUnmount:      "unmount",
	MaskQOverflow:    "overflow",
	MaskIgnored:      "ignored",
	MaskIsDir:        "isdir",
}

func (m Mask) String() string {
	var names []string
	for bit := Mask(1); bit != 0; bit <<= 1 {
		if m&bit == 0 {
			continue
		}
		if name, ok := maskNames[bit]; ok {
			names = append(names, name)
		} else {
			names = append(names, fmt.Sprintf("0x%x", uint32(bit)))
		}
	}
	if len(names) == 0 {
		return "(empty)"
	}
	return strings.Join(names, "|")
}

// A RawEvent is one kernel notification as handed over by a watch backend:
// the change bitset and, for events concerning a directory entry, the name
// of that entry. An empty name means the watched directory itself.
type RawEvent struct {
	Mask Mask
	Name string
}

func (e RawEvent) String() string {
	if e.Name == "" {
		return e.Mask.String()
	}
	return fmt.Sprintf("%v %q", e.Mask, e.Name)
}

// EventKind is the normalized change kind delivered to monitor targets,
// independent of the underlying notification mechanism. The zero value
// KindNone means "no event": raw events outside the interesting set map to
// it and are never dispatched.
type EventKind int

const (
	KindNone EventKind = iota
	KindChanged
	KindAttributeChanged
	KindDeleted
	KindCreated
	KindUnmounted
)

func (k EventKind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindChanged:
		return "Changed"
	case KindAttributeChanged:
		return "AttributeChanged"
	case KindDeleted:
		return "Deleted"
	case KindCreated:
		return "Created"
	case KindUnmounted:
		return "Unmounted"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// kindOf maps a raw change bitset to the domain event kind. The directory
// flag is stripped before matching; accesses, opens, closes, queue
// overflows, watch removals and anything unrecognized yield KindNone.
func kindOf(mask Mask) EventKind {
	switch mask &^ MaskIsDir {
	case MaskModify:
		return KindChanged
	case MaskAttrib:
		return KindAttributeChanged
	case MaskMoveSelf, MaskMovedFrom, MaskDelete, MaskDeleteSelf:
		return KindDeleted
	case MaskCreate, MaskMovedTo:
		return KindCreated
	case MaskUnmount:
		return KindUnmounted
	default:
		return KindNone
	}
}

// An Entity identifies the file or directory an event concerns. It is the
// watched directory joined with the entry name; when the event concerns
// the watched directory itself the trailing separator is retained, which
// distinguishes it from a (hypothetical) entry with an empty name.
type Entity string

func (e Entity) String() string {
	return string(e)
}

// entityFor builds the event target identity for an event on name inside
// dir. An empty name means the directory itself.
func entityFor(dir, name string) Entity {
	if name != "" {
		return Entity(filepath.Join(dir, name))
	}
	return Entity(dir + string(filepath.Separator))
}
