// Package staging holds files a user has selected but not yet submitted.
//
// Files live in named slots (two data boxes and two schema boxes in the
// multi-box layout, a single data box otherwise). Every slot has a policy
// that gates what may enter it: a maximum file size and an extension
// allow-list. The package has no knowledge of HTTP or HTML; the web layer
// and the CLI both drive it through [Store].
package staging

import (
	"fmt"
	"strings"
)

// Slot identifies a bucket of pending files.
type Slot string

const (
	SlotBox1       Slot = "box1"
	SlotBox2       Slot = "box2"
	SlotSchemaBox1 Slot = "schemaBox1"
	SlotSchemaBox2 Slot = "schemaBox2"
)

// Kind distinguishes data slots from schema slots.
type Kind string

const (
	KindData   Kind = "data"
	KindSchema Kind = "schema"
)

// allSlots lists the known slots in display order.
var allSlots = []Slot{SlotBox1, SlotBox2, SlotSchemaBox1, SlotSchemaBox2}

// ParseSlot converts a slot id to a Slot.
// Matching is case-insensitive so "schemabox1" and "schemaBox1" are the same slot.
func ParseSlot(s string) (Slot, error) {
	s = strings.TrimSpace(s)
	for _, slot := range allSlots {
		if strings.EqualFold(string(slot), s) {
			return slot, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSlot, s)
}

func (s Slot) String() string { return string(s) }

// Kind reports whether the slot holds data files or schema files.
func (s Slot) Kind() Kind {
	switch s {
	case SlotSchemaBox1, SlotSchemaBox2:
		return KindSchema
	default:
		return KindData
	}
}

// Box returns the box number (1 or 2) within the slot's kind.
func (s Slot) Box() int {
	switch s {
	case SlotBox2, SlotSchemaBox2:
		return 2
	default:
		return 1
	}
}
