package staging

import (
	"fmt"
	"strings"
)

// Mode selects the upload page layout.
type Mode string

const (
	// ModeMulti offers two data boxes and two schema boxes.
	ModeMulti Mode = "multi"
	// ModeSingle offers one data box with the smaller size limit.
	ModeSingle Mode = "single"
)

// ParseMode converts a layout name to a Mode, ignoring case and
// surrounding space.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeMulti, ModeSingle:
		return m, nil
	default:
		return "", fmt.Errorf("unknown staging mode %q, want %s or %s", s, ModeMulti, ModeSingle)
	}
}

// Target describes where and how a slot is presented, and which policy
// admits files into it.
type Target struct {
	Slot      Slot
	Label     string
	ElementID string
	Kind      Kind
	Box       int
	Policy    Policy
}

// Registry is the ordered set of slots a Store manages.
type Registry struct {
	mode    Mode
	order   []Slot
	targets map[Slot]Target
}

// NewRegistry builds a registry from targets in display order.
func NewRegistry(targets ...Target) (*Registry, error) {
	r := &Registry{mode: ModeMulti, targets: make(map[Slot]Target, len(targets))}
	for _, t := range targets {
		if t.Slot == "" {
			return nil, fmt.Errorf("registry: target %q has no slot", t.Label)
		}
		if _, dup := r.targets[t.Slot]; dup {
			return nil, fmt.Errorf("registry: slot %s registered twice", t.Slot)
		}
		if t.Policy.MaxFileSize <= 0 {
			return nil, fmt.Errorf("registry: slot %s has no size limit", t.Slot)
		}
		if t.Kind == "" {
			t.Kind = t.Slot.Kind()
		}
		if t.Box == 0 {
			t.Box = t.Slot.Box()
		}
		r.order = append(r.order, t.Slot)
		r.targets[t.Slot] = t
	}
	return r, nil
}

// DefaultRegistry returns the standard layout for mode. A positive
// maxFileSize overrides every policy's limit.
func DefaultRegistry(mode Mode, maxFileSize int64) *Registry {
	var targets []Target
	switch mode {
	case ModeSingle:
		targets = []Target{
			{Slot: SlotBox1, Label: "Upload files", ElementID: "uploadBox", Policy: SingleBoxPolicy},
		}
	default:
		targets = []Target{
			{Slot: SlotBox1, Label: "Bank 1 data", ElementID: "uploadBox1", Policy: MultiBoxPolicy},
			{Slot: SlotBox2, Label: "Bank 2 data", ElementID: "uploadBox2", Policy: MultiBoxPolicy},
			{Slot: SlotSchemaBox1, Label: "Bank 1 schema", ElementID: "schemaUploadBox1", Policy: SchemaPolicy},
			{Slot: SlotSchemaBox2, Label: "Bank 2 schema", ElementID: "schemaUploadBox2", Policy: SchemaPolicy},
		}
	}
	if maxFileSize > 0 {
		for i := range targets {
			targets[i].Policy = targets[i].Policy.WithMaxFileSize(maxFileSize)
		}
	}
	r, err := NewRegistry(targets...)
	if err != nil {
		panic(err) // static layout
	}
	if mode == ModeSingle {
		r.mode = ModeSingle
	}
	return r
}

// Mode returns the layout the registry was built for.
func (r *Registry) Mode() Mode { return r.mode }

// Lookup returns the target registered for slot.
func (r *Registry) Lookup(slot Slot) (Target, bool) {
	t, ok := r.targets[slot]
	return t, ok
}

// Slots returns the registered slots in display order.
func (r *Registry) Slots() []Slot {
	out := make([]Slot, len(r.order))
	copy(out, r.order)
	return out
}

// Targets returns the registered targets in display order.
func (r *Registry) Targets() []Target {
	out := make([]Target, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, r.targets[s])
	}
	return out
}

// Parse resolves a slot id and checks that it is registered.
func (r *Registry) Parse(id string) (Slot, error) {
	slot, err := ParseSlot(id)
	if err != nil {
		return "", err
	}
	if _, ok := r.targets[slot]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	return slot, nil
}
