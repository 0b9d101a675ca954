package projection

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ScreenState holds one screen's assigns keyed by field name and tracks
// which fields changed since the last diff cycle.
type ScreenState struct {
	assigns map[string]any
	changed map[string]bool
}

// NewScreenState seeds the assigns. Initial values are not changes.
func NewScreenState(initialAssigns map[string]any) *ScreenState {
	assigns := map[string]any{}
	maps.Copy(assigns, initialAssigns)
	return &ScreenState{
		assigns: assigns,
		changed: map[string]bool{},
	}
}

// Assign is an identity-guarded upsert. Storing a value structurally equal
// to the current value leaves the changed set untouched.
func (self *ScreenState) Assign(key string, value any) *ScreenState {
	if current, ok := self.assigns[key]; ok && vmEqual(current, value) {
		return self
	}
	self.assigns[key] = value
	self.changed[key] = true
	return self
}

func (self *ScreenState) Update(key string, update func(value any) any) *ScreenState {
	return self.Assign(key, update(self.assigns[key]))
}

func (self *ScreenState) Get(key string) (any, bool) {
	value, ok := self.assigns[key]
	return value, ok
}

func (self *ScreenState) Assigns() map[string]any {
	assigns := map[string]any{}
	maps.Copy(assigns, self.assigns)
	return assigns
}

// ChangedFields returns the changed field names in sorted order.
func (self *ScreenState) ChangedFields() []string {
	fields := maps.Keys(self.changed)
	slices.Sort(fields)
	return fields
}

func (self *ScreenState) ClearChanged() {
	self.changed = map[string]bool{}
}
