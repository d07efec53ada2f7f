package analytics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Column kinds. The event store keeps two physically distinct column
// families: text blobs and numeric doubles. A logical column belongs to
// exactly one of them.
const (
	KindText   = "text"
	KindNumber = "number"
)

// Logical column names accepted by the analytics query API.
const (
	ColSlug        = "slug"
	ColURL         = "url"
	ColUserAgent   = "ua"
	ColIP          = "ip"
	ColReferer     = "referer"
	ColCountry     = "country"
	ColRegion      = "region"
	ColCity        = "city"
	ColTimezone    = "timezone"
	ColLanguage    = "language"
	ColOS          = "os"
	ColBrowser     = "browser"
	ColBrowserType = "browserType"
	ColDevice      = "device"
	ColDeviceType  = "deviceType"
	ColColo        = "colo"
	ColLatitude    = "latitude"
	ColLongitude   = "longitude"
)

// Column maps one logical analytics field to its physical storage slot.
type Column struct {
	Name string
	Slot string
	Kind string
}

// UnknownColumnError is returned when a logical column name is not
// registered. It surfaces to API callers as a request-validation failure.
type UnknownColumnError struct {
	Name string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown analytics column %q", e.Name)
}

// Registry holds the fixed logical<->physical column mapping. Both lookup
// directions are built once at construction; the registry is immutable
// afterwards and safe for concurrent use.
type Registry struct {
	byName  map[string]Column
	bySlot  map[string]string
	ordered map[string][]Column // kind -> columns sorted by slot ordinal
}

// NewRegistry builds a registry from a canonical column declaration.
// Logical names and physical slots must be unique, and every slot name must
// carry an embedded ordinal (blob1, double2, ...) so that encode/decode can
// rely on a stable position order.
func NewRegistry(cols []Column) (*Registry, error) {
	r := &Registry{
		byName:  make(map[string]Column, len(cols)),
		bySlot:  make(map[string]string, len(cols)),
		ordered: make(map[string][]Column, 2),
	}

	for _, c := range cols {
		if c.Kind != KindText && c.Kind != KindNumber {
			return nil, fmt.Errorf("column %q: invalid kind %q", c.Name, c.Kind)
		}
		if _, err := slotOrdinal(c.Slot); err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		if _, dup := r.byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate logical column %q", c.Name)
		}
		if _, dup := r.bySlot[c.Slot]; dup {
			return nil, fmt.Errorf("duplicate physical slot %q", c.Slot)
		}
		r.byName[c.Name] = c
		r.bySlot[c.Slot] = c.Name
		r.ordered[c.Kind] = append(r.ordered[c.Kind], c)
	}

	for kind := range r.ordered {
		cols := r.ordered[kind]
		sort.Slice(cols, func(i, j int) bool {
			a, _ := slotOrdinal(cols[i].Slot)
			b, _ := slotOrdinal(cols[j].Slot)
			return a < b
		})
	}

	return r, nil
}

// Resolve returns the physical slot for a logical column name.
func (r *Registry) Resolve(name string) (string, error) {
	c, ok := r.byName[name]
	if !ok {
		return "", &UnknownColumnError{Name: name}
	}
	return c.Slot, nil
}

// Logical returns the logical name stored in a physical slot.
func (r *Registry) Logical(slot string) (string, bool) {
	name, ok := r.bySlot[slot]
	return name, ok
}

// Has reports whether a logical column is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Columns returns the registered columns of one kind, sorted by the ordinal
// embedded in their slot names. The returned slice must not be modified.
func (r *Registry) Columns(kind string) []Column {
	return r.ordered[kind]
}

// Slots returns the physical slots of one kind in serialization order.
func (r *Registry) Slots(kind string) []string {
	cols := r.ordered[kind]
	slots := make([]string, len(cols))
	for i, c := range cols {
		slots[i] = c.Slot
	}
	return slots
}

// slotOrdinal extracts the numeric position from a slot name like "blob6".
func slotOrdinal(slot string) (int, error) {
	digits := strings.TrimLeftFunc(slot, func(r rune) bool {
		return r < '0' || r > '9'
	})
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("slot %q has no ordinal", slot)
	}
	return n, nil
}

var defaultColumns = []Column{
	{Name: ColSlug, Slot: "blob1", Kind: KindText},
	{Name: ColURL, Slot: "blob2", Kind: KindText},
	{Name: ColUserAgent, Slot: "blob3", Kind: KindText},
	{Name: ColIP, Slot: "blob4", Kind: KindText},
	{Name: ColReferer, Slot: "blob5", Kind: KindText},
	{Name: ColCountry, Slot: "blob6", Kind: KindText},
	{Name: ColRegion, Slot: "blob7", Kind: KindText},
	{Name: ColCity, Slot: "blob8", Kind: KindText},
	{Name: ColTimezone, Slot: "blob9", Kind: KindText},
	{Name: ColLanguage, Slot: "blob10", Kind: KindText},
	{Name: ColOS, Slot: "blob11", Kind: KindText},
	{Name: ColBrowser, Slot: "blob12", Kind: KindText},
	{Name: ColBrowserType, Slot: "blob13", Kind: KindText},
	{Name: ColDevice, Slot: "blob14", Kind: KindText},
	{Name: ColDeviceType, Slot: "blob15", Kind: KindText},
	{Name: ColColo, Slot: "blob16", Kind: KindText},
	{Name: ColLatitude, Slot: "double1", Kind: KindNumber},
	{Name: ColLongitude, Slot: "double2", Kind: KindNumber},
}

// DefaultRegistry returns the registry for the click-event schema. The
// declaration is static, so construction cannot fail.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultColumns)
	if err != nil {
		panic(err)
	}
	return r
}
