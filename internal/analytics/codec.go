package analytics

import "fmt"

// Codec converts AccessEvents to and from the store's positional row layout:
// one fixed-length string sequence for the text slots and one fixed-length
// float sequence for the numeric slots, both in slot-ordinal order.
type Codec struct {
	reg *Registry
}

// NewCodec builds a codec over a registry. It fails when the registry
// declares a column that AccessEvent has no field for, so adding a column
// without extending the event type is caught at startup rather than by
// silently dropping data.
func NewCodec(reg *Registry) (*Codec, error) {
	var probe AccessEvent
	for _, c := range reg.Columns(KindText) {
		if probe.textField(c.Name) == nil {
			return nil, fmt.Errorf("analytics: text column %q has no AccessEvent field", c.Name)
		}
	}
	for _, c := range reg.Columns(KindNumber) {
		if probe.numberField(c.Name) == nil {
			return nil, fmt.Errorf("analytics: number column %q has no AccessEvent field", c.Name)
		}
	}
	return &Codec{reg: reg}, nil
}

// Encode serializes an event into its blob and double sequences. The
// returned slices always have one entry per registered slot of the kind.
func (c *Codec) Encode(e *AccessEvent) (blobs []string, doubles []float64) {
	textCols := c.reg.Columns(KindText)
	blobs = make([]string, len(textCols))
	for i, col := range textCols {
		blobs[i] = *e.textField(col.Name)
	}

	numCols := c.reg.Columns(KindNumber)
	doubles = make([]float64, len(numCols))
	for i, col := range numCols {
		doubles[i] = *e.numberField(col.Name)
	}
	return blobs, doubles
}

// Decode is the inverse of Encode: it zips the slot order against the
// supplied values. Missing trailing values leave the field at its zero
// value, mirroring the defaulting applied on encode.
func (c *Codec) Decode(blobs []string, doubles []float64) *AccessEvent {
	e := &AccessEvent{}
	for i, col := range c.reg.Columns(KindText) {
		if i >= len(blobs) {
			break
		}
		*e.textField(col.Name) = blobs[i]
	}
	for i, col := range c.reg.Columns(KindNumber) {
		if i >= len(doubles) {
			break
		}
		*e.numberField(col.Name) = doubles[i]
	}
	return e
}
