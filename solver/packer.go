package solver

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/mmsolver/collection"
	"go.viam.com/mmsolver/scenegraph"
	"go.viam.com/mmsolver/utils"
)

// Slot is one solved scalar: a static attribute, or an animated attribute at one frame.
type Slot struct {
	Attr   int
	Frame  int
	Static bool
}

// Packer maps solved attributes to the flat parameter vector and back. Slots are ordered by
// attribute index, then frame.
type Packer struct {
	coll  *collection.Collection
	slots []Slot
	// attrSlots maps an attribute to its slots.
	attrSlots map[int][]int
}

// NewPacker lays out the slots of attrs over frames. Static attributes take one slot,
// animated attributes one per frame.
func NewPacker(c *collection.Collection, attrs, frames []int) *Packer {
	p := &Packer{coll: c, attrSlots: map[int][]int{}}
	if len(frames) == 0 {
		return p
	}
	for _, ai := range attrs {
		a := c.Attributes[ai]
		switch a.State {
		case collection.AttrStatic:
			p.attrSlots[ai] = append(p.attrSlots[ai], len(p.slots))
			p.slots = append(p.slots, Slot{Attr: ai, Frame: frames[0], Static: true})
		case collection.AttrAnimated:
			for _, f := range frames {
				p.attrSlots[ai] = append(p.attrSlots[ai], len(p.slots))
				p.slots = append(p.slots, Slot{Attr: ai, Frame: f})
			}
		case collection.AttrLocked, collection.AttrInvalid:
		}
	}
	return p
}

// Len is the number of parameters.
func (p *Packer) Len() int {
	return len(p.slots)
}

// Slots returns the layout. The slice must not be modified.
func (p *Packer) Slots() []Slot {
	return p.slots
}

// AttributeSlots returns the slot indices of an attribute.
func (p *Packer) AttributeSlots(attr int) []int {
	return p.attrSlots[attr]
}

// oneSidedMargin keeps a value at its single bound representable.
func oneSidedMargin(bound float64) float64 {
	return 1e-9 * math.Max(1, math.Abs(bound))
}

// ToInternal maps a user value to its internal value. It reports whether the value had to be
// clamped into the attribute's bounds.
func ToInternal(a collection.Attribute, value float64) (float64, bool) {
	switch {
	case a.Min.Set && a.Max.Set:
		lo, hi := a.Min.Value, a.Max.Value
		clamped := value < lo || value > hi
		if hi == lo {
			return 0, clamped
		}
		s := utils.Clamp(2*(value-lo)/(hi-lo)-1, -1, 1)
		return math.Asin(s), clamped
	case a.Min.Set:
		lo := a.Min.Value
		clamped := value < lo
		d := value - lo
		if d < oneSidedMargin(lo) {
			d = oneSidedMargin(lo)
		}
		return math.Log(d), clamped
	case a.Max.Set:
		hi := a.Max.Value
		clamped := value > hi
		d := hi - value
		if d < oneSidedMargin(hi) {
			d = oneSidedMargin(hi)
		}
		return math.Log(d), clamped
	default:
		return (value - a.Offset) / a.Scale, false
	}
}

// ToUser maps an internal value to the attribute's value.
func ToUser(a collection.Attribute, x float64) float64 {
	switch {
	case a.Min.Set && a.Max.Set:
		lo, hi := a.Min.Value, a.Max.Value
		return lo + (hi-lo)*(math.Sin(x)/2+0.5)
	case a.Min.Set:
		return a.Min.Value + math.Exp(x)
	case a.Max.Set:
		return a.Max.Value - math.Exp(x)
	default:
		return x*a.Scale + a.Offset
	}
}

// Pack reads the current value of every slot. Values outside their bounds are clamped and
// reported as warnings.
func (p *Packer) Pack(ev scenegraph.Evaluator) ([]float64, []error, error) {
	x := make([]float64, len(p.slots))
	var warnings []error
	for j, slot := range p.slots {
		a := p.coll.Attributes[slot.Attr]
		v, err := ev.AttributeValue(slot.Attr, slot.Frame)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "reading %q", a.Name)
		}
		xi, clamped := ToInternal(a, v)
		if clamped {
			warnings = append(warnings, errors.Wrapf(ErrBoundsViolation, "%q = %v at frame %d", a.Name, v, slot.Frame))
		}
		x[j] = xi
	}
	p.ClampInternal(x)
	return x, warnings, nil
}

// ClampInternal limits internal values to the attributes' internal bounds.
func (p *Packer) ClampInternal(x []float64) {
	for j, slot := range p.slots {
		a := p.coll.Attributes[slot.Attr]
		if a.MinInternal.Set && x[j] < a.MinInternal.Value {
			x[j] = a.MinInternal.Value
		}
		if a.MaxInternal.Set && x[j] > a.MaxInternal.Value {
			x[j] = a.MaxInternal.Value
		}
	}
}

// Unpack writes every slot.
func (p *Packer) Unpack(ev scenegraph.Evaluator, x []float64) error {
	for j := range p.slots {
		if err := p.UnpackSlot(ev, x, j); err != nil {
			return err
		}
	}
	return nil
}

// UnpackSlot writes slot j.
func (p *Packer) UnpackSlot(ev scenegraph.Evaluator, x []float64, j int) error {
	slot := p.slots[j]
	a := p.coll.Attributes[slot.Attr]
	if err := ev.SetAttribute(slot.Attr, slot.Frame, ToUser(a, x[j])); err != nil {
		return errors.Wrapf(err, "writing %q", a.Name)
	}
	return nil
}
