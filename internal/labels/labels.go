// Package labels maps the on-disk class taxonomy to label vectors.
//
// Videos live under data/<side>/<class>/ where side is left_adrenal or
// right_adrenal and class is class_a_b_c with three binary attributes.
// Each video gets a 4-bit label [side, a, b, c] and a readable label name.
package labels

import (
	"errors"
	"fmt"
	"strings"
)

// VectorLen is the length of every label vector.
const VectorLen = 4

var (
	ErrUnknownSide  = errors.New("unknown side directory")
	ErrUnknownClass = errors.New("unknown class directory")
)

// Side is the adrenal gland location.
type Side int

const (
	Left Side = iota
	Right
)

// Sides lists sides in traversal order.
var Sides = []Side{Left, Right}

// Dir returns the directory name of the side.
func (s Side) Dir() string {
	if s == Right {
		return "right_adrenal"
	}
	return "left_adrenal"
}

func (s Side) String() string { return s.Dir() }

// ParseSide parses a side directory name.
func ParseSide(name string) (Side, error) {
	switch name {
	case "left_adrenal":
		return Left, nil
	case "right_adrenal":
		return Right, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSide, name)
}

// Class holds the three binary attributes encoded in a class directory.
type Class [3]uint8

// Classes lists all eight classes in binary counting order.
func Classes() []Class {
	out := make([]Class, 0, 8)
	for i := 0; i < 8; i++ {
		out = append(out, Class{uint8(i >> 2 & 1), uint8(i >> 1 & 1), uint8(i & 1)})
	}
	return out
}

// Dir returns the class directory name, e.g. class_0_1_1.
func (c Class) Dir() string {
	return fmt.Sprintf("class_%d_%d_%d", c[0], c[1], c[2])
}

func (c Class) String() string { return c.Dir() }

// ParseClass parses a class_a_b_c directory name.
func ParseClass(name string) (Class, error) {
	var c Class
	parts := strings.Split(name, "_")
	if len(parts) != 4 || parts[0] != "class" {
		return c, fmt.Errorf("%w: %q", ErrUnknownClass, name)
	}
	for i, p := range parts[1:] {
		switch p {
		case "0":
			c[i] = 0
		case "1":
			c[i] = 1
		default:
			return c, fmt.Errorf("%w: %q", ErrUnknownClass, name)
		}
	}
	return c, nil
}

// Label is the full label of a video.
type Label struct {
	Side  Side
	Class Class
}

// Vector returns the [side, a, b, c] bit vector.
func (l Label) Vector() [VectorLen]uint8 {
	return [VectorLen]uint8{uint8(l.Side), l.Class[0], l.Class[1], l.Class[2]}
}

// Name returns the label name, e.g. left_adrenal_class_0_1_1.
func (l Label) Name() string {
	return l.Side.Dir() + "_" + l.Class.Dir()
}

// Path returns the directory of the label relative to the data root.
func (l Label) Path() string {
	return l.Side.Dir() + "/" + l.Class.Dir()
}

// All returns all sixteen labels in traversal order.
func All() []Label {
	out := make([]Label, 0, len(Sides)*8)
	for _, s := range Sides {
		for _, c := range Classes() {
			out = append(out, Label{Side: s, Class: c})
		}
	}
	return out
}

// FromVector is the inverse of Label.Vector.
func FromVector(v []uint8) (Label, error) {
	if len(v) != VectorLen {
		return Label{}, fmt.Errorf("label vector has length %d, want %d", len(v), VectorLen)
	}
	for _, b := range v {
		if b > 1 {
			return Label{}, fmt.Errorf("label vector %v is not binary", v)
		}
	}
	return Label{Side: Side(v[0]), Class: Class{v[1], v[2], v[3]}}, nil
}
