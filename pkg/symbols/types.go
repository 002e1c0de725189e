// Package symbols holds the type descriptors, symbols and scopes shared by the
// semantic analyzer and every backend.
package symbols

type TypeName string

const (
	Int     TypeName = "int"
	Double  TypeName = "double"
	Str     TypeName = "str"
	Pointer TypeName = "pointer"
	Void    TypeName = "void"
	Func    TypeName = "func"
)

// Type is a resolved type descriptor. PointsTo is set only for pointers.
type Type struct {
	Name     TypeName
	PointsTo TypeName
}

var (
	TypeInt    = Type{Name: Int}
	TypeDouble = Type{Name: Double}
	TypeStr    = Type{Name: Str}
	TypeVoid   = Type{Name: Void}
	TypeFunc   = Type{Name: Func}
)

func PointerTo(name TypeName) Type { return Type{Name: Pointer, PointsTo: name} }

// Equal compares names and, for pointers, the pointee names.
func (t Type) Equal(o Type) bool {
	if t.Name != o.Name {
		return false
	}
	return t.Name != Pointer || t.PointsTo == o.PointsTo
}

func (t Type) IsPointer() bool { return t.Name == Pointer }
func (t Type) IsFloat() bool   { return t.Name == Double }

// Elem is the type a pointer dereferences to.
func (t Type) Elem() Type { return Type{Name: t.PointsTo} }

func (t Type) String() string {
	if t.Name == Pointer {
		return "*" + string(t.PointsTo)
	}
	return string(t.Name)
}
