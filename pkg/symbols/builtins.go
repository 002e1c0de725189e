package symbols

const (
	ArgcName      = "__ARGC__"
	ArgvName      = "__ARGV__"
	CharToIntName = "char_to_int"
)

// RegisterBuiltins declares the type names and the built-in symbols every program
// can use: the argc/argv cells and char_to_int.
func RegisterBuiltins(s *Scope) {
	for _, t := range []Type{TypeInt, TypeDouble, TypeStr, TypeVoid, TypeFunc} {
		s.Set(&TypeSymbol{Name: string(t.Name), Type: t})
	}
	s.Set(&VarSymbol{Name: ArgcName, Type: PointerTo(Int)})
	s.Set(&VarSymbol{Name: ArgvName, Type: PointerTo(Str)})
	s.Set(&FuncSymbol{
		Name:      CharToIntName,
		Params:    []Param{{Name: "s", Type: TypeStr}},
		Return:    TypeInt,
		IsBuiltin: true,
	})
}
