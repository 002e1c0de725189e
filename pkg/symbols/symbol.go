package symbols

type Kind int

const (
	KindType Kind = iota
	KindVar
	KindFunc
)

func (k Kind) String() string {
	switch k {
	case KindType:
		return "type"
	case KindVar:
		return "variable"
	case KindFunc:
		return "function"
	}
	return "unknown"
}

type Symbol interface {
	SymbolName() string
	Kind() Kind
}

type TypeSymbol struct {
	Name string
	Type Type
}

func (s *TypeSymbol) SymbolName() string { return s.Name }
func (s *TypeSymbol) Kind() Kind         { return KindType }

// VarSymbol is a scalar variable, or an array when Dims is non-empty.
type VarSymbol struct {
	Name string
	Type Type
	Dims []int
}

func (s *VarSymbol) SymbolName() string { return s.Name }
func (s *VarSymbol) Kind() Kind         { return KindVar }
func (s *VarSymbol) IsArray() bool      { return len(s.Dims) > 0 }

// Cells is the number of 8-byte cells the variable occupies.
func (s *VarSymbol) Cells() int {
	n := 1
	for _, d := range s.Dims {
		n *= d
	}
	return n
}

type Param struct {
	Name string
	Type Type
}

type FuncSymbol struct {
	Name   string
	Params []Param
	Return Type
	// IsExternal functions come from a shared library and have no known signature.
	IsExternal bool
	// IsBuiltin functions are emitted by the backend itself.
	IsBuiltin    bool
	IsReallyUsed bool
}

func (s *FuncSymbol) SymbolName() string { return s.Name }
func (s *FuncSymbol) Kind() Kind         { return KindFunc }
