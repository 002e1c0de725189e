package codegen

type slotKey struct {
	scope int
	name  string
}

// StackFrame hands out rbp-relative slots for the function being emitted.
// Offsets are 8, 16, 24... in first-allocation order; the same (scope, name)
// always maps to the same slot until Reset.
type StackFrame struct {
	slots map[slotKey]int
	size  int
}

func NewStackFrame() *StackFrame {
	return &StackFrame{slots: make(map[slotKey]int)}
}

func (f *StackFrame) Allocate(scope int, name string) int {
	key := slotKey{scope, name}
	if off, ok := f.slots[key]; ok {
		return off
	}
	f.size += 8
	f.slots[key] = f.size
	return f.size
}

func (f *StackFrame) Offset(scope int, name string) (int, bool) {
	off, ok := f.slots[slotKey{scope, name}]
	return off, ok
}

// Size is the number of bytes used by the allocated slots.
func (f *StackFrame) Size() int { return f.size }

func (f *StackFrame) Reset() {
	clear(f.slots)
	f.size = 0
}
