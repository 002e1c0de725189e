package codegen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// LabelGen names jump targets. Every label carries the generator's suffix and a
// counter, so no two labels of one compilation collide.
type LabelGen struct {
	suffix string
	count  int
}

// NewLabelGen uses seed as the suffix, or a random one when seed is empty.
func NewLabelGen(seed string) *LabelGen {
	if seed == "" {
		seed = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	return &LabelGen{suffix: seed}
}

func (g *LabelGen) New(kind string) string {
	g.count++
	return fmt.Sprintf("L_%s_%s_%d", kind, g.suffix, g.count)
}
