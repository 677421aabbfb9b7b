package element

import (
	"fmt"

	"github.com/notargets/FMAKernel/config"
)

// Cell is a cubic basis function on the regular grid. It owns no state
// beyond its index; the contrast and fields living on it are entries of the
// solver vectors at the cell's local ordinal.
type Cell struct {
	Index   int    // Global basis index
	I, J, K int    // Grid coordinates
	Box     [3]int // Coordinates of the enclosing box
	Slot    int    // Position inside the box, x fastest
}

// NewCells builds the local cell list from the externally assigned local
// basis indices. Local ordinal n refers to local[n].
func NewCells(cfg *config.Config, local []int) ([]Cell, error) {
	var (
		nb   = cfg.NumBases()
		seen = make(map[int]struct{}, len(local))
	)
	cells := make([]Cell, len(local))
	for n, gi := range local {
		if gi < 0 || gi >= nb {
			return nil, fmt.Errorf("basis %d at ordinal %d outside grid of %d cells", gi, n, nb)
		}
		if _, dup := seen[gi]; dup {
			return nil, fmt.Errorf("basis %d listed twice", gi)
		}
		seen[gi] = struct{}{}
		i, j, k := cfg.BasisIndex(gi)
		cells[n] = Cell{
			Index: gi,
			I:     i,
			J:     j,
			K:     k,
			Box:   cfg.BoxOf(gi),
			Slot:  cfg.LocalSlot(gi),
		}
	}
	return cells, nil
}

// Indices returns the global basis indices of cells in ordinal order
func Indices(cells []Cell) []int {
	idx := make([]int, len(cells))
	for n, c := range cells {
		idx[n] = c.Index
	}
	return idx
}
