package pattern

import (
	"fmt"
	"log/slog"
	"math/cmplx"

	"github.com/dustin/go-humanize"
	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/utils"
	"gonum.org/v1/gonum/blas/cblas128"
)

// Table holds exp(-i k0 s.(r - c)) for every sampled direction s and every
// slot position r of a box centered at c. Rows are directions; columns are
// box slots. The same table serves radiation and, through its conjugate
// transpose, reception.
type Table struct {
	Dirs [][3]float64
	A    cblas128.General
}

// NewTable computes the pattern table, one direction per row in parallel
func NewTable(cfg *config.Config, dirs [][3]float64) (*Table, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("pattern table needs at least one direction")
	}
	nd, nb := len(dirs), cfg.BoxVolume()
	t := &Table{
		Dirs: dirs,
		A: cblas128.General{
			Rows:   nd,
			Cols:   nb,
			Stride: nb,
			Data:   make([]complex128, nd*nb),
		},
	}

	rel := make([][3]float64, nb)
	for l := range rel {
		rel[l] = cfg.SlotPosition(l)
	}

	k0 := cfg.K0
	utils.Parallel(nd, cfg.Threads, func(start, end, worker int) {
		for d := start; d < end; d++ {
			s := dirs[d]
			row := t.A.Data[d*nb : (d+1)*nb]
			for l, r := range rel {
				sr := s[0]*r[0] + s[1]*r[1] + s[2]*r[2]
				row[l] = cmplx.Exp(complex(0, -k0*sr))
			}
		}
	})

	slog.Debug("pattern table built",
		"directions", nd,
		"slots", nb,
		"size", humanize.Bytes(uint64(len(t.A.Data))*16))
	return t, nil
}

// NumDirs is the number of sampled directions
func (t *Table) NumDirs() int { return t.A.Rows }
