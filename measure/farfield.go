package measure

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/notargets/FMAKernel/comm"
	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/tree"
	"github.com/notargets/FMAKernel/utils"
)

// FarField observes the far field of a contrast current in a fixed set of
// directions. Box patterns are taken from the tree's Interactions and
// shifted from box centers to the common origin.
type FarField struct {
	cfg   *config.Config
	comm  comm.Communicator
	tree  tree.Tree
	inter tree.Interactions

	boxes []tree.Box
	shift [][]complex128 // Per box: exp(-i k0 s.c) for every direction

	// Rescales the receiving pattern so Adjoint is the exact adjoint of
	// Observe: (k0 V) / (i k0^2 / (4 pi)).
	adjScale complex128

	acc  [][]complex128 // Per worker accumulators
	work [][]complex128 // Per worker box far fields
}

// NewFarField precomputes the box-center shifts for dirs. The pattern
// engine behind inter must sample the same directions.
func NewFarField(cfg *config.Config, c comm.Communicator, t tree.Tree, inter tree.Interactions, dirs [][3]float64) *FarField {
	f := &FarField{
		cfg:      cfg,
		comm:     c,
		tree:     t,
		inter:    inter,
		boxes:    t.Boxes(),
		adjScale: complex(0, -4*math.Pi*cfg.CellVolume()/cfg.K0),
		acc:      make([][]complex128, cfg.Threads),
		work:     make([][]complex128, cfg.Threads),
	}
	f.shift = make([][]complex128, len(f.boxes))
	for b, box := range f.boxes {
		cen := cfg.BoxCenter(box)
		row := make([]complex128, len(dirs))
		for d, s := range dirs {
			row[d] = cmplx.Exp(complex(0, -cfg.K0*(s[0]*cen[0]+s[1]*cen[1]+s[2]*cen[2])))
		}
		f.shift[b] = row
	}
	for w := range f.acc {
		f.acc[w] = make([]complex128, len(dirs))
		f.work[w] = make([]complex128, len(dirs))
	}
	return f
}

// NumObs is the length of an observation vector, one per direction
func (f *FarField) NumObs() int { return len(f.acc[0]) }

// Observe overwrites far with the far field of the local current cur,
// summed over all ranks. It is collective.
func (f *FarField) Observe(ctx context.Context, cur, far []complex128) error {
	nd := f.NumObs()
	if len(far) != nd {
		return fmt.Errorf("%w: far field %d, directions %d", utils.ErrLength, len(far), nd)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for w := range f.acc {
		for i := range f.acc[w] {
			f.acc[w][i] = 0
		}
	}
	err := utils.ParallelErr(len(f.boxes), f.cfg.Threads, func(start, end, worker int) error {
		acc, work := f.acc[worker], f.work[worker]
		for b := start; b < end; b++ {
			for i := range work {
				work[i] = 0
			}
			if err := f.inter.FarPattern(worker, f.boxes[b], 1, cur, work); err != nil {
				return fmt.Errorf("box %v: %w", f.boxes[b], err)
			}
			for d, v := range work {
				acc[d] += f.shift[b][d] * v
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Sum worker partials in worker order
	for i := range far {
		far[i] = 0
	}
	for _, acc := range f.acc {
		for i, v := range acc {
			far[i] += v
		}
	}
	if err := f.comm.AllReduceSumComplex(far); err != nil {
		return fmt.Errorf("reduce far field: %w", err)
	}
	return nil
}

// Adjoint adds the adjoint of Observe applied to far into the local
// current cur. far must be identical on every rank.
func (f *FarField) Adjoint(ctx context.Context, far, cur []complex128) error {
	nd := f.NumObs()
	if len(far) != nd {
		return fmt.Errorf("%w: far field %d, directions %d", utils.ErrLength, len(far), nd)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return utils.ParallelErr(len(f.boxes), f.cfg.Threads, func(start, end, worker int) error {
		work := f.work[worker]
		for b := start; b < end; b++ {
			for d, v := range far {
				work[d] = f.adjScale * cmplx.Conj(f.shift[b][d]) * v
			}
			if err := f.inter.FarPattern(worker, f.boxes[b], -1, cur, work); err != nil {
				return fmt.Errorf("box %v: %w", f.boxes[b], err)
			}
		}
		return nil
	})
}
