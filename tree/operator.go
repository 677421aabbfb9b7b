package tree

import (
	"context"
	"fmt"

	"github.com/notargets/FMAKernel/comm"
	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/utils"
)

// Operator applies the impedance matrix to a distributed current using
// near interactions only. Every box pair of the grid must fall within the
// neighbor radius.
type Operator struct {
	cfg   *config.Config
	comm  comm.Communicator
	tree  Tree
	inter Interactions

	global []complex128
}

// NewOperator checks that near interactions cover the whole grid
func NewOperator(cfg *config.Config, c comm.Communicator, t Tree, inter Interactions) (*Operator, error) {
	n := cfg.BoxesPerAxis()
	for d := 0; d < 3; d++ {
		if n[d]-1 > cfg.NumBuffer {
			return nil, fmt.Errorf("%w: %d boxes along axis %d with neighbor radius %d",
				ErrFarInteraction, n[d], d, cfg.NumBuffer)
		}
	}
	return &Operator{
		cfg:    cfg,
		comm:   c,
		tree:   t,
		inter:  inter,
		global: make([]complex128, cfg.NumBases()),
	}, nil
}

// NumLocal is the length of the local vectors
func (op *Operator) NumLocal() int { return len(op.tree.LocalBases()) }

// Apply overwrites out with Z*in over the local bases. It is collective:
// every rank must call it.
func (op *Operator) Apply(ctx context.Context, in, out []complex128) error {
	local := op.tree.LocalBases()
	if len(in) != len(local) || len(out) != len(local) {
		return fmt.Errorf("%w: in %d, out %d, local bases %d", utils.ErrLength, len(in), len(out), len(local))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Assemble the global current on every rank
	for i := range op.global {
		op.global[i] = 0
	}
	for n, gi := range local {
		op.global[gi] = in[n]
	}
	if err := op.comm.AllReduceSumComplex(op.global); err != nil {
		return fmt.Errorf("assemble current: %w", err)
	}

	for i := range out {
		out[i] = 0
	}
	boxes := op.tree.Boxes()
	return utils.ParallelErr(len(boxes), op.cfg.Threads, func(start, end, worker int) error {
		for _, box := range boxes[start:end] {
			if err := op.inter.Near(worker, box, op.global, out); err != nil {
				return fmt.Errorf("box %v: %w", box, err)
			}
		}
		return nil
	})
}
