// Package nearfield evaluates the near interactions of one observation box
// with its neighbor-box cluster by zero-padded FFT convolution against the
// precomputed Green's function kernels.
package nearfield

import (
	"fmt"

	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/green"
	"github.com/notargets/FMAKernel/utils"
)

// Source is one basis current in the cluster around an observation box
type Source struct {
	Box   green.Offset // Source box relative to the observation box
	Slot  int          // Position within the source box
	Value complex128
}

// Observer requests the field at a slot of the observation box, added into
// out[Index].
type Observer struct {
	Slot  int
	Index int
}

// Engine applies near interactions. Scratch and transform plans are
// allocated per worker at construction; kernels are shared read-only.
type Engine struct {
	kernels *green.Kernels
	box     int
	pad     int
	vol     int

	padIndex []int // Box slot -> padded grid position
	plans    []*utils.FFT3
	work     []scratch
}

type scratch struct {
	grids   []complex128 // One padded grid per neighbor offset
	acc     []complex128 // Observation box accumulator
	touched []bool
	order   []int
}

// New sizes Threads x nbors^3 padded grids for the worker pool
func New(cfg *config.Config, kernels *green.Kernels) (*Engine, error) {
	if kernels.PadLen != cfg.PadLen() || kernels.NumBuffer != cfg.NumBuffer {
		return nil, fmt.Errorf("kernels built for padlen %d, buffer %d; configuration has %d, %d",
			kernels.PadLen, kernels.NumBuffer, cfg.PadLen(), cfg.NumBuffer)
	}
	e := &Engine{
		kernels:  kernels,
		box:      cfg.BoxSize,
		pad:      cfg.PadLen(),
		vol:      cfg.PadVolume(),
		padIndex: make([]int, cfg.BoxVolume()),
		plans:    make([]*utils.FFT3, cfg.Threads),
		work:     make([]scratch, cfg.Threads),
	}
	b, p := e.box, e.pad
	for s := range e.padIndex {
		e.padIndex[s] = s%b + p*((s/b)%b+p*(s/(b*b)))
	}
	nOff := kernels.NumOffsets()
	for w := range e.work {
		e.plans[w] = utils.NewFFT3(p)
		e.work[w] = scratch{
			grids:   make([]complex128, nOff*e.vol),
			acc:     make([]complex128, e.vol),
			touched: make([]bool, nOff),
			order:   make([]int, 0, nOff),
		}
	}
	return e, nil
}

// Workers is the number of independent scratch arenas
func (e *Engine) Workers() int { return len(e.work) }

// Apply adds the field radiated by cluster into the observers of the
// observation box, out[obs.Index] += sum over sources of G * value.
func (e *Engine) Apply(worker int, cluster []Source, observers []Observer, out []complex128) error {
	if worker < 0 || worker >= len(e.work) {
		return fmt.Errorf("near-field worker %d outside [0,%d)", worker, len(e.work))
	}
	nb := e.kernels.NumBuffer
	bv := len(e.padIndex)
	for _, src := range cluster {
		o := src.Box
		if o.X < -nb || o.X > nb || o.Y < -nb || o.Y > nb || o.Z < -nb || o.Z > nb {
			return fmt.Errorf("%w: source box %+v outside neighbor radius %d", utils.ErrOffset, o, nb)
		}
		if src.Slot < 0 || src.Slot >= bv {
			return fmt.Errorf("%w: source slot %d outside box of %d", utils.ErrOffset, src.Slot, bv)
		}
	}
	for _, obs := range observers {
		if obs.Slot < 0 || obs.Slot >= bv {
			return fmt.Errorf("%w: observer slot %d outside box of %d", utils.ErrOffset, obs.Slot, bv)
		}
		if obs.Index < 0 || obs.Index >= len(out) {
			return fmt.Errorf("%w: observer index %d, output holds %d", utils.ErrLength, obs.Index, len(out))
		}
	}
	if len(cluster) == 0 || len(observers) == 0 {
		return nil
	}

	ws := &e.work[worker]
	ws.order = ws.order[:0]
	for i := range ws.touched {
		ws.touched[i] = false
	}

	// Scatter each source into the padded grid of its box. The kernel
	// offset runs from source box to observation box.
	for _, src := range cluster {
		idx := green.OffsetIndex(green.Offset{X: -src.Box.X, Y: -src.Box.Y, Z: -src.Box.Z}, nb)
		grid := ws.grids[idx*e.vol : (idx+1)*e.vol]
		if !ws.touched[idx] {
			ws.touched[idx] = true
			ws.order = append(ws.order, idx)
			for i := range grid {
				grid[i] = 0
			}
		}
		grid[e.padIndex[src.Slot]] += src.Value
	}

	// Transform, filter and sum every occupied box into the accumulator
	plan := e.plans[worker]
	for i := range ws.acc {
		ws.acc[i] = 0
	}
	for _, idx := range ws.order {
		grid := ws.grids[idx*e.vol : (idx+1)*e.vol]
		plan.Forward(grid)
		kern := e.kernels.Grid(idx)
		for i, g := range grid {
			ws.acc[i] += g * kern[i]
		}
	}
	plan.Inverse(ws.acc)

	for _, obs := range observers {
		out[obs.Index] += ws.acc[e.padIndex[obs.Slot]]
	}
	return nil
}
