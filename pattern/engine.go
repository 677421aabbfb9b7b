package pattern

import (
	"fmt"
	"math"

	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/utils"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/cblas128"
)

// Engine maps box-local currents to and from sampled far fields using a
// shared Table. Each worker id owns one slot buffer.
type Engine struct {
	table *Table

	// Radiation scale k0*V and reception scale i*k0^2/(4 pi). The
	// reception factor carries the 4 pi left out of the radiation
	// pattern.
	RadScale complex128
	RcvScale complex128

	bufs [][]complex128
}

// NewEngine sizes one box buffer per configured worker
func NewEngine(cfg *config.Config, table *Table) *Engine {
	e := &Engine{
		table:    table,
		RadScale: complex(cfg.K0*cfg.CellVolume(), 0),
		RcvScale: complex(0, cfg.K0*cfg.K0/(4*math.Pi)),
		bufs:     make([][]complex128, cfg.Threads),
	}
	for w := range e.bufs {
		e.bufs[w] = make([]complex128, table.A.Cols)
	}
	return e
}

// NumDirs is the length of a far-field vector
func (e *Engine) NumDirs() int { return e.table.NumDirs() }

// Workers is the number of independent worker buffers
func (e *Engine) Workers() int { return len(e.bufs) }

// Radiate adds the far field of the box currents cur, placed at box slots
// slots, into far.
func (e *Engine) Radiate(worker int, slots []int, cur, far []complex128) error {
	buf, err := e.prepare(worker, slots, cur, far)
	if err != nil {
		return err
	}
	for q, s := range slots {
		buf[s] += cur[q]
	}
	cblas128.Gemv(blas.NoTrans, e.RadScale, e.table.A,
		cblas128.Vector{N: len(buf), Inc: 1, Data: buf},
		1, cblas128.Vector{N: len(far), Inc: 1, Data: far})
	return nil
}

// Receive adds the received currents of the far field far into cur at the
// given box slots.
func (e *Engine) Receive(worker int, slots []int, far, cur []complex128) error {
	buf, err := e.prepare(worker, slots, cur, far)
	if err != nil {
		return err
	}
	cblas128.Gemv(blas.ConjTrans, e.RcvScale, e.table.A,
		cblas128.Vector{N: len(far), Inc: 1, Data: far},
		0, cblas128.Vector{N: len(buf), Inc: 1, Data: buf})
	for q, s := range slots {
		cur[q] += buf[s]
	}
	return nil
}

// Apply radiates when sgn >= 0 and receives otherwise
func (e *Engine) Apply(worker, sgn int, slots []int, cur, far []complex128) error {
	if sgn >= 0 {
		return e.Radiate(worker, slots, cur, far)
	}
	return e.Receive(worker, slots, far, cur)
}

func (e *Engine) prepare(worker int, slots []int, cur, far []complex128) ([]complex128, error) {
	if worker < 0 || worker >= len(e.bufs) {
		return nil, fmt.Errorf("pattern worker %d outside [0,%d)", worker, len(e.bufs))
	}
	if len(slots) != len(cur) {
		return nil, fmt.Errorf("%w: %d slots for %d currents", utils.ErrLength, len(slots), len(cur))
	}
	if len(far) != e.NumDirs() {
		return nil, fmt.Errorf("%w: far field of %d samples, want %d", utils.ErrLength, len(far), e.NumDirs())
	}
	buf := e.bufs[worker]
	for _, s := range slots {
		if s < 0 || s >= len(buf) {
			return nil, fmt.Errorf("%w: slot %d outside box of %d", utils.ErrOffset, s, len(buf))
		}
	}
	for i := range buf {
		buf[i] = 0
	}
	return buf, nil
}
