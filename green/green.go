// Package green precomputes the frequency-domain Green's function kernels
// used by the near-field convolution, one per neighbor-box offset.
package green

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/integration"
	"github.com/notargets/FMAKernel/utils"
)

// Offset is the displacement in boxes from a source box to the
// observation box, each component in [-NumBuffer, NumBuffer].
type Offset struct {
	X, Y, Z int
}

// Kernels holds the transformed, zero-padded Green's function grid of
// every neighbor-box offset. It is immutable once built and shared by all
// workers.
type Kernels struct {
	NumBuffer int
	Nbors     int
	PadLen    int // Transform length per axis, twice the box edge
	Volume    int // Samples per grid

	data []complex128
}

// OffsetIndex maps an offset to its grid index
func OffsetIndex(o Offset, numBuffer int) int {
	n := 2*numBuffer + 1
	return ((o.Z+numBuffer)*n+(o.Y+numBuffer))*n + (o.X + numBuffer)
}

// Index returns the grid index of o, failing when o is outside the buffer
func (k *Kernels) Index(o Offset) (int, error) {
	nb := k.NumBuffer
	if o.X < -nb || o.X > nb || o.Y < -nb || o.Y > nb || o.Z < -nb || o.Z > nb {
		return -1, fmt.Errorf("offset %+v outside neighbor radius %d", o, nb)
	}
	return OffsetIndex(o, nb), nil
}

// Offset is the inverse of Index
func (k *Kernels) Offset(idx int) Offset {
	n, nb := k.Nbors, k.NumBuffer
	return Offset{X: idx%n - nb, Y: (idx/n)%n - nb, Z: idx/(n*n) - nb}
}

// NumOffsets is the number of kernel grids
func (k *Kernels) NumOffsets() int { return k.Nbors * k.Nbors * k.Nbors }

// Grid returns the frequency-domain kernel of grid idx. The slice must be
// treated as read-only.
func (k *Kernels) Grid(idx int) []complex128 {
	return k.data[idx*k.Volume : (idx+1)*k.Volume]
}

// Bytes is the storage held by the kernel table
func (k *Kernels) Bytes() uint64 { return uint64(len(k.data)) * 16 }

// Build computes the kernels with the default 4-point integrator
func Build(ctx context.Context, cfg *config.Config) (*Kernels, error) {
	return BuildWith(ctx, cfg, integration.Default())
}

// BuildWith computes the kernels with the given integrator. Entries are
// computed concurrently, then all grids are forward transformed.
func BuildWith(ctx context.Context, cfg *config.Config, it *integration.Integrator) (*Kernels, error) {
	var (
		b   = cfg.BoxSize
		pad = cfg.PadLen()
		nb  = cfg.NumBuffer
	)
	k := &Kernels{
		NumBuffer: nb,
		Nbors:     cfg.Nbors(),
		PadLen:    pad,
		Volume:    cfg.PadVolume(),
	}
	k.data = make([]complex128, k.NumOffsets()*k.Volume)

	table, err := displacementTable(ctx, cfg, it)
	if err != nil {
		return nil, err
	}

	// Padded index -> in-box displacement; the middle sample stays zero.
	disp := make([]int, pad)
	valid := make([]bool, pad)
	for p := 0; p < pad; p++ {
		switch {
		case p < b:
			disp[p], valid[p] = p, true
		case p > b:
			disp[p], valid[p] = p-2*b, true
		}
	}

	err = utils.ParallelErr(k.NumOffsets(), cfg.Threads, func(start, end, worker int) error {
		for idx := start; idx < end; idx++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			o := k.Offset(idx)
			grid := k.data[idx*k.Volume : (idx+1)*k.Volume]
			for pz := 0; pz < pad; pz++ {
				for py := 0; py < pad; py++ {
					for px := 0; px < pad; px++ {
						if !valid[px] || !valid[py] || !valid[pz] {
							continue
						}
						d := [3]int{o.X*b + disp[px], o.Y*b + disp[py], o.Z*b + disp[pz]}
						grid[px+pad*(py+pad*pz)] = table.at(d)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fill green grids: %w", err)
	}

	plans := make([]*utils.FFT3, cfg.Threads)
	err = utils.ParallelErr(k.NumOffsets(), cfg.Threads, func(start, end, worker int) error {
		if plans[worker] == nil {
			plans[worker] = utils.NewFFT3(pad)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		plans[worker].ForwardBatch(k.data[start*k.Volume : end*k.Volume])
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transform green grids: %w", err)
	}

	slog.Info("green kernels built",
		"offsets", k.NumOffsets(),
		"padlen", pad,
		"size", humanize.Bytes(k.Bytes()))
	return k, nil
}

// Spatial returns the inverse transform of grid idx, the padded
// real-space kernel. Used for inspection and tests.
func (k *Kernels) Spatial(idx int) []complex128 {
	g := append([]complex128(nil), k.Grid(idx)...)
	utils.NewFFT3(k.PadLen).Inverse(g)
	return g
}

// table of impedances by absolute cell displacement. Cubic cells and a
// symmetric rule make the interaction even in every displacement component.
type impedanceTable struct {
	m    int // Largest absolute displacement per axis
	vals []complex128
}

func (t *impedanceTable) at(d [3]int) complex128 {
	n := t.m + 1
	return t.vals[abs(d[0])+n*(abs(d[1])+n*abs(d[2]))]
}

func displacementTable(ctx context.Context, cfg *config.Config, it *integration.Integrator) (*impedanceTable, error) {
	m := (cfg.NumBuffer+1)*cfg.BoxSize - 1
	n := m + 1
	t := &impedanceTable{m: m, vals: make([]complex128, n*n*n)}
	err := utils.ParallelErr(len(t.vals), cfg.Threads, func(start, end, worker int) error {
		for q := start; q < end; q++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			d := [3]int{q % n, (q / n) % n, q / (n * n)}
			t.vals[q] = it.ImpedanceAt(cfg, d)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("impedance table: %w", err)
	}
	return t, nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
