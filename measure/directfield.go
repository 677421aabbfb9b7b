package measure

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/notargets/FMAKernel/comm"
	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/integration"
	"github.com/notargets/FMAKernel/utils"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/cblas128"
)

// Observer maps a local contrast current to replicated observations and
// back. Observe is collective; Adjoint is local and accumulates.
type Observer interface {
	NumObs() int
	Observe(ctx context.Context, cur, obs []complex128) error
	Adjoint(ctx context.Context, obs, cur []complex128) error
}

// DirectField observes the scattered field at observers a finite distance
// from the grid. Each local basis radiates from its center:
//
//	obs_m = k0^2 V / (4 pi) sum_n exp(i k0 R_mn) / R_mn cur_n
//
// which is the near-field kernel of the volume integral equation taken at
// one point of the source cell.
type DirectField struct {
	comm comm.Communicator
	nobs int

	// Observers by local bases; empty when the rank holds no bases
	A cblas128.General
}

// NewDirectField fills the kernel matrix between locs and the centers of
// the local bases. An observer on a basis center is rejected.
func NewDirectField(cfg *config.Config, c comm.Communicator, local []int, locs [][3]float64) (*DirectField, error) {
	if len(locs) == 0 {
		return nil, fmt.Errorf("direct field needs at least one observer")
	}
	f := &DirectField{comm: c, nobs: len(locs)}
	nl := len(local)
	if nl == 0 {
		return f, nil
	}
	f.A = cblas128.General{Rows: len(locs), Cols: nl, Stride: nl, Data: make([]complex128, len(locs)*nl)}

	k := complex(cfg.K0, 0)
	scale := k * k * complex(cfg.CellVolume()/(4*math.Pi), 0)
	centers := make([][3]float64, nl)
	for n, gi := range local {
		centers[n] = cfg.BasisCenter(gi)
	}
	err := utils.ParallelErr(len(locs), cfg.Threads, func(start, end, _ int) error {
		for m := start; m < end; m++ {
			row := f.A.Data[m*nl : (m+1)*nl]
			for n, cen := range centers {
				if cen == locs[m] {
					return fmt.Errorf("observer %d at the center of basis %d", m, local[n])
				}
				row[n] = scale * integration.Green(k, locs[m], cen)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("direct field kernel built", "observers", len(locs), "bases", nl,
		"size", humanize.Bytes(uint64(len(f.A.Data))*16))
	return f, nil
}

// NumObs is the length of an observation vector
func (f *DirectField) NumObs() int { return f.nobs }

// Observe overwrites obs with the field of the local current cur, summed
// over all ranks. It is collective.
func (f *DirectField) Observe(ctx context.Context, cur, obs []complex128) error {
	if err := f.check(cur, obs); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range obs {
		obs[i] = 0
	}
	if f.A.Cols > 0 {
		cblas128.Gemv(blas.NoTrans, 1, f.A,
			cblas128.Vector{N: len(cur), Inc: 1, Data: cur},
			0, cblas128.Vector{N: len(obs), Inc: 1, Data: obs})
	}
	if err := f.comm.AllReduceSumComplex(obs); err != nil {
		return fmt.Errorf("reduce direct field: %w", err)
	}
	return nil
}

// Adjoint adds the adjoint of Observe applied to obs into cur. obs must be
// identical on every rank.
func (f *DirectField) Adjoint(ctx context.Context, obs, cur []complex128) error {
	if err := f.check(cur, obs); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.A.Cols > 0 {
		cblas128.Gemv(blas.ConjTrans, 1, f.A,
			cblas128.Vector{N: len(obs), Inc: 1, Data: obs},
			1, cblas128.Vector{N: len(cur), Inc: 1, Data: cur})
	}
	return nil
}

func (f *DirectField) check(cur, obs []complex128) error {
	if len(obs) != f.nobs || len(cur) != f.A.Cols {
		return fmt.Errorf("%w: observations %d of %d, current %d of %d",
			utils.ErrLength, len(obs), f.nobs, len(cur), f.A.Cols)
	}
	return nil
}
