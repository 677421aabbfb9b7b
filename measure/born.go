package measure

import (
	"context"
	"fmt"
	"math/cmplx"

	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/fieldsolve"
	"github.com/notargets/FMAKernel/utils"
)

// Born is the linearized scattering model about the current contrast.
// The Frechet derivative maps a contrast update d to the observed field of
// the current fld*d, where fld is the total field of one source.
type Born struct {
	cfg      *config.Config
	local    []int
	contrast []complex128
	solver   *fieldsolve.Solver
	obs      Observer

	work []complex128
}

// NewBorn returns the model. contrast is referenced by the model and by
// solver; in-place updates take effect on the next forward solve.
func NewBorn(cfg *config.Config, local []int, contrast []complex128, solver *fieldsolve.Solver, obs Observer) (*Born, error) {
	if len(contrast) != len(local) {
		return nil, fmt.Errorf("%w: contrast %d, local bases %d", utils.ErrLength, len(contrast), len(local))
	}
	return &Born{
		cfg:      cfg,
		local:    local,
		contrast: contrast,
		solver:   solver,
		obs:      obs,
		work:     make([]complex128, len(local)),
	}, nil
}

// Contrast returns the referenced local contrast
func (b *Born) Contrast() []complex128 { return b.contrast }

// NumObs is the number of observations per source
func (b *Born) NumObs() int { return b.obs.NumObs() }

// IncidentField fills fld with the field of a point source at src
func (b *Born) IncidentField(_ context.Context, src [3]float64, fld []complex128) error {
	return PointSource(b.cfg, b.local, src, fld)
}

// ForwardSolve replaces the incident field fld with the total field and
// returns the relative residual of the solve.
func (b *Born) ForwardSolve(ctx context.Context, fld []complex128, params config.SolverParams) (float64, error) {
	res, err := b.solver.Solve(ctx, fld, fld, params)
	if err != nil {
		return 0, fmt.Errorf("forward solve: %w", err)
	}
	return res.Residual, nil
}

// Scattered overwrites scat with the observed field of the contrast current
// excited by the total field fld.
func (b *Born) Scattered(ctx context.Context, fld, scat []complex128) error {
	if len(fld) != len(b.work) {
		return fmt.Errorf("%w: field %d, local bases %d", utils.ErrLength, len(fld), len(b.work))
	}
	for i, u := range fld {
		b.work[i] = u * b.contrast[i]
	}
	return b.obs.Observe(ctx, b.work, scat)
}

// Frechet overwrites scat with the derivative of the scattered field in
// the direction crt.
func (b *Born) Frechet(ctx context.Context, crt, fld, scat []complex128, _ config.SolverParams) error {
	if len(crt) != len(b.work) || len(fld) != len(b.work) {
		return fmt.Errorf("%w: update %d, field %d, local bases %d", utils.ErrLength, len(crt), len(fld), len(b.work))
	}
	for i, u := range fld {
		b.work[i] = u * crt[i]
	}
	return b.obs.Observe(ctx, b.work, scat)
}

// FrechetAdjoint adds the adjoint derivative applied to scat into crt
func (b *Born) FrechetAdjoint(ctx context.Context, scat, fld, crt []complex128, _ config.SolverParams) error {
	if len(crt) != len(b.work) || len(fld) != len(b.work) {
		return fmt.Errorf("%w: update %d, field %d, local bases %d", utils.ErrLength, len(crt), len(fld), len(b.work))
	}
	for i := range b.work {
		b.work[i] = 0
	}
	if err := b.obs.Adjoint(ctx, scat, b.work); err != nil {
		return err
	}
	for i, u := range fld {
		crt[i] += cmplx.Conj(u) * b.work[i]
	}
	return nil
}
