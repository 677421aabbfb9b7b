// Package krylov solves the regularized linear inverse problem of one
// DBIM step with conjugate gradients, either on the normal equations in
// basis space (CGLS) or in measurement space (CGMN).
package krylov

import (
	"context"
	"fmt"

	"github.com/notargets/FMAKernel/comm"
	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/utils"
	"gonum.org/v1/gonum/cmplxs"
)

// Model is the linearized scattering model the solvers act on. Field and
// current vectors are local to the rank; observation vectors hold NumObs
// values and are identical on every rank. Every method is collective.
type Model interface {
	// IncidentField fills fld with the incident field of a source at src
	IncidentField(ctx context.Context, src [3]float64, fld []complex128) error
	// ForwardSolve replaces an incident field with the total field and
	// returns the relative residual reached. Non-convergence is not an error.
	ForwardSolve(ctx context.Context, fld []complex128, params config.SolverParams) (float64, error)
	// Frechet overwrites scat with the derivative in direction crt about fld
	Frechet(ctx context.Context, crt, fld, scat []complex128, params config.SolverParams) error
	// FrechetAdjoint adds the adjoint derivative of scat about fld into crt
	FrechetAdjoint(ctx context.Context, scat, fld, crt []complex128, params config.SolverParams) error
}

// Problem binds a model to its sources and sizes
type Problem struct {
	Model    Model
	Comm     comm.Communicator
	Sources  [][3]float64
	NumObs   int // Observations per source
	NumLocal int // Local bases on this rank
	Params   config.SolverParams
}

// Options override the iteration budget and tolerance of Params.
// Zero values take the Params defaults.
type Options struct {
	MaxIterations  int
	Tolerance      float64
	Regularization float64
}

// Result reports a least-squares solve
type Result struct {
	RelativeResidual float64
	Iterations       int
	History          []float64 // Relative residual after every iteration
}

func (p *Problem) options(opts Options) Options {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = p.Params.MaxIt
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = p.Params.EpsCG
	}
	return opts
}

func (p *Problem) check() error {
	if p.Model == nil || p.Comm == nil {
		return fmt.Errorf("krylov problem needs a model and a communicator")
	}
	if len(p.Sources) == 0 {
		return fmt.Errorf("krylov problem has no sources")
	}
	if p.NumObs <= 0 || p.NumLocal < 0 {
		return fmt.Errorf("krylov problem sizes: %d observations, %d local bases", p.NumObs, p.NumLocal)
	}
	return nil
}

// fields solves for the total field of every source
func (p *Problem) fields(ctx context.Context) ([][]complex128, error) {
	flds := make([][]complex128, len(p.Sources))
	for i, src := range p.Sources {
		fld := make([]complex128, p.NumLocal)
		if err := p.Model.IncidentField(ctx, src, fld); err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		if _, err := p.Model.ForwardSolve(ctx, fld, p.Params); err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		flds[i] = fld
	}
	return flds, nil
}

// sqnorm returns the squared norm of a local vector summed over ranks
func (p *Problem) sqnorm(x []complex128) (float64, error) {
	buf := []float64{real(cmplxs.Dot(x, x))}
	if err := p.Comm.AllReduceSum(buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func checkLen(name string, v []complex128, n int) error {
	if len(v) != n {
		return fmt.Errorf("%w: %s %d, want %d", utils.ErrLength, name, len(v), n)
	}
	return nil
}
