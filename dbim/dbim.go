// Package dbim drives the distorted Born iterative method: repeated
// linearization of the scattering model about the current contrast and a
// regularized least-squares update from krylov.CGLS.
package dbim

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/notargets/FMAKernel/comm"
	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/krylov"
	"github.com/notargets/FMAKernel/utils"
	"gonum.org/v1/gonum/cmplxs"
)

// Model is a scattering model linearized about a mutable contrast
type Model interface {
	krylov.Model
	// Scattered overwrites scat with the far field of the contrast
	// current excited by the total field fld.
	Scattered(ctx context.Context, fld, scat []complex128) error
	// Contrast returns the local contrast the model is linearized about.
	// Updates are made in place.
	Contrast() []complex128
}

// Step identifies one contrast update
type Step struct {
	Pass      int // 1 for the leapfrogging pass, 2 for the final pass
	Iteration int
	Source    int // Source used by the update, -1 when all were used
	DBIMError float64
	CGError   float64
}

// Recorder receives the local contrast after every update. It is called
// on every rank.
type Recorder interface {
	Record(ctx context.Context, step Step, contrast []complex128) error
}

// RecorderFunc adapts a function to Recorder
type RecorderFunc func(ctx context.Context, step Step, contrast []complex128) error

// Record calls f
func (f RecorderFunc) Record(ctx context.Context, step Step, contrast []complex128) error {
	return f(ctx, step, contrast)
}

// Problem is an inversion: a model, the sources that excited the
// measurements and the solver schedule.
type Problem struct {
	Model    Model
	Comm     comm.Communicator
	Sources  [][3]float64
	NumObs   int
	NumLocal int
	High     config.SolverParams // Forward solves of the error
	Low      config.SolverParams // Linearized solves of the first pass
	Params   config.DBIMParams
	Recorder Recorder // Optional
}

// Summary reports a finished inversion
type Summary struct {
	Error      float64 // Relative misfit measured before the last update
	Iterations int
	Steps      []Step
}

// Error returns the relative misfit sqrt(sum |meas - scat|^2 / sum |meas|^2)
// of the model over sources. When rn is not nil it is overwritten with the
// adjoint derivative of the misfit, the right-hand side of CGLS. meas holds
// one block of NumObs observations per source. With zero measurements the
// absolute misfit is returned.
func Error(ctx context.Context, p *Problem, sources [][3]float64, meas, rn []complex128, high, low config.SolverParams) (float64, error) {
	if len(meas) != len(sources)*p.NumObs {
		return 0, fmt.Errorf("%w: measurements %d, want %d", utils.ErrLength, len(meas), len(sources)*p.NumObs)
	}
	if rn != nil {
		if len(rn) != p.NumLocal {
			return 0, fmt.Errorf("%w: residual %d, local bases %d", utils.ErrLength, len(rn), p.NumLocal)
		}
		for i := range rn {
			rn[i] = 0
		}
	}
	fld := make([]complex128, p.NumLocal)
	misfit := make([]complex128, p.NumObs)
	var errnorm, errd float64
	for j, src := range sources {
		if err := p.Model.IncidentField(ctx, src, fld); err != nil {
			return 0, fmt.Errorf("source %d: %w", j, err)
		}
		if _, err := p.Model.ForwardSolve(ctx, fld, high); err != nil {
			return 0, fmt.Errorf("source %d: %w", j, err)
		}
		if err := p.Model.Scattered(ctx, fld, misfit); err != nil {
			return 0, fmt.Errorf("source %d: %w", j, err)
		}
		m := meas[j*p.NumObs : (j+1)*p.NumObs]
		for k := range misfit {
			misfit[k] = m[k] - misfit[k]
		}
		errnorm += real(cmplxs.Dot(misfit, misfit))
		errd += real(cmplxs.Dot(m, m))
		if rn != nil {
			if err := p.Model.FrechetAdjoint(ctx, misfit, fld, rn, low); err != nil {
				return 0, fmt.Errorf("source %d: %w", j, err)
			}
		}
	}
	if errd == 0 {
		return math.Sqrt(errnorm), nil
	}
	return math.Sqrt(errnorm / errd), nil
}

// Run inverts meas in two passes. The first pass updates the contrast
// once per source with low-accuracy linear solves and a decreasing
// regularization, and stops early when the misfit over all sources falls
// below the tolerance. The second pass makes two high-accuracy updates
// using all sources at the minimum regularization.
func Run(ctx context.Context, p *Problem, meas []complex128) (Summary, error) {
	var sum Summary
	if len(meas) != len(p.Sources)*p.NumObs {
		return sum, fmt.Errorf("%w: measurements %d, want %d", utils.ErrLength, len(meas), len(p.Sources)*p.NumObs)
	}
	contrast := p.Model.Contrast()
	if len(contrast) != p.NumLocal {
		return sum, fmt.Errorf("%w: contrast %d, local bases %d", utils.ErrLength, len(contrast), p.NumLocal)
	}
	if err := p.Comm.Barrier(); err != nil {
		return sum, err
	}
	lead := p.Comm.Rank() == 0
	reg := p.Params.Regularization
	rn := make([]complex128, p.NumLocal)
	crt := make([]complex128, p.NumLocal)

	update := func(step Step, sources [][3]float64, params config.SolverParams, lambda float64) error {
		cg, err := krylov.CGLS(ctx, &krylov.Problem{
			Model:    p.Model,
			Comm:     p.Comm,
			Sources:  sources,
			NumObs:   p.NumObs,
			NumLocal: p.NumLocal,
			Params:   params,
		}, rn, crt, krylov.Options{Regularization: lambda})
		if err != nil {
			return fmt.Errorf("pass %d iteration %d: %w", step.Pass, step.Iteration, err)
		}
		cmplxs.Add(contrast, crt)
		step.CGError = cg.RelativeResidual
		sum.Steps = append(sum.Steps, step)
		sum.Error = step.DBIMError
		if lead {
			slog.Info("dbim update", "pass", step.Pass, "iteration", step.Iteration,
				"source", step.Source, "dbim", step.DBIMError, "cg", step.CGError)
		}
		if p.Recorder != nil {
			if err := p.Recorder.Record(ctx, step, contrast); err != nil {
				return fmt.Errorf("record pass %d iteration %d: %w", step.Pass, step.Iteration, err)
			}
		}
		return nil
	}

	if lead {
		slog.Info("first dbim pass", "iterations", p.Params.Iterations, "sources", len(p.Sources))
	}
	i := 0
	for ; i < p.Params.Iterations; i++ {
		for q, src := range p.Sources {
			sources := p.Sources[q : q+1]
			errnorm, err := Error(ctx, p, sources, meas[q*p.NumObs:(q+1)*p.NumObs], rn, p.High, p.Low)
			if err != nil {
				return sum, fmt.Errorf("pass 1 iteration %d source %v: %w", i, src, err)
			}
			if err := update(Step{Pass: 1, Iteration: i, Source: q, DBIMError: errnorm}, sources, p.Low, reg[0]); err != nil {
				return sum, err
			}
		}

		errnorm, err := Error(ctx, p, p.Sources, meas, nil, p.High, p.Low)
		if err != nil {
			return sum, fmt.Errorf("pass 1 iteration %d: %w", i, err)
		}
		sum.Error = errnorm
		if lead {
			slog.Info("dbim relative error", "iteration", i, "error", errnorm)
		}
		if errnorm < p.Params.Tolerance {
			break
		}
		if r := nextRegularization(reg, i); r != reg[0] {
			reg[0] = r
			if lead {
				slog.Info("regularization parameter", "value", reg[0])
			}
		}
	}

	if i < p.Params.Iterations {
		i++
	}
	if lead {
		slog.Info("second dbim pass")
	}
	for end := i + 2; i < end; i++ {
		errnorm, err := Error(ctx, p, p.Sources, meas, rn, p.High, p.High)
		if err != nil {
			return sum, fmt.Errorf("pass 2 iteration %d: %w", i, err)
		}
		if err := update(Step{Pass: 2, Iteration: i, Source: -1, DBIMError: errnorm}, p.Sources, p.High, reg[1]); err != nil {
			return sum, err
		}
	}
	sum.Iterations = i
	return sum, nil
}

// nextRegularization applies the schedule [initial, minimum, factor,
// interval] after iteration i
func nextRegularization(reg [4]float64, i int) float64 {
	interval := int(reg[3])
	if interval < 1 {
		interval = 1
	}
	if (i+1)%interval == 0 && reg[0] > reg[1] {
		return reg[0] * reg[2]
	}
	return reg[0]
}
