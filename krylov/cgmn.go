package krylov

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/cmplxs"
)

// CGMN solves the regularized system in measurement space
//
//	(sum_s F_s F_s^H + lambda I) y = rhs,  sol = sum_s F_s^H y_s
//
// rhs holds len(Sources)*NumObs observations, source slowest, and is
// identical on every rank. sol is overwritten with the basis-space
// solution.
func CGMN(ctx context.Context, p *Problem, rhs, sol []complex128, opts Options) (Result, error) {
	var res Result
	if err := p.check(); err != nil {
		return res, err
	}
	nmeas := len(p.Sources) * p.NumObs
	if err := checkLen("measurements", rhs, nmeas); err != nil {
		return res, err
	}
	if err := checkLen("solution", sol, p.NumLocal); err != nil {
		return res, err
	}
	opts = p.options(opts)
	lambda := complex(opts.Regularization, 0)

	for i := range sol {
		sol[i] = 0
	}
	rn := append([]complex128(nil), rhs...)
	rnorm := real(cmplxs.Dot(rn, rn))
	rninc := rnorm
	if rninc == 0 {
		return res, nil
	}
	pnorm := rnorm
	res.RelativeResidual = 1

	flds, err := p.fields(ctx)
	if err != nil {
		return res, err
	}
	pn := append([]complex128(nil), rn...)
	scat := make([]complex128, nmeas)
	asol := make([]complex128, nmeas)
	adj := make([]complex128, p.NumLocal)

	for res.Iterations < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		for i := range adj {
			adj[i] = 0
		}
		if err := p.adjoint(ctx, flds, pn, adj); err != nil {
			return res, err
		}
		anorm, err := p.sqnorm(adj)
		if err != nil {
			return res, err
		}
		den := anorm + opts.Regularization*pnorm
		if den == 0 {
			slog.Debug("cgmn breakdown", "iteration", res.Iterations)
			break
		}
		alpha := complex(rnorm/den, 0)
		prev := rnorm

		for s, fld := range flds {
			obs := scat[s*p.NumObs : (s+1)*p.NumObs]
			if err := p.Model.Frechet(ctx, adj, fld, obs, p.Params); err != nil {
				return res, fmt.Errorf("frechet, source %d: %w", s, err)
			}
		}

		// rn -= alpha (scat + lambda pn)
		cmplxs.AddScaled(scat, lambda, pn)
		cmplxs.AddScaled(rn, -alpha, scat)
		rnorm = real(cmplxs.Dot(rn, rn))
		beta := complex(rnorm/prev, 0)

		cmplxs.AddScaled(asol, alpha, pn)
		cmplxs.Scale(beta, pn)
		cmplxs.Add(pn, rn)
		pnorm = real(cmplxs.Dot(pn, pn))

		res.Iterations++
		res.RelativeResidual = math.Sqrt(rnorm / rninc)
		res.History = append(res.History, res.RelativeResidual)
		if res.RelativeResidual < opts.Tolerance {
			break
		}
	}

	if err := p.adjoint(ctx, flds, asol, sol); err != nil {
		return res, err
	}
	slog.Debug("cgmn", "iterations", res.Iterations, "residual", res.RelativeResidual)
	return res, nil
}

// adjoint adds sum_s F_s^H y_s into crt
func (p *Problem) adjoint(ctx context.Context, flds [][]complex128, y, crt []complex128) error {
	for s, fld := range flds {
		obs := y[s*p.NumObs : (s+1)*p.NumObs]
		if err := p.Model.FrechetAdjoint(ctx, obs, fld, crt, p.Params); err != nil {
			return fmt.Errorf("frechet adjoint, source %d: %w", s, err)
		}
	}
	return nil
}
