package krylov

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/cmplxs"
)

// CGLS solves the regularized normal equations
//
//	(sum_s F_s^H F_s + lambda I) sol = rn
//
// where rn is the precomputed basis-space residual sum_s F_s^H err_s. sol
// is overwritten and rn is consumed as the working residual. The fields of
// every source are solved once and reused by all iterations.
func CGLS(ctx context.Context, p *Problem, rn, sol []complex128, opts Options) (Result, error) {
	var res Result
	if err := p.check(); err != nil {
		return res, err
	}
	if err := checkLen("residual", rn, p.NumLocal); err != nil {
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
	rnorm, err := p.sqnorm(rn)
	if err != nil {
		return res, err
	}
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
	adj := make([]complex128, p.NumLocal)
	scat := make([]complex128, p.NumObs)
	rank, size := p.Comm.Rank(), p.Comm.Size()

	for res.Iterations < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		for i := range adj {
			adj[i] = 0
		}
		// Observations are replicated; each rank sums the sources it owns
		var fnorm float64
		for s, fld := range flds {
			if err := p.Model.Frechet(ctx, pn, fld, scat, p.Params); err != nil {
				return res, fmt.Errorf("frechet, source %d: %w", s, err)
			}
			if err := p.Model.FrechetAdjoint(ctx, scat, fld, adj, p.Params); err != nil {
				return res, fmt.Errorf("frechet adjoint, source %d: %w", s, err)
			}
			if s%size == rank {
				fnorm += real(cmplxs.Dot(scat, scat))
			}
		}
		buf := []float64{fnorm}
		if err := p.Comm.AllReduceSum(buf); err != nil {
			return res, err
		}
		den := buf[0] + opts.Regularization*pnorm
		if den == 0 {
			slog.Debug("cgls breakdown", "iteration", res.Iterations)
			break
		}
		alpha := complex(rnorm/den, 0)
		prev := rnorm

		// rn -= alpha (adj + lambda pn)
		cmplxs.AddScaled(adj, lambda, pn)
		cmplxs.AddScaled(rn, -alpha, adj)
		if rnorm, err = p.sqnorm(rn); err != nil {
			return res, err
		}
		beta := complex(rnorm/prev, 0)

		// sol += alpha pn; pn = rn + beta pn
		cmplxs.AddScaled(sol, alpha, pn)
		cmplxs.Scale(beta, pn)
		cmplxs.Add(pn, rn)
		if pnorm, err = p.sqnorm(pn); err != nil {
			return res, err
		}

		res.Iterations++
		res.RelativeResidual = math.Sqrt(rnorm / rninc)
		res.History = append(res.History, res.RelativeResidual)
		if res.RelativeResidual < opts.Tolerance {
			break
		}
	}
	slog.Debug("cgls", "iterations", res.Iterations, "residual", res.RelativeResidual)
	return res, nil
}
