// Package fieldsolve solves the volume integral equation for the total
// field inside a contrast, (I - Z diag(chi)) u = u_inc.
package fieldsolve

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"

	"github.com/notargets/FMAKernel/comm"
	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/utils"
	"gonum.org/v1/gonum/cmplxs"
)

// Operator applies the impedance matrix to a local current, overwriting
// out. It is collective across ranks.
type Operator interface {
	Apply(ctx context.Context, in, out []complex128) error
	NumLocal() int
}

// Result reports the outcome of one solve
type Result struct {
	Residual   float64 // Relative residual of the returned field
	Iterations int
	MatVecs    int
}

// Solver is a distributed BiCGStab on the field equation. It keeps work
// vectors between calls and must not be used concurrently.
type Solver struct {
	comm comm.Communicator
	op   Operator

	contrast []complex128

	// Work vectors
	b, r, rt, p, v, s, t, w []complex128
}

// New returns a solver for op with the given local contrast. The contrast
// slice is referenced, not copied: updates by the caller take effect on
// the next solve.
func New(c comm.Communicator, op Operator, contrast []complex128) (*Solver, error) {
	n := op.NumLocal()
	if len(contrast) != n {
		return nil, fmt.Errorf("%w: contrast %d, local bases %d", utils.ErrLength, len(contrast), n)
	}
	mk := func() []complex128 { return make([]complex128, n) }
	return &Solver{
		comm:     c,
		op:       op,
		contrast: contrast,
		b:        mk(), r: mk(), rt: mk(), p: mk(),
		v: mk(), s: mk(), t: mk(), w: mk(),
	}, nil
}

// matVec computes dst = src - Z (chi * src)
func (sv *Solver) matVec(ctx context.Context, dst, src []complex128) error {
	for i, x := range src {
		sv.w[i] = sv.contrast[i] * x
	}
	if err := sv.op.Apply(ctx, sv.w, dst); err != nil {
		return err
	}
	for i, x := range src {
		dst[i] = x - dst[i]
	}
	return nil
}

// dot is the conjugated inner product over all ranks
func (sv *Solver) dot(x, y []complex128) (complex128, error) {
	buf := []complex128{cmplxs.Dot(x, y)}
	if err := sv.comm.AllReduceSumComplex(buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (sv *Solver) norm(x []complex128) (float64, error) {
	d, err := sv.dot(x, x)
	return math.Sqrt(real(d)), err
}

// Solve overwrites sol with the total field excited by rhs, starting from
// the incoming sol. rhs and sol may be the same slice, which starts from
// the incident field. Every params.Restart iterations the residual is
// recomputed and the shadow vector reset. Reaching params.MaxIt is not an
// error.
func (sv *Solver) Solve(ctx context.Context, rhs, sol []complex128, params config.SolverParams) (Result, error) {
	var res Result
	n := len(sv.b)
	if len(rhs) != n || len(sol) != n {
		return res, fmt.Errorf("%w: rhs %d, sol %d, local bases %d", utils.ErrLength, len(rhs), len(sol), n)
	}
	copy(sv.b, rhs)
	bnorm, err := sv.norm(sv.b)
	if err != nil {
		return res, err
	}
	if bnorm == 0 {
		for i := range sol {
			sol[i] = 0
		}
		return res, nil
	}

	restart := params.Restart
	if restart <= 0 {
		restart = params.MaxIt
	}

	var rho, rhoPrev, alpha, omega complex128
	fresh := true
	rnorm := math.Inf(1)
	for res.Iterations < params.MaxIt {
		if fresh {
			// r = b - A x, shadow rt = r
			if err := sv.matVec(ctx, sv.r, sol); err != nil {
				return res, err
			}
			res.MatVecs++
			for i := range sv.r {
				sv.r[i] = sv.b[i] - sv.r[i]
			}
			copy(sv.rt, sv.r)
			if rnorm, err = sv.norm(sv.r); err != nil {
				return res, err
			}
			if rnorm/bnorm < params.EpsCG {
				break
			}
		}

		if rho, err = sv.dot(sv.rt, sv.r); err != nil {
			return res, err
		}
		if cmplx.Abs(rho) < 1e-300 {
			slog.Debug("bicgstab rho breakdown", "iteration", res.Iterations)
			break
		}
		if fresh {
			copy(sv.p, sv.r)
		} else {
			beta := (rho / rhoPrev) * (alpha / omega)
			cmplxs.AddScaled(sv.p, -omega, sv.v) // p -= omega * v
			cmplxs.Scale(beta, sv.p)             // p *= beta
			cmplxs.Add(sv.p, sv.r)               // p += r
		}
		fresh = false

		if err := sv.matVec(ctx, sv.v, sv.p); err != nil {
			return res, err
		}
		res.MatVecs++
		rtv, err := sv.dot(sv.rt, sv.v)
		if err != nil {
			return res, err
		}
		if rtv == 0 {
			slog.Debug("bicgstab alpha breakdown", "iteration", res.Iterations)
			break
		}
		alpha = rho / rtv
		copy(sv.s, sv.r)
		cmplxs.AddScaled(sv.s, -alpha, sv.v)
		res.Iterations++

		snorm, err := sv.norm(sv.s)
		if err != nil {
			return res, err
		}
		if snorm/bnorm < params.EpsCG {
			cmplxs.AddScaled(sol, alpha, sv.p)
			rnorm = snorm
			break
		}

		if err := sv.matVec(ctx, sv.t, sv.s); err != nil {
			return res, err
		}
		res.MatVecs++
		tt, err := sv.dot(sv.t, sv.t)
		if err != nil {
			return res, err
		}
		ts, err := sv.dot(sv.t, sv.s)
		if err != nil {
			return res, err
		}
		if tt == 0 {
			cmplxs.AddScaled(sol, alpha, sv.p)
			rnorm = snorm
			break
		}
		omega = ts / tt
		cmplxs.AddScaled(sol, alpha, sv.p)
		cmplxs.AddScaled(sol, omega, sv.s)
		copy(sv.r, sv.s)
		cmplxs.AddScaled(sv.r, -omega, sv.t)
		if rnorm, err = sv.norm(sv.r); err != nil {
			return res, err
		}
		if rnorm/bnorm < params.EpsCG {
			break
		}
		if omega == 0 {
			slog.Debug("bicgstab omega breakdown", "iteration", res.Iterations)
			break
		}
		rhoPrev = rho
		if res.Iterations%restart == 0 {
			fresh = true
		}
	}

	res.Residual = rnorm / bnorm
	slog.Debug("field solve", "iterations", res.Iterations, "residual", res.Residual)
	return res, nil
}
