// Package integration evaluates the volume integrals of the free-space
// Green's function over pairs of cubic cells.
//
// The kernel is exp(ikR)/R; the 1/(4 pi) normalization is applied once in
// Impedance together with the k^2 factor of the volume integral equation.
package integration

import (
	"math"
	"math/cmplx"

	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/element"
)

// NumPts is the number of Gauss points per axis
const NumPts = 4

// Integrator holds the tensor quadrature used for near interactions
type Integrator struct {
	cube *element.ReferenceCube
}

var defaultIntegrator = New(NumPts)

// New returns an integrator with an n-point Gauss-Legendre rule per axis
func New(n int) *Integrator {
	return &Integrator{cube: element.NewReferenceCube(element.GaussLegendre(n))}
}

// Default returns the shared 4-point integrator
func Default() *Integrator { return defaultIntegrator }

// Green is the free-space kernel between two points
func Green(k complex128, obs, src [3]float64) complex128 {
	dx := obs[0] - src[0]
	dy := obs[1] - src[1]
	dz := obs[2] - src[2]
	r := math.Sqrt(dx*dx + dy*dy + dz*dz)
	return cmplx.Exp(1i*k*complex(r, 0)) / complex(r, 0)
}

// ReceiverIntegral averages the kernel from a source point over the
// receiver cell centered at obs.
func (it *Integrator) ReceiverIntegral(k complex128, src, obs, cell [3]float64) complex128 {
	var ans complex128
	for q, w := range it.cube.Wt {
		ans += complex(w, 0) * Green(k, it.cube.Point(q, obs, cell), src)
	}
	return ans / 8
}

// SourceIntegral integrates over the source cell centered at src, each
// point evaluated through ReceiverIntegral over the cell centered at obs.
func (it *Integrator) SourceIntegral(k complex128, src, obs, cell [3]float64) complex128 {
	var ans complex128
	for q, w := range it.cube.Wt {
		ans += complex(w, 0) * it.ReceiverIntegral(k, it.cube.Point(q, src, cell), obs, cell)
	}
	return ans * complex(cell[0]*cell[1]*cell[2]/8, 0)
}

// SelfIntegral replaces the singular self term with the integral over a
// sphere of the same volume as the cell.
func SelfIntegral(k complex128, cell [3]float64) complex128 {
	r := math.Cbrt(3 * cell[0] * cell[1] * cell[2] / (4 * math.Pi))
	ikr := 1i * k * complex(r, 0)
	ans := (1-ikr)*cmplx.Exp(ikr) - 1
	return ans * complex(4*math.Pi, 0) / (k * k)
}

// Impedance is the near interaction between global bases gi (observer)
// and gj (source).
func (it *Integrator) Impedance(cfg *config.Config, gi, gj int) complex128 {
	k := complex(cfg.K0, 0)
	var val complex128
	if gi == gj {
		val = SelfIntegral(k, cfg.Cell)
	} else {
		val = it.SourceIntegral(k, cfg.BasisCenter(gj), cfg.BasisCenter(gi), cfg.Cell)
	}
	return scale(k) * val
}

// ImpedanceAt is Impedance for an observer displaced by d cells from the
// source. It depends only on d.
func (it *Integrator) ImpedanceAt(cfg *config.Config, d [3]int) complex128 {
	k := complex(cfg.K0, 0)
	if d == [3]int{} {
		return scale(k) * SelfIntegral(k, cfg.Cell)
	}
	var obs [3]float64
	for i := range obs {
		obs[i] = float64(d[i]) * cfg.Cell[i]
	}
	return scale(k) * it.SourceIntegral(k, [3]float64{}, obs, cfg.Cell)
}

func scale(k complex128) complex128 {
	return k * k / complex(4*math.Pi, 0)
}
