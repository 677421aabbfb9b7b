package element

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Rule is a one-dimensional quadrature rule on [-1,1]
type Rule struct {
	X, W []float64
}

// Len is the number of points in the rule
func (r Rule) Len() int { return len(r.X) }

// GaussLegendre returns the n-point Gauss-Legendre rule on [-1,1]. Points
// are ascending and symmetric about zero.
func GaussLegendre(n int) Rule {
	if n < 1 {
		panic(fmt.Sprintf("gauss-legendre rule needs at least one point, got %d", n))
	}
	x, w := JacobiGQ(0, 0, n-1)
	// Enforce exact symmetry so the pair (inner, outer) rule is well defined.
	for i := 0; i < n/2; i++ {
		j := n - 1 - i
		a := 0.5 * (x[j] - x[i])
		x[i], x[j] = -a, a
		m := 0.5 * (w[i] + w[j])
		w[i], w[j] = m, m
	}
	if n%2 == 1 {
		x[n/2] = 0
	}
	return Rule{X: x, W: w}
}

// JacobiGQ computes the N+1 point Gauss quadrature for the Jacobi weight
// (1-x)^alpha (1+x)^beta with the Golub-Welsch eigenvalue method.
func JacobiGQ(alpha, beta float64, N int) (X, W []float64) {
	if N == 0 {
		return []float64{-(alpha - beta) / (alpha + beta + 2)}, []float64{2}
	}

	n := N + 1
	h1 := make([]float64, n)
	for i := range h1 {
		h1[i] = 2*float64(i) + alpha + beta
	}

	J := mat.NewSymDense(n, nil)
	fac := beta*beta - alpha*alpha
	for i := 0; i < n; i++ {
		d := 0.0
		if h1[i] != 0 && h1[i]+2 != 0 {
			d = fac / (h1[i] * (h1[i] + 2))
		}
		J.SetSym(i, i, d)
	}
	if alpha+beta < 1e-15 {
		J.SetSym(0, 0, 0)
	}
	for i := 0; i < N; i++ {
		ip1 := float64(i + 1)
		h := h1[i]
		off := 2 / (h + 2) * math.Sqrt(ip1*(ip1+alpha+beta)*(ip1+alpha)*(ip1+beta)/(h+1)/(h+3))
		J.SetSym(i, i+1, off)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(J, true); !ok {
		panic("jacobi quadrature: eigenvalue decomposition failed")
	}
	X = eig.Values(nil)

	V := mat.NewDense(n, n, nil)
	eig.VectorsTo(V)
	g0 := Gamma0(alpha, beta)
	W = make([]float64, n)
	for i := range W {
		v := V.At(0, i)
		W[i] = v * v * g0
	}
	return X, W
}

// Gamma0 is the integral of the Jacobi weight over [-1,1]
func Gamma0(alpha, beta float64) float64 {
	ab1 := alpha + beta + 1
	return math.Gamma(alpha+1) * math.Gamma(beta+1) * math.Pow(2, ab1) / ab1 / math.Gamma(ab1)
}
