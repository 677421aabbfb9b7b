package element

// ReferenceCube is the tensor-product quadrature of a Rule on [-1,1]^3
type ReferenceCube struct {
	Rule
	// Tensor points and weights, x fastest. Weights sum to 8.
	R, S, T []float64
	Wt      []float64
}

// NewReferenceCube expands a 1D rule into its 3D tensor product
func NewReferenceCube(rule Rule) *ReferenceCube {
	n := rule.Len()
	np := n * n * n
	rc := &ReferenceCube{
		Rule: rule,
		R:    make([]float64, np),
		S:    make([]float64, np),
		T:    make([]float64, np),
		Wt:   make([]float64, np),
	}
	for c := 0; c < n; c++ {
		for b := 0; b < n; b++ {
			for a := 0; a < n; a++ {
				q := a + n*(b+n*c)
				rc.R[q], rc.S[q], rc.T[q] = rule.X[a], rule.X[b], rule.X[c]
				rc.Wt[q] = rule.W[a] * rule.W[b] * rule.W[c]
			}
		}
	}
	return rc
}

// Np is the number of tensor points
func (rc *ReferenceCube) Np() int { return len(rc.Wt) }

// Point maps tensor point q into the cell with the given center and edges
func (rc *ReferenceCube) Point(q int, center, cell [3]float64) (p [3]float64) {
	p[0] = center[0] + 0.5*cell[0]*rc.R[q]
	p[1] = center[1] + 0.5*cell[1]*rc.S[q]
	p[2] = center[2] + 0.5*cell[2]*rc.T[q]
	return
}
