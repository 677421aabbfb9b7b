package element

import (
	"fmt"
	"math"
	"testing"

	"github.com/notargets/FMAKernel/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussLegendre_FourPoint(t *testing.T) {
	rule := GaussLegendre(4)
	require.Equal(t, 4, rule.Len())

	// Classical abscissae and weights of the 4-point rule
	outpt := math.Sqrt(3.0/7.0 + 2.0/7.0*math.Sqrt(6.0/5.0))
	inpt := math.Sqrt(3.0/7.0 - 2.0/7.0*math.Sqrt(6.0/5.0))
	outwt := (18 - math.Sqrt(30)) / 36
	inwt := (18 + math.Sqrt(30)) / 36

	assert.InDeltaSlice(t, []float64{-outpt, -inpt, inpt, outpt}, rule.X, 1e-12)
	assert.InDeltaSlice(t, []float64{outwt, inwt, inwt, outwt}, rule.W, 1e-12)
}

func TestGaussLegendre_Exactness(t *testing.T) {
	for n := 1; n <= 6; n++ {
		t.Run(fmt.Sprintf("N=%d", n), func(t *testing.T) {
			rule := GaussLegendre(n)
			// An n-point rule integrates x^p exactly for p <= 2n-1.
			for p := 0; p <= 2*n-1; p++ {
				var sum float64
				for i, x := range rule.X {
					sum += rule.W[i] * math.Pow(x, float64(p))
				}
				exact := 0.0
				if p%2 == 0 {
					exact = 2 / float64(p+1)
				}
				assert.InDelta(t, exact, sum, 1e-12, "power %d", p)
			}
		})
	}
}

func TestReferenceCube(t *testing.T) {
	rc := NewReferenceCube(GaussLegendre(4))
	require.Equal(t, 64, rc.Np())

	var wsum float64
	for _, w := range rc.Wt {
		wsum += w
	}
	assert.InDelta(t, 8, wsum, 1e-12)

	p := rc.Point(0, [3]float64{1, 2, 3}, [3]float64{2, 2, 2})
	assert.InDelta(t, 1+rc.R[0], p[0], 1e-15)
	assert.InDelta(t, 3+rc.T[0], p[2], 1e-15)
}

func TestNewCells(t *testing.T) {
	cfg, err := config.New(config.Config{
		K0: 1, Cell: [3]float64{1, 1, 1},
		Nx: 4, Ny: 4, Nz: 4, BoxSize: 2, Threads: 1,
	})
	require.NoError(t, err)

	cells, err := NewCells(cfg, []int{0, 5, 63})
	require.NoError(t, err)
	assert.Equal(t, [3]int{1, 1, 1}, cells[2].Box)
	assert.Equal(t, 7, cells[2].Slot)
	assert.Equal(t, []int{0, 5, 63}, Indices(cells))

	_, err = NewCells(cfg, []int{64})
	assert.Error(t, err)
	_, err = NewCells(cfg, []int{3, 3})
	assert.Error(t, err)
}
