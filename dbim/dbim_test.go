package dbim

import (
	"context"
	"errors"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/notargets/FMAKernel/comm"
	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearModel scatters exactly linearly in the contrast: observation g of
// source s is diag[g] * fld_s * contrast[g]
type linearModel struct {
	diag     []complex128
	contrast []complex128
}

func (m *linearModel) Contrast() []complex128 { return m.contrast }

func (m *linearModel) IncidentField(_ context.Context, src [3]float64, fld []complex128) error {
	for i := range fld {
		fld[i] = complex(1+src[0], src[1])
	}
	return nil
}

func (m *linearModel) ForwardSolve(context.Context, []complex128, config.SolverParams) (float64, error) {
	return 0, nil
}

func (m *linearModel) Scattered(ctx context.Context, fld, scat []complex128) error {
	return m.Frechet(ctx, m.contrast, fld, scat, config.SolverParams{})
}

func (m *linearModel) Frechet(_ context.Context, crt, fld, scat []complex128, _ config.SolverParams) error {
	for g := range scat {
		scat[g] = m.diag[g] * fld[g] * crt[g]
	}
	return nil
}

func (m *linearModel) FrechetAdjoint(_ context.Context, scat, fld, crt []complex128, _ config.SolverParams) error {
	for g := range crt {
		crt[g] += cmplx.Conj(m.diag[g]*fld[g]) * scat[g]
	}
	return nil
}

func testProblem(rng *rand.Rand, n int) (*Problem, *linearModel, []complex128, []complex128) {
	m := &linearModel{diag: make([]complex128, n), contrast: make([]complex128, n)}
	truth := make([]complex128, n)
	for i := range m.diag {
		m.diag[i] = cmplx.Rect(1+rng.Float64(), rng.Float64())
		truth[i] = complex(0.1*rng.Float64(), 0.02*rng.Float64())
	}
	p := &Problem{
		Model:    m,
		Comm:     comm.Self(),
		Sources:  [][3]float64{{0.2, 0, 0}, {-0.3, 0.1, 0}},
		NumObs:   n,
		NumLocal: n,
		High:     config.SolverParams{MaxIt: 50, EpsCG: 1e-12},
		Low:      config.SolverParams{MaxIt: 10, EpsCG: 1e-6},
		Params: config.DBIMParams{
			Iterations:     3,
			Regularization: [4]float64{1e-2, 1e-8, 0.1, 1},
		},
	}
	// Measurements of the true contrast
	meas := make([]complex128, len(p.Sources)*n)
	saved := m.contrast
	m.contrast = truth
	fld := make([]complex128, n)
	for s, src := range p.Sources {
		_ = m.IncidentField(context.Background(), src, fld)
		_ = m.Scattered(context.Background(), fld, meas[s*n:(s+1)*n])
	}
	m.contrast = saved
	return p, m, truth, meas
}

func TestError(t *testing.T) {
	rng := rand.New(rand.NewSource(51))
	p, m, truth, meas := testProblem(rng, 6)
	e, err := Error(context.Background(), p, p.Sources, meas, nil, p.High, p.Low)
	require.NoError(t, err)
	assert.InDelta(t, 1, e, 1e-14)

	copy(m.contrast, truth)
	rn := []complex128{1, 1, 1, 1, 1, 1}
	e, err = Error(context.Background(), p, p.Sources, meas, rn, p.High, p.Low)
	require.NoError(t, err)
	assert.InDelta(t, 0, e, 1e-14)
	for i := range rn {
		assert.InDelta(t, 0, cmplx.Abs(rn[i]), 1e-14)
	}

	_, err = Error(context.Background(), p, p.Sources, meas[:3], nil, p.High, p.Low)
	assert.ErrorIs(t, err, utils.ErrLength)
}

func TestRun_RecoversLinearContrast(t *testing.T) {
	rng := rand.New(rand.NewSource(52))
	p, m, truth, meas := testProblem(rng, 8)
	var steps []Step
	p.Recorder = RecorderFunc(func(_ context.Context, step Step, contrast []complex128) error {
		require.Len(t, contrast, 8)
		steps = append(steps, step)
		return nil
	})
	sum, err := Run(context.Background(), p, meas)
	require.NoError(t, err)

	// Every source of every first-pass iteration, then two final updates
	assert.Len(t, steps, 3*2+2)
	assert.Equal(t, steps, sum.Steps)
	assert.Equal(t, 1, steps[0].Pass)
	assert.Equal(t, 1, steps[1].Source)
	assert.Equal(t, 2, steps[len(steps)-1].Pass)
	assert.Equal(t, -1, steps[len(steps)-1].Source)
	assert.Equal(t, 5, sum.Iterations)
	assert.Less(t, steps[len(steps)-1].DBIMError, steps[0].DBIMError)
	for i := range truth {
		assert.InDelta(t, 0, cmplx.Abs(m.contrast[i]-truth[i]), 1e-6, "basis %d", i)
	}
}

func TestRun_StopsAtTolerance(t *testing.T) {
	rng := rand.New(rand.NewSource(53))
	p, _, _, meas := testProblem(rng, 4)
	p.Params.Iterations = 10
	p.Params.Tolerance = 0.5
	sum, err := Run(context.Background(), p, meas)
	require.NoError(t, err)
	// The first iteration already meets the tolerance: one leapfrogging
	// iteration, then the second pass continues the numbering
	assert.Len(t, sum.Steps, 2+2)
	assert.Equal(t, 1, sum.Steps[2].Iteration)
	assert.Equal(t, 3, sum.Iterations)
}

func TestRun_HomogeneousBackground(t *testing.T) {
	rng := rand.New(rand.NewSource(54))
	p, m, _, _ := testProblem(rng, 5)
	p.Sources = p.Sources[:1]
	p.Params.Regularization = [4]float64{}
	meas := make([]complex128, p.NumObs)
	sum, err := Run(context.Background(), p, meas)
	require.NoError(t, err)
	assert.Zero(t, sum.Error)
	for _, s := range sum.Steps {
		assert.Zero(t, s.DBIMError)
		assert.Zero(t, s.CGError)
	}
	assert.Equal(t, make([]complex128, 5), m.contrast)
}

func TestRun_RecorderError(t *testing.T) {
	rng := rand.New(rand.NewSource(55))
	p, _, _, meas := testProblem(rng, 4)
	boom := errors.New("disk full")
	p.Recorder = RecorderFunc(func(context.Context, Step, []complex128) error { return boom })
	_, err := Run(context.Background(), p, meas)
	assert.ErrorIs(t, err, boom)

	_, err = Run(context.Background(), p, meas[:1])
	assert.ErrorIs(t, err, utils.ErrLength)
}

func TestNextRegularization(t *testing.T) {
	reg := [4]float64{1, 0.01, 0.5, 2}
	assert.Equal(t, 1.0, nextRegularization(reg, 0))
	assert.Equal(t, 0.5, nextRegularization(reg, 1))
	reg[0] = 0.01
	assert.Equal(t, 0.01, nextRegularization(reg, 1))
	reg[3] = 0
	reg[0] = 1
	assert.Equal(t, 0.5, nextRegularization(reg, 4))
}
