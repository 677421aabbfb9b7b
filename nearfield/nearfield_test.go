package nearfield

import (
	"context"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/green"
	"github.com/notargets/FMAKernel/integration"
	"github.com/notargets/FMAKernel/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, threads int) (*config.Config, *Engine) {
	cfg, err := config.New(config.Config{
		K0:        4,
		Cell:      [3]float64{0.05, 0.05, 0.05},
		Min:       [3]float64{-0.3, 0.1, 2},
		Nx:        6,
		Ny:        6,
		Nz:        6,
		BoxSize:   2,
		NumBuffer: 1,
		Threads:   threads,
	})
	require.NoError(t, err)
	k, err := green.Build(context.Background(), cfg)
	require.NoError(t, err)
	e, err := New(cfg, k)
	require.NoError(t, err)
	return cfg, e
}

// direct evaluates the same sum element by element
func direct(cfg *config.Config, obs []int, src []int, val []complex128) []complex128 {
	it := integration.Default()
	out := make([]complex128, len(obs))
	for i, gi := range obs {
		for j, gj := range src {
			out[i] += it.Impedance(cfg, gi, gj) * val[j]
		}
	}
	return out
}

func cluster(cfg *config.Config, center [3]int, src []int, val []complex128) []Source {
	out := make([]Source, len(src))
	for j, gj := range src {
		b := cfg.BoxOf(gj)
		out[j] = Source{
			Box:   green.Offset{X: b[0] - center[0], Y: b[1] - center[1], Z: b[2] - center[2]},
			Slot:  cfg.LocalSlot(gj),
			Value: val[j],
		}
	}
	return out
}

func boxBases(cfg *config.Config, box [3]int) (bases []int) {
	for gi := 0; gi < cfg.NumBases(); gi++ {
		if cfg.BoxOf(gi) == box {
			bases = append(bases, gi)
		}
	}
	return
}

func neighborBases(cfg *config.Config, center [3]int) (bases []int) {
	for gi := 0; gi < cfg.NumBases(); gi++ {
		b := cfg.BoxOf(gi)
		near := true
		for d := 0; d < 3; d++ {
			if b[d]-center[d] < -cfg.NumBuffer || b[d]-center[d] > cfg.NumBuffer {
				near = false
			}
		}
		if near {
			bases = append(bases, gi)
		}
	}
	return
}

func TestApply_MatchesDirectSum(t *testing.T) {
	cfg, e := setup(t, 2)
	rng := rand.New(rand.NewSource(5))
	// Two centers: one interior with a full cluster, one on the corner of
	// the grid where part of the cluster is empty.
	for _, center := range [][3]int{{1, 1, 1}, {0, 2, 0}} {
		src := neighborBases(cfg, center)
		val := make([]complex128, len(src))
		for j := range val {
			val[j] = complex(rng.NormFloat64(), rng.NormFloat64())
		}
		obs := boxBases(cfg, center)
		observers := make([]Observer, len(obs))
		for i, gi := range obs {
			observers[i] = Observer{Slot: cfg.LocalSlot(gi), Index: i}
		}

		got := make([]complex128, len(obs))
		require.NoError(t, e.Apply(1, cluster(cfg, center, src, val), observers, got))
		want := direct(cfg, obs, src, val)
		for i := range want {
			assert.InDelta(t, 0, cmplx.Abs(got[i]-want[i]), 1e-10*cmplx.Abs(want[i]),
				"center %v observer %d", center, obs[i])
		}
	}
}

func TestApply_TranslationInvariant(t *testing.T) {
	cfg, e := setup(t, 1)
	// Same relative layout of one source and one observer in two places
	pairs := [][2]int{
		{cfg.GlobalIndex(2, 2, 2), cfg.GlobalIndex(1, 3, 2)},
		{cfg.GlobalIndex(4, 4, 0), cfg.GlobalIndex(3, 5, 0)},
	}
	var vals []complex128
	for _, p := range pairs {
		center := cfg.BoxOf(p[0])
		out := make([]complex128, 1)
		require.NoError(t, e.Apply(0,
			cluster(cfg, center, []int{p[1]}, []complex128{1}),
			[]Observer{{Slot: cfg.LocalSlot(p[0]), Index: 0}}, out))
		vals = append(vals, out[0])
		want := integration.Default().Impedance(cfg, p[0], p[1])
		assert.InDelta(t, 0, cmplx.Abs(out[0]-want), 1e-10*cmplx.Abs(want))
	}
	assert.InDelta(t, 0, cmplx.Abs(vals[0]-vals[1]), 1e-12*cmplx.Abs(vals[0]))
}

func TestApply_Accumulates(t *testing.T) {
	cfg, e := setup(t, 1)
	gi := cfg.GlobalIndex(2, 2, 2)
	src := cluster(cfg, cfg.BoxOf(gi), []int{gi}, []complex128{1})
	obs := []Observer{{Slot: cfg.LocalSlot(gi), Index: 0}}
	out := []complex128{5}
	require.NoError(t, e.Apply(0, src, obs, out))
	self := integration.Default().Impedance(cfg, gi, gi)
	assert.InDelta(t, 0, cmplx.Abs(out[0]-5-self), 1e-12)
}

func TestApply_Errors(t *testing.T) {
	_, e := setup(t, 1)
	out := make([]complex128, 1)
	obs := []Observer{{Slot: 0, Index: 0}}
	err := e.Apply(0, []Source{{Box: green.Offset{X: 2}, Slot: 0, Value: 1}}, obs, out)
	assert.ErrorIs(t, err, utils.ErrOffset)
	err = e.Apply(0, []Source{{Slot: 8, Value: 1}}, obs, out)
	assert.ErrorIs(t, err, utils.ErrOffset)
	err = e.Apply(0, []Source{{Slot: 0, Value: 1}}, []Observer{{Slot: 0, Index: 1}}, out)
	assert.ErrorIs(t, err, utils.ErrLength)
	assert.Error(t, e.Apply(3, nil, obs, out))
}
