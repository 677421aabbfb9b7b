package green

import (
	"context"
	"math/cmplx"
	"testing"

	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, box, buffer, threads int) *config.Config {
	cfg, err := config.New(config.Config{
		K0:        2,
		Cell:      [3]float64{0.1, 0.1, 0.1},
		Nx:        6,
		Ny:        6,
		Nz:        6,
		BoxSize:   box,
		NumBuffer: buffer,
		Threads:   threads,
	})
	require.NoError(t, err)
	return cfg
}

func TestOffsetIndex(t *testing.T) {
	k := &Kernels{NumBuffer: 1, Nbors: 3}
	seen := make(map[int]bool)
	for z := -1; z <= 1; z++ {
		for y := -1; y <= 1; y++ {
			for x := -1; x <= 1; x++ {
				o := Offset{x, y, z}
				idx, err := k.Index(o)
				require.NoError(t, err)
				assert.False(t, seen[idx])
				seen[idx] = true
				assert.Equal(t, o, k.Offset(idx))
			}
		}
	}
	assert.Equal(t, 0, OffsetIndex(Offset{-1, -1, -1}, 1))
	assert.Equal(t, 13, OffsetIndex(Offset{}, 1))
	_, err := k.Index(Offset{2, 0, 0})
	assert.Error(t, err)
}

func TestBuild_SpatialLayout(t *testing.T) {
	cfg := testConfig(t, 2, 1, 3)
	k, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 27, k.NumOffsets())
	require.Equal(t, 64, k.Volume)

	it := integration.Default()
	b, pad := cfg.BoxSize, cfg.PadLen()
	disp := func(p int) (int, bool) {
		switch {
		case p < b:
			return p, true
		case p > b:
			return p - 2*b, true
		}
		return 0, false
	}
	for _, o := range []Offset{{0, 0, 0}, {1, 0, -1}, {-1, 1, 1}} {
		idx, err := k.Index(o)
		require.NoError(t, err)
		g := k.Spatial(idx)
		for pz := 0; pz < pad; pz++ {
			for py := 0; py < pad; py++ {
				for px := 0; px < pad; px++ {
					got := g[px+pad*(py+pad*pz)]
					dx, okx := disp(px)
					dy, oky := disp(py)
					dz, okz := disp(pz)
					if !okx || !oky || !okz {
						assert.InDelta(t, 0, cmplx.Abs(got), 1e-14)
						continue
					}
					want := it.ImpedanceAt(cfg, [3]int{o.X*b + dx, o.Y*b + dy, o.Z*b + dz})
					assert.InDelta(t, 0, cmplx.Abs(got-want), 1e-12*cmplx.Abs(want)+1e-15,
						"offset %+v p=(%d,%d,%d)", o, px, py, pz)
				}
			}
		}
	}
}

func TestBuild_ThreadCountIndependent(t *testing.T) {
	k1, err := Build(context.Background(), testConfig(t, 2, 1, 1))
	require.NoError(t, err)
	k4, err := Build(context.Background(), testConfig(t, 2, 1, 4))
	require.NoError(t, err)
	for idx := 0; idx < k1.NumOffsets(); idx++ {
		assert.Equal(t, k1.Grid(idx), k4.Grid(idx))
	}
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, testConfig(t, 2, 1, 2))
	assert.ErrorIs(t, err, context.Canceled)
}
