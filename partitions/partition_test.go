package partitions

import (
	"fmt"
	"testing"

	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridConfig(t *testing.T, nx, ny, nz, box int) *config.Config {
	cfg, err := config.New(config.Config{
		K0: 1, Cell: [3]float64{1, 1, 1},
		Nx: nx, Ny: ny, Nz: nz, BoxSize: box, Threads: 1,
	})
	require.NoError(t, err)
	return cfg
}

func TestBuildPartitions_Strategies(t *testing.T) {
	cfg := gridConfig(t, 5, 4, 4, 2)
	for _, strategy := range []PartitionStrategy{BlockPartition, RoundRobin, BoxPartition} {
		for _, np := range []int{1, 2, 3, 4} {
			t.Run(fmt.Sprintf("%s/%d", strategy, np), func(t *testing.T) {
				pb := &PartitionBuilder{Config: cfg, NumPartitions: np, Strategy: strategy}
				layout, err := pb.BuildPartitions()
				if err != nil {
					t.Fatalf("Failed to build partitions: %v", err)
				}
				if layout.NumPartitions != np {
					t.Errorf("Expected %d partitions, got %d", np, layout.NumPartitions)
				}
				require.NoError(t, layout.ValidateLayout())

				for gi := 0; gi < cfg.NumBases(); gi++ {
					p := layout.GetPartition(gi)
					assert.Equal(t, gi, layout.Partitions[p].Bases[layout.LocalIndex(gi)])
				}

				stats := layout.PartitionStatistics()
				assert.Equal(t, layout.MaxBases, stats.MaxBases)
				assert.GreaterOrEqual(t, stats.Imbalance, 1.0)
			})
		}
	}
}

func TestBoxPartition_KeepsBoxesWhole(t *testing.T) {
	cfg := gridConfig(t, 6, 4, 2, 2)
	pb := &PartitionBuilder{Config: cfg, NumPartitions: 3, Strategy: BoxPartition}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)

	owner := make(map[[3]int]int)
	for gi := 0; gi < cfg.NumBases(); gi++ {
		box := cfg.BoxOf(gi)
		p := layout.GetPartition(gi)
		if prev, ok := owner[box]; ok && prev != p {
			t.Fatalf("box %v split between partitions %d and %d", box, prev, p)
		}
		owner[box] = p
	}
	// Six equal boxes across three ranks
	for _, p := range layout.Partitions {
		assert.Equal(t, 16, p.NumBases)
	}
}

func TestBuildPartitions_Errors(t *testing.T) {
	cfg := gridConfig(t, 2, 2, 2, 2)
	_, err := (&PartitionBuilder{Config: cfg, NumPartitions: 9}).BuildPartitions()
	assert.Error(t, err)
	_, err = (&PartitionBuilder{Config: cfg, NumPartitions: 2, Strategy: BoxPartition}).BuildPartitions()
	assert.Error(t, err)
}

func TestScatterGather(t *testing.T) {
	cfg := gridConfig(t, 3, 3, 1, 1)
	layout, err := (&PartitionBuilder{Config: cfg, NumPartitions: 2, Strategy: RoundRobin}).BuildPartitions()
	require.NoError(t, err)

	global := make([]complex128, cfg.NumBases())
	for i := range global {
		global[i] = complex(float64(i), -1)
	}
	arr := NewPartitionedArray(layout)
	back := make([]complex128, len(global))
	for p := 0; p < layout.NumPartitions; p++ {
		local, err := layout.Scatter(p, global)
		require.NoError(t, err)
		copy(arr.GetPartitionData(p), local)
		require.NoError(t, layout.Gather(p, arr.GetPartitionData(p), back))
	}
	assert.Equal(t, global, back)
	assert.Equal(t, []complex128{0 - 1i, 2 - 1i, 4 - 1i, 6 - 1i, 8 - 1i}, arr.GetPartitionData(0))

	_, err = layout.Scatter(0, global[:3])
	assert.ErrorIs(t, err, utils.ErrLength)
	assert.ErrorIs(t, layout.Gather(1, make([]complex128, 1), back), utils.ErrLength)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("box")
	require.NoError(t, err)
	assert.Equal(t, BoxPartition, s)
	_, err = ParseStrategy("metis")
	assert.Error(t, err)
}
