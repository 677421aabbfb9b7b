package partitions

import (
	"fmt"

	"github.com/notargets/FMAKernel/utils"
)

// Partition is the set of bases owned by one rank
type Partition struct {
	// Unique identifier, equal to the owning rank
	ID int

	// Basis membership
	Bases    []int // Global basis indices, ascending
	NumBases int   // Number of owned bases
	MaxBases int   // Largest partition in the layout, sizes per-rank buffers
}

// PartitionLayout manages the complete grid decomposition
type PartitionLayout struct {
	// All partitions of the grid
	Partitions []Partition

	// Global sizing information
	MaxBases      int // max(NumBases) across all partitions
	TotalBases    int // Sum of all owned bases
	NumPartitions int

	// Basis to partition mapping
	EToP []int // Basis gi belongs to partition EToP[gi]

	localIndex []int // Basis gi sits at Partitions[EToP[gi]].Bases[localIndex[gi]]
}

// PartitionedArray holds a complex field distributed across partitions in
// one contiguous block.
type PartitionedArray struct {
	// Layout: [Partition 0 Data][Partition 1 Data]...[Partition N-1 Data]
	GlobalData []complex128

	// Partition p's data is GlobalData[Offsets[p]:Offsets[p+1]]
	Offsets []int
}

// GetPartition returns the partition owning basis gi
func (pl *PartitionLayout) GetPartition(gi int) int {
	if gi < 0 || gi >= len(pl.EToP) {
		return -1
	}
	return pl.EToP[gi]
}

// Local returns the bases of partition p
func (pl *PartitionLayout) Local(p int) []int {
	if p < 0 || p >= len(pl.Partitions) {
		return nil
	}
	return pl.Partitions[p].Bases
}

// ValidateLayout checks partition consistency
func (pl *PartitionLayout) ValidateLayout() error {
	// Verify MaxBases
	actualMax, total := 0, 0
	for _, p := range pl.Partitions {
		if p.NumBases != len(p.Bases) {
			return fmt.Errorf("partition %d: NumBases %d != len(Bases) %d",
				p.ID, p.NumBases, len(p.Bases))
		}
		if p.NumBases > actualMax {
			actualMax = p.NumBases
		}
		if p.MaxBases != pl.MaxBases {
			return fmt.Errorf("partition %d: MaxBases %d != layout MaxBases %d",
				p.ID, p.MaxBases, pl.MaxBases)
		}
		total += p.NumBases
	}
	if actualMax != pl.MaxBases {
		return fmt.Errorf("computed MaxBases %d != stored MaxBases %d",
			actualMax, pl.MaxBases)
	}
	if total != pl.TotalBases || len(pl.EToP) != pl.TotalBases {
		return fmt.Errorf("partitions hold %d bases, layout covers %d (EToP %d)",
			total, pl.TotalBases, len(pl.EToP))
	}

	// Every basis is owned exactly once, by the partition EToP names
	seen := make([]bool, pl.TotalBases)
	for _, p := range pl.Partitions {
		for _, gi := range p.Bases {
			if gi < 0 || gi >= pl.TotalBases {
				return fmt.Errorf("partition %d: basis %d outside grid", p.ID, gi)
			}
			if seen[gi] {
				return fmt.Errorf("basis %d owned twice", gi)
			}
			seen[gi] = true
			if pl.EToP[gi] != p.ID {
				return fmt.Errorf("basis %d in partition %d, EToP says %d", gi, p.ID, pl.EToP[gi])
			}
		}
	}
	return nil
}

// Scatter extracts the local vector of partition p from a global vector
func (pl *PartitionLayout) Scatter(p int, global []complex128) ([]complex128, error) {
	if len(global) != pl.TotalBases {
		return nil, fmt.Errorf("%w: global vector %d, grid %d", utils.ErrLength, len(global), pl.TotalBases)
	}
	if p < 0 || p >= len(pl.Partitions) {
		return nil, fmt.Errorf("partition %d outside [0,%d)", p, len(pl.Partitions))
	}
	bases := pl.Partitions[p].Bases
	local := make([]complex128, len(bases))
	for n, gi := range bases {
		local[n] = global[gi]
	}
	return local, nil
}

// Gather writes the local vector of partition p into its global positions
func (pl *PartitionLayout) Gather(p int, local, global []complex128) error {
	if len(global) != pl.TotalBases {
		return fmt.Errorf("%w: global vector %d, grid %d", utils.ErrLength, len(global), pl.TotalBases)
	}
	if p < 0 || p >= len(pl.Partitions) {
		return fmt.Errorf("partition %d outside [0,%d)", p, len(pl.Partitions))
	}
	bases := pl.Partitions[p].Bases
	if len(local) != len(bases) {
		return fmt.Errorf("%w: partition %d owns %d bases, got %d", utils.ErrLength, p, len(bases), len(local))
	}
	for n, gi := range bases {
		global[gi] = local[n]
	}
	return nil
}

// LocalIndex returns the position of basis gi within its partition
func (pl *PartitionLayout) LocalIndex(gi int) int {
	if gi < 0 || gi >= len(pl.localIndex) {
		return -1
	}
	return pl.localIndex[gi]
}

// NewPartitionedArray allocates contiguous storage for one value per basis
func NewPartitionedArray(layout *PartitionLayout) *PartitionedArray {
	offsets := make([]int, layout.NumPartitions+1)
	for i, p := range layout.Partitions {
		offsets[i+1] = offsets[i] + p.NumBases
	}
	return &PartitionedArray{
		GlobalData: make([]complex128, offsets[layout.NumPartitions]),
		Offsets:    offsets,
	}
}

// GetPartitionData returns a slice for partition p's data
func (pa *PartitionedArray) GetPartitionData(partitionID int) []complex128 {
	if partitionID < 0 || partitionID >= len(pa.Offsets)-1 {
		return nil
	}
	start := pa.Offsets[partitionID]
	end := pa.Offsets[partitionID+1]
	return pa.GlobalData[start:end]
}
