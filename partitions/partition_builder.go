package partitions

import (
	"fmt"
	"math"

	"github.com/notargets/FMAKernel/config"
)

// PartitionBuilder splits the basis grid across ranks
type PartitionBuilder struct {
	// Grid description
	Config *config.Config

	// Partitioning parameters
	NumPartitions int
	Strategy      PartitionStrategy
}

// PartitionStrategy defines how bases are grouped
type PartitionStrategy int

const (
	// Simple strategies
	BlockPartition PartitionStrategy = iota // Consecutive global indices
	RoundRobin                              // Distribute cyclically

	// Spatial strategy
	BoxPartition // Whole boxes per partition, balanced by basis count
)

func (s PartitionStrategy) String() string {
	switch s {
	case BlockPartition:
		return "block"
	case RoundRobin:
		return "roundrobin"
	case BoxPartition:
		return "box"
	}
	return fmt.Sprintf("PartitionStrategy(%d)", int(s))
}

// ParseStrategy maps a strategy name to its value
func ParseStrategy(name string) (PartitionStrategy, error) {
	for _, s := range []PartitionStrategy{BlockPartition, RoundRobin, BoxPartition} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown partition strategy %q", name)
}

// BuildPartitions creates a partition layout of the grid
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	total := pb.Config.NumBases()
	numPartitions := pb.NumPartitions
	if numPartitions < 1 {
		numPartitions = 1
	}
	if numPartitions > total {
		return nil, fmt.Errorf("%d partitions for %d bases", numPartitions, total)
	}

	// Partition the bases
	eToP, err := pb.partitionBases(numPartitions)
	if err != nil {
		return nil, err
	}

	// Create partition structures
	partitions, localIndex := createPartitions(eToP, numPartitions)

	// Set MaxBases for all partitions
	maxBases := calculateMaxBases(partitions)
	for i := range partitions {
		partitions[i].MaxBases = maxBases
	}

	layout := &PartitionLayout{
		Partitions:    partitions,
		MaxBases:      maxBases,
		TotalBases:    total,
		NumPartitions: numPartitions,
		EToP:          eToP,
		localIndex:    localIndex,
	}

	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	for _, p := range partitions {
		if p.NumBases == 0 {
			return nil, fmt.Errorf("%s strategy left partition %d empty", pb.Strategy, p.ID)
		}
	}
	return layout, nil
}

// partitionBases assigns bases to partitions
func (pb *PartitionBuilder) partitionBases(numPartitions int) ([]int, error) {
	total := pb.Config.NumBases()
	eToP := make([]int, total)

	switch pb.Strategy {
	case BlockPartition:
		basesPerPartition := int(math.Ceil(float64(total) / float64(numPartitions)))
		for i := 0; i < total; i++ {
			eToP[i] = i / basesPerPartition
			if eToP[i] >= numPartitions {
				eToP[i] = numPartitions - 1
			}
		}

	case RoundRobin:
		for i := 0; i < total; i++ {
			eToP[i] = i % numPartitions
		}

	case BoxPartition:
		return pb.partitionBoxes(numPartitions)

	default:
		return nil, fmt.Errorf("unknown partition strategy %d", int(pb.Strategy))
	}
	return eToP, nil
}

// partitionBoxes keeps every box on one partition. Boxes are taken in
// linear order and cut where the running basis count crosses a multiple of
// total/numPartitions.
func (pb *PartitionBuilder) partitionBoxes(numPartitions int) ([]int, error) {
	cfg := pb.Config
	total := cfg.NumBases()
	nbx := cfg.BoxesPerAxis()
	linear := func(b [3]int) int { return b[0] + nbx[0]*(b[1]+nbx[1]*b[2]) }

	numBoxes := nbx[0] * nbx[1] * nbx[2]
	if numPartitions > numBoxes {
		return nil, fmt.Errorf("%d partitions for %d boxes", numPartitions, numBoxes)
	}
	counts := make([]int, numBoxes)
	for gi := 0; gi < total; gi++ {
		counts[linear(cfg.BoxOf(gi))]++
	}

	owner := make([]int, numBoxes)
	cum := 0
	for b, c := range counts {
		p := cum * numPartitions / total
		// Leave at least one box for every remaining partition
		if rest := numBoxes - b; numPartitions-p > rest {
			p = numPartitions - rest
		}
		owner[b] = p
		cum += c
	}

	eToP := make([]int, total)
	for gi := range eToP {
		eToP[gi] = owner[linear(cfg.BoxOf(gi))]
	}
	return eToP, nil
}

// createPartitions builds partition structures from basis assignments
func createPartitions(eToP []int, numPartitions int) ([]Partition, []int) {
	partitions := make([]Partition, numPartitions)
	for i := range partitions {
		partitions[i] = Partition{ID: i, Bases: make([]int, 0)}
	}
	localIndex := make([]int, len(eToP))
	for gi, part := range eToP {
		localIndex[gi] = len(partitions[part].Bases)
		partitions[part].Bases = append(partitions[part].Bases, gi)
		partitions[part].NumBases++
	}
	return partitions, localIndex
}

// calculateMaxBases finds the largest partition
func calculateMaxBases(partitions []Partition) int {
	maxBases := 0
	for _, p := range partitions {
		if p.NumBases > maxBases {
			maxBases = p.NumBases
		}
	}
	return maxBases
}

// PartitionStatistics computes load balance metrics
func (pl *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: pl.NumPartitions,
		MinBases:      math.MaxInt32,
		MaxBases:      0,
		AvgBases:      float64(pl.TotalBases) / float64(pl.NumPartitions),
	}

	for _, p := range pl.Partitions {
		if p.NumBases < stats.MinBases {
			stats.MinBases = p.NumBases
		}
		if p.NumBases > stats.MaxBases {
			stats.MaxBases = p.NumBases
		}
	}

	stats.Imbalance = float64(stats.MaxBases) / stats.AvgBases

	return stats
}

type PartitionStats struct {
	NumPartitions int
	MinBases      int
	MaxBases      int
	AvgBases      float64
	Imbalance     float64 // MaxBases / AvgBases
}
