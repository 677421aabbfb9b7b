package utils

import (
	"fmt"
	"sort"

	"github.com/notargets/FMAKernel/config"
)

// BoxConnector manages pick and place indices between the local basis
// vector of one process and the boxes covering it.
type BoxConnector struct {
	// Grid dimensions
	BoxesPerAxis [3]int
	BoxVolume    int

	// Input assignment
	Local []int // Local ordinal -> global basis index

	// Box mappings
	Boxes      [][3]int    // Occupied boxes, sorted by linear box index
	BoxToLocal map[int]int // Linear box index -> position in Boxes

	// Pick/Place indices per occupied box
	PickIndices  []PickBuffer  // Local ordinals of the bases in the box
	PlaceIndices []PlaceBuffer // Box slots receiving them
}

// PickBuffer contains local ordinals to gather for one box
type PickBuffer struct {
	Indices []int
	Box     int
}

// PlaceBuffer contains box slots to scatter into for one box
type PlaceBuffer struct {
	Indices []int
	Box     int
}

// NewBoxConnector groups the local bases by box
func NewBoxConnector(cfg *config.Config, local []int) (*BoxConnector, error) {
	if len(local) == 0 {
		return nil, fmt.Errorf("box connector needs at least one local basis")
	}
	nb := cfg.NumBases()
	for n, gi := range local {
		if gi < 0 || gi >= nb {
			return nil, fmt.Errorf("local basis %d at ordinal %d outside grid of %d cells", gi, n, nb)
		}
	}

	bc := &BoxConnector{
		BoxesPerAxis: cfg.BoxesPerAxis(),
		BoxVolume:    cfg.BoxVolume(),
		Local:        local,
		BoxToLocal:   make(map[int]int),
	}
	if err := bc.BuildIndices(cfg); err != nil {
		return nil, err
	}
	if err := bc.Verify(); err != nil {
		return nil, err
	}
	return bc, nil
}

// LinearBox converts box coordinates into a linear box index
func (bc *BoxConnector) LinearBox(box [3]int) int {
	n := bc.BoxesPerAxis
	return box[0] + n[0]*(box[1]+n[1]*box[2])
}

// BuildIndices constructs pick and place indices for all occupied boxes
func (bc *BoxConnector) BuildIndices(cfg *config.Config) error {
	linear := make([]int, 0)
	coords := make(map[int][3]int)
	for _, gi := range bc.Local {
		box := cfg.BoxOf(gi)
		lb := bc.LinearBox(box)
		if _, ok := coords[lb]; !ok {
			coords[lb] = box
			linear = append(linear, lb)
		}
	}
	sort.Ints(linear)

	bc.Boxes = make([][3]int, len(linear))
	bc.PickIndices = make([]PickBuffer, len(linear))
	bc.PlaceIndices = make([]PlaceBuffer, len(linear))
	for p, lb := range linear {
		bc.Boxes[p] = coords[lb]
		bc.BoxToLocal[lb] = p
		bc.PickIndices[p] = PickBuffer{Indices: make([]int, 0), Box: lb}
		bc.PlaceIndices[p] = PlaceBuffer{Indices: make([]int, 0), Box: lb}
	}

	for n, gi := range bc.Local {
		p := bc.BoxToLocal[bc.LinearBox(cfg.BoxOf(gi))]
		bc.PickIndices[p].Indices = append(bc.PickIndices[p].Indices, n)
		bc.PlaceIndices[p].Indices = append(bc.PlaceIndices[p].Indices, cfg.LocalSlot(gi))
	}
	return nil
}

// NumBoxes is the number of occupied boxes
func (bc *BoxConnector) NumBoxes() int { return len(bc.Boxes) }

// Find returns the position of a box in Boxes, or -1 when unoccupied
func (bc *BoxConnector) Find(box [3]int) int {
	for d := 0; d < 3; d++ {
		if box[d] < 0 || box[d] >= bc.BoxesPerAxis[d] {
			return -1
		}
	}
	p, ok := bc.BoxToLocal[bc.LinearBox(box)]
	if !ok {
		return -1
	}
	return p
}

// GetPickIndices returns the local ordinals of the bases in box p
func (bc *BoxConnector) GetPickIndices(p int) []int {
	if p < 0 || p >= len(bc.PickIndices) {
		return nil
	}
	return bc.PickIndices[p].Indices
}

// GetPlaceIndices returns the box slots of the bases in box p
func (bc *BoxConnector) GetPlaceIndices(p int) []int {
	if p < 0 || p >= len(bc.PlaceIndices) {
		return nil
	}
	return bc.PlaceIndices[p].Indices
}

// Verify checks index validity and conservation properties
func (bc *BoxConnector) Verify() error {
	// Local validity: picks address the local vector, places address a box
	for p := range bc.Boxes {
		for _, idx := range bc.PickIndices[p].Indices {
			if idx < 0 || idx >= len(bc.Local) {
				return fmt.Errorf("invalid pick index %d for box %d (max %d)",
					idx, p, len(bc.Local)-1)
			}
		}
		seen := make(map[int]struct{})
		for _, slot := range bc.PlaceIndices[p].Indices {
			if slot < 0 || slot >= bc.BoxVolume {
				return fmt.Errorf("invalid place index %d for box %d (max %d)",
					slot, p, bc.BoxVolume-1)
			}
			if _, dup := seen[slot]; dup {
				return fmt.Errorf("box %d: slot %d placed twice", p, slot)
			}
			seen[slot] = struct{}{}
		}
	}

	// Correspondence: pick and place arrays have same length
	for p := range bc.Boxes {
		pickLen := len(bc.PickIndices[p].Indices)
		placeLen := len(bc.PlaceIndices[p].Indices)
		if pickLen != placeLen {
			return fmt.Errorf("length mismatch: pick[%d]=%d, place[%d]=%d", p, pickLen, p, placeLen)
		}
	}

	// Conservation: every local basis is picked exactly once
	totalPicks := 0
	for p := range bc.Boxes {
		totalPicks += len(bc.PickIndices[p].Indices)
	}
	if totalPicks != len(bc.Local) {
		return fmt.Errorf("conservation error: total picks %d != local bases %d",
			totalPicks, len(bc.Local))
	}
	return nil
}
