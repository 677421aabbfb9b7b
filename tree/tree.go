// Package tree defines the capability boundary between the interaction
// core and a box tree, and provides a single-level uniform box grid that
// drives the core directly.
package tree

import (
	"errors"

	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/element"
	"github.com/notargets/FMAKernel/utils"
)

// ErrFarInteraction is returned when a box pair falls outside the near
// buffer. Far translations belong to a multilevel tree.
var ErrFarInteraction = errors.New("box pair beyond the near-field buffer")

// Box is the integer coordinate of a box on the finest level
type Box [3]int

// Interactions is what the core offers a tree. in is indexed by global
// basis; cur and out by local basis ordinal.
type Interactions interface {
	// Near adds the near field of in, over the cluster around box, into
	// the local observers of box.
	Near(worker int, box Box, in, out []complex128) error
	// FarPattern radiates (sgn >= 0) the local currents of box into far,
	// or receives far into them (sgn < 0), relative to the box center.
	FarPattern(worker int, box Box, sgn int, cur, far []complex128) error
}

// Tree is the topology a tree exposes to the core
type Tree interface {
	LocalBases() []int
	Boxes() []Box
	NearList(box Box) []Box
}

// Grid is a single-level tree: uniform boxes over the local bases, near
// lists holding every box of the grid within the neighbor radius.
type Grid struct {
	cfg   *config.Config
	cells []element.Cell
	conn  *utils.BoxConnector
}

// NewGrid lays boxes over local, a list of distinct global basis indices
func NewGrid(cfg *config.Config, local []int) (*Grid, error) {
	cells, err := element.NewCells(cfg, local)
	if err != nil {
		return nil, err
	}
	conn, err := utils.NewBoxConnector(cfg, element.Indices(cells))
	if err != nil {
		return nil, err
	}
	return &Grid{cfg: cfg, cells: cells, conn: conn}, nil
}

// Cells returns the local cells in ordinal order
func (g *Grid) Cells() []element.Cell { return g.cells }

// LocalBases returns the global indices of the local bases
func (g *Grid) LocalBases() []int { return g.conn.Local }

// Boxes returns the occupied local boxes in linear order
func (g *Grid) Boxes() []Box {
	boxes := make([]Box, len(g.conn.Boxes))
	for i, b := range g.conn.Boxes {
		boxes[i] = Box(b)
	}
	return boxes
}

// NearList returns every box of the full grid within NumBuffer of box,
// including box itself.
func (g *Grid) NearList(box Box) []Box {
	nb := g.cfg.NumBuffer
	n := g.cfg.BoxesPerAxis()
	var near []Box
	for z := box[2] - nb; z <= box[2]+nb; z++ {
		for y := box[1] - nb; y <= box[1]+nb; y++ {
			for x := box[0] - nb; x <= box[0]+nb; x++ {
				if x < 0 || y < 0 || z < 0 || x >= n[0] || y >= n[1] || z >= n[2] {
					continue
				}
				near = append(near, Box{x, y, z})
			}
		}
	}
	return near
}

// Members returns the local ordinals and box slots of the local bases in
// box, or nil when the box holds none.
func (g *Grid) Members(box Box) (ordinals, slots []int) {
	p := g.conn.Find(box)
	if p < 0 {
		return nil, nil
	}
	return g.conn.GetPickIndices(p), g.conn.GetPlaceIndices(p)
}

// BoxBases returns the global indices of every basis of the full grid in box
func BoxBases(cfg *config.Config, box Box) []int {
	b := cfg.BoxSize
	var bases []int
	for k := box[2] * b; k < (box[2]+1)*b && k < cfg.Nz; k++ {
		for j := box[1] * b; j < (box[1]+1)*b && j < cfg.Ny; j++ {
			for i := box[0] * b; i < (box[0]+1)*b && i < cfg.Nx; i++ {
				bases = append(bases, cfg.GlobalIndex(i, j, k))
			}
		}
	}
	return bases
}
