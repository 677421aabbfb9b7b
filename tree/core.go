package tree

import (
	"fmt"

	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/green"
	"github.com/notargets/FMAKernel/nearfield"
	"github.com/notargets/FMAKernel/pattern"
	"github.com/notargets/FMAKernel/utils"
)

// Core implements Interactions on a Grid with the near-field and pattern
// engines. Either engine may be nil when its operation is not needed.
type Core struct {
	cfg  *config.Config
	grid *Grid
	near *nearfield.Engine
	far  *pattern.Engine

	clusters map[Box]*cluster
	sources  [][]nearfield.Source // Per worker
	obs      [][]nearfield.Observer
	vals     [][]complex128
}

// cluster caches the sources around one local box
type cluster struct {
	bases []int              // Global indices of the cluster bases
	tmpl  []nearfield.Source // Box offset and slot of each basis
}

// NewCore precomputes the cluster of every local box of grid
func NewCore(cfg *config.Config, grid *Grid, near *nearfield.Engine, far *pattern.Engine) *Core {
	c := &Core{
		cfg:      cfg,
		grid:     grid,
		near:     near,
		far:      far,
		clusters: make(map[Box]*cluster),
		sources:  make([][]nearfield.Source, cfg.Threads),
		obs:      make([][]nearfield.Observer, cfg.Threads),
		vals:     make([][]complex128, cfg.Threads),
	}
	for _, box := range grid.Boxes() {
		cl := &cluster{}
		for _, nbr := range grid.NearList(box) {
			off := green.Offset{X: nbr[0] - box[0], Y: nbr[1] - box[1], Z: nbr[2] - box[2]}
			for _, gi := range BoxBases(cfg, nbr) {
				cl.bases = append(cl.bases, gi)
				cl.tmpl = append(cl.tmpl, nearfield.Source{Box: off, Slot: cfg.LocalSlot(gi)})
			}
		}
		c.clusters[box] = cl
	}
	for w := range c.vals {
		c.vals[w] = make([]complex128, cfg.BoxVolume())
	}
	return c
}

// Near adds the near field of the global source vector in into the local
// output vector out for the bases of box.
func (c *Core) Near(worker int, box Box, in, out []complex128) error {
	if c.near == nil {
		return fmt.Errorf("core has no near-field engine")
	}
	if worker < 0 || worker >= len(c.sources) {
		return fmt.Errorf("core worker %d outside [0,%d)", worker, len(c.sources))
	}
	if len(in) != c.cfg.NumBases() {
		return fmt.Errorf("%w: source vector %d, grid %d", utils.ErrLength, len(in), c.cfg.NumBases())
	}
	cl, ok := c.clusters[box]
	if !ok {
		return fmt.Errorf("%w: box %v holds no local bases", utils.ErrOffset, box)
	}
	ordinals, slots := c.grid.Members(box)

	src := c.sources[worker][:0]
	for n, gi := range cl.bases {
		if in[gi] == 0 {
			continue
		}
		s := cl.tmpl[n]
		s.Value = in[gi]
		src = append(src, s)
	}
	c.sources[worker] = src

	obs := c.obs[worker][:0]
	for q, n := range ordinals {
		obs = append(obs, nearfield.Observer{Slot: slots[q], Index: n})
	}
	c.obs[worker] = obs

	return c.near.Apply(worker, src, obs, out)
}

// FarPattern applies the box pattern to the local currents of box
func (c *Core) FarPattern(worker int, box Box, sgn int, cur, far []complex128) error {
	if c.far == nil {
		return fmt.Errorf("core has no pattern engine")
	}
	if worker < 0 || worker >= len(c.vals) {
		return fmt.Errorf("core worker %d outside [0,%d)", worker, len(c.vals))
	}
	if len(cur) != len(c.grid.LocalBases()) {
		return fmt.Errorf("%w: current vector %d, local bases %d", utils.ErrLength, len(cur), len(c.grid.LocalBases()))
	}
	ordinals, slots := c.grid.Members(box)
	if ordinals == nil {
		return fmt.Errorf("%w: box %v holds no local bases", utils.ErrOffset, box)
	}
	vals := c.vals[worker][:len(ordinals)]
	for q, n := range ordinals {
		if sgn >= 0 {
			vals[q] = cur[n]
		} else {
			vals[q] = 0
		}
	}
	if err := c.far.Apply(worker, sgn, slots, vals, far); err != nil {
		return err
	}
	if sgn < 0 {
		for q, n := range ordinals {
			cur[n] += vals[q]
		}
	}
	return nil
}
