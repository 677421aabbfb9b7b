package config

import (
	"errors"
	"fmt"
	"math"
	"runtime"
)

// ErrInvalid is returned, wrapped with the offending field, when a
// configuration value is out of range.
var ErrInvalid = errors.New("invalid configuration")

// Config describes the regular grid of cubic basis cells and the box
// structure laid over it. It is built once by New and shared read-only by
// every component; processes differ only in their local basis subset, which
// is not part of Config.
type Config struct {
	K0   float64    `yaml:"k0"`   // Background wavenumber
	Cell [3]float64 `yaml:"cell"` // Cell edge lengths
	Min  [3]float64 `yaml:"min"`  // Grid origin (corner of cell 0)

	Nx int `yaml:"nx"`
	Ny int `yaml:"ny"`
	Nz int `yaml:"nz"`

	BoxSize   int `yaml:"bspbox"`    // Box edge in basis units
	NumBuffer int `yaml:"numbuffer"` // Neighbor radius in boxes
	Threads   int `yaml:"threads"`   // Worker count, defaults to NumCPU
}

// New validates cfg, fills defaults and returns an immutable copy
func New(cfg Config) (*Config, error) {
	if !(cfg.K0 > 0) || math.IsInf(cfg.K0, 0) {
		return nil, fmt.Errorf("%w: k0 must be positive, got %g", ErrInvalid, cfg.K0)
	}
	for i, c := range cfg.Cell {
		if !(c > 0) {
			return nil, fmt.Errorf("%w: cell[%d] must be positive, got %g", ErrInvalid, i, c)
		}
	}
	if cfg.Nx <= 0 || cfg.Ny <= 0 || cfg.Nz <= 0 {
		return nil, fmt.Errorf("%w: grid dimensions must be positive, got %dx%dx%d",
			ErrInvalid, cfg.Nx, cfg.Ny, cfg.Nz)
	}
	if cfg.BoxSize <= 0 {
		return nil, fmt.Errorf("%w: bspbox must be positive, got %d", ErrInvalid, cfg.BoxSize)
	}
	if cfg.NumBuffer < 0 {
		return nil, fmt.Errorf("%w: numbuffer must not be negative, got %d", ErrInvalid, cfg.NumBuffer)
	}
	if cfg.Threads < 0 {
		return nil, fmt.Errorf("%w: threads must not be negative, got %d", ErrInvalid, cfg.Threads)
	}
	if cfg.Threads == 0 {
		cfg.Threads = runtime.NumCPU()
	}
	c := cfg
	return &c, nil
}

// NumBases is the total number of cells in the grid
func (c *Config) NumBases() int { return c.Nx * c.Ny * c.Nz }

// Nbors is the number of boxes per axis in a neighbor cluster
func (c *Config) Nbors() int { return 2*c.NumBuffer + 1 }

// NumOffsets is the number of distinct neighbor-box offsets
func (c *Config) NumOffsets() int {
	n := c.Nbors()
	return n * n * n
}

// BoxVolume is the number of basis slots in one box (bspboxvol)
func (c *Config) BoxVolume() int { return c.BoxSize * c.BoxSize * c.BoxSize }

// PadLen is the zero-padded transform length per axis
func (c *Config) PadLen() int { return 2 * c.BoxSize }

// PadVolume is the number of samples in one padded box grid
func (c *Config) PadVolume() int {
	p := c.PadLen()
	return p * p * p
}

// CellVolume is the volume of one basis cell
func (c *Config) CellVolume() float64 { return c.Cell[0] * c.Cell[1] * c.Cell[2] }

// BasisIndex converts a global basis index into grid coordinates (bsindex)
func (c *Config) BasisIndex(gi int) (i, j, k int) {
	i = gi % c.Nx
	j = (gi / c.Nx) % c.Ny
	k = gi / (c.Nx * c.Ny)
	return
}

// GlobalIndex is the inverse of BasisIndex
func (c *Config) GlobalIndex(i, j, k int) int {
	return i + c.Nx*(j+c.Ny*k)
}

// BasisCenter returns the center of the cell with global index gi (bscenter)
func (c *Config) BasisCenter(gi int) (cen [3]float64) {
	i, j, k := c.BasisIndex(gi)
	cen[0] = c.Min[0] + (float64(i)+0.5)*c.Cell[0]
	cen[1] = c.Min[1] + (float64(j)+0.5)*c.Cell[1]
	cen[2] = c.Min[2] + (float64(k)+0.5)*c.Cell[2]
	return
}

// BoxesPerAxis is the number of boxes covering the grid along each axis
func (c *Config) BoxesPerAxis() [3]int {
	b := c.BoxSize
	return [3]int{(c.Nx + b - 1) / b, (c.Ny + b - 1) / b, (c.Nz + b - 1) / b}
}

// BoxOf returns the box coordinates of a global basis index
func (c *Config) BoxOf(gi int) [3]int {
	i, j, k := c.BasisIndex(gi)
	b := c.BoxSize
	return [3]int{i / b, j / b, k / b}
}

// LocalSlot returns the position of a basis within its box, in
// [0, BoxVolume), x fastest.
func (c *Config) LocalSlot(gi int) int {
	i, j, k := c.BasisIndex(gi)
	b := c.BoxSize
	return i%b + b*(j%b+b*(k%b))
}

// BoxCenter returns the geometric center of a box
func (c *Config) BoxCenter(box [3]int) (cen [3]float64) {
	half := 0.5 * float64(c.BoxSize)
	for d := 0; d < 3; d++ {
		cen[d] = c.Min[d] + (float64(box[d]*c.BoxSize)+half)*c.Cell[d]
	}
	return
}

// SlotPosition returns the offset of a box-local slot from the box center
func (c *Config) SlotPosition(slot int) (rel [3]float64) {
	b := c.BoxSize
	loc := [3]int{slot % b, (slot / b) % b, slot / (b * b)}
	half := 0.5 * float64(b)
	for d := 0; d < 3; d++ {
		rel[d] = (float64(loc[d]) + 0.5 - half) * c.Cell[d]
	}
	return
}
