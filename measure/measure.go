// Package measure describes source and observation locations, builds the
// incident fields of point sources and observes the field radiated by
// contrast currents, in the far field or at finite observers.
package measure

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/notargets/FMAKernel/comm"
	"github.com/notargets/FMAKernel/config"
	"github.com/notargets/FMAKernel/pattern"
	"github.com/notargets/FMAKernel/tree"
	"github.com/notargets/FMAKernel/utils"
)

// Desc is a set of measurement locations on a sphere. With zero Radius the
// locations are far-field directions; otherwise they are points observed
// through the direct field.
type Desc struct {
	Count      int
	NTheta     int
	NPhi       int
	Radius     float64
	ThetaRange [2]float64 // Degrees
	PhiRange   [2]float64 // Degrees
	Locations  [][3]float64
}

// NewDesc builds the descriptor and its explicit location list
func NewDesc(m config.Measurement) (*Desc, error) {
	if m.Radius < 0 || math.IsNaN(m.Radius) {
		return nil, fmt.Errorf("%w: measurement radius must not be negative, got %g", config.ErrInvalid, m.Radius)
	}
	d := &Desc{
		NTheta:     m.NTheta,
		NPhi:       m.NPhi,
		Radius:     m.Radius,
		ThetaRange: m.ThetaRange,
		PhiRange:   m.PhiRange,
	}
	if err := d.BuildLocations(); err != nil {
		return nil, err
	}
	return d, nil
}

// BuildLocations converts the angular ranges to a location list, theta
// slowest.
func (d *Desc) BuildLocations() error {
	dirs, err := pattern.Grid(d.ThetaRange, d.PhiRange, d.NTheta, d.NPhi)
	if err != nil {
		return fmt.Errorf("build locations: %w", err)
	}
	scale := d.Radius
	if scale == 0 {
		scale = 1
	}
	d.Locations = make([][3]float64, len(dirs))
	for i, s := range dirs {
		d.Locations[i] = [3]float64{scale * s[0], scale * s[1], scale * s[2]}
	}
	d.Count = len(dirs)
	return nil
}

// Directions returns the unit vectors of the locations
func (d *Desc) Directions() [][3]float64 {
	dirs := make([][3]float64, len(d.Locations))
	for i, l := range d.Locations {
		r := math.Sqrt(l[0]*l[0] + l[1]*l[1] + l[2]*l[2])
		dirs[i] = [3]float64{l[0] / r, l[1] / r, l[2] / r}
	}
	return dirs
}

// Observer returns the far-field observer of the directions when Radius is
// zero and the direct-field observer of the locations otherwise. t and
// inter are only used for the far field.
func (d *Desc) Observer(cfg *config.Config, c comm.Communicator, local []int, t tree.Tree, inter tree.Interactions) (Observer, error) {
	if d.Radius == 0 {
		return NewFarField(cfg, c, t, inter, d.Directions()), nil
	}
	return NewDirectField(cfg, c, local, d.Locations)
}

// PointSource fills fld with the field exp(i k0 R)/(4 pi R) of a point
// source at src, sampled at the centers of the local bases.
func PointSource(cfg *config.Config, local []int, src [3]float64, fld []complex128) error {
	if len(fld) != len(local) {
		return fmt.Errorf("%w: field %d, local bases %d", utils.ErrLength, len(fld), len(local))
	}
	k0 := cfg.K0
	for n, gi := range local {
		c := cfg.BasisCenter(gi)
		dx, dy, dz := c[0]-src[0], c[1]-src[1], c[2]-src[2]
		r := math.Sqrt(dx*dx + dy*dy + dz*dz)
		if r == 0 {
			return fmt.Errorf("point source at the center of basis %d", gi)
		}
		fld[n] = cmplx.Exp(complex(0, k0*r)) / complex(4*math.Pi*r, 0)
	}
	return nil
}
