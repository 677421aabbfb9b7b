// Package pattern builds the box radiation and receiving pattern table and
// applies it to box-local currents.
package pattern

import (
	"fmt"
	"math"
)

// Direction converts spherical angles in radians to a unit vector
func Direction(theta, phi float64) [3]float64 {
	st, ct := math.Sincos(theta)
	sp, cp := math.Sincos(phi)
	return [3]float64{st * cp, st * sp, ct}
}

// Sampling returns the pole and latitude-ring directions used for box
// patterns: the north pole, ntheta-2 uniformly spaced rings of nphi
// azimuthal samples, then the south pole. This is the tree-level sampling
// an external multilevel library interpolates between levels; the
// single-level grid samples the observer directions instead.
func Sampling(ntheta, nphi int) ([][3]float64, error) {
	if ntheta < 2 || nphi < 1 {
		return nil, fmt.Errorf("pattern sampling needs ntheta >= 2 and nphi >= 1, got %d, %d", ntheta, nphi)
	}
	dirs := make([][3]float64, 0, (ntheta-2)*nphi+2)
	dirs = append(dirs, [3]float64{0, 0, 1})
	dt := math.Pi / float64(ntheta-1)
	dp := 2 * math.Pi / float64(nphi)
	for i := 1; i < ntheta-1; i++ {
		for j := 0; j < nphi; j++ {
			dirs = append(dirs, Direction(float64(i)*dt, float64(j)*dp))
		}
	}
	dirs = append(dirs, [3]float64{0, 0, -1})
	return dirs, nil
}

// Grid returns nt*np directions covering the given polar and azimuthal
// ranges in degrees, theta slowest. The polar range includes both ends;
// the azimuthal range is treated as periodic and excludes its upper end.
// A single sample along an axis sits at the lower bound.
func Grid(thetaRange, phiRange [2]float64, nt, np int) ([][3]float64, error) {
	if nt < 1 || np < 1 {
		return nil, fmt.Errorf("direction grid needs positive counts, got %d, %d", nt, np)
	}
	rad := math.Pi / 180
	var dt, dp float64
	if nt > 1 {
		dt = (thetaRange[1] - thetaRange[0]) / float64(nt-1)
	}
	dp = (phiRange[1] - phiRange[0]) / float64(np)
	dirs := make([][3]float64, 0, nt*np)
	for i := 0; i < nt; i++ {
		theta := (thetaRange[0] + float64(i)*dt) * rad
		for j := 0; j < np; j++ {
			phi := (phiRange[0] + float64(j)*dp) * rad
			dirs = append(dirs, Direction(theta, phi))
		}
	}
	return dirs, nil
}
