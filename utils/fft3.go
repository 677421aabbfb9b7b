package utils

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT3 transforms cubic n×n×n complex grids stored x fastest. An FFT3
// carries work storage and must not be shared between goroutines; give each
// worker its own.
type FFT3 struct {
	n    int
	plan *fourier.CmplxFFT
	line []complex128
}

// NewFFT3 creates a transform for grids of edge n
func NewFFT3(n int) *FFT3 {
	if n <= 0 {
		panic(fmt.Sprintf("fft3: transform length must be positive, got %d", n))
	}
	return &FFT3{
		n:    n,
		plan: fourier.NewCmplxFFT(n),
		line: make([]complex128, n),
	}
}

// Len is the grid edge
func (f *FFT3) Len() int { return f.n }

// Volume is the number of samples in one grid
func (f *FFT3) Volume() int { return f.n * f.n * f.n }

// Forward replaces grid with its unnormalized discrete Fourier transform
func (f *FFT3) Forward(grid []complex128) {
	f.transform(grid, false)
}

// Inverse replaces grid with its inverse transform, scaled so that
// Inverse(Forward(x)) == x.
func (f *FFT3) Inverse(grid []complex128) {
	f.transform(grid, true)
	scale := complex(1/float64(f.Volume()), 0)
	for i := range grid {
		grid[i] *= scale
	}
}

// ForwardBatch transforms consecutive grids packed in grids
func (f *FFT3) ForwardBatch(grids []complex128) {
	vol := f.Volume()
	if len(grids)%vol != 0 {
		panic(fmt.Sprintf("fft3: batch length %d not a multiple of %d", len(grids), vol))
	}
	for off := 0; off < len(grids); off += vol {
		f.transform(grids[off:off+vol], false)
	}
}

func (f *FFT3) transform(grid []complex128, inverse bool) {
	n := f.n
	if len(grid) != n*n*n {
		panic(fmt.Sprintf("fft3: grid length %d, want %d", len(grid), n*n*n))
	}
	if n == 1 {
		return
	}
	apply := f.plan.Coefficients
	if inverse {
		apply = f.plan.Sequence
	}

	// x lines are contiguous
	for off := 0; off < len(grid); off += n {
		row := grid[off : off+n]
		apply(row, row)
	}
	// y lines, stride n
	for z := 0; z < n; z++ {
		for x := 0; x < n; x++ {
			base := x + n*n*z
			for y := 0; y < n; y++ {
				f.line[y] = grid[base+n*y]
			}
			apply(f.line, f.line)
			for y := 0; y < n; y++ {
				grid[base+n*y] = f.line[y]
			}
		}
	}
	// z lines, stride n*n
	nn := n * n
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			base := x + n*y
			for z := 0; z < n; z++ {
				f.line[z] = grid[base+nn*z]
			}
			apply(f.line, f.line)
			for z := 0; z < n; z++ {
				grid[base+nn*z] = f.line[z]
			}
		}
	}
}
