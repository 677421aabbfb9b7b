package comm

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelf(t *testing.T) {
	c := Self()
	assert.Equal(t, 0, c.Rank())
	assert.Equal(t, 1, c.Size())
	buf := []float64{1, 2}
	require.NoError(t, c.AllReduceSum(buf))
	assert.Equal(t, []float64{1, 2}, buf)
}

func TestGroup_AllReduceSum(t *testing.T) {
	for _, n := range []int{1, 2, 4, 7} {
		t.Run(fmt.Sprintf("ranks=%d", n), func(t *testing.T) {
			results := make([][]complex128, n)
			err := Run(n, func(c Communicator) error {
				// Several rounds back to back exercise generation reuse
				for round := 0; round < 3; round++ {
					buf := []complex128{complex(float64(c.Rank()), 1), complex(float64(round), 0)}
					if err := c.AllReduceSumComplex(buf); err != nil {
						return err
					}
					results[c.Rank()] = buf
				}
				f := []float64{1}
				if err := c.AllReduceSum(f); err != nil {
					return err
				}
				if f[0] != float64(c.Size()) {
					return fmt.Errorf("rank %d got %g", c.Rank(), f[0])
				}
				return c.Barrier()
			})
			require.NoError(t, err)
			want := []complex128{complex(float64(n*(n-1)/2), float64(n)), complex(float64(2*n), 0)}
			for r := range results {
				assert.Equal(t, want, results[r])
			}
		})
	}
}

func TestGroup_OrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	vals := make([]float64, 4)
	for i := range vals {
		vals[i] = rng.NormFloat64() * 1e8
	}
	got := make([]float64, 4)
	for trial := 0; trial < 5; trial++ {
		require.NoError(t, Run(4, func(c Communicator) error {
			buf := []float64{vals[c.Rank()]}
			if err := c.AllReduceSum(buf); err != nil {
				return err
			}
			got[c.Rank()] = buf[0]
			return nil
		}))
		want := ((vals[0] + vals[1]) + vals[2]) + vals[3]
		for r := range got {
			assert.Equal(t, want, got[r])
		}
	}
}

func TestGroup_Mismatch(t *testing.T) {
	err := Run(3, func(c Communicator) error {
		buf := make([]float64, 1+c.Rank()%2)
		return c.AllReduceSum(buf)
	})
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestRun_AbortReleasesPeers(t *testing.T) {
	boom := errors.New("source on a basis center")
	errs := make([]error, 3)
	done := make(chan error, 1)
	go func() {
		done <- Run(3, func(c Communicator) error {
			if c.Rank() == 1 {
				return boom
			}
			// The peers enter a collective rank 1 never joins
			err := c.AllReduceSum([]float64{1})
			errs[c.Rank()] = err
			return err
		})
	}()
	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after a rank failed")
	}
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "rank 1")
	assert.ErrorIs(t, errs[0], ErrAborted)
	assert.ErrorIs(t, errs[2], ErrAborted)
	assert.ErrorIs(t, errs[0], boom)
}

func TestGroup_AbortFailsLaterCollectives(t *testing.T) {
	members := NewGroup(2)
	members[0].Abort(errors.New("disk full"))
	for _, c := range members {
		assert.ErrorIs(t, c.Barrier(), ErrAborted)
		assert.ErrorIs(t, c.AllReduceSumComplex([]complex128{1}), ErrAborted)
	}
	// Self has no peers to release
	Self().Abort(errors.New("ignored"))
	assert.NoError(t, Self().Barrier())
}
