// Package comm provides the collective operations used by the distributed
// solvers. Ranks are simulated in process: each rank runs on its own
// goroutine and meets its peers at every collective call.
package comm

import (
	"errors"
	"fmt"
	"sync"
)

// ErrMismatch is returned on every rank when the ranks of a collective
// contribute vectors of different lengths.
var ErrMismatch = errors.New("collective length mismatch")

// ErrAborted is returned by every collective of a group after one of its
// ranks has aborted.
var ErrAborted = errors.New("group aborted")

// Communicator is the view one rank has of its group. Every collective
// blocks until all ranks of the group have called it, and returns the
// identical result on each of them.
type Communicator interface {
	Rank() int
	Size() int
	// AllReduceSum replaces buf with the element-wise sum over ranks
	AllReduceSum(buf []float64) error
	AllReduceSumComplex(buf []complex128) error
	Barrier() error
	// Abort fails the group with err. Ranks blocked in a collective, and
	// every later collective, return ErrAborted.
	Abort(err error)
}

type self struct{}

// Self returns the communicator of a single-rank run
func Self() Communicator { return self{} }

func (self) Rank() int { return 0 }
func (self) Size() int { return 1 }
func (self) AllReduceSum([]float64) error { return nil }
func (self) AllReduceSumComplex([]complex128) error { return nil }
func (self) Barrier() error { return nil }
func (self) Abort(error) {}

// group is the rendezvous shared by the ranks of NewGroup
type group struct {
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	arrived int
	gen     uint64
	contrib [][]complex128
	result  []complex128
	err     error
	cause   error // First abort, nil while the group is healthy
}

type member struct {
	g    *group
	rank int
}

// NewGroup returns the communicators of n in-process ranks. Each must be
// driven from its own goroutine.
func NewGroup(n int) []Communicator {
	if n < 1 {
		panic(fmt.Sprintf("comm: group size must be positive, got %d", n))
	}
	return newGroup(n).members()
}

func newGroup(n int) *group {
	g := &group{size: n, contrib: make([][]complex128, n)}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *group) members() []Communicator {
	members := make([]Communicator, g.size)
	for r := range members {
		members[r] = &member{g: g, rank: r}
	}
	return members
}

func (m *member) Rank() int { return m.rank }
func (m *member) Size() int { return m.g.size }

func (m *member) AllReduceSumComplex(buf []complex128) error {
	return m.g.reduce(m.rank, buf)
}

func (m *member) AllReduceSum(buf []float64) error {
	tmp := make([]complex128, len(buf))
	for i, v := range buf {
		tmp[i] = complex(v, 0)
	}
	if err := m.g.reduce(m.rank, tmp); err != nil {
		return err
	}
	for i := range buf {
		buf[i] = real(tmp[i])
	}
	return nil
}

func (m *member) Barrier() error {
	return m.g.reduce(m.rank, nil)
}

func (m *member) Abort(err error) {
	m.g.abort(fmt.Errorf("rank %d: %w", m.rank, err))
}

// abort records the first cause and wakes every waiting rank
func (g *group) abort(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cause == nil {
		g.cause = err
	}
	g.cond.Broadcast()
}

func (g *group) aborted() error {
	return fmt.Errorf("%w: %w", ErrAborted, g.cause)
}

// reduce sums the contributions of all ranks in rank order, so the result
// does not depend on arrival order.
func (g *group) reduce(rank int, buf []complex128) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cause != nil {
		return g.aborted()
	}

	g.contrib[rank] = append(g.contrib[rank][:0], buf...)
	g.arrived++
	if g.arrived == g.size {
		g.combine()
		g.arrived = 0
		g.gen++
		g.cond.Broadcast()
	} else {
		gen := g.gen
		for gen == g.gen && g.cause == nil {
			g.cond.Wait()
		}
		if gen == g.gen {
			g.arrived--
			return g.aborted()
		}
	}

	if g.err != nil {
		return g.err
	}
	copy(buf, g.result)
	return nil
}

func (g *group) combine() {
	n := len(g.contrib[0])
	g.err = nil
	for r, c := range g.contrib {
		if len(c) != n {
			g.err = fmt.Errorf("%w: rank %d sent %d values, rank 0 sent %d", ErrMismatch, r, len(c), n)
			return
		}
	}
	res := make([]complex128, n)
	for _, c := range g.contrib {
		for i, v := range c {
			res[i] += v
		}
	}
	g.result = res
}

// Run drives fn on every rank of a new group of n ranks and waits for all
// of them. The first rank to fail aborts the group, so its peers return
// from their collectives instead of waiting for it. The error of that
// first failure is returned.
func Run(n int, fn func(c Communicator) error) error {
	if n < 1 {
		panic(fmt.Sprintf("comm: group size must be positive, got %d", n))
	}
	g := newGroup(n)
	var wg sync.WaitGroup
	for _, c := range g.members() {
		wg.Add(1)
		go func(c Communicator) {
			defer wg.Done()
			if err := fn(c); err != nil {
				c.Abort(err)
			}
		}(c)
	}
	wg.Wait()
	return g.cause
}
