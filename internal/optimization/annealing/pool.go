package annealing

import "github.com/copyleftdev/annealer/internal/optimization"

// statePool recycles candidate states so the loop does not allocate a new
// state per iteration. It is owned by a single run and is not goroutine safe.
type statePool struct {
	layout []optimization.Variable
	free   []optimization.State
}

func newStatePool(layout []optimization.Variable) *statePool {
	return &statePool{
		layout: layout,
		free:   make([]optimization.State, 0, 4),
	}
}

// Get returns a state from the pool or allocates one shaped like the layout.
func (p *statePool) Get() optimization.State {
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		return s
	}

	s := make(optimization.State, len(p.layout))
	for _, v := range p.layout {
		s[v.Name] = optimization.Value{
			Components: make([]float64, v.Length),
			Sequence:   v.Shape == optimization.ShapeSequence,
		}
	}
	return s
}

// Put returns a state to the pool.
func (p *statePool) Put(s optimization.State) {
	if s == nil {
		return
	}
	p.free = append(p.free, s)
}
