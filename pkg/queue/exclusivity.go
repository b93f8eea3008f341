package queue

import (
	"sync"

	"github.com/petrijr/opera/pkg/operation"
)

// ExclusivityController serializes operations that share a category. For
// every category it remembers the most recently submitted operation still
// outstanding; the next operation in that category takes the occupant as a
// dependency, forming a chain that executes in submission order. Categories
// are independent of each other, and one operation may hold several.
//
// Each queue owns a controller by default. Pass the same controller to
// several queues (Config.Exclusivity) to serialize categories across them.
type ExclusivityController struct {
	mu        sync.Mutex
	occupants map[string]*operation.Operation
}

// NewExclusivityController returns an empty controller.
func NewExclusivityController() *ExclusivityController {
	return &ExclusivityController{occupants: make(map[string]*operation.Operation)}
}

// chain wires op behind the current occupant of each of its categories and
// records op as the new occupant. It reports whether any dependency edge
// was added.
func (c *ExclusivityController) chain(op *operation.Operation) bool {
	cats := op.Categories()
	if len(cats) == 0 {
		return false
	}

	c.mu.Lock()
	var predecessors []*operation.Operation
	for _, cat := range cats {
		if prev, ok := c.occupants[cat]; ok && prev != op {
			predecessors = append(predecessors, prev)
		}
		c.occupants[cat] = op
	}
	c.mu.Unlock()

	// A predecessor that finished while we were chaining is a satisfied
	// dependency, so this stays correct under that race.
	for _, prev := range predecessors {
		op.AddDependency(prev)
	}
	return len(predecessors) > 0
}

// release clears op from every category it still occupies. The clear is a
// compare-and-clear: a newer operation may already have replaced op as the
// occupant, and then the slot is left alone.
func (c *ExclusivityController) release(op *operation.Operation) {
	cats := op.Categories()
	if len(cats) == 0 {
		return
	}

	c.mu.Lock()
	for _, cat := range cats {
		if c.occupants[cat] == op {
			delete(c.occupants, cat)
		}
	}
	c.mu.Unlock()
}
