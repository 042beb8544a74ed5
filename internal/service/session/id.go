package session

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator issues session ids of the form <instance>-session-<n>.
type Generator struct {
	instance string
	counter  uint64
}

// NewGenerator uses a random instance prefix so ids from different process
// runs do not collide in downstream topics.
func NewGenerator() *Generator {
	return NewGeneratorWithInstance(uuid.NewString()[:8])
}

func NewGeneratorWithInstance(instance string) *Generator {
	return &Generator{instance: instance}
}

func (g *Generator) Next() string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-session-%d", g.instance, n)
}
