package cmdserver

import (
	"sync"

	"github.com/danmuck/potlink/internal/observability"
)

// Output is one on/off actuator. Set drives it to exactly the given state.
type Output interface {
	Set(on bool) error
	State() bool
}

// MemoryOutput keeps its state in memory and mirrors it to the output gauge.
type MemoryOutput struct {
	mu      sync.RWMutex
	name    string
	on      bool
	changes int
}

func NewMemoryOutput(name string) *MemoryOutput {
	observability.SetOutput(name, false)
	return &MemoryOutput{name: name}
}

func (o *MemoryOutput) Name() string { return o.name }

func (o *MemoryOutput) Set(on bool) error {
	o.mu.Lock()
	if o.on != on {
		o.changes++
	}
	o.on = on
	o.mu.Unlock()
	observability.SetOutput(o.name, on)
	return nil
}

func (o *MemoryOutput) State() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.on
}

// Changes counts transitions since creation.
func (o *MemoryOutput) Changes() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.changes
}
