// Package calendar routes external-calendar reads to the source that
// knows how to talk to each platform.
package calendar

import (
	"fmt"
	"sync"

	"github.com/studious/planner"
)

type Mux struct {
	mu      sync.Mutex
	sources map[string]planner.ExternalSource
}

func NewMux() *Mux {
	return &Mux{
		sources: make(map[string]planner.ExternalSource),
	}
}

func (m *Mux) Get(platform string) (planner.ExternalSource, error) {
	source, ok := m.sources[platform]
	if !ok {
		return nil, fmt.Errorf("calendar %q is not implemented", platform)
	}
	return source, nil
}

func (m *Mux) Register(platform string, source planner.ExternalSource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sources[platform] = source
}
