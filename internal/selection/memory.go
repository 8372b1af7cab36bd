package selection

import (
	"context"
	"sync"

	"github.com/local/cardbatch/internal/manifest"
)

// MemoryChoices is a process-local ChoiceStore. It backs tests and runs
// without a redis endpoint; choices then last only as long as the process.
type MemoryChoices struct {
	mu sync.Mutex
	m  map[string][]int
}

func NewMemoryChoices() *MemoryChoices {
	return &MemoryChoices{m: make(map[string][]int)}
}

func (s *MemoryChoices) Get(_ context.Context, reference string, side manifest.Side) ([]int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[reference+"|"+string(side)]
	if !ok {
		return nil, false, nil
	}
	out := make([]int, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *MemoryChoices) Put(_ context.Context, reference string, side manifest.Side, indices []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]int, len(indices))
	copy(v, indices)
	s.m[reference+"|"+string(side)] = v
	return nil
}
