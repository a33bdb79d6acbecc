package api

import (
	"sync"

	"github.com/google/uuid"
)

// GenerationStore keeps finished generations in memory for retrieval.
type GenerationStore struct {
	mu          sync.Mutex
	generations map[string]Generation
}

func NewGenerationStore() *GenerationStore {
	return &GenerationStore{
		generations: make(map[string]Generation),
	}
}

func (s *GenerationStore) Save(gen Generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[gen.ID] = gen
}

func (s *GenerationStore) Get(id string) (Generation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.generations[id]
	return gen, ok
}

func (s *GenerationStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.generations[id]; !ok {
		return false
	}
	delete(s.generations, id)
	return true
}

func (s *GenerationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.generations)
}

func newGenerationID() string {
	return "gen_" + uuid.NewString()
}
