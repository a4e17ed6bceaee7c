package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/flarexio/faceblade/vector"
)

// NewMemoryStore returns a Store that keeps every collection in process memory
// and answers queries with an exact scan.
func NewMemoryStore() vector.Store {
	return &memoryStore{
		collections: make(map[string]*collection),
	}
}

type memoryStore struct {
	collections map[string]*collection
	mu          sync.RWMutex
}

type collection struct {
	info   vector.CollectionInfo
	points map[string]vector.Point
	mu     sync.RWMutex
}

func (s *memoryStore) collection(name string) (*collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name)
	}

	return c, nil
}

func (s *memoryStore) CreateCollection(ctx context.Context, info vector.CollectionInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	distance, _ := vector.ParseDistance(string(info.Distance))
	info.Distance = distance

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[info.Name]; ok {
		return fmt.Errorf("%w: %s", vector.ErrCollectionExists, info.Name)
	}

	s.collections[info.Name] = &collection{
		info:   info,
		points: make(map[string]vector.Point),
	}

	return nil
}

func (s *memoryStore) Collection(ctx context.Context, name string) (vector.CollectionInfo, error) {
	c, err := s.collection(name)
	if err != nil {
		return vector.CollectionInfo{}, err
	}

	return c.info, nil
}

func (s *memoryStore) Collections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}

	slices.Sort(names)
	return names, nil
}

func (s *memoryStore) DropCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; !ok {
		return fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name)
	}

	delete(s.collections, name)
	return nil
}

func (s *memoryStore) Upsert(ctx context.Context, name string, points ...vector.Point) error {
	c, err := s.collection(name)
	if err != nil {
		return err
	}

	for _, p := range points {
		if err := vector.CheckDimension(c.info, p.Embedding); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range points {
		p.Embedding = slices.Clone(p.Embedding)
		c.points[p.ID] = p
	}

	return nil
}

func (s *memoryStore) Query(ctx context.Context, name string, embedding []float32, filter vector.Filter, k int) ([]vector.Candidate, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	if err := vector.CheckDimension(c.info, embedding); err != nil {
		return nil, err
	}

	if k <= 0 {
		return []vector.Candidate{}, nil
	}

	c.mu.RLock()
	candidates := make([]vector.Candidate, 0)
	for id, p := range c.points {
		if !filter.Match(id, p.Payload) {
			continue
		}

		candidates = append(candidates, vector.Candidate{
			ID:      id,
			Score:   vector.Similarity(c.info.Distance, embedding, p.Embedding),
			Payload: p.Payload,
		})
	}
	c.mu.RUnlock()

	slices.SortFunc(candidates, func(a, b vector.Candidate) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}

		return cmp.Compare(a.ID, b.ID)
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	return candidates, nil
}

func (s *memoryStore) DeleteByID(ctx context.Context, name string, id string) (bool, error) {
	c, err := s.collection(name)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.points[id]; !ok {
		return false, nil
	}

	delete(c.points, id)
	return true, nil
}

func (s *memoryStore) Delete(ctx context.Context, name string, filter vector.Filter) (int, error) {
	c, err := s.collection(name)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for id, p := range c.points {
		if filter.Match(id, p.Payload) {
			delete(c.points, id)
			count++
		}
	}

	return count, nil
}

func (s *memoryStore) List(ctx context.Context, name string, filter vector.Filter) ([]vector.Point, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	points := make([]vector.Point, 0)
	for id, p := range c.points {
		if filter.Match(id, p.Payload) {
			points = append(points, vector.Point{
				ID:      id,
				Payload: p.Payload,
			})
		}
	}

	slices.SortFunc(points, func(a, b vector.Point) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return points, nil
}

func (s *memoryStore) Close() error {
	return nil
}
