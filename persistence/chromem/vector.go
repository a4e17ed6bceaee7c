package chromem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"gopkg.in/yaml.v3"

	"github.com/flarexio/faceblade/vector"
)

const (
	metaGroupID  = "group_id"
	metaPersonID = "person_id"

	collectionsFile = "collections.yaml"
)

// NewChromemVectorDB opens an embedded chromem database. chromem scores by
// cosine similarity only, so other distances are rejected at creation time.
func NewChromemVectorDB(cfg vector.Config) (vector.Store, error) {
	var db *chromem.DB
	if !cfg.Persistent {
		db = chromem.NewDB()
	} else {
		d, err := chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, err
		}

		db = d
	}

	store := &chromemVectorDB{
		db:    db,
		infos: make(map[string]vector.CollectionInfo),
	}

	if cfg.Persistent {
		store.path = filepath.Join(cfg.Path, collectionsFile)
		if err := store.loadInfos(); err != nil {
			return nil, err
		}
	}

	return store, nil
}

type chromemVectorDB struct {
	db *chromem.DB

	// chromem keeps collection metadata private, so dimension and distance
	// are tracked here and mirrored to a sidecar file when persistent.
	infos map[string]vector.CollectionInfo
	path  string
	mu    sync.RWMutex

	// per collection write locks, so deletes report accurate counts
	locks sync.Map
}

func (store *chromemVectorDB) loadInfos() error {
	bs, err := os.ReadFile(store.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	var infos []vector.CollectionInfo
	if err := yaml.Unmarshal(bs, &infos); err != nil {
		return err
	}

	for _, info := range infos {
		store.infos[info.Name] = info
	}

	return nil
}

// saveInfos must be called with mu held.
func (store *chromemVectorDB) saveInfos() error {
	if store.path == "" {
		return nil
	}

	infos := make([]vector.CollectionInfo, 0, len(store.infos))
	for _, info := range store.infos {
		infos = append(infos, info)
	}

	slices.SortFunc(infos, func(a, b vector.CollectionInfo) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})

	bs, err := yaml.Marshal(infos)
	if err != nil {
		return err
	}

	return os.WriteFile(store.path, bs, 0o644)
}

func (store *chromemVectorDB) collection(name string) (*collection, error) {
	store.mu.RLock()
	info, ok := store.infos[name]
	store.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name)
	}

	c := store.db.GetCollection(name, nil)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name)
	}

	lock, _ := store.locks.LoadOrStore(name, new(sync.Mutex))

	return &collection{
		collection: c,
		info:       info,
		mu:         lock.(*sync.Mutex),
	}, nil
}

func (store *chromemVectorDB) CreateCollection(ctx context.Context, info vector.CollectionInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	distance, _ := vector.ParseDistance(string(info.Distance))
	if distance != vector.DistanceCosine {
		return fmt.Errorf("%w: chromem supports cosine distance only, got %s", vector.ErrInvalidConfig, distance)
	}

	info.Distance = distance

	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.infos[info.Name]; ok {
		return fmt.Errorf("%w: %s", vector.ErrCollectionExists, info.Name)
	}

	if c := store.db.GetCollection(info.Name, nil); c != nil {
		return fmt.Errorf("%w: %s", vector.ErrCollectionExists, info.Name)
	}

	metadata := map[string]string{
		"dimension": fmt.Sprint(info.Dimension),
		"distance":  string(info.Distance),
	}

	// Embeddings are always supplied by the caller, so no embedding func is used.
	if _, err := store.db.CreateCollection(info.Name, metadata, nil); err != nil {
		return err
	}

	store.infos[info.Name] = info
	return store.saveInfos()
}

func (store *chromemVectorDB) Collection(ctx context.Context, name string) (vector.CollectionInfo, error) {
	c, err := store.collection(name)
	if err != nil {
		return vector.CollectionInfo{}, err
	}

	return c.info, nil
}

func (store *chromemVectorDB) Collections(ctx context.Context) ([]string, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	names := make([]string, 0, len(store.infos))
	for name := range store.infos {
		names = append(names, name)
	}

	slices.Sort(names)
	return names, nil
}

func (store *chromemVectorDB) DropCollection(ctx context.Context, name string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.infos[name]; !ok {
		return fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name)
	}

	if err := store.db.DeleteCollection(name); err != nil {
		return err
	}

	delete(store.infos, name)
	store.locks.Delete(name)
	return store.saveInfos()
}

func (store *chromemVectorDB) Upsert(ctx context.Context, name string, points ...vector.Point) error {
	c, err := store.collection(name)
	if err != nil {
		return err
	}

	return c.Upsert(ctx, points...)
}

func (store *chromemVectorDB) Query(ctx context.Context, name string, embedding []float32, filter vector.Filter, k int) ([]vector.Candidate, error) {
	c, err := store.collection(name)
	if err != nil {
		return nil, err
	}

	return c.Query(ctx, embedding, filter, k)
}

func (store *chromemVectorDB) DeleteByID(ctx context.Context, name string, id string) (bool, error) {
	c, err := store.collection(name)
	if err != nil {
		return false, err
	}

	return c.DeleteByID(ctx, id)
}

func (store *chromemVectorDB) Delete(ctx context.Context, name string, filter vector.Filter) (int, error) {
	c, err := store.collection(name)
	if err != nil {
		return 0, err
	}

	return c.Delete(ctx, filter)
}

func (store *chromemVectorDB) List(ctx context.Context, name string, filter vector.Filter) ([]vector.Point, error) {
	c, err := store.collection(name)
	if err != nil {
		return nil, err
	}

	return c.List(ctx, filter)
}

func (store *chromemVectorDB) Close() error {
	return nil
}

type collection struct {
	collection *chromem.Collection
	info       vector.CollectionInfo
	mu         *sync.Mutex
}

// chromem reports a missing document only through its message.
func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "not found")
}

func where(filter vector.Filter) map[string]string {
	where := make(map[string]string)

	if filter.GroupID != "" {
		where[metaGroupID] = filter.GroupID
	}

	if filter.PersonID != "" {
		where[metaPersonID] = filter.PersonID
	}

	if len(where) == 0 {
		return nil
	}

	return where
}

func payload(metadata map[string]string) vector.Payload {
	return vector.Payload{
		GroupID:  metadata[metaGroupID],
		PersonID: metadata[metaPersonID],
	}
}

func (c *collection) Upsert(ctx context.Context, points ...vector.Point) error {
	for _, p := range points {
		if err := vector.CheckDimension(c.info, p.Embedding); err != nil {
			return err
		}
	}

	documents := make([]chromem.Document, len(points))
	for i, p := range points {
		documents[i] = chromem.Document{
			ID: p.ID,
			Metadata: map[string]string{
				metaGroupID:  p.Payload.GroupID,
				metaPersonID: p.Payload.PersonID,
			},
			Embedding: slices.Clone(p.Embedding),
		}
	}

	if len(documents) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.collection.AddDocuments(ctx, documents, 1)
}

func (c *collection) Query(ctx context.Context, embedding []float32, filter vector.Filter, k int) ([]vector.Candidate, error) {
	if err := vector.CheckDimension(c.info, embedding); err != nil {
		return nil, err
	}

	if k > c.collection.Count() {
		k = c.collection.Count()
	}

	if k <= 0 {
		return []vector.Candidate{}, nil
	}

	results, err := c.collection.QueryEmbedding(ctx, embedding, k, where(filter), nil)
	if err != nil {
		return nil, err
	}

	candidates := make([]vector.Candidate, 0, len(results))
	for _, result := range results {
		p := payload(result.Metadata)
		if !filter.Match(result.ID, p) {
			continue
		}

		candidates = append(candidates, vector.Candidate{
			ID:      result.ID,
			Score:   result.Similarity,
			Payload: p,
		})
	}

	return candidates, nil
}

// List scans the collection. chromem has no scan API, so a filtered query
// against a unit vector over the whole collection stands in for one.
func (c *collection) List(ctx context.Context, filter vector.Filter) ([]vector.Point, error) {
	n := c.collection.Count()
	if n == 0 {
		return []vector.Point{}, nil
	}

	unit := make([]float32, c.info.Dimension)
	unit[0] = 1

	results, err := c.collection.QueryEmbedding(ctx, unit, n, where(filter), nil)
	if err != nil {
		return nil, err
	}

	points := make([]vector.Point, 0, len(results))
	for _, result := range results {
		p := payload(result.Metadata)
		if !filter.Match(result.ID, p) {
			continue
		}

		points = append(points, vector.Point{
			ID:      result.ID,
			Payload: p,
		})
	}

	slices.SortFunc(points, func(a, b vector.Point) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	return points, nil
}

func (c *collection) DeleteByID(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.collection.GetByID(ctx, id); err != nil {
		if isNotFound(err) {
			return false, nil
		}

		return false, err
	}

	if err := c.collection.Delete(ctx, nil, nil, id); err != nil {
		return false, err
	}

	return true, nil
}

func (c *collection) Delete(ctx context.Context, filter vector.Filter) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	points, err := c.List(ctx, filter)
	if err != nil {
		return 0, err
	}

	if len(points) == 0 {
		return 0, nil
	}

	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}

	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, err
	}

	return len(ids), nil
}
