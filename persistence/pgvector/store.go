package pgvector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/flarexio/faceblade/vector"
)

// NewPGVectorStore connects to PostgreSQL with the pgvector extension and
// migrates the schema.
func NewPGVectorStore(ctx context.Context, cfg vector.Config) (vector.Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: database URL is required", vector.ErrInvalidConfig)
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", vector.ErrUnavailable, err)
	}

	s := &pgStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

type pgStore struct {
	db *sql.DB

	// collection info is immutable once created
	infos sync.Map
}

// wrap marks connection-level failures as unavailability.
func wrap(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", vector.ErrUnavailable, err)
	}

	return err
}

// operator returns the pgvector distance operator and a mapping from its
// result to a similarity score.
func operator(d vector.Distance) (string, func(float32) float32) {
	switch d {
	case vector.DistanceEuclidean:
		return "<->", vector.FromDistance

	case vector.DistanceDot:
		// <#> yields the negative inner product
		return "<#>", func(v float32) float32 { return -v }

	case vector.DistanceManhattan:
		return "<+>", vector.FromDistance

	default:
		return "<=>", func(v float32) float32 { return 1 - v }
	}
}

func (s *pgStore) CreateCollection(ctx context.Context, info vector.CollectionInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	distance, _ := vector.ParseDistance(string(info.Distance))
	info.Distance = distance

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO face_collections (name, dimension, distance)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
	`, info.Name, info.Dimension, string(info.Distance))
	if err != nil {
		return wrap(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return wrap(err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", vector.ErrCollectionExists, info.Name)
	}

	s.infos.Store(info.Name, info)
	return nil
}

func (s *pgStore) Collection(ctx context.Context, name string) (vector.CollectionInfo, error) {
	if v, ok := s.infos.Load(name); ok {
		return v.(vector.CollectionInfo), nil
	}

	var (
		info     = vector.CollectionInfo{Name: name}
		distance string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT dimension, distance FROM face_collections WHERE name = $1
	`, name).Scan(&info.Dimension, &distance)
	if errors.Is(err, sql.ErrNoRows) {
		return vector.CollectionInfo{}, fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name)
	}
	if err != nil {
		return vector.CollectionInfo{}, wrap(err)
	}

	info.Distance, err = vector.ParseDistance(distance)
	if err != nil {
		return vector.CollectionInfo{}, err
	}

	s.infos.Store(name, info)
	return info, nil
}

func (s *pgStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM face_collections ORDER BY name`)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		names = append(names, name)
	}

	return names, wrap(rows.Err())
}

func (s *pgStore) DropCollection(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM face_collections WHERE name = $1`, name)
	if err != nil {
		return wrap(err)
	}

	s.infos.Delete(name)

	n, err := result.RowsAffected()
	if err != nil {
		return wrap(err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name)
	}

	return nil
}

func (s *pgStore) Upsert(ctx context.Context, collection string, points ...vector.Point) error {
	info, err := s.Collection(ctx, collection)
	if err != nil {
		return err
	}

	for _, p := range points {
		if err := vector.CheckDimension(info, p.Embedding); err != nil {
			return err
		}
	}

	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO face_vectors (collection, id, embedding, group_id, person_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection, id) DO UPDATE SET
			embedding  = EXCLUDED.embedding,
			group_id   = EXCLUDED.group_id,
			person_id  = EXCLUDED.person_id,
			updated_at = NOW()
	`)
	if err != nil {
		return wrap(err)
	}
	defer stmt.Close()

	for _, p := range points {
		_, err := stmt.ExecContext(ctx,
			collection,
			p.ID,
			pgvector.NewVector(p.Embedding),
			p.Payload.GroupID,
			p.Payload.PersonID,
		)
		if err != nil {
			return wrap(fmt.Errorf("upsert face %s: %w", p.ID, err))
		}
	}

	return wrap(tx.Commit())
}

// conditions renders the filter as a WHERE clause. args[0] is the collection.
func conditions(collection string, filter vector.Filter, args []any) (string, []any) {
	args = append(args, collection)
	clauses := []string{fmt.Sprintf("collection = $%d", len(args))}

	if filter.GroupID != "" {
		args = append(args, filter.GroupID)
		clauses = append(clauses, fmt.Sprintf("group_id = $%d", len(args)))
	}

	if filter.PersonID != "" {
		args = append(args, filter.PersonID)
		clauses = append(clauses, fmt.Sprintf("person_id = $%d", len(args)))
	}

	if len(filter.FaceIDs) > 0 {
		args = append(args, pq.Array(filter.FaceIDs))
		clauses = append(clauses, fmt.Sprintf("id = ANY($%d)", len(args)))
	}

	return strings.Join(clauses, " AND "), args
}

func (s *pgStore) Query(ctx context.Context, collection string, embedding []float32, filter vector.Filter, k int) ([]vector.Candidate, error) {
	info, err := s.Collection(ctx, collection)
	if err != nil {
		return nil, err
	}

	if err := vector.CheckDimension(info, embedding); err != nil {
		return nil, err
	}

	if k <= 0 {
		return []vector.Candidate{}, nil
	}

	op, score := operator(info.Distance)

	args := []any{pgvector.NewVector(embedding)}
	where, args := conditions(collection, filter, args)
	args = append(args, k)

	query := fmt.Sprintf(`
		SELECT id, group_id, person_id, embedding %s $1::vector AS distance
		FROM face_vectors
		WHERE %s
		ORDER BY distance, id
		LIMIT $%d
	`, op, where, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(fmt.Errorf("query similar faces: %w", err))
	}
	defer rows.Close()

	candidates := make([]vector.Candidate, 0, k)
	for rows.Next() {
		var (
			c        vector.Candidate
			distance float64
		)

		if err := rows.Scan(&c.ID, &c.Payload.GroupID, &c.Payload.PersonID, &distance); err != nil {
			return nil, err
		}

		c.Score = score(float32(distance))
		candidates = append(candidates, c)
	}

	return candidates, wrap(rows.Err())
}

func (s *pgStore) DeleteByID(ctx context.Context, collection string, id string) (bool, error) {
	if _, err := s.Collection(ctx, collection); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM face_vectors WHERE collection = $1 AND id = $2
	`, collection, id)
	if err != nil {
		return false, wrap(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, wrap(err)
	}

	return n > 0, nil
}

func (s *pgStore) Delete(ctx context.Context, collection string, filter vector.Filter) (int, error) {
	if _, err := s.Collection(ctx, collection); err != nil {
		return 0, err
	}

	where, args := conditions(collection, filter, nil)

	result, err := s.db.ExecContext(ctx, "DELETE FROM face_vectors WHERE "+where, args...)
	if err != nil {
		return 0, wrap(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, wrap(err)
	}

	return int(n), nil
}

func (s *pgStore) List(ctx context.Context, collection string, filter vector.Filter) ([]vector.Point, error) {
	if _, err := s.Collection(ctx, collection); err != nil {
		return nil, err
	}

	where, args := conditions(collection, filter, nil)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, group_id, person_id FROM face_vectors WHERE "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	points := make([]vector.Point, 0)
	for rows.Next() {
		var p vector.Point
		if err := rows.Scan(&p.ID, &p.Payload.GroupID, &p.Payload.PersonID); err != nil {
			return nil, err
		}

		points = append(points, p)
	}

	return points, wrap(rows.Err())
}

func (s *pgStore) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}

	return nil
}
