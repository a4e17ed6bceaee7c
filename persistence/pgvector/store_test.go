//go:build integration

package pgvector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/flarexio/faceblade/vector"
	"github.com/flarexio/faceblade/vector/vectortest"
)

func setupTestContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return "", func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	url := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	return url, func() {
		container.Terminate(ctx)
	}
}

func TestPGVectorStoreSuite(t *testing.T) {
	url, cleanup := setupTestContainer(t)
	defer cleanup()

	cfg := vector.Config{
		Driver:       vector.DriverPGVector,
		URL:          url,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	suite.Run(t, &vectortest.StoreSuite{
		NewStore: func() vector.Store {
			store, err := NewPGVectorStore(context.Background(), cfg)
			if err != nil {
				panic(err)
			}

			return store
		},
		Distances: []vector.Distance{
			vector.DistanceCosine,
			vector.DistanceEuclidean,
			vector.DistanceDot,
			vector.DistanceManhattan,
		},
	})
}
