package vector

import (
	"fmt"
	"strings"

	"github.com/coder/hnsw"
)

// Distance is the metric a collection is created with.
type Distance string

const (
	DistanceCosine    Distance = "cosine"
	DistanceEuclidean Distance = "euclidean"
	DistanceDot       Distance = "dot"
	DistanceManhattan Distance = "manhattan"
)

// ParseDistance resolves a metric name. The empty string means cosine; any
// other unknown name is rejected.
func ParseDistance(s string) (Distance, error) {
	switch d := Distance(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DistanceCosine, nil

	case DistanceCosine, DistanceEuclidean, DistanceDot, DistanceManhattan:
		return d, nil

	default:
		return "", fmt.Errorf("%w: unknown distance %q", ErrInvalidConfig, s)
	}
}

func (d *Distance) UnmarshalText(text []byte) error {
	distance, err := ParseDistance(string(text))
	if err != nil {
		return err
	}

	*d = distance
	return nil
}

// Similarity scores a against b so that a higher value means more similar.
// Euclidean and manhattan distances are mapped to 1/(1+d).
func Similarity(d Distance, a, b []float32) float32 {
	switch d {
	case DistanceEuclidean:
		return FromDistance(hnsw.EuclideanDistance(a, b))

	case DistanceDot:
		var dot float32
		for i := range a {
			dot += a[i] * b[i]
		}
		return dot

	case DistanceManhattan:
		var sum float32
		for i := range a {
			diff := a[i] - b[i]
			if diff < 0 {
				diff = -diff
			}
			sum += diff
		}
		return FromDistance(sum)

	default:
		return 1 - hnsw.CosineDistance(a, b)
	}
}

// FromDistance maps a non-negative distance onto (0,1].
func FromDistance(distance float32) float32 {
	return 1 / (1 + distance)
}
