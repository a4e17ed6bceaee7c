package faceblade

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flarexio/faceblade/embedding"
	"github.com/flarexio/faceblade/vector"
)

var (
	ErrInvalidScope            = errors.New("invalid scope")
	ErrNoImages                = errors.New("no images submitted")
	ErrEmptyImage              = errors.New("empty image")
	ErrFaceNotFound            = errors.New("face not found")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrInvalidThreshold        = errors.New("threshold must be a number in (0,1)")
	ErrInvalidPolicy           = errors.New("invalid aggregation policy")
	ErrInvalidRequest          = errors.New("invalid request")
)

const (
	DefaultGroupID        = "default"
	DefaultCollectionName = "faces_collection"
	DefaultDimension      = 512
	DefaultThreshold      = 0.4
	DefaultTimeout        = 10 * time.Second
	DefaultConcurrency    = 4
)

type Config struct {
	Collection  vector.CollectionInfo `yaml:"collection"`
	Vector      vector.Config         `yaml:"vector"`
	Embedding   embedding.Config      `yaml:"embedding"`
	Recognition RecognitionConfig     `yaml:"recognition"`
	Timeout     Duration              `yaml:"timeout"`
	Concurrency int                   `yaml:"concurrency"`
}

type RecognitionConfig struct {
	Threshold Threshold `yaml:"threshold"`
	Policy    Policy    `yaml:"policy"`
}

// Normalize fills defaults and validates the config. It fails fast on any
// value the service could not run with.
func (cfg *Config) Normalize() error {
	if cfg.Collection.Name == "" {
		cfg.Collection.Name = DefaultCollectionName
	}

	if cfg.Collection.Dimension == 0 {
		cfg.Collection.Dimension = DefaultDimension
	}

	distance, err := vector.ParseDistance(string(cfg.Collection.Distance))
	if err != nil {
		return err
	}
	cfg.Collection.Distance = distance

	if err := cfg.Collection.Validate(); err != nil {
		return err
	}

	if cfg.Recognition.Threshold == 0 {
		cfg.Recognition.Threshold = DefaultThreshold
	}

	if err := cfg.Recognition.Threshold.Validate(); err != nil {
		return err
	}

	policy, err := ParsePolicy(string(cfg.Recognition.Policy))
	if err != nil {
		return err
	}
	cfg.Recognition.Policy = policy

	if cfg.Timeout <= 0 {
		cfg.Timeout = Duration(DefaultTimeout)
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	return nil
}

// Threshold is the similarity a candidate must strictly exceed to match.
type Threshold float32

func ParseThreshold(s string) (Threshold, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidThreshold, s)
	}

	t := Threshold(f)
	if err := t.Validate(); err != nil {
		return 0, err
	}

	return t, nil
}

func (t Threshold) Validate() error {
	if t <= 0 || t >= 1 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, float32(t))
	}

	return nil
}

// Accepts reports whether score strictly exceeds the threshold.
func (t Threshold) Accepts(score float32) bool {
	return score > float32(t)
}

func (t *Threshold) UnmarshalYAML(value *yaml.Node) error {
	threshold, err := ParseThreshold(value.Value)
	if err != nil {
		return err
	}

	*t = threshold
	return nil
}

// Policy decides how per-image verdicts of a single-person check combine.
type Policy string

const (
	// PolicyEach reports per-image verdicts only.
	PolicyEach Policy = "each"

	// PolicyAll matches only if every image matches.
	PolicyAll Policy = "all"

	// PolicyAny matches if at least one image matches.
	PolicyAny Policy = "any"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyEach, nil

	case PolicyEach, PolicyAll, PolicyAny:
		return p, nil

	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	str := d.Duration().String()
	return json.Marshal(str)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration().String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

// Scope addresses faces: one person in a group, or every person in it.
type Scope struct {
	GroupID  string `json:"group_id" form:"group_id"`
	PersonID string `json:"person_id,omitempty" form:"person_id"`
}

func (s Scope) Validate() error {
	if s.GroupID == "" {
		return fmt.Errorf("%w: group id is required", ErrInvalidScope)
	}

	return nil
}

// ValidatePerson additionally requires a person.
func (s Scope) ValidatePerson() error {
	if err := s.Validate(); err != nil {
		return err
	}

	if s.PersonID == "" {
		return fmt.Errorf("%w: person id is required", ErrInvalidScope)
	}

	return nil
}

func (s Scope) Filter() vector.Filter {
	return vector.Filter{
		GroupID:  s.GroupID,
		PersonID: s.PersonID,
	}
}

type Face struct {
	ID       string `json:"id"`
	GroupID  string `json:"group_id"`
	PersonID string `json:"person_id"`
}

func PointToFace(p vector.Point) Face {
	return Face{
		ID:       p.ID,
		GroupID:  p.Payload.GroupID,
		PersonID: p.Payload.PersonID,
	}
}

// FaceStatus reports what happened to one submitted image.
type FaceStatus struct {
	Index  int    `json:"index"`
	FaceID string `json:"face_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s FaceStatus) OK() bool {
	return s.Error == ""
}

// Verdict is the match decision for one submitted image.
type Verdict struct {
	Index    int     `json:"index"`
	Match    bool    `json:"match"`
	Score    float32 `json:"score"`
	FaceID   string  `json:"face_id,omitempty"`
	PersonID string  `json:"person_id,omitempty"`
	Error    string  `json:"error,omitempty"`
}

type CheckResult struct {
	Verdicts []Verdict `json:"verdicts"`

	// Match is set only when an aggregating policy was requested.
	Match *bool `json:"match,omitempty"`
}

func (r *CheckResult) aggregate(policy Policy) {
	if policy == PolicyEach || len(r.Verdicts) == 0 {
		return
	}

	match := policy == PolicyAll
	for _, v := range r.Verdicts {
		switch policy {
		case PolicyAll:
			match = match && v.Match
		case PolicyAny:
			match = match || v.Match
		}
	}

	r.Match = &match
}
