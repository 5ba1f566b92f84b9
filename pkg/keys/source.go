package keys

import (
	"context"
	"errors"
	"sync"
)

// ErrNoKeyMaterial is returned by Source.Load when nothing is stored yet.
var ErrNoKeyMaterial = errors.New("keys: no key material stored")

// Source persists key material between calls. Store returns the material
// that ended up stored: an atomic source that loses a race returns the
// winner's material rather than the argument.
type Source interface {
	Load(ctx context.Context) (*Material, error)
	Store(ctx context.Context, m Material) (*Material, error)
}

// StaticSource keeps material in memory for the lifetime of the process.
type StaticSource struct {
	mu       sync.Mutex
	material *Material
}

// NewStaticSource returns an empty in-memory source.
func NewStaticSource() *StaticSource {
	return &StaticSource{}
}

// Load returns the stored material or ErrNoKeyMaterial.
func (s *StaticSource) Load(context.Context) (*Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.material == nil {
		return nil, ErrNoKeyMaterial
	}
	m := *s.material
	return &m, nil
}

// Store keeps m unless material is already stored, in which case the
// existing material is returned.
func (s *StaticSource) Store(_ context.Context, m Material) (*Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.material == nil {
		s.material = &m
	}
	out := *s.material
	return &out, nil
}
