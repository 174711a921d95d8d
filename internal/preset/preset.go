// Package preset stores named shader presets and timelines, keyed by name
// and listed most-recently-updated first. The hub and scheduler only ever
// read from it; edits come through the control plane.
package preset

import (
	"errors"

	"visual-rig-hub/internal/mirror"
	"visual-rig-hub/internal/timeline"
)

// ErrNotFound is returned when a lookup name does not exist.
var ErrNotFound = errors.New("preset not found")

// Shader is a named, pushable shader preset.
type Shader struct {
	Name string `json:"name" db:"name"`
	Code string `json:"code" db:"code"`
}

// ShaderStore is the repository contract for shader presets.
type ShaderStore interface {
	// Lookup returns the preset named name, or an error wrapping ErrNotFound.
	Lookup(name string) (*Shader, error)
	// Save inserts or replaces the preset under its name.
	Save(s Shader) error
	// Delete removes the named preset. It reports whether it existed.
	Delete(name string) (bool, error)
	// List returns presets whose name contains filter (case-insensitive;
	// empty matches all), ordered most recently updated first.
	List(filter string) ([]Shader, error)
}

// TimelineStore is the repository contract for timelines, same shape as
// ShaderStore.
type TimelineStore interface {
	Lookup(name string) (*timeline.Timeline, error)
	Save(t timeline.Timeline) error
	Delete(name string) (bool, error)
	List(filter string) ([]timeline.Timeline, error)
}

// Resolver adapts a ShaderStore to the scheduler's ShaderResolver contract.
func Resolver(s ShaderStore) timeline.ShaderResolver {
	return resolver{store: s}
}

type resolver struct {
	store ShaderStore
}

func (r resolver) LookupShader(name string) (mirror.ShaderRef, error) {
	p, err := r.store.Lookup(name)
	if err != nil {
		return mirror.ShaderRef{}, err
	}
	return mirror.ShaderRef{ID: p.Name, Code: p.Code}, nil
}
