// Package mirror holds the authoritative in-memory snapshot of the rig's
// runtime parameters. It is a pure data holder: setters validate and mutate,
// nothing else. Broadcasting a change to renderer sessions is composed at the
// call site.
package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"visual-rig-hub/internal/wire"
)

const (
	// NumChannels is the number of external float channels.
	NumChannels = 16
	// NumXYChannels is the number of external XY pairs.
	NumXYChannels = 4

	// MinBPM and MaxBPM bound the tempo field.
	MinBPM = 1.0
	MaxBPM = 999.0

	// DefaultBPM is the tempo before anything sets it.
	DefaultBPM = 120.0
)

// ErrOutOfRange is returned when a channel index or value violates its bounds.
// The wrapping error names the offending field and value.
var ErrOutOfRange = errors.New("out of range")

// XY is one external XY pair.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Palette is the four-slot color palette.
type Palette struct {
	Color1     wire.RGB `json:"color1"`
	Color2     wire.RGB `json:"color2"`
	Color3     wire.RGB `json:"color3"`
	Background wire.RGB `json:"background"`
}

// PalettePatch is a partial palette update; nil slots retain their prior
// mirrored values.
type PalettePatch struct {
	Color1     *wire.RGB `json:"color1,omitempty"`
	Color2     *wire.RGB `json:"color2,omitempty"`
	Color3     *wire.RGB `json:"color3,omitempty"`
	Background *wire.RGB `json:"background,omitempty"`
}

// AudioBinding maps an audio/sensor source onto a parameter target.
// Bindings are unique by Target; inserting a binding for an existing target
// replaces it.
type AudioBinding struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Multiplier float64 `json:"multiplier"`
	Offset     float64 `json:"offset"`
	Smoothing  float64 `json:"smoothing"`
}

// ShaderRef is the last shader known to be loaded.
type ShaderRef struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// Snapshot is a deep copy of the full mirror state.
type Snapshot struct {
	ExtChannels   [NumChannels]float64 `json:"ext_channels"`
	ExtXY         [NumXYChannels]XY    `json:"ext_xy"`
	BPM           float64              `json:"bpm"`
	Palette       Palette              `json:"palette"`
	AudioBindings []AudioBinding       `json:"audio_bindings"`
	Shader        *ShaderRef           `json:"shader,omitempty"`
	LastStatus    json.RawMessage      `json:"last_status,omitempty"`
	LastStatusAt  time.Time            `json:"last_status_at,omitzero"`
}

// Mirror is the process-wide runtime parameter mirror. The zero value is not
// usable; construct with New.
type Mirror struct {
	mu           sync.RWMutex
	extChannels  [NumChannels]float64
	extXY        [NumXYChannels]XY
	bpm          float64
	palette      Palette
	bindings     map[string]AudioBinding
	shader       *ShaderRef
	lastStatus   json.RawMessage
	lastStatusAt time.Time
}

// New returns a mirror with all fields at their defaults.
func New() *Mirror {
	return &Mirror{
		bpm:      DefaultBPM,
		bindings: make(map[string]AudioBinding),
	}
}

// SetExtChannel sets one external float channel.
func (m *Mirror) SetExtChannel(channel int, value float64) error {
	if channel < 0 || channel >= NumChannels {
		return fmt.Errorf("ext channel %d: %w (0-%d)", channel, ErrOutOfRange, NumChannels-1)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extChannels[channel] = value
	return nil
}

// SetExtXY sets one external XY pair.
func (m *Mirror) SetExtXY(channel int, x, y float64) error {
	if channel < 0 || channel >= NumXYChannels {
		return fmt.Errorf("xy channel %d: %w (0-%d)", channel, ErrOutOfRange, NumXYChannels-1)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extXY[channel] = XY{X: x, Y: y}
	return nil
}

// SetBPM sets the tempo.
func (m *Mirror) SetBPM(bpm float64) error {
	if bpm < MinBPM || bpm > MaxBPM {
		return fmt.Errorf("bpm %g: %w (%g-%g)", bpm, ErrOutOfRange, MinBPM, MaxBPM)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bpm = bpm
	return nil
}

// SetPalette replaces the whole palette.
func (m *Mirror) SetPalette(p Palette) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.palette = p
}

// ApplyPalette merges a partial palette update and returns the resulting
// full palette, so the caller can broadcast it.
func (m *Mirror) ApplyPalette(patch PalettePatch) Palette {
	m.mu.Lock()
	defer m.mu.Unlock()
	if patch.Color1 != nil {
		m.palette.Color1 = *patch.Color1
	}
	if patch.Color2 != nil {
		m.palette.Color2 = *patch.Color2
	}
	if patch.Color3 != nil {
		m.palette.Color3 = *patch.Color3
	}
	if patch.Background != nil {
		m.palette.Background = *patch.Background
	}
	return m.palette
}

// SetAudioBinding inserts a binding, replacing any existing binding for the
// same target.
func (m *Mirror) SetAudioBinding(b AudioBinding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[b.Target] = b
}

// RemoveAudioBinding removes the binding for target. It reports whether a
// binding existed.
func (m *Mirror) RemoveAudioBinding(target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bindings[target]
	delete(m.bindings, target)
	return ok
}

// SetShader records the last shader pushed to renderers.
func (m *Mirror) SetShader(ref ShaderRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shader = &ref
}

// SetLastStatus stores the most recent full status frame reported by any
// renderer. Informational only; nothing schedules off it.
func (m *Mirror) SetLastStatus(raw json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastStatus = append(json.RawMessage(nil), raw...)
	m.lastStatusAt = time.Now().UTC()
}

// Snapshot returns a deep copy of the full mirror state. Bindings are
// sorted by target for deterministic output.
func (m *Mirror) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		ExtChannels:  m.extChannels,
		ExtXY:        m.extXY,
		BPM:          m.bpm,
		Palette:      m.palette,
		LastStatusAt: m.lastStatusAt,
	}
	if m.shader != nil {
		ref := *m.shader
		s.Shader = &ref
	}
	if len(m.lastStatus) > 0 {
		s.LastStatus = append(json.RawMessage(nil), m.lastStatus...)
	}
	if len(m.bindings) > 0 {
		s.AudioBindings = make([]AudioBinding, 0, len(m.bindings))
		for _, b := range m.bindings {
			s.AudioBindings = append(s.AudioBindings, b)
		}
		sort.Slice(s.AudioBindings, func(i, j int) bool {
			return s.AudioBindings[i].Target < s.AudioBindings[j].Target
		})
	}
	return s
}
