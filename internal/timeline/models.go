// Package timeline implements scripted chapter playback: an ordered list of
// chapters advanced on a wall-clock timer, with pause/resume that does not
// drift and arbitrary seek.
package timeline

import (
	"time"

	"visual-rig-hub/internal/mirror"
	"visual-rig-hub/internal/wire"
)

// Transition is how a chapter's shader replaces the previous one.
type Transition string

const (
	TransitionCut       Transition = "cut"
	TransitionCrossfade Transition = "crossfade"
	TransitionFlash     Transition = "flash"
)

// Chapter is one scheduled segment of a timeline. Chapters are immutable once
// part of a loaded timeline; the scheduler works on its own snapshot.
type Chapter struct {
	Name               string                 `json:"name"`
	Shader             string                 `json:"shader"`
	StartTime          float64                `json:"start_time"`
	EndTime            float64                `json:"end_time"`
	Transition         Transition             `json:"transition"`
	TransitionDuration float64                `json:"transition_duration,omitempty"`
	Params             map[string]float64     `json:"params,omitempty"`
	Palette            *mirror.Palette        `json:"palette,omitempty"`
	AudioBindings      []mirror.AudioBinding  `json:"audio_bindings,omitempty"`
	Automations        []wire.AutomationCurve `json:"automations,omitempty"`
}

// Duration is the chapter's scheduled play time.
func (c Chapter) Duration() time.Duration {
	return time.Duration((c.EndTime - c.StartTime) * float64(time.Second))
}

// Contains reports whether the wall-clock position (seconds from timeline
// start) falls inside the chapter's [StartTime, EndTime) interval.
func (c Chapter) Contains(position float64) bool {
	return position >= c.StartTime && position < c.EndTime
}

// Timeline is an ordered script of chapters played back against wall-clock
// time. Array order is playback order.
type Timeline struct {
	Name     string    `json:"name"`
	Track    string    `json:"track,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Chapters []Chapter `json:"chapters"`
}

// Clone returns a deep copy, so a stored or loaded snapshot cannot be
// mutated through the original value.
func (t Timeline) Clone() Timeline {
	out := t
	out.Chapters = make([]Chapter, len(t.Chapters))
	for i, c := range t.Chapters {
		cc := c
		if c.Params != nil {
			cc.Params = make(map[string]float64, len(c.Params))
			for k, v := range c.Params {
				cc.Params[k] = v
			}
		}
		if c.Palette != nil {
			p := *c.Palette
			cc.Palette = &p
		}
		if c.AudioBindings != nil {
			cc.AudioBindings = append([]mirror.AudioBinding(nil), c.AudioBindings...)
		}
		if c.Automations != nil {
			cc.Automations = make([]wire.AutomationCurve, len(c.Automations))
			for j, a := range c.Automations {
				aa := a
				aa.Keyframes = append([]wire.Keyframe(nil), a.Keyframes...)
				cc.Automations[j] = aa
			}
		}
		out.Chapters[i] = cc
	}
	return out
}
