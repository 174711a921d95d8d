package timeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"visual-rig-hub/internal/mirror"
	"visual-rig-hub/internal/platform/metrics"
	"visual-rig-hub/internal/wire"
)

var (
	// ErrNoTimelineLoaded is returned by playback operations before Load.
	ErrNoTimelineLoaded = errors.New("no timeline loaded")

	// ErrChapterNotFound is returned when a jump target does not resolve.
	ErrChapterNotFound = errors.New("chapter not found")
)

// MissingReferenceError reports every shader name a timeline references that
// the preset repository could not resolve.
type MissingReferenceError struct {
	Names []string
}

func (e *MissingReferenceError) Error() string {
	return "timeline references unknown shaders: " + strings.Join(e.Names, ", ")
}

// Broadcaster fans a command out to all connected renderer sessions.
type Broadcaster interface {
	Broadcast(cmd wire.Command)
}

// ShaderResolver resolves a shader preset name to pushable code.
type ShaderResolver interface {
	LookupShader(name string) (mirror.ShaderRef, error)
}

// Target selects a chapter for Jump: by exact index, by case-insensitive
// name, or by time position in seconds from timeline start. The first set
// field wins, in that order.
type Target struct {
	Index    *int     `json:"index,omitempty"`
	Name     string   `json:"name,omitempty"`
	Position *float64 `json:"position,omitempty"`
}

// Status is a read-only view of the scheduler for the control API.
type Status struct {
	State         string  `json:"state"`
	Timeline      string  `json:"timeline,omitempty"`
	Track         string  `json:"track,omitempty"`
	ChapterIndex  int     `json:"chapter_index"`
	Chapter       string  `json:"chapter,omitempty"`
	TotalChapters int     `json:"total_chapters"`
	PositionSec   float64 `json:"position_sec"`
	RemainingSec  float64 `json:"remaining_sec"`
}

// Scheduler owns the active timeline and drives chapter transitions on a
// wall-clock timer. All state lives behind one mutex; at most one advance
// timer is armed at any moment, enforced by cancel-then-rearm plus a
// generation counter that makes stale fires no-ops.
type Scheduler struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	hub     Broadcaster
	mirror  *mirror.Mirror
	shaders ShaderResolver

	mu          sync.Mutex
	active      *Timeline
	index       int
	playing     bool
	paused      bool
	startedAt   time.Time
	accumulated time.Duration
	timer       *time.Timer
	timerGen    uint64

	now func() time.Time
}

// New returns an idle scheduler. Metrics may be nil to disable metric
// recording (e.g. in tests).
func New(hub Broadcaster, m *mirror.Mirror, shaders ShaderResolver, log *slog.Logger, met *metrics.Metrics) *Scheduler {
	return &Scheduler{
		log:     log,
		metrics: met,
		hub:     hub,
		mirror:  m,
		shaders: shaders,
		now:     time.Now,
	}
}

// Load validates and installs a timeline. Every chapter's shader reference
// must resolve in the preset repository; on any miss Load fails with a
// MissingReferenceError naming all unresolved shaders and leaves scheduler
// state untouched. On success the previous timeline, position, and any
// pending timer are discarded.
func (s *Scheduler) Load(t Timeline) error {
	if len(t.Chapters) == 0 {
		return fmt.Errorf("timeline %q has no chapters", t.Name)
	}

	var missing []string
	seen := make(map[string]bool)
	for _, c := range t.Chapters {
		if seen[c.Shader] {
			continue
		}
		seen[c.Shader] = true
		if _, err := s.shaders.LookupShader(c.Shader); err != nil {
			missing = append(missing, c.Shader)
		}
	}
	if len(missing) > 0 {
		return &MissingReferenceError{Names: missing}
	}

	snapshot := t.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTimerLocked()
	s.active = &snapshot
	s.index = 0
	s.playing = false
	s.paused = false
	s.accumulated = 0

	s.log.Info("timeline loaded",
		slog.String("timeline", snapshot.Name),
		slog.Int("chapters", len(snapshot.Chapters)))
	return nil
}

// Play starts or resumes playback: it emits the current chapter's composite
// command immediately and arms the advance timer for the chapter's remaining
// duration (full duration minus time consumed before the last pause).
func (s *Scheduler) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return ErrNoTimelineLoaded
	}

	s.cancelTimerLocked()
	s.paused = false
	s.playing = true
	s.startedAt = s.now()

	ch := s.active.Chapters[s.index]
	s.emitLocked(ch)

	remaining := ch.Duration() - s.accumulated
	if remaining < 0 {
		remaining = 0
	}
	s.armTimerLocked(remaining)
	return nil
}

// Pause suspends playback. It reports whether it actually paused; calling
// Pause while already paused (or not playing) is a no-op, not an error.
func (s *Scheduler) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.playing || s.paused {
		return false
	}
	s.cancelTimerLocked()
	s.accumulated += s.now().Sub(s.startedAt)
	s.paused = true
	return true
}

// Stop ends playback and rewinds to the first chapter. The timeline stays
// loaded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTimerLocked()
	s.playing = false
	s.paused = false
	s.accumulated = 0
	s.index = 0
}

// Jump seeks to the chapter selected by target and emits its composite
// command. If playback is running, the advance timer restarts with the new
// chapter's full duration. An unresolved target leaves all state unchanged.
func (s *Scheduler) Jump(target Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return ErrNoTimelineLoaded
	}

	idx, err := s.resolveLocked(target)
	if err != nil {
		return err
	}

	s.cancelTimerLocked()
	s.index = idx
	s.accumulated = 0

	ch := s.active.Chapters[idx]
	s.emitLocked(ch)

	if s.playing && !s.paused {
		s.startedAt = s.now()
		s.armTimerLocked(ch.Duration())
	}
	return nil
}

// Status returns the scheduler's current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: "idle"}
	if s.active == nil {
		return st
	}

	st.Timeline = s.active.Name
	st.Track = s.active.Track
	st.TotalChapters = len(s.active.Chapters)
	st.ChapterIndex = s.index

	switch {
	case s.paused:
		st.State = "paused"
	case s.playing:
		st.State = "playing"
	default:
		st.State = "loaded"
	}

	ch := s.active.Chapters[s.index]
	st.Chapter = ch.Name

	position := s.accumulated
	if s.playing && !s.paused {
		position += s.now().Sub(s.startedAt)
	}
	st.PositionSec = position.Seconds()
	if remaining := ch.Duration() - position; remaining > 0 {
		st.RemainingSec = remaining.Seconds()
	}
	return st
}

// resolveLocked maps a jump target to a chapter index.
func (s *Scheduler) resolveLocked(target Target) (int, error) {
	chapters := s.active.Chapters
	switch {
	case target.Index != nil:
		i := *target.Index
		if i < 0 || i >= len(chapters) {
			return 0, fmt.Errorf("chapter index %d of %d: %w", i, len(chapters), ErrChapterNotFound)
		}
		return i, nil
	case target.Name != "":
		for i, c := range chapters {
			if strings.EqualFold(c.Name, target.Name) {
				return i, nil
			}
		}
		return 0, fmt.Errorf("chapter %q: %w", target.Name, ErrChapterNotFound)
	case target.Position != nil:
		for i, c := range chapters {
			if c.Contains(*target.Position) {
				return i, nil
			}
		}
		return 0, fmt.Errorf("no chapter at position %gs: %w", *target.Position, ErrChapterNotFound)
	default:
		return 0, fmt.Errorf("empty jump target: %w", ErrChapterNotFound)
	}
}

// armTimerLocked arms the single advance timer slot for d from now.
func (s *Scheduler) armTimerLocked(d time.Duration) {
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(d, func() { s.advance(gen) })
}

// cancelTimerLocked disarms the timer slot. Bumping the generation makes a
// fire that already escaped Stop a no-op.
func (s *Scheduler) cancelTimerLocked() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// advance fires when the current chapter's timer elapses.
func (s *Scheduler) advance(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.timerGen || !s.playing || s.paused {
		return
	}

	if s.index+1 >= len(s.active.Chapters) {
		s.playing = false
		s.timer = nil
		s.accumulated = 0
		s.log.Info("timeline finished", slog.String("timeline", s.active.Name))
		return
	}

	s.index++
	s.accumulated = 0
	s.startedAt = s.now()

	ch := s.active.Chapters[s.index]
	s.emitLocked(ch)
	s.armTimerLocked(ch.Duration())
}

// emitLocked broadcasts a chapter's composite command in fixed order:
// shader transition, params, palette, audio bindings, automation, chapter
// info. Params, palette, and bindings also write through the mirror so
// sessions joining later resync to them. A shader that no longer resolves is
// non-fatal: the push is skipped and the rest of the composite still goes
// out.
func (s *Scheduler) emitLocked(ch Chapter) {
	transitionMs := int64(ch.TransitionDuration * 1000)

	ref, err := s.shaders.LookupShader(ch.Shader)
	if err != nil {
		s.log.Warn("chapter shader unresolved, skipping push",
			slog.String("chapter", ch.Name),
			slog.String("shader", ch.Shader),
			slog.String("error", err.Error()))
	} else {
		switch ch.Transition {
		case TransitionCrossfade:
			s.hub.Broadcast(wire.NewShaderCrossfade(ref.ID, ref.Code, transitionMs))
		case TransitionFlash:
			s.hub.Broadcast(wire.NewFlash(nil, transitionMs))
			// The delayed push is deliberately detached: it is not part of
			// the scheduler's single-timer slot and survives a jump or pause
			// inside the half-duration window.
			half := time.Duration(transitionMs) * time.Millisecond / 2
			time.AfterFunc(half, func() {
				s.hub.Broadcast(wire.NewShaderPush(ref.ID, ref.Code))
			})
		default:
			s.hub.Broadcast(wire.NewShaderPush(ref.ID, ref.Code))
		}
		s.mirror.SetShader(ref)
	}

	if len(ch.Params) > 0 {
		names := make([]string, 0, len(ch.Params))
		for name := range ch.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s.hub.Broadcast(wire.NewParamSet(name, ch.Params[name]))
		}
	}

	if ch.Palette != nil {
		s.mirror.SetPalette(*ch.Palette)
		p := *ch.Palette
		s.hub.Broadcast(wire.NewPaletteSet(p.Color1, p.Color2, p.Color3, p.Background))
	}

	for _, b := range ch.AudioBindings {
		s.mirror.SetAudioBinding(b)
		s.hub.Broadcast(wire.NewAudioBind(b.Source, b.Target, b.Multiplier, b.Offset, b.Smoothing))
	}

	if len(ch.Automations) > 0 {
		s.hub.Broadcast(wire.NewAutomation(ch.Automations))
	}

	s.hub.Broadcast(wire.NewChapterInfo(ch.Name, s.index, len(s.active.Chapters)))

	if s.metrics != nil {
		s.metrics.IncChapterTransitions()
	}
}
