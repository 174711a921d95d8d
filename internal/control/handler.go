// Package control exposes the hub's command surface over HTTP: state
// mutation, shader pushes, timeline playback, and preset/mapping CRUD. The
// request layer validates and decodes; every accepted command writes through
// the mirror and then broadcasts, so live sessions and later joins agree.
package control

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"visual-rig-hub/internal/hub"
	"visual-rig-hub/internal/ingest"
	"visual-rig-hub/internal/mirror"
	"visual-rig-hub/internal/preset"
	"visual-rig-hub/internal/timeline"
	"visual-rig-hub/internal/wire"
)

// Handler exposes control-plane HTTP endpoints using go-chi.
type Handler struct {
	mirror    *mirror.Mirror
	hub       *hub.Hub
	sched     *timeline.Scheduler
	shaders   preset.ShaderStore
	timelines preset.TimelineStore
	osc       *ingest.Listener
	log       *slog.Logger
}

// NewHandler returns a Handler wired to the given components.
func NewHandler(m *mirror.Mirror, h *hub.Hub, sched *timeline.Scheduler, shaders preset.ShaderStore, timelines preset.TimelineStore, osc *ingest.Listener, log *slog.Logger) *Handler {
	return &Handler{
		mirror:    m,
		hub:       h,
		sched:     sched,
		shaders:   shaders,
		timelines: timelines,
		osc:       osc,
		log:       log,
	}
}

// Routes registers every control endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/state", h.GetState)
	r.Post("/state/ext/{channel}", h.SetExtChannel)
	r.Post("/state/xy/{channel}", h.SetExtXY)
	r.Post("/state/bpm", h.SetBPM)

	r.Post("/params/{name}", h.SetParam)
	r.Post("/palette", h.SetPalette)

	r.Post("/shader/push", h.PushShader)
	r.Post("/shader/crossfade", h.CrossfadeShader)
	r.Post("/shader/validate", h.ValidateShader)

	r.Post("/audio/bind", h.BindAudio)
	r.Delete("/audio/bind/{target}", h.UnbindAudio)

	r.Route("/presets", func(r chi.Router) {
		r.Get("/", h.ListShaders)
		r.Get("/{name}", h.GetShader)
		r.Put("/{name}", h.SaveShader)
		r.Delete("/{name}", h.DeleteShader)
	})
	r.Route("/timelines", func(r chi.Router) {
		r.Get("/", h.ListTimelines)
		r.Get("/{name}", h.GetTimeline)
		r.Put("/{name}", h.SaveTimeline)
		r.Delete("/{name}", h.DeleteTimeline)
	})

	r.Post("/timeline/load", h.LoadTimeline)
	r.Post("/timeline/play", h.PlayTimeline)
	r.Post("/timeline/pause", h.PauseTimeline)
	r.Post("/timeline/stop", h.StopTimeline)
	r.Post("/timeline/jump", h.JumpTimeline)
	r.Get("/timeline/status", h.TimelineStatus)

	r.Get("/osc/mappings", h.ListMappings)
	r.Put("/osc/mappings", h.SetMapping)
	r.Delete("/osc/mappings", h.RemoveMapping)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.log.Debug("invalid request body", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		h.writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// GetState handles GET /state: the full mirror snapshot.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.mirror.Snapshot())
}

// SetExtChannel handles POST /state/ext/{channel}. Body: { "value": 0.7 }.
func (h *Handler) SetExtChannel(w http.ResponseWriter, r *http.Request) {
	channel, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		Value float64 `json:"value"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.mirror.SetExtChannel(channel, body.Value); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.hub.Broadcast(wire.NewExtChannel(channel, body.Value))
	w.WriteHeader(http.StatusOK)
}

// SetExtXY handles POST /state/xy/{channel}. Body: { "x": 0.1, "y": 0.9 }.
func (h *Handler) SetExtXY(w http.ResponseWriter, r *http.Request) {
	channel, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.mirror.SetExtXY(channel, body.X, body.Y); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.hub.Broadcast(wire.NewExtXY(channel, body.X, body.Y))
	w.WriteHeader(http.StatusOK)
}

// SetBPM handles POST /state/bpm. Body: { "bpm": 128 }.
func (h *Handler) SetBPM(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BPM float64 `json:"bpm"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.mirror.SetBPM(body.BPM); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.hub.Broadcast(wire.NewBPMSet(body.BPM))
	w.WriteHeader(http.StatusOK)
}

// SetParam handles POST /params/{name}. Body: { "value": 0.5 }.
func (h *Handler) SetParam(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body struct {
		Value float64 `json:"value"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	h.hub.Broadcast(wire.NewParamSet(name, body.Value))
	w.WriteHeader(http.StatusOK)
}

// SetPalette handles POST /palette. The body is a partial palette; slots left
// out retain their mirrored values. Responds with the resulting full palette.
func (h *Handler) SetPalette(w http.ResponseWriter, r *http.Request) {
	var patch mirror.PalettePatch
	if !h.decode(w, r, &patch) {
		return
	}
	p := h.mirror.ApplyPalette(patch)
	h.hub.Broadcast(wire.NewPaletteSet(p.Color1, p.Color2, p.Color3, p.Background))
	h.writeJSON(w, http.StatusOK, p)
}

type shaderRequest struct {
	Name       string `json:"name,omitempty"`
	ID         string `json:"id,omitempty"`
	Code       string `json:"code,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// resolveShader turns a shader request into a pushable ref: either a preset
// name to look up, or inline id+code.
func (h *Handler) resolveShader(w http.ResponseWriter, req shaderRequest) (mirror.ShaderRef, bool) {
	if req.Name != "" {
		p, err := h.shaders.Lookup(req.Name)
		if errors.Is(err, preset.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, err)
			return mirror.ShaderRef{}, false
		}
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, err)
			return mirror.ShaderRef{}, false
		}
		return mirror.ShaderRef{ID: p.Name, Code: p.Code}, true
	}
	if req.Code == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("either name or code is required"))
		return mirror.ShaderRef{}, false
	}
	return mirror.ShaderRef{ID: req.ID, Code: req.Code}, true
}

// PushShader handles POST /shader/push. Body: { "name": "preset" } or
// { "id": "...", "code": "..." }.
func (h *Handler) PushShader(w http.ResponseWriter, r *http.Request) {
	var req shaderRequest
	if !h.decode(w, r, &req) {
		return
	}
	ref, ok := h.resolveShader(w, req)
	if !ok {
		return
	}
	h.mirror.SetShader(ref)
	h.hub.Broadcast(wire.NewShaderPush(ref.ID, ref.Code))
	w.WriteHeader(http.StatusOK)
}

// CrossfadeShader handles POST /shader/crossfade, same body as PushShader
// plus duration_ms.
func (h *Handler) CrossfadeShader(w http.ResponseWriter, r *http.Request) {
	var req shaderRequest
	if !h.decode(w, r, &req) {
		return
	}
	ref, ok := h.resolveShader(w, req)
	if !ok {
		return
	}
	h.mirror.SetShader(ref)
	h.hub.Broadcast(wire.NewShaderCrossfade(ref.ID, ref.Code, req.DurationMs))
	w.WriteHeader(http.StatusOK)
}

// ValidateShader handles POST /shader/validate. Body: { "code": "..." }.
// Blocks until a renderer verdict or the validation timeout.
func (h *Handler) ValidateShader(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.Code == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("code is required"))
		return
	}
	verdict, err := h.hub.ValidateShader(r.Context(), body.Code)
	if errors.Is(err, hub.ErrValidateTimeout) {
		h.writeError(w, http.StatusGatewayTimeout, err)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, verdict)
}

// BindAudio handles POST /audio/bind. Body: an audio binding; a binding for
// an existing target replaces it.
func (h *Handler) BindAudio(w http.ResponseWriter, r *http.Request) {
	var b mirror.AudioBinding
	if !h.decode(w, r, &b) {
		return
	}
	if b.Target == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("target is required"))
		return
	}
	h.mirror.SetAudioBinding(b)
	h.hub.Broadcast(wire.NewAudioBind(b.Source, b.Target, b.Multiplier, b.Offset, b.Smoothing))
	w.WriteHeader(http.StatusOK)
}

// UnbindAudio handles DELETE /audio/bind/{target}.
func (h *Handler) UnbindAudio(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	removed := h.mirror.RemoveAudioBinding(target)
	h.hub.Broadcast(wire.NewAudioUnbind(target))
	h.writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// ListShaders handles GET /presets?filter=.
func (h *Handler) ListShaders(w http.ResponseWriter, r *http.Request) {
	out, err := h.shaders.List(r.URL.Query().Get("filter"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetShader handles GET /presets/{name}.
func (h *Handler) GetShader(w http.ResponseWriter, r *http.Request) {
	p, err := h.shaders.Lookup(chi.URLParam(r, "name"))
	if errors.Is(err, preset.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// SaveShader handles PUT /presets/{name}. Body: { "code": "..." }.
func (h *Handler) SaveShader(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	p := preset.Shader{Name: chi.URLParam(r, "name"), Code: body.Code}
	if err := h.shaders.Save(p); err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// DeleteShader handles DELETE /presets/{name}.
func (h *Handler) DeleteShader(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ok, err := h.shaders.Delete(name)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, errors.New("no preset named "+name))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ListTimelines handles GET /timelines?filter=.
func (h *Handler) ListTimelines(w http.ResponseWriter, r *http.Request) {
	out, err := h.timelines.List(r.URL.Query().Get("filter"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetTimeline handles GET /timelines/{name}.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	t, err := h.timelines.Lookup(chi.URLParam(r, "name"))
	if errors.Is(err, preset.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// SaveTimeline handles PUT /timelines/{name}. Body: the timeline document;
// its name is forced to the URL name.
func (h *Handler) SaveTimeline(w http.ResponseWriter, r *http.Request) {
	var t timeline.Timeline
	if !h.decode(w, r, &t) {
		return
	}
	t.Name = chi.URLParam(r, "name")
	if err := h.timelines.Save(t); err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// DeleteTimeline handles DELETE /timelines/{name}.
func (h *Handler) DeleteTimeline(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ok, err := h.timelines.Delete(name)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, errors.New("no timeline named "+name))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// LoadTimeline handles POST /timeline/load. Body: { "name": "..." }. The
// named timeline is fetched from the repository and installed in the
// scheduler; a timeline referencing unknown shaders is rejected wholesale
// with every missing name.
func (h *Handler) LoadTimeline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	t, err := h.timelines.Lookup(body.Name)
	if errors.Is(err, preset.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := h.sched.Load(*t); err != nil {
		var missing *timeline.MissingReferenceError
		if errors.As(err, &missing) {
			h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   missing.Error(),
				"missing": missing.Names,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.sched.Status())
}

// PlayTimeline handles POST /timeline/play.
func (h *Handler) PlayTimeline(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Play(); err != nil {
		if errors.Is(err, timeline.ErrNoTimelineLoaded) {
			h.writeError(w, http.StatusConflict, err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.sched.Status())
}

// PauseTimeline handles POST /timeline/pause. Pausing an already-paused
// scheduler is reported, not rejected.
func (h *Handler) PauseTimeline(w http.ResponseWriter, r *http.Request) {
	paused := h.sched.Pause()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"already_paused": !paused,
		"status":         h.sched.Status(),
	})
}

// StopTimeline handles POST /timeline/stop.
func (h *Handler) StopTimeline(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	h.writeJSON(w, http.StatusOK, h.sched.Status())
}

// JumpTimeline handles POST /timeline/jump. Body: { "index": 2 } or
// { "name": "Chapter 3" } or { "position": 42.5 }.
func (h *Handler) JumpTimeline(w http.ResponseWriter, r *http.Request) {
	var target timeline.Target
	if !h.decode(w, r, &target) {
		return
	}
	if err := h.sched.Jump(target); err != nil {
		switch {
		case errors.Is(err, timeline.ErrNoTimelineLoaded):
			h.writeError(w, http.StatusConflict, err)
		case errors.Is(err, timeline.ErrChapterNotFound):
			h.writeError(w, http.StatusNotFound, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, h.sched.Status())
}

// TimelineStatus handles GET /timeline/status.
func (h *Handler) TimelineStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sched.Status())
}

// ListMappings handles GET /osc/mappings.
func (h *Handler) ListMappings(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.osc.Mappings())
}

// SetMapping handles PUT /osc/mappings. Body: { "address": "/x", "target":
// "u_x" }. Registering an existing address replaces its target.
func (h *Handler) SetMapping(w http.ResponseWriter, r *http.Request) {
	var m ingest.Mapping
	if !h.decode(w, r, &m) {
		return
	}
	if m.Address == "" || m.Target == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("address and target are required"))
		return
	}
	h.osc.SetMapping(m.Address, m.Target)
	w.WriteHeader(http.StatusOK)
}

// RemoveMapping handles DELETE /osc/mappings?address=/x.
func (h *Handler) RemoveMapping(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("address query parameter is required"))
		return
	}
	if !h.osc.RemoveMapping(address) {
		h.writeError(w, http.StatusNotFound, errors.New("no mapping for "+address))
		return
	}
	w.WriteHeader(http.StatusOK)
}
