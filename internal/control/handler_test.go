package control

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"visual-rig-hub/internal/hub"
	"visual-rig-hub/internal/ingest"
	"visual-rig-hub/internal/mirror"
	"visual-rig-hub/internal/preset"
	"visual-rig-hub/internal/timeline"
	"visual-rig-hub/internal/wire"
)

type testEnv struct {
	router    chi.Router
	mirror    *mirror.Mirror
	shaders   preset.ShaderStore
	timelines preset.TimelineStore
	sched     *timeline.Scheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := mirror.New()
	h := hub.New(m, log, nil, 50*time.Millisecond)
	t.Cleanup(h.Close)

	shaders := preset.NewMemoryShaders()
	timelines := preset.NewMemoryTimelines()
	sched := timeline.New(h, m, preset.Resolver(shaders), log, nil)
	t.Cleanup(sched.Stop)
	osc := ingest.New(m, h, log, nil)

	handler := NewHandler(m, h, sched, shaders, timelines, osc, log)
	r := chi.NewRouter()
	handler.Routes(r)

	return &testEnv{
		router:    r,
		mirror:    m,
		shaders:   shaders,
		timelines: timelines,
		sched:     sched,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %s: %v", rec.Body.String(), err)
	}
}

func TestGetState_defaults(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap mirror.Snapshot
	decodeBody(t, rec, &snap)
	if snap.BPM != mirror.DefaultBPM {
		t.Errorf("bpm = %g, want %g", snap.BPM, mirror.DefaultBPM)
	}
}

func TestSetExtChannel(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/state/ext/3", `{"value":0.7}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := env.mirror.Snapshot().ExtChannels[3]; got != 0.7 {
		t.Errorf("channel 3 = %g, want 0.7", got)
	}

	cases := []struct {
		path, body string
	}{
		{"/state/ext/99", `{"value":0.5}`},  // out of range
		{"/state/ext/abc", `{"value":0.5}`}, // not a number
		{"/state/ext/2", `not json`},
	}
	for _, c := range cases {
		if rec := env.do(t, http.MethodPost, c.path, c.body); rec.Code != http.StatusBadRequest {
			t.Errorf("POST %s: status = %d, want 400", c.path, rec.Code)
		}
	}
}

func TestSetExtXY(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/state/xy/1", `{"x":0.1,"y":0.9}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := env.mirror.Snapshot().ExtXY[1]; got.X != 0.1 || got.Y != 0.9 {
		t.Errorf("xy 1 = %+v", got)
	}

	if rec := env.do(t, http.MethodPost, "/state/xy/9", `{"x":0.1,"y":0.9}`); rec.Code != http.StatusBadRequest {
		t.Errorf("out-of-range channel: status = %d, want 400", rec.Code)
	}
}

func TestSetBPM(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodPost, "/state/bpm", `{"bpm":128}`); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := env.mirror.Snapshot().BPM; got != 128 {
		t.Errorf("bpm = %g, want 128", got)
	}
	if rec := env.do(t, http.MethodPost, "/state/bpm", `{"bpm":-5}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid bpm: status = %d, want 400", rec.Code)
	}
}

func TestSetPalette_partial_merge(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/palette", `{"color1":{"r":1,"g":0,"b":0}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/palette", `{"color2":{"r":0,"g":1,"b":0}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var p mirror.Palette
	decodeBody(t, rec, &p)
	if p.Color1 != (wire.RGB{R: 1}) {
		t.Errorf("color1 lost by second patch: %+v", p.Color1)
	}
	if p.Color2 != (wire.RGB{G: 1}) {
		t.Errorf("color2 = %+v", p.Color2)
	}
}

func TestPushShader(t *testing.T) {
	env := newTestEnv(t)

	// Inline code.
	rec := env.do(t, http.MethodPost, "/shader/push", `{"id":"live","code":"void main() {}"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("inline push: status = %d", rec.Code)
	}
	if s := env.mirror.Snapshot().Shader; s == nil || s.ID != "live" {
		t.Errorf("mirror shader = %+v", s)
	}

	// By preset name.
	if err := env.shaders.Save(preset.Shader{Name: "glow", Code: "// glow"}); err != nil {
		t.Fatal(err)
	}
	rec = env.do(t, http.MethodPost, "/shader/push", `{"name":"glow"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("preset push: status = %d", rec.Code)
	}
	if s := env.mirror.Snapshot().Shader; s == nil || s.ID != "glow" {
		t.Errorf("mirror shader = %+v", s)
	}

	// Unknown preset and empty request.
	if rec := env.do(t, http.MethodPost, "/shader/push", `{"name":"absent"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown preset: status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/shader/push", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty request: status = %d, want 400", rec.Code)
	}
}

func TestValidateShader_no_renderer_times_out(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/shader/validate", `{"code":"void main() {}"}`)
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/shader/validate", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty code: status = %d, want 400", rec.Code)
	}
}

func TestAudioBinding_endpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/audio/bind", `{"source":"bass","target":"u_param1","multiplier":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("bind: status = %d", rec.Code)
	}
	bindings := env.mirror.Snapshot().AudioBindings
	if len(bindings) != 1 || bindings[0].Multiplier != 2 {
		t.Errorf("bindings = %+v", bindings)
	}

	if rec := env.do(t, http.MethodPost, "/audio/bind", `{"source":"bass"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bind without target: status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/audio/bind/u_param1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unbind: status = %d", rec.Code)
	}
	var out map[string]bool
	decodeBody(t, rec, &out)
	if !out["removed"] {
		t.Error("expected removed=true for existing binding")
	}

	rec = env.do(t, http.MethodDelete, "/audio/bind/u_param1", "")
	decodeBody(t, rec, &out)
	if out["removed"] {
		t.Error("expected removed=false for absent binding")
	}
}

func TestShaderPresets_crud(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodPut, "/presets/glow", `{"code":"void main() {}"}`); rec.Code != http.StatusCreated {
		t.Fatalf("save: status = %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/presets/glow", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	var p preset.Shader
	decodeBody(t, rec, &p)
	if p.Name != "glow" || p.Code != "void main() {}" {
		t.Errorf("preset = %+v", p)
	}

	if rec := env.do(t, http.MethodGet, "/presets/absent", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get absent: status = %d, want 404", rec.Code)
	}

	env.do(t, http.MethodPut, "/presets/plasma", `{"code":"x"}`)
	rec = env.do(t, http.MethodGet, "/presets/?filter=gl", "")
	var list []preset.Shader
	decodeBody(t, rec, &list)
	if len(list) != 1 || list[0].Name != "glow" {
		t.Errorf("filtered list = %+v", list)
	}

	if rec := env.do(t, http.MethodDelete, "/presets/glow", ""); rec.Code != http.StatusOK {
		t.Errorf("delete: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/presets/glow", ""); rec.Code != http.StatusNotFound {
		t.Errorf("delete absent: status = %d, want 404", rec.Code)
	}
}

func TestTimelines_save_forces_url_name(t *testing.T) {
	env := newTestEnv(t)

	body := `{"name":"ignored","chapters":[{"name":"A","shader":"glow","start_time":0,"end_time":10}]}`
	if rec := env.do(t, http.MethodPut, "/timelines/set", body); rec.Code != http.StatusCreated {
		t.Fatalf("save: status = %d", rec.Code)
	}

	got, err := env.timelines.Lookup("set")
	if err != nil {
		t.Fatalf("saved timeline not found under URL name: %v", err)
	}
	if got.Name != "set" {
		t.Errorf("stored name = %q, want set", got.Name)
	}
}

func TestLoadTimeline(t *testing.T) {
	env := newTestEnv(t)

	// Unknown timeline name.
	if rec := env.do(t, http.MethodPost, "/timeline/load", `{"name":"absent"}`); rec.Code != http.StatusNotFound {
		t.Errorf("load absent: status = %d, want 404", rec.Code)
	}

	// Timeline referencing unknown shaders is rejected with every name.
	body := `{"chapters":[
		{"name":"A","shader":"nope1","start_time":0,"end_time":10},
		{"name":"B","shader":"nope2","start_time":10,"end_time":20}
	]}`
	env.do(t, http.MethodPut, "/timelines/bad", body)
	rec := env.do(t, http.MethodPost, "/timeline/load", `{"name":"bad"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("load with missing shaders: status = %d, want 422", rec.Code)
	}
	var resp struct {
		Missing []string `json:"missing"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Missing) != 2 || resp.Missing[0] != "nope1" || resp.Missing[1] != "nope2" {
		t.Errorf("missing = %v, want [nope1 nope2]", resp.Missing)
	}

	// Successful load reports the loaded state.
	env.shaders.Save(preset.Shader{Name: "glow", Code: "x"})
	env.do(t, http.MethodPut, "/timelines/good", `{"chapters":[{"name":"A","shader":"glow","start_time":0,"end_time":10}]}`)
	rec = env.do(t, http.MethodPost, "/timeline/load", `{"name":"good"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("load: status = %d, body %s", rec.Code, rec.Body)
	}
	var st timeline.Status
	decodeBody(t, rec, &st)
	if st.State != "loaded" || st.Timeline != "good" {
		t.Errorf("status = %+v", st)
	}
}

func TestPlayback_endpoints(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodPost, "/timeline/play", ""); rec.Code != http.StatusConflict {
		t.Errorf("play without load: status = %d, want 409", rec.Code)
	}

	// Pause with nothing playing is reported, not rejected.
	rec := env.do(t, http.MethodPost, "/timeline/pause", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: status = %d", rec.Code)
	}
	var pauseResp struct {
		AlreadyPaused bool `json:"already_paused"`
	}
	decodeBody(t, rec, &pauseResp)
	if !pauseResp.AlreadyPaused {
		t.Error("pause on idle scheduler should report already_paused")
	}

	env.shaders.Save(preset.Shader{Name: "glow", Code: "x"})
	env.do(t, http.MethodPut, "/timelines/set", `{"chapters":[
		{"name":"A","shader":"glow","start_time":0,"end_time":60},
		{"name":"B","shader":"glow","start_time":60,"end_time":120}
	]}`)
	env.do(t, http.MethodPost, "/timeline/load", `{"name":"set"}`)

	rec = env.do(t, http.MethodPost, "/timeline/play", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("play: status = %d", rec.Code)
	}
	var st timeline.Status
	decodeBody(t, rec, &st)
	if st.State != "playing" {
		t.Errorf("state = %q, want playing", st.State)
	}

	// Jump by name, then an unresolvable jump.
	rec = env.do(t, http.MethodPost, "/timeline/jump", `{"name":"B"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("jump: status = %d", rec.Code)
	}
	decodeBody(t, rec, &st)
	if st.ChapterIndex != 1 {
		t.Errorf("chapter index = %d, want 1", st.ChapterIndex)
	}
	if rec := env.do(t, http.MethodPost, "/timeline/jump", `{"name":"Z"}`); rec.Code != http.StatusNotFound {
		t.Errorf("jump to unknown chapter: status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/timeline/stop", "")
	decodeBody(t, rec, &st)
	if st.State != "loaded" || st.ChapterIndex != 0 {
		t.Errorf("status after stop = %+v", st)
	}

	rec = env.do(t, http.MethodGet, "/timeline/status", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status endpoint: %d", rec.Code)
	}
}

func TestOSCMappings_endpoints(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodPut, "/osc/mappings", `{"address":"/wek/outputs","target":"ext:5"}`); rec.Code != http.StatusOK {
		t.Fatalf("put: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPut, "/osc/mappings", `{"address":"/wek/outputs"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("put without target: status = %d, want 400", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/osc/mappings", "")
	var mappings []ingest.Mapping
	decodeBody(t, rec, &mappings)
	if len(mappings) != 1 || mappings[0].Target != "ext:5" {
		t.Errorf("mappings = %+v", mappings)
	}

	if rec := env.do(t, http.MethodDelete, "/osc/mappings?address=/wek/outputs", ""); rec.Code != http.StatusOK {
		t.Errorf("delete: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/osc/mappings?address=/wek/outputs", ""); rec.Code != http.StatusNotFound {
		t.Errorf("delete absent: status = %d, want 404", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/osc/mappings", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("delete without address: status = %d, want 400", rec.Code)
	}
}
