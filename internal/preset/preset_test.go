package preset

import (
	"errors"
	"testing"
	"time"

	"visual-rig-hub/internal/mirror"
	"visual-rig-hub/internal/timeline"
)

// shaderStores builds one of each ShaderStore backend so the contract tests
// run against both.
func shaderStores(t *testing.T) map[string]ShaderStore {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return map[string]ShaderStore{
		"memory": NewMemoryShaders(),
		"sqlite": NewSQLiteShaders(db),
	}
}

func timelineStores(t *testing.T) map[string]TimelineStore {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return map[string]TimelineStore{
		"memory": NewMemoryTimelines(),
		"sqlite": NewSQLiteTimelines(db),
	}
}

func TestShaderStore_crud(t *testing.T) {
	for name, store := range shaderStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Lookup("glow"); !errors.Is(err, ErrNotFound) {
				t.Errorf("lookup on empty store: got %v, want ErrNotFound", err)
			}

			if err := store.Save(Shader{Name: "glow", Code: "void main() {}"}); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := store.Lookup("glow")
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if got.Code != "void main() {}" {
				t.Errorf("code = %q", got.Code)
			}

			// Save under the same name replaces.
			if err := store.Save(Shader{Name: "glow", Code: "// v2"}); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err = store.Lookup("glow")
			if err != nil {
				t.Fatal(err)
			}
			if got.Code != "// v2" {
				t.Errorf("replaced code = %q, want // v2", got.Code)
			}
			if list, _ := store.List(""); len(list) != 1 {
				t.Errorf("replace created a duplicate, list has %d entries", len(list))
			}

			ok, err := store.Delete("glow")
			if err != nil || !ok {
				t.Errorf("Delete existing = (%v, %v), want (true, nil)", ok, err)
			}
			ok, err = store.Delete("glow")
			if err != nil || ok {
				t.Errorf("Delete absent = (%v, %v), want (false, nil)", ok, err)
			}
		})
	}
}

func TestShaderStore_list_filter_and_order(t *testing.T) {
	for name, store := range shaderStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, n := range []string{"glow", "plasma", "glitch"} {
				if err := store.Save(Shader{Name: n, Code: "x"}); err != nil {
					t.Fatal(err)
				}
				// Distinct timestamps so recency ordering is observable.
				time.Sleep(10 * time.Millisecond)
			}

			all, err := store.List("")
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 3 {
				t.Fatalf("listed %d, want 3", len(all))
			}
			if all[0].Name != "glitch" || all[2].Name != "glow" {
				t.Errorf("not ordered most-recent-first: %v", names(all))
			}

			gl, err := store.List("GL")
			if err != nil {
				t.Fatal(err)
			}
			if len(gl) != 2 {
				t.Errorf("case-insensitive substring filter matched %v, want glitch and glow", names(gl))
			}

			// Re-saving bumps an entry to the front.
			time.Sleep(10 * time.Millisecond)
			if err := store.Save(Shader{Name: "glow", Code: "y"}); err != nil {
				t.Fatal(err)
			}
			all, err = store.List("")
			if err != nil {
				t.Fatal(err)
			}
			if all[0].Name != "glow" {
				t.Errorf("re-save did not move entry to front: %v", names(all))
			}
		})
	}
}

func names(shaders []Shader) []string {
	out := make([]string, len(shaders))
	for i, s := range shaders {
		out[i] = s.Name
	}
	return out
}

func sampleTimeline() timeline.Timeline {
	return timeline.Timeline{
		Name:  "set",
		Track: "warmup.mp3",
		Chapters: []timeline.Chapter{
			{
				Name:       "Intro",
				Shader:     "glow",
				StartTime:  0,
				EndTime:    30,
				Transition: timeline.TransitionCrossfade,
				Params:     map[string]float64{"u_speed": 0.5},
				AudioBindings: []mirror.AudioBinding{
					{Source: "bass", Target: "u_param1", Multiplier: 1},
				},
			},
			{Name: "Drop", Shader: "plasma", StartTime: 30, EndTime: 90, Transition: timeline.TransitionFlash},
		},
	}
}

func TestTimelineStore_roundtrip(t *testing.T) {
	for name, store := range timelineStores(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleTimeline()
			if err := store.Save(want); err != nil {
				t.Fatalf("Save: %v", err)
			}

			got, err := store.Lookup("set")
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if got.Track != "warmup.mp3" || len(got.Chapters) != 2 {
				t.Fatalf("roundtrip lost structure: %+v", got)
			}
			ch := got.Chapters[0]
			if ch.Transition != timeline.TransitionCrossfade || ch.Params["u_speed"] != 0.5 {
				t.Errorf("chapter lost detail: %+v", ch)
			}
			if len(ch.AudioBindings) != 1 || ch.AudioBindings[0].Source != "bass" {
				t.Errorf("bindings lost: %+v", ch.AudioBindings)
			}

			if _, err := store.Lookup("absent"); !errors.Is(err, ErrNotFound) {
				t.Errorf("got %v, want ErrNotFound", err)
			}

			ok, err := store.Delete("set")
			if err != nil || !ok {
				t.Errorf("Delete = (%v, %v)", ok, err)
			}
		})
	}
}

func TestMemoryTimelines_isolated_from_caller(t *testing.T) {
	store := NewMemoryTimelines()
	original := sampleTimeline()
	if err := store.Save(original); err != nil {
		t.Fatal(err)
	}

	// Mutating the saved value must not reach the store.
	original.Chapters[0].Params["u_speed"] = 99

	got, err := store.Lookup("set")
	if err != nil {
		t.Fatal(err)
	}
	if got.Chapters[0].Params["u_speed"] != 0.5 {
		t.Errorf("store shares state with caller: u_speed = %g", got.Chapters[0].Params["u_speed"])
	}

	// Mutating a looked-up value must not reach the store either.
	got.Chapters[0].Name = "mutated"
	again, err := store.Lookup("set")
	if err != nil {
		t.Fatal(err)
	}
	if again.Chapters[0].Name != "Intro" {
		t.Errorf("lookup result aliases store state: %q", again.Chapters[0].Name)
	}
}

func TestResolver_adapts_store(t *testing.T) {
	store := NewMemoryShaders()
	if err := store.Save(Shader{Name: "glow", Code: "void main() {}"}); err != nil {
		t.Fatal(err)
	}

	r := Resolver(store)
	ref, err := r.LookupShader("glow")
	if err != nil {
		t.Fatalf("LookupShader: %v", err)
	}
	if ref.ID != "glow" || ref.Code != "void main() {}" {
		t.Errorf("ref = %+v", ref)
	}

	if _, err := r.LookupShader("absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
