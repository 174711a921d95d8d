package wire

import (
	"strings"
	"testing"
)

func TestEncode_carries_type_tag(t *testing.T) {
	cases := []struct {
		cmd  Command
		kind string
	}{
		{NewShaderPush("glow", "void main() {}"), KindShaderPush},
		{NewShaderCrossfade("glow", "void main() {}", 1500), KindShaderCrossfade},
		{NewParamSet("u_speed", 0.5), KindParamSet},
		{NewExtChannel(3, 0.7), KindExtChannel},
		{NewExtXY(1, 0.2, 0.8), KindExtXY},
		{NewBPMSet(140), KindBPMSet},
		{NewChapterInfo("Intro", 0, 5), KindChapterInfo},
		{NewRequestStatus(), KindRequestStatus},
		{NewBlackout(), KindBlackout},
		{NewFlash(nil, 500), KindFlash},
		{NewAudioBind("bass", "u_param1", 1, 0, 0.5), KindAudioBind},
		{NewAudioUnbind("u_param1"), KindAudioUnbind},
		{NewAutomation([]AutomationCurve{{Target: "u_x", Keyframes: []Keyframe{{Time: 0, Value: 1}}}}), KindAutomation},
	}

	for _, c := range cases {
		data, err := Encode(c.cmd)
		if err != nil {
			t.Fatalf("Encode(%s): %v", c.kind, err)
		}
		if !strings.Contains(string(data), `"type":"`+c.kind+`"`) {
			t.Errorf("frame for %s missing type tag: %s", c.kind, data)
		}
		if c.cmd.Kind() != c.kind {
			t.Errorf("Kind() = %q, want %q", c.cmd.Kind(), c.kind)
		}
	}
}

func TestDecodeInbound_status(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"status","fps":59.8,"shader":"glow"}`))
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	st, ok := msg.(StatusReport)
	if !ok {
		t.Fatalf("expected StatusReport, got %T", msg)
	}
	if st.FPS != 59.8 || st.Shader != "glow" {
		t.Errorf("unexpected report: %+v", st)
	}
}

func TestDecodeInbound_shader_validated(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"shader_validated","id":"abc","success":false,"error":"syntax"}`))
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	v, ok := msg.(ShaderValidated)
	if !ok {
		t.Fatalf("expected ShaderValidated, got %T", msg)
	}
	if v.ID != "abc" || v.Success || v.Error != "syntax" {
		t.Errorf("unexpected verdict: %+v", v)
	}
}

func TestDecodeInbound_unknown_kind(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"telemetry_v2","payload":1}`))
	if err != nil {
		t.Fatalf("unknown kinds should not error: %v", err)
	}
	u, ok := msg.(Unknown)
	if !ok {
		t.Fatalf("expected Unknown, got %T", msg)
	}
	if u.Type != "telemetry_v2" {
		t.Errorf("unknown type = %q", u.Type)
	}
}

func TestDecodeInbound_rejects_garbage(t *testing.T) {
	if _, err := DecodeInbound([]byte("not json")); err == nil {
		t.Error("expected error for non-JSON frame")
	}
	if _, err := DecodeInbound([]byte(`{"fps":60}`)); err == nil {
		t.Error("expected error for frame without type tag")
	}
}
