// Package wire defines the message protocol spoken between the hub and
// renderer clients: a closed set of typed commands in each direction,
// encoded as one JSON object per websocket text frame with a "type" tag.
package wire

import "encoding/json"

// Command kinds sent from the hub to renderer sessions.
const (
	KindShaderPush      = "shader_push"
	KindShaderCrossfade = "shader_crossfade"
	KindParamSet        = "param_set"
	KindPaletteSet      = "palette_set"
	KindAudioConfig     = "audio_config"
	KindRequestStatus   = "request_status"
	KindChapterInfo     = "chapter_info"
	KindExtChannel      = "ext_channel"
	KindExtXY           = "ext_xy"
	KindBPMSet          = "bpm_set"
	KindLayerPush       = "layer_push"
	KindLayerOpacity    = "layer_opacity"
	KindLayerRemove     = "layer_remove"
	KindCaptureStart    = "capture_start"
	KindCaptureStop     = "capture_stop"
	KindScreenshot      = "screenshot"
	KindAutomation      = "automation"
	KindShaderValidate  = "shader_validate"
	KindAudioBind       = "audio_bind"
	KindAudioUnbind     = "audio_unbind"
	KindBlackout        = "blackout"
	KindFlash           = "flash"
)

// Command is a message the hub sends to renderer sessions. Every
// implementation is a struct in this package whose Type field carries
// the wire tag.
type Command interface {
	Kind() string
}

// Encode serializes a command to its wire frame.
func Encode(c Command) ([]byte, error) {
	return json.Marshal(c)
}

// RGB is a color with components in [0,1].
type RGB struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// Keyframe is one point of an automation curve.
type Keyframe struct {
	Time   float64 `json:"time"`
	Value  float64 `json:"value"`
	Easing string  `json:"easing,omitempty"`
}

// AutomationCurve animates a named parameter target over keyframes.
type AutomationCurve struct {
	Target    string     `json:"target"`
	Keyframes []Keyframe `json:"keyframes"`
}

// ShaderPush replaces the active shader immediately.
type ShaderPush struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Code string `json:"code"`
}

func NewShaderPush(id, code string) ShaderPush {
	return ShaderPush{Type: KindShaderPush, ID: id, Code: code}
}

func (ShaderPush) Kind() string { return KindShaderPush }

// ShaderCrossfade replaces the active shader over DurationMs milliseconds.
type ShaderCrossfade struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Code       string `json:"code"`
	DurationMs int64  `json:"duration_ms"`
}

func NewShaderCrossfade(id, code string, durationMs int64) ShaderCrossfade {
	return ShaderCrossfade{Type: KindShaderCrossfade, ID: id, Code: code, DurationMs: durationMs}
}

func (ShaderCrossfade) Kind() string { return KindShaderCrossfade }

// ParamSet sets a named shader uniform.
type ParamSet struct {
	Type  string  `json:"type"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func NewParamSet(name string, value float64) ParamSet {
	return ParamSet{Type: KindParamSet, Name: name, Value: value}
}

func (ParamSet) Kind() string { return KindParamSet }

// PaletteSet sets the full four-slot color palette.
type PaletteSet struct {
	Type       string `json:"type"`
	Color1     RGB    `json:"color1"`
	Color2     RGB    `json:"color2"`
	Color3     RGB    `json:"color3"`
	Background RGB    `json:"background"`
}

func NewPaletteSet(c1, c2, c3, bg RGB) PaletteSet {
	return PaletteSet{Type: KindPaletteSet, Color1: c1, Color2: c2, Color3: c3, Background: bg}
}

func (PaletteSet) Kind() string { return KindPaletteSet }

// AudioConfig tunes the renderer's audio analysis. Nil fields are left
// unchanged by the renderer.
type AudioConfig struct {
	Type      string   `json:"type"`
	Smoothing *float64 `json:"smoothing,omitempty"`
	PeakDecay *float64 `json:"peak_decay,omitempty"`
	GainBoost *float64 `json:"gain_boost,omitempty"`
}

func NewAudioConfig(smoothing, peakDecay, gainBoost *float64) AudioConfig {
	return AudioConfig{Type: KindAudioConfig, Smoothing: smoothing, PeakDecay: peakDecay, GainBoost: gainBoost}
}

func (AudioConfig) Kind() string { return KindAudioConfig }

// RequestStatus asks the renderer to report its full status.
type RequestStatus struct {
	Type string `json:"type"`
}

func NewRequestStatus() RequestStatus { return RequestStatus{Type: KindRequestStatus} }

func (RequestStatus) Kind() string { return KindRequestStatus }

// ChapterInfo notifies the renderer which timeline chapter is active.
type ChapterInfo struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Index int    `json:"index"`
	Total int    `json:"total"`
}

func NewChapterInfo(name string, index, total int) ChapterInfo {
	return ChapterInfo{Type: KindChapterInfo, Name: name, Index: index, Total: total}
}

func (ChapterInfo) Kind() string { return KindChapterInfo }

// ExtChannel sets one of the 16 external float channels.
type ExtChannel struct {
	Type    string  `json:"type"`
	Channel int     `json:"channel"`
	Value   float64 `json:"value"`
}

func NewExtChannel(channel int, value float64) ExtChannel {
	return ExtChannel{Type: KindExtChannel, Channel: channel, Value: value}
}

func (ExtChannel) Kind() string { return KindExtChannel }

// ExtXY sets one of the 4 external XY pairs.
type ExtXY struct {
	Type    string  `json:"type"`
	Channel int     `json:"channel"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

func NewExtXY(channel int, x, y float64) ExtXY {
	return ExtXY{Type: KindExtXY, Channel: channel, X: x, Y: y}
}

func (ExtXY) Kind() string { return KindExtXY }

// BPMSet sets the global tempo.
type BPMSet struct {
	Type string  `json:"type"`
	BPM  float64 `json:"bpm"`
}

func NewBPMSet(bpm float64) BPMSet { return BPMSet{Type: KindBPMSet, BPM: bpm} }

func (BPMSet) Kind() string { return KindBPMSet }

// LayerPush adds a shader layer on top of the base shader.
type LayerPush struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Code string `json:"code"`
}

func NewLayerPush(id, code string) LayerPush {
	return LayerPush{Type: KindLayerPush, ID: id, Code: code}
}

func (LayerPush) Kind() string { return KindLayerPush }

// LayerOpacity changes a layer's opacity.
type LayerOpacity struct {
	Type    string  `json:"type"`
	ID      string  `json:"id"`
	Opacity float64 `json:"opacity"`
}

func NewLayerOpacity(id string, opacity float64) LayerOpacity {
	return LayerOpacity{Type: KindLayerOpacity, ID: id, Opacity: opacity}
}

func (LayerOpacity) Kind() string { return KindLayerOpacity }

// LayerRemove removes a layer.
type LayerRemove struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func NewLayerRemove(id string) LayerRemove {
	return LayerRemove{Type: KindLayerRemove, ID: id}
}

func (LayerRemove) Kind() string { return KindLayerRemove }

// CaptureStart begins a frame capture on the renderer.
type CaptureStart struct {
	Type       string `json:"type"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	FPS        int    `json:"fps,omitempty"`
}

func NewCaptureStart(durationMs int64, fps int) CaptureStart {
	return CaptureStart{Type: KindCaptureStart, DurationMs: durationMs, FPS: fps}
}

func (CaptureStart) Kind() string { return KindCaptureStart }

// CaptureStop ends a running capture.
type CaptureStop struct {
	Type string `json:"type"`
}

func NewCaptureStop() CaptureStop { return CaptureStop{Type: KindCaptureStop} }

func (CaptureStop) Kind() string { return KindCaptureStop }

// Screenshot requests a single-frame grab.
type Screenshot struct {
	Type string `json:"type"`
}

func NewScreenshot() Screenshot { return Screenshot{Type: KindScreenshot} }

func (Screenshot) Kind() string { return KindScreenshot }

// Automation carries all automation curves for the active chapter.
type Automation struct {
	Type   string            `json:"type"`
	Curves []AutomationCurve `json:"curves"`
}

func NewAutomation(curves []AutomationCurve) Automation {
	return Automation{Type: KindAutomation, Curves: curves}
}

func (Automation) Kind() string { return KindAutomation }

// ShaderValidate asks the renderer to compile-check code without applying it.
// ID correlates the renderer's verdict back to the waiting caller.
type ShaderValidate struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Code string `json:"code"`
}

func NewShaderValidate(id, code string) ShaderValidate {
	return ShaderValidate{Type: KindShaderValidate, ID: id, Code: code}
}

func (ShaderValidate) Kind() string { return KindShaderValidate }

// AudioBind maps an audio/sensor source onto a parameter target.
type AudioBind struct {
	Type       string  `json:"type"`
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Multiplier float64 `json:"multiplier"`
	Offset     float64 `json:"offset"`
	Smoothing  float64 `json:"smoothing"`
}

func NewAudioBind(source, target string, multiplier, offset, smoothing float64) AudioBind {
	return AudioBind{
		Type:       KindAudioBind,
		Source:     source,
		Target:     target,
		Multiplier: multiplier,
		Offset:     offset,
		Smoothing:  smoothing,
	}
}

func (AudioBind) Kind() string { return KindAudioBind }

// AudioUnbind removes the binding for a parameter target.
type AudioUnbind struct {
	Type   string `json:"type"`
	Target string `json:"target"`
}

func NewAudioUnbind(target string) AudioUnbind {
	return AudioUnbind{Type: KindAudioUnbind, Target: target}
}

func (AudioUnbind) Kind() string { return KindAudioUnbind }

// Blackout fades the output to black.
type Blackout struct {
	Type string `json:"type"`
}

func NewBlackout() Blackout { return Blackout{Type: KindBlackout} }

func (Blackout) Kind() string { return KindBlackout }

// Flash fires a full-screen flash, optionally colored.
type Flash struct {
	Type       string `json:"type"`
	Color      *RGB   `json:"color,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func NewFlash(color *RGB, durationMs int64) Flash {
	return Flash{Type: KindFlash, Color: color, DurationMs: durationMs}
}

func (Flash) Kind() string { return KindFlash }
