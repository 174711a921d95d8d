package wire

import (
	"encoding/json"
	"fmt"
)

// Message kinds received from renderer sessions.
const (
	KindStatusReport    = "status"
	KindShaderError     = "shader_error"
	KindAudioLevels     = "audio_levels"
	KindCaptureComplete = "capture_complete"
	KindShaderValidated = "shader_validated"
	KindReady           = "ready"
)

// Inbound is a message received from a renderer session.
type Inbound interface {
	InboundKind() string
}

// StatusReport is the renderer's full runtime view.
type StatusReport struct {
	Type        string             `json:"type"`
	FPS         float64            `json:"fps"`
	Shader      string             `json:"shader"`
	AudioLevels map[string]float64 `json:"audio_levels,omitempty"`
	Layers      []string           `json:"layers,omitempty"`
}

func (StatusReport) InboundKind() string { return KindStatusReport }

// ShaderError reports a compile failure for a pushed shader.
type ShaderError struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (ShaderError) InboundKind() string { return KindShaderError }

// AudioLevels is a periodic audio level report.
type AudioLevels struct {
	Type   string             `json:"type"`
	Levels map[string]float64 `json:"levels"`
}

func (AudioLevels) InboundKind() string { return KindAudioLevels }

// CaptureComplete signals that a requested capture has finished.
type CaptureComplete struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
}

func (CaptureComplete) InboundKind() string { return KindCaptureComplete }

// ShaderValidated is the renderer's verdict for a shader_validate request,
// correlated by ID.
type ShaderValidated struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (ShaderValidated) InboundKind() string { return KindShaderValidated }

// Ready signals that the renderer has finished bootstrapping.
type Ready struct {
	Type string `json:"type"`
}

func (Ready) InboundKind() string { return KindReady }

// Unknown is the fallback for message kinds this hub does not understand.
// Consumers log and drop it.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (u Unknown) InboundKind() string { return u.Type }

// DecodeInbound parses one renderer frame. Frames that are not valid JSON or
// lack a type tag return an error; frames with an unrecognized type decode to
// Unknown so the caller can log and drop them without failing.
func DecodeInbound(data []byte) (Inbound, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode inbound frame: %w", err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("inbound frame has no type tag")
	}

	switch envelope.Type {
	case KindStatusReport:
		var m StatusReport
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindShaderError:
		var m ShaderError
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindAudioLevels:
		var m AudioLevels
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindCaptureComplete:
		var m CaptureComplete
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindShaderValidated:
		var m ShaderValidated
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindReady:
		var m Ready
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return Unknown{Type: envelope.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
