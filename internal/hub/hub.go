// Package hub tracks connected renderer sessions and fans commands out to
// all of them. A session joining mid-performance is synchronized from the
// state mirror before it receives live traffic.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"visual-rig-hub/internal/mirror"
	"visual-rig-hub/internal/platform/metrics"
	"visual-rig-hub/internal/wire"
)

// ErrValidateTimeout is returned when no renderer answers a shader
// validation request in time.
var ErrValidateTimeout = errors.New("shader validation timed out")

const defaultValidateTimeout = 3 * time.Second

// wsConn is the subset of *websocket.Conn the hub needs. Tests attach
// in-memory fakes.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type session struct {
	id   string
	conn wsConn
}

// Hub owns the live session set. All writes to sessions happen under the
// registry mutex, which also satisfies the websocket one-writer rule.
type Hub struct {
	log             *slog.Logger
	metrics         *metrics.Metrics
	mirror          *mirror.Mirror
	validateTimeout time.Duration
	upgrader        websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session

	pendingMu sync.Mutex
	pending   map[string]chan wire.ShaderValidated
}

// New returns a hub over the given mirror. Metrics may be nil to disable
// metric recording (e.g. in tests). validateTimeout bounds ValidateShader
// round-trips; zero selects a default.
func New(m *mirror.Mirror, log *slog.Logger, met *metrics.Metrics, validateTimeout time.Duration) *Hub {
	if validateTimeout <= 0 {
		validateTimeout = defaultValidateTimeout
	}
	return &Hub{
		log:             log,
		metrics:         met,
		mirror:          m,
		validateTimeout: validateTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
		pending:  make(map[string]chan wire.ShaderValidated),
	}
}

// Broadcast sends cmd to every live session. A session whose write fails is
// dropped from the live set; per-session failures never surface to the
// caller, and broadcasting to zero sessions is a no-op.
func (h *Hub) Broadcast(cmd wire.Command) {
	data, err := wire.Encode(cmd)
	if err != nil {
		h.log.Error("encode command", slog.String("kind", cmd.Kind()), slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	var failed []*session
	for _, s := range h.sessions {
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Warn("session write failed, dropping",
				slog.String("session", s.id),
				slog.String("kind", cmd.Kind()),
				slog.String("error", err.Error()))
			failed = append(failed, s)
		}
	}
	for _, s := range failed {
		delete(h.sessions, s.id)
	}
	h.mu.Unlock()

	for _, s := range failed {
		s.conn.Close()
		if h.metrics != nil {
			h.metrics.IncSessionsDropped()
		}
	}
	if h.metrics != nil {
		h.metrics.IncCommandsBroadcast()
	}
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// ServeWS upgrades an HTTP request to a renderer session and serves it until
// the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	h.Attach(conn)
}

// Attach registers conn as a live session, sends it the synchronization
// sequence derived from the mirror snapshot, and then blocks consuming
// inbound frames until the connection fails or closes.
func (h *Hub) Attach(conn wsConn) {
	sess := &session{id: uuid.NewString(), conn: conn}

	h.mu.Lock()
	h.sessions[sess.id] = sess
	for _, cmd := range syncCommands(h.mirror.Snapshot()) {
		data, err := wire.Encode(cmd)
		if err != nil {
			h.log.Error("encode sync command", slog.String("kind", cmd.Kind()), slog.String("error", err.Error()))
			continue
		}
		if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(h.sessions, sess.id)
			h.mu.Unlock()
			sess.conn.Close()
			h.log.Warn("session dropped during sync",
				slog.String("session", sess.id),
				slog.String("error", err.Error()))
			if h.metrics != nil {
				h.metrics.IncSessionsDropped()
			}
			return
		}
	}
	h.mu.Unlock()

	h.log.Info("renderer connected", slog.String("session", sess.id))
	h.readLoop(sess)
}

// Close drops every session. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.conn.Close()
	}
}

// ValidateShader broadcasts a compile-check request and waits for the first
// renderer verdict, the configured timeout, or ctx cancellation. The pending
// entry is removed on every path so timeouts do not leak.
func (h *Hub) ValidateShader(ctx context.Context, code string) (wire.ShaderValidated, error) {
	id := uuid.NewString()
	ch := make(chan wire.ShaderValidated, 1)

	h.pendingMu.Lock()
	h.pending[id] = ch
	h.pendingMu.Unlock()
	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
	}()

	h.Broadcast(wire.NewShaderValidate(id, code))

	timer := time.NewTimer(h.validateTimeout)
	defer timer.Stop()
	select {
	case verdict := <-ch:
		return verdict, nil
	case <-timer.C:
		return wire.ShaderValidated{}, fmt.Errorf("request %s: %w", id, ErrValidateTimeout)
	case <-ctx.Done():
		return wire.ShaderValidated{}, ctx.Err()
	}
}

// readLoop consumes inbound frames for one session until the connection
// drops, then deregisters it.
func (h *Hub) readLoop(sess *session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			h.mu.Lock()
			delete(h.sessions, sess.id)
			h.mu.Unlock()
			sess.conn.Close()
			h.log.Info("renderer disconnected",
				slog.String("session", sess.id),
				slog.String("reason", err.Error()))
			return
		}
		h.handleInbound(sess, data)
	}
}

// handleInbound routes one renderer frame. Nothing a renderer sends is ever
// fatal: decode failures and unknown kinds are logged and dropped.
func (h *Hub) handleInbound(sess *session, data []byte) {
	msg, err := wire.DecodeInbound(data)
	if err != nil {
		h.log.Warn("undecodable renderer frame",
			slog.String("session", sess.id),
			slog.String("error", err.Error()))
		return
	}

	switch m := msg.(type) {
	case wire.StatusReport:
		h.mirror.SetLastStatus(data)
		h.log.Debug("renderer status",
			slog.String("session", sess.id),
			slog.Float64("fps", m.FPS),
			slog.String("shader", m.Shader))
	case wire.ShaderValidated:
		h.resolveValidation(m)
	case wire.ShaderError:
		h.log.Warn("renderer shader error",
			slog.String("session", sess.id),
			slog.String("shader", m.ID),
			slog.String("error", m.Error))
	case wire.AudioLevels:
		h.log.Debug("renderer audio levels", slog.String("session", sess.id))
	case wire.CaptureComplete:
		h.log.Info("capture complete",
			slog.String("session", sess.id),
			slog.String("path", m.Path))
	case wire.Ready:
		h.log.Info("renderer ready", slog.String("session", sess.id))
	default:
		h.log.Warn("unknown renderer message kind",
			slog.String("session", sess.id),
			slog.String("kind", msg.InboundKind()))
	}
}

// resolveValidation delivers a verdict to the waiter registered under its
// correlation id, if any. Verdicts arriving after a timeout (or duplicates
// from a second renderer) are unmatched and dropped.
func (h *Hub) resolveValidation(m wire.ShaderValidated) {
	h.pendingMu.Lock()
	ch, ok := h.pending[m.ID]
	if ok {
		delete(h.pending, m.ID)
	}
	h.pendingMu.Unlock()

	if !ok {
		h.log.Debug("unmatched validation verdict", slog.String("id", m.ID))
		return
	}
	ch <- m
}

// syncCommands builds the join-time resync sequence from a mirror snapshot:
// every non-default ext channel, every non-zero XY pair, the bpm, the current
// shader (if any), the palette, then a status request. Shader-before-palette
// ordering is best-effort for renderers that apply palette at compile time.
func syncCommands(s mirror.Snapshot) []wire.Command {
	var out []wire.Command
	for i, v := range s.ExtChannels {
		if v != 0 {
			out = append(out, wire.NewExtChannel(i, v))
		}
	}
	for i, xy := range s.ExtXY {
		if xy.X != 0 || xy.Y != 0 {
			out = append(out, wire.NewExtXY(i, xy.X, xy.Y))
		}
	}
	out = append(out, wire.NewBPMSet(s.BPM))
	if s.Shader != nil {
		out = append(out, wire.NewShaderPush(s.Shader.ID, s.Shader.Code))
	}
	p := s.Palette
	out = append(out, wire.NewPaletteSet(p.Color1, p.Color2, p.Color3, p.Background))
	out = append(out, wire.NewRequestStatus())
	return out
}
