// Package ingest decodes OSC sensor/control messages arriving over UDP and
// routes them into the state mirror and the broadcast hub. Addresses resolve
// against a fixed scheme plus a mutable custom mapping table.
package ingest

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"sync"

	"github.com/hypebeast/go-osc/osc"
	"gopkg.in/yaml.v3"

	"visual-rig-hub/internal/mirror"
	"visual-rig-hub/internal/platform/metrics"
	"visual-rig-hub/internal/wire"
)

// Broadcaster fans a command out to all connected renderer sessions.
type Broadcaster interface {
	Broadcast(cmd wire.Command)
}

// Mapping routes one custom OSC address to a target: either "ext:N" for an
// external channel or any other string, forwarded as a parameter name.
type Mapping struct {
	Address string `json:"address" yaml:"address"`
	Target  string `json:"target" yaml:"target"`
}

// Listener owns the single OSC/UDP socket. Rebinding tears the previous
// socket down completely before the new one opens; two listeners never live
// at once.
type Listener struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	mirror  *mirror.Mirror
	hub     Broadcaster

	mu     sync.Mutex
	custom map[string]string
	conn   net.PacketConn
}

// New returns an unbound listener. Metrics may be nil.
func New(m *mirror.Mirror, hub Broadcaster, log *slog.Logger, met *metrics.Metrics) *Listener {
	return &Listener{
		log:     log,
		metrics: met,
		mirror:  m,
		hub:     hub,
		custom:  make(map[string]string),
	}
}

// Bind opens the UDP socket on port and starts serving OSC packets. Any
// previously bound socket is closed first.
func (l *Listener) Bind(port int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closeLocked()

	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("bind osc listener on :%d: %w", port, err)
	}
	l.conn = conn

	srv := &osc.Server{Dispatcher: l}
	go func() {
		err := srv.Serve(conn)
		l.mu.Lock()
		current := l.conn == conn
		l.mu.Unlock()
		if current && err != nil {
			l.log.Warn("osc listener stopped", slog.String("error", err.Error()))
		}
	}()

	l.log.Info("osc listener bound", slog.Int("port", port))
	return nil
}

// Close tears the listener down. Safe to call when unbound.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
}

func (l *Listener) closeLocked() {
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

// Dispatch implements osc.Dispatcher. Bundles are flattened; timetags are
// ignored, messages apply on arrival.
func (l *Listener) Dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	case *osc.Message:
		l.handle(p)
	case *osc.Bundle:
		for _, m := range p.Messages {
			l.handle(m)
		}
		for _, b := range p.Bundles {
			l.Dispatch(b)
		}
	}
}

// SetMapping installs a custom address mapping, replacing any existing entry
// for the same address.
func (l *Listener) SetMapping(address, target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.custom[address] = target
}

// RemoveMapping deletes the mapping for address. It reports whether one
// existed.
func (l *Listener) RemoveMapping(address string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.custom[address]
	delete(l.custom, address)
	return ok
}

// Mappings returns the custom mapping table sorted by address.
func (l *Listener) Mappings() []Mapping {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Mapping, 0, len(l.custom))
	for addr, target := range l.custom {
		out = append(out, Mapping{Address: addr, Target: target})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (l *Listener) lookupMapping(address string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	target, ok := l.custom[address]
	return target, ok
}

type mappingFile struct {
	Mappings []Mapping `yaml:"mappings"`
}

// LoadMappings merges custom mappings from a YAML file into the table.
func (l *Listener) LoadMappings(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read mapping file: %w", err)
	}
	var f mappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse mapping file %s: %w", path, err)
	}
	for _, m := range f.Mappings {
		l.SetMapping(m.Address, m.Target)
	}
	l.log.Info("osc mappings loaded", slog.String("file", path), slog.Int("count", len(f.Mappings)))
	return nil
}
