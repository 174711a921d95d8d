package ingest

import (
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/hypebeast/go-osc/osc"

	"visual-rig-hub/internal/mirror"
	"visual-rig-hub/internal/wire"
)

// Fixed address scheme. Channels are 1-based on the wire to match how
// hardware controllers label them:
//
//	/ext/ch/1 .. /ext/ch/16   one float, default 0
//	/ext/xy/1 .. /ext/xy/4    two floats, default 0 0
//	/bpm                      one float, default 120
//	/param/1 .. /param/4      one float, default 0 (targets u_param1..4)
//	/intensity                one float, default 1 (target u_intensity)
//	/speed                    one float, default 1 (target u_speed)
//	/palette/color1|color2|color3|background
//	                          one float read as hue, converted to RGB
//
// Anything else consults the custom mapping table; a custom target "ext:N"
// routes to /ext/ch/N, any other target is forwarded as a parameter name.
// Unmatched addresses are silently ignored.
const (
	extChannelPrefix = "/ext/ch/"
	extXYPrefix      = "/ext/xy/"
	paramPrefix      = "/param/"
	palettePrefix    = "/palette/"
	extTargetPrefix  = "ext:"
)

// handle routes one decoded OSC message. Malformed channel numbers and
// out-of-range values are dropped, never fatal.
func (l *Listener) handle(msg *osc.Message) {
	if l.metrics != nil {
		l.metrics.IncSensorPackets()
	}

	addr := msg.Address
	args := numericArgs(msg.Arguments)

	switch {
	case addr == "/bpm":
		l.setBPM(argOr(args, 0, mirror.DefaultBPM))
	case addr == "/intensity":
		l.setParam("u_intensity", argOr(args, 0, 1))
	case addr == "/speed":
		l.setParam("u_speed", argOr(args, 0, 1))
	case strings.HasPrefix(addr, paramPrefix):
		n, err := strconv.Atoi(addr[len(paramPrefix):])
		if err != nil || n < 1 || n > 4 {
			l.log.Debug("osc param address out of scheme", slog.String("address", addr))
			return
		}
		l.setParam("u_param"+strconv.Itoa(n), argOr(args, 0, 0))
	case strings.HasPrefix(addr, extChannelPrefix):
		n, err := strconv.Atoi(addr[len(extChannelPrefix):])
		if err != nil {
			l.log.Debug("osc channel address out of scheme", slog.String("address", addr))
			return
		}
		l.setExtChannel(n-1, argOr(args, 0, 0))
	case strings.HasPrefix(addr, extXYPrefix):
		n, err := strconv.Atoi(addr[len(extXYPrefix):])
		if err != nil {
			l.log.Debug("osc xy address out of scheme", slog.String("address", addr))
			return
		}
		l.setExtXY(n-1, argOr(args, 0, 0), argOr(args, 1, 0))
	case strings.HasPrefix(addr, palettePrefix):
		l.setPaletteSlot(addr[len(palettePrefix):], argOr(args, 0, 0))
	default:
		l.routeCustom(addr, args)
	}
}

// routeCustom resolves an address against the custom mapping table.
func (l *Listener) routeCustom(addr string, args []float64) {
	target, ok := l.lookupMapping(addr)
	if !ok {
		return
	}
	if strings.HasPrefix(target, extTargetPrefix) {
		n, err := strconv.Atoi(target[len(extTargetPrefix):])
		if err != nil {
			l.log.Warn("bad ext target in mapping",
				slog.String("address", addr),
				slog.String("target", target))
			return
		}
		l.setExtChannel(n-1, argOr(args, 0, 0))
		return
	}
	l.setParam(target, argOr(args, 0, 0))
}

func (l *Listener) setExtChannel(channel int, value float64) {
	if err := l.mirror.SetExtChannel(channel, value); err != nil {
		l.log.Debug("dropping osc channel set", slog.String("error", err.Error()))
		return
	}
	l.hub.Broadcast(wire.NewExtChannel(channel, value))
}

func (l *Listener) setExtXY(channel int, x, y float64) {
	if err := l.mirror.SetExtXY(channel, x, y); err != nil {
		l.log.Debug("dropping osc xy set", slog.String("error", err.Error()))
		return
	}
	l.hub.Broadcast(wire.NewExtXY(channel, x, y))
}

func (l *Listener) setBPM(bpm float64) {
	if err := l.mirror.SetBPM(bpm); err != nil {
		l.log.Debug("dropping osc bpm set", slog.String("error", err.Error()))
		return
	}
	l.hub.Broadcast(wire.NewBPMSet(bpm))
}

func (l *Listener) setParam(name string, value float64) {
	l.hub.Broadcast(wire.NewParamSet(name, value))
}

// setPaletteSlot updates one palette slot from a single hue argument and
// broadcasts the resulting full palette.
func (l *Listener) setPaletteSlot(slot string, hue float64) {
	color := hueToRGB(hue)
	var patch mirror.PalettePatch
	switch slot {
	case "color1":
		patch.Color1 = &color
	case "color2":
		patch.Color2 = &color
	case "color3":
		patch.Color3 = &color
	case "background":
		patch.Background = &color
	default:
		l.log.Debug("osc palette address out of scheme", slog.String("slot", slot))
		return
	}
	p := l.mirror.ApplyPalette(patch)
	l.hub.Broadcast(wire.NewPaletteSet(p.Color1, p.Color2, p.Color3, p.Background))
}

// hueToRGB converts a hue in [0,1) (wrapped) to full-saturation RGB.
func hueToRGB(h float64) wire.RGB {
	h -= math.Floor(h)
	i := int(h * 6)
	f := h*6 - float64(i)
	switch i % 6 {
	case 0:
		return wire.RGB{R: 1, G: f, B: 0}
	case 1:
		return wire.RGB{R: 1 - f, G: 1, B: 0}
	case 2:
		return wire.RGB{R: 0, G: 1, B: f}
	case 3:
		return wire.RGB{R: 0, G: 1 - f, B: 1}
	case 4:
		return wire.RGB{R: f, G: 0, B: 1}
	default:
		return wire.RGB{R: 1, G: 0, B: 1 - f}
	}
}

// numericArgs extracts the numeric OSC arguments in order, skipping
// non-numeric ones.
func numericArgs(args []interface{}) []float64 {
	out := make([]float64, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case float32:
			out = append(out, float64(v))
		case float64:
			out = append(out, v)
		case int32:
			out = append(out, float64(v))
		case int64:
			out = append(out, float64(v))
		}
	}
	return out
}

// argOr returns the i-th numeric argument or fallback.
func argOr(args []float64, i int, fallback float64) float64 {
	if i < len(args) {
		return args[i]
	}
	return fallback
}
