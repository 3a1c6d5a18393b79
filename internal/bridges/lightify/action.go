package lightify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ActionKind names a state change a Luminary can perform.
type ActionKind string

// Supported action kinds. The values double as command-line keywords.
const (
	ActionOn          ActionKind = "on"
	ActionOff         ActionKind = "off"
	ActionLuminance   ActionKind = "lum"
	ActionTemperature ActionKind = "temp"
	ActionColour      ActionKind = "col"
)

// actionAliases maps bridge and API command names to action kinds.
var actionAliases = map[string]ActionKind{
	"on":              ActionOn,
	"off":             ActionOff,
	"lum":             ActionLuminance,
	"dim":             ActionLuminance,
	"set_luminance":   ActionLuminance,
	"temp":            ActionTemperature,
	"set_temperature": ActionTemperature,
	"col":             ActionColour,
	"colour":          ActionColour,
	"color":           ActionColour,
	"set_colour":      ActionColour,
}

// Action is one parsed state change, ready to apply to a Luminary.
type Action struct {
	Kind       ActionKind `json:"kind"`
	Level      uint8      `json:"level,omitempty"`
	Kelvin     uint16     `json:"kelvin,omitempty"`
	Red        uint8      `json:"red,omitempty"`
	Green      uint8      `json:"green,omitempty"`
	Blue       uint8      `json:"blue,omitempty"`
	Transition uint16     `json:"transition,omitempty"`
}

// ParseAction parses a command keyword and its arguments:
//
//	on
//	off
//	lum <level 0-255> <time 0-65535>
//	temp <kelvin 0-65535> <time 0-65535>
//	col <r 0-255> <g 0-255> <b 0-255> <time 0-65535>
//
// Returns ErrInvalidAction for an unknown keyword, a wrong argument count,
// or a value outside its field's range.
func ParseAction(keyword string, args []string) (Action, error) {
	kind := ActionKind(keyword)
	var p argParser

	var a Action
	switch kind {
	case ActionOn, ActionOff:
		a = Action{Kind: kind}
		p.expect(kind, args, 0)
	case ActionLuminance:
		p.expect(kind, args, 2)
		a = Action{Kind: kind, Level: p.byteArg(args, 0, "level"), Transition: p.wordArg(args, 1, "time")}
	case ActionTemperature:
		p.expect(kind, args, 2)
		a = Action{Kind: kind, Kelvin: p.wordArg(args, 0, "kelvin"), Transition: p.wordArg(args, 1, "time")}
	case ActionColour:
		p.expect(kind, args, 4)
		a = Action{
			Kind:       kind,
			Red:        p.byteArg(args, 0, "red"),
			Green:      p.byteArg(args, 1, "green"),
			Blue:       p.byteArg(args, 2, "blue"),
			Transition: p.wordArg(args, 3, "time"),
		}
	default:
		return Action{}, fmt.Errorf("%w: unknown command %q (want on, off, lum, temp or col)", ErrInvalidAction, keyword)
	}

	if p.err != nil {
		return Action{}, p.err
	}
	return a, nil
}

// argParser converts positional string arguments, keeping the first error.
type argParser struct {
	err error
}

func (p *argParser) expect(kind ActionKind, args []string, n int) {
	if p.err == nil && len(args) != n {
		p.err = fmt.Errorf("%w: %s takes %d arguments, got %d", ErrInvalidAction, kind, n, len(args))
	}
}

func (p *argParser) byteArg(args []string, i int, name string) uint8 {
	return uint8(p.parse(args, i, name, 8))
}

func (p *argParser) wordArg(args []string, i int, name string) uint16 {
	return uint16(p.parse(args, i, name, 16))
}

func (p *argParser) parse(args []string, i int, name string, bits int) uint64 {
	if p.err != nil || i >= len(args) {
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimSpace(args[i]), 10, bits)
	if err != nil {
		p.err = fmt.Errorf("%w: %s %q must be 0-%d", ErrInvalidAction, name, args[i], uint64(1)<<bits-1)
		return 0
	}
	return v
}

// ActionFromParameters builds an Action from a command name and a JSON
// parameter object, as carried by bridge command messages and the HTTP API.
//
// Recognised parameters: level, kelvin, red, green, blue, transition.
// transition defaults to 0. Command names accept the keywords of ParseAction
// plus the aliases dim, set_luminance, set_temperature, colour, color and
// set_colour.
func ActionFromParameters(command string, params map[string]any) (Action, error) {
	kind, ok := actionAliases[strings.ToLower(strings.TrimSpace(command))]
	if !ok {
		return Action{}, fmt.Errorf("%w: unknown command %q", ErrInvalidAction, command)
	}

	var p paramParser
	a := Action{Kind: kind, Transition: uint16(p.get(params, "transition", math.MaxUint16, false))}
	switch kind {
	case ActionLuminance:
		a.Level = uint8(p.get(params, "level", math.MaxUint8, true))
	case ActionTemperature:
		a.Kelvin = uint16(p.get(params, "kelvin", math.MaxUint16, true))
	case ActionColour:
		a.Red = uint8(p.get(params, "red", math.MaxUint8, true))
		a.Green = uint8(p.get(params, "green", math.MaxUint8, true))
		a.Blue = uint8(p.get(params, "blue", math.MaxUint8, true))
	}

	if p.err != nil {
		return Action{}, p.err
	}
	return a, nil
}

// paramParser reads bounded integers from a JSON parameter map.
type paramParser struct {
	err error
}

func (p *paramParser) get(params map[string]any, key string, maxVal uint64, required bool) uint64 {
	if p.err != nil {
		return 0
	}
	raw, ok := params[key]
	if !ok {
		if required {
			p.err = fmt.Errorf("%w: missing parameter %q", ErrInvalidAction, key)
		}
		return 0
	}

	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			p.err = fmt.Errorf("%w: parameter %q: %w", ErrInvalidAction, key, err)
			return 0
		}
		f = parsed
	default:
		p.err = fmt.Errorf("%w: parameter %q must be a number, got %T", ErrInvalidAction, key, raw)
		return 0
	}

	if f < 0 || f > float64(maxVal) || f != math.Trunc(f) {
		p.err = fmt.Errorf("%w: parameter %q = %v must be an integer 0-%d", ErrInvalidAction, key, f, maxVal)
		return 0
	}
	return uint64(f)
}

// Apply performs the action on lum.
func (a Action) Apply(ctx context.Context, lum Luminary) error {
	switch a.Kind {
	case ActionOn:
		return lum.SetOnOff(ctx, true)
	case ActionOff:
		return lum.SetOnOff(ctx, false)
	case ActionLuminance:
		return lum.SetLuminance(ctx, a.Level, a.Transition)
	case ActionTemperature:
		return lum.SetTemperature(ctx, a.Kelvin, a.Transition)
	case ActionColour:
		return lum.SetRGB(ctx, a.Red, a.Green, a.Blue, a.Transition)
	default:
		return fmt.Errorf("%w: unknown action kind %q", ErrInvalidAction, a.Kind)
	}
}

// String renders the action in command-line form.
func (a Action) String() string {
	switch a.Kind {
	case ActionLuminance:
		return fmt.Sprintf("lum %d %d", a.Level, a.Transition)
	case ActionTemperature:
		return fmt.Sprintf("temp %d %d", a.Kelvin, a.Transition)
	case ActionColour:
		return fmt.Sprintf("col %d %d %d %d", a.Red, a.Green, a.Blue, a.Transition)
	default:
		return string(a.Kind)
	}
}
