// Package colormap resolves layer color ranges into color ramps.
package colormap

import (
	"fmt"
	"image/color"
	"strings"
)

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
	AtIndex(i int) color.Color
}

// LinearColormap interpolates linearly between an ordered list of stops.
type LinearColormap struct {
	colors []color.RGBA
}

// FromHex builds a ramp from hex color stops, low to high. At least two
// stops are required.
func FromHex(stops []string) (LinearColormap, error) {
	if len(stops) < 2 {
		return LinearColormap{}, fmt.Errorf("color range needs at least 2 stops, got %d", len(stops))
	}
	colors := make([]color.RGBA, 0, len(stops))
	for _, s := range stops {
		c, err := ParseHex(s)
		if err != nil {
			return LinearColormap{}, err
		}
		colors = append(colors, c)
	}
	return LinearColormap{colors: colors}, nil
}

// ParseHex parses an RRGGBB color, with or without a leading '#'.
func ParseHex(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(h, "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// Hex formats a color as "#rrggbb", dropping alpha.
func Hex(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// At returns the color at position t (0-1).
func (c LinearColormap) At(t float64) color.Color {
	if t <= 0 {
		return c.colors[0]
	}
	if t >= 1 {
		return c.colors[len(c.colors)-1]
	}

	idx := t * float64(len(c.colors)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(c.colors) {
		upper = len(c.colors) - 1
	}

	frac := idx - float64(lower)
	return interpolate(c.colors[lower], c.colors[upper], frac)
}

// AtIndex returns the stop at index i (wraps around).
func (c LinearColormap) AtIndex(i int) color.Color {
	return c.colors[i%len(c.colors)]
}

// Stops returns the ramp's color stops in order.
func (c LinearColormap) Stops() []color.RGBA {
	out := make([]color.RGBA, len(c.colors))
	copy(out, c.colors)
	return out
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c1.R) + t*(float64(c2.R)-float64(c1.R))),
		G: uint8(float64(c1.G) + t*(float64(c2.G)-float64(c1.G))),
		B: uint8(float64(c1.B) + t*(float64(c2.B)-float64(c1.B))),
		A: 255,
	}
}

// Heat is the default six-stop ramp, dark magenta through amber.
var Heat = LinearColormap{
	colors: []color.RGBA{
		{90, 24, 70, 255},
		{144, 12, 63, 255},
		{199, 0, 57, 255},
		{227, 97, 28, 255},
		{241, 146, 14, 255},
		{255, 195, 0, 255},
	},
}

// Ice runs deep blue to pale cyan.
var Ice = LinearColormap{
	colors: []color.RGBA{
		{13, 16, 57, 255},
		{33, 54, 110, 255},
		{44, 96, 153, 255},
		{60, 140, 173, 255},
		{120, 183, 197, 255},
		{211, 238, 240, 255},
	},
}

// Viridis colormap (matplotlib viridis)
var Viridis = LinearColormap{
	colors: []color.RGBA{
		{68, 1, 84, 255},
		{72, 35, 116, 255},
		{64, 67, 135, 255},
		{52, 94, 141, 255},
		{41, 120, 142, 255},
		{32, 144, 140, 255},
		{34, 167, 132, 255},
		{68, 190, 112, 255},
		{121, 209, 81, 255},
		{189, 222, 38, 255},
		{253, 231, 37, 255},
	},
}

// Plasma colormap
var Plasma = LinearColormap{
	colors: []color.RGBA{
		{13, 8, 135, 255},
		{75, 3, 161, 255},
		{125, 3, 168, 255},
		{168, 34, 150, 255},
		{203, 70, 121, 255},
		{229, 107, 93, 255},
		{248, 148, 65, 255},
		{253, 195, 40, 255},
		{240, 249, 33, 255},
	},
}

var named = map[string]LinearColormap{
	"heat":    Heat,
	"ice":     Ice,
	"viridis": Viridis,
	"plasma":  Plasma,
}

// Lookup resolves a named ramp.
func Lookup(name string) (LinearColormap, bool) {
	cm, ok := named[strings.ToLower(name)]
	return cm, ok
}

// Names lists the built-in ramp names.
func Names() []string {
	return []string{"heat", "ice", "viridis", "plasma"}
}
