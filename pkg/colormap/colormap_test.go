package colormap

import (
	"image/color"
	"testing"
)

func TestHeatColormapEndpoints(t *testing.T) {
	t.Parallel()

	c0, ok := Heat.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != (color.RGBA{R: 90, G: 24, B: 70, A: 255}) {
		t.Fatalf("unexpected Heat.At(0): %#v", c0)
	}

	c1, ok := Heat.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if c1 != (color.RGBA{R: 255, G: 195, B: 0, A: 255}) {
		t.Fatalf("unexpected Heat.At(1): %#v", c1)
	}
}

func TestLinearColormapClampsOutOfRange(t *testing.T) {
	t.Parallel()

	lo := Viridis.At(-0.5)
	hi := Viridis.At(2)
	if lo != Viridis.At(0) {
		t.Fatalf("At(-0.5) should clamp to At(0), got %#v", lo)
	}
	if hi != Viridis.At(1) {
		t.Fatalf("At(2) should clamp to At(1), got %#v", hi)
	}
}

func TestFromHex(t *testing.T) {
	t.Parallel()

	cm, err := FromHex([]string{"#000000", "ffffff"})
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}

	mid, ok := cm.At(0.5).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0.5")
	}
	if mid != (color.RGBA{R: 127, G: 127, B: 127, A: 255}) {
		t.Fatalf("unexpected midpoint: %#v", mid)
	}

	stops := cm.Stops()
	if len(stops) != 2 {
		t.Fatalf("expected 2 stops, got %d", len(stops))
	}
	if Hex(stops[1]) != "#ffffff" {
		t.Fatalf("unexpected stop formatting: %q", Hex(stops[1]))
	}
}

func TestFromHexInvalid(t *testing.T) {
	t.Parallel()

	tests := [][]string{
		{"#000000"},
		{},
		{"#000000", "nope"},
		{"#000000", "#12345"},
	}
	for _, stops := range tests {
		if _, err := FromHex(stops); err == nil {
			t.Errorf("FromHex(%v): expected error", stops)
		}
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	for _, name := range Names() {
		if _, ok := Lookup(name); !ok {
			t.Errorf("built-in ramp %q missing from Lookup", name)
		}
	}
	if _, ok := Lookup("HEAT"); !ok {
		t.Error("Lookup should be case-insensitive")
	}
	if _, ok := Lookup("no-such-ramp"); ok {
		t.Error("unknown ramp should not resolve")
	}
}
