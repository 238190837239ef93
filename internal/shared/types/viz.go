package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedDimension reports a dimensionality tag the router has no rule for
var ErrUnsupportedDimension = errors.New("unsupported dimension")

// Dimension selects the rendering library family a snippet targets
type Dimension string

const (
	Dimension2D   Dimension = "2d"
	Dimension3D   Dimension = "3d"
	DimensionDemo Dimension = "demo"
)

// ParseDimension normalizes a dimensionality tag ("2D", "3d", "demo").
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return d, fmt.Errorf("%w: %q", ErrUnsupportedDimension, s)
	}
	return d, nil
}

// Valid reports whether d is one of the known dimensions
func (d Dimension) Valid() bool {
	switch d {
	case Dimension2D, Dimension3D, DimensionDemo:
		return true
	}
	return false
}

func (d Dimension) String() string { return string(d) }

// DisplayMode selects which of the two permanently mounted regions is visible
type DisplayMode string

const (
	DisplayVisual DisplayMode = "visual"
	DisplayCode   DisplayMode = "code"
)

// ParseDisplayMode validates a display mode string
func ParseDisplayMode(s string) (DisplayMode, error) {
	switch m := DisplayMode(strings.ToLower(s)); m {
	case DisplayVisual, DisplayCode:
		return m, nil
	}
	return "", fmt.Errorf("unknown display mode %q", s)
}
