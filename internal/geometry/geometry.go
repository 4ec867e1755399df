// Package geometry places a raster image on a fixed-size page canvas.
//
// All offsets use a top-left origin with y growing downward. The same
// functions drive the preview canvas, the thumbnail canvas and the export
// writer, so a page looks identical in all three.
package geometry

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// User scale bounds accepted by ClampUserScale.
const (
	MinUserScale = 0.1
	MaxUserScale = 4.0
)

var (
	ErrInvalidScale     = errors.New("scale must be a positive number")
	ErrUnknownDirection = errors.New("unknown alignment direction")
)

// Direction is an alignment target on one axis.
type Direction string

const (
	AlignLeft   Direction = "left"
	AlignCenter Direction = "center"
	AlignRight  Direction = "right"
	AlignTop    Direction = "top"
	AlignMiddle Direction = "middle"
	AlignBottom Direction = "bottom"
)

// ParseDirection maps a user-supplied string to a Direction.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case AlignLeft, AlignCenter, AlignRight, AlignTop, AlignMiddle, AlignBottom:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDirection, s)
}

// Offset is the top-left position of the scaled image on the canvas.
type Offset struct {
	X, Y float64
}

// FitScale returns the scale at which an imgW×imgH image fits inside the
// canvas on both axes. Images smaller than the canvas are never upscaled.
func FitScale(imgW, imgH, canvasW, canvasH float64) float64 {
	if imgW <= 0 || imgH <= 0 {
		return 1
	}
	s := math.Min(canvasW/imgW, canvasH/imgH)
	if s > 1 {
		return 1
	}
	if s <= 0 || math.IsNaN(s) {
		return 1
	}
	return s
}

// EffectiveScale is the scale actually applied when drawing.
func EffectiveScale(fitScale, userScale float64) float64 {
	return fitScale * userScale
}

// ClampUserScale validates a user-requested multiplier and bounds it to
// [MinUserScale, MaxUserScale].
func ClampUserScale(userScale float64) (float64, error) {
	if math.IsNaN(userScale) || math.IsInf(userScale, 0) || userScale <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidScale, userScale)
	}
	return math.Min(math.Max(userScale, MinUserScale), MaxUserScale), nil
}

// ClampOffset bounds each axis to [0, max(0, canvasDim - imgDim*scale)].
// When the scaled image is larger than the canvas on an axis the offset on
// that axis is pinned to 0 and the overhang falls on the right or bottom.
func ClampOffset(off Offset, imgW, imgH, scale, canvasW, canvasH float64) Offset {
	return Offset{
		X: clampAxis(off.X, canvasW-imgW*scale),
		Y: clampAxis(off.Y, canvasH-imgH*scale),
	}
}

func clampAxis(v, slack float64) float64 {
	maxV := math.Max(0, slack)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > maxV {
		return maxV
	}
	return v
}

// Align moves the image to the given edge or center on the axis the
// direction belongs to, leaving the other axis of cur untouched.
func Align(dir Direction, cur Offset, imgW, imgH, scale, canvasW, canvasH float64) (Offset, error) {
	w, h := imgW*scale, imgH*scale
	off := cur
	switch dir {
	case AlignLeft:
		off.X = 0
	case AlignCenter:
		off.X = (canvasW - w) / 2
	case AlignRight:
		off.X = canvasW - w
	case AlignTop:
		off.Y = 0
	case AlignMiddle:
		off.Y = (canvasH - h) / 2
	case AlignBottom:
		off.Y = canvasH - h
	default:
		return cur, fmt.Errorf("%w: %q", ErrUnknownDirection, dir)
	}
	return ClampOffset(off, imgW, imgH, scale, canvasW, canvasH), nil
}

// Centered returns the offset that centers the image on both axes.
func Centered(imgW, imgH, scale, canvasW, canvasH float64) Offset {
	off := Offset{
		X: (canvasW - imgW*scale) / 2,
		Y: (canvasH - imgH*scale) / 2,
	}
	return ClampOffset(off, imgW, imgH, scale, canvasW, canvasH)
}

// RescaleAroundCenter keeps the visual center of the image fixed while its
// scale changes from oldScale to newScale.
func RescaleAroundCenter(old Offset, oldScale, newScale, imgW, imgH, canvasW, canvasH float64) Offset {
	dw := imgW * (newScale - oldScale)
	dh := imgH * (newScale - oldScale)
	off := Offset{X: old.X - dw/2, Y: old.Y - dh/2}
	return ClampOffset(off, imgW, imgH, newScale, canvasW, canvasH)
}

// Pan translates the offset by (dx, dy) canvas units and clamps.
func Pan(old Offset, dx, dy, imgW, imgH, scale, canvasW, canvasH float64) Offset {
	return ClampOffset(Offset{X: old.X + dx, Y: old.Y + dy}, imgW, imgH, scale, canvasW, canvasH)
}

// ToDocumentY converts a top-left y offset into the bottom-left convention
// used by PDF page space.
func ToDocumentY(offsetY, scaledH, canvasH float64) float64 {
	return canvasH - offsetY - scaledH
}
