package pixel

import "math"

const (
	// ZoomStep is the factor applied by one ZoomIn or ZoomOut.
	ZoomStep = 1.2
	// MinScale and MaxScale bound the view scale.
	MinScale = 0.1
	MaxScale = 5.0
)

// ViewState holds the zoom and pan of a rendered raster.
// The zero value is not usable; use NewViewState.
type ViewState struct {
	Scale   float64
	OffsetX float64
	OffsetY float64

	dragging bool
}

// NewViewState returns the identity view.
func NewViewState() ViewState {
	return ViewState{Scale: 1}
}

// ZoomIn multiplies the scale by ZoomStep, clamped to MaxScale.
func (v *ViewState) ZoomIn() {
	v.Scale = clampScale(v.Scale * ZoomStep)
}

// ZoomOut divides the scale by ZoomStep, clamped to MinScale.
func (v *ViewState) ZoomOut() {
	v.Scale = clampScale(v.Scale / ZoomStep)
}

// Reset restores scale 1 and zero offset and ends any drag.
func (v *ViewState) Reset() {
	*v = NewViewState()
}

// BeginDrag starts a pan gesture.
func (v *ViewState) BeginDrag() { v.dragging = true }

// EndDrag ends a pan gesture.
func (v *ViewState) EndDrag() { v.dragging = false }

// Dragging reports whether a pan gesture is active.
func (v *ViewState) Dragging() bool { return v.dragging }

// Pan moves the offset by (dx, dy). It fails with ErrNotDragging and leaves
// the offset untouched unless a drag is active.
func (v *ViewState) Pan(dx, dy float64) error {
	if !v.dragging {
		return ErrNotDragging
	}
	v.OffsetX += dx
	v.OffsetY += dy
	return nil
}

func clampScale(s float64) float64 {
	return math.Max(MinScale, math.Min(MaxScale, s))
}
