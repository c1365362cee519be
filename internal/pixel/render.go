package pixel

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/tiff"
)

// Format is a raster encoding.
type Format int

const (
	FormatPNG Format = iota
	FormatBMP
	FormatTIFF
)

// String returns the file extension of the format, without the dot.
func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatBMP:
		return "bmp"
	case FormatTIFF:
		return "tiff"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format name. Empty means PNG.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "bmp":
		return FormatBMP, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	default:
		return 0, fmt.Errorf("invalid raster format %q (valid: png, bmp, tiff)", s)
	}
}

// Renderer holds at most one displayable raster and its view state.
// It never keeps a reference to the caller's raw buffer.
type Renderer struct {
	raster  *image.RGBA
	samples []uint16
	geom    Geometry
	view    ViewState
}

// NewRenderer returns a renderer in the "no image" state.
func NewRenderer() *Renderer {
	return &Renderer{view: NewViewState()}
}

// Load decodes and normalizes raw into a new raster, replacing the previous one.
// On failure the renderer is left with no image and the error is returned.
func (r *Renderer) Load(raw []byte, g Geometry, p Policy) error {
	r.Close()

	if g.SamplesPerPixel > 1 {
		return fmt.Errorf("%w: %d", ErrUnsupportedSamples, g.SamplesPerPixel)
	}
	if n := g.ExpectedLength(); n >= 0 && len(raw) < n {
		return fmt.Errorf("%w: need %d bytes, got %d", ErrInsufficientData, n, len(raw))
	}

	samples, err := Decode(raw, g.BitsAllocated, g.Width, g.Height)
	if err != nil {
		return err
	}
	gray, err := Normalize(samples, p)
	if err != nil {
		return err
	}

	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	for i, v := range gray {
		o := i * 4
		img.Pix[o] = v
		img.Pix[o+1] = v
		img.Pix[o+2] = v
		img.Pix[o+3] = 255
	}

	r.raster = img
	r.samples = samples
	r.geom = g
	return nil
}

// Loaded reports whether a raster is available.
func (r *Renderer) Loaded() bool { return r.raster != nil }

// Image returns the full-resolution raster, or nil.
func (r *Renderer) Image() *image.RGBA { return r.raster }

// Geometry returns the geometry of the loaded raster.
func (r *Renderer) Geometry() Geometry { return r.geom }

// Close releases the raster and resets the view.
func (r *Renderer) Close() {
	r.raster = nil
	r.samples = nil
	r.geom = Geometry{}
	r.view = NewViewState()
}

// Stats returns statistics of the decoded samples.
func (r *Renderer) Stats() (Stats, error) {
	if r.raster == nil {
		return Stats{}, ErrNoImage
	}
	return ComputeStats(r.samples), nil
}

// Encode writes the raster to w. Any encoder failure is wrapped in
// ErrDecodeRender and drops the raster.
func (r *Renderer) Encode(w io.Writer, f Format) error {
	if r.raster == nil {
		return ErrNoImage
	}
	return r.encode(w, r.raster, f)
}

func (r *Renderer) encode(w io.Writer, img image.Image, f Format) error {
	var err error
	switch f {
	case FormatPNG:
		err = png.Encode(w, img)
	case FormatBMP:
		err = bmp.Encode(w, img)
	case FormatTIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = fmt.Errorf("unknown format %d", f)
	}
	if err != nil {
		r.Close()
		return fmt.Errorf("%w: %s: %v", ErrDecodeRender, f, err)
	}
	return nil
}

// EncodeImage encodes an image derived from the raster, such as a viewport or caption.
func (r *Renderer) EncodeImage(w io.Writer, img image.Image, f Format) error {
	if r.raster == nil {
		return ErrNoImage
	}
	return r.encode(w, img, f)
}

// View returns a copy of the current view state.
func (r *Renderer) View() ViewState { return r.view }

// ZoomIn enlarges the view by ZoomStep, up to MaxScale.
func (r *Renderer) ZoomIn() { r.view.ZoomIn() }

// ZoomOut shrinks the view by ZoomStep, down to MinScale.
func (r *Renderer) ZoomOut() { r.view.ZoomOut() }

// ResetView restores scale 1 and zero offset.
func (r *Renderer) ResetView() { r.view.Reset() }

// BeginDrag starts a pan gesture; Pan only moves the view between BeginDrag
// and EndDrag.
func (r *Renderer) BeginDrag() { r.view.BeginDrag() }

// EndDrag ends the pan gesture.
func (r *Renderer) EndDrag() { r.view.EndDrag() }

// Pan moves the view; see ViewState.Pan.
func (r *Renderer) Pan(dx, dy float64) error { return r.view.Pan(dx, dy) }

// Viewport renders the raster through the view state into a w x h image.
// The raster is scaled about the viewport centre and then offset.
// Uncovered area is black.
func (r *Renderer) Viewport(w, h int) (*image.RGBA, error) {
	if r.raster == nil {
		return nil, ErrNoImage
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: viewport %dx%d", ErrInvalidDimensions, w, h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)

	s := r.view.Scale
	sb := r.raster.Bounds()
	tx := float64(w)/2 - s*float64(sb.Dx())/2 + r.view.OffsetX
	ty := float64(h)/2 - s*float64(sb.Dy())/2 + r.view.OffsetY
	m := f64.Aff3{
		s, 0, tx,
		0, s, ty,
	}
	draw.NearestNeighbor.Transform(dst, m, r.raster, sb, draw.Over, nil)
	return dst, nil
}

// Caption returns a copy of the raster with text drawn in the top-left corner.
// The text is white with a black outline so it stays readable on any background.
func (r *Renderer) Caption(text string) (*image.RGBA, error) {
	if r.raster == nil {
		return nil, ErrNoImage
	}

	img := image.NewRGBA(r.raster.Bounds())
	copy(img.Pix, r.raster.Pix)

	face := basicfont.Face7x13
	x := 4
	y := 2 + face.Metrics().Ascent.Ceil()

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: face,
	}
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx != 0 || dy != 0 {
				drawer.Dot = fixed.P(x+dx, y+dy)
				drawer.DrawString(text)
			}
		}
	}
	drawer.Src = image.NewUniform(color.White)
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(text)

	return img, nil
}

// DefaultCaption formats the standard info line for a raster.
func DefaultCaption(g Geometry, photometric string) string {
	if photometric == "" {
		photometric = "UNKNOWN"
	}
	return fmt.Sprintf("%dx%d %d-bit %s", g.Width, g.Height, g.BitsAllocated, photometric)
}
