// Package session joins the display path and the editing path: a Workspace
// holds the last analysis, the edit session over its tags and the renderer
// over its pixel buffer.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/mrsinham/dicomcraft/internal/api"
	"github.com/mrsinham/dicomcraft/internal/logging"
	"github.com/mrsinham/dicomcraft/internal/pixel"
	"github.com/mrsinham/dicomcraft/internal/tags"
)

var (
	// ErrAnalyzeInFlight is returned when an analyze is started while another
	// one has not finished.
	ErrAnalyzeInFlight = errors.New("session: analyze already in flight")
	// ErrNoFile is returned by operations that need a loaded file.
	ErrNoFile = errors.New("session: no file loaded")
)

// DefaultCacheSize is the size of the encoded raster cache in bytes.
const DefaultCacheSize = 64 * 1024 * 1024

// Tags read from the analysis to seed the display window.
const (
	tagModality         = "(0008,0060)"
	tagWindowCenter     = "(0028,1050)"
	tagWindowWidth      = "(0028,1051)"
	tagRescaleIntercept = "(0028,1052)"
	tagRescaleSlope     = "(0028,1053)"
)

// Service is the analyze/generate collaborator, normally a *client.Client.
type Service interface {
	Analyze(ctx context.Context, name string, data []byte) (api.AnalysisResponse, error)
	Generate(ctx context.Context, req api.GenerationRequest) (api.GenerationResponse, error)
}

// Workspace is the state of one editing session.
type Workspace struct {
	svc Service

	mu        sync.Mutex
	state     State
	inFlight  bool
	lastErr   error
	analysis  api.AnalysisResponse
	edits     *tags.EditSession
	renderer  *pixel.Renderer
	pixelErr  error
	policy    pixel.Policy
	cache     *rasterCache
	generated *api.GenerationResponse
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithPolicy sets the initial window policy.
func WithPolicy(p pixel.Policy) Option {
	return func(w *Workspace) { w.policy = p }
}

// WithCacheSize sets the raster cache size in bytes.
func WithCacheSize(n int) Option {
	return func(w *Workspace) { w.cache = newRasterCache(n) }
}

// New returns an empty Workspace backed by svc. The window policy defaults
// to AutoWindow.
func New(svc Service, opts ...Option) *Workspace {
	w := &Workspace{
		svc:      svc,
		state:    StateEmpty,
		renderer: pixel.NewRenderer(),
		policy:   pixel.AutoWindow(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.cache == nil {
		w.cache = newRasterCache(DefaultCacheSize)
	}
	return w
}

// Open analyzes data and, on success, replaces the session with the result.
// A failed analysis keeps the previous session and sets the Error state.
func (w *Workspace) Open(ctx context.Context, name string, data []byte) error {
	w.mu.Lock()
	if w.inFlight {
		w.mu.Unlock()
		return ErrAnalyzeInFlight
	}
	w.inFlight = true
	w.state = StateLoading
	w.mu.Unlock()

	resp, err := w.svc.Analyze(ctx, name, data)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight = false
	if err != nil {
		w.state = StateError
		w.lastErr = err
		return err
	}
	w.load(resp)
	return nil
}

// Load replaces the session with an analysis obtained elsewhere.
func (w *Workspace) Load(resp api.AnalysisResponse) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.load(resp)
}

func (w *Workspace) load(resp api.AnalysisResponse) {
	w.analysis = resp
	w.edits = tags.NewEditSession(resp.Tags)
	w.generated = nil
	w.lastErr = nil
	w.state = StateReady
	w.reloadPixels()
}

// reloadPixels decodes the current pixel buffer with the current policy.
// Decode failures leave the renderer empty and are kept for Status; the
// tags are never touched.
func (w *Workspace) reloadPixels() {
	w.renderer.Close()
	w.cache.Clear()
	w.pixelErr = nil

	raw, err := w.analysis.PixelData.RawBytes()
	if err != nil {
		if !errors.Is(err, api.ErrNoPixelData) {
			w.pixelErr = err
			logging.Warningf("pixel data of %q not displayed: %v", w.analysis.FileName, err)
		}
		return
	}
	if err := w.renderer.Load(raw, w.analysis.PixelData.Geometry(), w.policy); err != nil {
		w.pixelErr = err
		logging.Warningf("pixel data of %q not displayed: %v", w.analysis.FileName, err)
	}
}

// Loaded reports whether a file has been analyzed.
func (w *Workspace) Loaded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.edits != nil
}

// Analysis returns the last successful analysis.
func (w *Workspace) Analysis() api.AnalysisResponse {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.analysis
}

// Edits returns the edit session, or nil before the first analysis.
func (w *Workspace) Edits() *tags.EditSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.edits
}

// Set replaces the value of the top-level tag id.
func (w *Workspace) Set(id string, v tags.Value) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.edits == nil {
		return ErrNoFile
	}
	return w.edits.Set(id, v)
}

// Reset discards all edits.
func (w *Workspace) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.edits != nil {
		w.edits.Reset()
	}
}

// Groups returns the current tags grouped by category and filtered by query.
func (w *Workspace) Groups(query string) []tags.Group {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.edits == nil {
		return nil
	}
	return tags.FilterGroups(tags.GroupByCategory(w.edits.Current()), query)
}

// Export submits the current tags and the unchanged pixel buffer for
// generation. It also returns the ids of sequences whose deeper nesting the
// export format cannot carry.
func (w *Workspace) Export(ctx context.Context) (api.GenerationResponse, []string, error) {
	w.mu.Lock()
	if w.edits == nil {
		w.mu.Unlock()
		return api.GenerationResponse{}, nil, ErrNoFile
	}
	current := w.edits.Current()
	pb := w.analysis.PixelData
	w.mu.Unlock()

	truncated := api.TruncatedSequences(current)
	if len(truncated) > 0 {
		logging.Warningf("export drops nested sequences below %s", strings.Join(truncated, ", "))
	}

	resp, err := w.svc.Generate(ctx, api.ToGenerationRequest(current, pb))

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.lastErr = err
		return resp, truncated, err
	}
	w.lastErr = nil
	w.generated = &resp
	return resp, truncated, nil
}

// Policy returns the current window policy.
func (w *Workspace) Policy() pixel.Policy {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.policy
}

// SetPolicy re-renders the pixel buffer with p.
func (w *Workspace) SetPolicy(p pixel.Policy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.policy = p
	w.reloadPixels()
}

// FileWindow returns the VOI window stored in the file's WindowCenter and
// WindowWidth tags, with its rescale applied.
func (w *Workspace) FileWindow() (pixel.Policy, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.edits == nil {
		return pixel.Policy{}, false
	}
	tree := w.edits.Tree()
	center, ok1 := numericTag(tree, tagWindowCenter)
	width, ok2 := numericTag(tree, tagWindowWidth)
	if !ok1 || !ok2 {
		return pixel.Policy{}, false
	}
	slope, intercept := rescale(tree)
	return pixel.Window(center, width).WithRescale(slope, intercept), true
}

// ApplyPreset switches to the named window preset of the file's modality.
func (w *Workspace) ApplyPreset(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.edits == nil {
		return ErrNoFile
	}
	tree := w.edits.Tree()
	modality := ""
	if n, ok := tree.Find(tagModality); ok {
		modality = strings.TrimSpace(n.Value.Text())
	}
	preset, err := pixel.FindPreset(modality, name)
	if err != nil {
		return err
	}
	slope, intercept := rescale(tree)
	w.policy = preset.Policy().WithRescale(slope, intercept)
	w.reloadPixels()
	return nil
}

// Presets lists the window presets for the file's modality.
func (w *Workspace) Presets() []pixel.Preset {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.edits == nil {
		return nil
	}
	if n, ok := w.edits.Tree().Find(tagModality); ok {
		if m := strings.TrimSpace(n.Value.Text()); m != "" {
			return pixel.Presets(m)
		}
	}
	return nil
}

// Renderer returns the renderer for view operations (zoom, pan, reset).
func (w *Workspace) Renderer() *pixel.Renderer { return w.renderer }

// Render encodes the full raster. Results are cached until the pixel buffer
// or the policy changes.
func (w *Workspace) Render(f pixel.Format) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := []byte(fmt.Sprintf("full|%s|%s", w.policy, f))
	return w.cached(key, func(buf *bytes.Buffer) error {
		return w.renderer.Encode(buf, f)
	})
}

// RenderViewport encodes a width×height view of the raster through the
// current zoom and pan.
func (w *Workspace) RenderViewport(width, height int, f pixel.Format) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v := w.renderer.View()
	key := []byte(fmt.Sprintf("view|%s|%s|%dx%d|%g|%g|%g", w.policy, f, width, height, v.Scale, v.OffsetX, v.OffsetY))
	return w.cached(key, func(buf *bytes.Buffer) error {
		img, err := w.renderer.Viewport(width, height)
		if err != nil {
			return err
		}
		return w.renderer.EncodeImage(buf, img, f)
	})
}

func (w *Workspace) cached(key []byte, encode func(*bytes.Buffer) error) ([]byte, error) {
	if !w.renderer.Loaded() {
		if w.pixelErr != nil {
			return nil, w.pixelErr
		}
		return nil, pixel.ErrNoImage
	}
	if data, ok := w.cache.Get(key); ok {
		return data, nil
	}
	var buf bytes.Buffer
	if err := encode(&buf); err != nil {
		w.cache.Clear()
		w.pixelErr = err
		return nil, err
	}
	data := buf.Bytes()
	if err := w.cache.Set(key, data); err != nil {
		logging.Debugf("raster of %s not cached: %v", humanize.Bytes(uint64(len(data))), err)
	}
	return data, nil
}

// Close releases the raster and the cache.
func (w *Workspace) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.renderer.Close()
	w.cache.Clear()
}

func numericTag(tree *tags.Tree, id string) (float64, bool) {
	n, ok := tree.Find(id)
	if !ok {
		return 0, false
	}
	text := strings.TrimSpace(n.Value.Text())
	// Multi-valued windows list alternatives; the first one is the default.
	if i := strings.IndexByte(text, '\\'); i >= 0 {
		text = text[:i]
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	return f, err == nil
}

func rescale(tree *tags.Tree) (slope, intercept float64) {
	slope, ok := numericTag(tree, tagRescaleSlope)
	if !ok || slope == 0 {
		slope = 1
	}
	intercept, _ = numericTag(tree, tagRescaleIntercept)
	return slope, intercept
}
