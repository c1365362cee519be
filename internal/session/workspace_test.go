package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/mrsinham/dicomcraft/internal/api"
	"github.com/mrsinham/dicomcraft/internal/dicom"
	"github.com/mrsinham/dicomcraft/internal/pixel"
	"github.com/mrsinham/dicomcraft/internal/tags"
)

// localService analyzes and generates in-process.
type localService struct {
	analyzer  *dicom.Analyzer
	generator *dicom.Generator
	block     chan struct{}
	err       error
}

func newLocalService() *localService {
	return &localService{analyzer: dicom.NewAnalyzer(), generator: dicom.NewGenerator()}
}

func (s *localService) Analyze(ctx context.Context, name string, data []byte) (api.AnalysisResponse, error) {
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return api.AnalysisResponse{}, s.err
	}
	resp := s.analyzer.Analyze(bytes.NewReader(data), int64(len(data)), name)
	if resp.AnalysisStatus != api.StatusSuccess {
		return resp, errors.New(resp.ErrorMessage)
	}
	return resp, nil
}

func (s *localService) Generate(ctx context.Context, req api.GenerationRequest) (api.GenerationResponse, error) {
	resp := s.generator.Generate(req)
	if resp.GenerationStatus != api.StatusSuccess {
		return resp, errors.New(resp.ErrorMessage)
	}
	return resp, nil
}

func sampleFile(t *testing.T, modality string) []byte {
	t.Helper()
	req, err := dicom.Sample(dicom.SampleOptions{Modality: modality, Width: 16, Height: 16, Seed: 7})
	if err != nil {
		t.Fatal(err)
	}
	data, err := dicom.NewGenerator().Build(req)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func openSample(t *testing.T, modality string) *Workspace {
	t.Helper()
	w := New(newLocalService())
	t.Cleanup(w.Close)
	if err := w.Open(context.Background(), "sample.dcm", sampleFile(t, modality)); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	return w
}

func TestStatus_Empty(t *testing.T) {
	w := New(newLocalService())
	if got := w.Status().String(); got != "No file loaded" {
		t.Errorf("Status = %q", got)
	}
	if _, _, err := w.Export(context.Background()); !errors.Is(err, ErrNoFile) {
		t.Errorf("Export error = %v, want %v", err, ErrNoFile)
	}
	if err := w.Set("(0010,0010)", tags.String("x")); !errors.Is(err, ErrNoFile) {
		t.Errorf("Set error = %v, want %v", err, ErrNoFile)
	}
	if _, err := w.Render(pixel.FormatPNG); !errors.Is(err, pixel.ErrNoImage) {
		t.Errorf("Render error = %v, want %v", err, pixel.ErrNoImage)
	}
}

func TestOpen(t *testing.T) {
	w := openSample(t, "CT")

	st := w.Status()
	if st.State != StateReady || st.FileName != "sample.dcm" {
		t.Errorf("Status = %+v", st)
	}
	if got := st.String(); got != "Ready | sample.dcm" {
		t.Errorf("Status line = %q", got)
	}
	if len(w.Groups("")) == 0 {
		t.Error("no tag groups after open")
	}
	if !w.Renderer().Loaded() {
		t.Error("renderer did not load the pixel buffer")
	}
}

func TestOpen_Error(t *testing.T) {
	svc := newLocalService()
	svc.err = errors.New("boom")
	w := New(svc)
	if err := w.Open(context.Background(), "x.dcm", []byte("x")); err == nil {
		t.Fatal("Open should fail")
	}
	st := w.Status()
	if st.State != StateError {
		t.Errorf("State = %v, want %v", st.State, StateError)
	}
	if got := st.String(); got != "Error: boom" {
		t.Errorf("Status line = %q", got)
	}
}

func TestOpen_InFlight(t *testing.T) {
	svc := newLocalService()
	svc.block = make(chan struct{})
	w := New(svc)
	data := sampleFile(t, "CT")

	done := make(chan error, 1)
	go func() { done <- w.Open(context.Background(), "a.dcm", data) }()

	deadline := time.Now().Add(2 * time.Second)
	for w.Status().State != StateLoading {
		if time.Now().After(deadline) {
			t.Fatal("workspace never entered the loading state")
		}
		time.Sleep(time.Millisecond)
	}
	if got := w.Status().String(); got != "Loading..." {
		t.Errorf("Status line = %q", got)
	}
	if err := w.Open(context.Background(), "b.dcm", data); !errors.Is(err, ErrAnalyzeInFlight) {
		t.Errorf("second Open error = %v, want %v", err, ErrAnalyzeInFlight)
	}

	close(svc.block)
	if err := <-done; err != nil {
		t.Fatalf("first Open returned error: %v", err)
	}
	if st := w.Status(); st.State != StateReady || st.FileName != "a.dcm" {
		t.Errorf("Status = %+v", st)
	}
}

func TestEditAndExport(t *testing.T) {
	w := openSample(t, "CT")

	if err := w.Set("(0010,0010)", tags.String("Edited^Name")); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if got := w.Status().Modified; got != 1 {
		t.Errorf("Modified = %d, want 1", got)
	}

	resp, truncated, err := w.Export(context.Background())
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if len(truncated) != 0 {
		t.Errorf("truncated = %v, want none", truncated)
	}
	line := w.Status().String()
	if !strings.Contains(line, "1 tag modified") || !strings.Contains(line, "generated "+resp.SaveName()) {
		t.Errorf("Status line = %q", line)
	}

	data, err := resp.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	again := New(newLocalService())
	defer again.Close()
	if err := again.Open(context.Background(), resp.SaveName(), data); err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	n, ok := again.Edits().Tree().Find("(0010,0010)")
	if !ok || !n.Value.Equal(tags.String("Edited^Name")) {
		t.Errorf("PatientName after export = %v", n.Value)
	}
	if got, want := again.Analysis().PixelData.PixelDataBase64, w.Analysis().PixelData.PixelDataBase64; got != want {
		t.Error("pixel data changed across export")
	}

	w.Reset()
	if got := w.Status().Modified; got != 0 {
		t.Errorf("Modified after Reset = %d", got)
	}
}

// noisyPixels returns a 16-bit buffer of random samples, which PNG cannot
// compress much.
func noisyPixels(width, height int) api.PixelBuffer {
	rng := rand.New(rand.NewPCG(7, 11))
	raw := make([]byte, 2*width*height)
	for i := range raw {
		raw[i] = byte(rng.IntN(256))
	}
	return api.PixelBuffer{
		Width:                     width,
		Height:                    height,
		BitsAllocated:             16,
		BitsStored:                16,
		SamplesPerPixel:           1,
		PhotometricInterpretation: "MONOCHROME2",
		PixelRepresentation:       "0",
		PixelDataBase64:           base64.StdEncoding.EncodeToString(raw),
		HasPixelData:              true,
	}
}

func TestRenderCache(t *testing.T) {
	w := openSample(t, "CT")
	resp := w.Analysis()
	resp.PixelData = noisyPixels(256, 256)
	w.Load(resp)

	first, err := w.Render(pixel.FormatPNG)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if len(first) <= w.cache.maxChunk {
		t.Fatalf("raster of %d bytes fits in one entry, want a multi-chunk raster", len(first))
	}
	if got := w.cache.Len(); got != 1 {
		t.Errorf("cache entries = %d, want 1", got)
	}
	second, err := w.Render(pixel.FormatPNG)
	if err != nil || !bytes.Equal(first, second) {
		t.Errorf("cached Render = %d bytes, %v", len(second), err)
	}
	if w.cache.hits != 1 {
		t.Errorf("cache hits = %d, want 1", w.cache.hits)
	}

	if _, err := w.RenderViewport(64, 64, pixel.FormatPNG); err != nil {
		t.Fatalf("RenderViewport returned error: %v", err)
	}
	w.Renderer().ZoomIn()
	if _, err := w.RenderViewport(64, 64, pixel.FormatPNG); err != nil {
		t.Fatalf("RenderViewport returned error: %v", err)
	}
	if got := w.cache.Len(); got != 3 {
		t.Errorf("cache entries = %d, want 3", got)
	}

	w.SetPolicy(pixel.FixedRange())
	if w.cache.Len() != 0 {
		t.Error("policy change kept stale rasters")
	}
	w.Close()
	if w.cache.Len() != 0 || w.Renderer().Loaded() {
		t.Error("Close kept the raster")
	}
}

func TestRasterCache(t *testing.T) {
	c := newRasterCache(1024 * 1024)
	data := make([]byte, 5*c.maxChunk+17)
	for i := range data {
		data[i] = byte(i % 251)
	}
	key := []byte("full|auto|png")
	if err := c.Set(key, data); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	got, ok := c.Get(key)
	if !ok || !bytes.Equal(got, data) {
		t.Fatalf("Get = %d bytes, %v", len(got), ok)
	}

	c.fc.Del(chunkKey(key, 2))
	if _, ok := c.Get(key); ok {
		t.Error("a raster with a missing chunk was returned")
	}
	if c.Len() != 0 {
		t.Errorf("entries = %d after losing a chunk, want 0", c.Len())
	}
	if c.hits != 1 || c.misses != 1 {
		t.Errorf("hits = %d, misses = %d", c.hits, c.misses)
	}

	if err := c.Set([]byte("empty"), nil); err != nil {
		t.Fatal(err)
	}
	if got, ok := c.Get([]byte("empty")); !ok || len(got) != 0 {
		t.Errorf("empty raster = %v, %v", got, ok)
	}
}

func TestDecodeError(t *testing.T) {
	w := openSample(t, "CT")
	resp := w.Analysis()
	resp.PixelData.PixelDataBase64 = "AAAA"

	w.Load(resp)
	if _, err := w.Render(pixel.FormatPNG); !errors.Is(err, pixel.ErrInsufficientData) {
		t.Errorf("Render error = %v, want %v", err, pixel.ErrInsufficientData)
	}
	if len(w.Groups("")) == 0 {
		t.Error("decode error dropped the tags")
	}
	if got := w.Status().String(); !strings.Contains(got, "no image") {
		t.Errorf("Status line = %q", got)
	}
}

func TestWindowing(t *testing.T) {
	w := openSample(t, "CT")

	p, ok := w.FileWindow()
	if !ok {
		t.Fatal("FileWindow found no window tags")
	}
	if p.Mode != pixel.ModeWindow || p.Center != 40 || p.Width != 400 || p.Intercept != -1024 || p.Slope != 1 {
		t.Errorf("FileWindow = %+v", p)
	}

	if err := w.ApplyPreset("bone"); err != nil {
		t.Fatalf("ApplyPreset returned error: %v", err)
	}
	if p := w.Policy(); p.Center != 400 || p.Width != 2000 || p.Intercept != -1024 {
		t.Errorf("policy after preset = %+v", p)
	}
	if !w.Renderer().Loaded() {
		t.Error("preset dropped the raster")
	}
	if err := w.ApplyPreset("DEFAULT"); err == nil {
		t.Error("MR preset applied to a CT file")
	}
	for _, p := range w.Presets() {
		if p.Modality != "CT" {
			t.Errorf("preset %s/%s offered for CT", p.Modality, p.Name)
		}
	}
}
