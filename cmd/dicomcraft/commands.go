package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/mrsinham/dicomcraft/cmd/dicomcraft/tui"
	"github.com/mrsinham/dicomcraft/internal/api"
	"github.com/mrsinham/dicomcraft/internal/client"
	"github.com/mrsinham/dicomcraft/internal/config"
	"github.com/mrsinham/dicomcraft/internal/dicom"
	"github.com/mrsinham/dicomcraft/internal/logging"
	"github.com/mrsinham/dicomcraft/internal/pixel"
	"github.com/mrsinham/dicomcraft/internal/server"
	"github.com/mrsinham/dicomcraft/internal/session"
	"github.com/mrsinham/dicomcraft/internal/tags"
	"github.com/mrsinham/dicomcraft/internal/util"
)

// globalFlags are accepted by every command that talks to the service.
type globalFlags struct {
	config string
	url    string
}

func newFlagSet(name, usage string) (*flag.FlagSet, *globalFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	g := &globalFlags{}
	fs.StringVar(&g.config, "config", "", "Load configuration from a YAML or TOML file")
	fs.StringVar(&g.url, "url", "", "Service base URL (overrides client.base_url)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  dicomcraft %s %s\n\nOptions:\n", name, usage)
		fs.PrintDefaults()
	}
	return fs, g
}

// parseArgs parses fs over args, allowing flags after positional arguments,
// and returns the positional arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func oneFile(fs *flag.FlagSet, positional []string) (string, error) {
	if len(positional) != 1 {
		fs.Usage()
		return "", fmt.Errorf("expected exactly one file, got %d arguments", len(positional))
	}
	return positional[0], nil
}

func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.config)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := logging.Setup(cfg.Log); err != nil {
		return nil, err
	}
	if g.url != "" {
		cfg.Client.BaseURL = g.url
	}
	return cfg, nil
}

func newClient(cfg *config.Config) (*client.Client, error) {
	timeout, err := cfg.Client.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	return client.New(cfg.Client.BaseURL, client.WithTimeout(timeout)), nil
}

func newWorkspace(cfg *config.Config) (*session.Workspace, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Display.Policy()
	if err != nil {
		return nil, err
	}
	return session.New(c, session.WithPolicy(policy)), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openFile(ctx context.Context, ws *session.Workspace, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return ws.Open(ctx, filepath.Base(path), data)
}

func runServe(args []string) error {
	fs, g := newFlagSet("serve", "[options]")
	addr := fs.String("addr", "", "Listen address (overrides server.address)")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Address = *addr
	}
	defer logging.Shutdown()

	ctx, stop := signalContext()
	defer stop()
	fmt.Printf("Serving %s on %s\n", cfg.Server.BasePath, cfg.Server.Address)
	return server.New(cfg.Server).ListenAndServe(ctx)
}

func runAnalyze(args []string) error {
	fs, g := newFlagSet("analyze", "<FILE> [options]")
	asJSON := fs.Bool("json", false, "Print the raw analysis response as JSON")
	search := fs.String("search", "", "Only list top-level tags whose name, id or value contains this text")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	file, err := oneFile(fs, positional)
	if err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	c, err := newClient(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	resp, err := c.AnalyzeFile(ctx, file)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printAnalysis(os.Stdout, resp, *search)
	return nil
}

func printAnalysis(w io.Writer, resp api.AnalysisResponse, query string) {
	fmt.Fprintf(w, "%s: %d tags\n", resp.FileName, len(resp.Tags))
	for _, g := range tags.FilterGroups(tags.GroupByCategory(resp.Tags), query) {
		fmt.Fprintf(w, "\n%s (%d)\n", g.Category, len(g.Nodes))
		_ = tags.Walk(g.Nodes, 0, func(n tags.Node, depth int) error {
			fmt.Fprintf(w, "%s%s %-32s %s %s\n", strings.Repeat("  ", depth), n.ID, n.Name, n.VR, n.Value.Text())
			return nil
		})
	}

	pb := resp.PixelData
	fmt.Fprintln(w)
	raw, err := pb.RawBytes()
	if err != nil {
		fmt.Fprintf(w, "Pixel data: none (%v)\n", err)
		return
	}
	fmt.Fprintf(w, "Pixel data: %dx%d, %d-bit (%d stored), %s, %s\n",
		pb.Width, pb.Height, pb.BitsAllocated, pb.BitsStored, pb.PhotometricInterpretation,
		humanize.Bytes(uint64(len(raw))))
}

func runRender(args []string) error {
	fs, g := newFlagSet("render", "<FILE> -o <IMAGE> [options]")
	out := fs.String("o", "", "Output image path (required)")
	window := fs.String("window", "", "Window: auto, fixed, file, CENTER/WIDTH or preset:NAME (default: display.window)")
	format := fs.String("format", "", "Image format: png, bmp, tiff (default: from the output extension)")
	width := fs.Int("width", 0, "Render a viewport this wide instead of the full image")
	height := fs.Int("height", 0, "Render a viewport this high instead of the full image")
	caption := fs.Bool("caption", false, "Draw the image geometry in the corner (full image only)")
	zoom := fs.Int("zoom", 0, "Zoom the viewport by this many 1.2x steps; negative zooms out")
	pan := fs.String("pan", "", "Pan the viewport by DX,DY pixels")
	stats := fs.Bool("stats", false, "Print sample statistics")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	file, err := oneFile(fs, positional)
	if err != nil {
		return err
	}
	if *out == "" {
		fs.Usage()
		return errors.New("-o is required")
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	f, err := outputFormat(*format, *out, cfg.Display.Format)
	if err != nil {
		return err
	}
	dx, dy, err := parsePan(*pan)
	if err != nil {
		return err
	}

	ws, err := newWorkspace(cfg)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx, stop := signalContext()
	defer stop()
	if err := openFile(ctx, ws, file); err != nil {
		return err
	}
	if err := applyWindow(ws, *window); err != nil {
		return err
	}
	if err := applyView(ws.Renderer(), *zoom, dx, dy); err != nil {
		return err
	}

	var data []byte
	switch {
	case *width > 0 || *height > 0 || *zoom != 0 || *pan != "":
		w, h := *width, *height
		if w <= 0 {
			w = cfg.Display.Width
		}
		if h <= 0 {
			h = cfg.Display.Height
		}
		data, err = ws.RenderViewport(w, h, f)
	case *caption || cfg.Display.Caption:
		data, err = renderCaptioned(ws, f)
	default:
		data, err = ws.Render(f)
	}
	if err != nil {
		return fmt.Errorf("rendering %s: %w", file, err)
	}
	if err := os.WriteFile(*out, data, 0644); err != nil {
		return err
	}

	geom := ws.Renderer().Geometry()
	fmt.Printf("✓ Rendered %s (%dx%d, window %s, %s)\n", *out, geom.Width, geom.Height, ws.Policy(), humanize.Bytes(uint64(len(data))))
	if *stats {
		st, err := ws.Renderer().Stats()
		if err != nil {
			return err
		}
		fmt.Printf("  %s\n", st)
	}
	return nil
}

// parsePan reads "DX,DY". An empty string is no pan.
func parsePan(s string) (dx, dy float64, err error) {
	if s == "" {
		return 0, 0, nil
	}
	x, y, ok := strings.Cut(s, ",")
	if ok {
		dx, err = strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	if ok && err == nil {
		dy, err = strconv.ParseFloat(strings.TrimSpace(y), 64)
	}
	if !ok || err != nil {
		return 0, 0, fmt.Errorf("invalid --pan %q, want DX,DY", s)
	}
	return dx, dy, nil
}

// applyView zooms by steps of pixel.ZoomStep and pans by (dx, dy) as one
// drag gesture.
func applyView(r *pixel.Renderer, zoom int, dx, dy float64) error {
	for ; zoom > 0; zoom-- {
		r.ZoomIn()
	}
	for ; zoom < 0; zoom++ {
		r.ZoomOut()
	}
	if dx == 0 && dy == 0 {
		return nil
	}
	r.BeginDrag()
	defer r.EndDrag()
	return r.Pan(dx, dy)
}

func outputFormat(flagValue, out, fallback string) (pixel.Format, error) {
	if flagValue != "" {
		return pixel.ParseFormat(flagValue)
	}
	if f, err := pixel.ParseFormat(strings.TrimPrefix(filepath.Ext(out), ".")); err == nil && filepath.Ext(out) != "" {
		return f, nil
	}
	return pixel.ParseFormat(fallback)
}

// applyWindow switches the workspace to the named window. An empty
// name keeps the configured policy.
func applyWindow(ws *session.Workspace, name string) error {
	switch {
	case name == "":
		return nil
	case strings.EqualFold(name, "file"):
		p, ok := ws.FileWindow()
		if !ok {
			return errors.New("the file has no WindowCenter/WindowWidth")
		}
		ws.SetPolicy(p)
		return nil
	case len(name) > len("preset:") && strings.EqualFold(name[:len("preset:")], "preset:"):
		return ws.ApplyPreset(name[len("preset:"):])
	}
	p, err := pixel.ParsePolicy(name)
	if err != nil {
		return err
	}
	ws.SetPolicy(p)
	return nil
}

func renderCaptioned(ws *session.Workspace, f pixel.Format) ([]byte, error) {
	r := ws.Renderer()
	photometric := ws.Analysis().PixelData.PhotometricInterpretation
	img, err := r.Caption(pixel.DefaultCaption(r.Geometry(), photometric))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := r.EncodeImage(&buf, img, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func runEdit(args []string) error {
	fs, g := newFlagSet("edit", "<FILE> [options]")
	out := fs.String("o", "", "Export destination (default: the generated file name)")
	bucket := fs.String("bucket", "", "Export into this bucket URL (overrides export.bucket)")
	preview := fs.String("preview", "", "Where 'v' saves the current view (default: <FILE>-view.png)")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	file, err := oneFile(fs, positional)
	if err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if cfg.Log.Logfile == "" {
		// Log lines on stderr would tear the full-screen editor.
		logging.SetOutput(io.Discard)
	}
	defer logging.Shutdown()

	ws, err := newWorkspace(cfg)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx, stop := signalContext()
	defer stop()
	saver, err := client.OpenSaver(ctx, orDefault(*bucket, cfg.Export.Bucket))
	if err != nil {
		return err
	}
	defer saver.Close()

	return tui.Run(ctx, ws, tui.Options{
		File:       file,
		Saver:      saver,
		Output:     *out,
		Preview:    *preview,
		ViewWidth:  cfg.Display.Width,
		ViewHeight: cfg.Display.Height,
	})
}

func runExport(args []string) error {
	fs, g := newFlagSet("export", "<FILE> --set Name=Value ... [-o OUT]")
	var sets []string
	fs.Func("set", "Set a tag: 'Name=Value' or '(GGGG,EEEE)=Value' (repeatable)", func(s string) error {
		sets = append(sets, s)
		return nil
	})
	out := fs.String("o", "", "Output path or bucket key (default: the generated file name)")
	bucket := fs.String("bucket", "", "Save into this bucket URL (overrides export.bucket)")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	file, err := oneFile(fs, positional)
	if err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	defer logging.Shutdown()

	ws, err := newWorkspace(cfg)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx, stop := signalContext()
	defer stop()
	if err := openFile(ctx, ws, file); err != nil {
		return err
	}
	if err := applySets(ws, sets); err != nil {
		return err
	}

	resp, truncated, err := ws.Export(ctx)
	if err != nil {
		return err
	}
	for _, id := range truncated {
		fmt.Fprintf(os.Stderr, "Warning: nested items below %s were dropped\n", id)
	}

	saver, err := client.OpenSaver(ctx, orDefault(*bucket, cfg.Export.Bucket))
	if err != nil {
		return err
	}
	defer saver.Close()
	where, n, err := saver.Save(ctx, resp, *out)
	if err != nil {
		return err
	}

	fmt.Printf("✓ %d tags modified\n", ws.Status().Modified)
	fmt.Printf("  Saved %s (%s)\n", where, humanize.Bytes(uint64(n)))
	return nil
}

// applySets applies "Name=Value" edits, resolving names against the file's
// own tags.
func applySets(ws *session.Workspace, sets []string) error {
	resolver := util.NewResolver(ws.Edits().Current())
	for _, s := range sets {
		name, value, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("invalid --set %q, want Name=Value", s)
		}
		id, err := resolver.Resolve(name)
		if err != nil {
			return err
		}
		if err := ws.Set(id, tags.String(value)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func runHealth(args []string) error {
	fs, g := newFlagSet("health", "[options]")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	msg, err := c.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", c.BaseURL(), msg)
	return nil
}

func runSample(args []string) error {
	fs := flag.NewFlagSet("sample", flag.ContinueOnError)
	out := fs.String("o", "sample.dcm", "Output file")
	modality := fs.String("modality", "CT", "Modality: CT or MR")
	width := fs.Int("width", 256, "Image width")
	height := fs.Int("height", 256, "Image height")
	seed := fs.Uint64("seed", 1, "Seed for reproducibility")
	patient := fs.String("patient", "", "Patient name in LAST^FIRST form (random if not specified)")
	variant := fs.String("variant", "", "Comma-separated extras: ge, philips, siemens, special-chars, long-names or all")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	variants, err := dicom.ParseVariants(*variant)
	if err != nil {
		return err
	}

	req, err := dicom.Sample(dicom.SampleOptions{
		Modality:    *modality,
		Width:       *width,
		Height:      *height,
		Seed:        *seed,
		PatientName: *patient,
		Variants:    variants,
	})
	if err != nil {
		return err
	}
	if err := dicom.NewGenerator().WriteFile(*out, req); err != nil {
		return err
	}
	info, err := os.Stat(*out)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Wrote %s sample %s (%s)\n", strings.ToUpper(*modality), *out, humanize.Bytes(uint64(info.Size())))
	return nil
}

func runGenerate(args []string) error {
	fs, g := newFlagSet("generate", "<REQUEST.json|-> [-o OUT]")
	out := fs.String("o", "", "Output path or bucket key (default: dicom_<millis>.dcm)")
	bucket := fs.String("bucket", "", "Save into this bucket URL (overrides export.bucket)")
	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	file, err := oneFile(fs, positional)
	if err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}

	var body []byte
	if file == "-" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(file)
	}
	if err != nil {
		return err
	}
	req, err := api.DecodeGenerationRequest(body)
	if err != nil {
		return err
	}
	resp := dicom.NewGenerator().Generate(req)
	if resp.GenerationStatus != api.StatusSuccess {
		return errors.New(resp.ErrorMessage)
	}

	ctx, stop := signalContext()
	defer stop()
	saver, err := client.OpenSaver(ctx, orDefault(*bucket, cfg.Export.Bucket))
	if err != nil {
		return err
	}
	defer saver.Close()
	where, n, err := saver.Save(ctx, resp, *out)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Generated %s (%s)\n", where, humanize.Bytes(uint64(n)))
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
