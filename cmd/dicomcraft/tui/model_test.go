package tui

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mrsinham/dicomcraft/internal/api"
	"github.com/mrsinham/dicomcraft/internal/client"
	"github.com/mrsinham/dicomcraft/internal/dicom"
	"github.com/mrsinham/dicomcraft/internal/session"
	"github.com/mrsinham/dicomcraft/internal/tags"
)

type localService struct {
	analyzer  *dicom.Analyzer
	generator *dicom.Generator
}

func (s localService) Analyze(ctx context.Context, name string, data []byte) (api.AnalysisResponse, error) {
	resp := s.analyzer.Analyze(bytes.NewReader(data), int64(len(data)), name)
	if resp.AnalysisStatus != api.StatusSuccess {
		return resp, errors.New(resp.ErrorMessage)
	}
	return resp, nil
}

func (s localService) Generate(ctx context.Context, req api.GenerationRequest) (api.GenerationResponse, error) {
	resp := s.generator.Generate(req)
	if resp.GenerationStatus != api.StatusSuccess {
		return resp, errors.New(resp.ErrorMessage)
	}
	return resp, nil
}

func newModel(t *testing.T, opts Options) *Model {
	t.Helper()
	req, err := dicom.Sample(dicom.SampleOptions{Modality: "CT", Width: 8, Height: 8, Seed: 1, PatientName: "Doe^Jane"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := dicom.NewGenerator().Build(req)
	if err != nil {
		t.Fatal(err)
	}
	ws := session.New(localService{analyzer: dicom.NewAnalyzer(), generator: dicom.NewGenerator()})
	t.Cleanup(ws.Close)
	if err := ws.Open(context.Background(), "sample.dcm", data); err != nil {
		t.Fatal(err)
	}
	return New(context.Background(), ws, opts)
}

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func press(m *Model, msgs ...tea.Msg) {
	for _, msg := range msgs {
		m.Update(msg)
	}
}

func typeText(m *Model, s string) {
	for _, r := range s {
		m.Update(runes(string(r)))
	}
}

// cursorTo moves the cursor down to the top-level tag id.
func cursorTo(t *testing.T, m *Model, id string) {
	t.Helper()
	for i := 0; i < len(m.rows); i++ {
		r := m.rows[m.cursor]
		if !r.header && r.node.ID == id {
			return
		}
		press(m, tea.KeyMsg{Type: tea.KeyDown})
	}
	t.Fatalf("tag %s not reachable", id)
}

func TestRows(t *testing.T) {
	m := newModel(t, Options{})
	if len(m.rows) == 0 || !m.rows[0].header {
		t.Fatalf("rows = %+v, want a group header first", m.rows)
	}

	var items, nested int
	for _, r := range m.rows {
		switch {
		case r.item > 0:
			items++
		case r.depth > 1:
			nested++
		}
	}
	if items != 1 || nested == 0 {
		t.Errorf("items = %d, nested = %d, want the sample sequence expanded", items, nested)
	}

	first := m.rows[0].category
	press(m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.collapsed[first] {
		t.Fatal("enter on a header did not collapse the group")
	}
	if len(m.rows) > 1 && m.rows[1].category == first && !m.rows[1].header {
		t.Error("collapsed group still lists its tags")
	}
}

func TestCursorSkipsNestedRows(t *testing.T) {
	m := newModel(t, Options{})
	for i := 0; i < len(m.rows); i++ {
		press(m, tea.KeyMsg{Type: tea.KeyDown})
		if !m.rows[m.cursor].selectable() {
			t.Fatalf("cursor landed on %+v", m.rows[m.cursor])
		}
	}
	press(m, tea.KeyMsg{Type: tea.KeyUp})
	if !m.rows[m.cursor].selectable() {
		t.Fatalf("cursor landed on %+v", m.rows[m.cursor])
	}
}

func TestSearch(t *testing.T) {
	m := newModel(t, Options{})
	press(m, runes("/"))
	if m.mode != modeSearch {
		t.Fatalf("mode = %v, want search", m.mode)
	}
	typeText(m, "doe^jane")
	var tagRows int
	for _, r := range m.rows {
		if !r.header && r.depth == 1 {
			tagRows++
			if r.node.ID != "(0010,0010)" {
				t.Errorf("unexpected match %s", r.node.ID)
			}
		}
	}
	if tagRows != 1 {
		t.Errorf("search kept %d tags, want 1", tagRows)
	}

	press(m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.mode != modeBrowse || m.search.Value() != "" {
		t.Error("esc did not clear the search")
	}

	press(m, runes("/"))
	typeText(m, "no such tag anywhere")
	if len(m.rows) != 0 {
		t.Errorf("rows = %d, want none", len(m.rows))
	}
	if !strings.Contains(m.View(), "No tags match") {
		t.Error("empty result is not reported")
	}
}

func TestEdit(t *testing.T) {
	m := newModel(t, Options{})
	cursorTo(t, m, "(0010,0010)")

	press(m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.mode != modeEdit || m.input.Value() != "Doe^Jane" {
		t.Fatalf("mode = %v, input = %q", m.mode, m.input.Value())
	}
	press(m, tea.KeyMsg{Type: tea.KeyBackspace})
	typeText(m, "ohn")
	press(m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.err != nil {
		t.Fatalf("edit error: %v", m.err)
	}
	n, _ := m.ws.Edits().Tree().Find("(0010,0010)")
	if !n.Value.Equal(tags.String("Doe^Janohn")) {
		t.Errorf("PatientName = %v", n.Value)
	}
	if got := m.ws.Status().Modified; got != 1 {
		t.Errorf("modified = %d, want 1", got)
	}
	if !strings.Contains(m.View(), "1 tag modified") {
		t.Error("status bar does not show the edit")
	}

	press(m, runes("r"))
	if got := m.ws.Status().Modified; got != 0 {
		t.Errorf("modified after reset = %d", got)
	}
}

func TestEditSequenceRefused(t *testing.T) {
	m := newModel(t, Options{})
	for i := 0; i < len(m.rows); i++ {
		if r := m.rows[m.cursor]; !r.header && r.node.IsSequence() {
			break
		}
		press(m, tea.KeyMsg{Type: tea.KeyDown})
	}
	press(m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.mode != modeBrowse || !errors.Is(m.err, tags.ErrSequenceValue) {
		t.Errorf("mode = %v, err = %v", m.mode, m.err)
	}
}

func TestExport(t *testing.T) {
	out := filepath.Join(t.TempDir(), "edited.dcm")
	saver, err := client.OpenSaver(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	m := newModel(t, Options{Saver: saver, Output: out})

	press(m, runes("x"))
	if m.mode != modeConfirm || m.confirm == nil {
		t.Fatalf("mode = %v, want confirm", m.mode)
	}
	press(m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.mode != modeBrowse {
		t.Fatal("esc did not cancel the export")
	}

	msg := m.exportCmd()()
	done, ok := msg.(exportedMsg)
	if !ok || done.err != nil {
		t.Fatalf("export = %+v", msg)
	}
	if done.where != out || done.size == 0 {
		t.Errorf("export = %+v", done)
	}
	press(m, done)
	if !strings.Contains(m.message, "Saved "+out) {
		t.Errorf("message = %q", m.message)
	}
	if !strings.Contains(m.ws.Status().String(), "generated") {
		t.Error("status does not report the generated file")
	}
}

func TestWindowPresets(t *testing.T) {
	m := newModel(t, Options{})
	press(m, runes("w"))
	if m.err != nil {
		t.Fatalf("preset error: %v", m.err)
	}
	if !strings.HasPrefix(m.message, "Window: CT ") {
		t.Errorf("message = %q", m.message)
	}
	press(m, runes("a"))
	if m.message != "Window: auto" {
		t.Errorf("message = %q", m.message)
	}
}

func TestViewKeys(t *testing.T) {
	preview := filepath.Join(t.TempDir(), "view.png")
	m := newModel(t, Options{Preview: preview, ViewWidth: 16, ViewHeight: 16})

	press(m, runes("+"), runes("+"))
	if m.message != "View: 1.44x, offset (0, 0)" {
		t.Errorf("zoom message = %q", m.message)
	}
	press(m, runes("L"), runes("J"))
	if m.message != "View: 1.44x, offset (16, 16)" {
		t.Errorf("pan message = %q", m.message)
	}
	if v := m.ws.Renderer().View(); v.Dragging() {
		t.Error("pan key left a drag open")
	}

	press(m, runes("v"))
	if m.err != nil {
		t.Fatalf("save view: %v", m.err)
	}
	zoomed, err := os.ReadFile(preview)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(zoomed, []byte("\x89PNG")) {
		t.Error("saved view is not a PNG")
	}

	press(m, runes("0"))
	if m.message != "View: 1.00x, offset (0, 0)" {
		t.Errorf("reset message = %q", m.message)
	}
	press(m, runes("v"))
	plain, err := os.ReadFile(preview)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(plain, zoomed) {
		t.Error("saved view ignores zoom and pan")
	}
}

func TestOpenCmd(t *testing.T) {
	ws := session.New(localService{analyzer: dicom.NewAnalyzer(), generator: dicom.NewGenerator()})
	defer ws.Close()
	m := New(context.Background(), ws, Options{File: filepath.Join(t.TempDir(), "missing.dcm")})
	if !strings.Contains(m.View(), "No file loaded") {
		t.Error("empty workspace status not shown")
	}
	msg := m.Init()()
	press(m, msg)
	if m.err == nil {
		t.Error("opening a missing file should report an error")
	}
}
