// Package tui is the interactive tag editor of dicomcraft.
package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/mrsinham/dicomcraft/internal/client"
	"github.com/mrsinham/dicomcraft/internal/pixel"
	"github.com/mrsinham/dicomcraft/internal/session"
	"github.com/mrsinham/dicomcraft/internal/tags"
)

// mode is what the keyboard currently drives.
type mode int

const (
	modeBrowse mode = iota
	modeSearch
	modeEdit
	modeConfirm
)

// chrome is the number of lines around the tag list.
const chrome = 7

// panStep is how far one pan key moves the view, in viewport pixels.
const panStep = 16

// Options configures the editor.
type Options struct {
	// File is analyzed on start. Leave empty when the workspace is already
	// loaded.
	File string
	// Saver receives exported files. Nil writes local paths.
	Saver *client.Saver
	// Output is the export destination. Empty uses the server's file name.
	Output string
	// Preview is where "v" writes the current view as PNG. Empty uses
	// <file>-view.png in the working directory.
	Preview string
	// ViewWidth and ViewHeight size the saved view. Zero means 512.
	ViewWidth  int
	ViewHeight int
}

// analyzedMsg reports the end of an analyze started by the editor.
type analyzedMsg struct {
	err error
}

// exportedMsg reports the end of an export.
type exportedMsg struct {
	where     string
	size      int
	truncated []string
	err       error
}

// row is one line of the tag list.
type row struct {
	header   bool
	category tags.Category
	count    int

	node  tags.Node
	item  int // sequence item number, 0 for tag rows
	depth int // 1 for top-level tags
}

// editable rows are group headers (toggle) and top-level tags.
func (r row) selectable() bool {
	return r.header || (r.item == 0 && r.depth == 1)
}

// Model is the bubbletea model of the editor.
type Model struct {
	ctx  context.Context
	ws   *session.Workspace
	opts Options

	mode      mode
	search    textinput.Model
	input     textinput.Model
	list      viewport.Model
	confirm   *huh.Form
	doExport  bool
	editID    string
	rows      []row
	cursor    int
	collapsed map[tags.Category]bool
	preset    int

	message string
	err     error
	width   int
	height  int
	quit    bool
}

// New returns an editor over ws.
func New(ctx context.Context, ws *session.Workspace, opts Options) *Model {
	search := textinput.New()
	search.Placeholder = "name, id or value"
	search.Prompt = "Search: "

	input := textinput.New()
	input.Prompt = "> "

	if opts.Saver == nil {
		opts.Saver, _ = client.OpenSaver(ctx, "")
	}

	m := &Model{
		ctx:       ctx,
		ws:        ws,
		opts:      opts,
		search:    search,
		input:     input,
		list:      viewport.New(80, 20),
		collapsed: make(map[tags.Category]bool),
		preset:    -1,
	}
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	if m.opts.File == "" {
		return nil
	}
	return m.openCmd(m.opts.File)
}

func (m *Model) openCmd(path string) tea.Cmd {
	ctx, ws := m.ctx, m.ws
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		if err != nil {
			return analyzedMsg{err: err}
		}
		return analyzedMsg{err: ws.Open(ctx, filepath.Base(path), data)}
	}
}

func (m *Model) exportCmd() tea.Cmd {
	ctx, ws, saver, out := m.ctx, m.ws, m.opts.Saver, m.opts.Output
	return func() tea.Msg {
		resp, truncated, err := ws.Export(ctx)
		if err != nil {
			return exportedMsg{err: err}
		}
		where, n, err := saver.Save(ctx, resp, out)
		return exportedMsg{where: where, size: n, truncated: truncated, err: err}
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.Width = msg.Width
		m.list.Height = max(msg.Height-chrome, 3)
		m.refresh()
		return m, nil

	case analyzedMsg:
		m.err = msg.err
		m.message = ""
		m.cursor = 0
		m.refresh()
		return m, nil

	case exportedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.message = fmt.Sprintf("Saved %s (%s)", msg.where, humanize.Bytes(uint64(msg.size)))
			if len(msg.truncated) > 0 {
				m.message += fmt.Sprintf("; nested items below %s were dropped", strings.Join(msg.truncated, ", "))
			}
		}
		return m, nil
	}

	switch m.mode {
	case modeConfirm:
		return m.updateConfirm(msg)
	case modeSearch:
		return m.updateSearch(msg)
	case modeEdit:
		return m.updateEdit(msg)
	}
	return m.updateBrowse(msg)
}

func (m *Model) updateBrowse(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch key.String() {
	case "ctrl+c", "q":
		m.quit = true
		return m, tea.Quit
	case "up", "k":
		m.move(-1)
	case "down", "j":
		m.move(1)
	case "/":
		m.mode = modeSearch
		return m, m.search.Focus()
	case "enter":
		return m, m.activate()
	case "r":
		m.ws.Reset()
		m.message = "Edits discarded"
		m.refresh()
	case "x":
		if !m.ws.Loaded() {
			m.err = session.ErrNoFile
			return m, nil
		}
		return m, m.startConfirm()
	case "w":
		m.nextPreset()
	case "a":
		m.ws.SetPolicy(pixel.AutoWindow())
		m.message = "Window: auto"
	case "+", "=":
		m.ws.Renderer().ZoomIn()
		m.viewMessage()
	case "-":
		m.ws.Renderer().ZoomOut()
		m.viewMessage()
	case "0":
		m.ws.Renderer().ResetView()
		m.viewMessage()
	case "H":
		m.pan(-panStep, 0)
	case "L":
		m.pan(panStep, 0)
	case "K":
		m.pan(0, -panStep)
	case "J":
		m.pan(0, panStep)
	case "v":
		m.saveView()
	}
	return m, nil
}

func (m *Model) viewMessage() {
	v := m.ws.Renderer().View()
	m.message = fmt.Sprintf("View: %.2fx, offset (%g, %g)", v.Scale, v.OffsetX, v.OffsetY)
}

// pan moves the view as one complete drag gesture.
func (m *Model) pan(dx, dy float64) {
	r := m.ws.Renderer()
	r.BeginDrag()
	defer r.EndDrag()
	if err := r.Pan(dx, dy); err != nil {
		m.err = err
		return
	}
	m.viewMessage()
}

// saveView writes the current window, zoom and pan as a PNG.
func (m *Model) saveView() {
	w, h := m.opts.ViewWidth, m.opts.ViewHeight
	if w <= 0 {
		w = 512
	}
	if h <= 0 {
		h = 512
	}
	data, err := m.ws.RenderViewport(w, h, pixel.FormatPNG)
	if err != nil {
		m.err = err
		return
	}
	path := m.opts.Preview
	if path == "" {
		name := filepath.Base(m.ws.Status().FileName)
		path = strings.TrimSuffix(name, filepath.Ext(name)) + "-view.png"
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.message = fmt.Sprintf("Saved view %s (%s)", path, humanize.Bytes(uint64(len(data))))
}

// activate toggles a group or starts editing a tag.
func (m *Model) activate() tea.Cmd {
	if m.cursor >= len(m.rows) {
		return nil
	}
	r := m.rows[m.cursor]
	if r.header {
		m.collapsed[r.category] = !m.collapsed[r.category]
		m.refresh()
		return nil
	}
	if r.node.IsSequence() {
		m.err = fmt.Errorf("%s: %w", r.node.Name, tags.ErrSequenceValue)
		return nil
	}
	m.mode = modeEdit
	m.editID = r.node.ID
	m.input.SetValue(r.node.Value.Text())
	m.input.CursorEnd()
	return m.input.Focus()
}

func (m *Model) updateSearch(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c":
			m.quit = true
			return m, tea.Quit
		case "esc":
			m.search.SetValue("")
			fallthrough
		case "enter":
			m.search.Blur()
			m.mode = modeBrowse
			m.cursor = 0
			m.refresh()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	m.cursor = 0
	m.refresh()
	return m, cmd
}

func (m *Model) updateEdit(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c":
			m.quit = true
			return m, tea.Quit
		case "esc":
			m.input.Blur()
			m.mode = modeBrowse
			return m, nil
		case "enter":
			m.input.Blur()
			m.mode = modeBrowse
			m.err = m.ws.Set(m.editID, tags.String(m.input.Value()))
			m.refresh()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) startConfirm() tea.Cmd {
	m.mode = modeConfirm
	m.doExport = true
	dest := m.opts.Output
	if dest == "" {
		dest = "the generated file name"
	}
	m.confirm = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Export edited file?").
				Description(fmt.Sprintf("%d tags modified, saving to %s", m.ws.Status().Modified, dest)).
				Affirmative("Export").
				Negative("Cancel").
				Value(&m.doExport),
		),
	).WithShowHelp(false)
	return m.confirm.Init()
}

func (m *Model) updateConfirm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "esc" {
		m.mode = modeBrowse
		return m, nil
	}
	form, cmd := m.confirm.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.confirm = f
	}
	switch m.confirm.State {
	case huh.StateCompleted:
		m.mode = modeBrowse
		if m.doExport {
			m.message = "Exporting..."
			return m, m.exportCmd()
		}
		return m, nil
	case huh.StateAborted:
		m.mode = modeBrowse
		return m, nil
	}
	return m, cmd
}

// nextPreset cycles through the window presets of the file's modality.
func (m *Model) nextPreset() {
	presets := m.ws.Presets()
	if len(presets) == 0 {
		m.message = "No window presets for this modality"
		return
	}
	m.preset = (m.preset + 1) % len(presets)
	p := presets[m.preset]
	if err := m.ws.ApplyPreset(p.Name); err != nil {
		m.err = err
		return
	}
	m.message = fmt.Sprintf("Window: %s %s (%g/%g)", p.Modality, p.Name, p.Center, p.Width)
}

// move steps the cursor over selectable rows.
func (m *Model) move(delta int) {
	for i := m.cursor + delta; i >= 0 && i < len(m.rows); i += delta {
		if m.rows[i].selectable() {
			m.cursor = i
			break
		}
	}
	m.scrollToCursor()
}

func (m *Model) scrollToCursor() {
	switch {
	case m.cursor < m.list.YOffset:
		m.list.SetYOffset(m.cursor)
	case m.cursor >= m.list.YOffset+m.list.Height:
		m.list.SetYOffset(m.cursor - m.list.Height + 1)
	}
}

// refresh rebuilds the rows from the workspace and the search query.
func (m *Model) refresh() {
	m.rows = buildRows(m.ws.Groups(m.search.Value()), m.collapsed)
	if m.cursor >= len(m.rows) {
		m.cursor = max(len(m.rows)-1, 0)
	}
	m.list.SetContent(m.renderRows())
	m.scrollToCursor()
}

func buildRows(groups []tags.Group, collapsed map[tags.Category]bool) []row {
	var rows []row
	for _, g := range groups {
		rows = append(rows, row{header: true, category: g.Category, count: len(g.Nodes)})
		if collapsed[g.Category] {
			continue
		}
		for _, n := range g.Nodes {
			rows = appendNode(rows, n, 1)
		}
	}
	return rows
}

func appendNode(rows []row, n tags.Node, depth int) []row {
	rows = append(rows, row{node: n, depth: depth})
	for _, it := range n.Children {
		rows = append(rows, row{node: n, item: it.Number, depth: depth + 1})
		for _, child := range it.Tags {
			rows = appendNode(rows, child, depth+2)
		}
	}
	return rows
}

func (m *Model) renderRows() string {
	if len(m.rows) == 0 {
		if m.search.Value() != "" {
			return hintStyle.Render("No tags match the search.")
		}
		return hintStyle.Render("No tags.")
	}
	edits := m.ws.Edits()
	lines := make([]string, len(m.rows))
	for i, r := range m.rows {
		prefix := "  "
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
		}
		lines[i] = prefix + m.renderRow(r, edits)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderRow(r row, edits *tags.EditSession) string {
	if r.header {
		arrow := "▾"
		if m.collapsed[r.category] {
			arrow = "▸"
		}
		return groupStyle.Render(fmt.Sprintf("%s %s (%d)", arrow, r.category, r.count))
	}
	indent := strings.Repeat("  ", r.depth)
	if r.item > 0 {
		return nestedStyle.Render(fmt.Sprintf("%sItem %d", indent, r.item))
	}
	line := fmt.Sprintf("%s%s %s [%s] %s", indent, r.node.ID, r.node.Name, r.node.VR, r.node.Value.Text())
	switch {
	case r.depth > 1:
		return nestedStyle.Render(line)
	case edits != nil && edits.IsModified(r.node.ID):
		return modifiedStyle.Render(line + " *")
	}
	return line
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quit {
		return ""
	}
	title := "DICOM Craft"
	if name := m.ws.Status().FileName; name != "" {
		title += ": " + name
	}

	parts := []string{titleStyle.Render(title)}
	if m.mode == modeSearch || m.search.Value() != "" {
		parts = append(parts, m.search.View())
	}
	parts = append(parts, m.list.View())

	switch m.mode {
	case modeEdit:
		parts = append(parts, "Edit "+m.editID+" "+m.input.View())
	case modeConfirm:
		parts = append(parts, m.confirm.View())
	}

	if m.err != nil {
		parts = append(parts, errorStyle.Render("Error: "+m.err.Error()))
	} else if m.message != "" {
		parts = append(parts, m.message)
	}
	parts = append(parts,
		statusStyle.Render(m.ws.Status().String()),
		hintStyle.Render("↑/↓ move | enter edit/toggle | / search | r reset | w window | +/-/0 zoom | HJKL pan | v save view | x export | q quit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// Run starts the editor and blocks until it quits.
func Run(ctx context.Context, ws *session.Workspace, opts Options) error {
	p := tea.NewProgram(New(ctx, ws, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running editor: %w", err)
	}
	return nil
}
