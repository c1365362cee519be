package session

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// State is the load state shown in the status bar.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "Loading..."
	case StateReady:
		return "Ready"
	case StateError:
		return "Error"
	default:
		return "No file loaded"
	}
}

// Status is a snapshot of the workspace for display.
type Status struct {
	State         State
	FileName      string
	Modified      int
	Err           error
	PixelErr      error
	GeneratedName string
	GeneratedSize int64
}

// String renders the status bar line, e.g.
// "Ready | ct.dcm | 2 tags modified | generated dicom_1.dcm (1.2 kB)".
func (s Status) String() string {
	parts := []string{s.State.String()}
	if s.State == StateError && s.Err != nil {
		parts[0] = fmt.Sprintf("Error: %v", s.Err)
	}
	if s.FileName != "" {
		parts = append(parts, s.FileName)
	}
	if s.Modified > 0 {
		if s.Modified == 1 {
			parts = append(parts, "1 tag modified")
		} else {
			parts = append(parts, fmt.Sprintf("%d tags modified", s.Modified))
		}
	}
	if s.PixelErr != nil {
		parts = append(parts, "no image")
	}
	if s.GeneratedName != "" {
		parts = append(parts, fmt.Sprintf("generated %s (%s)", s.GeneratedName, humanize.Bytes(uint64(s.GeneratedSize))))
	}
	return strings.Join(parts, " | ")
}

// Status returns the current status snapshot.
func (w *Workspace) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Status{
		State:    w.state,
		FileName: w.analysis.FileName,
		Err:      w.lastErr,
		PixelErr: w.pixelErr,
	}
	if w.edits != nil {
		st.Modified = w.edits.ModifiedCount()
	}
	if w.generated != nil {
		st.GeneratedName = w.generated.SaveName()
		st.GeneratedSize = w.generated.FileSize
	}
	return st
}
