// Package dicom implements the reference analyze and generate services on top
// of github.com/suyashkumar/dicom: analysis turns a Part 10 file into the tag
// tree and pixel buffer the editor works on, and generation writes an edited
// tree back out as a new file.
package dicom

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/dicomcraft/internal/api"
	"github.com/mrsinham/dicomcraft/internal/logging"
	"github.com/mrsinham/dicomcraft/internal/pixel"
	"github.com/mrsinham/dicomcraft/internal/tags"
	"github.com/mrsinham/dicomcraft/internal/util"
)

// DefaultMaxInlinePixelBytes is the largest pixel buffer inlined in an
// analysis response.
const DefaultMaxInlinePixelBytes = 1024 * 1024

// metaGroup holds the file meta information, which is regenerated on write
// and never shown to the editor.
const metaGroup = 0x0002

// Defaults of the pixel module when the file omits an attribute.
const (
	defaultSamplesPerPixel     = 1
	defaultPhotometric         = "UNKNOWN"
	defaultPixelRepresentation = "0"
)

// Analyzer converts DICOM files into analysis responses.
type Analyzer struct {
	// MaxInlinePixelBytes bounds the pixel data copied into the response.
	// Zero means DefaultMaxInlinePixelBytes.
	MaxInlinePixelBytes int64
	// ConvertImage attaches a PNG rendering of the pixel data.
	ConvertImage bool
	// Tolerant keeps the elements read before a parse error instead of
	// failing the whole file.
	Tolerant bool
}

// NewAnalyzer returns an Analyzer with the default inline limit that renders
// converted images.
func NewAnalyzer() *Analyzer {
	return &Analyzer{MaxInlinePixelBytes: DefaultMaxInlinePixelBytes, ConvertImage: true}
}

// Analyze parses size bytes of r. Failures are reported in the response with
// status ERROR rather than as a Go error, matching the wire contract.
func (a *Analyzer) Analyze(r io.Reader, size int64, fileName string) api.AnalysisResponse {
	tl := logging.NewTimeLog()
	resp := api.AnalysisResponse{FileName: fileName, Tags: []tags.Node{}}

	ds, err := a.parse(r, size)
	if err != nil {
		logging.Warningf("analysis of %q failed: %v", fileName, err)
		resp.AnalysisStatus = api.StatusError
		resp.ErrorMessage = fmt.Sprintf("Failed to parse DICOM file: %v", err)
		return resp
	}

	for _, elem := range ds.Elements {
		if elem.Tag.Group == metaGroup {
			continue
		}
		resp.Tags = append(resp.Tags, nodeFromElement(elem))
	}
	resp.PixelData = a.pixelBuffer(ds)
	resp.AnalysisStatus = api.StatusSuccess

	tl.Debugf("analyzed %q: %d tags, %s", fileName, len(resp.Tags), humanize.Bytes(uint64(size)))
	return resp
}

func (a *Analyzer) parse(r io.Reader, size int64) (dicom.Dataset, error) {
	opts := []dicom.ParseOption{dicom.SkipProcessingPixelDataValue()}
	if !a.Tolerant {
		return dicom.Parse(r, size, nil, opts...)
	}
	return parseTolerant(r, size, opts...)
}

// parseTolerant parses element by element and keeps everything read before
// the first error.
func parseTolerant(r io.Reader, size int64, opts ...dicom.ParseOption) (dicom.Dataset, error) {
	p, err := dicom.NewParser(r, size, nil, opts...)
	if err != nil {
		return dicom.Dataset{}, err
	}

	var elements []*dicom.Element
	for {
		elem, err := p.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Debugf("tolerant parse stopped after %d elements: %v", len(elements), err)
			}
			break
		}
		elements = append(elements, elem)
	}
	if len(elements) == 0 {
		return dicom.Dataset{}, errors.New("no elements parsed")
	}

	meta := p.GetMetadata()
	return dicom.Dataset{Elements: append(meta.Elements, elements...)}, nil
}

// nodeFromElement converts one element, recursing into sequence items.
func nodeFromElement(elem *dicom.Element) tags.Node {
	vr := elem.RawValueRepresentation
	n := tags.Node{
		ID:            util.FormatTagID(elem.Tag),
		Name:          util.TagName(elem.Tag),
		VR:            vr,
		VRDescription: tags.DescribeVR(vr),
		Value:         tags.Null(),
	}
	if elem.Value == nil {
		return n
	}

	switch v := elem.Value.GetValue().(type) {
	case []*dicom.SequenceItemValue:
		n.Value = tags.Sequence(len(v))
		n.Children = make([]tags.Item, 0, len(v))
		for i, item := range v {
			it := tags.Item{Number: i + 1, Tags: []tags.Node{}}
			if children, ok := item.GetValue().([]*dicom.Element); ok {
				for _, child := range children {
					it.Tags = append(it.Tags, nodeFromElement(child))
				}
			}
			n.Children = append(n.Children, it)
		}
	case []string:
		n.Value = tags.String(joinStrings(v))
	case []int:
		n.Value = intValue(vr, v)
	case []float64:
		if len(v) > 0 {
			n.Value = floatValue(vr, v[0])
		}
	case []byte:
		n.Value = binaryValue(len(v))
	case dicom.PixelDataInfo:
		n.Value = binaryValue(pixelDataLength(v))
	}
	return n
}

// joinStrings joins a multi-valued string with backslashes, dropping the
// padding that makes odd-length values even on disk.
func joinStrings(v []string) string {
	parts := make([]string, len(v))
	for i, s := range v {
		parts[i] = strings.TrimRight(s, " \x00")
	}
	return strings.Join(parts, `\`)
}

func intValue(vr string, v []int) tags.Value {
	if len(v) == 0 {
		return tags.Null()
	}
	if vr == "AT" {
		if len(v) >= 2 {
			return tags.String(fmt.Sprintf("(%04X,%04X)", v[0], v[1]))
		}
		return tags.String(fmt.Sprintf("(%04X,%04X)", uint32(v[0])>>16, v[0]&0xFFFF))
	}
	return tags.Int(int64(v[0]))
}

// floatValue keeps FL values at single precision so 0.1 stays 0.1.
func floatValue(vr string, f float64) tags.Value {
	bits := 64
	if vr == "FL" || vr == "OF" {
		bits = 32
	}
	return tags.Number(json.Number(strconv.FormatFloat(f, 'g', -1, bits)))
}

func binaryValue(n int) tags.Value {
	return tags.String(fmt.Sprintf("Binary data (%d bytes)", n))
}

func pixelDataLength(info dicom.PixelDataInfo) int {
	if info.IntentionallyUnprocessed {
		return len(info.UnprocessedValueData)
	}
	n := 0
	for _, f := range info.Frames {
		if f.Encapsulated {
			n += len(f.EncapsulatedData.Data)
		}
	}
	return n
}

// pixelBuffer extracts the pixel module of ds.
func (a *Analyzer) pixelBuffer(ds dicom.Dataset) api.PixelBuffer {
	pb := api.PixelBuffer{
		Width:                     intAttr(ds, tag.Columns, 0),
		Height:                    intAttr(ds, tag.Rows, 0),
		BitsAllocated:             intAttr(ds, tag.BitsAllocated, 0),
		BitsStored:                intAttr(ds, tag.BitsStored, 0),
		SamplesPerPixel:           intAttr(ds, tag.SamplesPerPixel, defaultSamplesPerPixel),
		PhotometricInterpretation: stringAttr(ds, tag.PhotometricInterpretation, defaultPhotometric),
		PixelRepresentation:       defaultPixelRepresentation,
	}
	if n := intAttr(ds, tag.PixelRepresentation, -1); n >= 0 {
		pb.PixelRepresentation = strconv.Itoa(n)
	}

	raw, ok := rawPixelData(ds)
	if !ok {
		return pb
	}
	limit := a.MaxInlinePixelBytes
	if limit <= 0 {
		limit = DefaultMaxInlinePixelBytes
	}
	if int64(len(raw)) > limit {
		logging.Infof("pixel data of %s exceeds the inline limit of %s, not inlined",
			humanize.Bytes(uint64(len(raw))), humanize.Bytes(uint64(limit)))
		return pb
	}

	pb.PixelDataBase64 = base64.StdEncoding.EncodeToString(raw)
	pb.HasPixelData = true

	if a.ConvertImage {
		png, err := convertToPNG(raw, pb, ds)
		if err != nil {
			logging.Debugf("no converted image: %v", err)
			return pb
		}
		pb.ConvertedImageBase64 = base64.StdEncoding.EncodeToString(png)
		pb.HasConvertedImage = true
	}
	return pb
}

// rawPixelData returns the native pixel bytes. Encapsulated (compressed)
// pixel data is reported as absent.
func rawPixelData(ds dicom.Dataset) ([]byte, bool) {
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil || elem.Value == nil {
		return nil, false
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		if b, ok := elem.Value.GetValue().([]byte); ok && len(b) > 0 {
			return b, true
		}
		return nil, false
	}
	if info.IsEncapsulated {
		logging.Infof("encapsulated pixel data is not inlined")
		return nil, false
	}
	if !info.IntentionallyUnprocessed || len(info.UnprocessedValueData) == 0 {
		return nil, false
	}
	return info.UnprocessedValueData, true
}

// convertToPNG renders raw with the file's own VOI window when it has one,
// and auto-windows otherwise.
func convertToPNG(raw []byte, pb api.PixelBuffer, ds dicom.Dataset) ([]byte, error) {
	policy := pixel.AutoWindow()
	if c, ok := floatAttr(ds, tag.WindowCenter); ok {
		if w, ok := floatAttr(ds, tag.WindowWidth); ok {
			policy = pixel.Window(c, w)
			slope, hasSlope := floatAttr(ds, tag.RescaleSlope)
			intercept, _ := floatAttr(ds, tag.RescaleIntercept)
			if hasSlope {
				policy = policy.WithRescale(slope, intercept)
			}
		}
	}

	r := pixel.NewRenderer()
	defer r.Close()
	if err := r.Load(raw, pb.Geometry(), policy); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := r.Encode(&buf, pixel.FormatPNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func intAttr(ds dicom.Dataset, t tag.Tag, def int) int {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return def
	}
	switch v := elem.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0]
		}
	case []string:
		if len(v) > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(v[0])); err == nil {
				return n
			}
		}
	}
	return def
}

func stringAttr(ds dicom.Dataset, t tag.Tag, def string) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return def
	}
	if v, ok := elem.Value.GetValue().([]string); ok && len(v) > 0 {
		if s := strings.TrimSpace(v[0]); s != "" {
			return s
		}
	}
	return def
}

// floatAttr reads the first value of a DS or floating point attribute.
func floatAttr(ds dicom.Dataset, t tag.Tag) (float64, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return 0, false
	}
	switch v := elem.Value.GetValue().(type) {
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		if len(v) > 0 {
			f, err := strconv.ParseFloat(strings.TrimSpace(v[0]), 64)
			return f, err == nil
		}
	case []int:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	}
	return 0, false
}
