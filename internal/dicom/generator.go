package dicom

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/dicomcraft/internal/api"
	"github.com/mrsinham/dicomcraft/internal/logging"
	"github.com/mrsinham/dicomcraft/internal/pixel"
	"github.com/mrsinham/dicomcraft/internal/tags"
	"github.com/mrsinham/dicomcraft/internal/util"
)

var (
	// errSkipped marks request values that are left out of the file on purpose.
	errSkipped = errors.New("value not written")
	// ErrNoTags is returned when a request has neither tags nor pixel data.
	ErrNoTags = errors.New("generation request is empty")
)

// Generator builds DICOM files from generation requests.
type Generator struct {
	// Now stamps the generated file name.
	Now func() time.Time
	// NewUID mints the SOP instance UID when the request carries none.
	NewUID func() string
}

// NewGenerator returns a Generator using the wall clock and random UIDs.
func NewGenerator() *Generator {
	return &Generator{Now: time.Now, NewUID: NewUID}
}

// Generate builds the file for req and wraps it in a response. Failures are
// reported in the response with status ERROR.
func (g *Generator) Generate(req api.GenerationRequest) api.GenerationResponse {
	tl := logging.NewTimeLog()
	data, err := g.Build(req)
	if err != nil {
		logging.Errorf("generation failed: %v", err)
		return api.GenerationResponse{
			FileName:         api.DefaultFileName,
			GenerationStatus: api.StatusError,
			ErrorMessage:     fmt.Sprintf("Failed to generate DICOM file: %v", err),
		}
	}

	name := fmt.Sprintf("dicom_%d.dcm", g.Now().UnixMilli())
	tl.Debugf("generated %s (%s)", name, humanize.Bytes(uint64(len(data))))
	return api.GenerationResponse{
		FileName:             name,
		GeneratedDicomBase64: base64.StdEncoding.EncodeToString(data),
		GenerationStatus:     api.StatusSuccess,
		FileSize:             int64(len(data)),
	}
}

// Build returns the encoded Part 10 file for req.
func (g *Generator) Build(req api.GenerationRequest) ([]byte, error) {
	ds, err := g.Dataset(req)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeDataset(&buf, ds); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile builds the file for req and writes it to filename.
func (g *Generator) WriteFile(filename string, req api.GenerationRequest) error {
	ds, err := g.Dataset(req)
	if err != nil {
		return err
	}
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return writeDataset(f, ds)
}

// writeDataset encodes ds. Values typed by the user may not match their VR
// exactly, so verification is skipped.
func writeDataset(w io.Writer, ds dicom.Dataset) error {
	if err := dicom.Write(w, ds, dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	return nil
}

// Dataset assembles the dataset for req: default meta information, then the
// request tags, then the pixel module. Tags that cannot be encoded are logged
// and left out.
func (g *Generator) Dataset(req api.GenerationRequest) (dicom.Dataset, error) {
	if len(req.Tags) == 0 && !hasPixelModule(req.PixelData) {
		return dicom.Dataset{}, ErrNoTags
	}

	set := elementSet{}
	sopInstanceUID := g.NewUID()
	set.put(mustNewElement(tag.FileMetaInformationVersion, []byte{0, 1}))
	set.put(mustNewElement(tag.MediaStorageSOPClassUID, []string{CTImageStorage}))
	set.put(mustNewElement(tag.MediaStorageSOPInstanceUID, []string{sopInstanceUID}))
	set.put(mustNewElement(tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian}))
	set.put(mustNewElement(tag.ImplementationClassUID, []string{ImplementationClassUID}))
	set.put(mustNewElement(tag.ImplementationVersionName, []string{ImplementationName}))
	set.put(mustNewElement(tag.SourceApplicationEntityTitle, []string{ImplementationName}))
	set.put(mustNewElement(tag.SOPClassUID, []string{CTImageStorage}))
	set.put(mustNewElement(tag.SOPInstanceUID, []string{sopInstanceUID}))

	for _, t := range req.Tags {
		elem, err := elementFromRequest(t)
		if err != nil {
			logIgnored(t, err)
			continue
		}
		if elem.Tag.Group == metaGroup || elem.Tag == tag.PixelData {
			continue
		}
		set.put(elem)
	}

	// The meta header mirrors whatever SOP identity the request settled on.
	set.mirror(tag.SOPClassUID, tag.MediaStorageSOPClassUID)
	set.mirror(tag.SOPInstanceUID, tag.MediaStorageSOPInstanceUID)

	if hasPixelModule(req.PixelData) {
		for _, elem := range pixelModule(req.PixelData) {
			set.put(elem)
		}
	}
	return dicom.Dataset{Elements: set.sorted()}, nil
}

func logIgnored(t api.GenTagNode, err error) {
	if errors.Is(err, errSkipped) {
		logging.Debugf("tag %s (%s) not written: %v", t.TagNumber, t.TagName, err)
		return
	}
	logging.Warningf("failed to set tag %s (%s): %v", t.TagNumber, t.TagName, err)
}

// elementFromRequest converts one request tag, recursing into sequence items.
func elementFromRequest(t api.GenTagNode) (*dicom.Element, error) {
	tg, err := util.ParseTagID(t.TagNumber)
	if err != nil {
		return nil, err
	}
	vr := strings.ToUpper(strings.TrimSpace(t.VR))

	if vr == tags.VRSequence {
		items := make([][]*dicom.Element, 0, len(t.Children))
		for _, item := range t.Children {
			set := elementSet{}
			for _, child := range item.Tags {
				elem, err := elementFromRequest(child)
				if err != nil {
					logIgnored(child, err)
					continue
				}
				set.put(elem)
			}
			items = append(items, set.sorted())
		}
		return newElement(tg, vr, items)
	}

	if t.Value.IsNull() {
		return nil, fmt.Errorf("%w: null", errSkipped)
	}
	data, err := valueData(vr, t.Value)
	if err != nil {
		return nil, err
	}
	return newElement(tg, vr, data)
}

// valueData converts a scalar to the Go type suyashkumar/dicom expects for vr.
// Strings are split into DICOM multi-values on backslashes.
func valueData(vr string, v tags.Value) (any, error) {
	text := strings.TrimSpace(v.Text())
	switch vr {
	case "AT":
		return nil, fmt.Errorf("%w: attribute tag values are not editable", errSkipped)
	case "FL", "FD":
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%s value %q is not a number", vr, text)
		}
		return []float64{f}, nil
	case "SL", "SS", "UL", "US", "SV", "UV":
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s value %q is not an integer", vr, text)
		}
		return []int{int(n)}, nil
	case "OB", "OD", "OF", "OL", "OV", "OW", "UN":
		s, ok := v.Str()
		if !ok {
			return nil, fmt.Errorf("%s value must be base64 text", vr)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%s value is not base64: %w", vr, err)
		}
		return b, nil
	default:
		return strings.Split(v.Text(), `\`), nil
	}
}

func hasPixelModule(p api.PixelRequest) bool {
	return p.Width > 0 || p.Height > 0 || p.PixelDataBase64 != ""
}

// pixelModule returns the image pixel attributes of p and, when the buffer
// matches the geometry, the pixel data itself.
func pixelModule(p api.PixelRequest) []*dicom.Element {
	bitsStored := p.BitsStored
	if bitsStored <= 0 {
		bitsStored = p.BitsAllocated
	}
	spp := p.SamplesPerPixel
	if spp <= 0 {
		spp = defaultSamplesPerPixel
	}
	photometric := p.PhotometricInterpretation
	if photometric == "" || photometric == defaultPhotometric {
		photometric = "MONOCHROME2"
	}
	representation, err := strconv.Atoi(strings.TrimSpace(p.PixelRepresentation))
	if err != nil {
		representation = 0
	}

	elems := []*dicom.Element{
		mustNewElement(tag.Rows, []int{p.Height}),
		mustNewElement(tag.Columns, []int{p.Width}),
		mustNewElement(tag.BitsAllocated, []int{p.BitsAllocated}),
		mustNewElement(tag.BitsStored, []int{bitsStored}),
		mustNewElement(tag.HighBit, []int{max(bitsStored-1, 0)}),
		mustNewElement(tag.SamplesPerPixel, []int{spp}),
		mustNewElement(tag.PhotometricInterpretation, []string{photometric}),
		mustNewElement(tag.PixelRepresentation, []int{representation}),
	}

	info, err := pixelDataInfo(p, spp)
	if err != nil {
		logging.Warningf("pixel data not written: %v", err)
		return elems
	}
	return append(elems, mustNewElement(tag.PixelData, info))
}

// pixelDataInfo decodes the request buffer into a single native frame.
func pixelDataInfo(p api.PixelRequest, spp int) (dicom.PixelDataInfo, error) {
	if p.PixelDataBase64 == "" {
		return dicom.PixelDataInfo{}, api.ErrNoPixelData
	}
	if spp != 1 {
		return dicom.PixelDataInfo{}, fmt.Errorf("%w: %d", pixel.ErrUnsupportedSamples, spp)
	}
	raw, err := base64.StdEncoding.DecodeString(p.PixelDataBase64)
	if err != nil {
		return dicom.PixelDataInfo{}, fmt.Errorf("decoding pixel data: %w", err)
	}
	samples, err := pixel.Decode(raw, p.BitsAllocated, p.Width, p.Height)
	if err != nil {
		return dicom.PixelDataInfo{}, err
	}

	pixelsPerFrame := p.Width * p.Height
	var fr *frame.Frame
	if p.BitsAllocated == 8 {
		nativeFrame := frame.NewNativeFrame[uint8](8, p.Height, p.Width, pixelsPerFrame, 1)
		for i, s := range samples {
			nativeFrame.RawData[i] = uint8(s)
		}
		fr = &frame.Frame{Encapsulated: false, NativeData: nativeFrame}
	} else {
		nativeFrame := frame.NewNativeFrame[uint16](16, p.Height, p.Width, pixelsPerFrame, 1)
		copy(nativeFrame.RawData, samples)
		fr = &frame.Frame{Encapsulated: false, NativeData: nativeFrame}
	}
	return dicom.PixelDataInfo{Frames: []*frame.Frame{fr}}, nil
}

// elementSet keeps the last element written for each tag.
type elementSet map[tag.Tag]*dicom.Element

func (s elementSet) put(e *dicom.Element) { s[e.Tag] = e }

// mirror copies the value of from onto to when from is present.
func (s elementSet) mirror(from, to tag.Tag) {
	src, ok := s[from]
	if !ok {
		return
	}
	if v, ok := src.Value.GetValue().([]string); ok && len(v) > 0 {
		s.put(mustNewElement(to, []string{v[0]}))
	}
}

// sorted returns the elements ordered by (Group, Element).
func (s elementSet) sorted() []*dicom.Element {
	elems := make([]*dicom.Element, 0, len(s))
	for _, e := range s {
		elems = append(elems, e)
	}
	sort.Slice(elems, func(i, j int) bool {
		if elems[i].Tag.Group != elems[j].Tag.Group {
			return elems[i].Tag.Group < elems[j].Tag.Group
		}
		return elems[i].Tag.Element < elems[j].Tag.Element
	})
	return elems
}

// newElement builds an element with an explicit VR, which also covers
// private tags the dictionary does not know.
func newElement(t tag.Tag, rawVR string, data any) (*dicom.Element, error) {
	value, err := dicom.NewValue(data)
	if err != nil {
		return nil, fmt.Errorf("create value for %s: %w", util.FormatTagID(t), err)
	}
	return &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.GetVRKind(t, rawVR),
		RawValueRepresentation: rawVR,
		Value:                  value,
	}, nil
}

// mustNewElement creates a dictionary element and panics on error. Only used
// with values built in this package.
func mustNewElement(t tag.Tag, value any) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}
