package dicom

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/dicomcraft/internal/api"
	"github.com/mrsinham/dicomcraft/internal/tags"
	"github.com/mrsinham/dicomcraft/internal/util"
)

// SampleOptions configures a synthetic file for trying out the editor.
type SampleOptions struct {
	Modality    string // "CT" or "MR"
	Width       int
	Height      int
	Seed        uint64
	PatientName string
	Variants    []Variant
}

type scanner struct {
	manufacturer string
	model        string
}

var sampleScanners = map[string][]scanner{
	"CT": {
		{"SIEMENS", "SOMATOM Force"},
		{"GE MEDICAL SYSTEMS", "Revolution CT"},
		{"PHILIPS", "Brilliance iCT"},
		{"CANON", "Aquilion ONE"},
	},
	"MR": {
		{"SIEMENS", "MAGNETOM Skyra"},
		{"GE MEDICAL SYSTEMS", "SIGNA Premier"},
		{"PHILIPS", "Ingenia"},
	},
}

// Sample builds a generation request for a single-frame synthetic image with
// a plausible set of patient, study and modality tags, one nested sequence
// and one private tag, plus the content of any requested variants. The same
// options always produce the same request.
func Sample(opts SampleOptions) (api.GenerationRequest, error) {
	modality := strings.ToUpper(opts.Modality)
	if modality == "" {
		modality = "CT"
	}
	scanners, ok := sampleScanners[modality]
	if !ok {
		return api.GenerationRequest{}, fmt.Errorf("unsupported sample modality %q (valid: CT, MR)", opts.Modality)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return api.GenerationRequest{}, fmt.Errorf("sample size must be positive, got %dx%d", opts.Width, opts.Height)
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9E3779B97F4A7C15))
	sc := scanners[rng.IntN(len(scanners))]
	sex := []string{"M", "F"}[rng.IntN(2)]
	name := opts.PatientName
	if name == "" {
		name = util.PatientName(sex, rng)
	}

	nodes := []api.GenTagNode{
		genTag(tag.SOPClassUID, "UI", CTImageStorage),
		genTag(tag.StudyDate, "DA", "20240115"),
		genTag(tag.Modality, "CS", modality),
		genTag(tag.Manufacturer, "LO", sc.manufacturer),
		genTag(tag.InstitutionName, "LO", "Sample Hospital"),
		genTag(tag.StudyDescription, "LO", modality+" sample study"),
		genTag(tag.ManufacturerModelName, "LO", sc.model),
		genTag(tag.PatientName, "PN", name),
		genTag(tag.PatientID, "LO", fmt.Sprintf("PID%06d", rng.IntN(1000000))),
		genTag(tag.PatientBirthDate, "DA", "19700101"),
		genTag(tag.PatientSex, "CS", sex),
		genTag(tag.StudyInstanceUID, "UI", sampleUID(rng)),
		genTag(tag.SeriesInstanceUID, "UI", sampleUID(rng)),
		genTag(tag.SeriesNumber, "IS", "1"),
		genTag(tag.InstanceNumber, "IS", "1"),
		{
			TagNumber: util.FormatTagID(tag.ProcedureCodeSequence),
			TagName:   "ProcedureCodeSequence",
			VR:        tags.VRSequence,
			Value:     tags.Sequence(1),
			Children: []api.GenItem{{ItemNumber: 1, Tags: []api.GenTagNode{
				genTag(tag.CodeValue, "SH", "P5-0"+modality),
				genTag(tag.CodingSchemeDesignator, "SH", "DCM"),
				genTag(tag.CodeMeaning, "LO", modality+" imaging procedure"),
			}}},
		},
		{
			TagNumber: "(0009,1001)",
			TagName:   util.TagName(tag.Tag{Group: 0x0009, Element: 0x1001}),
			VR:        "LO",
			Value:     tags.String("dicomcraft sample"),
			Children:  []api.GenItem{},
		},
	}

	var center, width float64
	switch modality {
	case "CT":
		center, width = 40, 400
		nodes = append(nodes,
			genTag(tag.KVP, "DS", []string{"80", "100", "120", "140"}[rng.IntN(4)]),
			genTag(tag.ConvolutionKernel, "SH", "STANDARD"),
			genTag(tag.RescaleIntercept, "DS", "-1024"),
			genTag(tag.RescaleSlope, "DS", "1"),
			genTag(tag.RescaleType, "LO", "HU"),
		)
	case "MR":
		center, width = 500, 1000
		nodes = append(nodes,
			genTag(tag.MagneticFieldStrength, "DS", []string{"1.5", "3"}[rng.IntN(2)]),
			genTag(tag.EchoTime, "DS", fmt.Sprintf("%.1f", 10+rng.Float64()*90)),
			genTag(tag.RepetitionTime, "DS", fmt.Sprintf("%.0f", 400+rng.Float64()*3600)),
			genTag(tag.FlipAngle, "DS", "90"),
		)
		nodes[0] = genTag(tag.SOPClassUID, "UI", "1.2.840.10008.5.1.4.1.1.4")
	}
	nodes = append(nodes,
		genTag(tag.WindowCenter, "DS", fmt.Sprintf("%g", center)),
		genTag(tag.WindowWidth, "DS", fmt.Sprintf("%g", width)),
	)
	nodes, err := applyVariants(nodes, opts.Variants, sex, rng)
	if err != nil {
		return api.GenerationRequest{}, err
	}

	return api.GenerationRequest{
		Tags: nodes,
		PixelData: api.PixelRequest{
			Width:                     opts.Width,
			Height:                    opts.Height,
			BitsAllocated:             16,
			BitsStored:                12,
			SamplesPerPixel:           1,
			PhotometricInterpretation: "MONOCHROME2",
			PixelRepresentation:       "0",
			PixelDataBase64:           base64.StdEncoding.EncodeToString(phantom(rng, opts.Width, opts.Height)),
		},
	}, nil
}

func genTag(t tag.Tag, vr, value string) api.GenTagNode {
	return api.GenTagNode{
		TagNumber: util.FormatTagID(t),
		TagName:   util.TagName(t),
		VR:        vr,
		Value:     tags.String(value),
		Children:  []api.GenItem{},
	}
}

func sampleUID(rng *rand.Rand) string {
	return fmt.Sprintf("2.25.%d", rng.Uint64()|1<<63)
}

// phantom draws a 12-bit radial gradient with layered noise, brightest at the
// center, as little-endian 16-bit samples.
func phantom(rng *rand.Rand, width, height int) []byte {
	const (
		baseValue  = 1024.0
		valueRange = 3071.0
		maxValue   = 4095.0
	)
	centerX := float64(width) / 2
	centerY := float64(height) / 2
	maxDist := math.Sqrt(centerX*centerX + centerY*centerY)

	out := make([]byte, 2*width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx := float64(x) - centerX
			dy := float64(y) - centerY
			normalizedDist := math.Sqrt(dx*dx+dy*dy) / maxDist
			intensity := baseValue + (1.0-normalizedDist)*valueRange*0.6

			largeNoise := (rng.Float64() - 0.5) * valueRange * 0.1
			fineNoise := (rng.Float64() - 0.5) * valueRange * 0.025
			intensity += largeNoise + fineNoise

			v := uint16(math.Max(0, math.Min(maxValue, intensity)))
			binary.LittleEndian.PutUint16(out[2*(y*width+x):], v)
		}
	}
	return out
}
