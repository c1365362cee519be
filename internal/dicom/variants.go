package dicom

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/dicomcraft/internal/api"
	"github.com/mrsinham/dicomcraft/internal/tags"
	"github.com/mrsinham/dicomcraft/internal/util"
)

// Variant adds content to a sample that real-world files carry and that
// editors tend to handle badly.
type Variant string

const (
	VariantSiemens      Variant = "siemens"
	VariantGE           Variant = "ge"
	VariantPhilips      Variant = "philips"
	VariantSpecialChars Variant = "special-chars"
	VariantLongNames    Variant = "long-names"
)

// maxLO is the longest value a LO or PN component group may hold.
const maxLO = 64

var variantBuilders = map[Variant]func(nodes []api.GenTagNode, sex string, rng *rand.Rand) []api.GenTagNode{
	VariantSiemens:      siemensTags,
	VariantGE:           geTags,
	VariantPhilips:      philipsTags,
	VariantSpecialChars: specialCharTags,
	VariantLongNames:    longNameTags,
}

// Variants lists the known variants in a stable order.
func Variants() []Variant {
	out := make([]Variant, 0, len(variantBuilders))
	for v := range variantBuilders {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseVariants reads a comma-separated variant list. "all" selects every
// variant.
func ParseVariants(s string) ([]Variant, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.EqualFold(s, "all") {
		return Variants(), nil
	}
	var out []Variant
	for _, part := range strings.Split(s, ",") {
		v := Variant(strings.ToLower(strings.TrimSpace(part)))
		if _, ok := variantBuilders[v]; !ok {
			names := make([]string, 0, len(variantBuilders))
			for _, known := range Variants() {
				names = append(names, string(known))
			}
			return nil, fmt.Errorf("unknown sample variant %q (valid: %s, all)", part, strings.Join(names, ", "))
		}
		out = append(out, v)
	}
	return out, nil
}

func applyVariants(nodes []api.GenTagNode, variants []Variant, sex string, rng *rand.Rand) ([]api.GenTagNode, error) {
	for _, v := range variants {
		build, ok := variantBuilders[v]
		if !ok {
			return nil, fmt.Errorf("unknown sample variant %q", v)
		}
		nodes = build(nodes, sex, rng)
	}
	return nodes, nil
}

// setTag replaces the top-level node for t, or appends one.
func setTag(nodes []api.GenTagNode, t tag.Tag, vr, value string) []api.GenTagNode {
	n := genTag(t, vr, value)
	for i := range nodes {
		if nodes[i].TagNumber == n.TagNumber {
			nodes[i] = n
			return nodes
		}
	}
	return append(nodes, n)
}

func privateTag(group, element uint16, vr string, value tags.Value) api.GenTagNode {
	t := tag.Tag{Group: group, Element: element}
	return api.GenTagNode{
		TagNumber: util.FormatTagID(t),
		TagName:   util.TagName(t),
		VR:        vr,
		Value:     value,
		Children:  []api.GenItem{},
	}
}

func geTags(nodes []api.GenTagNode, _ string, rng *rand.Rand) []api.GenTagNode {
	software := fmt.Sprintf("%d.%d.%d", 25+rng.IntN(5), rng.IntN(10), rng.IntN(10))
	diffusion := fmt.Sprintf(`%d\%d\%d\%d`, rng.IntN(1000), rng.IntN(3), rng.IntN(3), rng.IntN(3))
	return append(nodes,
		privateTag(0x0009, 0x0010, "LO", tags.String("GEMS_IDEN_01")),
		privateTag(0x0009, 0x10E3, "LO", tags.String(software)),
		privateTag(0x0043, 0x0010, "LO", tags.String("GEMS_PARM_01")),
		privateTag(0x0043, 0x1039, "IS", tags.String(diffusion)),
	)
}

// philipsTags adds a private sequence whose single item holds the real-world
// value mapping, the layout Philips scanners use for scale slope/intercept.
func philipsTags(nodes []api.GenTagNode, _ string, rng *rand.Rand) []api.GenTagNode {
	slope := fmt.Sprintf("%.6f", 0.5+rng.Float64()*2)
	intercept := fmt.Sprintf("%.1f", -rng.Float64()*100)
	seq := privateTag(0x2005, 0x100E, tags.VRSequence, tags.Sequence(1))
	seq.Children = []api.GenItem{{ItemNumber: 1, Tags: []api.GenTagNode{
		privateTag(0x2005, 0x0011, "LO", tags.String("Philips MR Imaging DD 005")),
		privateTag(0x2005, 0x1100, "DS", tags.String(slope)),
		privateTag(0x2005, 0x1101, "DS", tags.String(intercept)),
	}}}
	return append(nodes,
		privateTag(0x2001, 0x0010, "LO", tags.String("Philips Imaging DD 001")),
		privateTag(0x2005, 0x0010, "LO", tags.String("Philips MR Imaging DD 001")),
		seq,
	)
}

// siemensTags adds the CSA image and series headers as opaque OB blobs.
func siemensTags(nodes []api.GenTagNode, _ string, rng *rand.Rand) []api.GenTagNode {
	image := csaHeader([]csaField{
		{"NumberOfImagesInMosaic", "IS", []string{"1"}},
		{"SliceNormalVector", "FD", []string{"0.0", "0.0", "1.0"}},
		{"B_value", "IS", []string{fmt.Sprint(rng.IntN(3) * 500)}},
		{"BandwidthPerPixelPhaseEncode", "FD", []string{fmt.Sprintf("%.3f", 20+rng.Float64()*40)}},
		{"ImaCoilString", "LO", []string{"HEA;HEP"}},
	})
	series := csaHeader([]csaField{
		{"UsedPatientWeight", "DS", []string{fmt.Sprintf("%.1f", 50+rng.Float64()*50)}},
		{"MrProtocolVersion", "IS", []string{"1"}},
		{"CoilForGradient", "LO", []string{"AS"}},
		{"TablePositionOrigin", "FD", []string{"0.0", "0.0", "0.0"}},
	})
	return append(nodes,
		privateTag(0x0029, 0x0010, "LO", tags.String("SIEMENS CSA HEADER")),
		privateTag(0x0029, 0x1010, "OB", tags.String(base64.StdEncoding.EncodeToString(image))),
		privateTag(0x0029, 0x1020, "OB", tags.String(base64.StdEncoding.EncodeToString(series))),
	)
}

type csaField struct {
	name   string
	vr     string
	values []string
}

// csaHeader encodes fields in the Siemens "SV10" layout: a fixed preamble,
// then per field a 64-byte name, VM, VR, item count and length-prefixed items
// padded to four bytes.
func csaHeader(fields []csaField) []byte {
	const delimiter = uint32(0x4D)
	var buf bytes.Buffer
	le := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("SV10")
	buf.Write([]byte{0x04, 0x03, 0x02, 0x01})
	le(uint32(len(fields)))
	le(delimiter)

	for _, f := range fields {
		name := make([]byte, 64)
		copy(name, f.name)
		buf.Write(name)
		le(int32(len(f.values)))
		vr := make([]byte, 4)
		copy(vr, f.vr)
		buf.Write(vr)
		le(int32(0)) // syngo data type
		le(int32(len(f.values)))
		le(delimiter)
		for _, v := range f.values {
			for range 4 {
				le(uint32(len(v)))
			}
			buf.WriteString(v)
			buf.Write(make([]byte, (4-len(v)%4)%4))
		}
	}
	return buf.Bytes()
}

var specialFirstNames = map[string][]string{
	"M": {"Jean-Pierre", "François", "José", "Søren", "Björn", "Łukasz", "Jürgen", "O'Brien"},
	"F": {"Marie-Claire", "Françoise", "Éléonore", "María", "Zoë", "Renée", "Hélène", "O'Hara"},
}

var specialLastNames = []string{
	"Müller-Schmidt", "O'Connor", "D'Agostino", "García-López", "Østergaard",
	"Çelik", "Škvorecký", "Pérez-Rodríguez",
}

// specialCharTags uses accented, apostrophe and hyphenated names and declares
// UTF-8 as the character set.
func specialCharTags(nodes []api.GenTagNode, sex string, rng *rand.Rand) []api.GenTagNode {
	first := specialFirstNames[sex]
	name := specialLastNames[rng.IntN(len(specialLastNames))] + "^" + first[rng.IntN(len(first))]
	nodes = setTag(nodes, tag.SpecificCharacterSet, "CS", "ISO_IR 192")
	nodes = setTag(nodes, tag.PatientName, "PN", name)
	return setTag(nodes, tag.InstitutionName, "LO", "Hôpital Saint-Éloi")
}

var longLastNames = []string{
	"ALEXANDROPOULOSWILLIAMSONBERG",
	"VANDENBERGHEMONTGOMERYSMITH",
	"CHRISTODOULOPOULOSSMITHBAUER",
	"SCHWARZENEGGERBAUERWILLIAMS",
}

var longFirstNames = []string{
	"ALEXANDERMAXIMILIANWILLIAM",
	"CHRISTOPHERJOHNATHANMICHAEL",
	"ELIZABETHCATHERINEANNAMARIE",
	"MARGARETISABELLAVICTORIAJANE",
}

// longNameTags fills the patient and study identifiers up to their maximum
// length.
func longNameTags(nodes []api.GenTagNode, _ string, rng *rand.Rand) []api.GenTagNode {
	name := longLastNames[rng.IntN(len(longLastNames))] + "^" + longFirstNames[rng.IntN(len(longFirstNames))]
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	id := make([]byte, maxLO)
	for i := range id {
		id[i] = alphabet[rng.IntN(len(alphabet))]
	}
	desc := "COMPREHENSIVE EXAMINATION WITH AND WITHOUT CONTRAST FOR FOLLOW UP OF SUSPECTED LESION"

	nodes = setTag(nodes, tag.PatientName, "PN", truncate(name, maxLO))
	nodes = setTag(nodes, tag.PatientID, "LO", string(id))
	return setTag(nodes, tag.StudyDescription, "LO", truncate(desc, maxLO))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
