package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/mrsinham/dicomcraft/internal/pixel"
	"github.com/mrsinham/dicomcraft/internal/tags"
)

func nestedNodes() []tags.Node {
	return []tags.Node{
		{ID: "(0010,0010)", Name: "PatientName", VR: "PN", Value: tags.String("Doe^John")},
		{ID: "(0028,0030)", Name: "PixelSpacing", VR: "DS", Value: tags.Number("0.5")},
		{ID: "(0040,0275)", Name: "RequestAttributesSequence", VR: "SQ", Value: tags.Sequence(1), Children: []tags.Item{
			{Number: 1, Tags: []tags.Node{
				{ID: "(0040,0009)", Name: "ScheduledProcedureStepID", VR: "SH", Value: tags.String("SPS1")},
				{ID: "(0040,0008)", Name: "ScheduledProtocolCodeSequence", VR: "SQ", Value: tags.Sequence(1), Children: []tags.Item{
					{Number: 1, Tags: []tags.Node{
						{ID: "(0008,0100)", Name: "CodeValue", VR: "SH", Value: tags.String("X1")},
					}},
				}},
			}},
		}},
	}
}

func samplePixels() PixelBuffer {
	return PixelBuffer{
		Width: 2, Height: 1, BitsAllocated: 8, BitsStored: 8, SamplesPerPixel: 1,
		PhotometricInterpretation: "MONOCHROME2", PixelRepresentation: "0",
		PixelDataBase64: base64.StdEncoding.EncodeToString([]byte{0, 255}), HasPixelData: true,
	}
}

func TestToGenerationRequest_TruncatesBelowSecondLevel(t *testing.T) {
	req := ToGenerationRequest(nestedNodes(), samplePixels())

	if len(req.Tags) != 3 {
		t.Fatalf("len(tags) = %d, want 3", len(req.Tags))
	}
	seq := req.Tags[2]
	if len(seq.Children) != 1 || len(seq.Children[0].Tags) != 2 {
		t.Fatalf("top-level sequence children = %+v", seq.Children)
	}
	inner := seq.Children[0].Tags[1]
	if inner.Children == nil || len(inner.Children) != 0 {
		t.Errorf("nested sequence children = %#v, want empty list", inner.Children)
	}
	for _, tag := range req.Tags[:2] {
		if tag.Children == nil {
			t.Errorf("%s children is nil, want empty list", tag.TagNumber)
		}
	}

	if req.PixelData.PixelDataBase64 != samplePixels().PixelDataBase64 {
		t.Error("pixel bytes should pass through unchanged")
	}
}

func TestToGenerationRequest_RoundTrip(t *testing.T) {
	nodes := nestedNodes()
	req := ToGenerationRequest(nodes, samplePixels())

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if !strings.Contains(string(data), `"value":0.5`) {
		t.Errorf("number literal not preserved: %s", data)
	}

	decoded, err := DecodeGenerationRequest(data)
	if err != nil {
		t.Fatalf("DecodeGenerationRequest returned error: %v", err)
	}

	// Expected: the input with everything below level two removed.
	want := tags.CloneAll(nodes)
	inner := &want[2].Children[0].Tags[1]
	inner.Children = nil
	inner.Value = tags.Sequence(0)

	got := decoded.Nodes()
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Name != want[i].Name || got[i].VR != want[i].VR || !got[i].Value.Equal(want[i].Value) {
			t.Errorf("tag %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	gotChildren := got[2].Children[0].Tags
	wantChildren := want[2].Children[0].Tags
	for i := range wantChildren {
		if gotChildren[i].ID != wantChildren[i].ID || !gotChildren[i].Value.Equal(wantChildren[i].Value) || len(gotChildren[i].Children) != 0 {
			t.Errorf("child %d = %+v, want %+v", i, gotChildren[i], wantChildren[i])
		}
	}
	if !reflect.DeepEqual(decoded.PixelData, req.PixelData) {
		t.Errorf("pixel data = %+v, want %+v", decoded.PixelData, req.PixelData)
	}
}

func TestTruncatedSequences(t *testing.T) {
	got := TruncatedSequences(nestedNodes())
	if !slices.Equal(got, []string{"(0040,0008)"}) {
		t.Errorf("TruncatedSequences = %v", got)
	}
	if got := TruncatedSequences(nestedNodes()[:2]); len(got) != 0 {
		t.Errorf("TruncatedSequences of flat tags = %v, want none", got)
	}
}

func TestDecodeGenerationRequest_RejectsDeepNesting(t *testing.T) {
	body := `{
		"tags": [{
			"tagNumber": "(0040,0275)", "tagName": "RequestAttributesSequence", "vr": "SQ", "value": null,
			"children": [{"itemNumber": 1, "tags": [{
				"tagNumber": "(0040,0008)", "vr": "SQ", "value": null,
				"children": [{"itemNumber": 1, "tags": []}]
			}]}]
		}],
		"pixelData": null
	}`
	if _, err := DecodeGenerationRequest([]byte(body)); err == nil {
		t.Error("DecodeGenerationRequest should reject a third level")
	}
}

func TestDecodeGenerationRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing tags", `{"pixelData": {}}`},
		{"bad tag number", `{"tags": [{"tagNumber": "0010,0010", "vr": "PN"}], "pixelData": {}}`},
		{"object value", `{"tags": [{"tagNumber": "(0010,0010)", "vr": "PN", "value": {"a": 1}}], "pixelData": {}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeGenerationRequest([]byte(tt.body)); err == nil {
				t.Errorf("DecodeGenerationRequest(%s) should return error", tt.body)
			}
		})
	}
}

func TestPixelBuffer_RawBytes(t *testing.T) {
	pb := samplePixels()
	raw, err := pb.RawBytes()
	if err != nil {
		t.Fatalf("RawBytes returned error: %v", err)
	}
	if !slices.Equal(raw, []byte{0, 255}) {
		t.Errorf("RawBytes = %v", raw)
	}

	short := pb
	short.Width = 4
	if _, err := short.RawBytes(); !errors.Is(err, pixel.ErrInsufficientData) {
		t.Errorf("short RawBytes error = %v, want %v", err, pixel.ErrInsufficientData)
	}

	none := pb
	none.HasPixelData = false
	if _, err := none.RawBytes(); !errors.Is(err, ErrNoPixelData) {
		t.Errorf("absent RawBytes error = %v, want %v", err, ErrNoPixelData)
	}
}

func TestAnalysisResponse_Decode(t *testing.T) {
	body := `{
		"fileName": "ct.dcm",
		"tags": [
			{"id":"(0008,1140)","name":"ReferencedImageSequence","vr":"SQ","vrDescription":"Sequence","value":"Sequence with 0 items","children":[]},
			{"id":"(0028,0010)","name":"Rows","vr":"US","value":512,"children":[]}
		],
		"pixelData": {"width":512,"height":512,"bitsAllocated":16,"bitsStored":12,"samplesPerPixel":1,
			"photometricInterpretation":"MONOCHROME2","pixelRepresentation":"0","pixelDataBase64":"","hasPixelData":false},
		"analysisStatus": "SUCCESS"
	}`
	var resp AnalysisResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if n, ok := resp.Tags[0].Value.Items(); !ok || n != 0 {
		t.Errorf("sequence value = %v", resp.Tags[0].Value)
	}
	if resp.Tags[1].Value != tags.Int(512) {
		t.Errorf("Rows value = %v, want 512", resp.Tags[1].Value)
	}
	if resp.PixelData.Geometry().BitsAllocated != 16 {
		t.Errorf("geometry = %+v", resp.PixelData.Geometry())
	}
}

func TestGenerationResponse_SaveName(t *testing.T) {
	if got := (GenerationResponse{}).SaveName(); got != DefaultFileName {
		t.Errorf("SaveName() = %q, want %q", got, DefaultFileName)
	}
	if got := (GenerationResponse{FileName: "dicom_1.dcm"}).SaveName(); got != "dicom_1.dcm" {
		t.Errorf("SaveName() = %q", got)
	}
}
