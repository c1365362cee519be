// Package api defines the analyze/generate wire contracts shared by the
// client and the reference server, and converts edited tag trees into
// generation requests.
package api

import (
	"encoding/base64"
	"fmt"

	"github.com/mrsinham/dicomcraft/internal/pixel"
	"github.com/mrsinham/dicomcraft/internal/tags"
)

// DefaultBasePath is the URL prefix of the service endpoints.
const DefaultBasePath = "/api/dicom"

// Result statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// DefaultFileName is used when a generated file comes back without a name.
const DefaultFileName = "generated.dcm"

// PixelBuffer is the pixel module of an analyzed file.
type PixelBuffer struct {
	Width                     int    `json:"width"`
	Height                    int    `json:"height"`
	BitsAllocated             int    `json:"bitsAllocated"`
	BitsStored                int    `json:"bitsStored"`
	SamplesPerPixel           int    `json:"samplesPerPixel"`
	PhotometricInterpretation string `json:"photometricInterpretation"`
	PixelRepresentation       string `json:"pixelRepresentation"`
	PixelDataBase64           string `json:"pixelDataBase64"`
	HasPixelData              bool   `json:"hasPixelData"`
	ConvertedImageBase64      string `json:"convertedImageBase64,omitempty"`
	HasConvertedImage         bool   `json:"hasConvertedImage,omitempty"`
}

// Geometry returns the layout of the raw samples.
func (p PixelBuffer) Geometry() pixel.Geometry {
	return pixel.Geometry{
		Width:           p.Width,
		Height:          p.Height,
		BitsAllocated:   p.BitsAllocated,
		SamplesPerPixel: p.SamplesPerPixel,
	}
}

// RawBytes decodes the inline pixel data. It fails when there is no pixel
// data or when the buffer is shorter than the declared geometry, in which
// case the buffer must be treated as absent.
func (p PixelBuffer) RawBytes() ([]byte, error) {
	if !p.HasPixelData || p.PixelDataBase64 == "" {
		return nil, ErrNoPixelData
	}
	raw, err := base64.StdEncoding.DecodeString(p.PixelDataBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding pixel data: %w", err)
	}
	if n := p.Geometry().ExpectedLength(); n < 0 || len(raw) < n {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d at %d bits", pixel.ErrInsufficientData,
			len(raw), p.Width, p.Height, p.BitsAllocated)
	}
	return raw, nil
}

// AnalysisResponse is the result of POST /analyze.
type AnalysisResponse struct {
	FileName       string      `json:"fileName"`
	Tags           []tags.Node `json:"tags"`
	PixelData      PixelBuffer `json:"pixelData"`
	AnalysisStatus string      `json:"analysisStatus"`
	ErrorMessage   string      `json:"errorMessage,omitempty"`
}

// GenTagNode is one tag of a generation request.
type GenTagNode struct {
	TagNumber string     `json:"tagNumber"`
	TagName   string     `json:"tagName"`
	VR        string     `json:"vr"`
	Value     tags.Value `json:"value"`
	Children  []GenItem  `json:"children"`
}

// GenItem is one sequence item of a generation request.
type GenItem struct {
	ItemNumber int          `json:"itemNumber"`
	Tags       []GenTagNode `json:"tags"`
}

// PixelRequest is the pixel portion of a generation request.
type PixelRequest struct {
	Width                     int    `json:"width"`
	Height                    int    `json:"height"`
	BitsAllocated             int    `json:"bitsAllocated"`
	BitsStored                int    `json:"bitsStored"`
	SamplesPerPixel           int    `json:"samplesPerPixel"`
	PhotometricInterpretation string `json:"photometricInterpretation"`
	PixelRepresentation       string `json:"pixelRepresentation"`
	PixelDataBase64           string `json:"pixelDataBase64"`
}

// GenerationRequest is the body of POST /generate.
type GenerationRequest struct {
	Tags      []GenTagNode `json:"tags"`
	PixelData PixelRequest `json:"pixelData"`
}

// GenerationResponse is the result of POST /generate.
type GenerationResponse struct {
	FileName             string `json:"fileName"`
	GeneratedDicomBase64 string `json:"generatedDicomBase64"`
	// GeneratedFileBase64 is accepted from services that use this name for
	// the payload. It is never written by the reference server.
	GeneratedFileBase64 string `json:"generatedFileBase64,omitempty"`
	GenerationStatus    string `json:"generationStatus"`
	ErrorMessage        string `json:"errorMessage,omitempty"`
	FileSize            int64  `json:"fileSize"`
}

// Payload returns the base64 file content under whichever name it arrived.
func (r GenerationResponse) Payload() string {
	if r.GeneratedDicomBase64 != "" {
		return r.GeneratedDicomBase64
	}
	return r.GeneratedFileBase64
}

// Bytes decodes the generated file.
func (r GenerationResponse) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(r.Payload())
	if err != nil {
		return nil, fmt.Errorf("decoding generated file: %w", err)
	}
	return data, nil
}

// SaveName returns the server-supplied file name or DefaultFileName.
func (r GenerationResponse) SaveName() string {
	if r.FileName == "" {
		return DefaultFileName
	}
	return r.FileName
}
