package api

import (
	"errors"

	"github.com/mrsinham/dicomcraft/internal/tags"
)

// ErrNoPixelData is returned when a PixelBuffer has no usable inline data.
var ErrNoPixelData = errors.New("api: no pixel data")

// ExportDepth is the number of tag levels a generation request carries.
const ExportDepth = 2

// ToGenerationRequest builds the generate body from the edited nodes and the
// analyzed pixel buffer. Top-level tags keep their items; the tags inside
// those items are exported without children, so anything deeper than
// ExportDepth is dropped. Pixel bytes pass through untouched.
func ToGenerationRequest(nodes []tags.Node, pb PixelBuffer) GenerationRequest {
	req := GenerationRequest{
		Tags:      make([]GenTagNode, 0, len(nodes)),
		PixelData: PixelRequestFrom(pb),
	}
	for _, n := range nodes {
		req.Tags = append(req.Tags, toGenTag(n, 1))
	}
	return req
}

func toGenTag(n tags.Node, depth int) GenTagNode {
	g := GenTagNode{
		TagNumber: n.ID,
		TagName:   n.Name,
		VR:        n.VR,
		Value:     n.Value,
		Children:  []GenItem{},
	}
	if depth >= ExportDepth {
		return g
	}
	for _, it := range n.Children {
		item := GenItem{ItemNumber: it.Number, Tags: make([]GenTagNode, 0, len(it.Tags))}
		for _, child := range it.Tags {
			item.Tags = append(item.Tags, toGenTag(child, depth+1))
		}
		g.Children = append(g.Children, item)
	}
	return g
}

// PixelRequestFrom copies the pixel fields of pb into a request.
func PixelRequestFrom(pb PixelBuffer) PixelRequest {
	return PixelRequest{
		Width:                     pb.Width,
		Height:                    pb.Height,
		BitsAllocated:             pb.BitsAllocated,
		BitsStored:                pb.BitsStored,
		SamplesPerPixel:           pb.SamplesPerPixel,
		PhotometricInterpretation: pb.PhotometricInterpretation,
		PixelRepresentation:       pb.PixelRepresentation,
		PixelDataBase64:           pb.PixelDataBase64,
	}
}

// TruncatedSequences returns the ids of the nested sequences whose items
// ToGenerationRequest will drop, in walk order.
func TruncatedSequences(nodes []tags.Node) []string {
	var ids []string
	_ = tags.Walk(nodes, ExportDepth, func(n tags.Node, depth int) error {
		if depth == ExportDepth && len(n.Children) > 0 {
			ids = append(ids, n.ID)
		}
		return nil
	})
	return ids
}

// Nodes converts a generation request back into tag nodes, filling VR
// descriptions. Sequence values are restored from the item count.
func (r GenerationRequest) Nodes() []tags.Node {
	return fromGenTags(r.Tags)
}

func fromGenTags(gs []GenTagNode) []tags.Node {
	if gs == nil {
		return nil
	}
	out := make([]tags.Node, 0, len(gs))
	for _, g := range gs {
		n := tags.Node{
			ID:            g.TagNumber,
			Name:          g.TagName,
			VR:            g.VR,
			VRDescription: tags.DescribeVR(g.VR),
			Value:         g.Value,
		}
		for _, it := range g.Children {
			n.Children = append(n.Children, tags.Item{Number: it.ItemNumber, Tags: fromGenTags(it.Tags)})
		}
		if n.IsSequence() {
			n.Value = tags.Sequence(len(n.Children))
		}
		out = append(out, n)
	}
	return out
}
