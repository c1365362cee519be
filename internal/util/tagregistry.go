// Package util resolves user-typed tag names to DICOM tags.
package util

import (
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/dicomcraft/internal/tags"
)

// TagInfo identifies a tag by keyword and number.
type TagInfo struct {
	Name string
	Tag  tag.Tag
}

// ID returns the "(GGGG,EEEE)" form of the tag.
func (i TagInfo) ID() string { return FormatTagID(i.Tag) }

// tagRegistry maps lowercase names of commonly edited tags to their TagInfo.
var tagRegistry = map[string]TagInfo{
	// Patient
	"patientname":      {Name: "PatientName", Tag: tag.PatientName},
	"patientid":        {Name: "PatientID", Tag: tag.PatientID},
	"patientbirthdate": {Name: "PatientBirthDate", Tag: tag.PatientBirthDate},
	"patientsex":       {Name: "PatientSex", Tag: tag.PatientSex},
	"patientage":       {Name: "PatientAge", Tag: tag.PatientAge},

	// Study
	"studydescription":              {Name: "StudyDescription", Tag: tag.StudyDescription},
	"studydate":                     {Name: "StudyDate", Tag: tag.StudyDate},
	"studyid":                       {Name: "StudyID", Tag: tag.StudyID},
	"institutionname":               {Name: "InstitutionName", Tag: tag.InstitutionName},
	"institutionaldepartmentname":   {Name: "InstitutionalDepartmentName", Tag: tag.InstitutionalDepartmentName},
	"referringphysicianname":        {Name: "ReferringPhysicianName", Tag: tag.ReferringPhysicianName},
	"performingphysicianname":       {Name: "PerformingPhysicianName", Tag: tag.PerformingPhysicianName},
	"operatorsname":                 {Name: "OperatorsName", Tag: tag.OperatorsName},
	"accessionnumber":               {Name: "AccessionNumber", Tag: tag.AccessionNumber},
	"stationname":                   {Name: "StationName", Tag: tag.StationName},
	"requestedproceduredescription": {Name: "RequestedProcedureDescription", Tag: tag.RequestedProcedureDescription},

	// Series
	"seriesdescription":     {Name: "SeriesDescription", Tag: tag.SeriesDescription},
	"seriesnumber":          {Name: "SeriesNumber", Tag: tag.SeriesNumber},
	"modality":              {Name: "Modality", Tag: tag.Modality},
	"protocolname":          {Name: "ProtocolName", Tag: tag.ProtocolName},
	"bodypartexamined":      {Name: "BodyPartExamined", Tag: tag.BodyPartExamined},
	"manufacturer":          {Name: "Manufacturer", Tag: tag.Manufacturer},
	"manufacturermodelname": {Name: "ManufacturerModelName", Tag: tag.ManufacturerModelName},

	// Image
	"instancenumber": {Name: "InstanceNumber", Tag: tag.InstanceNumber},
	"windowcenter":   {Name: "WindowCenter", Tag: tag.WindowCenter},
	"windowwidth":    {Name: "WindowWidth", Tag: tag.WindowWidth},
}

// GetTagByName returns TagInfo for a tag name or a "(GGGG,EEEE)" number.
// Names are matched case-insensitively against the common tags, then exactly
// against the full DICOM dictionary. Unknown names fail with the closest
// common tag name as a suggestion (Levenshtein distance).
func GetTagByName(name string) (TagInfo, error) {
	trimmed := strings.TrimSpace(name)
	if strings.HasPrefix(trimmed, "(") {
		t, err := ParseTagID(trimmed)
		if err != nil {
			return TagInfo{}, err
		}
		return TagInfo{Name: TagName(t), Tag: t}, nil
	}

	normalizedName := strings.ToLower(trimmed)
	if info, ok := tagRegistry[normalizedName]; ok {
		return info, nil
	}
	if trimmed != "" {
		if info, err := tag.FindByName(trimmed); err == nil {
			return TagInfo{Name: info.Name, Tag: info.Tag}, nil
		}
	}

	candidates := make([]string, 0, len(tagRegistry))
	for _, info := range tagRegistry {
		candidates = append(candidates, info.Name)
	}
	if suggestion := closestName(normalizedName, candidates); suggestion != "" {
		return TagInfo{}, fmt.Errorf("unknown tag %q, did you mean %q?", name, suggestion)
	}
	return TagInfo{}, fmt.Errorf("unknown tag %q", name)
}

// Resolver resolves tag names against the tags of one analyzed file.
type Resolver struct {
	byName map[string]tags.Node
	names  []string
}

// NewResolver indexes the top-level tags of nodes by lowercase name.
func NewResolver(nodes []tags.Node) *Resolver {
	r := &Resolver{byName: make(map[string]tags.Node, len(nodes))}
	for _, n := range nodes {
		key := strings.ToLower(n.Name)
		if _, dup := r.byName[key]; dup {
			continue
		}
		r.byName[key] = n
		r.names = append(r.names, n.Name)
	}
	return r
}

// Resolve returns the id of the file's top-level tag matching name, which may
// be a keyword or a "(GGGG,EEEE)" number. A known tag that the file does not
// carry is reported as such; anything else gets a suggestion drawn from the
// file's own tags.
func (r *Resolver) Resolve(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if n, ok := r.byName[strings.ToLower(trimmed)]; ok {
		return n.ID, nil
	}

	info, err := GetTagByName(trimmed)
	if err == nil {
		id := info.ID()
		for _, n := range r.byName {
			if n.ID == id {
				return id, nil
			}
		}
		return "", fmt.Errorf("%w: %s %s is not present in this file", tags.ErrTagNotFound, info.Name, id)
	}

	if suggestion := closestName(strings.ToLower(trimmed), r.names); suggestion != "" {
		return "", fmt.Errorf("unknown tag %q, did you mean %q?", name, suggestion)
	}
	return "", err
}

// closestName returns the candidate closest to input (compared lowercase)
// using Levenshtein distance, or "" if none is within 5 edits.
func closestName(input string, candidates []string) string {
	const maxDistance = 5
	bestDistance := maxDistance + 1
	var bestMatch string

	for _, c := range candidates {
		distance := levenshteinDistance(input, strings.ToLower(c))
		if distance < bestDistance || (distance == bestDistance && c < bestMatch) {
			bestDistance = distance
			bestMatch = c
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

// levenshteinDistance calculates the Levenshtein distance between two strings.
// This is the minimum number of single-character edits (insertions, deletions,
// or substitutions) required to change one string into the other.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Two rows are enough for the dynamic programming table.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
