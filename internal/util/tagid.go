package util

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/suyashkumar/dicom/pkg/tag"
)

var tagIDPattern = regexp.MustCompile(`^\(\s*([0-9A-Fa-f]{4})\s*,\s*([0-9A-Fa-f]{4})\s*\)$`)

// FormatTagID returns the "(GGGG,EEEE)" form of t with uppercase hex digits.
func FormatTagID(t tag.Tag) string {
	return fmt.Sprintf("(%04X,%04X)", t.Group, t.Element)
}

// ParseTagID parses "(GGGG,EEEE)".
func ParseTagID(s string) (tag.Tag, error) {
	m := tagIDPattern.FindStringSubmatch(s)
	if m == nil {
		return tag.Tag{}, fmt.Errorf("invalid tag number %q, expected (GGGG,EEEE)", s)
	}
	group, _ := strconv.ParseUint(m[1], 16, 16)
	element, _ := strconv.ParseUint(m[2], 16, 16)
	return tag.Tag{Group: uint16(group), Element: uint16(element)}, nil
}

// IsPrivate reports whether t belongs to an odd (private) group.
func IsPrivate(t tag.Tag) bool {
	return t.Group%2 == 1
}

// TagName returns the dictionary keyword of t, "Private Tag GGGGEEEE" for
// unknown private tags, and "TagGGGGEEEE" otherwise.
func TagName(t tag.Tag) string {
	if info, err := tag.Find(t); err == nil && info.Name != "" {
		return info.Name
	}
	if IsPrivate(t) {
		return fmt.Sprintf("Private Tag %04X%04X", t.Group, t.Element)
	}
	return fmt.Sprintf("Tag%04X%04X", t.Group, t.Element)
}
