package models

import "strings"

// CompoundID builds the system-wide key of a catalog item or chapter.
// Raw ids are only unique within one source, so every persisted
// reference carries the source id as a prefix.
func CompoundID(sourceID, rawID string) string {
	return sourceID + "_" + rawID
}

// SplitCompoundID splits on the first underscore. Source ids never
// contain one; raw ids may.
func SplitCompoundID(id string) (sourceID, rawID string, ok bool) {
	i := strings.IndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

// Ptr returns a pointer to v. Used to build field-scoped patches.
func Ptr[T any](v T) *T {
	return &v
}
