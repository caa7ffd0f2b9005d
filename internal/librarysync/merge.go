package librarysync

import (
	"mangashelf/internal/manga"
	"mangashelf/pkg/models"
)

// Merge reconciles the stored chapter sequence of one manga with a freshly
// fetched list. The rules:
//
// - Fetched chapters are deduplicated by id (first wins) and put in
//   canonical order: number descending, site order on ties.
// - Known ids take the fetched metadata; reader and download state are
//   not part of the result and stay untouched in storage. A relative
//   upstream date ("2 hours ago") does not replace a stored date.
// - Chapters missing upstream are kept with their stored metadata and
//   slotted in after every fetched chapter with a higher or equal number.
func Merge(stored []models.ChapterRecord, fetched []models.Chapter) []models.Chapter {
	seen := make(map[string]bool, len(fetched))
	unique := make([]models.Chapter, 0, len(fetched))
	for _, c := range fetched {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		unique = append(unique, c)
	}
	out := manga.CanonicalOrder(unique)

	byID := make(map[string]models.ChapterRecord, len(stored))
	for _, s := range stored {
		byID[s.ID] = s
	}
	for i, c := range out {
		if s, ok := byID[c.ID]; ok && c.DateRelative && s.PublishedAt != nil {
			out[i].PublishedAt = s.PublishedAt
		}
	}

	for _, s := range stored {
		if seen[s.ID] {
			continue
		}
		meta := s.Meta()
		at := len(out)
		for i, c := range out {
			if c.Number < meta.Number {
				at = i
				break
			}
		}
		out = append(out, models.Chapter{})
		copy(out[at+1:], out[at:])
		out[at] = meta
	}
	return out
}

// Unchanged reports whether writing merged would leave stored as it is.
func Unchanged(stored []models.ChapterRecord, merged []models.Chapter) bool {
	if len(stored) != len(merged) {
		return false
	}
	for i := range stored {
		if !stored[i].Meta().SameMeta(merged[i]) {
			return false
		}
	}
	return true
}

// Added returns the chapters of merged whose ids are not in stored.
func Added(stored []models.ChapterRecord, merged []models.Chapter) []models.Chapter {
	known := make(map[string]bool, len(stored))
	for _, s := range stored {
		known[s.ID] = true
	}
	var out []models.Chapter
	for _, c := range merged {
		if !known[c.ID] {
			out = append(out, c)
		}
	}
	return out
}
