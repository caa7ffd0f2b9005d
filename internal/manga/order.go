package manga

import (
	"sort"

	"mangashelf/pkg/models"
)

// CanonicalOrder returns a copy of chapters sorted by number, highest
// first. Equal numbers keep the order the source listed them in, and
// chapters without a parsed number (-1) sink to the end.
func CanonicalOrder(chapters []models.Chapter) []models.Chapter {
	out := append([]models.Chapter(nil), chapters...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Number > out[j].Number
	})
	return out
}
