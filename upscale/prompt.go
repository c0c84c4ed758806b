package upscale

import (
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/cases"
)

// CombinePrompt joins auto-generated tags with the user's positive prompt
// as "tags, positive". Either side may be empty.
func CombinePrompt(tags, positive string) string {
	tags = strings.TrimSpace(tags)
	positive = strings.TrimSpace(positive)
	switch {
	case positive == "":
		return tags
	case tags == "":
		return positive
	}
	return tags + ", " + positive
}

// NormalizeTags cleans a comma separated tag list: entries are trimmed,
// empties dropped, anything listed in exclude removed and duplicates
// collapsed. Matching is case-insensitive; the first spelling wins.
func NormalizeTags(raw, exclude string) string {
	fold := cases.Fold()

	excluded := lo.SliceToMap(splitTags(exclude), func(s string) (string, struct{}) {
		return fold.String(s), struct{}{}
	})

	tags := lo.Filter(splitTags(raw), func(s string, _ int) bool {
		_, drop := excluded[fold.String(s)]
		return !drop
	})
	tags = lo.UniqBy(tags, func(s string) string { return fold.String(s) })

	return strings.Join(tags, ", ")
}

func splitTags(s string) []string {
	parts := lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	})
	return lo.Compact(parts)
}
