package cache

import (
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"playdeck/internal/core"
)

var lower = cases.Lower(language.Und)

// NormalizeQuery canonicalizes free text: NFC, lowercased, trimmed, inner whitespace collapsed.
func NormalizeQuery(q string) string {
	q = norm.NFC.String(q)
	q = lower.String(q)
	return strings.Join(strings.Fields(q), " ")
}

// SearchKey builds the cache key for a search. Equivalent queries map to the same key
// regardless of casing, surrounding whitespace or the order of requested types.
func SearchKey(q core.SearchQuery) string {
	types := lo.Uniq(lo.Map(q.Types, func(t string, _ int) string {
		return strings.ToLower(strings.TrimSpace(t))
	}))
	types = lo.Compact(types)
	slices.Sort(types)

	return "search" +
		"|q=" + url.QueryEscape(NormalizeQuery(q.Query)) +
		"|types=" + strings.Join(types, ",") +
		"|limit=" + strconv.Itoa(q.Limit) +
		"|offset=" + strconv.Itoa(q.Offset)
}

// ListingKey builds the cache key for a paginated listing such as a user's playlists.
func ListingKey(kind, id string, limit, offset int) string {
	return kind +
		"|id=" + url.QueryEscape(strings.TrimSpace(id)) +
		"|limit=" + strconv.Itoa(limit) +
		"|offset=" + strconv.Itoa(offset)
}
