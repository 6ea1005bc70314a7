package memory

import (
	"slices"
	"strings"

	"github.com/refaxbot/refaxbot/internal/intent"
)

// Behavior pattern tags derived from a conversation.
const (
	PatternPriceSensitive    = "price_sensitive"
	PatternUrgentBuyer       = "urgent_buyer"
	PatternBrandLoyal        = "brand_loyal"
	PatternDetailOriented    = "detail_oriented"
	PatternRepeatSearcher    = "repeat_searcher"
	PatternReturningCustomer = "returning_customer"
)

var (
	priceStems    = []string{"precio", "barat", "económic", "economic", "descuento", "oferta", "promo", "costo"}
	urgencyStems  = []string{"urgent", "hoy", "rápid", "rapid", "ahorita", "inmediat"}
	urgencyWords  = []string{"ya"}
	detailStems   = []string{"especificac", "medida", "compatib", "original", "genuin", "número de parte", "numero de parte"}
	searchStems   = []string{"busc", "necesit", "requier", "ocupo"}
	detailedWords = 12
)

// analyzePatterns recomputes behavior tags from the recent queries and the
// user's history. Order of the returned tags is fixed.
func analyzePatterns(mem *ConversationMemory) []string {
	queries := mem.ShortTerm.RecentQueries
	var tags []string

	if anyQuery(queries, priceStems) {
		tags = append(tags, PatternPriceSensitive)
	}
	if anyQuery(queries, urgencyStems) || anyWord(queries, urgencyWords) {
		tags = append(tags, PatternUrgentBuyer)
	}
	if brandRepeated(queries) {
		tags = append(tags, PatternBrandLoyal)
	}
	if anyQuery(queries, detailStems) || anyLong(queries) {
		tags = append(tags, PatternDetailOriented)
	}
	if countQueries(queries, searchStems) >= 3 {
		tags = append(tags, PatternRepeatSearcher)
	}
	if len(mem.LongTerm.PreviousSummaries) > 0 {
		tags = append(tags, PatternReturningCustomer)
	}
	return tags
}

func anyQuery(queries, stems []string) bool {
	return countQueries(queries, stems) > 0
}

func countQueries(queries, stems []string) int {
	n := 0
	for _, q := range queries {
		if matchesStems(q, stems) {
			n++
		}
	}
	return n
}

func matchesStems(q string, stems []string) bool {
	for _, s := range stems {
		if strings.Contains(s, " ") {
			if strings.Contains(q, s) {
				return true
			}
			continue
		}
		if intent.ContainsAny(q, s) {
			return true
		}
	}
	return false
}

// anyWord reports whether a query contains one of words as a whole word.
func anyWord(queries, words []string) bool {
	for _, q := range queries {
		for _, w := range strings.Fields(q) {
			if slices.Contains(words, w) {
				return true
			}
		}
	}
	return false
}

func anyLong(queries []string) bool {
	for _, q := range queries {
		if len(strings.Fields(q)) > detailedWords {
			return true
		}
	}
	return false
}

// brandRepeated reports whether the same brand appears in two or more queries.
func brandRepeated(queries []string) bool {
	seen := map[string]int{}
	for _, q := range queries {
		if b := intent.FindBrand(q); b != "" {
			seen[b]++
			if seen[b] >= 2 {
				return true
			}
		}
	}
	return false
}
