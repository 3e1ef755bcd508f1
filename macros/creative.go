package macros

import (
	"bytes"
	"strings"
)

// Macros which the exchange may embed in creative markup.
const (
	AuctionSeatID   = "AUCTION_SEAT_ID"
	AuctionID       = "AUCTION_ID"
	AuctionBidID    = "AUCTION_BID_ID"
	AuctionImpID    = "AUCTION_IMP_ID"
	AuctionAdID     = "AUCTION_AD_ID"
	AuctionPrice    = "AUCTION_PRICE"
	AuctionCurrency = "AUCTION_CURRENCY"
)

const (
	creativeMacroPrefix = "${"
	creativeMacroSuffix = "}"
)

// creativeTemplate holds the offsets of every ${NAME} placeholder in a piece of markup.
// starts[i] is the index of "$", ends[i] the index of the closing "}".
type creativeTemplate struct {
	starts []int
	ends   []int
}

func constructCreativeTemplate(markup string) creativeTemplate {
	tmplt := creativeTemplate{}
	currentIndex := 0
	for currentIndex < len(markup) {
		start := strings.Index(markup[currentIndex:], creativeMacroPrefix)
		if start == -1 {
			break
		}
		start += currentIndex
		nameStart := start + len(creativeMacroPrefix)
		end := strings.Index(markup[nameStart:], creativeMacroSuffix)
		if end == -1 {
			break
		}
		end += nameStart
		tmplt.starts = append(tmplt.starts, start)
		tmplt.ends = append(tmplt.ends, end)
		currentIndex = end + len(creativeMacroSuffix)
	}
	return tmplt
}

// ResolveCreative replaces every ${NAME} placeholder whose NAME is a key of values.
// Unknown placeholders are left untouched. Replacement is a single left-to-right pass,
// so values which themselves contain placeholders are not expanded again.
func ResolveCreative(markup string, values map[string]string) string {
	tmplt := constructCreativeTemplate(markup)
	if len(tmplt.starts) == 0 {
		return markup
	}

	var result bytes.Buffer
	result.Grow(len(markup))
	currentIndex := 0
	for i, start := range tmplt.starts {
		end := tmplt.ends[i]
		value, ok := values[markup[start+len(creativeMacroPrefix):end]]
		if !ok {
			continue
		}
		result.WriteString(markup[currentIndex:start])
		result.WriteString(value)
		currentIndex = end + len(creativeMacroSuffix)
	}
	result.WriteString(markup[currentIndex:])
	return result.String()
}
