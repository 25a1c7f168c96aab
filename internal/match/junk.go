package match

import (
	"context"
	"fmt"
	"strings"
)

// Leading-junk markers. Binders from one broker open with a ~20-page
// proposal deck that matches nothing useful but wastes rule passes.
const (
	junkBrokerMarker   = "NAV SAV"
	junkProposalMarker = "COMMERCIAL INSURANCE PROPOSAL"
	junkFeeMarker      = "BROKER FEE AGREEMENT"
	junkIntroSpan      = 20
)

// DetectJunk flags known boilerplate intro pages so no rule claims them.
// Returns the ignored page set and human-readable notes for the run report.
func (m *Matcher) DetectJunk(ctx context.Context) (map[int]bool, []string) {
	ignored := make(map[int]bool)
	var notes []string
	n := m.src.PageCount()
	if n == 0 {
		return ignored, notes
	}

	first := m.src.CleanText(ctx, 0)
	if strings.Contains(first, junkBrokerMarker) && strings.Contains(first, junkProposalMarker) {
		span := junkIntroSpan
		if span > n {
			span = n
		}
		for i := 0; i < span; i++ {
			ignored[i] = true
		}
		notes = append(notes, fmt.Sprintf("Skipped Nav Sav intro pages 1-%d", span))
		if n > junkIntroSpan && strings.Contains(m.src.CleanText(ctx, junkIntroSpan), junkFeeMarker) {
			ignored[junkIntroSpan] = true
			notes = append(notes, fmt.Sprintf("Skipped Nav Sav Broker Fee Agreement page %d", junkIntroSpan+1))
		}
	}
	return ignored, notes
}
