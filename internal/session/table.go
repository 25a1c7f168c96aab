package session

// Table-likeness thresholds. Tables need higher OCR resolution to separate
// cell text, and some rules end a range at the next tabular page.
const (
	tableMinRects     = 2
	tableMinDenseRows = 8
	tableDenseRowSize = 5
	tableMinRowCount  = 18
)

// LooksLikeTable heuristically classifies a page as tabular from its
// positioned content: drawn rectangles (cell borders) and dense word rows.
// Pages with no positioned content are never table-like.
func (s *Session) LooksLikeTable(page int) bool {
	p, ok := s.posPage(page)
	if !ok {
		return false
	}

	rects := 0
	rowBuckets := make(map[int]int)

	func() {
		defer func() { recover() }() // malformed content stream
		content := p.Content()
		rects = len(content.Rect)
		for _, f := range content.Text {
			if f.S == "" {
				continue
			}
			bucket := int(f.Y/3) * 3
			rowBuckets[bucket]++
		}
	}()

	if rects >= tableMinRects {
		return true
	}
	denseRows := 0
	for _, cnt := range rowBuckets {
		if cnt >= tableDenseRowSize {
			denseRows++
		}
	}
	if denseRows >= tableMinDenseRows {
		return true
	}
	return len(rowBuckets) >= tableMinRowCount && denseRows >= tableMinDenseRows/2
}
