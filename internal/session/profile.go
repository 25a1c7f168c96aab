package session

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"

	"bindersplit/pkg/models"
)

// Native-text length buckets for the scan profile sample.
const (
	profileSampleLimit = 12
	profileLowChars    = 80
	profileMedChars    = 250
	profileHighChars   = 600
)

// AssessScanProfile samples up to 12 evenly spaced pages of a binder and
// buckets their native-text lengths to decide, before any real work:
//
//   - AllowOCR: the sample is mostly sparse or medium text, so OCR is
//     likely to contribute;
//   - SkipQuick: the binder looks predominantly scanned, so the cheap
//     native-text-only first pass would find nothing and should be skipped.
//
// Running the full rule engine twice (fast, then OCR-backed) is wasted work
// when the binder is known up front to be scan-only. On any error the
// profile fails open: OCR allowed, quick pass skipped.
func AssessScanProfile(path string) models.ScanProfile {
	profile := models.ScanProfile{AllowOCR: true, SkipQuick: true, SkipReason: "error"}

	doc, err := fitz.New(path)
	if err != nil {
		return profile
	}
	defer doc.Close()

	total := doc.NumPage()
	if total == 0 {
		return profile
	}
	sample := total
	if sample > profileSampleLimit {
		sample = profileSampleLimit
	}

	indices := make([]int, 0, sample)
	if sample == total {
		for i := 0; i < sample; i++ {
			indices = append(indices, i)
		}
	} else {
		seen := make(map[int]bool)
		for k := 0; k < sample; k++ {
			idx := int(float64(k)*float64(total-1)/float64(sample-1) + 0.5)
			if !seen[idx] {
				seen[idx] = true
				indices = append(indices, idx)
			}
		}
	}

	low, med, high := 0, 0, 0
	for _, idx := range indices {
		txt, err := doc.Text(idx)
		if err != nil {
			txt = ""
		}
		n := len(strings.TrimSpace(txt))
		if n < profileLowChars {
			low++
		}
		if n < profileMedChars {
			med++
		}
		if n > profileHighChars {
			high++
		}
	}

	count := len(indices)
	profile.SamplePages = count
	profile.LowPages = low
	profile.MedPages = med
	profile.HighPages = high
	profile.LowRatio = float64(low) / float64(count)
	profile.MedRatio = float64(med) / float64(count)
	profile.HighRatio = float64(high) / float64(count)

	highFloor := int(0.6 * float64(count))
	if highFloor < 1 {
		highFloor = 1
	}
	profile.AllowOCR = profile.MedRatio > 0.4 || high < highFloor

	profile.SkipReason = ""
	profile.SkipQuick = false
	if profile.AllowOCR && count > 0 {
		highSparseCap := count / 4
		if highSparseCap < 1 {
			highSparseCap = 1
		}
		switch {
		case profile.LowRatio >= 0.22:
			profile.SkipReason = fmt.Sprintf("low_text_ratio=%.2f", profile.LowRatio)
		case profile.MedRatio >= 0.5:
			profile.SkipReason = fmt.Sprintf("med_text_ratio=%.2f", profile.MedRatio)
		case high <= highSparseCap && profile.MedRatio >= 0.4:
			profile.SkipReason = fmt.Sprintf("sparse_high_text=%d/%d", high, count)
		}
		profile.SkipQuick = profile.SkipReason != ""
	}
	return profile
}
