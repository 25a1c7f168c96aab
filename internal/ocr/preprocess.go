package ocr

import (
	"crypto/sha1"
	"encoding/hex"
	"image"
	"sort"

	xdraw "golang.org/x/image/draw"

	"bindersplit/pkg/models"
)

// Binarization thresholds. Pixels brighter than white go to 255, darker
// than black go to 0, the midtone range is left alone so anti-aliased
// glyph edges survive.
const (
	binarizeWhite = 200
	binarizeBlack = 120

	signatureSize = 48

	cropPctMin = 0.05
	cropPctMax = 0.95
)

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	xdraw.Draw(g, b, img, b.Min, xdraw.Src)
	return g
}

// prepare runs the scan cleanup pipeline: autocontrast, 3x3 median despeckle,
// two-threshold binarization.
func prepare(g *image.Gray) *image.Gray {
	return binarize(median3(autocontrast(g)))
}

// autocontrast stretches the grayscale histogram to the full 0..255 range.
func autocontrast(g *image.Gray) *image.Gray {
	b := g.Bounds()
	lo, hi := 255, 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		for _, p := range row {
			if int(p) < lo {
				lo = int(p)
			}
			if int(p) > hi {
				hi = int(p)
			}
		}
	}
	if hi <= lo {
		return g
	}
	out := image.NewGray(b)
	scale := 255.0 / float64(hi-lo)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		src := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		dst := out.Pix[(y-b.Min.Y)*out.Stride : (y-b.Min.Y)*out.Stride+b.Dx()]
		for x, p := range src {
			dst[x] = uint8(float64(int(p)-lo)*scale + 0.5)
		}
	}
	return out
}

// median3 applies a 3x3 median filter with edge clamping.
func median3(g *image.Gray) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return g
	}
	out := image.NewGray(b)
	var window [9]uint8
	at := func(x, y int) uint8 {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return g.Pix[y*g.Stride+x]
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					window[i] = at(x+dx, y+dy)
					i++
				}
			}
			s := window[:]
			sort.Slice(s, func(a, b int) bool { return s[a] < s[b] })
			out.Pix[y*out.Stride+x] = window[4]
		}
	}
	return out
}

func binarize(g *image.Gray) *image.Gray {
	b := g.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		src := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		dst := out.Pix[(y-b.Min.Y)*out.Stride : (y-b.Min.Y)*out.Stride+b.Dx()]
		for x, p := range src {
			switch {
			case p > binarizeWhite:
				dst[x] = 255
			case p < binarizeBlack:
				dst[x] = 0
			default:
				dst[x] = p
			}
		}
	}
	return out
}

// cropScope cuts the requested vertical region out of a full-page render.
// pct is the height fraction of the region, clamped to 0.05..0.95.
func cropScope(g *image.Gray, scope models.OCRScope, pct float64) *image.Gray {
	if scope == "" || scope == models.ScopeFull {
		return g
	}
	if pct < cropPctMin {
		pct = cropPctMin
	} else if pct > cropPctMax {
		pct = cropPctMax
	}
	b := g.Bounds()
	h := b.Dy()
	var top, bottom int
	switch scope {
	case models.ScopeBottomStrip:
		top = b.Min.Y + int(float64(h)*(1-pct))
		bottom = b.Max.Y
	case models.ScopeMiddleBand:
		bandH := int(float64(h) * pct)
		top = b.Min.Y + h/2 - bandH/2
		if top < b.Min.Y {
			top = b.Min.Y
		}
		bottom = top + bandH
		if bottom > b.Max.Y {
			bottom = b.Max.Y
		}
	default:
		return g
	}
	if bottom <= top {
		return g
	}
	return g.SubImage(image.Rect(b.Min.X, top, b.Max.X, bottom)).(*image.Gray)
}

// graySignature is a perceptual fingerprint of a render: the SHA-1 of the
// image downscaled to 48x48 grayscale. Identical boilerplate pages produce
// identical signatures across binders regardless of OCR noise.
func graySignature(g *image.Gray) string {
	small := image.NewGray(image.Rect(0, 0, signatureSize, signatureSize))
	xdraw.BiLinear.Scale(small, small.Bounds(), g, g.Bounds(), xdraw.Src, nil)
	sum := sha1.Sum(small.Pix)
	return hex.EncodeToString(sum[:])
}
