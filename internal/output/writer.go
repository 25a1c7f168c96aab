// Package output assembles and saves split documents. Assembly is purely
// additive: pages are collected out of the source binder into new files and
// the binder itself is never modified.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"

	"bindersplit/internal/logger"
)

const invalidFilenameChars = `\/:*?"<>|`

// Writer saves documents split out of one binder into the binder-named
// subfolder of the output root.
type Writer struct {
	binderPath string
	dir        string
	log        zerolog.Logger
}

// NewWriter targets <outputRoot>/<binder stem>_split. The folder is created
// lazily on first save.
func NewWriter(outputRoot, binderPath string) *Writer {
	stem := strings.TrimSuffix(filepath.Base(binderPath), filepath.Ext(binderPath))
	return &Writer{
		binderPath: binderPath,
		dir:        filepath.Join(outputRoot, stem+"_split"),
		log:        logger.WithComponent("output"),
	}
}

// Dir returns the output folder path.
func (w *Writer) Dir() string { return w.dir }

// SanitizeFilename replaces OS-invalid characters with "-" and trims
// trailing dots and spaces. An empty result becomes "document".
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, ch := range name {
		if strings.ContainsRune(invalidFilenameChars, ch) {
			b.WriteByte('-')
		} else {
			b.WriteRune(ch)
		}
	}
	out := strings.TrimRight(b.String(), " .")
	if out == "" {
		return "document"
	}
	return out
}

// ExpandName applies filename conventions: "YY" becomes the current
// two-digit year and a .pdf extension is forced.
func ExpandName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "YY", time.Now().Format("06")))
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

// resolve turns a requested name into a collision-free absolute path,
// creating the output folder on first use.
func (w *Writer) resolve(name string) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", WrapOutputError("resolve", err, "create output folder")
	}
	filename := ExpandName(SanitizeFilename(name))
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	candidate := filepath.Join(w.dir, filename)
	for n := 2; ; n++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
		candidate = filepath.Join(w.dir, fmt.Sprintf("%s (%d)%s", base, n, ext))
	}
}

// collect writes the given 1-based page selections, in order, to a new file.
func (w *Writer) collect(name string, selections []string) (string, error) {
	outPath, err := w.resolve(name)
	if err != nil {
		return "", err
	}
	if err := api.CollectFile(w.binderPath, outPath, selections, nil); err != nil {
		return "", WrapOutputError("collect", ErrSaveFailed, fmt.Sprintf("%s: %v", outPath, err))
	}
	w.log.Debug().Str("path", outPath).Strs("pages", selections).Msg("saved document")
	return outPath, nil
}

// SaveRange saves pages start..end (inclusive, 0-based) as one document.
func (w *Writer) SaveRange(start, end int, name string) (string, error) {
	return w.collect(name, []string{fmt.Sprintf("%d-%d", start+1, end+1)})
}

// SaveSingle saves one page as its own document.
func (w *Writer) SaveSingle(page int, name string) (string, error) {
	return w.collect(name, []string{fmt.Sprintf("%d", page+1)})
}

// SaveSpliced saves a dealer application range with a standalone location
// page spliced in after the fourth page: start..start+3, the location page,
// then the remainder of the range.
func (w *Writer) SaveSpliced(start, end, location int, name string) (string, error) {
	firstEnd := start + 3
	if firstEnd > end {
		firstEnd = end
	}
	selections := []string{
		fmt.Sprintf("%d-%d", start+1, firstEnd+1),
		fmt.Sprintf("%d", location+1),
	}
	if firstEnd+1 <= end {
		selections = append(selections, fmt.Sprintf("%d-%d", firstEnd+2, end+1))
	}
	return w.collect(name, selections)
}

// Discard rolls back a run: the given saved files are deleted and the
// output folder removed if it is now empty. Used on cancellation to keep
// the external effect all-or-nothing.
func (w *Writer) Discard(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			w.log.Debug().Err(err).Str("path", p).Msg("rollback delete failed")
		}
	}
	entries, err := os.ReadDir(w.dir)
	if err == nil && len(entries) == 0 {
		os.Remove(w.dir)
	}
}
