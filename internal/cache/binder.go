// Package cache provides the durable tiers of the splitter's caching:
// per-binder OCR results keyed by content fingerprint, and cross-binder
// page templates keyed by text/image fingerprints.
//
// Both tiers are advisory. Every read that fails to parse, carries a stale
// version marker, or is missing is treated as a miss; a miss only costs an
// OCR run, never a wrong result. Writes are atomic (temp file + rename) and
// best-effort: a failed write is logged at debug and otherwise ignored.
//
// Disk layout:
//
//	<root>/ocr/<binder_fingerprint>/<page>_<scope>.json
//	<root>/templates/<RULE_SLUG>/<fingerprint>.json
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"bindersplit/internal/logger"
	"bindersplit/pkg/models"
)

// BinderCache is the disk tier of OCR results for one binder fingerprint.
// OCR dominates processing cost by one to two orders of magnitude over
// native extraction, and binders are reprocessed frequently while rules are
// tuned, so an unmodified binder should never be OCR'd twice.
type BinderCache struct {
	dir string
	log zerolog.Logger
}

// NewBinderCache scopes a cache directory to a binder fingerprint.
func NewBinderCache(root, fingerprint string) *BinderCache {
	return &BinderCache{
		dir: filepath.Join(root, "ocr", fingerprint),
		log: logger.WithComponent("cache"),
	}
}

func (c *BinderCache) entryPath(page int, scope models.OCRScope) string {
	if scope == "" {
		scope = models.ScopeFull
	}
	return filepath.Join(c.dir, fmt.Sprintf("%05d_%s.json", page, scope))
}

// Load returns the cached entry for a (page, scope) pair, or nil on miss.
func (c *BinderCache) Load(page int, scope models.OCRScope) *models.OCREntry {
	data, err := os.ReadFile(c.entryPath(page, scope))
	if err != nil {
		return nil
	}
	var entry models.OCREntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.log.Debug().Err(err).Int("page", page).Str("scope", string(scope)).Msg("discarding corrupt cache entry")
		return nil
	}
	if entry.Raw == "" && entry.Clean == "" {
		return nil
	}
	if entry.Scope == "" {
		entry.Scope = scope
	}
	if entry.Length == 0 {
		entry.Length = len(entry.Clean)
	}
	return &entry
}

// Save persists an entry, overwriting any previous one for the pair.
func (c *BinderCache) Save(page int, scope models.OCRScope, entry *models.OCREntry) {
	if entry == nil {
		return
	}
	path := c.entryPath(page, scope)
	if err := writeJSONAtomic(path, entry); err != nil {
		c.log.Debug().Err(err).Int("page", page).Str("scope", string(scope)).Msg("cache write failed")
	}
}

func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
