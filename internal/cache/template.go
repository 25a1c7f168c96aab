package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bindersplit/internal/logger"
	"bindersplit/pkg/models"
)

const (
	// TemplateVersion marks the on-disk template format; mismatches are
	// cache misses.
	TemplateVersion = 1

	templateMaxPerRule = 20
	templateMaxBytes   = 200 * 1024 * 1024

	templatePrefixLen      = 200
	templateFingerprintLen = 400
	templateTokenLimit     = 60
	templateSeedTokenLimit = 50

	// templateMinScore is the minimum combined match score; anything
	// below is noise (a couple of shared common tokens).
	templateMinScore = 5

	scorePrefix   = 100
	scoreImageSig = 200
)

var slugPattern = regexp.MustCompile(`[^A-Za-z0-9]+`)

// TemplateStore caches previously OCR'd page content per rule, keyed by a
// clean-text fingerprint. Binders reuse visually identical boilerplate pages
// (the same state application form across different insureds); matching by
// content fingerprint both skips the OCR run and shields the result from
// that run's transient OCR noise.
type TemplateStore struct {
	root string
	log  zerolog.Logger
}

// NewTemplateStore roots a store at <root>/templates.
func NewTemplateStore(root string) *TemplateStore {
	return &TemplateStore{
		root: filepath.Join(root, "templates"),
		log:  logger.WithComponent("templates"),
	}
}

// RuleSlug converts a rule name into its template directory name.
func RuleSlug(rule string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToUpper(rule), "_"), "_")
	if slug == "" {
		return "UNKNOWN"
	}
	if len(slug) > 80 {
		slug = slug[:80]
	}
	return slug
}

// ExtractTokens returns up to limit salient tokens from clean text:
// length > 2, deduplicated, in document order.
func ExtractTokens(clean string, limit int) []string {
	var tokens []string
	seen := make(map[string]bool)
	for _, tok := range strings.Fields(clean) {
		if len(tok) <= 2 || seen[tok] {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
		if len(tokens) >= limit {
			break
		}
	}
	return tokens
}

func (t *TemplateStore) ruleDir(rule string) string {
	return filepath.Join(t.root, RuleSlug(rule))
}

// diskTemplate carries path/size bookkeeping alongside the payload.
type diskTemplate struct {
	models.TemplateEntry
	path string
	size int64
}

func (t *TemplateStore) loadEntry(path string) *diskTemplate {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var entry models.TemplateEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.log.Debug().Err(err).Str("path", path).Msg("discarding corrupt template")
		return nil
	}
	if entry.Version != TemplateVersion {
		return nil
	}
	if entry.TokensCount == 0 {
		entry.TokensCount = len(entry.Tokens)
	}
	if entry.LastUsed == "" {
		entry.LastUsed = entry.Created
	}
	return &diskTemplate{TemplateEntry: entry, path: path, size: int64(len(data))}
}

func (t *TemplateStore) collect(rule string) []*diskTemplate {
	dir := t.ruleDir(rule)
	names, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var entries []*diskTemplate
	for _, de := range names {
		if de.IsDir() || !strings.HasSuffix(strings.ToLower(de.Name()), ".json") {
			continue
		}
		if entry := t.loadEntry(filepath.Join(dir, de.Name())); entry != nil {
			entries = append(entries, entry)
		}
	}
	return entries
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseISO(v string) int64 {
	if v == "" {
		return 0
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0
	}
	return ts.Unix()
}

// rank orders entries for eviction: the lowest-ranked entry dies first.
// Frequency, token richness, text length and recency keep an entry alive;
// among otherwise equal entries the larger one is evicted first.
type rankKey struct {
	hits, tokens, length int
	lastUsed, created    int64
	negSize              int64
}

func (d *diskTemplate) rank() rankKey {
	return rankKey{
		hits:     d.Hits,
		tokens:   d.TokensCount,
		length:   d.Length,
		lastUsed: parseISO(d.LastUsed),
		created:  parseISO(d.Created),
		negSize:  -d.size,
	}
}

func rankLess(a, b rankKey) bool {
	switch {
	case a.hits != b.hits:
		return a.hits < b.hits
	case a.tokens != b.tokens:
		return a.tokens < b.tokens
	case a.length != b.length:
		return a.length < b.length
	case a.lastUsed != b.lastUsed:
		return a.lastUsed < b.lastUsed
	case a.created != b.created:
		return a.created < b.created
	default:
		return a.negSize < b.negSize
	}
}

// Match looks for a stored template compatible with the seed text and image
// signature. Scoring: mutual 200-char prefix match +100, token-set
// intersection size, exact image signature +200; a combined score below 5
// is a miss. On a hit the entry's usage counters are bumped and persisted.
func (t *TemplateStore) Match(rule, seedClean, seedSig string) *models.TemplateEntry {
	prefixSeed := seedClean
	if len(prefixSeed) > templatePrefixLen {
		prefixSeed = prefixSeed[:templatePrefixLen]
	}
	tokenSeed := make(map[string]bool)
	for _, tok := range ExtractTokens(seedClean, templateSeedTokenLimit) {
		tokenSeed[tok] = true
	}
	if prefixSeed == "" && len(tokenSeed) == 0 && seedSig == "" {
		return nil
	}

	var best *diskTemplate
	bestScore := 0
	for _, entry := range t.collect(rule) {
		score := 0
		if entry.Prefix != "" && prefixSeed != "" &&
			(strings.HasPrefix(entry.Prefix, prefixSeed) || strings.HasPrefix(prefixSeed, entry.Prefix)) {
			score += scorePrefix
		}
		for _, tok := range entry.Tokens {
			if tokenSeed[tok] {
				score++
			}
		}
		if seedSig != "" && entry.ImageSig == seedSig {
			score += scoreImageSig
		}
		if score > bestScore && score >= templateMinScore {
			bestScore = score
			best = entry
		}
	}
	if best == nil {
		return nil
	}
	t.markUsed(best)
	out := best.TemplateEntry
	return &out
}

func (t *TemplateStore) markUsed(entry *diskTemplate) {
	entry.Hits++
	entry.LastUsed = nowISO()
	entry.TokensCount = len(entry.Tokens)
	if err := writeJSONAtomic(entry.path, &entry.TemplateEntry); err != nil {
		t.log.Debug().Err(err).Str("path", entry.path).Msg("template usage write failed")
	}
}

// Save persists an OCR result as a template for a rule, preserving usage
// counters when the same fingerprint was saved before, then applies both
// eviction caps.
func (t *TemplateStore) Save(rule string, entry *models.OCREntry, clean string) {
	if rule == "" || entry == nil || clean == "" {
		return
	}
	prefix := clean
	if len(prefix) > templatePrefixLen {
		prefix = prefix[:templatePrefixLen]
	}
	fpBase := clean
	if len(fpBase) > templateFingerprintLen {
		fpBase = fpBase[:templateFingerprintLen]
	}
	sum := sha1.Sum([]byte(fpBase))
	path := filepath.Join(t.ruleDir(rule), hex.EncodeToString(sum[:])+".json")

	created, lastUsed, hits := nowISO(), "", 0
	if existing := t.loadEntry(path); existing != nil {
		created = existing.Created
		lastUsed = existing.LastUsed
		hits = existing.Hits
	}
	if lastUsed == "" {
		lastUsed = created
	}

	tokens := ExtractTokens(clean, templateTokenLimit)
	payload := models.TemplateEntry{
		Version:     TemplateVersion,
		Rule:        rule,
		Created:     created,
		LastUsed:    lastUsed,
		Prefix:      prefix,
		Tokens:      tokens,
		TokensCount: len(tokens),
		Hits:        hits,
		Raw:         entry.Raw,
		Clean:       entry.Clean,
		DPI:         entry.DPI,
		AvgConf:     entry.AvgConf,
		Length:      entry.Length,
		ImageSig:    entry.ImageSig,
	}
	if payload.Length == 0 {
		payload.Length = len(clean)
	}
	if err := writeJSONAtomic(path, &payload); err != nil {
		t.log.Debug().Err(err).Str("rule", rule).Msg("template write failed")
		return
	}
	t.evictRule(rule)
	t.evictGlobal()
}

func (t *TemplateStore) evictRule(rule string) {
	entries := t.collect(rule)
	if len(entries) <= templateMaxPerRule {
		return
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return rankLess(entries[i].rank(), entries[j].rank())
	})
	for _, entry := range entries[:len(entries)-templateMaxPerRule] {
		os.Remove(entry.path)
	}
}

func (t *TemplateStore) evictGlobal() {
	var entries []*diskTemplate
	var total int64
	filepath.Walk(t.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".json") {
			return nil
		}
		if entry := t.loadEntry(path); entry != nil {
			entries = append(entries, entry)
			total += entry.size
		}
		return nil
	})
	if total <= templateMaxBytes {
		return
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return rankLess(entries[i].rank(), entries[j].rank())
	})
	for _, entry := range entries {
		if total <= templateMaxBytes {
			break
		}
		if os.Remove(entry.path) == nil {
			total -= entry.size
		}
	}
}
