// Package search ranks SOP paragraphs against free-text questions.
//
// Every SOP body is cut into paragraphs, with Markdown table rows promoted to
// paragraphs of their own. A paragraph is scored by the Jaccard similarity of
// its token set and the query's, |Q ∩ P| / |Q ∪ P|. The SOP title is part of
// each paragraph's token set so a query naming the procedure reaches every
// paragraph of it. Tokens are lower-cased with diacritics folded, so "kerusakan"
// matches "kérusakan".
//
// An index is immutable once built and safe for concurrent use; callers
// rebuild and swap it to pick up edits. The package does not log.
package search

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Document is one knowledge-base entry to index.
type Document struct {
	Ref   string // caller's identifier, e.g. the SOP id
	Title string
	Body  string
}

// Result is a ranked paragraph with its similarity score.
type Result struct {
	Ref     string  `json:"ref"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Index is implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Result
	Len() int
}

// DefaultK is the result count used when TopK is asked for k <= 0.
const DefaultK = 3

type config struct {
	minRunes int
	stop     tokenSet
	maxParas int
}

// Option tunes New.
type Option func(*config)

// WithMinParagraphRunes drops paragraphs shorter than n runes. The default
// is 12; negative values are ignored.
func WithMinParagraphRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minRunes = n
		}
	}
}

// WithStopwords removes words from both paragraphs and queries.
func WithStopwords(words []string) Option {
	return func(c *config) {
		set := tokenSet{}
		for _, w := range words {
			if w = fold(strings.TrimSpace(w)); w != "" {
				set[w] = struct{}{}
			}
		}
		if len(set) > 0 {
			c.stop = set
		}
	}
}

// WithMaxDocs caps the number of indexed paragraphs.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxParas = n
		}
	}
}

type paragraph struct {
	doc    *Document
	text   string
	runes  int
	tokens tokenSet
}

type index struct {
	stop  tokenSet
	paras []paragraph
}

// New builds an Index over docs.
func New(docs []Document, opts ...Option) Index {
	cfg := config{minRunes: 12}
	for _, o := range opts {
		o(&cfg)
	}

	docs = slices.Clone(docs)
	idx := &index{stop: cfg.stop}
	for i := range docs {
		d := &docs[i]
		title := tokenize(d.Title, cfg.stop)
		for _, text := range paragraphs(FlattenTables(d.Body)) {
			n := utf8.RuneCountInString(text)
			if n < cfg.minRunes {
				continue
			}
			toks := tokenize(text, cfg.stop)
			if len(toks) == 0 {
				continue
			}
			toks.add(title)
			idx.paras = append(idx.paras, paragraph{doc: d, text: text, runes: n, tokens: toks})
			if cfg.maxParas > 0 && len(idx.paras) == cfg.maxParas {
				return idx
			}
		}
	}
	return idx
}

func (x *index) Len() int { return len(x.paras) }

// TopK returns up to k paragraphs sharing at least one token with q, best
// first. Equal scores favour the shorter paragraph, then the
// lexicographically smaller one, so results are deterministic.
func (x *index) TopK(q string, k int) []Result {
	query := tokenize(q, x.stop)
	if len(query) == 0 || len(x.paras) == 0 {
		return nil
	}
	if k <= 0 {
		k = DefaultK
	}

	type hit struct {
		p     *paragraph
		score float64
	}
	var hits []hit
	for i := range x.paras {
		p := &x.paras[i]
		shared := query.shared(p.tokens)
		if shared == 0 {
			continue
		}
		union := len(query) + len(p.tokens) - shared
		hits = append(hits, hit{p: p, score: float64(shared) / float64(union)})
	}
	if len(hits) == 0 {
		return nil
	}

	slices.SortStableFunc(hits, func(a, b hit) int {
		return cmp.Or(
			cmp.Compare(b.score, a.score),
			cmp.Compare(a.p.runes, b.p.runes),
			strings.Compare(a.p.text, b.p.text),
		)
	})

	hits = hits[:min(k, len(hits))]
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{Ref: h.p.doc.Ref, Title: h.p.doc.Title, Snippet: h.p.text, Score: h.score}
	}
	return out
}

type tokenSet map[string]struct{}

func (s tokenSet) add(other tokenSet) {
	for t := range other {
		s[t] = struct{}{}
	}
}

// shared counts the tokens present in both sets.
func (s tokenSet) shared(other tokenSet) int {
	if len(s) > len(other) {
		s, other = other, s
	}
	n := 0
	for t := range s {
		if _, ok := other[t]; ok {
			n++
		}
	}
	return n
}

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*|\p{N}+`)

func tokenize(s string, stop tokenSet) tokenSet {
	words := wordRE.FindAllString(fold(s), -1)
	if len(words) == 0 {
		return nil
	}
	set := make(tokenSet, len(words))
	for _, w := range words {
		if _, skip := stop[w]; !skip {
			set[w] = struct{}{}
		}
	}
	return set
}

// fold lower-cases s and strips combining marks.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

var blankLineRE = regexp.MustCompile(`\n\s*\n`)

// paragraphs splits raw on blank lines and collapses whitespace inside each
// paragraph.
func paragraphs(raw string) []string {
	var out []string
	for _, chunk := range blankLineRE.Split(raw, -1) {
		if p := strings.Join(strings.Fields(chunk), " "); p != "" {
			out = append(out, p)
		}
	}
	return out
}
