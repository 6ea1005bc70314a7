// Package vocab canonicalizes colloquial auto-parts vocabulary so the
// extractor and the catalog see one name per part.
package vocab

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

// Normalizer rewrites text into canonical vocabulary. Implementations are pure.
type Normalizer interface {
	Normalize(text string) string
}

// NormalizerFunc adapts a plain function to Normalizer.
type NormalizerFunc func(string) string

func (f NormalizerFunc) Normalize(text string) string { return f(text) }

// Identity leaves text untouched.
var Identity = NormalizerFunc(func(s string) string { return s })

// TableNormalizer replaces whole words and phrases from a lookup table,
// preferring the longest phrase that matches at each position.
type TableNormalizer struct {
	terms    map[string]string
	maxWords int
}

type vocabularyFile struct {
	Terms map[string]string `yaml:"terms"`
}

// NewDefault loads the vocabulary table bundled with the binary.
func NewDefault() (*TableNormalizer, error) {
	return Parse(defaultVocabulary)
}

// Parse builds a TableNormalizer from a YAML document with a top-level
// "terms" mapping.
func Parse(data []byte) (*TableNormalizer, error) {
	var f vocabularyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing vocabulary: %w", err)
	}
	return NewTableNormalizer(f.Terms), nil
}

// NewTableNormalizer builds a normalizer over terms. Keys are lowercased.
func NewTableNormalizer(terms map[string]string) *TableNormalizer {
	n := &TableNormalizer{terms: make(map[string]string, len(terms))}
	for k, v := range terms {
		key := strings.Join(strings.Fields(strings.ToLower(k)), " ")
		if key == "" {
			continue
		}
		n.terms[key] = v
		n.maxWords = max(n.maxWords, len(strings.Fields(key)))
	}
	return n
}

// Len returns the number of terms in the table.
func (n *TableNormalizer) Len() int { return len(n.terms) }

func (n *TableNormalizer) Normalize(text string) string {
	toks := tokenize(text)
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(toks); {
		if !toks[i].word {
			b.WriteString(toks[i].text)
			i++
			continue
		}

		matched := false
		for size := n.maxWords; size >= 1; size-- {
			phrase, next, ok := phraseAt(toks, i, size)
			if !ok {
				continue
			}
			if repl, found := n.terms[strings.ToLower(phrase)]; found {
				b.WriteString(repl)
				i = next
				matched = true
				break
			}
		}
		if !matched {
			b.WriteString(toks[i].text)
			i++
		}
	}
	return b.String()
}

type token struct {
	text string
	word bool
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func tokenize(s string) []token {
	var toks []token
	start := 0
	var inWord bool
	for i, r := range s {
		w := isWordRune(r)
		if i == 0 {
			inWord = w
			continue
		}
		if w != inWord {
			toks = append(toks, token{text: s[start:i], word: inWord})
			start = i
			inWord = w
		}
	}
	if start < len(s) {
		toks = append(toks, token{text: s[start:], word: inWord})
	}
	return toks
}

// phraseAt joins size consecutive words starting at toks[i] when they are
// separated by single spaces. It returns the index just past the last word.
func phraseAt(toks []token, i, size int) (string, int, bool) {
	words := make([]string, 0, size)
	j := i
	for k := 0; k < size; k++ {
		if j >= len(toks) || !toks[j].word {
			return "", 0, false
		}
		words = append(words, toks[j].text)
		j++
		if k < size-1 {
			if j >= len(toks) || toks[j].text != " " {
				return "", 0, false
			}
			j++
		}
	}
	return strings.Join(words, " "), j, true
}
