package orchestrator

import (
	"strings"

	"github.com/refaxbot/refaxbot/internal/vocab"
)

// Preprocess lowercases and trims text, rewrites colloquial vocabulary, then
// drops punctuation and collapses whitespace. Only ASCII letters, digits,
// accented vowels and ñ survive.
func Preprocess(text string, n vocab.Normalizer) string {
	s := strings.ToLower(strings.TrimSpace(text))
	if n != nil {
		s = n.Normalize(s)
	}
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case strings.ContainsRune("áéíóúüñ", r):
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// partTopics are the canonical part names recognized as a conversation topic.
// Longer names come first so "filtro de aire" wins over "filtro".
var partTopics = []string{
	"banda de distribución", "filtro de aire", "filtro de aceite", "bomba de agua",
	"balatas", "amortiguadores", "embrague", "bujías", "filtro", "aceite",
	"batería", "refrigerante", "radiador", "alternador", "marcha", "faros",
	"silenciador", "neumáticos", "llantas", "rótulas", "terminales", "discos",
}

// topicOf returns the part a normalized message talks about, or "".
func topicOf(normalized string) string {
	padded := " " + normalized + " "
	for _, t := range partTopics {
		if strings.Contains(padded, " "+t+" ") {
			return t
		}
	}
	return ""
}
