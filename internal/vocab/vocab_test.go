package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultVocabulary_Loads(t *testing.T) {
	n, err := NewDefault()
	require.NoError(t, err)
	assert.Greater(t, n.Len(), 10)
}

func TestTableNormalizer_Normalize(t *testing.T) {
	n := NewTableNormalizer(map[string]string{
		"pastillas":          "balatas",
		"pastillas de freno": "balatas",
		"amortis":            "amortiguadores",
		"Carro":              "auto",
	})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single word", "busco amortis", "busco amortiguadores"},
		{"longest phrase wins", "necesito pastillas de freno para mi toyota", "necesito balatas para mi toyota"},
		{"shorter phrase when longer does not match", "pastillas traseras", "balatas traseras"},
		{"keeps punctuation", "pastillas, amortis!", "balatas, amortiguadores!"},
		{"whole words only", "pastillasx y amortisador", "pastillasx y amortisador"},
		{"keys are case insensitive", "mi carro", "mi auto"},
		{"phrase needs single spaces", "pastillas  de freno", "balatas  de freno"},
		{"empty", "", ""},
		{"accents preserved", "¿tienen pastillas?", "¿tienen balatas?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.in))
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("terms: [unclosed"))
	assert.Error(t, err)
}

func TestIdentity(t *testing.T) {
	assert.Equal(t, "Hola, Mundo", Identity.Normalize("Hola, Mundo"))
}
