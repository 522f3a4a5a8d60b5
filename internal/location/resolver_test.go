package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_PostalCode(t *testing.T) {
	res := Default().Resolve(" 75008 ")

	assert.True(t, res.Success)
	assert.Equal(t, TypePostalCode, res.Type)
	assert.Equal(t, []string{"75008"}, res.PostalCodes)
}

func TestResolve_DistrictCities(t *testing.T) {
	tests := []struct {
		input string
		count int
		first string
		last  string
	}{
		{"Paris", 20, "75001", "75020"},
		{"  LYON ", 9, "69001", "69009"},
		{"Marseille", 16, "13001", "13016"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			res := Default().Resolve(tt.input)
			require.True(t, res.Success)
			assert.Equal(t, TypeDistricts, res.Type)
			require.Len(t, res.PostalCodes, tt.count)
			assert.Equal(t, tt.first, res.PostalCodes[0])
			assert.Equal(t, tt.last, res.PostalCodes[len(res.PostalCodes)-1])
		})
	}
}

func TestResolve_MainCityWithAccentsAndSpaces(t *testing.T) {
	res := Default().Resolve("Saint Étienne")

	require.True(t, res.Success)
	assert.Equal(t, TypeMainCity, res.Type)
	assert.Equal(t, []string{"42000", "42100"}, res.PostalCodes)
	assert.Equal(t, 2, res.Count())
}

func TestResolve_TypoSuggestsCity(t *testing.T) {
	res := Default().Resolve("Pariss")

	assert.False(t, res.Success)
	assert.Equal(t, TypeUnknownCity, res.Type)
	assert.Empty(t, res.PostalCodes)
	assert.Contains(t, res.Suggestions, "paris")
	assert.LessOrEqual(t, len(res.Suggestions), 3)
	assert.NotEmpty(t, res.Error)
}

func TestResolve_SuggestionsOrderedByDistance(t *testing.T) {
	res := Default().Resolve("lile")

	require.NotEmpty(t, res.Suggestions)
	assert.Equal(t, "lille", res.Suggestions[0])
}

func TestResolve_NotFound(t *testing.T) {
	res := Default().Resolve("Zzyzx-sur-Mer")

	assert.False(t, res.Success)
	assert.Equal(t, TypeNotFound, res.Type)
	assert.Empty(t, res.Suggestions)
	assert.Empty(t, res.PostalCodes)
}

func TestResolve_EmptyInput(t *testing.T) {
	res := Default().Resolve("   ")

	assert.False(t, res.Success)
	assert.Equal(t, TypeInvalidInput, res.Type)
}

func TestResolve_ReturnsCopies(t *testing.T) {
	r := Default()
	res := r.Resolve("paris")
	res.PostalCodes[0] = "00000"

	assert.Equal(t, "75001", r.Resolve("paris").PostalCodes[0])
}

func TestSuggest_TiesKeepTableOrder(t *testing.T) {
	r, err := Parse([]byte(`
districts:
  - {key: abcd, name: Abcd, codes: ["00001"]}
cities:
  - {key: abce, codes: ["00002"]}
  - {key: abcf, codes: ["00003"]}
  - {key: abcg, codes: ["00004"]}
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"abcd", "abce", "abcf"}, r.Suggest("abcx"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "clermont-ferrand", Normalize("Clermont   Ferrand"))
	assert.Equal(t, "besancon", Normalize("Besançon"))
	assert.Equal(t, "nimes", Normalize("Nîmes"))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, Levenshtein("paris", "paris"))
	assert.Equal(t, 1, Levenshtein("pariss", "paris"))
	assert.Equal(t, 3, Levenshtein("kitten", "sitting"))
	assert.Equal(t, 4, Levenshtein("", "lyon"))
}
