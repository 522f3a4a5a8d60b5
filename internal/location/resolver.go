// Package location turns free-text places into registry postal-code filters.
package location

import (
	"embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed data/cities.yaml
var dataFS embed.FS

// Result types.
const (
	TypePostalCode   = "code_postal"
	TypeDistricts    = "ville_arrondissements"
	TypeMainCity     = "ville_principale"
	TypeUnknownCity  = "ville_inconnue"
	TypeNotFound     = "not_found"
	TypeInvalidInput = "invalid"
)

// MaxDistance is the largest edit distance still offered as a suggestion.
const MaxDistance = 3

const maxSuggestions = 3

// Result is the outcome of resolving one location input.
type Result struct {
	Success     bool     `json:"success"`
	Type        string   `json:"type"`
	Original    string   `json:"original"`
	City        string   `json:"ville,omitempty"`
	PostalCodes []string `json:"codePostaux"`
	Suggestions []string `json:"suggestions,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Count is the number of resolved postal codes.
func (r Result) Count() int { return len(r.PostalCodes) }

// City is one known city and its postal codes.
type City struct {
	Key   string   `yaml:"key" json:"key"`
	Name  string   `yaml:"name,omitempty" json:"name,omitempty"`
	Codes []string `yaml:"codes" json:"codes"`
}

type cityFile struct {
	Districts []City `yaml:"districts"`
	Cities    []City `yaml:"cities"`
}

// Resolver resolves postal codes and known city names.
type Resolver struct {
	districts map[string]City
	cities    map[string]City
	// names keeps districts first, then main cities, in file order; ties in
	// fuzzy matching resolve in this order.
	names []string
	all   cityFile
}

var (
	defaultOnce     sync.Once
	defaultResolver *Resolver
)

// Default returns the resolver over the embedded city table.
func Default() *Resolver {
	defaultOnce.Do(func() {
		raw, err := dataFS.ReadFile("data/cities.yaml")
		if err != nil {
			panic(fmt.Sprintf("location: %v", err))
		}
		r, err := Parse(raw)
		if err != nil {
			panic(fmt.Sprintf("location: %v", err))
		}
		defaultResolver = r
	})
	return defaultResolver
}

// Parse builds a resolver from a YAML city table.
func Parse(raw []byte) (*Resolver, error) {
	var f cityFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse cities: %w", err)
	}

	r := &Resolver{
		districts: make(map[string]City, len(f.Districts)),
		cities:    make(map[string]City, len(f.Cities)),
		all:       f,
	}
	for _, c := range f.Districts {
		r.districts[c.Key] = c
		r.names = append(r.names, c.Key)
	}
	for _, c := range f.Cities {
		r.cities[c.Key] = c
		r.names = append(r.names, c.Key)
	}
	return r, nil
}

// Districts lists the cities split into arrondissements.
func (r *Resolver) Districts() []City { return r.all.Districts }

// Cities lists the other known cities.
func (r *Resolver) Cities() []City { return r.all.Cities }

var postalCode = regexp.MustCompile(`^\d{5}$`)

// Resolve classifies input as a postal code or a city name and expands it.
func (r *Resolver) Resolve(input string) Result {
	cleaned := strings.TrimSpace(input)
	if cleaned == "" {
		return Result{Type: TypeInvalidInput, Original: input, PostalCodes: []string{}, Error: "Entrée invalide"}
	}

	if postalCode.MatchString(cleaned) {
		return Result{
			Success:     true,
			Type:        TypePostalCode,
			Original:    input,
			PostalCodes: []string{cleaned},
		}
	}

	key := Normalize(cleaned)

	if c, ok := r.districts[key]; ok {
		return Result{
			Success:     true,
			Type:        TypeDistricts,
			Original:    input,
			City:        c.Name,
			PostalCodes: append([]string(nil), c.Codes...),
		}
	}

	if c, ok := r.cities[key]; ok {
		return Result{
			Success:     true,
			Type:        TypeMainCity,
			Original:    input,
			City:        cleaned,
			PostalCodes: append([]string(nil), c.Codes...),
		}
	}

	if suggestions := r.Suggest(key); len(suggestions) > 0 {
		return Result{
			Type:        TypeUnknownCity,
			Original:    input,
			PostalCodes: []string{},
			Suggestions: suggestions,
			Error:       fmt.Sprintf("Ville %q non trouvée", cleaned),
		}
	}

	return Result{
		Type:        TypeNotFound,
		Original:    input,
		PostalCodes: []string{},
		Error:       fmt.Sprintf("Ville %q non reconnue. Veuillez entrer un code postal spécifique.", cleaned),
	}
}

// Suggest returns up to three known city keys within MaxDistance of the
// normalized name, closest first.
func (r *Resolver) Suggest(normalized string) []string {
	type match struct {
		name     string
		distance int
	}
	var matches []match
	for _, name := range r.names {
		if d := Levenshtein(normalized, name); d <= MaxDistance {
			matches = append(matches, match{name, d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].distance < matches[j].distance
	})

	out := make([]string, 0, maxSuggestions)
	for i := 0; i < len(matches) && i < maxSuggestions; i++ {
		out = append(out, matches[i].name)
	}
	return out
}

var whitespace = regexp.MustCompile(`\s+`)

// Normalize lowercases a city name, strips diacritics and joins words
// with hyphens: "Saint Étienne" becomes "saint-etienne".
func Normalize(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		stripped = strings.ToLower(strings.TrimSpace(name))
	}
	return whitespace.ReplaceAllString(stripped, "-")
}

// Levenshtein is the rune-wise edit distance between a and b.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
