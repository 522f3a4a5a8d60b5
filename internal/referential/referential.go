// Package referential holds the static business reference data used to build
// registry queries and label their results: headcount brackets and activity
// sectors. The tables are embedded YAML loaded once on first use.
package referential

import (
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var dataFS embed.FS

// Bracket is one INSEE headcount range. Max is -1 for the open-ended top range.
type Bracket struct {
	Code  string `yaml:"code" json:"code"`
	Label string `yaml:"label" json:"label"`
	Min   int    `yaml:"min" json:"min"`
	Max   int    `yaml:"max" json:"max"`
}

// SizeClass groups brackets into the usual company size classes.
type SizeClass struct {
	ID          string   `yaml:"id" json:"id"`
	Label       string   `yaml:"label" json:"label"`
	Description string   `yaml:"description" json:"description"`
	Codes       []string `yaml:"codes" json:"codes"`
}

// SectorCode is a single APE code with its label.
type SectorCode struct {
	Value string `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label"`
}

// SectorGroup is a broad activity family listing APE codes.
type SectorGroup struct {
	ID          string       `yaml:"id" json:"id"`
	Label       string       `yaml:"label" json:"label"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Codes       []SectorCode `yaml:"codes" json:"codes"`
}

type bracketFile struct {
	Brackets []Bracket   `yaml:"brackets"`
	Classes  []SizeClass `yaml:"classes"`
}

type sectorFile struct {
	Groups    []SectorGroup     `yaml:"groups"`
	Divisions map[string]string `yaml:"divisions"`
}

// Tables is the loaded reference data.
type Tables struct {
	brackets  []Bracket
	byCode    map[string]Bracket
	classes   []SizeClass
	groups    []SectorGroup
	divisions map[string]string
}

var (
	loadOnce sync.Once
	loaded   *Tables
	loadErr  error
)

// Default returns the embedded tables. It panics if the embedded data is
// malformed.
func Default() *Tables {
	loadOnce.Do(func() {
		loaded, loadErr = Load(dataFS)
	})
	if loadErr != nil {
		panic(fmt.Sprintf("referential: %v", loadErr))
	}
	return loaded
}

// Load parses brackets.yaml and sectors.yaml from fsys (paths under data/).
func Load(fsys embed.FS) (*Tables, error) {
	raw, err := fsys.ReadFile("data/brackets.yaml")
	if err != nil {
		return nil, fmt.Errorf("read brackets: %w", err)
	}
	var bf bracketFile
	if err := yaml.Unmarshal(raw, &bf); err != nil {
		return nil, fmt.Errorf("parse brackets: %w", err)
	}

	raw, err = fsys.ReadFile("data/sectors.yaml")
	if err != nil {
		return nil, fmt.Errorf("read sectors: %w", err)
	}
	var sf sectorFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("parse sectors: %w", err)
	}

	t := &Tables{
		brackets:  bf.Brackets,
		byCode:    make(map[string]Bracket, len(bf.Brackets)),
		classes:   bf.Classes,
		groups:    sf.Groups,
		divisions: sf.Divisions,
	}
	for _, b := range bf.Brackets {
		t.byCode[b.Code] = b
	}
	return t, nil
}

// Brackets returns every headcount bracket in registry order.
func (t *Tables) Brackets() []Bracket { return t.brackets }

// SizeClasses returns the grouped size classes.
func (t *Tables) SizeClasses() []SizeClass { return t.classes }

// Sectors returns the sector groups.
func (t *Tables) Sectors() []SectorGroup { return t.groups }

// BracketLabel returns the display label for a bracket code. Unknown codes are
// returned unchanged.
func (t *Tables) BracketLabel(code string) string {
	if code == "" {
		return "Non renseigné"
	}
	if b, ok := t.byCode[code]; ok {
		return b.Label
	}
	return code
}

// CodesForClasses returns the deduplicated union of bracket codes for the
// given size class ids, in first-seen order. Unknown ids contribute nothing.
func (t *Tables) CodesForClasses(ids []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range ids {
		for _, c := range t.classes {
			if c.ID != id {
				continue
			}
			for _, code := range c.Codes {
				if !seen[code] {
					seen[code] = true
					out = append(out, code)
				}
			}
		}
	}
	return out
}

// ClassOf returns the size class containing code.
func (t *Tables) ClassOf(code string) (SizeClass, bool) {
	for _, c := range t.classes {
		for _, cc := range c.Codes {
			if cc == code {
				return c, true
			}
		}
	}
	return SizeClass{}, false
}

// IsSoleProprietor reports whether the bracket code means no employees.
func IsSoleProprietor(code string) bool {
	return code == "00" || code == "NN"
}

// SectorLabel labels an APE code by its two-digit division.
func (t *Tables) SectorLabel(code string) string {
	if code == "" {
		return "Non renseigné"
	}
	prefix := code
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	if label, ok := t.divisions[prefix]; ok {
		return label
	}
	return "Autres activités"
}

// FindCode locates an APE code in the sector catalogue.
func (t *Tables) FindCode(code string) (SectorGroup, SectorCode, bool) {
	for _, g := range t.groups {
		for _, c := range g.Codes {
			if c.Value == code {
				return g, c, true
			}
		}
	}
	return SectorGroup{}, SectorCode{}, false
}

var (
	apeFormatted = regexp.MustCompile(`^\d{2}\.\d{2}[A-Z]$`)
	fourDigits   = regexp.MustCompile(`^\d{4}$`)
	separators   = regexp.MustCompile(`[\s.]`)
)

// FormatSectorCode normalizes user input to the registry's DD.DDL format:
// "6201" and "62.01" become "62.01Z", "62.01Z" is kept, and anything else
// gets a literal Z appended after removing spaces and dots.
func FormatSectorCode(input string) string {
	if input == "" {
		return ""
	}
	code := separators.ReplaceAllString(input, "")
	if fourDigits.MatchString(code) {
		return code[:2] + "." + code[2:] + "Z"
	}
	if apeFormatted.MatchString(input) {
		return input
	}
	return code + "Z"
}

// IsPostalCode reports whether s is a five-digit French postal code.
func IsPostalCode(s string) bool {
	if len(s) != 5 {
		return false
	}
	return strings.Trim(s, "0123456789") == ""
}

// DepartmentOf returns the department number for a postal code, with the
// Corsican split into 2A and 2B.
func DepartmentOf(postalCode string) (string, bool) {
	if !IsPostalCode(postalCode) {
		return "", false
	}
	if strings.HasPrefix(postalCode, "20") {
		if strings.HasPrefix(postalCode, "200") || strings.HasPrefix(postalCode, "201") {
			return "2A", true
		}
		return "2B", true
	}
	return postalCode[:2], true
}
