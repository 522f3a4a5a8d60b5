package models

// SearchFilters holds the caller's registry search criteria. Values are
// immutable for the duration of a search.
type SearchFilters struct {
	SectorCode  string   `json:"code_ape,omitempty"`
	Location    string   `json:"location,omitempty"`
	Brackets    []string `json:"tranche_effectif_salarie,omitempty"`
	LegalNature string   `json:"nature_juridique,omitempty"`
	Category    string   `json:"categorie_entreprise,omitempty"`

	// AdministrativeStatus defaults to active only; "all" disables the filter.
	AdministrativeStatus string `json:"etat_administratif,omitempty"`
	// IncludeSoleProprietors lifts the forced exclusion of individual
	// entrepreneurs.
	IncludeSoleProprietors bool `json:"include_sole_proprietors,omitempty"`

	Count   int    `json:"nombre"`
	ActorID string `json:"actor_id,omitempty"`
}
