package sirene

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blockedby/prospect-os/internal/models"
	"github.com/blockedby/prospect-os/internal/referential"
)

// MaxPageSize is the largest per_page value the registry accepts.
const MaxPageSize = 25

// Page is one page of normalized registry results.
type Page struct {
	Companies    []models.Company
	TotalResults int
}

// Client fetches result pages from the company registry search endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	tables  *referential.Tables
	now     func() time.Time
}

// NewClient creates a registry client. A zero timeout means no timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tables:  referential.Default(),
		now:     time.Now,
	}
}

// FetchPage requests one page with the given query parameters. A 429 returns
// an error wrapping ErrRateLimited; any other non-2xx status is a plain error.
func (c *Client) FetchPage(ctx context.Context, params url.Values, page, perPage int) (*Page, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("page %d: %w", page, ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("page %d: registry status %d: %s", page, resp.StatusCode, bytes.TrimSpace(body))
	}

	var raw searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode page %d: %w", page, err)
	}

	out := &Page{
		Companies:    make([]models.Company, 0, len(raw.Results)),
		TotalResults: raw.TotalResults,
	}
	for _, r := range raw.Results {
		out.Companies = append(out.Companies, c.normalize(r))
	}
	return out, nil
}

type searchResponse struct {
	Results      []rawCompany `json:"results"`
	TotalResults int          `json:"total_results"`
}

type rawCompany struct {
	Siren                  string             `json:"siren"`
	NomComplet             string             `json:"nom_complet"`
	NomRaisonSociale       string             `json:"nom_raison_sociale"`
	Sigle                  string             `json:"sigle"`
	ActivitePrincipale     string             `json:"activite_principale"`
	NatureJuridique        codeField          `json:"nature_juridique"`
	CategorieEntreprise    string             `json:"categorie_entreprise"`
	EtatAdministratif      string             `json:"etat_administratif"`
	NombreEtablissements   int                `json:"nombre_etablissements"`
	DateCreation           string             `json:"date_creation"`
	DateMiseAJour          string             `json:"date_mise_a_jour"`
	Siege                  *rawEstablishment  `json:"siege"`
	MatchingEtablissements []rawEstablishment `json:"matching_etablissements"`
	Dirigeants             []rawLeader        `json:"dirigeants"`
}

type rawEstablishment struct {
	Siret                  string    `json:"siret"`
	NomCommercial          string    `json:"nom_commercial"`
	Adresse                string    `json:"adresse"`
	CodePostal             string    `json:"code_postal"`
	LibelleCommune         string    `json:"libelle_commune"`
	TrancheEffectifSalarie string    `json:"tranche_effectif_salarie"`
	EtatAdministratif      string    `json:"etat_administratif"`
	Latitude               flexFloat `json:"latitude"`
	Longitude              flexFloat `json:"longitude"`
}

type rawLeader struct {
	Nom     string `json:"nom"`
	Prenoms string `json:"prenoms"`
	Qualite string `json:"qualite"`
}

// codeField accepts either "5710" or {"code": "5710"}.
type codeField string

func (c *codeField) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = codeField(s)
		return nil
	}
	var obj struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*c = codeField(obj.Code)
	return nil
}

// flexFloat accepts numbers and numeric strings; anything else is unset.
type flexFloat struct {
	Value *float64
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.Value = &v
	return nil
}

func (c *Client) normalize(r rawCompany) models.Company {
	var est rawEstablishment
	switch {
	case len(r.MatchingEtablissements) > 0:
		est = r.MatchingEtablissements[0]
	case r.Siege != nil:
		est = *r.Siege
	}

	name := r.NomComplet
	if name == "" {
		name = r.NomRaisonSociale
	}
	if name == "" {
		name = "N/A"
	}

	commercial := est.NomCommercial
	if commercial == "" {
		commercial = r.Sigle
	}

	status := est.EtatAdministratif
	if status == "" {
		status = r.EtatAdministratif
	}

	count := r.NombreEtablissements
	if count == 0 {
		count = 1
	}

	updated := r.DateMiseAJour
	if updated == "" {
		updated = c.now().UTC().Format(time.RFC3339)
	}

	company := models.Company{
		Siren:                r.Siren,
		Siret:                est.Siret,
		Name:                 name,
		CommercialName:       commercial,
		Address:              est.Adresse,
		PostalCode:           est.CodePostal,
		City:                 est.LibelleCommune,
		SectorCode:           r.ActivitePrincipale,
		SectorLabel:          c.tables.SectorLabel(r.ActivitePrincipale),
		BracketCode:          est.TrancheEffectifSalarie,
		BracketLabel:         c.tables.BracketLabel(est.TrancheEffectifSalarie),
		AdministrativeStatus: status,
		LegalNature:          string(r.NatureJuridique),
		Category:             r.CategorieEntreprise,
		CreatedOn:            r.DateCreation,
		EstablishmentCount:   count,
		Latitude:             est.Latitude.Value,
		Longitude:            est.Longitude.Value,
		RegistryUpdatedAt:    updated,
	}

	if len(r.Dirigeants) > 0 {
		d := r.Dirigeants[0]
		company.LeaderLastName = optional(d.Nom)
		company.LeaderFirstNames = optional(d.Prenoms)
		company.LeaderRole = optional(d.Qualite)
	}

	return company
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
