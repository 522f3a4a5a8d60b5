// Package discovery locates a company's website and candidate contact
// addresses, either by driving a headless browser or by asking an LLM with
// web search.
package discovery

import (
	"context"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/blockedby/prospect-os/internal/location"
)

// EmailCandidate is a discovered address. Priority 1 is the best.
type EmailCandidate struct {
	Email      string `json:"email"`
	Priority   int    `json:"priority"`
	SourcePage string `json:"source_page,omitempty"`
}

// Finder looks up contact information. FindWebsite returns "" when nothing
// was found; FindEmails returns candidates best first.
type Finder interface {
	FindWebsite(ctx context.Context, name, city string) (string, error)
	FindEmails(ctx context.Context, name, website string) ([]EmailCandidate, error)
}

// directoryHosts are aggregators and social networks, never an official site.
var directoryHosts = []string{
	"societe.com",
	"verif.com",
	"linkedin.com",
	"facebook.com",
	"instagram.com",
	"pagesjaunes.fr",
	"infogreffe",
	"pappers.fr",
	"annuaire-entreprises.data.gouv.fr",
	"google.",
	"youtube.com",
	"duckduckgo.com",
	"bing.com",
	"wikipedia.org",
}

// IsDirectorySite reports whether raw points to a directory, a social
// network or a search engine.
func IsDirectorySite(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range directoryHosts {
		if strings.Contains(host, d) {
			return true
		}
	}
	return false
}

var emailPattern = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)

// ExtractEmails returns the addresses found in content, in order of first
// appearance, without duplicates.
func ExtractEmails(content string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range emailPattern.FindAllString(content, -1) {
		m = strings.Trim(m, ".-")
		key := strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

var junkMarkers = []string{"noreply", "no-reply", "example", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", "wixpress", "sentry"}

var (
	recruitingMarkers = []string{"recrutement", "rh", "jobs", "hr", "carriere", "candidature", "career"}
	contactMarkers    = []string{"contact", "info"}
)

// FilterAndPrioritize drops junk addresses, assigns a priority and returns
// the unique addresses ordered by priority. Addresses of equal priority keep
// their input order.
func FilterAndPrioritize(emails []string) []EmailCandidate {
	seen := map[string]bool{}
	out := make([]EmailCandidate, 0, len(emails))
	for _, e := range emails {
		lower := strings.ToLower(strings.TrimSpace(e))
		if lower == "" || !strings.Contains(lower, "@") || seen[lower] || isJunk(lower) {
			continue
		}
		seen[lower] = true
		out = append(out, EmailCandidate{Email: lower, Priority: priorityOf(lower)})
	}
	slices.SortStableFunc(out, func(a, b EmailCandidate) int { return a.Priority - b.Priority })
	return out
}

func isJunk(email string) bool {
	for _, m := range junkMarkers {
		if strings.Contains(email, m) {
			return true
		}
	}
	return false
}

// priorityOf looks at the local part only so that a domain such as
// "chrono.fr" does not read as "hr".
func priorityOf(email string) int {
	local, _, _ := strings.Cut(email, "@")
	for _, m := range recruitingMarkers {
		if strings.Contains(local, m) {
			return 1
		}
	}
	for _, m := range contactMarkers {
		if strings.Contains(local, m) {
			return 2
		}
	}
	return 3
}

// GuessEmails derives the usual mailboxes from a website's host. An
// unparsable URL yields nothing.
func GuessEmails(website string) []EmailCandidate {
	domain := hostOf(website)
	if domain == "" {
		return nil
	}
	return []EmailCandidate{
		{Email: "contact@" + domain, Priority: 2},
		{Email: "recrutement@" + domain, Priority: 1},
		{Email: "rh@" + domain, Priority: 1},
		{Email: "info@" + domain, Priority: 2},
	}
}

// hostOf returns the lowercase host of raw without a leading "www.". A
// missing scheme is tolerated.
func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if !strings.Contains(host, ".") {
		return ""
	}
	return strings.TrimPrefix(host, "www.")
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// domainFromName builds the "<name>.fr" guess used when no website is known,
// legal forms removed.
func domainFromName(name string) string {
	slug := nonAlnum.ReplaceAllString(location.Normalize(CleanCompanyName(name)), "")
	if slug == "" {
		return ""
	}
	return slug + ".fr"
}

var legalForms = regexp.MustCompile(`(?i)(^|\s)(sarl|sasu|sas|sa|eurl|sci|selarl|snc|scp|scm|earl|gaec|gie|association|société|societe|entreprise|etablissement|ets)(\s|$)`)

// CleanCompanyName removes legal-form words ("SARL", "SAS", ...) so that the
// commercial name can be used as a search query.
func CleanCompanyName(name string) string {
	cleaned := name
	// overlapping matches share a separator, so repeat until stable
	for {
		next := legalForms.ReplaceAllString(cleaned, " ")
		if next == cleaned {
			break
		}
		cleaned = next
	}
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return strings.TrimSpace(name)
	}
	return cleaned
}
