package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/blockedby/prospect-os/internal/llm"
	"github.com/blockedby/prospect-os/internal/logger"
)

// ErrUnparsableAnswer is returned when the model does not answer in the
// requested format.
var ErrUnparsableAnswer = errors.New("unparsable llm answer")

// noneAnswer is what the website prompt asks the model to say when it finds
// nothing.
const noneAnswer = "AUCUN"

// Completer runs one chat completion.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMFinder asks a web-search capable model.
type LLMFinder struct {
	llm     Completer
	website *llm.PromptConfig
	email   *llm.PromptConfig
	log     *logger.Logger
}

// NewLLMFinder creates a finder with the built-in prompts.
func NewLLMFinder(c Completer, log *logger.Logger) (*LLMFinder, error) {
	website, err := llm.Builtin(llm.PromptWebsite)
	if err != nil {
		return nil, err
	}
	email, err := llm.Builtin(llm.PromptEmail)
	if err != nil {
		return nil, err
	}
	return &LLMFinder{llm: c, website: website, email: email, log: log.Component("llm-finder")}, nil
}

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>()\[\]]+`)

// FindWebsite returns the official website named by the model, or "" when
// it answers AUCUN, an invalid URL or a directory site.
func (f *LLMFinder) FindWebsite(ctx context.Context, name, city string) (string, error) {
	answer, err := f.llm.Complete(ctx, f.website.System, f.website.BuildUserPrompt(map[string]string{
		"COMPANY": CleanCompanyName(name),
		"CITY":    city,
	}))
	if err != nil {
		return "", fmt.Errorf("website lookup: %w", err)
	}

	answer = strings.Trim(strings.TrimSpace(answer), "`\"'")
	if strings.EqualFold(answer, noneAnswer) {
		f.log.Debug().Str("company", name).Msg("no official website")
		return "", nil
	}

	site := strings.TrimRight(urlPattern.FindString(answer), ".,;")
	if site == "" {
		f.log.Warn().Str("company", name).Str("answer", answer).Msg("invalid website answer")
		return "", nil
	}
	if u, err := url.Parse(site); err != nil || u.Host == "" {
		f.log.Warn().Str("company", name).Str("answer", answer).Msg("invalid website answer")
		return "", nil
	}
	if IsDirectorySite(site) {
		f.log.Debug().Str("company", name).Str("website", site).Msg("directory site rejected")
		return "", nil
	}
	return site, nil
}

type emailAnswer struct {
	Email    *string `json:"email"`
	Priority *int    `json:"priority"`
	Source   *string `json:"source"`
}

// FindEmails returns at most one candidate: the address the model judges
// best for a job application.
func (f *LLMFinder) FindEmails(ctx context.Context, name, website string) ([]EmailCandidate, error) {
	answer, err := f.llm.Complete(ctx, f.email.System, f.email.BuildUserPrompt(map[string]string{
		"COMPANY": CleanCompanyName(name),
		"WEBSITE": website,
	}))
	if err != nil {
		return nil, fmt.Errorf("email lookup: %w", err)
	}

	var parsed emailAnswer
	if err := json.Unmarshal([]byte(stripFences(answer)), &parsed); err != nil {
		f.log.Warn().Str("company", name).Str("answer", answer).Msg("invalid email answer")
		return nil, fmt.Errorf("%w: %v", ErrUnparsableAnswer, err)
	}
	if parsed.Email == nil || strings.TrimSpace(*parsed.Email) == "" {
		return nil, nil
	}

	// the model is told to skip junk but is not trusted to
	out := FilterAndPrioritize([]string{*parsed.Email})
	if len(out) == 0 {
		f.log.Debug().Str("company", name).Str("email", *parsed.Email).Msg("junk address rejected")
		return nil, nil
	}
	if parsed.Priority != nil && *parsed.Priority >= 1 && *parsed.Priority <= 3 {
		out[0].Priority = *parsed.Priority
	}
	if parsed.Source != nil {
		out[0].SourcePage = *parsed.Source
	}
	return out, nil
}

// stripFences removes a markdown code fence around a JSON answer.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
