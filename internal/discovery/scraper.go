package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/blockedby/prospect-os/internal/logger"
)

const (
	// DefaultSearchURL is a results page that renders without JavaScript.
	// %s receives the escaped query.
	DefaultSearchURL = "https://html.duckduckgo.com/html/?q=%s"

	// MaxCrawlPages bounds the keyword pages visited after the home page.
	MaxCrawlPages = 5

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// crawlKeywords select the pages likely to list a recruiting address.
var crawlKeywords = []string{"contact", "recrutement", "carriere", "jobs", "emploi", "rh", "career", "about", "a-propos"}

// Link is an anchor found on a page.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Page is a rendered document.
type Page struct {
	URL   string
	HTML  string
	Links []Link
}

// Browser loads and renders pages.
type Browser interface {
	Load(ctx context.Context, rawURL string) (*Page, error)
}

// ScrapeFinder discovers websites through a search results page and emails
// by crawling the site.
type ScrapeFinder struct {
	browser   Browser
	searchURL string
	log       *logger.Logger
}

// NewScrapeFinder creates a finder. An empty searchURL selects
// DefaultSearchURL.
func NewScrapeFinder(browser Browser, searchURL string, log *logger.Logger) *ScrapeFinder {
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}
	return &ScrapeFinder{browser: browser, searchURL: searchURL, log: log.Component("scraper")}
}

// FindWebsite returns the home page of the first result that is not a
// directory or a search engine.
func (f *ScrapeFinder) FindWebsite(ctx context.Context, name, city string) (string, error) {
	query := strings.TrimSpace(CleanCompanyName(name) + " " + city + " site officiel")
	page, err := f.browser.Load(ctx, fmt.Sprintf(f.searchURL, url.QueryEscape(query)))
	if err != nil {
		return "", fmt.Errorf("load search results: %w", err)
	}

	for _, l := range page.Links {
		target := unwrapRedirect(l.Href)
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		if IsDirectorySite(target) {
			continue
		}
		site := u.Scheme + "://" + u.Host + "/"
		f.log.Debug().Str("query", query).Str("website", site).Msg("website found")
		return site, nil
	}

	f.log.Debug().Str("query", query).Msg("no website in results")
	return "", nil
}

// unwrapRedirect resolves the tracking links used by result pages
// ("/l/?uddg=<target>").
func unwrapRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	for _, key := range []string{"uddg", "q", "url"} {
		if target := u.Query().Get(key); strings.HasPrefix(target, "http") && IsDirectorySite(href) {
			return target
		}
	}
	return href
}

// FindEmails crawls the home page and up to MaxCrawlPages keyword pages of
// the same site.
func (f *ScrapeFinder) FindEmails(ctx context.Context, _ string, website string) ([]EmailCandidate, error) {
	home, err := f.browser.Load(ctx, website)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", website, err)
	}

	source := map[string]string{}
	var found []string
	collect := func(p *Page) {
		for _, e := range ExtractEmails(p.HTML) {
			key := strings.ToLower(e)
			if _, ok := source[key]; !ok {
				source[key] = p.URL
				found = append(found, e)
			}
		}
	}
	collect(home)

	pages := interestingLinks(home, website)
	f.log.Debug().Str("website", website).Int("pages", len(pages)).Msg("crawling keyword pages")
	for _, link := range pages {
		if ctx.Err() != nil {
			break
		}
		p, err := f.browser.Load(ctx, link)
		if err != nil {
			f.log.Warn().Err(err).Str("url", link).Msg("failed to load page")
			continue
		}
		collect(p)
	}

	out := FilterAndPrioritize(found)
	for i := range out {
		out[i].SourcePage = source[out[i].Email]
	}
	f.log.Info().Str("website", website).Int("emails", len(out)).Msg("emails scraped")
	return out, ctx.Err()
}

// interestingLinks picks the unique same-site links whose text or target
// mentions a crawl keyword.
func interestingLinks(home *Page, website string) []string {
	base := hostOf(website)
	if home.URL != "" {
		if h := hostOf(home.URL); h != "" {
			base = h
		}
	}

	seen := map[string]bool{}
	var out []string
	for _, l := range home.Links {
		u, err := url.Parse(l.Href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if hostOf(l.Href) != base {
			continue
		}
		u.Fragment = ""
		target := u.String()
		if seen[target] || !mentionsKeyword(l) {
			continue
		}
		seen[target] = true
		out = append(out, target)
		if len(out) == MaxCrawlPages {
			break
		}
	}
	return out
}

func mentionsKeyword(l Link) bool {
	text := strings.ToLower(l.Text)
	href := strings.ToLower(l.Href)
	for _, k := range crawlKeywords {
		if strings.Contains(text, k) || strings.Contains(href, k) {
			return true
		}
	}
	return false
}

// ChromeBrowser renders pages in a shared headless Chrome, one tab per load.
type ChromeBrowser struct {
	timeout time.Duration

	mu          sync.Mutex
	browserCtx  context.Context
	stopBrowser context.CancelFunc
}

// ErrBrowserClosed is returned by Load after Close.
var ErrBrowserClosed = errors.New("browser closed")

// NewChromeBrowser creates a browser. Chrome starts on the first Load.
func NewChromeBrowser(timeout time.Duration) *ChromeBrowser {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChromeBrowser{timeout: timeout}
}

func (b *ChromeBrowser) ensure() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		if b.browserCtx.Err() != nil {
			return nil, ErrBrowserClosed
		}
		return b.browserCtx, nil
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(),
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(userAgent),
		)...,
	)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	// start the browser now so that tabs share it
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	b.browserCtx = browserCtx
	b.stopBrowser = func() {
		cancelBrowser()
		cancelAlloc()
	}
	return browserCtx, nil
}

const linksScript = `Array.from(document.querySelectorAll('a')).map(a => ({text: (a.textContent || '').trim(), href: a.href || ''}))`

// Load navigates a new tab to rawURL and returns the rendered document.
func (b *ChromeBrowser) Load(ctx context.Context, rawURL string) (*Page, error) {
	browserCtx, err := b.ensure()
	if err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	page := &Page{}
	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&page.URL),
		chromedp.OuterHTML("html", &page.HTML, chromedp.ByQuery),
		chromedp.Evaluate(linksScript, &page.Links),
	); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return page, nil
}

// Close stops Chrome.
func (b *ChromeBrowser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopBrowser != nil {
		b.stopBrowser()
		b.stopBrowser = nil
	}
}
