package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"newscast/internal/services"
	"newscast/internal/textutil"
)

const maxPageBytes = 5 << 20

// ScrapeSource fetches the article page itself. Topic-only queries are
// resolved through an optional search page template whose {query}
// placeholder receives the escaped topic; the best-matching result link is
// then fetched.
type ScrapeSource struct {
	client    *http.Client
	userAgent string
	searchURL string
}

func NewScrapeSource(client *http.Client, userAgent, searchURL string) *ScrapeSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ScrapeSource{client: client, userAgent: userAgent, searchURL: strings.TrimSpace(searchURL)}
}

func (s *ScrapeSource) Name() string { return SourceScrape }

func (s *ScrapeSource) Fetch(ctx context.Context, q Query) (Article, error) {
	target := strings.TrimSpace(q.URL)
	if target == "" {
		found, err := s.search(ctx, q.SearchTerms())
		if err != nil {
			return Article{}, err
		}
		target = found
	}

	html, finalURL, err := s.get(ctx, target)
	if err != nil {
		return Article{}, err
	}
	p, err := extractPage(html, finalURL)
	if err != nil {
		return Article{}, services.Wrap(services.ErrNotFound, SourceScrape, "parse page", "unreadable html", err)
	}
	a := Article{
		URL:       target,
		Title:     p.Title,
		BodyText:  p.Body,
		Source:    SourceScrape,
		Publisher: p.Publisher,
	}
	if p.Published != "" {
		if t, err := time.Parse(time.RFC3339, p.Published); err == nil {
			a.PublishedAt = t.UTC()
		}
	}
	return a, nil
}

func (s *ScrapeSource) search(ctx context.Context, terms string) (string, error) {
	if s.searchURL == "" || terms == "" {
		return "", services.Wrap(services.ErrNotFound, SourceScrape, "search", "no url and no search page configured", nil)
	}
	searchURL := strings.ReplaceAll(s.searchURL, "{query}", url.QueryEscape(terms))
	html, finalURL, err := s.get(ctx, searchURL)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, SourceScrape, "search", "unreadable search page", err)
	}
	base, _ := url.Parse(finalURL)

	var links, titles []string
	seen := map[string]bool{}
	doc.Find("article").Each(func(_ int, entry *goquery.Selection) {
		anchor := entry.Find("a[href]").First()
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if seen[abs] {
			return
		}
		seen[abs] = true
		title := firstNonEmpty(
			textutil.CollapseSpace(entry.Find("h1, h2, h3, h4").First().Text()),
			textutil.CollapseSpace(anchor.Text()),
		)
		links = append(links, abs)
		titles = append(titles, title)
	})
	if len(links) == 0 {
		return "", services.Wrap(services.ErrNotFound, SourceScrape, "search", "no results for "+terms, nil)
	}
	return links[textutil.Rank(terms, titles)[0]], nil
}

func (s *ScrapeSource) get(ctx context.Context, target string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", "", services.Wrap(services.ErrValidation, SourceScrape, "fetch", "invalid url "+target, err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		return "", "", services.Wrap(services.ErrTransient, SourceScrape, "fetch", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", "", services.Wrap(services.ErrTransient, SourceScrape, "fetch", "read body", err)
	}
	if resp.StatusCode != http.StatusOK {
		marker := services.ClassifyHTTP(resp.StatusCode, string(body))
		if marker == services.ErrConfiguration || marker == services.ErrQuotaExceeded {
			// paywalls and bot walls: the page is simply unavailable to us
			marker = services.ErrNotFound
		}
		return "", "", services.Wrap(marker, SourceScrape, "fetch",
			fmt.Sprintf("http %d from %s", resp.StatusCode, target), nil)
	}
	return string(body), resp.Request.URL.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
