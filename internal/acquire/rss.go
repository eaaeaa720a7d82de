package acquire

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"newscast/internal/services"
	"newscast/internal/textutil"
)

// RSSSource searches a feed endpoint such as Google News RSS. The template's
// {query} placeholder receives the escaped search terms.
type RSSSource struct {
	template string
	parser   *gofeed.Parser
}

func NewRSSSource(template, userAgent string, client *http.Client) *RSSSource {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	if client != nil {
		parser.Client = client
	}
	return &RSSSource{template: template, parser: parser}
}

func (s *RSSSource) Name() string { return SourceRSS }

func (s *RSSSource) Fetch(ctx context.Context, q Query) (Article, error) {
	terms := q.SearchTerms()
	if terms == "" {
		return Article{}, services.Wrap(services.ErrNotFound, SourceRSS, "search", "nothing to search for", nil)
	}
	feedURL := strings.ReplaceAll(s.template, "{query}", url.QueryEscape(terms))
	feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return Article{}, classifyFeedError(ctx, err)
	}

	items := make([]*gofeed.Item, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item != nil && strings.TrimSpace(item.Link) != "" && strings.TrimSpace(item.Title) != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return Article{}, services.Wrap(services.ErrNotFound, SourceRSS, "search", "feed has no items for "+terms, nil)
	}
	if want := strings.TrimSpace(q.URL); want != "" {
		for _, item := range items {
			if sameURL(item.Link, want) {
				return fromFeedItem(item), nil
			}
		}
	}
	docs := make([]string, len(items))
	for i, item := range items {
		docs[i] = item.Title + " " + item.Description
	}
	return fromFeedItem(items[textutil.Rank(terms, docs)[0]]), nil
}

func fromFeedItem(item *gofeed.Item) Article {
	body := item.Content
	if strings.TrimSpace(body) == "" {
		body = item.Description
	}
	a := Article{
		URL:      strings.TrimSpace(item.Link),
		Title:    textutil.CollapseSpace(item.Title),
		BodyText: htmlText(body),
		Source:   SourceRSS,
	}
	if item.PublishedParsed != nil {
		a.PublishedAt = item.PublishedParsed.UTC()
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		a.Author = item.Authors[0].Name
	}
	return a
}

func classifyFeedError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		return services.Wrap(services.ClassifyHTTP(httpErr.StatusCode, httpErr.Status), SourceRSS, "fetch feed", httpErr.Status, nil)
	}
	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
		return services.Wrap(services.ErrNotFound, SourceRSS, "parse feed", "response is not a feed", err)
	}
	return services.Wrap(services.ErrTransient, SourceRSS, "fetch feed", "request failed", err)
}
