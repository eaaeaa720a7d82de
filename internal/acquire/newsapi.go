package acquire

import (
	"context"
	"strings"

	"newscast/internal/services"
	"newscast/internal/services/newsapi"
	"newscast/internal/textutil"
)

const newsAPIPageSize = 10

// NewsAPISource searches NewsAPI and returns the hit closest to the query.
type NewsAPISource struct {
	client   *newsapi.Client
	language string
}

func NewNewsAPISource(client *newsapi.Client, language string) *NewsAPISource {
	return &NewsAPISource{client: client, language: language}
}

func (s *NewsAPISource) Name() string { return SourceNewsAPI }

func (s *NewsAPISource) Fetch(ctx context.Context, q Query) (Article, error) {
	terms := q.SearchTerms()
	if terms == "" {
		return Article{}, services.Wrap(services.ErrNotFound, SourceNewsAPI, "search", "nothing to search for", nil)
	}
	hits, err := s.client.Search(ctx, newsapi.SearchParams{
		Query:    terms,
		Language: s.language,
		PageSize: newsAPIPageSize,
	})
	if err != nil {
		return Article{}, err
	}
	if want := strings.TrimSpace(q.URL); want != "" {
		for _, hit := range hits {
			if sameURL(hit.URL, want) {
				return fromNewsAPI(hit), nil
			}
		}
	}
	if len(hits) == 0 {
		return Article{}, services.Wrap(services.ErrNotFound, SourceNewsAPI, "search", "no results for "+terms, nil)
	}
	docs := make([]string, len(hits))
	for i, hit := range hits {
		docs[i] = hit.Title + " " + hit.Description
	}
	return fromNewsAPI(hits[textutil.Rank(terms, docs)[0]]), nil
}

func fromNewsAPI(hit newsapi.Article) Article {
	return Article{
		URL:         hit.URL,
		Title:       hit.Title,
		PublishedAt: hit.PublishedAt,
		BodyText:    hit.Text(),
		Source:      SourceNewsAPI,
		Publisher:   hit.Source,
		Author:      hit.Author,
	}
}
