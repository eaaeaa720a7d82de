package acquire

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newscast/internal/services"
)

type stubSource struct {
	name    string
	article Article
	err     error
	calls   int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(context.Context, Query) (Article, error) {
	s.calls++
	return s.article, s.err
}

func goodArticle(source string) Article {
	return Article{
		URL:      "https://example.com/story",
		Title:    "Story",
		BodyText: strings.Repeat("word ", 40),
		Source:   source,
	}
}

func TestChainFallsBackToThirdSource(t *testing.T) {
	first := &stubSource{name: "newsapi", err: services.Wrap(services.ErrTransient, "newsapi", "search", "503", nil)}
	second := &stubSource{name: "rss", err: services.Wrap(services.ErrNotFound, "rss", "search", "no items", nil)}
	third := &stubSource{name: "scrape", article: goodArticle("scrape")}

	res, err := NewChain(50, first, second, third).Fetch(context.Background(), Query{Topic: "storms"})
	require.NoError(t, err)
	assert.Equal(t, "scrape", res.Article.Source)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "newsapi", res.Attempts[0].Source)
	assert.Equal(t, 1, third.calls)
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	first := &stubSource{name: "newsapi", article: goodArticle("newsapi")}
	second := &stubSource{name: "rss", article: goodArticle("rss")}

	res, err := NewChain(50, first, second).Fetch(context.Background(), Query{Topic: "storms"})
	require.NoError(t, err)
	assert.Equal(t, "newsapi", res.Article.Source)
	assert.Zero(t, second.calls)
}

func TestChainRejectsShortOrIncompleteArticles(t *testing.T) {
	short := goodArticle("newsapi")
	short.BodyText = "too short"
	noURL := goodArticle("rss")
	noURL.URL = ""

	_, err := NewChain(50,
		&stubSource{name: "newsapi", article: short},
		&stubSource{name: "rss", article: noURL},
	).Fetch(context.Background(), Query{Topic: "storms"})
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestChainExhaustionClassification(t *testing.T) {
	notFound := services.Wrap(services.ErrNotFound, "x", "search", "none", nil)
	transient := services.Wrap(services.ErrTransient, "x", "search", "503", nil)
	quota := services.Wrap(services.ErrQuotaExceeded, "x", "search", "limit", nil)
	config := services.Wrap(services.ErrConfiguration, "x", "search", "bad key", nil)

	cases := []struct {
		name string
		errs []error
		want services.Kind
	}{
		{"all not found", []error{notFound, notFound, notFound}, services.KindNotFound},
		{"one transient", []error{notFound, transient, notFound}, services.KindTransient},
		{"transient beats quota", []error{quota, transient}, services.KindTransient},
		{"quota beats configuration", []error{config, quota, notFound}, services.KindQuota},
		{"configuration beats not found", []error{config, notFound}, services.KindConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var sources []Source
			for i, err := range tc.errs {
				sources = append(sources, &stubSource{name: string(rune('a' + i)), err: err})
			}
			_, err := NewChain(10, sources...).Fetch(context.Background(), Query{Topic: "q"})
			require.Error(t, err)
			assert.Equal(t, tc.want, services.Classify(err))
			assert.Contains(t, err.Error(), "every source failed")
		})
	}
}

func TestChainValidatesQuery(t *testing.T) {
	_, err := NewChain(10, &stubSource{name: "a"}).Fetch(context.Background(), Query{})
	assert.ErrorIs(t, err, services.ErrValidation)

	_, err = NewChain(10).Fetch(context.Background(), Query{Topic: "x"})
	assert.ErrorIs(t, err, services.ErrConfiguration)
}

func TestChainReturnsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewChain(10, &stubSource{name: "a", article: goodArticle("a")}).Fetch(ctx, Query{Topic: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
