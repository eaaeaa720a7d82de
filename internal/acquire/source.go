package acquire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"newscast/internal/services"
)

// Source names accepted in sources.order.
const (
	SourceNewsAPI = "newsapi"
	SourceRSS     = "rss"
	SourceScrape  = "scrape"
)

// Article is the acquired story.
type Article struct {
	URL         string    `json:"url" validate:"required,http_url"`
	Title       string    `json:"title" validate:"required"`
	PublishedAt time.Time `json:"published_at,omitzero"`
	BodyText    string    `json:"body_text" validate:"required"`
	Source      string    `json:"source" validate:"required"`
	Publisher   string    `json:"publisher,omitempty"`
	Author      string    `json:"author,omitempty"`
}

// Source fetches one article for a query. A source with nothing to offer
// returns an error wrapping services.ErrNotFound.
type Source interface {
	Name() string
	Fetch(ctx context.Context, q Query) (Article, error)
}

// Chain tries sources in order and returns the first acceptable article.
type Chain struct {
	sources      []Source
	minBodyChars int
	validate     *validator.Validate
}

// NewChain builds a chain. Articles whose body is shorter than minBodyChars
// are rejected and the next source is tried.
func NewChain(minBodyChars int, sources ...Source) *Chain {
	return &Chain{sources: sources, minBodyChars: minBodyChars, validate: validator.New()}
}

// Sources lists the source names in fallback order.
func (c *Chain) Sources() []string {
	names := make([]string, 0, len(c.sources))
	for _, s := range c.sources {
		names = append(names, s.Name())
	}
	return names
}

// Attempt records how one source fared.
type Attempt struct {
	Source string
	Err    error
}

// Result is the winning article plus the sources tried before it.
type Result struct {
	Article  Article
	Attempts []Attempt
}

// Fetch runs the chain. When every source fails the returned error takes the
// most actionable class seen: transient, then quota, then configuration.
// Only when every source reported NotFound is the result ErrNotFound.
func (c *Chain) Fetch(ctx context.Context, q Query) (Result, error) {
	if q.Empty() {
		return Result{}, services.Wrap(services.ErrValidation, "acquire", "fetch", "query has neither topic nor url", nil)
	}
	if len(c.sources) == 0 {
		return Result{}, services.Wrap(services.ErrConfiguration, "acquire", "fetch", "no article sources configured", nil)
	}
	var res Result
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		article, err := src.Fetch(ctx, q)
		if err == nil {
			err = c.check(article)
		}
		if err == nil {
			res.Article = article
			return res, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return res, err
		}
		res.Attempts = append(res.Attempts, Attempt{Source: src.Name(), Err: err})
	}
	return res, exhausted(res.Attempts)
}

func (c *Chain) check(a Article) error {
	if err := c.validate.Struct(a); err != nil {
		return services.Wrap(services.ErrNotFound, a.Source, "validate", "article is incomplete", err)
	}
	if n := utf8.RuneCountInString(a.BodyText); n < c.minBodyChars {
		return services.Wrap(services.ErrNotFound, a.Source, "validate",
			fmt.Sprintf("article body has %d chars, need %d", n, c.minBodyChars), nil)
	}
	return nil
}

func exhausted(attempts []Attempt) error {
	marker := services.ErrNotFound
	rank := func(err error) int {
		switch services.Classify(err) {
		case services.KindTransient, services.KindCanceled, services.KindTimeout:
			return 3
		case services.KindQuota:
			return 2
		case services.KindConfiguration:
			return 1
		default:
			return 0
		}
	}
	best := 0
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		parts = append(parts, a.Source+": "+services.Details(a.Err).Message)
		if r := rank(a.Err); r > best {
			best = r
		}
	}
	switch best {
	case 3:
		marker = services.ErrTransient
	case 2:
		marker = services.ErrQuotaExceeded
	case 1:
		marker = services.ErrConfiguration
	}
	return services.Wrap(marker, "acquire", "fetch",
		"every source failed ("+strings.Join(parts, "; ")+")", nil)
}
