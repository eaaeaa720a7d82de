package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"newscast/internal/config"
	"newscast/internal/ledger"
	"newscast/internal/logging"
	"newscast/internal/services"
	"newscast/internal/services/newsapi"
	"newscast/internal/stage"
)

// Executor is the acquire_article stage.
type Executor struct {
	chain  *Chain
	logger *slog.Logger
}

// NewExecutor wraps chain.
func NewExecutor(chain *Chain, logger *slog.Logger) *Executor {
	return &Executor{chain: chain, logger: logging.NewComponentLogger(logger, stage.NameAcquireArticle)}
}

// ChainFromConfig builds the fallback chain in sources.order. NewsAPI is
// left out when no key is configured.
func ChainFromConfig(cfg *config.Config, logger *slog.Logger) (*Chain, error) {
	httpClient := &http.Client{Timeout: cfg.SourceTimeout()}
	var sources []Source
	for _, name := range cfg.Sources.Order {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case SourceNewsAPI:
			client := newsapi.NewClient(newsapi.Config{
				APIKey:         cfg.Sources.NewsAPIKey,
				BaseURL:        cfg.Sources.NewsAPIBaseURL,
				UserAgent:      cfg.Sources.UserAgent,
				TimeoutSeconds: cfg.Sources.TimeoutSeconds,
			})
			if !client.Configured() {
				if logger != nil {
					logger.Info("newsapi source skipped",
						logging.String(logging.FieldEventType, "source_skipped"),
						logging.String("reason", "no api key"))
				}
				continue
			}
			sources = append(sources, NewNewsAPISource(client, cfg.Sources.Language))
		case SourceRSS:
			sources = append(sources, NewRSSSource(cfg.Sources.RSSURLTemplate, cfg.Sources.UserAgent, httpClient))
		case SourceScrape:
			sources = append(sources, NewScrapeSource(httpClient, cfg.Sources.UserAgent, cfg.Sources.ScrapeSearchURL))
		default:
			return nil, fmt.Errorf("acquire: unknown source %q", name)
		}
	}
	return NewChain(cfg.Sources.MinBodyChars, sources...), nil
}

func (e *Executor) Name() string { return stage.NameAcquireArticle }

func (e *Executor) SetLogger(logger *slog.Logger) {
	e.logger = logging.NewComponentLogger(logger, stage.NameAcquireArticle)
}

func (e *Executor) Execute(ctx context.Context, st *ledger.ArticleState) (ledger.Payload, error) {
	q := ParseQuery(st.Query)
	res, err := e.chain.Fetch(ctx, q)
	for _, attempt := range res.Attempts {
		e.logger.Info("source fell through",
			logging.String(logging.FieldEventType, "source_fallback"),
			logging.String("source", attempt.Source),
			logging.String("kind", string(services.Classify(attempt.Err))),
			logging.String("reason", services.Details(attempt.Err).Message),
		)
	}
	if err != nil {
		return ledger.Payload{}, err
	}
	detail, err := stage.EncodeDetail(e.Name(), res.Article)
	if err != nil {
		return ledger.Payload{}, err
	}
	e.logger.Info("article acquired",
		logging.String(logging.FieldEventType, "article_acquired"),
		logging.String("source", res.Article.Source),
		logging.String("url", res.Article.URL),
		logging.Int("body_chars", len(res.Article.BodyText)),
	)
	return ledger.Payload{Stage: ledger.StageAcquired, Ref: res.Article.URL, Detail: detail}, nil
}

func (e *Executor) HealthCheck(context.Context) stage.Health {
	if len(e.chain.sources) == 0 {
		return stage.Unhealthy(e.Name(), "no article sources configured")
	}
	return stage.Health{Name: e.Name(), Ready: true, Detail: "sources: " + strings.Join(e.chain.Sources(), ", ")}
}

// Load decodes the article recorded at the acquired stage.
func Load(st *ledger.ArticleState, executor string) (Article, error) {
	var a Article
	err := stage.DecodeDetail(st, ledger.StageAcquired, executor, &a)
	return a, err
}
