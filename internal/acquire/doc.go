// Package acquire turns a query into a full article.
//
// Sources are tried in configured order until one yields an article whose
// body is long enough to script. NewsAPI and the RSS search rank their hits
// against the query topic; the scrape source fetches a page directly. The
// Executor wraps the chain as the acquire_article stage.
package acquire
