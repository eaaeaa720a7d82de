// Package llm provides an OpenRouter chat client for JSON completions.
//
// The script generator uses it as the default text provider: the system
// prompt describes the broadcast script format and the model answers with a
// single JSON object. DecodeJSON tolerates code fences and leading prose.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors, empty completions and
// network timeouts with exponential backoff (base 1s, max 10s, up to 3
// attempts by default). Retry-After is honored. Refusals and content-filter
// stops are not retried.
//
// # Errors
//
// Returned errors carry a services sentinel so the pipeline can decide
// between retrying and halting the article.
package llm
