// Package script writes the narration script for an acquired article.
//
// A Provider is any text model that answers a system and user prompt. The
// OpenRouter client in services/llm is the default; Anthropic and Gemini are
// available through their SDKs. The model is asked for one JSON object
// (headline, intro, body, conclusion, hashtags) which is validated before it
// is recorded.
package script
