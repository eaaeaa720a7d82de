// Package notifications delivers pipeline events via ntfy.
//
// The ntfy implementation posts to the topic configured in config.toml and
// degrades to a no-op when no topic is set. Each event can be toggled off in
// the [notifications] section; suppressed events return nil without a request.
package notifications
