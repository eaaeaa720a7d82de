package acquire

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"newscast/internal/fingerprint"
	"newscast/internal/textutil"
)

// querySeparator joins topic and URL in the ledger's query column.
const querySeparator = " | "

// Query is one requested article: a topic to search for, a URL to fetch,
// or both.
type Query struct {
	Topic string `yaml:"topic" json:"topic,omitempty"`
	URL   string `yaml:"url" json:"url,omitempty" validate:"omitempty,http_url"`
}

// ParseQuery reverses Query.String. A bare http(s) URL becomes a URL query;
// anything else is a topic.
func ParseQuery(raw string) Query {
	raw = strings.TrimSpace(raw)
	if idx := strings.LastIndex(raw, querySeparator); idx >= 0 {
		if u := strings.TrimSpace(raw[idx+len(querySeparator):]); isHTTPURL(u) {
			return Query{Topic: textutil.CollapseSpace(raw[:idx]), URL: u}
		}
	}
	if isHTTPURL(raw) {
		return Query{URL: raw}
	}
	return Query{Topic: textutil.CollapseSpace(raw)}
}

// String is the form recorded in the ledger.
func (q Query) String() string {
	topic := textutil.CollapseSpace(q.Topic)
	u := strings.TrimSpace(q.URL)
	switch {
	case topic != "" && u != "":
		return topic + querySeparator + u
	case u != "":
		return u
	default:
		return topic
	}
}

// Empty reports whether neither a topic nor a URL is set.
func (q Query) Empty() bool {
	return strings.TrimSpace(q.Topic) == "" && strings.TrimSpace(q.URL) == ""
}

// SearchTerms is the text sources search and rank with: the topic, or the
// URL's last path segment when only a URL is known.
func (q Query) SearchTerms() string {
	if topic := textutil.CollapseSpace(q.Topic); topic != "" {
		return topic
	}
	u, err := url.Parse(strings.TrimSpace(q.URL))
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	slug := segments[len(segments)-1]
	slug = strings.TrimSuffix(slug, ".html")
	return textutil.CollapseSpace(strings.NewReplacer("-", " ", "_", " ").Replace(slug))
}

// Ref is the fingerprint input for q as seen at seenAt.
func (q Query) Ref(seenAt time.Time) fingerprint.Ref {
	return fingerprint.Ref{URL: q.URL, Topic: q.Topic, SeenAt: seenAt}
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// queriesFile is the YAML layout accepted by LoadQueries. Entries are either
// plain strings or {topic, url} maps.
type queriesFile struct {
	Queries []yaml.Node `yaml:"queries"`
}

// LoadQueries reads a YAML queries file:
//
//	queries:
//	  - artificial intelligence regulation
//	  - url: https://example.com/story
//	  - topic: chip exports
//	    url: https://example.com/chips
func LoadQueries(path string) ([]Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queries file: %w", err)
	}
	return ParseQueries(data)
}

// ParseQueries decodes the LoadQueries format.
func ParseQueries(data []byte) ([]Query, error) {
	var file queriesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse queries file: %w", err)
	}
	out := make([]Query, 0, len(file.Queries))
	for i, node := range file.Queries {
		var q Query
		switch node.Kind {
		case yaml.ScalarNode:
			q = ParseQuery(node.Value)
		case yaml.MappingNode:
			if err := node.Decode(&q); err != nil {
				return nil, fmt.Errorf("queries[%d]: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("queries[%d]: expected a string or a mapping", i)
		}
		q.Topic = textutil.CollapseSpace(q.Topic)
		q.URL = strings.TrimSpace(q.URL)
		if q.Empty() {
			return nil, fmt.Errorf("queries[%d]: topic or url is required", i)
		}
		if q.URL != "" && !isHTTPURL(q.URL) {
			return nil, fmt.Errorf("queries[%d]: %q is not an http(s) url", i, q.URL)
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, errors.New("queries file lists no queries")
	}
	return out, nil
}
