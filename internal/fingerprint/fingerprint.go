// Package fingerprint derives the stable identifiers that key the dedup ledger.
//
// A reference with a URL is identified by its canonical URL, so the same story
// reached through tracking links or different casing maps to one article. A
// topic-only reference is identified by its normalized topic plus the UTC day
// it was seen, so a recurring topic produces one article per day.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	// URLPrefix marks fingerprints derived from a canonical URL.
	URLPrefix = "u:"
	// TopicPrefix marks fingerprints derived from a topic and day bucket.
	TopicPrefix = "t:"

	hashChars = 32
)

// Ref is the input to identification. URL wins when both are set.
type Ref struct {
	URL    string
	Topic  string
	SeenAt time.Time
}

var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"dclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"igshid":  {},
	"ref":     {},
	"ref_src": {},
	"ocid":    {},
	"cmpid":   {},
	"spm":     {},
}

// Identify returns the fingerprint for ref. Identical inputs always produce
// identical output; an empty ref yields an empty string.
func Identify(ref Ref) string {
	if raw := strings.TrimSpace(ref.URL); raw != "" {
		return URLPrefix + digest(CanonicalURL(raw))
	}
	topic := NormalizeTopic(ref.Topic)
	if topic == "" {
		return ""
	}
	seen := ref.SeenAt
	if seen.IsZero() {
		seen = time.Now()
	}
	return TopicPrefix + digest(topic+"|"+seen.UTC().Format(time.DateOnly))
}

// CanonicalURL lower-cases raw, drops the fragment, default ports and
// tracking parameters, sorts the remaining query and trims a trailing slash.
// Unparseable input is returned lower-cased and trimmed.
func CanonicalURL(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	u, err := url.Parse(lowered)
	if err != nil || u.Host == "" {
		return strings.TrimRight(lowered, "/")
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if host, port, err := net.SplitHostPort(u.Host); err == nil {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			u.Host = host
		}
	}

	values := u.Query()
	for key := range values {
		if _, tracked := trackingParams[key]; tracked || strings.HasPrefix(key, "utm_") {
			values.Del(key)
		}
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		vals := values[key]
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(v))
		}
	}
	u.RawQuery = strings.Join(parts, "&")
	u.ForceQuery = false

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// NormalizeTopic lower-cases a topic and collapses internal whitespace.
func NormalizeTopic(topic string) string {
	return strings.Join(strings.Fields(strings.ToLower(topic)), " ")
}

// IsURLBased reports whether fp was derived from a URL.
func IsURLBased(fp string) bool {
	return strings.HasPrefix(fp, URLPrefix)
}

// Short returns a display form of fp suitable for tables and file names.
func Short(fp string) string {
	const n = 12
	trimmed := strings.TrimPrefix(strings.TrimPrefix(fp, URLPrefix), TopicPrefix)
	if len(trimmed) > n {
		return trimmed[:n]
	}
	return trimmed
}

func digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:hashChars]
}
