package acquire

import (
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"newscast/internal/fingerprint"
	"newscast/internal/textutil"
)

var (
	noiseSelector    = "script, style, noscript, nav, footer, header, aside, form, iframe, .ad, .ads, .advertisement, .cookie-banner, .newsletter, .related"
	contentSelectors = []string{
		"[itemprop=\"articleBody\"]",
		"article",
		".article-body",
		".article",
		".post-content",
		".entry-content",
		"main",
		".content",
		"#content",
	}

	markdownImage   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	markdownLink    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	markdownMarkers = regexp.MustCompile(`(?m)^\s*(#{1,6}|>|[-*+]|\d+\.)\s+`)
	markdownEmph    = regexp.MustCompile(`[*_]{1,3}([^*_\n]+)[*_]{1,3}`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
)

// page is the readable part of an HTML document.
type page struct {
	Title     string
	Body      string
	Published string
	Publisher string
}

// extractPage strips page chrome, locates the article container and
// converts it to plain paragraphs.
func extractPage(html, pageURL string) (page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return page{}, err
	}
	var p page
	p.Title = firstText(doc,
		"meta[property='og:title']@content",
		"h1",
		"title",
	)
	p.Published = firstText(doc,
		"meta[property='article:published_time']@content",
		"time[datetime]@datetime",
	)
	p.Publisher = firstText(doc, "meta[property='og:site_name']@content")

	doc.Find(noiseSelector).Remove()
	content := doc.Find("body")
	for _, selector := range contentSelectors {
		if sel := doc.Find(selector); sel.Length() > 0 {
			content = sel.First()
			break
		}
	}

	var paragraphs []string
	content.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := textutil.CollapseSpace(s.Text()); len(text) > 20 {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) > 0 {
		p.Body = strings.Join(paragraphs, "\n\n")
		return p, nil
	}

	// No <p> structure: fall back to a markdown rendering of the container.
	inner, err := content.Html()
	if err != nil {
		return p, err
	}
	p.Body = markdownText(inner, pageURL)
	return p, nil
}

// firstText returns the first non-empty match. A selector suffixed with
// @attr reads that attribute instead of the element text.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		sel, attr, hasAttr := strings.Cut(selector, "@")
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		var value string
		if hasAttr {
			value, _ = node.Attr(attr)
		} else {
			value = node.Text()
		}
		if value = textutil.CollapseSpace(value); value != "" {
			return value
		}
	}
	return ""
}

// htmlText flattens an HTML fragment such as a feed description.
func htmlText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return textutil.CollapseSpace(fragment)
	}
	return markdownText(fragment, "")
}

// markdownText converts HTML to markdown, then drops the markup so the result
// reads as narration source text.
func markdownText(html, pageURL string) string {
	domain := ""
	if u, err := url.Parse(pageURL); err == nil {
		domain = u.Host
	}
	converted, err := md.NewConverter(domain, true, nil).ConvertString(html)
	if err != nil {
		doc, derr := goquery.NewDocumentFromReader(strings.NewReader(html))
		if derr != nil {
			return ""
		}
		return textutil.CollapseSpace(doc.Text())
	}
	text := markdownImage.ReplaceAllString(converted, "")
	text = markdownLink.ReplaceAllString(text, "$1")
	text = markdownMarkers.ReplaceAllString(text, "")
	text = markdownEmph.ReplaceAllString(text, "$1")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = textutil.CollapseSpace(line)
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

func sameURL(a, b string) bool {
	return fingerprint.CanonicalURL(a) == fingerprint.CanonicalURL(b)
}
