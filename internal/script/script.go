package script

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"newscast/internal/acquire"
	"newscast/internal/services"
	"newscast/internal/services/llm"
	"newscast/internal/textutil"
)

// wordsPerSecond is a typical news-reading pace.
const wordsPerSecond = 2.5

// Script is the structured narration for one article.
type Script struct {
	Headline   string   `json:"headline" validate:"required,max=200"`
	Intro      string   `json:"intro" validate:"required"`
	Body       string   `json:"body" validate:"required"`
	Conclusion string   `json:"conclusion" validate:"required"`
	Hashtags   []string `json:"hashtags" validate:"max=8,dive,required,startswith=#"`
}

// Narration is the text read aloud: intro, body and conclusion.
func (s Script) Narration() string {
	parts := []string{
		textutil.CollapseSpace(s.Intro),
		textutil.CollapseSpace(s.Body),
		textutil.CollapseSpace(s.Conclusion),
	}
	return strings.Join(parts, " ")
}

// Words counts the narration's words.
func (s Script) Words() int {
	return len(textutil.Words(s.Narration()))
}

// Prompt holds the tone and length settings for a request.
type Prompt struct {
	Tone          string
	TargetSeconds int
	TopicChars    int
}

const systemPrompt = `You write scripts for short vertical news videos read by a single presenter.
Write plain spoken sentences: no stage directions, emoji, markdown or URLs.
Stay faithful to the source article and never invent facts.
Answer with a single JSON object and nothing else.`

// System returns the system prompt.
func (p Prompt) System() string { return systemPrompt }

// User builds the request for article. The topic line is the title plus the
// opening of the body, capped at TopicChars.
func (p Prompt) User(article acquire.Article) string {
	tone := strings.TrimSpace(p.Tone)
	if tone == "" {
		tone = "professional"
	}
	words := p.targetWords()
	topic := textutil.Truncate(textutil.CollapseSpace(article.Title+". "+article.BodyText), p.TopicChars)

	var b strings.Builder
	fmt.Fprintf(&b, "Write a %d-second news script (about %d words in total) in a %s tone.\n\n", p.TargetSeconds, words, tone)
	fmt.Fprintf(&b, "TOPIC: %s\n\n", topic)
	fmt.Fprintf(&b, "SOURCE ARTICLE\nTitle: %s\n", article.Title)
	if article.Publisher != "" {
		fmt.Fprintf(&b, "Publisher: %s\n", article.Publisher)
	}
	if !article.PublishedAt.IsZero() {
		fmt.Fprintf(&b, "Published: %s\n", article.PublishedAt.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Content:\n%s\n\n", textutil.Truncate(article.BodyText, 6000))
	b.WriteString(`FORMAT
{
  "headline": "short attention-grabbing headline",
  "intro": "one sentence that hooks the viewer",
  "body": "the key facts, two to four sentences",
  "conclusion": "one closing sentence",
  "hashtags": ["#relevanthashtag1", "#relevanthashtag2"]
}`)
	return b.String()
}

func (p Prompt) targetWords() int {
	seconds := p.TargetSeconds
	if seconds <= 0 {
		seconds = 30
	}
	return int(float64(seconds) * wordsPerSecond)
}

var validate = validator.New()

// Parse decodes and validates a model answer. A malformed or incomplete
// answer is transient: another sample from the model usually fixes it.
func Parse(provider, content string) (Script, error) {
	var answer struct {
		Script
		Metadata struct {
			Hashtags []string `json:"hashtags"`
		} `json:"metadata"`
	}
	if err := llm.DecodeJSON(content, &answer); err != nil {
		return Script{}, services.Wrap(services.ErrTransient, provider, "parse script", "model returned malformed json", err)
	}
	s := answer.Script
	if len(s.Hashtags) == 0 {
		s.Hashtags = answer.Metadata.Hashtags
	}
	s.Headline = textutil.CollapseSpace(s.Headline)
	hashtags := s.Hashtags[:0]
	for _, tag := range s.Hashtags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		hashtags = append(hashtags, strings.ReplaceAll(tag, " ", ""))
	}
	s.Hashtags = hashtags
	if err := validate.Struct(s); err != nil {
		return Script{}, services.Wrap(services.ErrTransient, provider, "parse script", "model returned an incomplete script", err)
	}
	return s, nil
}
