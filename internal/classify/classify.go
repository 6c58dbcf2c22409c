// Package classify decides what kind of page a mission landed on before any
// extraction is attempted.
package classify

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Kind is the classification verdict for a rendered page.
type Kind string

// Page kinds, ordered from most to least hostile.
const (
	KindCaptcha Kind = "captcha"
	KindBlocked Kind = "blocked"
	KindEmpty   Kind = "empty"
	KindResults Kind = "results"
	KindUnknown Kind = "unknown"
)

// Markers are the per-provider signatures the classifier looks for. Selector
// markers are checked against the DOM structure; phrase markers against the
// visible text.
type Markers struct {
	CaptchaSelectors []string
	CaptchaPhrases   []string
	BlockPhrases     []string
	NoResultPhrases  []string
	ResultSelector   string
}

// Classify parses the page and returns its verdict. Structural captcha
// markers win over text phrases, and hostile verdicts win over a benign
// empty page: a captcha page often also says "no results found".
func Classify(html string, m Markers) (Kind, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return KindUnknown, fmt.Errorf("parse page: %w", err)
	}

	for _, sel := range m.CaptchaSelectors {
		if doc.Find(sel).Length() > 0 {
			return KindCaptcha, nil
		}
	}

	text := strings.ToLower(doc.Find("body").Text())
	for _, phrase := range m.CaptchaPhrases {
		if strings.Contains(text, strings.ToLower(phrase)) {
			return KindCaptcha, nil
		}
	}
	for _, phrase := range m.BlockPhrases {
		if strings.Contains(text, strings.ToLower(phrase)) {
			return KindBlocked, nil
		}
	}

	if m.ResultSelector != "" && doc.Find(m.ResultSelector).Length() > 0 {
		return KindResults, nil
	}
	for _, phrase := range m.NoResultPhrases {
		if strings.Contains(text, strings.ToLower(phrase)) {
			return KindEmpty, nil
		}
	}
	return KindUnknown, nil
}

// Hostile reports whether the verdict means the session is burned.
func (k Kind) Hostile() bool {
	return k == KindCaptcha || k == KindBlocked
}
