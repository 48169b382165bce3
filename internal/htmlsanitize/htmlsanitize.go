// Package htmlsanitize cleans user-authored rich text before it is stored.
package htmlsanitize

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

func ugcPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowAttrs("colspan", "rowspan").OnElements("td", "th")
		p.AllowAttrs("style").OnElements("span", "p")
		p.AllowStyles("color", "text-align").OnElements("span", "p")
		p.RequireNoFollowOnLinks(true)
		p.AddTargetBlankToFullyQualifiedLinks(true)
		policy = p
	})
	return policy
}

// Sanitize strips scripts, event handlers and unsafe URLs, keeping
// formatting, links, images and tables.
func Sanitize(input string) string {
	if input == "" {
		return ""
	}
	return ugcPolicy().Sanitize(input)
}

// StripAll removes every tag, leaving text only
func StripAll(input string) string {
	return bluemonday.StrictPolicy().Sanitize(input)
}
