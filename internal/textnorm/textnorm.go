// Package textnorm holds the pure text helpers shared by the catalog and the resolver:
// case folding, punctuation stripping, token splitting and GitHub URL extraction.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
)

var githubURLPattern = regexp.MustCompile(`https?://(?:www\.)?github\.com/([A-Za-z0-9_.\-]+)/([A-Za-z0-9_.\-]+)`)

var projectIntentPrefixes = []string{
	"what is ",
	"tell me about ",
	"describe ",
	"explain ",
	"summarize ",
	"overview of ",
}

var projectNouns = map[string]struct{}{
	"project":    {},
	"repo":       {},
	"repository": {},
	"codebase":   {},
	"app":        {},
	"service":    {},
	"library":    {},
}

// ExtractRepoFromURL returns "owner/name" from the first github.com URL in text, case preserved.
// A trailing ".git" is not part of the name.
func ExtractRepoFromURL(text string) (string, bool) {
	m := githubURLPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	owner, name := m[1], strings.TrimSuffix(m[2], ".git")
	if owner == "" || name == "" {
		return "", false
	}
	return owner + "/" + name, true
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// NormalizeLoose lowercases text and drops every non-alphanumeric rune, so
// "Widget-Service" and "widget service" both become "widgetservice".
func NormalizeLoose(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if isAlnum(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Tokenize lowercases text and splits it on runs of non-alphanumeric runes.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlnum(r)
	})
}

// HasProjectIntent reports whether the question reads as a question about a project: it starts
// with a descriptive prefix or mentions a project-referring noun.
func HasProjectIntent(question string) bool {
	q := strings.ToLower(strings.TrimSpace(question))
	for _, p := range projectIntentPrefixes {
		if strings.HasPrefix(q, p) {
			return true
		}
	}
	for _, tok := range Tokenize(q) {
		if _, ok := projectNouns[tok]; ok {
			return true
		}
	}
	return false
}
