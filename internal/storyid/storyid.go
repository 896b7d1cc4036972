// Package storyid builds Storybook story ids and iframe URLs.
package storyid

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrEmptyID is returned when a kind or story name sanitizes to nothing.
var ErrEmptyID = errors.New("story id part is empty after sanitizing")

var (
	punctuation = regexp.MustCompile("[ ’–—―′¿'`~!@#$%^&*()_|+\\-=?;:'\",.<>{}\\[\\]\\\\/]")
	dashes      = regexp.MustCompile("-+")
)

// Sanitize converts a kind or story name to the form Storybook uses in ids.
func Sanitize(s string) string {
	out := strings.ToLower(s)
	out = punctuation.ReplaceAllString(out, "-")
	out = dashes.ReplaceAllString(out, "-")
	return strings.Trim(out, "-")
}

// ToID returns the story id for a kind ("Button") and story name ("with text").
func ToID(kind, name string) (string, error) {
	k := Sanitize(kind)
	if k == "" {
		return "", fmt.Errorf("kind %q: %w", kind, ErrEmptyID)
	}
	n := Sanitize(name)
	if n == "" {
		return "", fmt.Errorf("name %q: %w", name, ErrEmptyID)
	}
	return k + "--" + n, nil
}

// ConstructURL returns the iframe URL that renders a single story in isolation.
// Any query already present on storybookURL is carried over after the id.
func ConstructURL(storybookURL, id string) (string, error) {
	u, err := url.Parse(storybookURL)
	if err != nil {
		return "", fmt.Errorf("parse storybook url: %w", err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("storybook url %q has no scheme", storybookURL)
	}
	path := strings.TrimSuffix(u.EscapedPath(), "/")
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	b.WriteString(path)
	b.WriteString("/iframe.html?id=")
	b.WriteString(url.QueryEscape(id))
	if u.RawQuery != "" {
		b.WriteString("&")
		b.WriteString(u.RawQuery)
	}
	return b.String(), nil
}

// KindURL is a convenience for ToID followed by ConstructURL.
func KindURL(storybookURL, kind, name string) (string, error) {
	id, err := ToID(kind, name)
	if err != nil {
		return "", err
	}
	return ConstructURL(storybookURL, id)
}
