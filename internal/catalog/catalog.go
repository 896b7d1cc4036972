// Package catalog lists the stories a Storybook instance serves, using the
// index.json manifest of Storybook 7+ and the stories.json of Storybook 6.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoIndex is returned when neither index.json nor stories.json is available.
var ErrNoIndex = errors.New("storybook index not found")

// Entry is one story in the index.
type Entry struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Name       string   `json:"name"`
	ImportPath string   `json:"importPath,omitempty"`
	Type       string   `json:"type,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Kind is the storyshots name for a story's title.
func (e Entry) Kind() string { return e.Title }

type indexV4 struct {
	Entries map[string]Entry `json:"entries"`
}

type storiesV3 struct {
	Stories map[string]struct {
		Entry
		Kind       string `json:"kind"`
		Parameters struct {
			DocsOnly bool `json:"docsOnly"`
		} `json:"parameters"`
	} `json:"stories"`
}

var manifests = []string{"index.json", "stories.json"}

// Fetch loads the story index from storybookURL, which may be http(s) or a
// file:// URL pointing at a static build. Docs entries are dropped and the
// result is sorted by id.
func Fetch(ctx context.Context, client *http.Client, storybookURL string) ([]Entry, error) {
	base, err := url.Parse(storybookURL)
	if err != nil {
		return nil, fmt.Errorf("parse storybook url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}

	for _, name := range manifests {
		var data []byte
		if base.Scheme == "file" {
			data, err = os.ReadFile(filepath.Join(filepath.FromSlash(base.Path), name))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
		} else {
			data, err = get(ctx, client, manifestURL(base, name))
			if errors.Is(err, errNotFound) {
				continue
			}
		}
		if err != nil {
			return nil, err
		}
		return Parse(data)
	}
	return nil, fmt.Errorf("%w at %s", ErrNoIndex, storybookURL)
}

// Parse decodes either manifest version.
func Parse(data []byte) ([]Entry, error) {
	var probe struct {
		Entries json.RawMessage `json:"entries"`
		Stories json.RawMessage `json:"stories"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}

	var out []Entry
	switch {
	case probe.Entries != nil:
		var idx indexV4
		if err := json.Unmarshal(data, &idx); err != nil {
			return nil, fmt.Errorf("decode index.json: %w", err)
		}
		for _, e := range idx.Entries {
			if e.Type == "docs" {
				continue
			}
			out = append(out, e)
		}
	case probe.Stories != nil:
		var idx storiesV3
		if err := json.Unmarshal(data, &idx); err != nil {
			return nil, fmt.Errorf("decode stories.json: %w", err)
		}
		for _, s := range idx.Stories {
			if s.Parameters.DocsOnly {
				continue
			}
			e := s.Entry
			if e.Title == "" {
				e.Title = s.Kind
			}
			e.Type = "story"
			out = append(out, e)
		}
	default:
		return nil, errors.New("decode index: neither entries nor stories present")
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Filter keeps entries whose id contains any include substring (all when
// include is empty) and none of the exclude substrings.
func Filter(entries []Entry, include, exclude []string) []Entry {
	var out []Entry
	for _, e := range entries {
		if Selected(e.ID, include, exclude) {
			out = append(out, e)
		}
	}
	return out
}

// Selected applies the Filter rule to a single story id.
func Selected(id string, include, exclude []string) bool {
	if len(include) > 0 && !containsAny(id, include) {
		return false
	}
	return !containsAny(id, exclude)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var errNotFound = errors.New("not found")

func manifestURL(base *url.URL, name string) string {
	u := *base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + name
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func get(ctx context.Context, client *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", u, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
