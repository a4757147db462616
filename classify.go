package gooffline

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Classification tags a request with its handling category. Tags are derived
// deterministically from the request and never persisted.
type Classification string

const (
	ClassPrecacheShell Classification = "precache-shell"
	ClassAPI           Classification = "api-pattern"
	ClassNavigation    Classification = "navigation"
	ClassStatic        Classification = "static-asset"
	ClassOther         Classification = "other"
)

const (
	headerSecFetchMode = "Sec-Fetch-Mode"
	headerSecFetchDest = "Sec-Fetch-Dest"
	headerAccept       = "Accept"
)

// staticExtensions covers the script, style and image destinations for
// clients that do not send fetch-metadata headers.
var staticExtensions = map[string]struct{}{
	".js":   {},
	".mjs":  {},
	".css":  {},
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".svg":  {},
	".webp": {},
	".ico":  {},
}

type pathPrefixMatcher struct{ Prefix string }

func (m pathPrefixMatcher) Match(p string) bool { return strings.HasPrefix(p, m.Prefix) }

// Classifier assigns a Classification to intercepted requests. It is pure:
// the same request always classifies the same way.
type Classifier struct {
	originHost string
	patterns   []pathPrefixMatcher
	precache   map[string]struct{}
}

// NewClassifier compiles the config's API patterns and precache list into a
// Classifier.
func NewClassifier(cfg Config) (*Classifier, error) {
	var originHost string
	if cfg.Origin != "" {
		u, err := url.Parse(cfg.Origin)
		if err != nil {
			return nil, fmt.Errorf("origin: %w", err)
		}
		originHost = u.Host
	}

	matchers := make([]pathPrefixMatcher, 0, len(cfg.APIPatterns))
	for i, p := range cfg.APIPatterns {
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("apiPatterns[%d]: %q must start with /", i, p)
		}
		matchers = append(matchers, pathPrefixMatcher{Prefix: p})
	}

	precache := make(map[string]struct{}, len(cfg.Precache))
	for _, p := range cfg.Precache {
		precache[p] = struct{}{}
	}

	return &Classifier{
		originHost: originHost,
		patterns:   matchers,
		precache:   precache,
	}, nil
}

// Intercepts reports whether the request is subject to caching at all.
// Non-idempotent methods and cross-origin traffic pass straight to the
// network, uncached.
func (c *Classifier) Intercepts(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if c.originHost != "" && r.URL.Host != "" && r.URL.Host != c.originHost {
		return false
	}
	return true
}

// Classify applies the classification rules in priority order. API patterns
// outrank every content-based rule so a broad asset rule can never stale
// data responses.
func (c *Classifier) Classify(r *http.Request) Classification {
	if !c.Intercepts(r) {
		return ClassOther
	}

	p := r.URL.Path
	if p == "" {
		p = "/"
	}

	for _, m := range c.patterns {
		if m.Match(p) {
			return ClassAPI
		}
	}

	if isNavigation(r) {
		return ClassNavigation
	}

	if isStatic(r, p) {
		return ClassStatic
	}

	if _, ok := c.precache[p]; ok {
		return ClassPrecacheShell
	}

	return ClassOther
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get(headerSecFetchMode) == "navigate" {
		return true
	}
	// fetch-metadata headers are not guaranteed; a document Accept header is
	// the next best signal for a full-page navigation
	return strings.Contains(r.Header.Get(headerAccept), "text/html")
}

func isStatic(r *http.Request, p string) bool {
	switch r.Header.Get(headerSecFetchDest) {
	case "script", "style", "image":
		return true
	}
	_, ok := staticExtensions[strings.ToLower(path.Ext(p))]
	return ok
}
