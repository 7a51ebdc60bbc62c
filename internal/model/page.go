package model

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sync"
)

// contentKeyPattern matches every character that may not appear in a content key.
var contentKeyPattern = regexp.MustCompile(`[^a-zA-Z0-9 \n.]`)

// Page is a URL in flight through a strategy together with the body fetched for it.
//
// A Page is owned by exactly one strategy at a time. Its body lives in an owned
// buffer that is released with Release once Storage has persisted it, so at most
// one chunk of bodies is held in memory.
//
// Design decision: The content key is derived from the URL rather than the body
// because storage uses it as a stable file/row key before the page is fetched.
type Page struct {
	// URL is unique within a market and model.
	URL string `json:"url"`

	// Meta carries plan-provided metadata such as the category name.
	Meta map[string]any `json:"meta,omitempty"`

	// StatusCode is the HTTP status of the fetch, or 0 if the page was never fetched.
	StatusCode int `json:"status_code"`

	// Hash is the SHA-256 of the body, set by SetContent.
	Hash string `json:"hash,omitempty"`

	content []byte
	crawled bool

	keyOnce sync.Once
	key     string
}

// NewPage creates a page with a copy of meta.
func NewPage(url string, meta map[string]any) *Page {
	m := make(map[string]any, len(meta))
	for k, v := range meta {
		m[k] = v
	}
	return &Page{URL: url, Meta: m}
}

// ContentKey returns the storage key derived from the URL.
// It is computed once and cached.
func (p *Page) ContentKey() string {
	p.keyOnce.Do(func() {
		p.key = ContentKey(p.URL)
	})
	return p.key
}

// ContentKey replaces every character outside [a-zA-Z0-9 \n.] with '_'.
func ContentKey(url string) string {
	return contentKeyPattern.ReplaceAllString(url, "_")
}

// SetContent stores a fetched body and its status code.
// The page takes ownership of body.
func (p *Page) SetContent(statusCode int, body []byte) {
	p.StatusCode = statusCode
	p.content = body
	p.crawled = true
	p.computeHash()
}

// Content returns the fetched body, or nil if the page was not fetched or
// has been released.
func (p *Page) Content() []byte {
	return p.content
}

// Crawled reports whether a body has been stored in the page.
// It stays true after Release.
func (p *Page) Crawled() bool {
	return p.crawled
}

// Release drops the body buffer. It is safe to call more than once.
func (p *Page) Release() {
	p.content = nil
}

// Category returns the "category" metadata value, or "" if absent.
func (p *Page) Category() string {
	if p.Meta == nil {
		return ""
	}
	if v, ok := p.Meta["category"].(string); ok {
		return v
	}
	return ""
}

func (p *Page) computeHash() {
	if len(p.content) == 0 {
		p.Hash = ""
		return
	}
	sum := sha256.Sum256(p.content)
	p.Hash = hex.EncodeToString(sum[:])
}

// ReleaseAll releases every page in pages.
func ReleaseAll(pages []*Page) {
	for _, p := range pages {
		p.Release()
	}
}
