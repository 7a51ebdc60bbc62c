package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Descriptor describes one element to extract from a page.
type Descriptor struct {
	// Name identifies the element within a plan (e.g. "listing", "next_page").
	Name string `yaml:"name"`

	// Selector is a CSS selector.
	Selector string `yaml:"selector"`

	// Attr reads an attribute instead of the element text.
	Attr string `yaml:"attr,omitempty"`

	// Many keeps every match; otherwise only the first is returned.
	Many bool `yaml:"many,omitempty"`

	// Pattern, when set, keeps only values matching the regular expression.
	Pattern string `yaml:"pattern,omitempty"`
}

// Document is a parsed HTML page.
type Document struct {
	doc *goquery.Document
}

// Parse parses an HTML body.
func Parse(body []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Find returns the trimmed, non-empty values d selects.
func (d *Document) Find(desc Descriptor) ([]string, error) {
	var pattern *regexp.Regexp
	if desc.Pattern != "" {
		p, err := regexp.Compile(desc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern for %q: %w", desc.Name, err)
		}
		pattern = p
	}

	var values []string
	d.doc.Find(desc.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var v string
		if desc.Attr != "" {
			v, _ = s.Attr(desc.Attr)
		} else {
			v = s.Text()
		}
		v = strings.TrimSpace(v)
		if v == "" || (pattern != nil && !pattern.MatchString(v)) {
			return true
		}
		values = append(values, v)
		return desc.Many
	})
	return values, nil
}

// First returns the first value d selects, or "" if nothing matches.
func (d *Document) First(desc Descriptor) (string, error) {
	desc.Many = false
	values, err := d.Find(desc)
	if err != nil || len(values) == 0 {
		return "", err
	}
	return values[0], nil
}

// Matches reports whether d selects at least one element. Text and pattern
// filters apply, so an empty element only matches when neither is set.
func (d *Document) Matches(desc Descriptor) (bool, error) {
	if desc.Attr == "" && desc.Pattern == "" {
		return d.doc.Find(desc.Selector).Length() > 0, nil
	}
	values, err := d.Find(desc)
	return len(values) > 0, err
}

// Lookup returns the descriptor named name.
func Lookup(descs []Descriptor, name string) (Descriptor, bool) {
	for _, d := range descs {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}
