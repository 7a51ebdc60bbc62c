package validator

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/nao1215/marketcrawler/internal/extract"
	"github.com/nao1215/marketcrawler/internal/session"
	"gopkg.in/yaml.v3"
)

// Kind names a validator type as written in a plan.
type Kind string

const (
	// KindStatus selects StatusCode.
	KindStatus Kind = "status"
	// KindContent selects Content.
	KindContent Kind = "content"
)

// DefaultInvalidStatus is the first status code treated as invalid.
const DefaultInvalidStatus = 400

// Validator checks one aspect of a response.
type Validator interface {
	Valid(resp session.Response) bool
	Kind() Kind
}

// constructors maps every validator kind to a decoder for its plan conditions.
var constructors = map[Kind]func(conditions any, logger *slog.Logger) (Validator, error){
	KindStatus: func(conditions any, _ *slog.Logger) (Validator, error) {
		v := &StatusCode{Invalid: DefaultInvalidStatus}
		if err := decode(conditions, v); err != nil {
			return nil, err
		}
		return v, nil
	},
	KindContent: func(conditions any, logger *slog.Logger) (Validator, error) {
		v := &Content{}
		if err := decode(conditions, v); err != nil {
			return nil, err
		}
		v.logger = logger
		return v, nil
	},
}

// decode re-encodes a generic plan value into a typed struct.
func decode(conditions any, target any) error {
	if conditions == nil {
		return nil
	}
	raw, err := yaml.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("failed to encode validator conditions: %w", err)
	}
	if err := yaml.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode validator conditions: %w", err)
	}
	return nil
}

// StatusCode rejects responses without a status or with a status of at least Invalid.
type StatusCode struct {
	Invalid int `yaml:"invalid"`
}

// Kind implements Validator.
func (*StatusCode) Kind() Kind { return KindStatus }

// Valid implements Validator.
func (v *StatusCode) Valid(resp session.Response) bool {
	fetched, ok := resp.(*session.Fetched)
	if !ok {
		return false
	}
	return fetched.StatusCode != 0 && fetched.StatusCode < v.Invalid
}

// Content rejects pages containing a forbidden element or missing a required one.
type Content struct {
	Invalid  []extract.Descriptor `yaml:"invalid"`
	Required []extract.Descriptor `yaml:"required"`

	logger *slog.Logger
}

// Kind implements Validator.
func (*Content) Kind() Kind { return KindContent }

// Valid implements Validator.
func (v *Content) Valid(resp session.Response) bool {
	fetched, ok := resp.(*session.Fetched)
	if !ok {
		return false
	}
	doc, err := extract.Parse(fetched.Body)
	if err != nil {
		v.log().Debug("content validation could not parse page", "url", fetched.URL, "error", err)
		return false
	}

	for _, d := range v.Invalid {
		match, err := doc.Matches(d)
		if err != nil || match {
			v.log().Debug("forbidden element present", "url", fetched.URL, "element", d.Name)
			return false
		}
	}
	for _, d := range v.Required {
		match, err := doc.Matches(d)
		if err != nil || !match {
			v.log().Debug("required element missing", "url", fetched.URL, "element", d.Name)
			return false
		}
	}
	return true
}

func (v *Content) log() *slog.Logger {
	if v.logger == nil {
		return slog.Default()
	}
	return v.logger
}

// Set groups validators by plan section.
type Set map[string][]Validator

// FromSections builds a Set from plan sections shaped as
// {section: {kind: conditions}}. Unknown kinds are skipped with a warning.
func FromSections(sections map[string]any, logger *slog.Logger) (Set, error) {
	if logger == nil {
		logger = slog.Default()
	}

	set := make(Set, len(sections))
	for section, raw := range sections {
		if raw == nil {
			set[section] = nil
			continue
		}
		kinds, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: section %q is %T", ErrMalformedValidators, section, raw)
		}

		names := make([]string, 0, len(kinds))
		for name := range kinds {
			names = append(names, name)
		}
		sort.Strings(names)

		var validators []Validator
		for _, name := range names {
			ctor, ok := constructors[Kind(name)]
			if !ok {
				logger.Warn("skipping unknown validator", "section", section, "kind", name)
				continue
			}
			v, err := ctor(kinds[name], logger)
			if err != nil {
				return nil, fmt.Errorf("section %q validator %q: %w", section, name, err)
			}
			validators = append(validators, v)
		}
		set[section] = validators
	}
	return set, nil
}

// Valid reports whether every validator in every section accepts resp.
func (s Set) Valid(resp session.Response) bool {
	for _, validators := range s {
		for _, v := range validators {
			if !v.Valid(resp) {
				return false
			}
		}
	}
	return true
}

// Only returns the subset of s restricted to the named sections.
func (s Set) Only(sections ...string) Set {
	out := make(Set, len(sections))
	for name, validators := range s {
		if slices.Contains(sections, name) {
			out[name] = validators
		}
	}
	return out
}

// Len returns the total number of validators.
func (s Set) Len() int {
	n := 0
	for _, validators := range s {
		n += len(validators)
	}
	return n
}
