package plan

import (
	"fmt"

	"github.com/nao1215/marketcrawler/internal/extract"
	"gopkg.in/yaml.v3"
)

// AllModels is the model whose sections apply to every model.
const AllModels = "all"

// Plan is a market-specific crawl descriptor.
type Plan struct {
	data map[string]any
}

// Meta is the market identity section of a plan.
type Meta struct {
	Market string `yaml:"market"`
	Domain string `yaml:"domain"`
	// Path is appended to every cleaned URL.
	Path string `yaml:"path"`
}

// Options are the crawl options of one model.
type Options struct {
	// Path overrides Meta.Path for the model when set.
	Path string `yaml:"path"`
}

// New wraps an already decoded plan document.
func New(data map[string]any) *Plan {
	if data == nil {
		data = map[string]any{}
	}
	return &Plan{data: data}
}

// Parse decodes a YAML plan document.
func Parse(data []byte) (*Plan, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPlan, err)
	}
	return New(doc), nil
}

// Meta returns the meta section. A plan without one, or without a domain,
// is malformed.
func (p *Plan) Meta() (Meta, error) {
	raw, ok := p.data["meta"]
	if !ok || raw == nil {
		return Meta{}, fmt.Errorf("%w: missing meta section", ErrMalformedPlan)
	}
	var m Meta
	if err := decode(raw, &m); err != nil {
		return Meta{}, fmt.Errorf("%w: meta: %w", ErrMalformedPlan, err)
	}
	if m.Domain == "" {
		return Meta{}, fmt.Errorf("%w: meta has no domain", ErrMalformedPlan)
	}
	return m, nil
}

// Section returns the named section of model, and of "all" when includeAll
// is set, keyed by the model it came from. Models without the section are
// left out.
func (p *Plan) Section(model, name string, includeAll bool) (map[string]any, error) {
	raw, ok := p.data["models"]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: missing models section", ErrMalformedPlan)
	}
	models, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: models is %T", ErrMalformedPlan, raw)
	}

	search := []string{model}
	if includeAll && model != AllModels {
		search = append(search, AllModels)
	}

	out := make(map[string]any)
	for _, m := range search {
		entry, ok := models[m]
		if !ok || entry == nil {
			continue
		}
		sections, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: model %q is %T", ErrMalformedPlan, m, entry)
		}
		if section, ok := sections[name]; ok {
			out[m] = section
		}
	}
	return out, nil
}

// Options returns the options of model. A model without options gets the
// zero value.
func (p *Plan) Options(model string) (Options, error) {
	section, err := p.Section(model, "options", false)
	if err != nil {
		return Options{}, err
	}
	var opts Options
	if err := decode(section[model], &opts); err != nil {
		return Options{}, fmt.Errorf("%w: options of %q: %w", ErrMalformedPlan, model, err)
	}
	return opts, nil
}

// Elements returns the extraction descriptors of model.
func (p *Plan) Elements(model string) ([]extract.Descriptor, error) {
	section, err := p.Section(model, "elements", false)
	if err != nil {
		return nil, err
	}
	var elements []extract.Descriptor
	if err := decode(section[model], &elements); err != nil {
		return nil, fmt.Errorf("%w: elements of %q: %w", ErrMalformedPlan, model, err)
	}
	return elements, nil
}

// Validators returns the validator sections of model, including "all".
func (p *Plan) Validators(model string) (map[string]any, error) {
	return p.Section(model, "validators", true)
}

// decode re-encodes a generic plan value into a typed target.
func decode(raw any, target any) error {
	if raw == nil {
		return nil
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, target)
}
