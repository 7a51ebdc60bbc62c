package plan

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"

	"github.com/nao1215/marketcrawler/internal/model"
)

// CategoryModel is the model that holds the seed pages.
const CategoryModel = "category"

// placeholder matches ${...} in a seed path.
var placeholder = regexp.MustCompile(`\$\{.*?\}`)

// seed is one entry of the pages section.
type seed struct {
	Name string         `yaml:"name"`
	Path string         `yaml:"path"`
	Vars map[string]any `yaml:"vars"`
}

// expanders maps every vars kind to the function producing its paths.
var expanders = map[string]func(path string, arg any) ([]string, error){
	"list": func(path string, arg any) ([]string, error) {
		var values []any
		if err := decode(arg, &values); err != nil {
			return nil, err
		}
		out := make([]string, 0, len(values))
		for _, v := range values {
			out = append(out, substitute(path, fmt.Sprint(v)))
		}
		return out, nil
	},
	"range": func(path string, arg any) ([]string, error) {
		var bounds []int
		if err := decode(arg, &bounds); err != nil {
			return nil, err
		}
		if len(bounds) != 2 || bounds[1] < bounds[0] {
			return nil, fmt.Errorf("range needs [start, stop], got %v", bounds)
		}
		out := make([]string, 0, bounds[1]-bounds[0]+1)
		for i := bounds[0]; i <= bounds[1]; i++ {
			out = append(out, substitute(path, strconv.Itoa(i)))
		}
		return out, nil
	},
}

func substitute(path, value string) string {
	return placeholder.ReplaceAllLiteralString(path, value)
}

// SeedPages expands the pages section of the category model (and "all")
// into pages tagged with their category name. Models are visited in name
// order and vars kinds in name order, so the result is deterministic.
func (p *Plan) SeedPages() ([]*model.Page, error) {
	section, err := p.Section(CategoryModel, "pages", true)
	if err != nil {
		return nil, err
	}

	var pages []*model.Page
	for _, m := range slices.Sorted(maps.Keys(section)) {
		var seeds []seed
		if err := decode(section[m], &seeds); err != nil {
			return nil, fmt.Errorf("%w: pages of %q: %w", ErrMalformedPlan, m, err)
		}
		for _, s := range seeds {
			paths, err := expand(s)
			if err != nil {
				return nil, fmt.Errorf("%w: page %q: %w", ErrMalformedPlan, s.Name, err)
			}
			for _, path := range paths {
				pages = append(pages, model.NewPage(path, map[string]any{CategoryModel: s.Name}))
			}
		}
	}
	return pages, nil
}

func expand(s seed) ([]string, error) {
	if s.Path == "" {
		return nil, errors.New("missing path")
	}
	if len(s.Vars) == 0 {
		return []string{s.Path}, nil
	}

	var out []string
	for _, kind := range slices.Sorted(maps.Keys(s.Vars)) {
		fn, ok := expanders[kind]
		if !ok {
			return nil, fmt.Errorf("unknown vars kind %q", kind)
		}
		paths, err := fn(s.Path, s.Vars[kind])
		if err != nil {
			return nil, err
		}
		out = append(out, paths...)
	}
	return out, nil
}
