package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultWindowMin is the window of a category crawled today.
	DefaultWindowMin = 2
	// DefaultWindowMax is the window of a category never crawled.
	DefaultWindowMax = 5

	// FileName is the state document name inside the market directory.
	FileName = "state.yaml"
)

// Status is the cursor of one seed path of a category.
type Status struct {
	// Path is the category anchor. It never changes.
	Path string `yaml:"path" json:"path"`
	// URL is the next page to fetch. Empty means start at Path.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// Last is the most recently fetched page.
	Last string `yaml:"last,omitempty" json:"last,omitempty"`
	// LastCrawl is when the category last finished without new listings.
	LastCrawl *time.Time `yaml:"last_crawl,omitempty" json:"last_crawl,omitempty"`
}

// Target returns the page to fetch next.
func (s *Status) Target() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Path
}

// CrawlState is the persisted cursor of one market. It is driven by a single
// coordinator and is not safe for concurrent use.
type CrawlState struct {
	market    string
	path      string
	windowMin int
	windowMax int
	now       func() time.Time

	loaded     bool
	categories map[string][]*Status
}

// Option configures a CrawlState.
type Option func(*CrawlState)

// WithWindow sets the window bounds.
func WithWindow(windowMin, windowMax int) Option {
	return func(s *CrawlState) {
		s.windowMin = windowMin
		s.windowMax = windowMax
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *CrawlState) {
		s.now = now
	}
}

// Path returns the state document location of market under dataDir.
func Path(dataDir, market string) string {
	return filepath.Join(dataDir, "markets", market, FileName)
}

// New returns the state of market stored under dataDir. Nothing is read
// until the state is first used.
func New(dataDir, market string, opts ...Option) (*CrawlState, error) {
	if market == "" {
		return nil, ErrMarketRequired
	}

	s := &CrawlState{
		market:    market,
		path:      Path(dataDir, market),
		windowMin: DefaultWindowMin,
		windowMax: DefaultWindowMax,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.windowMin < 1 || s.windowMax < s.windowMin {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidWindow, s.windowMin, s.windowMax)
	}
	return s, nil
}

// Market returns the market name.
func (s *CrawlState) Market() string {
	return s.market
}

// File returns the state document path.
func (s *CrawlState) File() string {
	return s.path
}

func (s *CrawlState) load() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.categories = make(map[string][]*Status)
	case err != nil:
		return fmt.Errorf("failed to read state: %w", err)
	default:
		var categories map[string][]*Status
		if err := yaml.Unmarshal(data, &categories); err != nil {
			return fmt.Errorf("failed to parse state %s: %w", s.path, err)
		}
		if categories == nil {
			categories = make(map[string][]*Status)
		}
		s.categories = categories
	}

	s.loaded = true
	return nil
}

// Status returns the entry for path in category, creating and persisting it
// when it does not exist yet. The returned pointer stays valid for the life
// of the state; mutate it and call Save.
func (s *CrawlState) Status(category, path string) (*Status, error) {
	if err := s.load(); err != nil {
		return nil, err
	}

	for _, st := range s.categories[category] {
		if st.Path == path {
			return st, nil
		}
	}

	st := &Status{Path: path}
	s.categories[category] = append(s.categories[category], st)
	if err := s.Save(); err != nil {
		return nil, err
	}
	return st, nil
}

// Window returns how many listing pages may be crawled for st.
func (s *CrawlState) Window(st *Status) int {
	if st == nil || st.LastCrawl == nil {
		return s.windowMax
	}
	days := int(s.now().Sub(*st.LastCrawl).Hours() / 24)
	return CalculateWindow(days, s.windowMin, s.windowMax)
}

// Finish stamps st as completely crawled now and saves.
func (s *CrawlState) Finish(st *Status) error {
	now := s.now()
	st.LastCrawl = &now
	return s.Save()
}

// Save writes the state atomically: the document goes to a temporary file in
// the same directory which then replaces the old one.
func (s *CrawlState) Save() error {
	if err := s.load(); err != nil {
		return err
	}

	data, err := yaml.Marshal(s.categories)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace state: %w", err)
	}
	return nil
}

// Categories returns a deep copy of the state keyed by category, for display.
func (s *CrawlState) Categories() (map[string][]Status, error) {
	if err := s.load(); err != nil {
		return nil, err
	}

	out := make(map[string][]Status, len(s.categories))
	for name, list := range s.categories {
		entries := make([]Status, len(list))
		for i, st := range list {
			entries[i] = *st
			if st.LastCrawl != nil {
				t := *st.LastCrawl
				entries[i].LastCrawl = &t
			}
		}
		out[name] = entries
	}
	return out, nil
}

// CalculateWindow clamps days to [windowMin, windowMax]. A category crawled
// recently gets a small window, a stale one the full window.
func CalculateWindow(days, windowMin, windowMax int) int {
	return min(max(days, windowMin), windowMax)
}
