package config

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/nao1215/marketcrawler/internal/budget"
)

// MarketConfig holds the overrides for one market. Zero values mean
// "use the global setting".
type MarketConfig struct {
	Budget         string            `yaml:"budget,omitempty"`
	MinConnections int               `yaml:"minConnections,omitempty"`
	MaxConnections int               `yaml:"maxConnections,omitempty"`
	MinDelay       time.Duration     `yaml:"minDelay,omitempty"`
	MaxDelay       time.Duration     `yaml:"maxDelay,omitempty"`
	WindowMin      int               `yaml:"windowMin,omitempty"`
	WindowMax      int               `yaml:"windowMax,omitempty"`
	Domain         string            `yaml:"domain,omitempty"`
	Suffix         string            `yaml:"suffix,omitempty"`
	UserAgent      string            `yaml:"userAgent,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`

	// IgnorePatterns are URL path globs that are never crawled.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// FollowPatterns, when set, are the only URL path globs crawled.
	FollowPatterns []string `yaml:"followPatterns,omitempty"`
}

// File represents the structure of the .marketcrawler configuration file.
type File struct {
	// Markets maps market names to their overrides.
	Markets map[string]MarketConfig `yaml:"markets,omitempty"`

	// Defaults apply to every market unless the market overrides them.
	Defaults MarketConfig `yaml:"defaults,omitempty"`
}

// MarketConfig returns the configuration of market merged over the defaults.
func (cf *File) MarketConfig(market string) MarketConfig {
	result := cf.Defaults
	if cf.Defaults.Headers != nil {
		result.Headers = make(map[string]string, len(cf.Defaults.Headers))
		for k, v := range cf.Defaults.Headers {
			result.Headers[k] = v
		}
	}

	mc, ok := cf.Markets[market]
	if !ok {
		return result
	}

	if mc.Budget != "" {
		result.Budget = mc.Budget
	}
	if mc.MinConnections != 0 {
		result.MinConnections = mc.MinConnections
	}
	if mc.MaxConnections != 0 {
		result.MaxConnections = mc.MaxConnections
	}
	if mc.MinDelay != 0 {
		result.MinDelay = mc.MinDelay
	}
	if mc.MaxDelay != 0 {
		result.MaxDelay = mc.MaxDelay
	}
	if mc.WindowMin != 0 {
		result.WindowMin = mc.WindowMin
	}
	if mc.WindowMax != 0 {
		result.WindowMax = mc.WindowMax
	}
	if mc.Domain != "" {
		result.Domain = mc.Domain
	}
	if mc.Suffix != "" {
		result.Suffix = mc.Suffix
	}
	if mc.UserAgent != "" {
		result.UserAgent = mc.UserAgent
	}
	if len(mc.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string)
		}
		for k, v := range mc.Headers {
			result.Headers[k] = v
		}
	}
	if len(mc.IgnorePatterns) > 0 {
		result.IgnorePatterns = mc.IgnorePatterns
	}
	if len(mc.FollowPatterns) > 0 {
		result.FollowPatterns = mc.FollowPatterns
	}
	return result
}

// Validate checks every market entry and the defaults. Only the fields an
// entry sets are checked, bounds against each other only when both are set.
func (cf *File) Validate() error {
	if err := cf.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for _, name := range slices.Sorted(maps.Keys(cf.Markets)) {
		if name == "" {
			return ErrEmptyMarketName
		}
		mc := cf.Markets[name]
		if err := mc.Validate(); err != nil {
			return fmt.Errorf("market %q: %w", name, err)
		}
	}
	return nil
}

// Validate checks the fields set in the override.
func (mc MarketConfig) Validate() error {
	if mc.Budget != "" && !slices.Contains(budget.Policies(), mc.Budget) {
		return fmt.Errorf("%w: %q", ErrUnknownBudget, mc.Budget)
	}
	if mc.MinConnections < 0 || mc.MaxConnections < 0 ||
		(mc.MinConnections > 0 && mc.MaxConnections > 0 && mc.MaxConnections < mc.MinConnections) {
		return ErrInvalidConnections
	}
	if mc.MinDelay < 0 || mc.MaxDelay < 0 ||
		(mc.MinDelay > 0 && mc.MaxDelay > 0 && mc.MaxDelay < mc.MinDelay) {
		return ErrInvalidDelay
	}
	if mc.WindowMin < 0 || mc.WindowMax < 0 ||
		(mc.WindowMin > 0 && mc.WindowMax > 0 && mc.WindowMax < mc.WindowMin) {
		return ErrInvalidWindow
	}
	if err := validateDomain(mc.Domain); err != nil {
		return err
	}
	for _, pattern := range slices.Concat(mc.IgnorePatterns, mc.FollowPatterns) {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
		}
	}
	return nil
}
