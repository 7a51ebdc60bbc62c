// Package config holds the crawler settings: a flat Config built from
// defaults and CLI flags, the optional .marketcrawler YAML file with
// per-market overrides, and the XDG directories used for data.
package config
