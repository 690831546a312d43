package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExcludeConfig lists routes skipped by static exports.
// Structure example:
//
//	{
//	  "all": ["/cart/*", "/my-account"],
//	  "shop.example.com": ["/checkout", "/checkout/*"]
//	}
//
// Patterns use path.Match syntax. A pattern without wildcards also excludes
// everything beneath it.
type ExcludeConfig map[string][]string

// LoadExcludeConfig loads an exclusion file if provided.
// Returns an empty config if filePath is empty.
func LoadExcludeConfig(filePath string) (ExcludeConfig, error) {
	if filePath == "" {
		return ExcludeConfig{}, nil
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read exclude file %s: %w", filePath, err)
	}
	var raw map[string][]string
	switch ext := filepath.Ext(filePath); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML exclude file %s: %w", filePath, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse JSON exclude file %s: %w", filePath, err)
		}
	}
	if raw == nil {
		raw = map[string][]string{}
	}
	return ExcludeConfig(raw), nil
}

// IsExcluded reports whether route must be skipped when exporting domain.
func (ec ExcludeConfig) IsExcluded(domain, route string) bool {
	route = "/" + strings.Trim(route, "/")
	return matchRoutes(ec["all"], route) || matchRoutes(ec[strings.ToLower(domain)], route)
}

func matchRoutes(patterns []string, route string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		p = "/" + strings.Trim(p, "/")
		if p == route || (p != "/" && strings.HasPrefix(route, p+"/")) {
			return true
		}
		if ok, err := path.Match(p, route); err == nil && ok {
			return true
		}
	}
	return false
}
