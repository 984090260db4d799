package rss

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourcesConfig is the YAML seed file structure
// sources:
//   - name: Krebs on Security
//     url: https://krebsonsecurity.com/feed/
//     category: Cybersecurity
type SourcesConfig struct {
	Sources []SeedSource `yaml:"sources"`
}

// SeedSource is one feed entry of the seed file.
type SeedSource struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
}

// LoadSources reads the seed list from a YAML file.
// Entries without a URL are dropped; a missing name defaults to the URL.
func LoadSources(path string) ([]SeedSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg SourcesConfig
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	out := make([]SeedSource, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		s.URL = strings.TrimSpace(s.URL)
		if s.URL == "" {
			continue
		}
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			s.Name = s.URL
		}
		out = append(out, s)
	}
	return out, nil
}
