package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PageEntry describes a page to open in the browser at startup.
type PageEntry struct {
	URL string `yaml:"url"`
}

// StartupPages is the YAML configuration of pages to open at launch,
// typically standing meeting links.
type StartupPages struct {
	Pages []PageEntry `yaml:"pages"`
}

// LoadStartupPages reads and validates a startup-pages YAML file.
// Returns an os.ErrNotExist-wrapped error when the file is absent; the
// caller skips silently in that case.
func LoadStartupPages(path string) (*StartupPages, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("startup pages: %w", err)
	}
	var cfg StartupPages
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("startup pages: %w", err)
	}
	for i, p := range cfg.Pages {
		if p.URL == "" {
			return nil, fmt.Errorf("startup pages: pages[%d] missing url", i)
		}
	}
	return &cfg, nil
}
