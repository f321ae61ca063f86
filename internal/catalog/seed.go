package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the on-disk catalog format:
//
//	projects:
//	  - name: Widget
//	    description: ...
//	    url: https://github.com/acme/widget
//	    tags: [go, cli]
type SeedFile struct {
	Projects []Project `yaml:"projects"`
}

// LoadSeedFile reads a YAML catalog.
func LoadSeedFile(path string) ([]Project, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return ParseSeed(b)
}

func ParseSeed(b []byte) ([]Project, error) {
	var f SeedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}
	for i := range f.Projects {
		f.Projects[i].normalize()
		if f.Projects[i].Name == "" {
			return nil, fmt.Errorf("catalog entry %d: name is required", i)
		}
	}
	return f.Projects, nil
}
