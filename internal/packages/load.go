package packages

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileEntry struct {
	DisplayName string            `yaml:"display_name"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Dir         string            `yaml:"dir"`
	Env         map[string]string `yaml:"env"`
}

type fileFormat struct {
	Packages map[string]fileEntry `yaml:"packages"`
}

// Parse decodes a packages document:
//
//	packages:
//	  echo:
//	    display_name: Example peer
//	    command: mcphub
//	    args: [peer]
//	    env: {MCPHUB_LOG_LEVEL: debug}
func Parse(data []byte) (Table, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse packages file: %w", err)
	}

	t := Table{}
	for name, e := range f.Packages {
		if name == "" {
			return nil, fmt.Errorf("package with empty name")
		}
		if e.Command == "" {
			return nil, fmt.Errorf("package %q: command is required", name)
		}
		display := e.DisplayName
		if display == "" {
			display = name
		}
		t[name] = Command{
			DisplayName: display,
			Path:        e.Command,
			Args:        e.Args,
			Dir:         e.Dir,
			Env:         e.Env,
		}
	}
	return t, nil
}

// LoadFile reads path and merges its packages over Default.
func LoadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read packages file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return Default().Merge(t), nil
}
