package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// WorkerDef is a specialist definition loaded from a workers.toml overlay.
// Built-in specialists can be overridden by name; unknown names add new
// specialists with the given capability grants.
type WorkerDef struct {
	Name          string   `toml:"name"`
	Model         string   `toml:"model"`
	SystemPrompt  string   `toml:"system_prompt"`
	Capabilities  []string `toml:"capabilities"` // read, search, bash, write, web
	MaxIterations int      `toml:"max_iterations"`
}

type workersFile struct {
	Workers []WorkerDef `toml:"workers"`
}

var validCapabilities = map[string]bool{
	"read": true, "search": true, "bash": true, "write": true, "web": true,
}

// LoadWorkerDefs reads worker-spec overrides from a TOML file. A missing file
// is not an error; it just means no overrides.
func LoadWorkerDefs(path string) ([]WorkerDef, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	var f workersFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("parse workers file: %w", err)
	}

	for _, w := range f.Workers {
		if w.Name == "" {
			return nil, fmt.Errorf("workers file: worker with empty name")
		}
		for _, c := range w.Capabilities {
			if !validCapabilities[c] {
				return nil, fmt.Errorf("workers file: worker %q has unknown capability %q", w.Name, c)
			}
		}
	}
	return f.Workers, nil
}
