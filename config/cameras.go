package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CameraSeed is one camera entry in the cameras.yaml seed file.
type CameraSeed struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Source  string `yaml:"source"`
	Enabled *bool  `yaml:"enabled"` // nil means enabled
}

type cameraSeedFile struct {
	Cameras []CameraSeed `yaml:"cameras"`
}

// LoadCameraSeeds reads the camera seed file. A missing file is not an
// error; cameras can be managed entirely through the API.
func LoadCameraSeeds(path string) ([]CameraSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading camera seed file '%s': %w", path, err)
	}

	var file cameraSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing camera seed file '%s': %w", path, err)
	}

	seen := make(map[string]bool, len(file.Cameras))
	for i, cam := range file.Cameras {
		if cam.ID == "" || cam.Source == "" {
			return nil, fmt.Errorf("camera entry %d in '%s' is missing id or source", i, path)
		}
		if seen[cam.ID] {
			return nil, fmt.Errorf("duplicate camera id '%s' in '%s'", cam.ID, path)
		}
		seen[cam.ID] = true
	}
	return file.Cameras, nil
}

// IsEnabled resolves the optional enabled flag.
func (c CameraSeed) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
