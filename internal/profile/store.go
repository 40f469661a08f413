// Package profile persists named groups of supervised targets so one
// command brings up a whole working setup: some managed services, the
// tunnel, the HTTP proxy.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
)

// Definition is one named profile. Services holds managed-service labels;
// Tunnel and HTTPProxy include the respective supervised slots.
type Definition struct {
	Name      string   `yaml:"name" json:"name"`
	Services  []string `yaml:"services,omitempty" json:"services,omitempty"`
	Tunnel    bool     `yaml:"tunnel,omitempty" json:"tunnel,omitempty"`
	HTTPProxy bool     `yaml:"http_proxy,omitempty" json:"http_proxy,omitempty"`
}

type fileModel struct {
	Profiles map[string]Definition `yaml:"profiles"`
}

func filePath() (string, error) {
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profiles.yaml"), nil
}

// LoadAll returns all profiles sorted by name.
func LoadAll() ([]Definition, error) {
	fm, err := loadFile()
	if err != nil {
		return nil, err
	}
	out := make([]Definition, 0, len(fm.Profiles))
	for _, p := range fm.Profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get fetches one profile by name.
func Get(name string) (Definition, error) {
	fm, err := loadFile()
	if err != nil {
		return Definition{}, err
	}
	p, ok := fm.Profiles[name]
	if !ok {
		return Definition{}, fmt.Errorf("profile not found: %s", name)
	}
	return p, nil
}

// Create adds or replaces a profile definition.
func Create(def Definition) error {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if len(def.Services) == 0 && !def.Tunnel && !def.HTTPProxy {
		return fmt.Errorf("profile must include at least one target")
	}
	for i := range def.Services {
		def.Services[i] = strings.TrimSpace(def.Services[i])
		if def.Services[i] == "" {
			return fmt.Errorf("profile entry %d missing service label", i)
		}
	}

	fm, err := loadFile()
	if err != nil {
		return err
	}
	fm.Profiles[def.Name] = def
	return saveFile(fm)
}

// Delete removes a profile by name.
func Delete(name string) error {
	fm, err := loadFile()
	if err != nil {
		return err
	}
	if _, ok := fm.Profiles[name]; !ok {
		return fmt.Errorf("profile not found: %s", name)
	}
	delete(fm.Profiles, name)
	return saveFile(fm)
}

func loadFile() (fileModel, error) {
	path, err := filePath()
	if err != nil {
		return fileModel{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileModel{Profiles: map[string]Definition{}}, nil
		}
		return fileModel{}, err
	}
	var fm fileModel
	if err := yaml.Unmarshal(b, &fm); err != nil {
		return fileModel{}, fmt.Errorf("parse profiles: %w", err)
	}
	if fm.Profiles == nil {
		fm.Profiles = map[string]Definition{}
	}
	return fm, nil
}

func saveFile(fm fileModel) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
