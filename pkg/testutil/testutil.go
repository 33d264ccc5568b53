package testutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the file a Setup's manifest is written to
const ManifestFile = "pyproject.toml"

// Setup describes a project on disk
type Setup struct {
	// Manifest is written to pyproject.toml verbatim. It takes precedence over Tool.
	Manifest string `yaml:"manifest"`
	// Tool is rendered as the [tool.satchel] table of pyproject.toml
	Tool map[string]interface{} `yaml:"tool"`
	// Project is rendered as the PEP 621 [project] table
	Project map[string]interface{} `yaml:"project"`
	// Files maps paths relative to the project root to their content
	Files map[string]string `yaml:"files"`
}

// LoadFromYAML loads a project setup from a YAML file
func LoadFromYAML(in io.Reader) (*Setup, error) {
	fc, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}

	var res Setup
	err = yaml.Unmarshal(fc, &res)
	if err != nil {
		return nil, err
	}

	return &res, nil
}

// Materialize produces a project according to the setup in a new temporary directory
func (s Setup) Materialize() (projectRoot string, err error) {
	projectRoot, err = os.MkdirTemp("", "satchel-test-*")
	if err != nil {
		return
	}
	err = s.MaterializeIn(projectRoot)
	return
}

// MaterializeIn produces a project according to the setup in an existing directory
func (s Setup) MaterializeIn(projectRoot string) error {
	manifest := []byte(s.Manifest)
	if s.Manifest == "" {
		doc := make(map[string]interface{})
		if s.Tool != nil {
			doc["tool"] = map[string]interface{}{"satchel": s.Tool}
		}
		if s.Project != nil {
			doc["project"] = s.Project
		}
		var err error
		manifest, err = toml.Marshal(doc)
		if err != nil {
			return err
		}
	}
	err := os.WriteFile(filepath.Join(projectRoot, ManifestFile), manifest, 0644)
	if err != nil {
		return err
	}

	for name, content := range s.Files {
		fn := filepath.Join(projectRoot, name)
		err = os.MkdirAll(filepath.Dir(fn), 0755)
		if err != nil {
			return err
		}
		err = os.WriteFile(fn, []byte(content), 0644)
		if err != nil {
			return err
		}
	}
	return nil
}
