package registry

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/taskhub/internal/errors"
)

// LoadRecords reads an ordered list of template or type records from a
// YAML file.
func LoadRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTemplateInvalid, "read "+path, err)
	}
	var records []Record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrap(errors.ErrCodeTemplateInvalid, "unmarshal "+path, err)
	}
	return records, nil
}

// LoadFiles builds a registry from a types file and a templates file.
// The types path may be empty when no behavioral templates are used.
func LoadFiles(typesPath, templatesPath string) (*Registry, error) {
	var types []Record
	if typesPath != "" {
		loaded, err := LoadRecords(typesPath)
		if err != nil {
			return nil, err
		}
		types = loaded
	}
	templates, err := LoadRecords(templatesPath)
	if err != nil {
		return nil, err
	}
	return Build(types, templates)
}
