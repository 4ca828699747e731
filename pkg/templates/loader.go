package templates

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

//go:embed catalog.yaml
var builtinCatalog []byte

type catalogFile struct {
	Templates []models.Template `yaml:"templates"`
}

// Parse decodes a YAML template catalog. Unknown fields are rejected so a typo in
// a catalog does not silently drop a setting.
func Parse(data []byte) ([]models.Template, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f catalogFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode template catalog: %w", err)
	}
	if len(f.Templates) == 0 {
		return nil, fmt.Errorf("template catalog is empty")
	}
	return f.Templates, nil
}

// LoadFile reads a catalog from path.
func LoadFile(path string) ([]models.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template catalog: %w", err)
	}
	return Parse(data)
}

// Builtin returns the catalog compiled into the binary.
func Builtin() ([]models.Template, error) {
	return Parse(builtinCatalog)
}
