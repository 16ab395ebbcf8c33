package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a schema registry file.
type File struct {
	Tables []TableDef `json:"tables" yaml:"tables"`
}

const identifierPattern = "^[A-Za-z_][A-Za-z0-9_]*$"

var fileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["tables"],
  "additionalProperties": false,
  "properties": {
    "tables": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "pattern": "` + identifierPattern + `"},
          "key_pattern": {"type": "string", "minLength": 3},
          "columns": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name"],
              "additionalProperties": false,
              "properties": {
                "name": {"type": "string", "pattern": "` + identifierPattern + `"},
                "type": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

var compiledFileSchema *gojsonschema.Schema

func init() {
	var err error
	compiledFileSchema, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(fileSchema))
	if err != nil {
		panic(fmt.Sprintf("catalog: invalid registry file schema: %v", err))
	}
}

// LoadFile reads a JSON or YAML registry file (chosen by extension) and
// returns a populated registry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	reg, err := Load(data, format)
	if err != nil {
		return nil, fmt.Errorf("load schema file %s: %w", path, err)
	}
	return reg, nil
}

// Load parses registry data in the given format ("json" or "yaml"),
// validates it against the registry file JSON Schema and builds a registry.
func Load(data []byte, format string) (*Registry, error) {
	var doc any
	var file File
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported schema format %q", format)
	}

	result, err := compiledFileSchema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return nil, fmt.Errorf("schema file invalid: %s", strings.Join(errs, "; "))
	}

	reg := NewRegistry()
	seen := make(map[string]bool)
	for _, def := range file.Tables {
		if seen[def.Name] {
			return nil, fmt.Errorf("duplicate table %q", def.Name)
		}
		seen[def.Name] = true
		if _, err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
